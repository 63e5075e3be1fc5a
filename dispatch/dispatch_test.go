package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/chatcore/router/manifest"
	"github.com/chatcore/router/sandbox"
	"github.com/chatcore/router/sdk"
	"github.com/chatcore/router/snapshot"
	"github.com/chatcore/router/state"
	"github.com/chatcore/router/store"
)

type fakeSnapshots struct {
	snap snapshot.Snapshot
}

func (f fakeSnapshots) Build(chatID string, opts snapshot.Options) (snapshot.Snapshot, error) {
	return f.snap, nil
}

type fakeBundles struct{}

func (fakeBundles) GetServiceBundle(bundleHash string) (store.Bundle, bool, error) {
	if bundleHash == "missing" {
		return store.Bundle{}, false, nil
	}
	return store.Bundle{BundleHash: bundleHash}, true, nil
}

// fakeSandbox returns a scripted response per call, in order.
type fakeSandbox struct {
	responses []sandbox.Result
	payloads  [][]byte
	calls     int
}

func (f *fakeSandbox) Run(ctx context.Context, b store.Bundle, payload []byte, opts sandbox.RunOptions) (sandbox.Result, error) {
	f.payloads = append(f.payloads, payload)
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

func helloSnapshot() snapshot.Snapshot {
	return snapshot.Snapshot{
		Commands: map[string]snapshot.Route{
			"hello": {ServiceID: "hello", Kind: manifest.KindSingleCommand, BundleHash: "hello-bundle"},
		},
	}
}

func TestDispatchHelloCommand(t *testing.T) {
	sb := &fakeSandbox{responses: []sandbox.Result{
		{OK: true, Response: sdk.Response{Kind: sdk.ResponseKindReply, Text: "Hello from sandbox!"}},
	}}
	d := New(fakeSnapshots{helloSnapshot()}, fakeBundles{}, sb, state.New())

	resp, err := d.Dispatch(context.Background(), Event{
		Kind: sdk.EventKindCommand, Command: "hello", ChatID: "1", UserID: "2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == nil || resp.Kind != sdk.ResponseKindReply || resp.Text != "Hello from sandbox!" {
		t.Fatalf("got %+v", resp)
	}
}

func TestDispatchUnknownCommandReturnsNil(t *testing.T) {
	d := New(fakeSnapshots{helloSnapshot()}, fakeBundles{}, &fakeSandbox{}, state.New())

	resp, err := d.Dispatch(context.Background(), Event{
		Kind: sdk.EventKindCommand, Command: "start", ChatID: "1", UserID: "2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp != nil {
		t.Fatalf("expected nil response, got %+v", resp)
	}
}

func TestDispatchSandboxErrorBecomesErrorResponse(t *testing.T) {
	sb := &fakeSandbox{responses: []sandbox.Result{
		{OK: false, Error: "timeout"},
	}}
	d := New(fakeSnapshots{helloSnapshot()}, fakeBundles{}, sb, state.New())

	resp, err := d.Dispatch(context.Background(), Event{
		Kind: sdk.EventKindCommand, Command: "hello", ChatID: "1", UserID: "2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == nil || resp.Kind != sdk.ResponseKindError || resp.Message != "timeout" {
		t.Fatalf("got %+v", resp)
	}
}

func flowSnapshot() snapshot.Snapshot {
	return snapshot.Snapshot{
		Commands: map[string]snapshot.Route{
			"flow": {ServiceID: "flow", Kind: manifest.KindCommandFlow, BundleHash: "flow-bundle"},
		},
	}
}

func stateDirective(op sdk.StateOp, value map[string]any) *sdk.StateDirective {
	raw, _ := json.Marshal(value)
	return &sdk.StateDirective{Op: op, Value: raw}
}

func TestDispatchTwoStepFlow(t *testing.T) {
	sb := &fakeSandbox{responses: []sandbox.Result{
		{OK: true, Response: sdk.Response{
			Kind: sdk.ResponseKindReply, Text: "Flow started. Send a message.",
			State: stateDirective(sdk.StateOpReplace, map[string]any{"step": float64(1)}),
		}},
		{OK: true, Response: sdk.Response{
			Kind: sdk.ResponseKindReply, Text: "Got first message. Send another to finish.",
			State: stateDirective(sdk.StateOpMerge, map[string]any{"step": float64(2), "first": "one"}),
		}},
		{OK: true, Response: sdk.Response{
			Kind: sdk.ResponseKindReply, Text: `Done! First="one" Second="two"`,
			State: &sdk.StateDirective{Op: sdk.StateOpClear},
		}},
	}}

	st := state.New()
	d := New(fakeSnapshots{flowSnapshot()}, fakeBundles{}, sb, st)
	ctx := context.Background()

	resp, err := d.Dispatch(ctx, Event{Kind: sdk.EventKindCommand, Command: "flow", ChatID: "1", UserID: "2"})
	if err != nil || resp.Text != "Flow started. Send a message." {
		t.Fatalf("step A: resp=%+v err=%v", resp, err)
	}
	if sess, ok := st.GetActiveFlow("1", "2"); !ok || sess.ServiceID != "flow" {
		t.Fatalf("step A should claim the active flow, got %+v %v", sess, ok)
	}

	resp, err = d.Dispatch(ctx, Event{Kind: sdk.EventKindMessage, Message: "one", ChatID: "1", UserID: "2"})
	if err != nil || resp.Text != "Got first message. Send another to finish." {
		t.Fatalf("step B: resp=%+v err=%v", resp, err)
	}

	resp, err = d.Dispatch(ctx, Event{Kind: sdk.EventKindMessage, Message: "two", ChatID: "1", UserID: "2"})
	if err != nil || resp.Text != `Done! First="one" Second="two"` {
		t.Fatalf("step C: resp=%+v err=%v", resp, err)
	}
	if _, ok := st.GetActiveFlow("1", "2"); ok {
		t.Fatal("active flow should be cleared after step C")
	}
}

func TestDispatchCallbackStripsPrefix(t *testing.T) {
	snap := snapshot.Snapshot{
		Listeners: []snapshot.Route{
			{ServiceID: "keyboard", Kind: manifest.KindSingleCommand, BundleHash: "kb-bundle"},
		},
	}
	sb := &fakeSandbox{responses: []sandbox.Result{
		{OK: true, Response: sdk.Response{Kind: sdk.ResponseKindEdit, Text: "You picked: First"}},
	}}
	d := New(fakeSnapshots{snap}, fakeBundles{}, sb, state.New())

	resp, err := d.Dispatch(context.Background(), Event{
		Kind: sdk.EventKindCallback, Data: "svc:keyboard|btn:one", ChatID: "1", UserID: "2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == nil || resp.Kind != sdk.ResponseKindEdit || resp.Text != "You picked: First" {
		t.Fatalf("got %+v", resp)
	}

	var payload sdk.Payload
	if err := json.Unmarshal(sb.payloads[0], &payload); err != nil {
		t.Fatalf("decode sandbox payload: %v", err)
	}
	if payload.Event.Data != "btn:one" {
		t.Errorf("callback data = %q, want %q", payload.Event.Data, "btn:one")
	}
}

func TestDispatchBundleMissingYieldsErrorResponse(t *testing.T) {
	snap := snapshot.Snapshot{
		Commands: map[string]snapshot.Route{
			"hello": {ServiceID: "hello", Kind: manifest.KindSingleCommand, BundleHash: "missing"},
		},
	}
	d := New(fakeSnapshots{snap}, fakeBundles{}, &fakeSandbox{}, state.New())

	resp, err := d.Dispatch(context.Background(), Event{
		Kind: sdk.EventKindCommand, Command: "hello", ChatID: "1", UserID: "2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp == nil || resp.Kind != sdk.ResponseKindError {
		t.Fatalf("got %+v", resp)
	}
}
