// Package dispatch resolves an inbound chat event to zero or more
// routes, invokes the sandbox host for each, and merges the resulting
// state directive back into the state store before returning a single
// response to the caller.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chatcore/router/manifest"
	"github.com/chatcore/router/sandbox"
	"github.com/chatcore/router/sdk"
	"github.com/chatcore/router/snapshot"
	"github.com/chatcore/router/state"
	"github.com/chatcore/router/store"
)

// ErrBundleMissing is returned (wrapped in a synthetic error response, not
// as a Go error) when a route's bundle hash has no corresponding row in
// the bundle store. This should not happen in steady state — bundles are
// written before a route referencing them is saved — but a truncated GC
// or a corrupted store can produce it.
var ErrBundleMissing = errors.New("snapshot references a bundle no longer present")

// SandboxInvocationError wraps a failure invoking the sandbox itself
// (Docker/container-level failure), as opposed to the service returning
// result.OK == false. Unwrap exposes the error Sandbox.Run returned.
// Timeouts, crashes and bad responses are not among them: Run reports
// those in its Result, and invoke turns them into an error response.
type SandboxInvocationError struct {
	ServiceID string
	Err       error
}

func (e *SandboxInvocationError) Error() string {
	return fmt.Sprintf("sandbox invocation for %s: %s", e.ServiceID, e.Err)
}

func (e *SandboxInvocationError) Unwrap() error { return e.Err }

// Sandbox is the narrow interface dispatch needs from a sandbox host.
type Sandbox interface {
	Run(ctx context.Context, b store.Bundle, payload []byte, opts sandbox.RunOptions) (sandbox.Result, error)
}

// Bundles is the narrow interface dispatch needs from the bundle store.
type Bundles interface {
	GetServiceBundle(bundleHash string) (store.Bundle, bool, error)
}

// SnapshotSource resolves (and builds on demand) the current routing
// snapshot for a chat.
type SnapshotSource interface {
	Build(chatID string, opts snapshot.Options) (snapshot.Snapshot, error)
}

// Event is one inbound chat event.
type Event struct {
	Kind    sdk.EventKind `json:"kind"`
	Command string        `json:"command,omitempty"` // kind == command
	Data    string        `json:"data,omitempty"`    // kind == callback, format "svc:<serviceId>|<payload>"
	Message string        `json:"message,omitempty"` // kind == message
	ChatID  string        `json:"chatId"`
	UserID  string        `json:"userId"`
}

// Dispatcher wires the snapshot source, bundle store, sandbox host, and
// state store together to answer one event at a time.
type Dispatcher struct {
	snapshots SnapshotSource
	bundles   Bundles
	sandbox   Sandbox
	state     *state.Store
}

// New creates a Dispatcher.
func New(snapshots SnapshotSource, bundles Bundles, sb Sandbox, st *state.Store) *Dispatcher {
	return &Dispatcher{snapshots: snapshots, bundles: bundles, sandbox: sb, state: st}
}

// Dispatch resolves ev to a route (or routes, for messages) and returns
// the first non-none response, or nil if nothing matched.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) (*sdk.Response, error) {
	snap, err := d.snapshots.Build(ev.ChatID, snapshot.Options{})
	if err != nil {
		return nil, fmt.Errorf("resolve snapshot for chat %s: %w", ev.ChatID, err)
	}

	switch ev.Kind {
	case sdk.EventKindCommand:
		return d.dispatchCommand(ctx, ev, snap)
	case sdk.EventKindCallback:
		return d.dispatchCallback(ctx, ev, snap)
	case sdk.EventKindMessage:
		return d.dispatchMessage(ctx, ev, snap)
	default:
		return nil, nil
	}
}

func normalizeCommand(token string) string {
	token = strings.TrimPrefix(token, "/")
	if at := strings.Index(token, "@"); at >= 0 {
		token = token[:at]
	}
	return strings.ToLower(token)
}

func (d *Dispatcher) dispatchCommand(ctx context.Context, ev Event, snap snapshot.Snapshot) (*sdk.Response, error) {
	token := normalizeCommand(ev.Command)
	route, ok := snap.Commands[token]
	if !ok {
		return nil, nil
	}

	event := sdk.Event{Kind: sdk.EventKindCommand, Token: token}
	resp, err := d.invoke(ctx, route, event, ev.ChatID, ev.UserID)
	if err != nil {
		return nil, err
	}

	if resp != nil {
		d.syncActiveFlow(ev.ChatID, ev.UserID, route, resp)
	}
	return resp, nil
}

func (d *Dispatcher) dispatchCallback(ctx context.Context, ev Event, snap snapshot.Snapshot) (*sdk.Response, error) {
	serviceID, payload, ok := splitCallbackData(ev.Data)
	if !ok {
		return nil, nil
	}

	route, ok := findRouteByService(snap, serviceID)
	if !ok {
		return nil, nil
	}

	event := sdk.Event{Kind: sdk.EventKindCallback, Data: payload}
	resp, err := d.invoke(ctx, route, event, ev.ChatID, ev.UserID)
	if err != nil {
		return nil, err
	}
	if resp != nil {
		d.syncActiveFlow(ev.ChatID, ev.UserID, route, resp)
	}
	return resp, nil
}

// splitCallbackData parses the "svc:<serviceId>|<payload>" wire format.
func splitCallbackData(data string) (serviceID, payload string, ok bool) {
	const prefix = "svc:"
	if !strings.HasPrefix(data, prefix) {
		return "", "", false
	}
	rest := data[len(prefix):]
	idx := strings.Index(rest, "|")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

func findRouteByService(snap snapshot.Snapshot, serviceID string) (snapshot.Route, bool) {
	for _, r := range snap.Commands {
		if r.ServiceID == serviceID {
			return r, true
		}
	}
	for _, r := range snap.Listeners {
		if r.ServiceID == serviceID {
			return r, true
		}
	}
	return snapshot.Route{}, false
}

// dispatchMessage fires the active-flow route (if any and still present
// in the snapshot) followed by every listener in declaration order,
// returning the first non-none response. An active-flow route wins the
// ordering tie-break: it runs before the listener pass.
func (d *Dispatcher) dispatchMessage(ctx context.Context, ev Event, snap snapshot.Snapshot) (*sdk.Response, error) {
	var routes []snapshot.Route

	if sess, ok := d.state.GetActiveFlow(ev.ChatID, ev.UserID); ok {
		if r, ok := findRouteByService(snap, sess.ServiceID); ok {
			routes = append(routes, r)
		}
	}
	routes = append(routes, snap.Listeners...)

	// Every route in routes fires — listeners observe every message
	// regardless of what other routes return — but only the first
	// non-none response is returned to the caller.
	var first *sdk.Response
	for _, route := range routes {
		event := sdk.Event{Kind: sdk.EventKindMessage, Message: ev.Message}
		resp, err := d.invoke(ctx, route, event, ev.ChatID, ev.UserID)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			continue
		}
		d.syncActiveFlow(ev.ChatID, ev.UserID, route, resp)
		if first == nil && resp.Kind != sdk.ResponseKindNone {
			first = resp
		}
	}
	return first, nil
}

// invoke loads route's bundle, builds the sandbox payload with the
// service's current flow state, runs it, and applies any returned state
// directive. A bundle-missing, timeout, crash, or bad-response outcome
// is converted into a synthetic error response and leaves state
// untouched.
func (d *Dispatcher) invoke(ctx context.Context, route snapshot.Route, event sdk.Event, chatID, userID string) (*sdk.Response, error) {
	key := state.Key{ChatID: chatID, UserID: userID, ServiceID: route.ServiceID}

	if rec, ok := d.state.GetServiceState(key); ok {
		valueJSON, err := json.Marshal(rec.Value)
		if err == nil {
			event.State = valueJSON
			v := rec.Version
			event.StateVersion = &v
		}
	}

	b, ok, err := d.bundles.GetServiceBundle(route.BundleHash)
	if err != nil {
		return nil, fmt.Errorf("load bundle %s: %w", route.BundleHash, err)
	}
	if !ok {
		resp := sdk.ErrorResponse(ErrBundleMissing.Error())
		return &resp, nil
	}

	payload := sdk.Payload{
		Event: event,
		Ctx: sdk.Ctx{
			ChatID:        chatID,
			UserID:        userID,
			ServiceConfig: route.Config,
			RouteMeta:     &route.Meta,
			Datasets:      route.Datasets,
		},
		Manifest: sdk.Manifest{SchemaVersion: snapshot.CurrentSDKSchemaVersion},
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal sandbox payload: %w", err)
	}

	result, err := d.sandbox.Run(ctx, b, payloadJSON, sandbox.RunOptions{Net: route.Net})
	if err != nil {
		return nil, &SandboxInvocationError{ServiceID: route.ServiceID, Err: err}
	}
	if !result.OK {
		resp := sdk.ErrorResponse(result.Error)
		return &resp, nil
	}

	resp := result.Response
	if resp.State != nil {
		d.applyDirective(key, *resp.State)
	}
	return &resp, nil
}

func (d *Dispatcher) applyDirective(key state.Key, directive sdk.StateDirective) {
	var value map[string]any
	if len(directive.Value) > 0 {
		_ = json.Unmarshal(directive.Value, &value)
	}
	d.state.ApplyStateDirective(key, state.Directive{
		Op:    state.FlowOp(directive.Op),
		Value: value,
	})
}

// syncActiveFlow updates the (chatID,userID) active-flow claim in
// response to a route's outcome: a clear directive or deleteTrigger
// drops the claim for any route kind; any other non-none response from
// a command_flow route (re)claims it.
func (d *Dispatcher) syncActiveFlow(chatID, userID string, route snapshot.Route, resp *sdk.Response) {
	if resp.State != nil && resp.State.Op == sdk.StateOpClear {
		d.state.ClearActiveFlow(chatID, userID)
		return
	}
	if resp.DeleteTrigger {
		d.state.ClearActiveFlow(chatID, userID)
		return
	}
	if resp.Kind != sdk.ResponseKindNone && route.Kind == manifest.KindCommandFlow {
		d.state.SetActiveFlow(chatID, userID, route.ServiceID, 0)
	}
}
