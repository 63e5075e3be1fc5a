package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chatcore/router/chatconfig"
	"github.com/chatcore/router/dispatch"
	"github.com/chatcore/router/sandbox"
	"github.com/chatcore/router/sdk"
	"github.com/chatcore/router/snapshot"
	"github.com/chatcore/router/state"
	"github.com/chatcore/router/store"
	"github.com/chatcore/router/ttlreaper"
)

// MessageDeleter performs the adapter-specific deletion of a previously
// sent bot message. Runtime wires this to the reaper so expired messages
// get removed without the core depending on any specific chat platform.
type MessageDeleter func(platform, chatID, messageID string) error

// Runtime wires the persistence, snapshot, sandbox, state, and TTL-reaper
// subsystems together behind a single Dispatch entrypoint.
type Runtime struct {
	store     store.Store
	snapshots *snapshot.Builder
	sandbox   *sandbox.Host
	state     *state.Store
	dispatch  *dispatch.Dispatcher
	reaper    *ttlreaper.Reaper
	sweeper   *ttlreaper.Sweeper
	flowSweep *state.FlowSweeper
}

// Options configures New.
type Options struct {
	// Source reads a service's on-disk source by its logical entry path.
	Source snapshot.SourceReader

	// SandboxImage overrides the default sandbox container image.
	SandboxImage string

	// Delete performs the platform-specific message deletion the reaper
	// invokes on expiry. If nil, a no-op handler is used: due entries are
	// still removed from tracking, but no platform deletion is performed.
	Delete MessageDeleter

	// ReapSchedule is the cron expression the TTL sweeper runs on. If
	// empty, the sweeper is not started and callers must drive it
	// manually via Reaper().
	ReapSchedule string

	// FlowSweepSchedule is the cron expression the active-flow sweeper
	// runs on. Active-flow TTLs already expire lazily on read; this
	// only catches sessions nobody reads again. If empty, no sweeper
	// is started.
	FlowSweepSchedule string
}

// New builds a Runtime over an already-open Store.
func New(st store.Store, opts Options) (*Runtime, error) {
	sb, err := sandbox.NewHost(sandboxOpts(opts)...)
	if err != nil {
		return nil, fmt.Errorf("start sandbox host: %w", err)
	}

	builder := snapshot.NewBuilder(st, opts.Source)
	stateStore := state.New()
	reaper, err := ttlreaper.NewDurable(st)
	if err != nil {
		sb.Close()
		return nil, fmt.Errorf("start ttl reaper: %w", err)
	}

	d := dispatch.New(builder, st, sb, stateStore)

	rt := &Runtime{
		store:     st,
		snapshots: builder,
		sandbox:   sb,
		state:     stateStore,
		dispatch:  d,
		reaper:    reaper,
	}

	handler := opts.Delete
	if handler == nil {
		handler = func(string, string, string) error { return nil }
	}
	// Flush any entry whose deadline passed while this process was down;
	// the durable tier is what makes this do real work on a cold start.
	reaper.CleanupAll(func(e ttlreaper.Entry) error {
		return handler(e.Platform, e.ChatID, e.MessageID)
	})

	if opts.ReapSchedule != "" {
		sweeper, err := ttlreaper.NewSweeper(reaper, func(e ttlreaper.Entry) error {
			return handler(e.Platform, e.ChatID, e.MessageID)
		}, opts.ReapSchedule)
		if err != nil {
			sb.Close()
			return nil, fmt.Errorf("start ttl sweeper: %w", err)
		}
		sweeper.Start()
		rt.sweeper = sweeper
	}

	if opts.FlowSweepSchedule != "" {
		flowSweep, err := state.NewFlowSweeper(stateStore, opts.FlowSweepSchedule)
		if err != nil {
			if rt.sweeper != nil {
				rt.sweeper.Stop()
			}
			sb.Close()
			return nil, fmt.Errorf("start flow sweeper: %w", err)
		}
		flowSweep.Start()
		rt.flowSweep = flowSweep
	}

	return rt, nil
}

func sandboxOpts(opts Options) []sandbox.HostOption {
	if opts.SandboxImage == "" {
		return nil
	}
	return []sandbox.HostOption{sandbox.WithImage(opts.SandboxImage)}
}

// SetChatConfig upserts chatID's configuration document, computing and
// storing its configHash.
func (rt *Runtime) SetChatConfig(chatID, configID string, configJSON []byte) error {
	hash := chatconfig.Hash(configJSON)
	if err := rt.store.SetChatConfig(chatID, configID, string(configJSON), hash); err != nil {
		return fmt.Errorf("set chat config: %w", err)
	}
	return nil
}

// BuildSnapshot compiles (or, without force, returns the cached) routing
// snapshot for chatID. Exposed mainly for operational tooling (warm a
// snapshot ahead of traffic, inspect routing without dispatching).
func (rt *Runtime) BuildSnapshot(chatID string, force bool) (snapshot.Snapshot, error) {
	snap, err := rt.snapshots.Build(chatID, snapshot.Options{Force: force})
	if err != nil {
		var configHash string
		if rec, ok, recErr := rt.store.GetChatConfig(chatID); recErr == nil && ok {
			configHash = rec.ConfigHash
		}
		return snapshot.Snapshot{}, &SnapshotError{ChatID: chatID, ConfigHash: configHash, Err: err}
	}
	return snap, nil
}

// Dispatch routes one inbound chat event and returns the response to send
// back, or nil if nothing matched.
func (rt *Runtime) Dispatch(ctx context.Context, ev dispatch.Event) (*sdk.Response, error) {
	resp, err := rt.dispatch.Dispatch(ctx, ev)
	if err != nil {
		var sandboxErr *dispatch.SandboxInvocationError
		if errors.As(err, &sandboxErr) {
			err = &SandboxError{ServiceID: sandboxErr.ServiceID, Err: sandboxErr.Err}
		}
		return nil, &DispatchError{ChatID: ev.ChatID, UserID: ev.UserID, Err: err}
	}
	return resp, nil
}

// TrackOutboundMessage records a bot message's deletion deadline, given
// the TTL carried on the sdk.Response that produced it. A non-positive
// ttlSeconds is a no-op.
func (rt *Runtime) TrackOutboundMessage(platform, chatID, messageID string, ttlSeconds int) {
	if ttlSeconds <= 0 {
		return
	}
	rt.reaper.TrackMessage(platform, chatID, messageID, time.Duration(ttlSeconds)*time.Second, time.Now())
}

// Reaper exposes the underlying TTL reaper for manual sweeps (tests, or a
// caller that prefers to drive cleanup itself instead of ReapSchedule).
func (rt *Runtime) Reaper() *ttlreaper.Reaper {
	return rt.reaper
}

// GCOrphanBundles deletes any persisted service bundle no longer
// referenced by a live snapshot. Run during maintenance windows, never
// concurrently with snapshot builds.
func (rt *Runtime) GCOrphanBundles(dryRun bool) (snapshot.GCResult, error) {
	return rt.snapshots.GCOrphanBundles(dryRun)
}

// Close stops the TTL sweeper and the flow sweeper (if running), then
// shuts down the sandbox host and the backing store, in that order.
func (rt *Runtime) Close() error {
	if rt.sweeper != nil {
		rt.sweeper.Stop()
	}
	if rt.flowSweep != nil {
		rt.flowSweep.Stop()
	}
	if err := rt.sandbox.Close(); err != nil {
		slog.Warn("router: sandbox close failed", "error", err)
	}
	return rt.store.Close()
}
