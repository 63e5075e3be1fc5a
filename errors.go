package router

import (
	"fmt"

	"github.com/chatcore/router/dispatch"
	"github.com/chatcore/router/sandbox"
	"github.com/chatcore/router/snapshot"
	"github.com/chatcore/router/store"
)

// Sentinel errors surfaced at the router's public boundary. These are
// the sub-packages' own canonical sentinels re-exported under the root
// package so a caller can do errors.Is(err, router.ErrManifestInvalid)
// without importing the sub-package directly. SnapshotError and
// DispatchError wrap the underlying error so errors.Is still works after
// BuildSnapshot/Dispatch returns. Sandbox timeouts, crashes, bad
// responses and missing bundles are not returned as errors by Dispatch:
// they come back as a {kind:"error"} response whose Message is the
// sentinel's text.
var (
	ErrIO               = store.ErrIO
	ErrManifestInvalid  = snapshot.ErrManifestInvalid
	ErrSourceIO         = snapshot.ErrSourceIO
	ErrHashCollision    = store.ErrHashCollision
	ErrDuplicateCommand = snapshot.ErrDuplicateCommand
	ErrBundleMissing    = dispatch.ErrBundleMissing
	ErrSandboxTimeout   = sandbox.ErrTimeout
	ErrSandboxCrash     = sandbox.ErrCrash
	ErrSandboxBadResp   = sandbox.ErrBadResponse
)

// SnapshotError wraps a failure while compiling a routing snapshot for a
// chat. Unwrap returns the underlying sentinel so errors.Is(err,
// ErrManifestInvalid) works after a build failure.
type SnapshotError struct {
	ChatID     string
	ConfigHash string
	Err        error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot %s (chat %s): %s", e.ConfigHash, e.ChatID, e.Err)
}

func (e *SnapshotError) Unwrap() error { return e.Err }

// DispatchError wraps a failure while routing or executing an event for a
// specific chat/user.
type DispatchError struct {
	ChatID string
	UserID string
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s/%s: %s", e.ChatID, e.UserID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// SandboxError wraps a failure from a single sandbox invocation.
type SandboxError struct {
	ServiceID string
	Err       error
}

func (e *SandboxError) Error() string {
	return fmt.Sprintf("sandbox %s: %s", e.ServiceID, e.Err)
}

func (e *SandboxError) Unwrap() error { return e.Err }
