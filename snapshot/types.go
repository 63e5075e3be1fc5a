// Package snapshot compiles a chat's configuration document into an
// executable routing table, bundling each service's source with the SDK
// runtime and caching the result by content hash.
package snapshot

import (
	"encoding/json"
	"time"

	"github.com/chatcore/router/manifest"
	"github.com/chatcore/router/sdk"
)

// CurrentSnapshotFormatVersion is bumped whenever the on-disk Snapshot
// shape changes incompatibly.
const CurrentSnapshotFormatVersion = 1

// CurrentSDKSchemaVersion is the SDK protocol schema version this builder
// bundles services against. A cached snapshot whose SDKSchemaVersion
// differs is treated as stale.
const CurrentSDKSchemaVersion = 1

// Route is the per-chat binding of a command token (or listener slot) to
// a specific service bundle plus its opaque config and datasets.
type Route struct {
	ServiceID  string          `json:"serviceId"`
	Kind       manifest.Kind   `json:"kind"`
	BundleHash string          `json:"bundleHash"`
	Config     json.RawMessage `json:"config,omitempty"`
	Datasets   json.RawMessage `json:"datasets,omitempty"`
	Net        []string        `json:"net,omitempty"`
	Meta       sdk.RouteMeta   `json:"meta"`
}

// Snapshot is the compiled, persisted routing table for one configuration.
type Snapshot struct {
	Commands         map[string]Route `json:"commands"`
	Listeners        []Route          `json:"listeners"`
	BuiltAt          time.Time        `json:"builtAt"`
	Version          int              `json:"version"`
	SDKSchemaVersion int              `json:"sdkSchemaVersion"`

	// SourceSig hashes the sorted set of bundle hashes this snapshot
	// references, independent of routing (command tokens, config,
	// dataset wiring). Empty for the zero-route snapshot.
	SourceSig  string `json:"sourceSig"`
	ConfigHash string `json:"configHash"`
	Integrity  string `json:"integrity"`

	// Diagnostics retained from the build, e.g. duplicate-command
	// occurrences that were dropped rather than routed.
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// Empty returns the zero-route snapshot used when a chat has no
// configuration at all.
func Empty(configHash string) Snapshot {
	return Snapshot{
		Commands:         map[string]Route{},
		Listeners:        nil,
		BuiltAt:          time.Now(),
		Version:          CurrentSnapshotFormatVersion,
		SDKSchemaVersion: CurrentSDKSchemaVersion,
		ConfigHash:       configHash,
	}
}
