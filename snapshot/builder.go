package snapshot

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatcore/router/chatconfig"
	"github.com/chatcore/router/manifest"
	"github.com/chatcore/router/sdk"
	"github.com/chatcore/router/store"
)

// bundleMIME is the media type used in a service bundle's data URI.
const bundleMIME = "application/vnd.chatrouter.service+json"

// Errors returned by Build.
var (
	ErrManifestInvalid  = fmt.Errorf("manifest invalid")
	ErrSourceIO         = fmt.Errorf("source unreadable")
	ErrDuplicateCommand = fmt.Errorf("duplicate command token")
)

// Options configures a single Build call.
type Options struct {
	// Force skips the cached-snapshot fast path.
	Force bool
}

// Builder compiles chat configurations into routing snapshots, bundling
// and caching service sources along the way.
//
// A Builder serializes concurrent builds for the same configHash,
// preferring single-flight: a second caller observing an in-flight build
// waits for it rather than starting a redundant one.
type Builder struct {
	store  store.Store
	source SourceReader

	mu       sync.Mutex
	inFlight map[string]*buildTicket
}

type buildTicket struct {
	id   string
	done chan struct{}
	snap Snapshot
	err  error
}

// NewBuilder creates a Builder.
func NewBuilder(st store.Store, source SourceReader) *Builder {
	return &Builder{
		store:    st,
		source:   source,
		inFlight: make(map[string]*buildTicket),
	}
}

// Build translates chatID's current chat-config into a Snapshot,
// producing and storing any missing service bundles along the way.
func (b *Builder) Build(chatID string, opts Options) (Snapshot, error) {
	rec, ok, err := b.store.GetChatConfig(chatID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load chat config: %w", err)
	}
	if !ok {
		return Empty(""), nil
	}

	configHash := rec.ConfigHash

	if !opts.Force {
		if snap, found, err := b.loadCached(configHash); err != nil {
			return Snapshot{}, err
		} else if found {
			return snap, nil
		}
	}

	ticket, leader := b.claim(configHash)
	if !leader {
		slog.Info("snapshot: waiting on in-flight build", "ticket", ticket.id, "chatId", chatID)
		<-ticket.done
		return ticket.snap, ticket.err
	}
	defer b.release(configHash, ticket)

	doc, err := rec.Parse()
	if err != nil {
		ticket.err = fmt.Errorf("%w: parse configuration document: %v", ErrManifestInvalid, err)
		return Snapshot{}, ticket.err
	}

	snap, err := b.buildFresh(chatID, configHash, doc)
	ticket.snap, ticket.err = snap, err
	return snap, err
}

// loadCached returns the persisted snapshot for configHash if it exists
// and its SDKSchemaVersion still matches the builder's.
func (b *Builder) loadCached(configHash string) (Snapshot, bool, error) {
	if configHash == "" {
		return Snapshot{}, false, nil
	}
	raw, ok, err := b.store.LoadSnapshot(configHash)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return Snapshot{}, false, nil
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return Snapshot{}, false, nil // corrupt cache entry — treat as miss, rebuild.
	}
	if snap.SDKSchemaVersion != CurrentSDKSchemaVersion {
		return Snapshot{}, false, nil
	}
	return snap, true, nil
}

func (b *Builder) claim(configHash string) (*buildTicket, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.inFlight[configHash]; ok {
		return t, false
	}
	t := &buildTicket{id: uuid.New().String()[:8], done: make(chan struct{})}
	b.inFlight[configHash] = t
	return t, true
}

func (b *Builder) release(configHash string, t *buildTicket) {
	b.mu.Lock()
	delete(b.inFlight, configHash)
	b.mu.Unlock()
	close(t.done)
}

func (b *Builder) buildFresh(chatID, configHash string, doc chatconfig.Document) (Snapshot, error) {
	entries := doc.AllServices()

	commands := make(map[string]Route, len(entries))
	var listeners []Route
	var diagnostics []string

	for _, entry := range entries {
		route, err := b.buildRoute(entry)
		if err != nil {
			return Snapshot{}, err
		}

		if route.Kind == manifest.KindListener {
			listeners = append(listeners, route)
			continue
		}

		token := entry.Command
		if _, exists := commands[token]; exists {
			diagnostics = append(diagnostics, fmt.Sprintf("%s: command %q already routed, %s ignored",
				ErrDuplicateCommand, token, entry.ServiceID))
			continue
		}
		commands[token] = route
	}

	snap := Snapshot{
		Commands:         commands,
		Listeners:        listeners,
		BuiltAt:          time.Now(),
		Version:          CurrentSnapshotFormatVersion,
		SDKSchemaVersion: CurrentSDKSchemaVersion,
		ConfigHash:       configHash,
		Diagnostics:      diagnostics,
	}
	snap.SourceSig = computeSourceSig(snap)
	snap.Integrity = computeIntegrity(snap)

	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := b.store.SaveSnapshot(configHash, string(snapJSON)); err != nil {
		return Snapshot{}, fmt.Errorf("save snapshot: %w", err)
	}

	return snap, nil
}

func (b *Builder) buildRoute(entry chatconfig.ServiceEntry) (Route, error) {
	source, err := b.source.ReadEntry(entry.Entry)
	if err != nil {
		return Route{}, fmt.Errorf("%w: read entry %q: %v", ErrSourceIO, entry.Entry, err)
	}

	p := manifest.NewParser()
	m, body, err := p.Parse(source)
	if err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	if m.ID != entry.ServiceID {
		return Route{}, fmt.Errorf("%w: manifest id %q does not match configured serviceId %q", ErrManifestInvalid, m.ID, entry.ServiceID)
	}

	moduleText := SDKRuntimeSource() + string(body)
	bundleHash := contentHash(moduleText)

	if _, ok, err := b.store.GetServiceBundle(bundleHash); err != nil {
		return Route{}, fmt.Errorf("get service bundle: %w", err)
	} else if !ok {
		dataURL := "data:" + bundleMIME + ";base64," + base64.StdEncoding.EncodeToString([]byte(moduleText))
		if err := b.store.SaveServiceBundle(store.Bundle{
			BundleHash: bundleHash,
			ServiceID:  m.ID,
			Version:    m.Version,
			DataURL:    dataURL,
		}); err != nil {
			return Route{}, fmt.Errorf("save service bundle: %w", err)
		}
	}

	return Route{
		ServiceID:  m.ID,
		Kind:       m.Kind,
		BundleHash: bundleHash,
		Config:     entry.Config,
		Datasets:   entry.Datasets,
		Net:        entry.Net,
		Meta: sdk.RouteMeta{
			ID:          m.ID,
			Command:     entry.Command,
			Description: m.Description,
		},
	}, nil
}

func contentHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// computeSourceSig hashes the sorted, deduplicated set of bundle hashes a
// snapshot references. Two snapshots with the same SourceSig bundle
// byte-identical service source regardless of routing (command tokens,
// config, dataset wiring) — useful for cache invalidation schemes that
// key on "did any underlying service source change" rather than "did
// the chat's configuration change".
func computeSourceSig(snap Snapshot) string {
	seen := make(map[string]struct{})
	for _, r := range snap.Commands {
		seen[r.BundleHash] = struct{}{}
	}
	for _, r := range snap.Listeners {
		seen[r.BundleHash] = struct{}{}
	}

	hashes := make([]string, 0, len(seen))
	for h := range seen {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	h := sha256.New()
	for _, bh := range hashes {
		fmt.Fprintf(h, "%s\n", bh)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// computeIntegrity hashes the snapshot's route list deterministically
// (sorted by command token, then listener index) so two builds of an
// identical configuration produce the same integrity value regardless of
// map iteration order.
func computeIntegrity(snap Snapshot) string {
	tokens := make([]string, 0, len(snap.Commands))
	for tok := range snap.Commands {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)

	h := sha256.New()
	for _, tok := range tokens {
		r := snap.Commands[tok]
		fmt.Fprintf(h, "cmd:%s:%s:%s\n", tok, r.ServiceID, r.BundleHash)
	}
	for _, r := range snap.Listeners {
		fmt.Fprintf(h, "listener:%s:%s\n", r.ServiceID, r.BundleHash)
	}
	return hex.EncodeToString(h.Sum(nil))
}
