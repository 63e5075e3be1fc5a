// Package store implements the persistence layer: SQLite schema,
// migrations, chat-config rows, routing snapshots, and content-addressed
// service bundles.
package store

import (
	"errors"
	"time"

	"github.com/chatcore/router/chatconfig"
)

// ErrIO is returned (wrapped) by any Store method that fails on the
// underlying database connection rather than on the caller's input.
var ErrIO = errors.New("backing store failure")

// Bundle is a content-addressed, persisted service bundle.
type Bundle struct {
	BundleHash string    `json:"bundleHash"`
	ServiceID  string    `json:"serviceId"`
	Version    string    `json:"version"`
	DataURL    string    `json:"dataUrl"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// TTLMessage is a durably tracked outbound message awaiting deletion,
// the persisted counterpart of ttlreaper.Entry.
type TTLMessage struct {
	Platform  string    `json:"platform"`
	ChatID    string    `json:"chatId"`
	MessageID string    `json:"messageId"`
	DeleteAt  time.Time `json:"deleteAt"`
}

// Store is the persistence contract the snapshot builder and dispatcher
// depend on. All operations are safe for concurrent use; SQLite is
// configured in WAL mode so reads do not block the single writer.
type Store interface {
	Close() error

	// SetChatConfig upserts a chat's current configuration. Fails with
	// ErrIO on disk error.
	SetChatConfig(chatID, configID, configJSON, configHash string) error

	// GetChatConfig returns the chat's current configuration, or
	// (chatconfig.Record{}, false, nil) if none exists.
	GetChatConfig(chatID string) (chatconfig.Record, bool, error)

	// SaveSnapshot persists a routing snapshot keyed by configHash.
	// Idempotent.
	SaveSnapshot(configHash, snapshotJSON string) error

	// LoadSnapshot returns the snapshot for configHash, or ("", false,
	// nil) if none exists.
	LoadSnapshot(configHash string) (string, bool, error)

	// ListAllSnapshots returns the raw snapshot_json of every persisted
	// snapshot, used by orphan-bundle GC to compute the live bundleHash
	// union.
	ListAllSnapshots() ([]string, error)

	// DeleteSnapshot removes the snapshot for configHash. Deleting an
	// unknown hash is a no-op success.
	DeleteSnapshot(configHash string) error

	// SaveServiceBundle persists a content-addressed bundle. Idempotent on
	// BundleHash for identical content; returns ErrHashCollision if a row
	// with the same hash but a different ServiceID/Version already
	// exists.
	SaveServiceBundle(b Bundle) error

	// GetServiceBundle returns the bundle for bundleHash, or (Bundle{},
	// false, nil) if none exists.
	GetServiceBundle(bundleHash string) (Bundle, bool, error)

	// ListAllBundleHashes returns every bundle hash currently persisted.
	ListAllBundleHashes() ([]string, error)

	// DeleteServiceBundle removes a bundle row by hash. Used by GC.
	DeleteServiceBundle(bundleHash string) error

	// SaveTTLMessage persists (upserts) a tracked message's deletion
	// deadline, giving the TTL reaper a durable tier that survives
	// restarts.
	SaveTTLMessage(m TTLMessage) error

	// DeleteTTLMessage removes a tracked message by its identity.
	// Deleting an unknown message is a no-op success.
	DeleteTTLMessage(platform, chatID, messageID string) error

	// ListTTLMessages returns every currently tracked message,
	// regardless of deadline, used to rehydrate the reaper at startup.
	ListTTLMessages() ([]TTLMessage, error)
}
