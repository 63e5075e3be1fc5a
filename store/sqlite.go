package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chatcore/router/chatconfig"
	_ "modernc.org/sqlite"
)

// ErrHashCollision is returned by SaveServiceBundle when an existing row
// under the same hash has a different serviceId/version. Fatal: it means
// a hash collision and needs operator attention.
var ErrHashCollision = errors.New("bundle hash collision with a different service")

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no
// cgo required).
type SQLiteStore struct {
	db *sql.DB
}

// Config configures Open.
type Config struct {
	// Path is the database file path, or ":memory:" for an ephemeral
	// in-memory database (modernc.org/sqlite passes this straight to
	// sql.Open).
	Path string
}

// Open opens or creates a SQLite database at cfg.Path and runs any
// unapplied migrations.
func Open(cfg Config) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w: %w", ErrIO, err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w: %w", ErrIO, err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w: %w", ErrIO, err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SetChatConfig upserts a chat's current configuration.
func (s *SQLiteStore) SetChatConfig(chatID, configID, configJSON, configHash string) error {
	_, err := s.db.Exec(
		`INSERT INTO chat_configs (chat_id, config_id, config_json, config_hash, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   config_id = excluded.config_id,
		   config_json = excluded.config_json,
		   config_hash = excluded.config_hash,
		   updated_at = excluded.updated_at`,
		chatID, configID, configJSON, configHash, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("set chat config: %w: %w", ErrIO, err)
	}
	return nil
}

// GetChatConfig returns the chat's current configuration.
func (s *SQLiteStore) GetChatConfig(chatID string) (chatconfig.Record, bool, error) {
	var r chatconfig.Record
	err := s.db.QueryRow(
		`SELECT chat_id, config_id, config_json, config_hash, updated_at
		 FROM chat_configs WHERE chat_id = ?`, chatID,
	).Scan(&r.ChatID, &r.ConfigID, &r.ConfigJSON, &r.ConfigHash, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return chatconfig.Record{}, false, nil
	}
	if err != nil {
		return chatconfig.Record{}, false, fmt.Errorf("get chat config: %w: %w", ErrIO, err)
	}
	return r, true, nil
}

// SaveSnapshot persists a routing snapshot. Idempotent: re-saving the same
// configHash replaces the row's snapshot_json (the builder only calls
// this after it has decided a rebuild is needed).
func (s *SQLiteStore) SaveSnapshot(configHash, snapshotJSON string) error {
	_, err := s.db.Exec(
		`INSERT INTO snapshots (config_hash, snapshot_json, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(config_hash) DO UPDATE SET
		   snapshot_json = excluded.snapshot_json,
		   updated_at = excluded.updated_at`,
		configHash, snapshotJSON, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w: %w", ErrIO, err)
	}
	return nil
}

// LoadSnapshot returns the snapshot for configHash.
func (s *SQLiteStore) LoadSnapshot(configHash string) (string, bool, error) {
	var snapshotJSON string
	err := s.db.QueryRow(
		`SELECT snapshot_json FROM snapshots WHERE config_hash = ?`, configHash,
	).Scan(&snapshotJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load snapshot: %w: %w", ErrIO, err)
	}
	return snapshotJSON, true, nil
}

// ListAllSnapshots returns the raw snapshot_json of every persisted
// snapshot.
func (s *SQLiteStore) ListAllSnapshots() ([]string, error) {
	rows, err := s.db.Query(`SELECT snapshot_json FROM snapshots`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w: %w", ErrIO, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var j string
		if err := rows.Scan(&j); err != nil {
			return nil, fmt.Errorf("list snapshots: %w: %w", ErrIO, err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots: %w: %w", ErrIO, err)
	}
	return out, nil
}

// DeleteSnapshot removes the snapshot for configHash. Deletion of an
// unknown hash is a no-op success.
func (s *SQLiteStore) DeleteSnapshot(configHash string) error {
	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE config_hash = ?`, configHash); err != nil {
		return fmt.Errorf("delete snapshot: %w: %w", ErrIO, err)
	}
	return nil
}

// SaveServiceBundle persists a content-addressed bundle. A second save
// under the same hash with identical serviceId/version is a no-op;
// differing serviceId/version is ErrHashCollision (fatal — a hash
// collision between distinct service sources should never happen and
// signals a hash-function or bundling bug).
func (s *SQLiteStore) SaveServiceBundle(b Bundle) error {
	existing, ok, err := s.GetServiceBundle(b.BundleHash)
	if err != nil {
		return err
	}
	if ok {
		if existing.ServiceID != b.ServiceID || existing.Version != b.Version {
			return fmt.Errorf("%w: hash %s already belongs to %s@%s, got %s@%s",
				ErrHashCollision, b.BundleHash, existing.ServiceID, existing.Version, b.ServiceID, b.Version)
		}
		return nil // immutable once written; identical content, nothing to do.
	}

	_, err = s.db.Exec(
		`INSERT INTO service_bundles (bundle_hash, service_id, version, data_url, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		b.BundleHash, b.ServiceID, b.Version, b.DataURL, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("save service bundle: %w: %w", ErrIO, err)
	}
	return nil
}

// GetServiceBundle returns the bundle for bundleHash.
func (s *SQLiteStore) GetServiceBundle(bundleHash string) (Bundle, bool, error) {
	var b Bundle
	err := s.db.QueryRow(
		`SELECT bundle_hash, service_id, version, data_url, updated_at
		 FROM service_bundles WHERE bundle_hash = ?`, bundleHash,
	).Scan(&b.BundleHash, &b.ServiceID, &b.Version, &b.DataURL, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Bundle{}, false, nil
	}
	if err != nil {
		return Bundle{}, false, fmt.Errorf("get service bundle: %w: %w", ErrIO, err)
	}
	return b, true, nil
}

// ListAllBundleHashes returns every bundle hash currently persisted.
func (s *SQLiteStore) ListAllBundleHashes() ([]string, error) {
	rows, err := s.db.Query(`SELECT bundle_hash FROM service_bundles`)
	if err != nil {
		return nil, fmt.Errorf("list bundle hashes: %w: %w", ErrIO, err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("list bundle hashes: %w: %w", ErrIO, err)
		}
		hashes = append(hashes, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bundle hashes: %w: %w", ErrIO, err)
	}
	return hashes, nil
}

// DeleteServiceBundle removes a bundle row by hash.
func (s *SQLiteStore) DeleteServiceBundle(bundleHash string) error {
	if _, err := s.db.Exec(`DELETE FROM service_bundles WHERE bundle_hash = ?`, bundleHash); err != nil {
		return fmt.Errorf("delete service bundle: %w: %w", ErrIO, err)
	}
	return nil
}

// SaveTTLMessage upserts a tracked message's deletion deadline.
func (s *SQLiteStore) SaveTTLMessage(m TTLMessage) error {
	_, err := s.db.Exec(
		`INSERT INTO ttl_messages (platform, chat_id, message_id, delete_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(platform, chat_id, message_id) DO UPDATE SET
		   delete_at = excluded.delete_at`,
		m.Platform, m.ChatID, m.MessageID, m.DeleteAt,
	)
	if err != nil {
		return fmt.Errorf("save ttl message: %w: %w", ErrIO, err)
	}
	return nil
}

// DeleteTTLMessage removes a tracked message by its identity. Deleting an
// unknown message is a no-op success.
func (s *SQLiteStore) DeleteTTLMessage(platform, chatID, messageID string) error {
	_, err := s.db.Exec(
		`DELETE FROM ttl_messages WHERE platform = ? AND chat_id = ? AND message_id = ?`,
		platform, chatID, messageID,
	)
	if err != nil {
		return fmt.Errorf("delete ttl message: %w: %w", ErrIO, err)
	}
	return nil
}

// ListTTLMessages returns every currently tracked message.
func (s *SQLiteStore) ListTTLMessages() ([]TTLMessage, error) {
	rows, err := s.db.Query(`SELECT platform, chat_id, message_id, delete_at FROM ttl_messages`)
	if err != nil {
		return nil, fmt.Errorf("list ttl messages: %w: %w", ErrIO, err)
	}
	defer rows.Close()

	var out []TTLMessage
	for rows.Next() {
		var m TTLMessage
		if err := rows.Scan(&m.Platform, &m.ChatID, &m.MessageID, &m.DeleteAt); err != nil {
			return nil, fmt.Errorf("list ttl messages: %w: %w", ErrIO, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list ttl messages: %w: %w", ErrIO, err)
	}
	return out, nil
}
