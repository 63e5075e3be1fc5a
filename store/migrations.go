package store

import (
	"database/sql"
	"fmt"
)

// migration is one named, ordered schema step. Each is applied inside its
// own transaction and recorded in the migrations table so a second run
// against the same database skips it.
type migration struct {
	id   string
	name string
	sql  string
}

// migrations is the ordered list of schema steps. Append new steps to the
// end; never edit or reorder an existing one once shipped, or the id
// tracking in existing databases will desync from what ran.
var migrations = []migration{
	{
		id:   "0001_chat_configs",
		name: "create chat_configs",
		sql: `CREATE TABLE chat_configs (
			chat_id     TEXT PRIMARY KEY,
			config_id   TEXT NOT NULL,
			config_json TEXT NOT NULL,
			config_hash TEXT NOT NULL,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	},
	{
		id:   "0002_snapshots",
		name: "create snapshots",
		sql: `CREATE TABLE snapshots (
			config_hash   TEXT PRIMARY KEY,
			snapshot_json TEXT NOT NULL,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	},
	{
		id:   "0003_service_bundles",
		name: "create service_bundles",
		sql: `CREATE TABLE service_bundles (
			bundle_hash TEXT PRIMARY KEY,
			service_id  TEXT NOT NULL,
			version     TEXT NOT NULL,
			data_url    TEXT NOT NULL,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	},
	{
		id:   "0004_service_bundles_service_idx",
		name: "index service_bundles by service_id",
		sql:  `CREATE INDEX idx_service_bundles_service ON service_bundles(service_id)`,
	},
	{
		id:   "0005_ttl_messages",
		name: "create ttl_messages",
		sql: `CREATE TABLE ttl_messages (
			platform   TEXT NOT NULL,
			chat_id    TEXT NOT NULL,
			message_id TEXT NOT NULL,
			delete_at  DATETIME NOT NULL,
			PRIMARY KEY (platform, chat_id, message_id)
		)`,
	},
	{
		id:   "0006_ttl_messages_delete_at_idx",
		name: "index ttl_messages by delete_at",
		sql:  `CREATE INDEX idx_ttl_messages_delete_at ON ttl_messages(delete_at)`,
	},
}

// initSchema creates the migrations table if needed, then runs every
// unapplied migration in id order, each inside its own transaction.
func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS migrations (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := db.Query(`SELECT id FROM migrations`)
	if err != nil {
		return fmt.Errorf("list applied migrations: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		applied[id] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.id] {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return fmt.Errorf("apply migration %s (%s): %w", m.id, m.name, err)
		}
	}
	return nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.sql); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO migrations (id, name) VALUES (?, ?)`, m.id, m.name); err != nil {
		return err
	}
	return tx.Commit()
}
