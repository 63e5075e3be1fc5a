package store

import (
	"errors"
	"testing"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationIdempotence(t *testing.T) {
	s := openTestStore(t)

	countRows := func() int {
		var n int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM migrations`).Scan(&n); err != nil {
			t.Fatalf("count migrations: %v", err)
		}
		return n
	}

	before := countRows()
	if before != len(migrations) {
		t.Fatalf("expected %d migration rows, got %d", len(migrations), before)
	}

	if err := initSchema(s.db); err != nil {
		t.Fatalf("second initSchema: %v", err)
	}

	after := countRows()
	if after != before {
		t.Fatalf("migrations table changed size across a second init: %d -> %d", before, after)
	}
}

func TestChatConfigUpsert(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetChatConfig("chat1", "cfg1", `{"a":1}`, "hash1"); err != nil {
		t.Fatalf("SetChatConfig: %v", err)
	}
	rec, ok, err := s.GetChatConfig("chat1")
	if err != nil || !ok {
		t.Fatalf("GetChatConfig: rec=%v ok=%v err=%v", rec, ok, err)
	}
	if rec.ConfigHash != "hash1" {
		t.Errorf("ConfigHash = %q, want hash1", rec.ConfigHash)
	}

	// One row per chatId: a second set replaces, not appends.
	if err := s.SetChatConfig("chat1", "cfg2", `{"a":2}`, "hash2"); err != nil {
		t.Fatalf("SetChatConfig update: %v", err)
	}
	rec, _, _ = s.GetChatConfig("chat1")
	if rec.ConfigHash != "hash2" {
		t.Errorf("ConfigHash after update = %q, want hash2", rec.ConfigHash)
	}

	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM chat_configs WHERE chat_id = ?`, "chat1").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected exactly one row per chatId, got %d", n)
	}
}

func TestGetChatConfigAbsent(t *testing.T) {
	s := openTestStore(t)
	_, ok, err := s.GetChatConfig("missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected absent chat config")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveSnapshot("h1", `{"commands":{}}`); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	got, ok, err := s.LoadSnapshot("h1")
	if err != nil || !ok {
		t.Fatalf("LoadSnapshot: got=%v ok=%v err=%v", got, ok, err)
	}
	if got != `{"commands":{}}` {
		t.Errorf("got %q", got)
	}
}

func TestDeleteSnapshotUnknownIsNoop(t *testing.T) {
	s := openTestStore(t)
	if err := s.DeleteSnapshot("does-not-exist"); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
}

func TestBundleImmutability(t *testing.T) {
	s := openTestStore(t)

	b := Bundle{BundleHash: "h1", ServiceID: "svc1", Version: "1.0.0", DataURL: "data:..."}
	if err := s.SaveServiceBundle(b); err != nil {
		t.Fatalf("first save: %v", err)
	}
	// Identical content: no-op.
	if err := s.SaveServiceBundle(b); err != nil {
		t.Fatalf("second save (identical) should be a no-op, got %v", err)
	}

	// Different serviceId under the same hash: must fail.
	collide := Bundle{BundleHash: "h1", ServiceID: "svc2", Version: "1.0.0", DataURL: "data:..."}
	err := s.SaveServiceBundle(collide)
	if !errors.Is(err, ErrHashCollision) {
		t.Fatalf("expected ErrHashCollision, got %v", err)
	}
}

func TestListAllBundleHashes(t *testing.T) {
	s := openTestStore(t)
	s.SaveServiceBundle(Bundle{BundleHash: "a", ServiceID: "s1", Version: "1.0.0", DataURL: "data:a"})
	s.SaveServiceBundle(Bundle{BundleHash: "b", ServiceID: "s2", Version: "1.0.0", DataURL: "data:b"})

	hashes, err := s.ListAllBundleHashes()
	if err != nil {
		t.Fatalf("ListAllBundleHashes: %v", err)
	}
	if len(hashes) != 2 {
		t.Fatalf("expected 2 hashes, got %d", len(hashes))
	}
}
