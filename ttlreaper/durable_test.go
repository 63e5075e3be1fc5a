package ttlreaper

import (
	"testing"
	"time"

	"github.com/chatcore/router/store"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.Open(store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewDurableRehydratesFromStore(t *testing.T) {
	st := openTestStore(t)

	now := time.Now()
	if err := st.SaveTTLMessage(store.TTLMessage{
		Platform: "telegram", ChatID: "1", MessageID: "100", DeleteAt: now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("SaveTTLMessage: %v", err)
	}

	r, err := NewDurable(st)
	if err != nil {
		t.Fatalf("NewDurable: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("expected 1 rehydrated entry, got %d", r.Len())
	}

	n := r.CleanupAll(func(Entry) error { return nil })
	if n != 1 {
		t.Fatalf("expected 1 entry flushed, got %d", n)
	}

	rows, err := st.ListTTLMessages()
	if err != nil {
		t.Fatalf("ListTTLMessages: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected the durable tier to be cleared by CleanupAll, got %d rows", len(rows))
	}
}

func TestDurableReaperMirrorsTrackMessage(t *testing.T) {
	st := openTestStore(t)
	r, err := NewDurable(st)
	if err != nil {
		t.Fatalf("NewDurable: %v", err)
	}

	r.TrackMessage("telegram", "1", "msg", time.Minute, time.Now())

	rows, err := st.ListTTLMessages()
	if err != nil {
		t.Fatalf("ListTTLMessages: %v", err)
	}
	if len(rows) != 1 || rows[0].MessageID != "msg" {
		t.Fatalf("expected TrackMessage to persist, got %+v", rows)
	}
}

func TestDurableReaperMirrorsCleanupExpired(t *testing.T) {
	st := openTestStore(t)
	r, err := NewDurable(st)
	if err != nil {
		t.Fatalf("NewDurable: %v", err)
	}

	now := time.Now()
	r.TrackMessage("telegram", "1", "early", 10*time.Second, now)
	r.TrackMessage("telegram", "1", "late", time.Hour, now)

	r.CleanupExpired(func(Entry) error { return nil }, now.Add(30*time.Second))

	rows, err := st.ListTTLMessages()
	if err != nil {
		t.Fatalf("ListTTLMessages: %v", err)
	}
	if len(rows) != 1 || rows[0].MessageID != "late" {
		t.Fatalf("expected only the still-pending entry persisted, got %+v", rows)
	}
}
