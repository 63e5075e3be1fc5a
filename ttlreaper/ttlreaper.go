// Package ttlreaper tracks the time-to-live deadline of every
// bot-produced message and deletes it once that deadline passes, so
// conversations self-clean even across process restarts.
package ttlreaper

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/chatcore/router/store"
)

// Persistence is the narrow store dependency the durable reaper tier
// uses to survive a process restart. store.Store satisfies it.
type Persistence interface {
	SaveTTLMessage(m store.TTLMessage) error
	DeleteTTLMessage(platform, chatID, messageID string) error
	ListTTLMessages() ([]store.TTLMessage, error)
}

// Entry is one tracked message awaiting deletion.
type Entry struct {
	Platform  string
	ChatID    string
	MessageID string
	DeleteAt  time.Time
}

type primaryKey struct {
	Platform  string
	ChatID    string
	MessageID string
}

func keyOf(e Entry) primaryKey {
	return primaryKey{e.Platform, e.ChatID, e.MessageID}
}

// Handler performs the platform-specific deletion for one expired
// entry. Its return value is swallowed by cleanup passes — a failed
// platform delete does not stop the sweep.
type Handler func(Entry) error

// Reaper indexes tracked messages by primary key and by deadline so a
// sweep can cheaply find everything due without scanning the whole set.
// An optional persist tier mirrors every write so a restarted process
// can rehydrate via NewDurable instead of losing track of messages that
// were in flight when it went down.
type Reaper struct {
	mu         sync.Mutex
	byKey      map[primaryKey]Entry
	byDeadline []Entry // kept sorted by DeleteAt ascending
	persist    Persistence
}

// New creates an empty, in-memory-only Reaper with no durable tier.
// CleanupAll will never find anything tracked before this process
// started; use NewDurable when a Persistence is available.
func New() *Reaper {
	return &Reaper{byKey: make(map[primaryKey]Entry)}
}

// NewDurable creates a Reaper backed by persist: every TrackMessage and
// cleanup mirrors to persist, and the reaper is immediately rehydrated
// from whatever persist already has tracked, so entries whose deadlines
// passed while the process was down are not lost.
func NewDurable(persist Persistence) (*Reaper, error) {
	r := &Reaper{byKey: make(map[primaryKey]Entry), persist: persist}

	rows, err := persist.ListTTLMessages()
	if err != nil {
		return nil, fmt.Errorf("rehydrate ttl reaper: %w", err)
	}
	for _, m := range rows {
		e := Entry{Platform: m.Platform, ChatID: m.ChatID, MessageID: m.MessageID, DeleteAt: m.DeleteAt}
		r.byKey[keyOf(e)] = e
		r.byDeadline = insertSorted(r.byDeadline, e)
	}
	return r, nil
}

// TrackMessage records that the message should be deleted ttl after
// now. A non-positive ttl is a no-op: some responses opt out of
// retention entirely.
func (r *Reaper) TrackMessage(platform, chatID, messageID string, ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		return
	}
	e := Entry{Platform: platform, ChatID: chatID, MessageID: messageID, DeleteAt: now.Add(ttl)}

	r.mu.Lock()
	if _, ok := r.byKey[keyOf(e)]; ok {
		for i, d := range r.byDeadline {
			if keyOf(d) == keyOf(e) {
				r.byDeadline = append(r.byDeadline[:i], r.byDeadline[i+1:]...)
				break
			}
		}
	}
	r.byKey[keyOf(e)] = e
	r.byDeadline = insertSorted(r.byDeadline, e)
	persist := r.persist
	r.mu.Unlock()

	if persist != nil {
		if err := persist.SaveTTLMessage(store.TTLMessage{
			Platform: e.Platform, ChatID: e.ChatID, MessageID: e.MessageID, DeleteAt: e.DeleteAt,
		}); err != nil {
			slog.Warn("ttlreaper: failed to persist tracked message", "error", err)
		}
	}
}

func insertSorted(entries []Entry, e Entry) []Entry {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].DeleteAt.After(e.DeleteAt) })
	entries = append(entries, Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	return entries
}

// CleanupExpired scans the deadline index for every entry due at or
// before now, invokes handler for each, and removes it from both
// indexes. It returns the number of entries processed.
func (r *Reaper) CleanupExpired(handler Handler, now time.Time) int {
	r.mu.Lock()
	i := 0
	for i < len(r.byDeadline) && !r.byDeadline[i].DeleteAt.After(now) {
		i++
	}
	due := append([]Entry(nil), r.byDeadline[:i]...)
	r.byDeadline = r.byDeadline[i:]
	for _, e := range due {
		delete(r.byKey, keyOf(e))
	}
	persist := r.persist
	r.mu.Unlock()

	for _, e := range due {
		_ = handler(e)
		r.unpersist(persist, e)
	}
	return len(due)
}

// CleanupAll removes every tracked entry regardless of deadline,
// invoking handler for each. Used at startup to flush entries whose
// deadlines may already have passed while the process was down.
func (r *Reaper) CleanupAll(handler Handler) int {
	r.mu.Lock()
	all := make([]Entry, 0, len(r.byKey))
	for _, e := range r.byKey {
		all = append(all, e)
	}
	r.byKey = make(map[primaryKey]Entry)
	r.byDeadline = nil
	persist := r.persist
	r.mu.Unlock()

	for _, e := range all {
		_ = handler(e)
		r.unpersist(persist, e)
	}
	return len(all)
}

func (r *Reaper) unpersist(persist Persistence, e Entry) {
	if persist == nil {
		return
	}
	if err := persist.DeleteTTLMessage(e.Platform, e.ChatID, e.MessageID); err != nil {
		slog.Warn("ttlreaper: failed to delete persisted message", "error", err)
	}
}

// Len reports how many entries are currently tracked.
func (r *Reaper) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byKey)
}

// Sweeper runs a Reaper's cleanup pass on a fixed schedule.
type Sweeper struct {
	c       *cron.Cron
	reaper  *Reaper
	handler Handler
	entryID cron.EntryID
}

// NewSweeper builds a Sweeper that runs reaper.CleanupExpired against
// handler every time schedule fires. schedule is a standard five-field
// cron expression, e.g. "* * * * *" for once a minute.
func NewSweeper(reaper *Reaper, handler Handler, schedule string) (*Sweeper, error) {
	s := &Sweeper{c: cron.New(), reaper: reaper, handler: handler}
	id, err := s.c.AddFunc(schedule, s.sweep)
	if err != nil {
		return nil, err
	}
	s.entryID = id
	return s, nil
}

func (s *Sweeper) sweep() {
	runID := uuid.New().String()[:8]
	n := s.reaper.CleanupExpired(s.handler, time.Now())
	if n > 0 {
		slog.Info("ttlreaper: swept expired messages", "run", runID, "count", n)
	}
}

// Start begins the cron runner. It does not block.
func (s *Sweeper) Start() {
	s.c.Start()
	slog.Info("ttlreaper: sweeper started")
}

// Stop halts the cron runner and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	<-s.c.Stop().Done()
	slog.Info("ttlreaper: sweeper stopped")
}
