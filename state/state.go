// Package state holds the two ephemeral, in-memory maps a running chat
// depends on between dispatches: per-(chat,user,service) flow state and
// per-(chat,user) active-flow session tracking. Neither survives a
// restart; durability is explicitly out of scope for this layer.
package state

import (
	"sync"
	"time"
)

// Key identifies one service's flow state within one chat/user pair.
type Key struct {
	ChatID    string
	UserID    string
	ServiceID string
}

// Record is the versioned value stored for a Key. Version increases by
// one on every mutation (replace or merge). A clear removes the record,
// so the next replace or merge after it starts again at version 1.
type Record struct {
	Version int
	Value   map[string]any
}

// FlowOp discriminates the directive variants applyStateDirective
// accepts.
type FlowOp string

const (
	OpClear   FlowOp = "clear"
	OpReplace FlowOp = "replace"
	OpMerge   FlowOp = "merge"
)

// Directive instructs Store how to mutate a Key's flow state.
type Directive struct {
	Op    FlowOp
	Value map[string]any
}

// sessionKey identifies the active-flow claim for one chat/user pair.
type sessionKey struct {
	ChatID string
	UserID string
}

// Session is the active-flow claim for a chat/user pair: which service
// is currently receiving free-text messages, and for how long.
type Session struct {
	ServiceID string
	Since     time.Time
	TTL       time.Duration // zero means no expiry
}

func (s Session) expired(now time.Time) bool {
	return s.TTL > 0 && now.Sub(s.Since) > s.TTL
}

// Store holds flow state and active-flow sessions for one running
// process. All operations are safe for concurrent use; each map is
// serialized by its own mutex.
type Store struct {
	flowMu sync.Mutex
	flow   map[Key]Record

	sessionMu sync.Mutex
	session   map[sessionKey]Session
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		flow:    make(map[Key]Record),
		session: make(map[sessionKey]Session),
	}
}

// GetServiceState returns the current record for key, or (Record{},
// false) if none is set.
func (s *Store) GetServiceState(key Key) (Record, bool) {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()
	r, ok := s.flow[key]
	return r, ok
}

// SetServiceState stores value under key, assigning the next version.
// If version is non-nil it is used verbatim; otherwise the version is
// one more than the current record's version (or 1 if absent).
func (s *Store) SetServiceState(key Key, value map[string]any, version *int) Record {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()

	next := 1
	if current, ok := s.flow[key]; ok {
		next = current.Version + 1
	}
	if version != nil {
		next = *version
	}

	r := Record{Version: next, Value: value}
	s.flow[key] = r
	return r
}

// ApplyStateDirective mutates key's flow state according to d and
// returns the post-image. For OpClear the returned Record's Value is
// nil and ok is false.
func (s *Store) ApplyStateDirective(key Key, d Directive) (Record, bool) {
	s.flowMu.Lock()
	defer s.flowMu.Unlock()

	current, exists := s.flow[key]
	nextVersion := 1
	if exists {
		nextVersion = current.Version + 1
	}

	switch d.Op {
	case OpClear:
		delete(s.flow, key)
		return Record{}, false

	case OpReplace:
		r := Record{Version: nextVersion, Value: d.Value}
		s.flow[key] = r
		return r, true

	case OpMerge:
		merged := make(map[string]any, len(current.Value)+len(d.Value))
		for k, v := range current.Value {
			merged[k] = v
		}
		for k, v := range d.Value {
			merged[k] = v
		}
		r := Record{Version: nextVersion, Value: merged}
		s.flow[key] = r
		return r, true

	default:
		return current, exists
	}
}

// SetActiveFlow claims (chatID,userID) for serviceID. ttl of zero means
// the session never expires on its own.
func (s *Store) SetActiveFlow(chatID, userID, serviceID string, ttl time.Duration) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	s.session[sessionKey{chatID, userID}] = Session{
		ServiceID: serviceID,
		Since:     time.Now(),
		TTL:       ttl,
	}
}

// ClearActiveFlow removes any active-flow claim for (chatID,userID).
func (s *Store) ClearActiveFlow(chatID, userID string) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	delete(s.session, sessionKey{chatID, userID})
}

// GetActiveFlow returns the active-flow session for (chatID,userID), or
// (Session{}, false) if none exists or it has expired. An expired
// session found on read is deleted before returning.
func (s *Store) GetActiveFlow(chatID, userID string) (Session, bool) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	k := sessionKey{chatID, userID}
	sess, ok := s.session[k]
	if !ok {
		return Session{}, false
	}
	if sess.expired(time.Now()) {
		delete(s.session, k)
		return Session{}, false
	}
	return sess, true
}

// SweepExpiredFlows removes every active-flow session whose TTL has
// elapsed and returns the number removed.
func (s *Store) SweepExpiredFlows() int {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	now := time.Now()
	removed := 0
	for k, sess := range s.session {
		if sess.expired(now) {
			delete(s.session, k)
			removed++
		}
	}
	return removed
}

// Dump is a diagnostics-only snapshot of both maps. It is not part of
// the normal dispatch path; tests and operator tooling use it to assert
// on the store's full contents without races.
func (s *Store) Dump() (flow map[Key]Record, sessions map[string]Session) {
	s.flowMu.Lock()
	flow = make(map[Key]Record, len(s.flow))
	for k, v := range s.flow {
		flow[k] = v
	}
	s.flowMu.Unlock()

	s.sessionMu.Lock()
	sessions = make(map[string]Session, len(s.session))
	for k, v := range s.session {
		sessions[k.ChatID+"/"+k.UserID] = v
	}
	s.sessionMu.Unlock()

	return flow, sessions
}
