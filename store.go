package nestmate

import (
	"sync"
	"time"
)

// Store change events.
const (
	StoreConversationsChanged = "conversations.changed"
	StoreTimelineChanged      = "timeline.changed"
	StoreUnreadChanged        = "unread.changed"
	StoreMessageTentative     = "message.tentative"
	StoreMessageConfirmed     = "message.confirmed"
	StoreMessageRolledBack    = "message.rolledback"
	StoreMessageAbsorbed      = "message.absorbed"
)

// ============================================================================
// Event Emitter
// ============================================================================

// StoreEventHandler receives store change notifications. It runs after the
// store lock is released, so it may read the store freely.
type StoreEventHandler func(event string, payload any)

type storeEmitter struct {
	mu        sync.RWMutex
	listeners map[string][]StoreEventHandler
}

// On registers handler for event.
func (e *storeEmitter) On(event string, handler StoreEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], handler)
}

func (e *storeEmitter) emit(event string, payload any) {
	e.mu.RLock()
	handlers := e.listeners[event]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() { recover() }() // listener panics must not corrupt the caller
			h(event, payload)
		}()
	}
}

// ============================================================================
// Store
// ============================================================================

// Store is the single owned in-memory state shared by the request path and
// the live channel: the ordered conversation directory, one timeline per
// conversation, and the derived unread total for the current user.
//
// Every mutation goes through mutate, which bumps the version, recomputes the
// unread total and notifies listeners once the lock is released.
type Store struct {
	storeEmitter

	mu            sync.Mutex
	userID        string
	now           func() time.Time
	version       uint64
	conversations []*Conversation
	timelines     map[string]*timeline
	unreadTotal   int
}

type StoreOption func(*Store)

// WithClock replaces the clock used for tentative timestamps and read stamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store for the signed-in user.
func NewStore(userID string, opts ...StoreOption) *Store {
	s := &Store{
		storeEmitter: storeEmitter{listeners: make(map[string][]StoreEventHandler)},
		userID:       userID,
		now:          time.Now,
		timelines:    make(map[string]*timeline),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UserID returns the user whose unread counters the store aggregates.
func (s *Store) UserID() string { return s.userID }

// Version increases by one on every state change.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// UnreadTotal returns the current user's unread count summed over every
// cached conversation.
func (s *Store) UnreadTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unreadTotal
}

// Snapshot is a consistent copy of the directory and unread total.
type Snapshot struct {
	Version       uint64
	Conversations []Conversation
	UnreadTotal   int
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Version:       s.version,
		Conversations: s.copyConversations(),
		UnreadTotal:   s.unreadTotal,
	}
}

type change struct {
	event   string
	payload any
}

// mutate runs fn under the lock. fn returns the changes it made; an empty
// result means nothing changed and the version stays put.
func (s *Store) mutate(fn func() []change) {
	s.mu.Lock()
	changes := fn()
	if len(changes) > 0 {
		s.version++
		if c, ok := s.recompute(); ok {
			changes = append(changes, c)
		}
	}
	s.mu.Unlock()

	for _, c := range changes {
		s.emit(c.event, c.payload)
	}
}

// recompute derives the unread total from the per-conversation counters.
// Nothing is tracked incrementally.
func (s *Store) recompute() (change, bool) {
	total := 0
	for _, c := range s.conversations {
		total += c.UnreadFor(s.userID)
	}
	if total == s.unreadTotal {
		return change{}, false
	}
	s.unreadTotal = total
	return change{StoreUnreadChanged, total}, true
}
