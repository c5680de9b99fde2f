package nestmate

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Backend is the request/response collaborator. MessagesClient implements it.
type Backend interface {
	GetOrCreateDirect(ctx context.Context, otherUserID string) (*Conversation, error)
	GetOrCreateListing(ctx context.Context, listingID, sellerID string) (*Conversation, error)
	ListConversations(ctx context.Context, page, limit int) ([]Conversation, error)
	ListMessages(ctx context.Context, conversationID string, page, limit int) ([]Message, error)
	SendMessage(ctx context.Context, conversationID string, in SendInput) (*SendResult, error)
	MarkRead(ctx context.Context, conversationID string) (*Conversation, error)
}

// ============================================================================
// Session
// ============================================================================

// Session drives a Store: it runs the network half of the directory and
// timeline operations, the optimistic write pipeline and the live event
// reconciler. All state lives in the store.
type Session struct {
	backend Backend
	store   *Store
	logger  *slog.Logger

	resyncOnReconnect bool
	resyncLimit       int

	loads     singleflight.Group
	bindOnce  sync.Once
	connected atomic.Bool
}

type SessionOption func(*Session)

func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithResyncOnReconnect re-fetches the first directory page of limit entries
// whenever the live channel comes back after a drop.
func WithResyncOnReconnect(limit int) SessionOption {
	return func(s *Session) {
		s.resyncOnReconnect = true
		s.resyncLimit = limit
	}
}

// NewSession creates a session for the store's user.
func NewSession(backend Backend, store *Store, opts ...SessionOption) *Session {
	s := &Session{
		backend: backend,
		store:   store,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = discardLogger()
	}
	if s.resyncLimit <= 0 {
		s.resyncLimit = 20
	}
	return s
}

// Store returns the state the session mutates.
func (s *Session) Store() *Store { return s.store }

// ============================================================================
// Directory
// ============================================================================

// ListConversations fetches one directory page. Page 1 replaces the cached
// directory, later pages are appended. On failure the cache is untouched.
func (s *Session) ListConversations(ctx context.Context, page, limit int) ([]Conversation, error) {
	if page < 1 {
		page = 1
	}
	list, err := s.backend.ListConversations(ctx, page, limit)
	if err != nil {
		s.logger.Warn("list conversations failed", "page", page, "error", err)
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if page == 1 {
		s.store.ReplaceConversations(list)
	} else {
		s.store.AppendConversations(list)
	}
	s.logger.Debug("conversations loaded", "page", page, "count", len(list), "unread", s.store.UnreadTotal())
	return list, nil
}

// ============================================================================
// Timeline
// ============================================================================

// EnsureLoaded loads the first history page unless one was already loaded.
// Concurrent callers share a single request.
func (s *Session) EnsureLoaded(ctx context.Context, conversationID string) error {
	if s.store.Loaded(conversationID) {
		return nil
	}
	_, err, _ := s.loads.Do("first:"+conversationID, func() (any, error) {
		if s.store.Loaded(conversationID) {
			return nil, nil
		}
		page, err := s.backend.ListMessages(ctx, conversationID, 1, MessagePageSize)
		if err != nil {
			return nil, err
		}
		s.store.MergePage(conversationID, page, MessagePageSize)
		return nil, nil
	})
	if err != nil {
		s.logger.Warn("load messages failed", "conversation", conversationID, "error", err)
		return fmt.Errorf("load messages: %w", err)
	}
	return nil
}

// LoadMore fetches the next older page. It is a no-op once HasMore is false.
// The page index is derived from the confirmed message count.
func (s *Session) LoadMore(ctx context.Context, conversationID string) error {
	if !s.store.Loaded(conversationID) {
		return s.EnsureLoaded(ctx, conversationID)
	}
	if !s.store.HasMore(conversationID) {
		return nil
	}
	page := s.store.ConfirmedCount(conversationID)/MessagePageSize + 1
	_, err, _ := s.loads.Do("page:"+conversationID+":"+strconv.Itoa(page), func() (any, error) {
		msgs, err := s.backend.ListMessages(ctx, conversationID, page, MessagePageSize)
		if err != nil {
			return nil, err
		}
		s.store.MergePage(conversationID, msgs, MessagePageSize)
		return nil, nil
	})
	if err != nil {
		s.logger.Warn("load more messages failed", "conversation", conversationID, "page", page, "error", err)
		return fmt.Errorf("load more messages: %w", err)
	}
	return nil
}

// ============================================================================
// Get-or-create
// ============================================================================

// OpenDirect returns the direct conversation with otherUserID and puts it at
// the head of the directory.
func (s *Session) OpenDirect(ctx context.Context, otherUserID string) (*Conversation, error) {
	conv, err := s.backend.GetOrCreateDirect(ctx, otherUserID)
	if err != nil {
		return nil, fmt.Errorf("open direct conversation: %w", err)
	}
	return s.adopt(conv), nil
}

// OpenListing returns the conversation about a marketplace listing and puts it
// at the head of the directory.
func (s *Session) OpenListing(ctx context.Context, listingID, sellerID string) (*Conversation, error) {
	conv, err := s.backend.GetOrCreateListing(ctx, listingID, sellerID)
	if err != nil {
		return nil, fmt.Errorf("open listing conversation: %w", err)
	}
	return s.adopt(conv), nil
}

func (s *Session) adopt(conv *Conversation) *Conversation {
	s.store.UpsertConversation(*conv, true)
	if c, ok := s.store.Conversation(conv.ID); ok {
		return &c
	}
	return conv
}

// ============================================================================
// Resync
// ============================================================================

func (s *Session) onStateChange(state ConnectionState) {
	if state != StateConnected {
		return
	}
	// The first connect follows an explicit load; only later ones resync.
	if s.connected.Swap(true) && s.resyncOnReconnect {
		go s.resync()
	}
}

func (s *Session) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := s.ListConversations(ctx, 1, s.resyncLimit); err != nil {
		s.logger.Warn("resync after reconnect failed", "error", err)
		return
	}
	s.logger.Info("resynced after reconnect", "unread", s.store.UnreadTotal())
}
