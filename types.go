package nestmate

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// APIError is returned when the backend answers with a non-2xx status.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// NetworkError wraps a request that never produced a usable response.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error { return e.Err }

var (
	// ErrNotConnected is returned by Emit when the live channel is down.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrDialInProgress is returned by Connect while another handshake runs.
	ErrDialInProgress = errors.New("realtime: dial already in progress")
)

// ============================================================================
// Conversation Types
// ============================================================================

// ConversationKind tells direct threads from marketplace-listing threads.
type ConversationKind string

const (
	KindDirect  ConversationKind = "dm"
	KindListing ConversationKind = "listing"
)

// Participant is one member's personal read state.
type Participant struct {
	UserID      string     `json:"userId"`
	UnreadCount int        `json:"unreadCount"`
	LastReadAt  *time.Time `json:"lastReadAt,omitempty"`
}

// MessagePreview is the last-message summary shown in the directory.
type MessagePreview struct {
	ID         string    `json:"id"`
	FromUserID string    `json:"fromUserId"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Conversation is a thread between two parties.
type Conversation struct {
	ID           string           `json:"id"`
	Kind         ConversationKind `json:"kind,omitempty"`
	ListingID    string           `json:"listingId,omitempty"`
	Participants []Participant    `json:"participants"`
	LastMessage  *MessagePreview  `json:"lastMessage,omitempty"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// Participant returns the entry for userID, or nil.
func (c *Conversation) Participant(userID string) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

// UnreadFor returns userID's unread counter, zero when absent.
func (c *Conversation) UnreadFor(userID string) int {
	if p := c.Participant(userID); p != nil {
		return p.UnreadCount
	}
	return 0
}

func (c *Conversation) participantOrAdd(userID string) *Participant {
	if p := c.Participant(userID); p != nil {
		return p
	}
	c.Participants = append(c.Participants, Participant{UserID: userID})
	return &c.Participants[len(c.Participants)-1]
}

func (c *Conversation) clone() *Conversation {
	cp := *c
	cp.Participants = make([]Participant, len(c.Participants))
	for i, p := range c.Participants {
		cp.Participants[i] = p
		if p.LastReadAt != nil {
			t := *p.LastReadAt
			cp.Participants[i].LastReadAt = &t
		}
	}
	if c.LastMessage != nil {
		lm := *c.LastMessage
		cp.LastMessage = &lm
	}
	return &cp
}

// ============================================================================
// Message Types
// ============================================================================

// TentativePrefix marks ids generated locally for unconfirmed messages.
const TentativePrefix = "tmp-"

// Message is a single chat message. Optimistic is true while the server has
// not confirmed it.
type Message struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"clientId,omitempty"`
	ConversationID string    `json:"conversationId"`
	FromUserID     string    `json:"fromUserId"`
	Text           string    `json:"text"`
	Photos         []string  `json:"photos,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	Optimistic     bool      `json:"optimistic,omitempty"`
}

// IsTentative reports whether the message carries a local placeholder id.
func (m *Message) IsTentative() bool {
	return strings.HasPrefix(m.ID, TentativePrefix)
}

// Preview builds the directory summary for m.
func (m *Message) Preview() *MessagePreview {
	return &MessagePreview{
		ID:         m.ID,
		FromUserID: m.FromUserID,
		Text:       m.Text,
		CreatedAt:  m.CreatedAt,
	}
}

func (m *Message) clone() *Message {
	cp := *m
	if m.Photos != nil {
		cp.Photos = append([]string(nil), m.Photos...)
	}
	return &cp
}

// ============================================================================
// Request / Response Types
// ============================================================================

// SendInput is the body of a send-message request.
type SendInput struct {
	Text     string   `json:"text,omitempty"`
	Photos   []string `json:"photos,omitempty"`
	ClientID string   `json:"clientId,omitempty"`
}

// SendResult is the backend's answer to a send-message request.
type SendResult struct {
	Message      Message      `json:"message"`
	Conversation Conversation `json:"conversation"`
}

type directRequest struct {
	OtherUserID string `json:"otherUserId"`
}

type listingRequest struct {
	ListingID string `json:"listingId"`
	SellerID  string `json:"sellerId"`
}
