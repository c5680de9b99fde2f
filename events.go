package nestmate

import (
	"encoding/json"
	"fmt"
	"time"
)

// Live channel event names.
const (
	EventMessage  = "dm:message"
	EventRead     = "dm:read"
	EventJoinUser = "join:user"
)

// Envelope is the wire frame for every event on the live channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is a decoded inbound push event: MessageEvent or ReadEvent.
type Event interface {
	EventName() string
	ConversationKey() string
}

// MessageEvent carries a message broadcast to every participant.
type MessageEvent struct {
	ConversationID string  `json:"conversationId"`
	Message        Message `json:"message"`
}

func (MessageEvent) EventName() string          { return EventMessage }
func (e MessageEvent) ConversationKey() string { return e.ConversationID }

// ReadEvent reports that UserID has read the conversation.
type ReadEvent struct {
	ConversationID string     `json:"conversationId"`
	UserID         string     `json:"userId"`
	At             *time.Time `json:"at,omitempty"`
}

func (ReadEvent) EventName() string          { return EventRead }
func (e ReadEvent) ConversationKey() string { return e.ConversationID }

// JoinPayload announces the user on a fresh connection.
type JoinPayload struct {
	UserID string `json:"userId"`
}

// DecodeEvent turns a wire envelope into a typed event. Unknown event names
// return (nil, nil) so callers can skip them.
func DecodeEvent(env Envelope) (Event, error) {
	switch env.Event {
	case EventMessage:
		var ev MessageEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if ev.ConversationID == "" {
			ev.ConversationID = ev.Message.ConversationID
		}
		if ev.ConversationID == "" || ev.Message.ID == "" {
			return nil, fmt.Errorf("decode %s: missing conversation or message id", env.Event)
		}
		if ev.Message.ConversationID == "" {
			ev.Message.ConversationID = ev.ConversationID
		}
		ev.Message.Optimistic = false
		return ev, nil
	case EventRead:
		var ev ReadEvent
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		if ev.ConversationID == "" || ev.UserID == "" {
			return nil, fmt.Errorf("decode %s: missing conversation or user id", env.Event)
		}
		return ev, nil
	}
	return nil, nil
}
