package nestmate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrEmptyMessage is returned by Send when there is neither text nor photos.
var ErrEmptyMessage = errors.New("message has no text or photos")

// Send shows msg immediately as a tentative entry, then sends it. On success
// the tentative entry becomes the server message (or is dropped if a push
// already delivered it) and the conversation moves to the head of the
// directory. On failure the tentative entry is removed and the error
// returned. There is no retry.
func (s *Session) Send(ctx context.Context, conversationID string, in SendInput) (*Message, error) {
	if strings.TrimSpace(in.Text) == "" && len(in.Photos) == 0 {
		return nil, ErrEmptyMessage
	}

	clientID := uuid.NewString()
	tentative := Message{
		ID:             TentativePrefix + clientID,
		ClientID:       clientID,
		ConversationID: conversationID,
		FromUserID:     s.store.UserID(),
		Text:           in.Text,
		Photos:         in.Photos,
		CreatedAt:      s.store.now(),
		Optimistic:     true,
	}
	s.store.InsertTentative(conversationID, tentative)

	in.ClientID = clientID
	res, err := s.backend.SendMessage(ctx, conversationID, in)
	if err == nil && res.Message.ID == "" {
		err = errors.New("response has no message id")
	}
	if err != nil {
		s.store.RemoveTentative(conversationID, tentative.ID)
		s.logger.Warn("send failed, rolled back", "conversation", conversationID, "clientId", clientID, "error", err)
		return nil, fmt.Errorf("send message: %w", err)
	}

	server := res.Message
	if server.ConversationID == "" {
		server.ConversationID = conversationID
	}
	outcome := s.store.Reconcile(conversationID, tentative.ID, server)

	patch := ConversationPatch{
		LastMessage: server.Preview(),
		UpdatedAt:   server.CreatedAt,
	}
	if res.Conversation.ID != "" {
		seed := res.Conversation
		patch.Seed = &seed
		if seed.UpdatedAt.After(patch.UpdatedAt) {
			patch.UpdatedAt = seed.UpdatedAt
		}
	}
	s.store.Touch(conversationID, patch)
	s.logger.Debug("message sent", "conversation", conversationID, "id", server.ID, "outcome", outcome)

	if m, ok := s.store.Message(conversationID, server.ID); ok {
		return &m, nil
	}
	return &server, nil
}

// MarkRead zeroes the current user's counter for the conversation and tells
// the backend. The local update happens first, so UnreadTotal drops in the
// same mutation. If the request fails the cleared count and the previous
// lastReadAt are restored.
func (s *Session) MarkRead(ctx context.Context, conversationID string) (*Conversation, error) {
	me := s.store.UserID()
	stamp := s.store.now()
	prev, cached := s.store.SetParticipantRead(conversationID, me, stamp)

	conv, err := s.backend.MarkRead(ctx, conversationID)
	if err != nil {
		if cached {
			s.store.RevertParticipantRead(conversationID, prev, stamp)
		}
		s.logger.Warn("mark read failed, restored counter", "conversation", conversationID, "unread", prev.UnreadCount, "error", err)
		return nil, fmt.Errorf("mark read: %w", err)
	}

	if !cached && conv != nil && conv.ID != "" {
		s.store.UpsertConversation(*conv, false)
	}
	if c, ok := s.store.Conversation(conversationID); ok {
		return &c, nil
	}
	return conv, nil
}
