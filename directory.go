package nestmate

import (
	"sort"
	"time"
)

// ConversationPatch describes how a message or read event changes a
// conversation.
type ConversationPatch struct {
	LastMessage *MessagePreview
	UpdatedAt   time.Time
	// UnreadDelta maps participant user ids to counter adjustments. Counters
	// never drop below zero.
	UnreadDelta map[string]int
	// Seed is used as the initial value when the conversation is not cached.
	Seed *Conversation
}

// Conversations returns a copy of the directory, most recently active first.
func (s *Store) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyConversations()
}

// Conversation returns a copy of one cached conversation.
func (s *Store) Conversation(id string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.conversationIndex(id); i >= 0 {
		return *s.conversations[i].clone(), true
	}
	return Conversation{}, false
}

// ReplaceConversations installs list as the whole directory (page 1).
func (s *Store) ReplaceConversations(list []Conversation) {
	s.mutate(func() []change {
		s.conversations = s.conversations[:0]
		s.mergeConversations(list)
		return []change{{StoreConversationsChanged, ""}}
	})
}

// AppendConversations adds a later page. Entries already cached are
// refreshed in place so each id stays unique.
func (s *Store) AppendConversations(list []Conversation) {
	if len(list) == 0 {
		return
	}
	s.mutate(func() []change {
		s.mergeConversations(list)
		return []change{{StoreConversationsChanged, ""}}
	})
}

// UpsertConversation stores a server copy of c. Cached entries keep their
// local counters and only gain missing participants. With toHead the entry is
// moved to index 0, otherwise it lands at its updatedAt position.
func (s *Store) UpsertConversation(c Conversation, toHead bool) {
	if c.ID == "" {
		return
	}
	s.mutate(func() []change {
		var conv *Conversation
		if i := s.conversationIndex(c.ID); i >= 0 {
			conv = s.conversations[i]
			s.removeConversationAt(i)
			mergeServerConversation(conv, &c)
		} else {
			conv = c.clone()
		}
		if toHead {
			s.insertConversationAt(0, conv)
		} else {
			s.insertConversationSorted(conv)
		}
		return []change{{StoreConversationsChanged, c.ID}}
	})
}

// Touch applies patch to a conversation and moves it to the head of the
// directory. An unknown conversation is created from patch.Seed, or empty.
func (s *Store) Touch(conversationID string, patch ConversationPatch) {
	s.mutate(func() []change {
		var conv *Conversation
		if i := s.conversationIndex(conversationID); i >= 0 {
			conv = s.conversations[i]
			s.removeConversationAt(i)
		} else if patch.Seed != nil {
			conv = patch.Seed.clone()
			conv.ID = conversationID
		} else {
			conv = &Conversation{ID: conversationID}
		}

		if lm := patch.LastMessage; lm != nil {
			if conv.LastMessage == nil || !lm.CreatedAt.Before(conv.LastMessage.CreatedAt) {
				cp := *lm
				conv.LastMessage = &cp
			}
		}
		if patch.UpdatedAt.After(conv.UpdatedAt) {
			conv.UpdatedAt = patch.UpdatedAt
		}
		for userID, delta := range patch.UnreadDelta {
			p := conv.participantOrAdd(userID)
			p.UnreadCount = max(p.UnreadCount+delta, 0)
		}

		s.insertConversationAt(0, conv)
		return []change{{StoreConversationsChanged, conversationID}}
	})
}

// SetParticipantRead zeroes userID's counter and stamps lastReadAt. It
// returns the participant as it was before; ok is false when the conversation
// is not cached. The directory order is unchanged.
func (s *Store) SetParticipantRead(conversationID, userID string, at time.Time) (prev Participant, ok bool) {
	s.mutate(func() []change {
		i := s.conversationIndex(conversationID)
		if i < 0 {
			return nil
		}
		ok = true
		p := s.conversations[i].participantOrAdd(userID)
		prev = *p
		if p.LastReadAt != nil {
			t := *p.LastReadAt
			prev.LastReadAt = &t
		}
		p.UnreadCount = 0
		stamp := at
		p.LastReadAt = &stamp
		return []change{{StoreConversationsChanged, conversationID}}
	})
	return prev, ok
}

// RevertParticipantRead undoes a SetParticipantRead that wrote stamp. The
// cleared count is added back on top of anything that arrived since. The old
// lastReadAt returns only while stamp is still the current one.
func (s *Store) RevertParticipantRead(conversationID string, prev Participant, stamp time.Time) {
	s.mutate(func() []change {
		i := s.conversationIndex(conversationID)
		if i < 0 {
			return nil
		}
		p := s.conversations[i].Participant(prev.UserID)
		if p == nil {
			return nil
		}
		changed := false
		if prev.UnreadCount > 0 {
			p.UnreadCount += prev.UnreadCount
			changed = true
		}
		if p.LastReadAt != nil && p.LastReadAt.Equal(stamp) {
			p.LastReadAt = nil
			if prev.LastReadAt != nil {
				t := *prev.LastReadAt
				p.LastReadAt = &t
			}
			changed = true
		}
		if !changed {
			return nil
		}
		return []change{{StoreConversationsChanged, conversationID}}
	})
}

// ── internals (lock held) ────────────────────────────────

func (s *Store) copyConversations() []Conversation {
	out := make([]Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = *c.clone()
	}
	return out
}

func (s *Store) conversationIndex(id string) int {
	for i, c := range s.conversations {
		if c.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeConversationAt(i int) {
	copy(s.conversations[i:], s.conversations[i+1:])
	s.conversations[len(s.conversations)-1] = nil
	s.conversations = s.conversations[:len(s.conversations)-1]
}

func (s *Store) insertConversationAt(i int, c *Conversation) {
	s.conversations = append(s.conversations, nil)
	copy(s.conversations[i+1:], s.conversations[i:])
	s.conversations[i] = c
}

func (s *Store) insertConversationSorted(c *Conversation) {
	i := sort.Search(len(s.conversations), func(j int) bool {
		return !s.conversations[j].UpdatedAt.After(c.UpdatedAt)
	})
	s.insertConversationAt(i, c)
}

func (s *Store) mergeConversations(list []Conversation) {
	for i := range list {
		c := list[i].clone()
		dedupeParticipants(c)
		if j := s.conversationIndex(c.ID); j >= 0 {
			s.conversations[j] = c
			continue
		}
		s.conversations = append(s.conversations, c)
	}
	sort.SliceStable(s.conversations, func(i, j int) bool {
		return s.conversations[i].UpdatedAt.After(s.conversations[j].UpdatedAt)
	})
}

// dedupeParticipants keeps the first entry per user id.
func dedupeParticipants(c *Conversation) {
	seen := make(map[string]bool, len(c.Participants))
	kept := c.Participants[:0]
	for _, p := range c.Participants {
		if seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true
		kept = append(kept, p)
	}
	c.Participants = kept
}

func mergeServerConversation(dst, src *Conversation) {
	if src.Kind != "" {
		dst.Kind = src.Kind
	}
	if src.ListingID != "" {
		dst.ListingID = src.ListingID
	}
	for _, p := range src.Participants {
		if dst.Participant(p.UserID) == nil {
			dst.Participants = append(dst.Participants, p)
		}
	}
	if lm := src.LastMessage; lm != nil && (dst.LastMessage == nil || lm.CreatedAt.After(dst.LastMessage.CreatedAt)) {
		cp := *lm
		dst.LastMessage = &cp
	}
	if src.UpdatedAt.After(dst.UpdatedAt) {
		dst.UpdatedAt = src.UpdatedAt
	}
}
