package nestmate

import (
	"sort"
	"strings"
)

// MessagePageSize is the number of messages requested per history page.
const MessagePageSize = 30

// PushResult reports what ApplyPush did.
type PushResult int

const (
	// PushDuplicate: a message with that id was already cached.
	PushDuplicate PushResult = iota
	// PushAbsorbed: the message replaced a matching tentative entry.
	PushAbsorbed
	// PushInserted: the message was new and inserted.
	PushInserted
)

// ReconcileResult reports what Reconcile did.
type ReconcileResult int

const (
	// ReconcileConfirmed: the tentative entry took the server message's place.
	ReconcileConfirmed ReconcileResult = iota
	// ReconcileAlreadyApplied: a push had delivered the server message first;
	// the tentative entry, if still present, was dropped.
	ReconcileAlreadyApplied
	// ReconcileInserted: the tentative entry was gone, so the server message
	// was inserted on its own.
	ReconcileInserted
)

func (r PushResult) String() string {
	switch r {
	case PushDuplicate:
		return "duplicate"
	case PushAbsorbed:
		return "absorbed"
	case PushInserted:
		return "inserted"
	}
	return "unknown"
}

func (r ReconcileResult) String() string {
	switch r {
	case ReconcileConfirmed:
		return "confirmed"
	case ReconcileAlreadyApplied:
		return "already-applied"
	case ReconcileInserted:
		return "inserted"
	}
	return "unknown"
}

// timeline is one conversation's messages, newest first.
type timeline struct {
	messages []*Message
	loaded   bool
	hasMore  bool
}

func (s *Store) timeline(conversationID string) *timeline {
	t, ok := s.timelines[conversationID]
	if !ok {
		t = &timeline{hasMore: true}
		s.timelines[conversationID] = t
	}
	return t
}

// Messages returns a copy of the conversation's timeline, newest first.
func (s *Store) Messages(conversationID string) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timelines[conversationID]
	if !ok {
		return nil
	}
	out := make([]Message, len(t.messages))
	for i, m := range t.messages {
		out[i] = *m.clone()
	}
	return out
}

// Message returns a copy of one cached message.
func (s *Store) Message(conversationID, messageID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timelines[conversationID]
	if !ok {
		return Message{}, false
	}
	if i := t.indexOf(messageID); i >= 0 {
		return *t.messages[i].clone(), true
	}
	return Message{}, false
}

// Loaded reports whether the first history page has been merged.
func (s *Store) Loaded(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timelines[conversationID]
	return ok && t.loaded
}

// HasMore reports whether older history may exist. Callers check it before
// requesting another page.
func (s *Store) HasMore(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timelines[conversationID]
	return !ok || t.hasMore
}

// ConfirmedCount is the number of server-confirmed messages cached.
func (s *Store) ConfirmedCount(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timelines[conversationID]
	if !ok {
		return 0
	}
	n := 0
	for _, m := range t.messages {
		if !m.Optimistic {
			n++
		}
	}
	return n
}

// MergePage merges one history page. A page shorter than pageSize marks the
// end of history. History entries are matched by id only, so a send still in
// flight is never taken for an older message with the same text.
func (s *Store) MergePage(conversationID string, page []Message, pageSize int) {
	s.mutate(func() []change {
		t := s.timeline(conversationID)
		for i := range page {
			m := page[i]
			if m.ConversationID == "" {
				m.ConversationID = conversationID
			}
			m.Optimistic = false
			t.insertOrReplaceByID(&m)
		}
		t.loaded = true
		t.hasMore = len(page) >= pageSize
		return []change{{StoreTimelineChanged, conversationID}}
	})
}

// InsertTentative puts an unconfirmed message at the head of the timeline.
func (s *Store) InsertTentative(conversationID string, msg Message) {
	msg.Optimistic = true
	msg.ConversationID = conversationID
	s.mutate(func() []change {
		t := s.timeline(conversationID)
		m := msg.clone()
		t.insertSorted(m)
		return []change{
			{StoreTimelineChanged, conversationID},
			{StoreMessageTentative, m.clone()},
		}
	})
}

// RemoveTentative drops a tentative entry; it reports whether one was found.
func (s *Store) RemoveTentative(conversationID, tentativeID string) bool {
	removed := false
	s.mutate(func() []change {
		t, ok := s.timelines[conversationID]
		if !ok {
			return nil
		}
		i := t.indexOf(tentativeID)
		if i < 0 || !t.messages[i].Optimistic {
			return nil
		}
		m := t.messages[i]
		t.removeAt(i)
		removed = true
		return []change{
			{StoreTimelineChanged, conversationID},
			{StoreMessageRolledBack, m.clone()},
		}
	})
	return removed
}

// Reconcile settles a tentative entry with the server's copy from the
// request/response path.
func (s *Store) Reconcile(conversationID, tentativeID string, server Message) ReconcileResult {
	var result ReconcileResult
	server.Optimistic = false
	if server.ConversationID == "" {
		server.ConversationID = conversationID
	}
	s.mutate(func() []change {
		t := s.timeline(conversationID)
		ti := t.indexOf(tentativeID)
		if ti >= 0 && !t.messages[ti].Optimistic {
			ti = -1
		}

		if t.indexOf(server.ID) >= 0 {
			result = ReconcileAlreadyApplied
			if ti < 0 {
				return nil
			}
			t.removeAt(ti)
			return []change{{StoreTimelineChanged, conversationID}}
		}

		m := server.clone()
		if ti >= 0 {
			if m.ClientID == "" {
				m.ClientID = t.messages[ti].ClientID
			}
			t.replaceAt(ti, m)
			result = ReconcileConfirmed
		} else {
			t.insertSorted(m)
			result = ReconcileInserted
		}
		return []change{
			{StoreTimelineChanged, conversationID},
			{StoreMessageConfirmed, m.clone()},
		}
	})
	return result
}

// ApplyPush is the idempotent insert used by the live channel. A known id is
// a no-op. Otherwise a live tentative entry is matched, by clientId when the
// push carries one and by same sender plus same text when it does not, and
// replaced in place. Unmatched messages are inserted.
func (s *Store) ApplyPush(conversationID string, msg Message) PushResult {
	var result PushResult
	msg.Optimistic = false
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}
	s.mutate(func() []change {
		t := s.timeline(conversationID)
		result = t.upsert(msg.clone())
		switch result {
		case PushDuplicate:
			return nil
		case PushAbsorbed:
			return []change{
				{StoreTimelineChanged, conversationID},
				{StoreMessageAbsorbed, msg.clone()},
			}
		}
		return []change{{StoreTimelineChanged, conversationID}}
	})
	return result
}

// SearchMessages does a case-insensitive substring search over cached
// timelines. An empty conversationID searches every conversation.
func (s *Store) SearchMessages(query, conversationID string, limit int) []Message {
	if limit <= 0 {
		limit = 50
	}
	q := strings.ToLower(query)
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	if conversationID != "" {
		ids = []string{conversationID}
	} else {
		for id := range s.timelines {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	var results []Message
	for _, id := range ids {
		t, ok := s.timelines[id]
		if !ok {
			continue
		}
		for _, m := range t.messages {
			if strings.Contains(strings.ToLower(m.Text), q) {
				results = append(results, *m.clone())
				if len(results) >= limit {
					return results
				}
			}
		}
	}
	return results
}

// ── timeline internals (lock held) ───────────────────────

func (t *timeline) indexOf(id string) int {
	for i, m := range t.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

// matchTentative finds the tentative entry m confirms. A clientId, when
// present, is authoritative; without one the sender and text must match.
func (t *timeline) matchTentative(m *Message) int {
	if m.ClientID != "" {
		for i, x := range t.messages {
			if x.Optimistic && x.ClientID == m.ClientID {
				return i
			}
		}
		return -1
	}
	for i, x := range t.messages {
		if x.Optimistic && x.FromUserID == m.FromUserID && x.Text == m.Text {
			return i
		}
	}
	return -1
}

func (t *timeline) upsert(m *Message) PushResult {
	if t.indexOf(m.ID) >= 0 {
		return PushDuplicate
	}
	if i := t.matchTentative(m); i >= 0 {
		if m.ClientID == "" {
			m.ClientID = t.messages[i].ClientID
		}
		t.replaceAt(i, m)
		return PushAbsorbed
	}
	t.insertSorted(m)
	return PushInserted
}

// insertOrReplaceByID refreshes a cached copy of m or inserts it. Tentative
// entries are never considered.
func (t *timeline) insertOrReplaceByID(m *Message) {
	if i := t.indexOf(m.ID); i >= 0 {
		if m.ClientID == "" {
			m.ClientID = t.messages[i].ClientID
		}
		t.replaceAt(i, m)
		return
	}
	t.insertSorted(m)
}

// insertSorted keeps createdAt descending; a new entry goes ahead of equal
// timestamps.
func (t *timeline) insertSorted(m *Message) {
	i := sort.Search(len(t.messages), func(j int) bool {
		return !t.messages[j].CreatedAt.After(m.CreatedAt)
	})
	t.messages = append(t.messages, nil)
	copy(t.messages[i+1:], t.messages[i:])
	t.messages[i] = m
}

func (t *timeline) removeAt(i int) {
	copy(t.messages[i:], t.messages[i+1:])
	t.messages[len(t.messages)-1] = nil
	t.messages = t.messages[:len(t.messages)-1]
}

// replaceAt swaps in m at slot i. The slot is kept unless m's timestamp would
// break the ordering, in which case m is re-seated.
func (t *timeline) replaceAt(i int, m *Message) {
	t.messages[i] = m
	if (i > 0 && t.messages[i-1].CreatedAt.Before(m.CreatedAt)) ||
		(i < len(t.messages)-1 && t.messages[i+1].CreatedAt.After(m.CreatedAt)) {
		t.removeAt(i)
		t.insertSorted(m)
	}
}
