package nestmate

import (
	"context"
	"sort"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

const (
	me    = "u-me"
	other = "u-other"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// at returns t0 shifted by n minutes.
func at(n int) time.Time { return t0.Add(time.Duration(n) * time.Minute) }

func newTestStore() *Store {
	return NewStore(me, WithClock(func() time.Time { return at(100) }))
}

func conv(id string, updated time.Time, unread int) Conversation {
	return Conversation{
		ID:   id,
		Kind: KindDirect,
		Participants: []Participant{
			{UserID: me, UnreadCount: unread},
			{UserID: other},
		},
		UpdatedAt: updated,
	}
}

func msg(id, from, text string, created time.Time) Message {
	return Message{ID: id, FromUserID: from, Text: text, CreatedAt: created}
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func conversationIDs(list []Conversation) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.ID
	}
	return out
}

func checkSortedDesc(t *testing.T, msgs []Message) {
	t.Helper()
	ok := sort.SliceIsSorted(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})
	if !ok {
		t.Fatalf("timeline not sorted by createdAt desc: %v", ids(msgs))
	}
}

func checkUnreadTotal(t *testing.T, s *Store) {
	t.Helper()
	snap := s.Snapshot()
	sum := 0
	for _, c := range snap.Conversations {
		sum += c.UnreadFor(s.UserID())
	}
	if sum != snap.UnreadTotal {
		t.Fatalf("unread total %d, want sum of counters %d", snap.UnreadTotal, sum)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ============================================================================
// testbackend
// ============================================================================

// testbackend implements Backend with per-test function fields. A call to an
// unset field fails the test.
type testbackend struct {
	T                  *testing.T
	getOrCreateDirect  func(t *testing.T, otherUserID string) (*Conversation, error)
	getOrCreateListing func(t *testing.T, listingID, sellerID string) (*Conversation, error)
	listConversations  func(t *testing.T, page, limit int) ([]Conversation, error)
	listMessages       func(t *testing.T, conversationID string, page, limit int) ([]Message, error)
	sendMessage        func(t *testing.T, conversationID string, in SendInput) (*SendResult, error)
	markRead           func(t *testing.T, conversationID string) (*Conversation, error)
}

func (b *testbackend) GetOrCreateDirect(_ context.Context, otherUserID string) (*Conversation, error) {
	if b.getOrCreateDirect == nil {
		b.T.Fatal("unexpected GetOrCreateDirect")
	}
	return b.getOrCreateDirect(b.T, otherUserID)
}

func (b *testbackend) GetOrCreateListing(_ context.Context, listingID, sellerID string) (*Conversation, error) {
	if b.getOrCreateListing == nil {
		b.T.Fatal("unexpected GetOrCreateListing")
	}
	return b.getOrCreateListing(b.T, listingID, sellerID)
}

func (b *testbackend) ListConversations(_ context.Context, page, limit int) ([]Conversation, error) {
	if b.listConversations == nil {
		b.T.Fatal("unexpected ListConversations")
	}
	return b.listConversations(b.T, page, limit)
}

func (b *testbackend) ListMessages(_ context.Context, conversationID string, page, limit int) ([]Message, error) {
	if b.listMessages == nil {
		b.T.Fatal("unexpected ListMessages")
	}
	return b.listMessages(b.T, conversationID, page, limit)
}

func (b *testbackend) SendMessage(_ context.Context, conversationID string, in SendInput) (*SendResult, error) {
	if b.sendMessage == nil {
		b.T.Fatal("unexpected SendMessage")
	}
	return b.sendMessage(b.T, conversationID, in)
}

func (b *testbackend) MarkRead(_ context.Context, conversationID string) (*Conversation, error) {
	if b.markRead == nil {
		b.T.Fatal("unexpected MarkRead")
	}
	return b.markRead(b.T, conversationID)
}

// ============================================================================
// testtransport
// ============================================================================

type testtransport struct {
	events []func(Event)
	states []func(ConnectionState)
}

func (tt *testtransport) OnEvent(h func(Event))                { tt.events = append(tt.events, h) }
func (tt *testtransport) OnStateChange(h func(ConnectionState)) { tt.states = append(tt.states, h) }

func (tt *testtransport) push(ev Event) {
	for _, h := range tt.events {
		h(ev)
	}
}

func (tt *testtransport) state(s ConnectionState) {
	for _, h := range tt.states {
		h(s)
	}
}
