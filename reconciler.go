package nestmate

// Transport is the live channel as seen by the reconciler. RealtimeClient
// implements it.
type Transport interface {
	OnEvent(handler func(Event))
	OnStateChange(handler func(ConnectionState))
}

// Bind subscribes the session to t. It is safe to call more than once; only
// the first call registers handlers.
func (s *Session) Bind(t Transport) {
	s.bindOnce.Do(func() {
		t.OnEvent(s.HandleEvent)
		t.OnStateChange(s.onStateChange)
		s.logger.Debug("session bound to live channel")
	})
}

// HandleEvent applies one push event to the store. Applying the same event
// twice leaves the state as after the first application.
func (s *Session) HandleEvent(ev Event) {
	switch e := ev.(type) {
	case MessageEvent:
		s.applyMessage(e)
	case *MessageEvent:
		s.applyMessage(*e)
	case ReadEvent:
		s.applyRead(e)
	case *ReadEvent:
		s.applyRead(*e)
	default:
		s.logger.Debug("ignoring event", "event", ev)
	}
}

func (s *Session) applyMessage(e MessageEvent) {
	msg := e.Message
	result := s.store.ApplyPush(e.ConversationID, msg)
	if result == PushDuplicate {
		s.logger.Debug("duplicate push ignored", "conversation", e.ConversationID, "id", msg.ID)
		return
	}

	patch := ConversationPatch{
		LastMessage: msg.Preview(),
		UpdatedAt:   msg.CreatedAt,
	}
	me := s.store.UserID()
	if msg.FromUserID != me {
		// Predict the server-side counter instead of waiting for it.
		patch.UnreadDelta = map[string]int{me: 1}
		patch.Seed = &Conversation{
			ID:           e.ConversationID,
			Participants: []Participant{{UserID: me}, {UserID: msg.FromUserID}},
		}
	}
	s.store.Touch(e.ConversationID, patch)
	s.logger.Debug("push applied", "conversation", e.ConversationID, "id", msg.ID, "absorbed", result == PushAbsorbed)
}

func (s *Session) applyRead(e ReadEvent) {
	at := s.store.now()
	if e.At != nil {
		at = *e.At
	}
	if _, ok := s.store.SetParticipantRead(e.ConversationID, e.UserID, at); !ok {
		s.logger.Debug("read event for uncached conversation", "conversation", e.ConversationID)
	}
}
