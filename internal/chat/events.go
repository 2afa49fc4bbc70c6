package chat

// EventKind says what changed in a session.
type EventKind string

const (
	EventMessage EventKind = "message"
	EventState   EventKind = "state"
	EventBalance EventKind = "balance"
)

// Event is pushed to subscribers after every committed change.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	Balance   int       `json:"balance"`
	Message   *Message  `json:"message,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Subscribe registers a listener for session events. Delivery is best effort:
// when the buffer is full the event is dropped for that listener so a slow
// reader never stalls the session. The returned func unsubscribes and closes the channel.
func (s *Session) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	closed := false
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if closed {
			return
		}
		closed = true
		delete(s.subs, id)
		close(ch)
	}
}

// publishLocked must be called with s.mu held.
func (s *Session) publishLocked(kind EventKind, msg *Message) {
	if len(s.subs) == 0 {
		return
	}
	ev := Event{
		Kind:      kind,
		SessionID: s.id,
		State:     s.stateLocked(),
		Balance:   s.balance,
		Message:   msg,
		Error:     s.lastErr,
	}
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.log.Warn("dropping session event for slow subscriber", "subscriber", id, "kind", kind)
		}
	}
}
