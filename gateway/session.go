package gateway

import (
	"chat-hub/domain/event"
	"chat-hub/errors"
	"chat-hub/observability"
	"chat-hub/runtime"
	"sync"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

// Session is the per-connection state machine: Unauthenticated -> Authenticated -> Closed.
// Closed is terminal. The identity is cached once authenticated.
type Session struct {
	id      string
	outbox  *runtime.Outbox
	metrics *observability.Metrics

	// lifecycle is held while the session is registered or torn down, so a concurrent
	// Disconnect never leaves it in the registry or a channel.
	lifecycle sync.Mutex

	mu     sync.RWMutex
	state  State
	userID string
}

func NewSession(id string, outbox *runtime.Outbox, metrics *observability.Metrics) *Session {
	return &Session{id: id, outbox: outbox, metrics: metrics}
}

func (s *Session) SessionID() string { return s.id }

func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Outbox() *runtime.Outbox { return s.outbox }

// Deliver queues f on the outbox. Ephemeral frames may be dropped; a full outbox of durable frames is an error.
func (s *Session) Deliver(f event.Frame) error {
	if s.State() == StateClosed {
		return errors.ErrConnectionClosed
	}
	result, err := s.outbox.Push(f)
	if errors.Is(err, errors.ErrOutboxClosed) {
		return errors.ErrConnectionClosed
	}
	if s.metrics != nil {
		switch {
		case err != nil:
			s.metrics.DroppedFrames.WithLabelValues("outbox_full").Inc()
		case result == runtime.DroppedIncoming:
			s.metrics.DroppedFrames.WithLabelValues("ephemeral_dropped").Inc()
		case result == runtime.EvictedEphemeral:
			s.metrics.DroppedFrames.WithLabelValues("ephemeral_evicted").Inc()
			s.metrics.OutboundFrames.WithLabelValues(string(f.Event)).Inc()
		default:
			s.metrics.OutboundFrames.WithLabelValues(string(f.Event)).Inc()
		}
	}
	return err
}

// Close stops the outbox so the transport flushes what is queued and hangs up.
func (s *Session) Close() { s.outbox.Close() }

// authenticate moves the session to Authenticated for userID.
// The bool is false when the session was already authenticated as userID.
func (s *Session) authenticate(userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return false, errors.ErrConnectionClosed
	case StateAuthenticated:
		if s.userID == userID {
			return false, nil
		}
		return false, errors.ErrAlreadyAuthenticated
	}
	s.state = StateAuthenticated
	s.userID = userID
	return true, nil
}

// markClosed moves the session to Closed and returns the state it left.
func (s *Session) markClosed() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.state
	s.state = StateClosed
	return previous
}
