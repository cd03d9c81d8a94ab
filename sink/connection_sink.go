package sink

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"sync"

	"github.com/google/uuid"
)

// ConnectionSink is the handle of one live client connection.
// Send is called by the router and never blocks: when the buffer is full the
// event is dropped for this connection only. The transport drains Events().
type ConnectionSink struct {
	id     domain.ConnID
	userID domain.UserID
	mu     sync.RWMutex
	closed bool
	events chan event.Event
}

func NewConnectionSink(userID domain.UserID, bufferSize int) *ConnectionSink {
	return &ConnectionSink{
		id:     domain.ConnID(uuid.NewString()),
		userID: userID,
		events: make(chan event.Event, bufferSize),
	}
}

func (s *ConnectionSink) ID() domain.ConnID { return s.id }

func (s *ConnectionSink) UserID() domain.UserID { return s.userID }

// Events is read by the connection's write pump. It is closed by Close.
func (s *ConnectionSink) Events() <-chan event.Event { return s.events }

func (s *ConnectionSink) Send(e event.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrConnectionClosed
	}
	select {
	case s.events <- e:
		return nil
	default:
		return errors.ErrBackpressure
	}
}

// Close is idempotent.
func (s *ConnectionSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

func (s *ConnectionSink) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
