package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// sendQueueSize is the per-session outbound buffer. A session whose
// transport cannot drain this many pending messages is considered stalled
// and is dropped.
const sendQueueSize = 64

// Session is one live viewer connection. Sessions are owned exclusively by
// the hub: created on Join, destroyed on Leave or when they fall behind.
// A reconnecting viewer gets a brand-new session with a fresh bootstrap.
type Session struct {
	// ID uniquely identifies this connection.
	ID string

	// ConnectedAt is when the session joined.
	ConnectedAt time.Time

	out       chan Message
	closed    chan struct{}
	closeOnce sync.Once
}

func newSession() *Session {
	return &Session{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now(),
		out:         make(chan Message, sendQueueSize),
		closed:      make(chan struct{}),
	}
}

// Messages returns the session's ordered outbound queue. The transport
// layer drains this channel and writes each message to the connection.
func (s *Session) Messages() <-chan Message {
	return s.out
}

// Done is closed when the session has been dropped or closed. Transports
// select on it to terminate their write loop.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// close marks the session dead. Idempotent.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

// Enqueue attempts a non-blocking delivery into the session's queue.
// Returns false if the queue is full or the session is already closed.
func (s *Session) Enqueue(msg Message) bool {
	select {
	case <-s.closed:
		return false
	default:
	}

	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}
