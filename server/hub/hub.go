// Package hub multiplexes snapshot updates to an arbitrary number of live
// viewer sessions. Delivery is non-blocking per session: a consumer that
// cannot keep up is dropped rather than allowed to apply backpressure to
// the publishing runners or to other sessions.
package hub

import (
	"log/slog"
	"sync"
	"time"

	"homeboard/server/integration"
)

// Message types pushed over the live update channel.
const (
	// MessageWidgetUpdate carries one snapshot for one integration.
	MessageWidgetUpdate = "widget_update"

	// MessageReload instructs the client to reload the page, sent after a
	// successful deploy.
	MessageReload = "reload"
)

// Message is one frame on the live update channel.
type Message struct {
	Type        string `json:"type"`
	Integration string `json:"integration,omitempty"`
	Seq         uint64 `json:"seq,omitempty"`
	HTML        string `json:"html,omitempty"`
	Error       string `json:"error,omitempty"`
}

// updateMessage converts a snapshot into its wire frame.
func updateMessage(snap integration.Snapshot) Message {
	return Message{
		Type:        MessageWidgetUpdate,
		Integration: snap.Integration,
		Seq:         snap.Seq,
		HTML:        snap.Rendered,
		Error:       snap.Err,
	}
}

// SnapshotSource provides the current full snapshot set for new-session
// bootstrap. Implemented by the cache store.
type SnapshotSource interface {
	GetAll() []integration.Snapshot
}

// DropListener is notified when a slow session is dropped. Used for metrics.
type DropListener func(sessionID string)

// Hub maintains the set of connected viewer sessions and delivers every
// published snapshot to all of them. Join and Publish are serialized against
// each other, which gives the bootstrap guarantee: a joining session's first
// messages reflect a cache state no older than the join, and every snapshot
// published after the join is queued behind them.
type Hub struct {
	source SnapshotSource
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	onDrop DropListener
}

// New creates a hub that bootstraps new sessions from the given source.
func New(source SnapshotSource, logger *slog.Logger) *Hub {
	return &Hub{
		source:   source,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// SetDropListener registers a callback invoked whenever a slow session is
// dropped. Must be called before the hub starts accepting sessions.
func (h *Hub) SetDropListener(fn DropListener) {
	h.onDrop = fn
}

// Join registers a new session and queues the full current snapshot set as
// its first messages. The bootstrap is taken under the hub lock, so it can
// never miss an update published after Join returns.
func (h *Hub) Join() *Session {
	s := newSession()

	h.mu.Lock()
	for _, snap := range h.source.GetAll() {
		// The bootstrap always fits: the queue is empty and larger than any
		// realistic widget count.
		s.Enqueue(updateMessage(snap))
	}
	h.sessions[s.ID] = s
	count := len(h.sessions)
	h.mu.Unlock()

	h.logger.Debug("session joined", "session", s.ID, "sessions", count)
	return s
}

// Leave deregisters and closes a session. Safe to call more than once.
func (h *Hub) Leave(s *Session) {
	h.mu.Lock()
	_, exists := h.sessions[s.ID]
	delete(h.sessions, s.ID)
	count := len(h.sessions)
	h.mu.Unlock()

	s.close()
	if exists {
		h.logger.Debug("session left", "session", s.ID, "sessions", count)
	}
}

// Publish delivers the snapshot to all currently joined sessions. Delivery
// into each session is a non-blocking enqueue; a session with a full queue
// is dropped asynchronously, so Publish never blocks on a slow consumer.
func (h *Hub) Publish(snap integration.Snapshot) {
	msg := updateMessage(snap)

	h.mu.RLock()
	var stalled []*Session
	for _, s := range h.sessions {
		if !s.Enqueue(msg) {
			stalled = append(stalled, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range stalled {
		h.drop(s)
	}
}

// BroadcastReload queues a reload instruction to every session. Sessions
// that cannot accept it are dropped like any other stalled consumer.
func (h *Hub) BroadcastReload() {
	msg := Message{Type: MessageReload}

	h.mu.RLock()
	var stalled []*Session
	for _, s := range h.sessions {
		if !s.Enqueue(msg) {
			stalled = append(stalled, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range stalled {
		h.drop(s)
	}
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.sessions)
}

// CloseAll closes every session. Called on shutdown after the runners have
// stopped publishing.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}

// drop removes a session that cannot keep up. It is treated exactly like a
// disconnect: no retry, no buffering beyond the session's queue.
func (h *Hub) drop(s *Session) {
	h.mu.Lock()
	_, exists := h.sessions[s.ID]
	delete(h.sessions, s.ID)
	h.mu.Unlock()

	s.close()
	if exists {
		h.logger.Warn("dropping slow session", "session", s.ID,
			"connected", time.Since(s.ConnectedAt))
		if h.onDrop != nil {
			h.onDrop(s.ID)
		}
	}
}
