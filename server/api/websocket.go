package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"homeboard/server/hub"
)

const (
	// writeWait bounds how long a single websocket write may take before
	// the connection is considered dead.
	writeWait = 10 * time.Second

	// pongMessage answers a client keepalive ping.
	pongMessage = "pong"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is a single-user LAN tool with no auth layer; the
	// browser page and the websocket share an origin in practice.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and binds it to a hub session.
// On open the session's queue already holds the full current snapshot set;
// afterwards every published snapshot arrives as one message.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	sess := s.hub.Join()
	s.metrics.SessionsActive.Inc()
	defer s.metrics.SessionsActive.Dec()

	go s.writePump(conn, sess)

	// Read loop: keepalive handling and disconnect detection. Any read
	// error means the viewer is gone.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if string(data) == "ping" {
			sess.Enqueue(hub.Message{Type: pongMessage})
		}
	}

	s.hub.Leave(sess)
}

// writePump drains the session's ordered queue onto the wire. It is the
// connection's only writer. A write error or a dropped session ends the
// pump and closes the connection, which in turn unblocks the read loop.
func (s *Server) writePump(conn *websocket.Conn, sess *hub.Session) {
	defer conn.Close()

	for {
		select {
		case msg := <-sess.Messages():
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("failed to encode message", "error", err.Error())
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.hub.Leave(sess)
				return
			}
		case <-sess.Done():
			return
		}
	}
}
