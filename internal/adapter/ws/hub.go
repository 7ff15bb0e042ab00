// Package ws maintains the gateway's live payout-status sessions. Each
// session belongs to one authenticated user; events arriving from the
// cross-instance event bridge are delivered only to that user's local
// sessions and dropped silently for everyone else.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"instant-payout/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4096
	sendBuffer     = 64
)

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Session identity comes from the bearer token, not the
		// origin, so cross-origin dashboards are allowed.
		return true
	},
}

// connectedFrame greets a session right after the upgrade so clients can
// confirm which user the subscription is bound to.
type connectedFrame struct {
	Event     string    `json:"event"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one live connection bound to a user.
type Session struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// Hub tracks sessions per user and delivers status events to them.
// It implements ports.SessionRegistry.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]bool // user_id -> sessions
	closed   bool
	log      zerolog.Logger
}

// NewHub creates an empty session hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]map[*Session]bool),
		log:      log.With().Str("component", "ws_hub").Logger(),
	}
}

// Subscribe upgrades the request and runs the session's pumps. userID
// must already be authenticated by the caller.
func (h *Hub) Subscribe(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	s := &Session{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
	}

	if !h.register(s) {
		conn.Close()
		return nil
	}

	greeting, _ := json.Marshal(connectedFrame{
		Event:     "CONNECTED",
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	})
	h.reply(s, greeting)

	go s.writePump()
	go s.readPump()
	return nil
}

// Deliver forwards an event to every local session of evt.UserID. A user
// connected to a different gateway instance simply has no sessions here.
func (h *Hub) Deliver(evt *domain.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.log.Error().Err(err).Msg("encode event")
		return
	}

	h.mu.RLock()
	var slow []*Session
	for s := range h.sessions[evt.UserID] {
		select {
		case s.send <- payload:
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	// A session that cannot drain its buffer is disconnected rather
	// than allowed to stall delivery for the rest.
	for _, s := range slow {
		h.unregister(s)
	}
}

// SessionCount reports how many sessions a user has on this instance.
func (h *Hub) SessionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[userID])
}

// Shutdown closes every session and refuses new ones.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	h.closed = true
	var all []*Session
	for _, set := range h.sessions {
		for s := range set {
			all = append(all, s)
		}
	}
	h.sessions = make(map[string]map[*Session]bool)
	h.mu.Unlock()

	for _, s := range all {
		close(s.send)
	}
	h.log.Info().Int("sessions", len(all)).Msg("websocket hub stopped")
}

// reply enqueues a frame for one session. The registry lock orders the
// membership check against close(s.send), so a concurrently evicted
// session is skipped instead of written to.
func (h *Hub) reply(s *Session, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.sessions[s.userID][s] {
		return
	}
	select {
	case s.send <- payload:
	default:
	}
}

func (h *Hub) register(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.sessions[s.userID]
	if !ok {
		set = make(map[*Session]bool)
		h.sessions[s.userID] = set
	}
	set[s] = true
	h.log.Debug().Str("user_id", s.userID).Int("sessions", len(set)).Msg("session opened")
	return true
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	set, ok := h.sessions[s.userID]
	if ok && set[s] {
		delete(set, s)
		if len(set) == 0 {
			delete(h.sessions, s.userID)
		}
		close(s.send)
	}
	h.mu.Unlock()
	if ok {
		h.log.Debug().Str("user_id", s.userID).Msg("session closed")
	}
}

// readPump drains client frames. Clients only send keepalives and close
// frames; a "ping" text frame gets a "pong" back for clients behind
// proxies that strip control frames, anything else is ignored.
func (s *Session) readPump() {
	defer func() {
		s.hub.unregister(s)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				s.hub.log.Debug().Err(err).Str("user_id", s.userID).Msg("websocket read ended")
			}
			return
		}
		if string(msg) == "ping" {
			s.hub.reply(s, []byte("pong"))
		}
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
