// Package realtime fans schema events out to websocket subscribers.
// Delivery is best-effort: slow or dead sessions are dropped, nothing is
// replayed.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/metrics"
)

// TopicServerShutdown is broadcast to every session on graceful stop.
const TopicServerShutdown = "server:shutdown"

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Event is the wire format pushed to subscribers.
type Event struct {
	Topic        string    `json:"topic"`
	ConnectionID string    `json:"connection_id,omitempty"`
	Payload      any       `json:"payload,omitempty"`
	TS           time.Time `json:"ts"`
}

// clientMessage is what subscribers send: subscribe/unsubscribe to a
// connection's events.
type clientMessage struct {
	Action       string    `json:"action"`
	ConnectionID uuid.UUID `json:"connection_id"`
}

type session struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// close signals the pumps. Safe from any goroutine; the send channel is
// never closed so concurrent publishes cannot panic. The socket itself is
// closed by writePump, which first flushes queued frames and sends the
// close handshake.
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// Hub indexes sessions both ways so publish and disconnect are O(subs).
type Hub struct {
	mu          sync.RWMutex
	sessions    map[string]*session
	sessionSubs map[*session]map[uuid.UUID]struct{}
	connSubs    map[uuid.UUID]map[*session]struct{}

	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewHub creates the hub. metrics may be nil.
func NewHub(m *metrics.Metrics, logger *zap.Logger) *Hub {
	return &Hub{
		sessions:    make(map[string]*session),
		sessionSubs: make(map[*session]map[uuid.UUID]struct{}),
		connSubs:    make(map[uuid.UUID]map[*session]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The gateway enforces origin policy; internal services accept
			// forwarded upgrades as-is.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger.Named("realtime"),
		metrics: m,
	}
}

// ServeWS upgrades the request and runs the session pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	s := &session{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.sessions[s.id] = s
	h.sessionSubs[s] = make(map[uuid.UUID]struct{})
	count := len(h.sessions)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.StreamClients.Set(float64(count))
	}
	h.logger.Debug("session connected", zap.String("session_id", s.id))

	go h.writePump(s)
	h.readPump(s)
}

// Publish sends an event to every session subscribed to the connection.
func (h *Hub) Publish(topic string, connectionID uuid.UUID, payload any) {
	event := Event{
		Topic:        topic,
		ConnectionID: connectionID.String(),
		Payload:      payload,
		TS:           time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("failed to marshal event", zap.String("topic", topic), zap.Error(err))
		return
	}

	h.mu.RLock()
	subs := make([]*session, 0, len(h.connSubs[connectionID]))
	for s := range h.connSubs[connectionID] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, s := range subs {
		h.trySend(s, data)
	}
}

// Broadcast sends an event to every connected session regardless of
// subscriptions.
func (h *Hub) Broadcast(topic string, payload any) {
	event := Event{Topic: topic, Payload: payload, TS: time.Now().UTC()}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	all := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	h.mu.RUnlock()

	for _, s := range all {
		h.trySend(s, data)
	}
}

// Shutdown notifies and closes every session.
func (h *Hub) Shutdown() {
	h.Broadcast(TopicServerShutdown, map[string]string{"reason": "server stopping"})

	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		h.drop(s)
	}
}

// SessionCount returns the number of connected sessions.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// trySend queues data for a session; a full buffer drops the session.
func (h *Hub) trySend(s *session, data []byte) {
	select {
	case s.send <- data:
	case <-s.done:
	default:
		h.logger.Debug("dropping slow session", zap.String("session_id", s.id))
		h.drop(s)
	}
}

func (h *Hub) subscribe(s *session, connectionID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessionSubs[s]; !ok {
		return
	}
	h.sessionSubs[s][connectionID] = struct{}{}
	if h.connSubs[connectionID] == nil {
		h.connSubs[connectionID] = make(map[*session]struct{})
	}
	h.connSubs[connectionID][s] = struct{}{}
}

func (h *Hub) unsubscribe(s *session, connectionID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessionSubs[s], connectionID)
	if subs, ok := h.connSubs[connectionID]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(h.connSubs, connectionID)
		}
	}
}

// drop removes the session from both indexes and closes its socket.
func (h *Hub) drop(s *session) {
	h.mu.Lock()
	if _, ok := h.sessions[s.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s.id)
	for connectionID := range h.sessionSubs[s] {
		if subs, ok := h.connSubs[connectionID]; ok {
			delete(subs, s)
			if len(subs) == 0 {
				delete(h.connSubs, connectionID)
			}
		}
	}
	delete(h.sessionSubs, s)
	count := len(h.sessions)
	h.mu.Unlock()

	s.close()
	if h.metrics != nil {
		h.metrics.StreamClients.Set(float64(count))
	}
}

func (h *Hub) readPump(s *session) {
	defer h.drop(s)

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.ConnectionID == uuid.Nil {
			continue
		}
		switch msg.Action {
		case "subscribe":
			h.subscribe(s, msg.ConnectionID)
		case "unsubscribe":
			h.unsubscribe(s, msg.ConnectionID)
		}
	}
}

func (h *Hub) writePump(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			// Drain queued frames (the shutdown notice among them) before
			// the close handshake.
			for {
				select {
				case data := <-s.send:
					s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					s.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
