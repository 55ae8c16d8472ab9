package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn, h *Hub, id uuid.UUID) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":        "subscribe",
		"connection_id": id.String(),
	}))
	// The subscription is applied by the read pump; wait for it to land.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		_, ok := h.connSubs[id]
		h.mu.RUnlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("subscription never registered")
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var event Event
	require.NoError(t, json.Unmarshal(data, &event))
	return event
}

func TestHub_PublishReachesSubscriber(t *testing.T) {
	h := NewHub(nil, zap.NewNop())
	conn := dialHub(t, h)
	id := uuid.New()
	subscribe(t, conn, h, id)

	h.Publish("schema:change", id, map[string]string{"identifier": "public.orders"})

	event := readEvent(t, conn)
	assert.Equal(t, "schema:change", event.Topic)
	assert.Equal(t, id.String(), event.ConnectionID)
	assert.False(t, event.TS.IsZero())

	payload, ok := event.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "public.orders", payload["identifier"])
}

func TestHub_PublishSkipsOtherConnections(t *testing.T) {
	h := NewHub(nil, zap.NewNop())
	conn := dialHub(t, h)
	subscribed := uuid.New()
	subscribe(t, conn, h, subscribed)

	h.Publish("schema:change", uuid.New(), nil)
	h.Publish("schema:change", subscribed, nil)

	// Only the subscribed connection's event arrives.
	event := readEvent(t, conn)
	assert.Equal(t, subscribed.String(), event.ConnectionID)
}

func TestHub_Unsubscribe(t *testing.T) {
	h := NewHub(nil, zap.NewNop())
	conn := dialHub(t, h)
	id := uuid.New()
	subscribe(t, conn, h, id)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":        "unsubscribe",
		"connection_id": id.String(),
	}))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.RLock()
		_, ok := h.connSubs[id]
		h.mu.RUnlock()
		if !ok {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Publish("schema:change", id, nil)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "no event should arrive after unsubscribe")
}

func TestHub_BroadcastReachesEveryone(t *testing.T) {
	h := NewHub(nil, zap.NewNop())
	a := dialHub(t, h)
	b := dialHub(t, h)

	deadline := time.Now().Add(2 * time.Second)
	for h.SessionCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 2, h.SessionCount())

	h.Broadcast("server:notice", map[string]string{"msg": "maintenance"})

	for _, conn := range []*websocket.Conn{a, b} {
		event := readEvent(t, conn)
		assert.Equal(t, "server:notice", event.Topic)
		assert.Empty(t, event.ConnectionID)
	}
}

func TestHub_ShutdownClosesSessions(t *testing.T) {
	h := NewHub(nil, zap.NewNop())
	conn := dialHub(t, h)

	deadline := time.Now().Add(2 * time.Second)
	for h.SessionCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	h.Shutdown()
	assert.Equal(t, 0, h.SessionCount())

	// The client observes the shutdown broadcast and then a closed socket.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	sawShutdown := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var event Event
		if json.Unmarshal(data, &event) == nil && event.Topic == TopicServerShutdown {
			sawShutdown = true
		}
	}
	assert.True(t, sawShutdown, "shutdown broadcast should precede the close")
}

func TestHub_MalformedClientMessagesIgnored(t *testing.T) {
	h := NewHub(nil, zap.NewNop())
	conn := dialHub(t, h)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(map[string]any{"action": "subscribe"}))

	// The session survives garbage input.
	id := uuid.New()
	subscribe(t, conn, h, id)
	h.Publish("schema:change", id, nil)
	event := readEvent(t, conn)
	assert.Equal(t, id.String(), event.ConnectionID)
}
