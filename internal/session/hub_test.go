package session

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub, sessionID string, snapshot func() Event) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeWS(w, r, sessionID, snapshot)
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.Subscribers(sessionID) > 0 }, time.Second, time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHubSendsSnapshotThenEvents(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()
	snapshot := func() Event { return Event{Type: EventSnapshot, SessionID: "s-1", State: StateInProgress} }

	conn := dialHub(t, hub, "s-1", snapshot)

	first := readEvent(t, conn)
	assert.Equal(t, EventSnapshot, first.Type)

	remaining := 42
	hub.Publish("s-1", Event{Type: EventTick, SessionID: "s-1", Remaining: &remaining})
	hub.Publish("s-2", Event{Type: EventTick, SessionID: "s-2"})
	hub.Publish("s-1", Event{Type: EventExpired, SessionID: "s-1", State: StateExpired})

	tick := readEvent(t, conn)
	assert.Equal(t, EventTick, tick.Type)
	require.NotNil(t, tick.Remaining)
	assert.Equal(t, 42, *tick.Remaining)

	expired := readEvent(t, conn)
	assert.Equal(t, EventExpired, expired.Type)
	assert.Equal(t, "s-1", expired.SessionID)
}

func TestHubSyncRequestResendsSnapshot(t *testing.T) {
	hub := NewHub()
	defer hub.Stop()
	snapshot := func() Event { return Event{Type: EventSnapshot, SessionID: "s-1"} }

	conn := dialHub(t, hub, "s-1", snapshot)
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "sync"}))
	ev := readEvent(t, conn)
	assert.Equal(t, EventSnapshot, ev.Type)
}

func TestHubCloseSessionDisconnects(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub, "s-1", nil)

	hub.CloseSession("s-1")
	assert.Equal(t, 0, hub.Subscribers("s-1"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
