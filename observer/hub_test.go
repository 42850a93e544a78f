package observer

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatline/syncserver/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T) (*Hub, *state.SessionManager, *state.RoomRegistry) {
	t.Helper()
	logger := testLogger()
	sessions := state.NewSessionManager(logger)
	rooms := state.NewRoomRegistry(logger)
	hub := NewHub(sessions, rooms, 20*time.Millisecond, logger)
	return hub, sessions, rooms
}

func dialHub(t *testing.T, hub *Hub) (*websocket.Conn, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn, srv
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_HandleWebSocket_SendsInitialSnapshot(t *testing.T) {
	hub, _, _ := newTestHub(t)
	conn, srv := dialHub(t, hub)
	defer srv.Close()
	defer conn.Close()

	first := readMessage(t, conn)
	assert.Equal(t, "serverStats", first.Type)

	second := readMessage(t, conn)
	assert.Equal(t, "roomList", second.Type)
}

func TestHub_Touch_CoalescesIntoSingleRoomListUpdate(t *testing.T) {
	hub, _, rooms := newTestHub(t)
	conn, srv := dialHub(t, hub)
	defer srv.Close()
	defer conn.Close()

	readMessage(t, conn) // initial serverStats
	readMessage(t, conn) // initial roomList

	_, err := rooms.Create("r1", 4, state.Member{UserID: 1, DisplayName: "host"}, nil)
	require.NoError(t, err)
	hub.Touch()
	hub.Touch() // second touch within the coalesce window should not double-emit

	stats := readMessage(t, conn)
	assert.Equal(t, "serverStats", stats.Type)
	list := readMessage(t, conn)
	assert.Equal(t, "roomList", list.Type)

	payload, err := json.Marshal(list.Payload)
	require.NoError(t, err)
	var decoded roomListPayload
	require.NoError(t, json.Unmarshal(payload, &decoded))
	require.Len(t, decoded.Rooms, 1)
	assert.Equal(t, "r1", decoded.Rooms[0].Name)

	// No further emission should follow from the coalesced second touch.
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = conn.ReadMessage()
	require.Error(t, err)
}

func TestHub_GetRoomDetails_RespondsWithSnapshot(t *testing.T) {
	hub, _, rooms := newTestHub(t)
	room, err := rooms.Create("r1", 4, state.Member{UserID: 1, DisplayName: "host"}, nil)
	require.NoError(t, err)

	conn, srv := dialHub(t, hub)
	defer srv.Close()
	defer conn.Close()

	readMessage(t, conn) // initial serverStats
	readMessage(t, conn) // initial roomList

	req := Message{Type: "getRoomDetails", Payload: getRoomDetailsRequest{RoomID: room.ID()}}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	details := readMessage(t, conn)
	assert.Equal(t, "roomDetails", details.Type)

	payload, err := json.Marshal(details.Payload)
	require.NoError(t, err)
	var decoded roomDetailsPayload
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, room.ID(), decoded.ID)
	assert.Equal(t, uint32(1), decoded.HostUserID)
}

func TestHub_CheckOrigin_AllowsConfiguredOrigin(t *testing.T) {
	hub, _, _ := newTestHub(t)
	hub.SetAllowedOrigins([]string{"https://admin.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	require.True(t, hub.checkOrigin(req))

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set("Origin", "https://evil.example.com")
	require.False(t, hub.checkOrigin(req2))
}

func TestHub_CheckOrigin_DefaultsToPrivateNetworkOnly(t *testing.T) {
	hub, _, _ := newTestHub(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	require.True(t, hub.checkOrigin(req))

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set("Origin", "https://public.example.com")
	require.False(t, hub.checkOrigin(req2))
}
