package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/canvas/go/internal/canvas/events"
	"github.com/mcdev12/canvas/go/internal/canvas/history"
	"github.com/mcdev12/canvas/go/internal/canvas/rooms"
	"github.com/mcdev12/canvas/go/internal/models"
)

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *Service) {
	t.Helper()
	service := NewService(cfg, rooms.NewRegistry(rooms.DefaultConfig()), nil)
	mux := http.NewServeMux()
	service.RegisterRoutes(mux)

	ctx, cancel := context.WithCancel(context.Background())
	go service.Start(ctx)

	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return server, service
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, name events.Name, payload interface{}) {
	t.Helper()
	frame, err := events.MustEnvelope(name, payload).Marshal()
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

// readUntil reads frames until one with the given name arrives.
func readUntil(t *testing.T, conn *websocket.Conn, name events.Name) events.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		env, err := events.Parse(frame)
		require.NoError(t, err)
		if env.Event == name {
			return env
		}
	}
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

func TestService_WebSocketRoundTrip(t *testing.T) {
	server, _ := newTestServer(t, DefaultConfig())

	alice := dial(t, server)
	bob := dial(t, server)

	write(t, alice, events.RoomJoin, events.JoinPayload{Room: "r1", Name: "alice"})
	joined := readUntil(t, alice, events.RoomJoined)
	var jp events.JoinedPayload
	require.NoError(t, joined.Decode(&jp))
	assert.Equal(t, "alice", jp.Self.Name)

	write(t, alice, events.StrokeEvent, events.StrokeEventPayload{
		Type:   events.StrokeStart,
		Stroke: &events.StrokeDraft{ID: "s1", Color: "#000000", Width: 2, Points: []models.Point{{X: 1, Y: 1}}},
	})
	readUntil(t, alice, events.StrokeApply)

	// bob joins afterwards and receives the stroke in his snapshot
	write(t, bob, events.RoomJoin, events.JoinPayload{Room: "r1", Name: "bob"})
	require.NoError(t, readUntil(t, bob, events.RoomJoined).Decode(&jp))
	require.Len(t, jp.Strokes, 1)
	assert.Equal(t, "s1", jp.Strokes[0].ID)
	assert.Equal(t, models.ToolBrush, jp.Strokes[0].Tool)
	assert.Len(t, jp.Users, 2)

	write(t, bob, events.CursorUpdate, models.Point{X: 7, Y: 8})
	var cursor events.CursorBroadcastPayload
	require.NoError(t, readUntil(t, alice, events.CursorUpdate).Decode(&cursor))
	assert.Equal(t, jp.Self.ID, cursor.UserID)

	// alice leaves; bob sees a roster without her
	require.NoError(t, alice.Close())
	for {
		var roster models.Roster
		require.NoError(t, readUntil(t, bob, events.UsersUpdate).Decode(&roster))
		if len(roster) == 1 {
			assert.Contains(t, roster, jp.Self.ID)
			break
		}
	}
}

func TestService_StateEndpoints(t *testing.T) {
	server, service := newTestServer(t, DefaultConfig())

	assert.Equal(t, http.StatusNotFound, getJSON(t, server.URL+"/api/rooms/nowhere/state", nil))
	// looking at a room must not create it
	assert.Zero(t, service.registry.Count())

	room := service.registry.Ensure("r1")
	service.registry.AddParticipant("r1", "c1", "alice")
	room.Sequence(func(h *history.History) {
		h.StartStroke(history.StartParams{ID: "s1", AuthorID: "c1"})
	})

	var state RoomStateResponse
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/rooms/r1/state", &state))
	assert.Equal(t, "r1", state.Room)
	assert.Contains(t, state.Users, "c1")
	require.Len(t, state.Strokes, 1)

	var list []rooms.RoomStats
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/rooms", &list))
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Participants)
	assert.Equal(t, 1, list[0].Strokes)

	var stats map[string]interface{}
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/ws/stats", &stats))
	assert.Contains(t, stats, "total_connections")
}

func TestService_ClientConfig(t *testing.T) {
	server, _ := newTestServer(t, DefaultConfig())

	var cfg ClientConfigResponse
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/config", &cfg))
	assert.Equal(t, "ws"+strings.TrimPrefix(server.URL, "http")+"/ws", cfg.WSURL)

	public := DefaultConfig()
	public.PublicWSURL = "wss://canvas.example.com/ws"
	server, _ = newTestServer(t, public)
	require.Equal(t, http.StatusOK, getJSON(t, server.URL+"/api/config", &cfg))
	assert.Equal(t, "wss://canvas.example.com/ws", cfg.WSURL)
}

func TestDeriveWSURL_BehindProxy(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://internal:3000/api/config", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "canvas.example.com")
	assert.Equal(t, "wss://canvas.example.com/ws", deriveWSURL(req))
}

func TestService_Metrics(t *testing.T) {
	server, _ := newTestServer(t, DefaultConfig())

	conn := dial(t, server)
	write(t, conn, events.RoomJoin, nil)
	readUntil(t, conn, events.RoomJoined)

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "canvas_gateway_room_joins_total 1")
	assert.Contains(t, string(body), "canvas_gateway_rooms 1")
	assert.Contains(t, string(body), "canvas_relay_queue_depth")
}
