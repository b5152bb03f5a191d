package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/config"
	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/models"
	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/protocol"
	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv   *httptest.Server
	hub   *Hub
	coord *service.Coordinator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Config{
		AllowedOrigins: []string{"http://allowed.example"},
		WebSocket: config.WebSocket{
			SendBuffer:      32,
			MaxMessageBytes: 4096,
			PingInterval:    time.Minute,
			PongWait:        time.Minute,
			WriteWait:       time.Second,
		},
	}
	hub := NewHub(cfg.WebSocket.SendBuffer, logger)
	coord := service.NewCoordinator(hub, logger)

	r := chi.NewRouter()
	r.Get("/", NewStatusHandler(coord, "test").Root)
	r.Get("/health", NewStatusHandler(coord, "test").Health)
	r.Get("/api/v1/rooms/{roomId}", NewRoomHandler(coord).Get)
	r.Get("/ws", NewWebSocketHandler(coord, hub, cfg, logger).HandleWebSocket)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, hub: hub, coord: coord}
}

func (e *testEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Ack   *int64          `json:"ack"`
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

// dial は接続して me イベントで割り当てられたIDを受け取ります
func (e *testEnv) dial(t *testing.T) *testClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.wsURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	c := &testClient{t: t, conn: conn}
	me := c.expect(protocol.EventMe)
	require.NoError(t, json.Unmarshal(me.Data, &c.id))
	require.NotEmpty(t, c.id)
	return c
}

func (c *testClient) send(event string, data any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

func (c *testClient) sendWithAck(event string, data any, ack int64) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"event": event, "data": data, "ack": ack}))
}

func (c *testClient) read() frame {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(c.t, c.conn.ReadJSON(&f))
	return f
}

// expect は次のフレームが event であることを確認します
func (c *testClient) expect(event string) frame {
	c.t.Helper()
	f := c.read()
	require.Equal(c.t, event, f.Event, "unexpected frame: %s", string(f.Data))
	return f
}

func (c *testClient) closeNormally() {
	c.t.Helper()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = c.conn.Close()
}

func decode[T any](t *testing.T, f frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func joinRoom(t *testing.T, c *testClient, roomID, name string) models.Roster {
	t.Helper()
	c.send(protocol.EventJoinRoom, map[string]string{"roomId": roomID, "name": name})
	return decode[models.Roster](t, c.expect(protocol.EventAllUsers))
}

func TestWebSocket_JoinChatAndLeave(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t)
	bob := env.dial(t)

	roster := joinRoom(t, alice, "room-1", "Alice")
	assert.Empty(t, roster.UsersInRoom)

	roster = joinRoom(t, bob, "room-1", "Bob")
	assert.Equal(t, []models.User{{ID: alice.id, Name: "Alice"}}, roster.UsersInRoom)
	joined := decode[models.User](t, alice.expect(protocol.EventUserJoined))
	assert.Equal(t, models.User{ID: bob.id, Name: "Bob"}, joined)

	alice.send(protocol.EventChatMessage, map[string]string{"roomId": "room-1", "sender": "Alice", "message": "hello"})
	for _, c := range []*testClient{alice, bob} {
		m := decode[models.ChatMessage](t, c.expect(protocol.EventChatMessage))
		assert.Equal(t, "hello", m.Message)
		assert.Equal(t, alice.id, m.UserID)
		assert.NotEmpty(t, m.ID)
	}

	bob.send(protocol.EventRequestChatHistory, "room-1")
	history := decode[[]models.ChatMessage](t, bob.expect(protocol.EventChatHistory))
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Message)

	bob.closeNormally()
	left := decode[string](t, alice.expect(protocol.EventUserLeft))
	assert.Equal(t, bob.id, left)
}

func TestWebSocket_SignalRelay(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t)
	bob := env.dial(t)

	alice.send(protocol.EventSignal, map[string]any{
		"targetId": bob.id,
		"signal":   map[string]string{"type": "offer", "sdp": "v=0"},
	})
	got := decode[models.SignalPayload](t, bob.expect(protocol.EventSignal))
	assert.Equal(t, alice.id, got.From)
	assert.JSONEq(t, `{"type":"offer","sdp":"v=0"}`, string(got.Signal))

	bob.send(protocol.EventRequestScreenTrack, map[string]string{"targetId": alice.id})
	req := decode[models.TrackRequest](t, alice.expect(protocol.EventRequestScreenTrack))
	assert.Equal(t, bob.id, req.RequesterID)
}

func TestWebSocket_RecordingAckAndRelease(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t)
	bob := env.dial(t)
	joinRoom(t, alice, "room-1", "Alice")
	joinRoom(t, bob, "room-1", "Bob")
	alice.expect(protocol.EventUserJoined)

	alice.sendWithAck(protocol.EventRequestStartRecord, "room-1", 1)
	assert.Equal(t, models.RecordStatus{UserID: alice.id}, decode[models.RecordStatus](t, alice.expect(protocol.EventRecordStarted)))
	ack := alice.expect(protocol.EventAck)
	require.NotNil(t, ack.Ack)
	assert.Equal(t, int64(1), *ack.Ack)
	assert.Equal(t, models.RecordResult{Success: true}, decode[models.RecordResult](t, ack))
	bob.expect(protocol.EventRecordStarted)

	bob.sendWithAck(protocol.EventRequestStartRecord, map[string]string{"roomId": "room-1"}, 2)
	ack = bob.expect(protocol.EventAck)
	require.NotNil(t, ack.Ack)
	assert.Equal(t, int64(2), *ack.Ack)
	assert.Equal(t, models.RecordResult{
		Success: false,
		Message: "Someone is already recording in this room",
	}, decode[models.RecordResult](t, ack))

	alice.closeNormally()
	assert.Equal(t, alice.id, decode[string](t, bob.expect(protocol.EventUserLeft)))
	assert.Equal(t, models.RecordStatus{UserID: alice.id}, decode[models.RecordStatus](t, bob.expect(protocol.EventRecordStopped)))
}

func TestWebSocket_InvalidFramesAreIgnored(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t)

	require.NoError(t, alice.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, alice.conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
	alice.send("teleport", nil)
	alice.send(protocol.EventJoinRoom, map[string]string{"name": "no room"})
	alice.send(protocol.EventSignal, map[string]any{"targetId": "ghost", "signal": map[string]string{}})
	alice.send(protocol.EventRequestStopRecord, "room-1")

	// 無効なリクエストでも ack は返す
	alice.sendWithAck(protocol.EventRequestStartRecord, "", 5)
	ack := alice.expect(protocol.EventAck)
	require.NotNil(t, ack.Ack)
	assert.Equal(t, int64(5), *ack.Ack)
	assert.Equal(t, models.RecordResult{Message: "roomId is required"}, decode[models.RecordResult](t, ack))

	// 接続はまだ生きている
	alice.send(protocol.EventPing, nil)
	alice.expect(protocol.EventPong)
	assert.Equal(t, 0, env.coord.RoomCount())
}

func TestWebSocket_OriginCheck(t *testing.T) {
	env := newTestEnv(t)

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"http://allowed.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(), header)
	require.NoError(t, err)
	_ = conn.Close()
}

func TestHub_CloseAll(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t)
	joinRoom(t, alice, "room-1", "Alice")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, env.hub.CloseAll(ctx))

	require.NoError(t, alice.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := alice.conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, 0, env.coord.ConnectionCount())
	assert.Equal(t, 0, env.coord.RoomCount())
	assert.Equal(t, 0, env.hub.Count())

	// シャットダウン後の接続はすぐに閉じられる
	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
}

func TestHub_SlowConsumerIsClosed(t *testing.T) {
	hub := NewHub(1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c, err := hub.register("slow", nil)
	require.NoError(t, err)

	hub.Emit("slow", protocol.EventPong, nil)
	select {
	case <-c.done:
		t.Fatal("closed before the buffer was full")
	default:
	}

	hub.Emit("slow", protocol.EventPong, nil)
	select {
	case <-c.done:
	default:
		t.Fatal("expected slow consumer to be closed")
	}
	assert.Equal(t, websocket.ClosePolicyViolation, c.closeCode)
	assert.Len(t, c.send, 1)

	// 閉じた後の送信は捨てられる
	hub.Emit("slow", protocol.EventPong, nil)
	assert.Len(t, c.send, 1)

	// 未登録の接続への送信は何もしない
	hub.Emit("missing", protocol.EventPong, nil)

	hub.unregister(c)
	assert.Equal(t, 0, hub.Count())
}

func TestDisconnectReason(t *testing.T) {
	assert.Equal(t, "bye", disconnectReason(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "bye"}))
	assert.Equal(t, "client disconnect", disconnectReason(&websocket.CloseError{Code: websocket.CloseGoingAway}))
	assert.Equal(t, "close 1006", disconnectReason(&websocket.CloseError{Code: websocket.CloseAbnormalClosure}))
	assert.Equal(t, "message too large", disconnectReason(websocket.ErrReadLimit))
	assert.Equal(t, "transport error", disconnectReason(errors.New("boom")))
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"http://localhost:3000"}

	assert.True(t, originAllowed("", allowed))
	assert.True(t, originAllowed("http://localhost:3000", allowed))
	assert.False(t, originAllowed("http://localhost:4000", allowed))
	assert.True(t, originAllowed("http://anything.example", []string{"*"}))
	assert.False(t, originAllowed("http://localhost:3000", nil))
}
