package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/config"
	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/idgen"
	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/protocol"
	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/service"
	"github.com/gorilla/websocket"
)

var errHubClosed = errors.New("hub is shutting down")

// Hub は接続IDとWebSocket接続の対応を管理します
// service.Emitter を実装し、Coordinator からのイベントを各接続の送信キューに積みます
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client // 接続IDをキーとしたクライアントのマップ
	closed     bool               // シャットダウン中は新しい接続を受け付けない
	active     sync.WaitGroup     // 後片付けが終わっていない接続
	sendBuffer int
	logger     *slog.Logger
}

// Client は1つのWebSocket接続を表します
// 書き込みは writePump だけが行い、他のgoroutineは send キューに積むだけです
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	done        chan struct{}
	once        sync.Once
	closeCode   int
	closeReason string
}

// NewHub は新しいHubを作成します
func NewHub(sendBuffer int, logger *slog.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		sendBuffer: sendBuffer,
		logger:     logger,
	}
}

// Emit はイベントをエンコードして接続の送信キューに積みます
// 接続が存在しない場合は何もしません
func (h *Hub) Emit(connID, event string, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		h.logger.Error("failed to encode event", "event", event, "userId", connID, "error", err)
		return
	}
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	c.enqueue(data)
}

// Count は登録中の接続数を返します
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseAll は新しい接続の受け付けを止め、全ての接続を閉じます
// 各接続の切断処理が終わるか ctx が終了するまで待ちます
func (h *Hub) CloseAll(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		h.logger.Info("all websocket connections closed", "count", len(clients))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for websocket connections: %w", ctx.Err())
	}
}

func (h *Hub) register(id string, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, errHubClosed
	}
	c := &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, h.sendBuffer),
		hub:  h,
		done: make(chan struct{}),
	}
	h.clients[id] = c
	h.active.Add(1)
	return c, nil
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
		h.active.Done()
	}
}

// enqueue はフレームを送信キューに積みます
// キューが一杯の場合は遅い接続として切断します（ブロックしない）
func (c *Client) enqueue(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	default:
		c.hub.logger.Warn("send buffer full, closing slow connection", "userId", c.id)
		c.close(websocket.ClosePolicyViolation, "send buffer overflow")
	}
}

func (c *Client) sendEvent(event string, payload any) {
	data, err := protocol.Encode(event, payload)
	if err != nil {
		c.hub.logger.Error("failed to encode event", "event", event, "userId", c.id, "error", err)
		return
	}
	c.enqueue(data)
}

func (c *Client) sendAck(ack int64, payload any) {
	data, err := protocol.EncodeAck(ack, payload)
	if err != nil {
		c.hub.logger.Error("failed to encode ack", "userId", c.id, "error", err)
		return
	}
	c.enqueue(data)
}

// close は writePump に終了を伝えます。最初の呼び出しだけが有効で、その場合 true を返します
func (c *Client) close(code int, reason string) bool {
	closed := false
	c.once.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
		closed = true
	})
	return closed
}

// writePump は送信キューの内容を書き込み、定期的に ping を送ります
func (c *Client) writePump(cfg config.WebSocket) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close(websocket.CloseAbnormalClosure, "write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteWait)); err != nil {
				c.close(websocket.CloseAbnormalClosure, "ping error")
				return
			}
		case <-c.done:
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(cfg.WriteWait))
			return
		}
	}
}

// WebSocketHandler はWebSocket接続を処理するハンドラー
type WebSocketHandler struct {
	svc      *service.Coordinator // セッション調整のビジネスロジック
	hub      *Hub                 // WebSocket接続を管理するハブ
	cfg      config.WebSocket
	upgrader websocket.Upgrader // HTTPからWebSocketへのアップグレーダー
	logger   *slog.Logger
}

// NewWebSocketHandler は新しいWebSocketHandlerを作成します
func NewWebSocketHandler(s *service.Coordinator, hub *Hub, cfg config.Config, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := cfg.AllowedOrigins
	return &WebSocketHandler{
		svc:    s,
		hub:    hub,
		cfg:    cfg.WebSocket,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(r.Header.Get("Origin"), allowed)
			},
		},
	}
}

// HandleWebSocket はWebSocket接続を処理します
// 接続後、以下の処理を行います:
// 1. HTTPからWebSocketへのアップグレード
// 2. 接続IDを割り当ててクライアントを登録し、本人にIDを通知
// 3. メッセージ受信ループの開始
// 4. 切断時の後片付け（退出通知・履歴削除・録画権の解放）
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade error", "error", err)
		return
	}

	id := idgen.NewConnectionID()
	client, err := h.hub.register(id, conn)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server shutting down")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteWait))
		_ = conn.Close()
		return
	}
	go client.writePump(h.cfg)

	if err := h.svc.Connect(id); err != nil {
		h.logger.Error("failed to register connection", "userId", id, "error", err)
		client.close(websocket.CloseInternalServerErr, "internal error")
		h.hub.unregister(client)
		return
	}
	h.logger.Info("websocket connected", "userId", id, "remoteAddr", r.RemoteAddr)

	readErr := h.readLoop(client)

	reason := disconnectReason(readErr)
	if !client.close(websocket.CloseNormalClosure, "") {
		// サーバー側から閉じた場合はその理由を使う
		reason = client.closeReason
	}
	h.svc.Disconnect(id, reason)
	h.hub.unregister(client)
}

// readLoop は切断されるまでフレームを読み、イベントごとに処理を振り分けます
func (h *WebSocketHandler) readLoop(c *Client) error {
	c.conn.SetReadLimit(h.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", "userId", c.id, "error", err)
			}
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		if msgType != websocket.TextMessage {
			h.logger.Debug("ignoring non-text frame", "userId", c.id)
			continue
		}

		cmd, err := protocol.Decode(data)
		if err != nil {
			h.logger.Debug("invalid event ignored", "userId", c.id, "error", err)
			// 応答を待っているクライアントには失敗を返す
			if start, ok := cmd.(protocol.RequestStartRecord); ok && start.Ack != nil {
				c.sendAck(*start.Ack, h.svc.StartRecording(c.id, ""))
			}
			continue
		}
		h.dispatch(c, cmd)
	}
}

// dispatch はイベントをサービス層に渡します
// 検証エラーや相手が見つからない場合は送信者に何も返さず無視します
func (h *WebSocketHandler) dispatch(c *Client, cmd protocol.Command) {
	var err error
	switch cmd := cmd.(type) {
	case protocol.JoinRoom:
		_, err = h.svc.JoinRoom(c.id, cmd.RoomID, cmd.Name)
	case protocol.LeaveRoom:
		h.svc.LeaveRoom(c.id)
	case protocol.ChatMessage:
		_, err = h.svc.PostMessage(c.id, cmd.RoomID, cmd.Sender, cmd.Message)
	case protocol.RequestChatHistory:
		_, err = h.svc.FetchHistory(c.id, cmd.RoomID)
	case protocol.Signal:
		err = h.svc.Signal(c.id, cmd.TargetID, cmd.Signal)
	case protocol.RequestScreenTrack:
		err = h.svc.RequestScreenTrack(c.id, cmd.TargetID)
	case protocol.ScreenShareStatus:
		err = h.svc.SetSharing(c.id, cmd.RoomID, cmd.IsSharing)
	case protocol.RequestStartRecord:
		result := h.svc.StartRecording(c.id, cmd.RoomID)
		if cmd.Ack != nil {
			c.sendAck(*cmd.Ack, result)
		}
	case protocol.RequestStopRecord:
		err = h.svc.StopRecording(c.id, cmd.RoomID)
	case protocol.Ping:
		// ping/pongで接続を維持
		c.sendEvent(protocol.EventPong, nil)
	default:
		err = fmt.Errorf("%w: %s", protocol.ErrUnknownEvent, cmd.EventName())
	}
	if err != nil {
		h.logger.Debug("event ignored", "event", cmd.EventName(), "userId", c.id, "error", err)
	}
}

// disconnectReason は読み込みエラーから切断理由を作ります
func disconnectReason(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Text != "" {
			return closeErr.Text
		}
		switch closeErr.Code {
		case websocket.CloseNormalClosure, websocket.CloseGoingAway:
			return "client disconnect"
		default:
			return fmt.Sprintf("close %d", closeErr.Code)
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ping timeout"
	}
	if errors.Is(err, websocket.ErrReadLimit) {
		return "message too large"
	}
	return "transport error"
}
