// Package service はセッション調整のビジネスロジックを担当します
// 入退室・シグナリング中継・画面共有・録画権・チャット履歴を扱います
package service

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/idgen"
	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/models"
	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/protocol"
)

// Emitter は接続にイベントを届けるトランスポート層です
// Coordinator のロック下で呼ばれるため、ブロックしてはいけません
type Emitter interface {
	Emit(connID, event string, payload any)
}

// Coordinator は接続・ルーム・録画権・チャット履歴をまとめて管理します
// 全ての操作を1つのロックで直列化し、イベントの全順序を保証します
type Coordinator struct {
	mu       sync.Mutex
	presence *Presence
	history  *ChatHistory
	recorder *RecordingArbiter
	emitter  Emitter
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option は Coordinator の設定を変更します
type Option func(*Coordinator)

// WithClock はメッセージのタイムスタンプに使う時計を差し替えます
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithMessageIDs はチャットメッセージのID生成器を差し替えます
func WithMessageIDs(newID func() string) Option {
	return func(c *Coordinator) { c.newID = newID }
}

// WithHistoryLimit はルームごとの履歴上限を変更します
func WithHistoryLimit(limit int) Option {
	return func(c *Coordinator) { c.history = NewChatHistory(limit) }
}

// NewCoordinator は新しいCoordinatorを作成します
func NewCoordinator(emitter Emitter, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		presence: NewPresence(),
		history:  NewChatHistory(MaxHistory),
		recorder: NewRecordingArbiter(),
		emitter:  emitter,
		logger:   logger,
		now:      time.Now,
		newID:    idgen.NewMessageID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect は新しい接続を登録し、本人に接続IDを通知します
func (c *Coordinator) Connect(connID string) error {
	if blank(connID) {
		return fmt.Errorf("%w: connection id required", ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.presence.Add(connID)
	c.emitter.Emit(connID, protocol.EventMe, connID)
	c.logger.Info("connection registered", "userId", connID)
	return nil
}

// Disconnect は切断時の後片付けを行います
// 処理の流れ:
// 1. ルームの他の参加者に退出を通知
// 2. ルームが空になったらチャット履歴を削除
// 3. 画面共有状態をクリア
// 4. 録画権を持っていたルームで解放し、録画停止を通知
func (c *Coordinator) Disconnect(connID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.presence.Exists(connID) {
		return
	}
	c.leaveLocked(connID)
	c.presence.SetSharing(connID, false)
	for _, roomID := range c.recorder.ReleaseAll(connID) {
		c.toRoom(roomID, "", protocol.EventRecordStopped, models.RecordStatus{UserID: connID})
		c.logger.Info("recording released on disconnect", "roomId", roomID, "userId", connID)
	}
	c.presence.Remove(connID)
	c.logger.Info("connection closed", "userId", connID, "reason", reason)
}

// JoinRoom は接続をルームに入室させます
// 参加者一覧（自分を除く）は本人だけに、入室通知は他の参加者に送ります
func (c *Coordinator) JoinRoom(connID, roomID, name string) (models.Roster, error) {
	if blank(roomID) {
		return models.Roster{}, fmt.Errorf("%w: roomId required", ErrInvalidArgument)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = models.DefaultUserName
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.presence.Exists(connID) {
		return models.Roster{}, ErrConnectionNotFound
	}
	if current := c.presence.RoomOf(connID); current != "" && current != roomID {
		c.leaveLocked(connID)
	}
	if err := c.presence.Join(connID, roomID, name); err != nil {
		return models.Roster{}, err
	}

	roster := c.presence.Roster(roomID, connID)
	c.emitter.Emit(connID, protocol.EventAllUsers, roster)
	c.toRoom(roomID, connID, protocol.EventUserJoined, models.User{ID: connID, Name: name})

	c.logger.Info("user joined room", "roomId", roomID, "userId", connID, "name", name)
	return roster, nil
}

// LeaveRoom は接続をルームから退出させます。未入室の場合は何もしません
func (c *Coordinator) LeaveRoom(connID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaveLocked(connID)
}

// leaveLocked は退出処理の本体です。c.mu を保持した状態で呼んでください
// 画面共有状態と録画権は切断するまで残ります
func (c *Coordinator) leaveLocked(connID string) {
	roomID, empty, left := c.presence.Leave(connID)
	if !left {
		return
	}
	c.toRoom(roomID, "", protocol.EventUserLeft, connID)
	if empty {
		c.history.Delete(roomID)
		c.logger.Debug("room emptied, history deleted", "roomId", roomID)
	}
	c.logger.Info("user left room", "roomId", roomID, "userId", connID)
}

// Signal はネゴシエーションデータを相手の接続にそのまま転送します
// 相手がいない場合は ErrConnectionNotFound を返しますが、送信者には何も通知しません
func (c *Coordinator) Signal(connID, targetID string, payload json.RawMessage) error {
	if blank(targetID) {
		return fmt.Errorf("%w: targetId required", ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.presence.Exists(targetID) {
		return ErrConnectionNotFound
	}
	c.emitter.Emit(targetID, protocol.EventSignal, models.SignalPayload{From: connID, Signal: payload})
	return nil
}

// RequestScreenTrack は相手に画面共有トラックの再送を依頼します
func (c *Coordinator) RequestScreenTrack(connID, targetID string) error {
	if blank(targetID) {
		return fmt.Errorf("%w: targetId required", ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.presence.Exists(targetID) {
		return ErrConnectionNotFound
	}
	c.emitter.Emit(targetID, protocol.EventRequestScreenTrack, models.TrackRequest{RequesterID: connID})
	return nil
}

// SetSharing は画面共有状態を更新し、本人を含むルーム全員に通知します
func (c *Coordinator) SetSharing(connID, roomID string, isSharing bool) error {
	if blank(roomID) {
		return fmt.Errorf("%w: roomId required", ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.presence.Exists(connID) {
		return ErrConnectionNotFound
	}
	c.presence.SetSharing(connID, isSharing)
	c.toRoom(roomID, "", protocol.EventPeerScreenShareStatus, models.ShareStatus{UserID: connID, IsSharing: isSharing})
	c.logger.Debug("screen share status changed", "roomId", roomID, "userId", connID, "isSharing", isSharing)
	return nil
}

// PostMessage はチャットメッセージを履歴に追加し、送信者を含むルーム全員に配信します
func (c *Coordinator) PostMessage(connID, roomID, sender, message string) (models.ChatMessage, error) {
	if blank(roomID) {
		return models.ChatMessage{}, fmt.Errorf("%w: roomId required", ErrInvalidArgument)
	}
	if message == "" {
		return models.ChatMessage{}, fmt.Errorf("%w: message required", ErrInvalidArgument)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if strings.TrimSpace(sender) == "" {
		sender = c.presence.Name(connID)
	}
	msg := models.ChatMessage{
		ID:        c.newID(),
		Sender:    sender,
		Message:   message,
		Timestamp: c.now().UTC(),
		UserID:    connID,
	}
	c.history.Append(roomID, msg)
	c.toRoom(roomID, "", protocol.EventChatMessage, msg)
	return msg, nil
}

// FetchHistory はルームのチャット履歴を要求した接続だけに返します
func (c *Coordinator) FetchHistory(connID, roomID string) ([]models.ChatMessage, error) {
	if blank(roomID) {
		return nil, fmt.Errorf("%w: roomId required", ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.history.Get(roomID)
	c.emitter.Emit(connID, protocol.EventChatHistory, msgs)
	return msgs, nil
}

// StartRecording は録画権を取得します
// 既に誰かが録画中の場合は失敗を返し、状態は変えません
func (c *Coordinator) StartRecording(connID, roomID string) models.RecordResult {
	if blank(roomID) {
		return models.RecordResult{Success: false, Message: "roomId is required"}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.presence.RoomOf(connID) != roomID {
		return models.RecordResult{Success: false, Message: "You are not in this room"}
	}
	if err := c.recorder.Acquire(roomID, connID); err != nil {
		owner, _ := c.recorder.Owner(roomID)
		c.logger.Info("recording rejected", "roomId", roomID, "userId", connID, "recorderId", owner, "error", err)
		return models.RecordResult{Success: false, Message: msgAlreadyRecording}
	}
	c.toRoom(roomID, "", protocol.EventRecordStarted, models.RecordStatus{UserID: connID})
	c.logger.Info("recording started", "roomId", roomID, "userId", connID)
	return models.RecordResult{Success: true}
}

// StopRecording は録画権を解放します。録画中の本人以外からの要求は無視します
func (c *Coordinator) StopRecording(connID, roomID string) error {
	if blank(roomID) {
		return fmt.Errorf("%w: roomId required", ErrInvalidArgument)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.recorder.Release(roomID, connID); err != nil {
		return err
	}
	c.toRoom(roomID, "", protocol.EventRecordStopped, models.RecordStatus{UserID: connID})
	c.logger.Info("recording stopped", "roomId", roomID, "userId", connID)
	return nil
}

// RoomInfo はルームの現在の状態を返します
func (c *Coordinator) RoomInfo(roomID string) (models.RoomInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	members := c.presence.Members(roomID)
	recorder, recording := c.recorder.Owner(roomID)
	if len(members) == 0 && !recording && !c.history.Exists(roomID) {
		return models.RoomInfo{}, false
	}

	roster := c.presence.Roster(roomID, "")
	return models.RoomInfo{
		RoomID:       roomID,
		Users:        roster.UsersInRoom,
		UsersSharing: roster.UsersSharing,
		RecorderID:   recorder,
		HistoryCount: c.history.Len(roomID),
	}, true
}

// ConnectionCount は現在の接続数を返します
func (c *Coordinator) ConnectionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence.ConnectionCount()
}

// RoomCount は参加者のいるルーム数を返します
func (c *Coordinator) RoomCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence.RoomCount()
}

// toRoom はルームの参加者全員（exclude を除く）にイベントを送ります
func (c *Coordinator) toRoom(roomID, exclude, event string, payload any) {
	for _, id := range c.presence.Members(roomID) {
		if id == exclude {
			continue
		}
		c.emitter.Emit(id, event, payload)
	}
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
