package service

import "github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/models"

// MaxHistory はルームごとに保持するチャット履歴の上限です
const MaxHistory = 100

// ChatHistory はルームごとのチャット履歴を保持します
// 上限を超えた場合は古いものから捨てます（FIFO）
// ロックは持たないので、Coordinator のロック下で使ってください
type ChatHistory struct {
	limit int
	rooms map[string][]models.ChatMessage
}

// NewChatHistory は新しいChatHistoryを作成します
// limitが0以下の場合はMaxHistoryを使います
func NewChatHistory(limit int) *ChatHistory {
	if limit <= 0 {
		limit = MaxHistory
	}
	return &ChatHistory{
		limit: limit,
		rooms: make(map[string][]models.ChatMessage),
	}
}

// Append はメッセージを追加し、上限を超えた分を先頭から削除します
func (h *ChatHistory) Append(roomID string, msg models.ChatMessage) {
	msgs := append(h.rooms[roomID], msg)
	if over := len(msgs) - h.limit; over > 0 {
		// 古い配列を参照し続けないようにコピーし直す
		trimmed := make([]models.ChatMessage, h.limit)
		copy(trimmed, msgs[over:])
		msgs = trimmed
	}
	h.rooms[roomID] = msgs
}

// Get は履歴のコピーを返します。履歴がない場合は空のスライスを返します
func (h *ChatHistory) Get(roomID string) []models.ChatMessage {
	msgs := h.rooms[roomID]
	out := make([]models.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Len は履歴の件数を返します
func (h *ChatHistory) Len(roomID string) int {
	return len(h.rooms[roomID])
}

// Exists は履歴バッファが存在するかを返します
func (h *ChatHistory) Exists(roomID string) bool {
	_, ok := h.rooms[roomID]
	return ok
}

// Delete はルームの履歴をまるごと削除します
func (h *ChatHistory) Delete(roomID string) {
	delete(h.rooms, roomID)
}
