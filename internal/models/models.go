// Package models はアプリケーションで使用するデータ構造を定義します
package models

import (
	"encoding/json"
	"time"
)

// DefaultUserName は表示名が未設定のユーザーに使う名前です
const DefaultUserName = "Anonymous"

// User はルームに参加するユーザーの情報を表します
type User struct {
	ID   string `json:"id"`   // 接続ID
	Name string `json:"name"` // 表示名
}

// Roster は入室したユーザーだけに返すルームのスナップショット
type Roster struct {
	UsersInRoom  []User   `json:"usersInRoom"`  // 自分以外の参加者
	UsersSharing []string `json:"usersSharing"` // 画面共有中の参加者ID
}

// ChatMessage はチャットメッセージを表します（一度作ったら変更しない）
type ChatMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`    // 送信者の表示名
	Message   string    `json:"message"`   // 本文
	Timestamp time.Time `json:"timestamp"` // 受信時刻
	UserID    string    `json:"userId"`    // 送信元の接続ID
}

// RecordResult は録画開始リクエストへの応答です
type RecordResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SignalPayload は相手に転送するネゴシエーションデータ
type SignalPayload struct {
	From   string          `json:"from"`
	Signal json.RawMessage `json:"signal"`
}

// TrackRequest は画面共有トラックの再送依頼
type TrackRequest struct {
	RequesterID string `json:"requesterId"`
}

// ShareStatus は画面共有状態の通知
type ShareStatus struct {
	UserID    string `json:"userId"`
	IsSharing bool   `json:"isSharing"`
}

// RecordStatus は録画開始・停止の通知
type RecordStatus struct {
	UserID string `json:"userId"`
}

// RoomInfo はHTTPから参照するルームの状態
type RoomInfo struct {
	RoomID       string   `json:"roomId"`
	Users        []User   `json:"users"`
	UsersSharing []string `json:"usersSharing"`
	RecorderID   string   `json:"recorderId,omitempty"`
	HistoryCount int      `json:"historyCount"`
}
