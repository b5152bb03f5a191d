// Package idgen は接続IDとメッセージIDを生成します
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID は時刻順に並ぶ一意なIDを返します
func NewULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), entropy).String()
}

// NewConnectionID はWebSocket接続に割り当てるIDを返します
func NewConnectionID() string {
	return NewULID()
}

// NewMessageID はチャットメッセージのIDを返します
func NewMessageID() string {
	return uuid.NewString()
}
