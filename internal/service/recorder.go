package service

import "sort"

// RecordingArbiter はルームごとに録画できる接続を1つに制限します
// ロックは持たないので、Coordinator のロック下で使ってください
type RecordingArbiter struct {
	owners map[string]string // ルームID -> 録画中の接続ID
}

func NewRecordingArbiter() *RecordingArbiter {
	return &RecordingArbiter{owners: make(map[string]string)}
}

// Acquire は録画権を取得します
// 既に誰かが録画中の場合は ErrAlreadyRecording を返し、状態は変えません
func (a *RecordingArbiter) Acquire(roomID, connID string) error {
	if _, busy := a.owners[roomID]; busy {
		return ErrAlreadyRecording
	}
	a.owners[roomID] = connID
	return nil
}

// Release は connID が録画中の場合だけ録画権を解放します（compare-and-clear）
func (a *RecordingArbiter) Release(roomID, connID string) error {
	if owner, ok := a.owners[roomID]; !ok || owner != connID {
		return ErrNotRecorder
	}
	delete(a.owners, roomID)
	return nil
}

// Owner は録画中の接続IDを返します
func (a *RecordingArbiter) Owner(roomID string) (string, bool) {
	owner, ok := a.owners[roomID]
	return owner, ok
}

// ReleaseAll は connID が持つ全ルームの録画権を解放し、解放したルームIDを返します
func (a *RecordingArbiter) ReleaseAll(connID string) []string {
	var released []string
	for roomID, owner := range a.owners {
		if owner == connID {
			delete(a.owners, roomID)
			released = append(released, roomID)
		}
	}
	sort.Strings(released)
	return released
}
