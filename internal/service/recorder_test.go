package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordingArbiter_SingleOwner(t *testing.T) {
	a := NewRecordingArbiter()

	require.NoError(t, a.Acquire("room-1", "alice"))
	err := a.Acquire("room-1", "bob")
	assert.ErrorIs(t, err, ErrAlreadyRecording)
	assert.EqualError(t, err, "already recording")
	// 本人による再取得も失敗する
	assert.ErrorIs(t, a.Acquire("room-1", "alice"), ErrAlreadyRecording)

	owner, ok := a.Owner("room-1")
	assert.True(t, ok)
	assert.Equal(t, "alice", owner)

	// 別のルームは独立している
	require.NoError(t, a.Acquire("room-2", "bob"))
}

func TestRecordingArbiter_ReleaseOnlyByOwner(t *testing.T) {
	a := NewRecordingArbiter()
	require.NoError(t, a.Acquire("room-1", "alice"))

	assert.ErrorIs(t, a.Release("room-1", "bob"), ErrNotRecorder)
	owner, _ := a.Owner("room-1")
	assert.Equal(t, "alice", owner)

	require.NoError(t, a.Release("room-1", "alice"))
	_, ok := a.Owner("room-1")
	assert.False(t, ok)

	assert.ErrorIs(t, a.Release("room-1", "alice"), ErrNotRecorder)
}

func TestRecordingArbiter_ReleaseAll(t *testing.T) {
	a := NewRecordingArbiter()
	require.NoError(t, a.Acquire("room-b", "alice"))
	require.NoError(t, a.Acquire("room-a", "alice"))
	require.NoError(t, a.Acquire("room-c", "bob"))

	assert.Equal(t, []string{"room-a", "room-b"}, a.ReleaseAll("alice"))
	assert.Empty(t, a.ReleaseAll("alice"))

	owner, ok := a.Owner("room-c")
	assert.True(t, ok)
	assert.Equal(t, "bob", owner)
}
