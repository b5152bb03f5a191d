package service

import "errors"

// カスタムエラー定義
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrConnectionNotFound = errors.New("connection not found")
	ErrAlreadyRecording   = errors.New("already recording")
	ErrNotRecorder        = errors.New("not the current recorder")
	ErrInvalidArgument    = errors.New("invalid argument")
)

// msgAlreadyRecording は録画開始に失敗したときにクライアントへ返す文言です
const msgAlreadyRecording = "Someone is already recording in this room"
