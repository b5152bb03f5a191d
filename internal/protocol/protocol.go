// Package protocol はWebSocketでやり取りするイベントの形式を定義します
// 受信イベントは閉じた型の集合（Command）にデコードし、境界で検証します
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// 受信イベント名
const (
	EventJoinRoom           = "joinRoom"
	EventLeaveRoom          = "leaveRoom"
	EventChatMessage        = "chatMessage"
	EventRequestChatHistory = "requestChatHistory"
	EventSignal             = "signal"
	EventRequestScreenTrack = "requestScreenTrack"
	EventScreenShareStatus  = "screenShareStatus"
	EventRequestStartRecord = "requestStartRecord"
	EventRequestStopRecord  = "requestStopRecord"
	EventPing               = "ping"
)

// 送信イベント名（chatMessage, signal, requestScreenTrack は受信と同名）
const (
	EventMe                    = "me"
	EventAllUsers              = "allUsers"
	EventUserJoined            = "userJoined"
	EventUserLeft              = "userLeft"
	EventChatHistory           = "chatHistory"
	EventPeerScreenShareStatus = "peerScreenShareStatus"
	EventRecordStarted         = "recordStarted"
	EventRecordStopped         = "recordStopped"
	EventAck                   = "ack"
	EventPong                  = "pong"
)

var (
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrUnknownEvent      = errors.New("unknown event")
	ErrInvalidPayload    = errors.New("invalid payload")
)

// Envelope は全てのフレームに共通する外側の形式です
// Ack は応答が必要なリクエスト（requestStartRecord）でクライアントが付ける番号です
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	Ack   *int64          `json:"ack,omitempty"`
}

// Outbound は送信用のフレームです
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	Ack   *int64 `json:"ack,omitempty"`
}

// Encode は送信イベントをJSONにします
func Encode(event string, data any) ([]byte, error) {
	return json.Marshal(Outbound{Event: event, Data: data})
}

// EncodeAck はリクエストへの応答フレームを作ります
func EncodeAck(ack int64, data any) ([]byte, error) {
	return json.Marshal(Outbound{Event: EventAck, Data: data, Ack: &ack})
}

// Command はデコード済みの受信イベントです
type Command interface {
	EventName() string
}

type JoinRoom struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

type LeaveRoom struct{}

type ChatMessage struct {
	RoomID  string `json:"roomId"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

type RequestChatHistory struct {
	RoomID string
}

// Signal の Signal フィールドは中身を見ずにそのまま転送します
type Signal struct {
	TargetID string          `json:"targetId"`
	Signal   json.RawMessage `json:"signal"`
}

type RequestScreenTrack struct {
	TargetID string `json:"targetId"`
}

type ScreenShareStatus struct {
	RoomID    string `json:"roomId"`
	IsSharing bool   `json:"isSharing"`
}

type RequestStartRecord struct {
	RoomID string
	Ack    *int64
}

type RequestStopRecord struct {
	RoomID string
}

type Ping struct{}

func (JoinRoom) EventName() string           { return EventJoinRoom }
func (LeaveRoom) EventName() string          { return EventLeaveRoom }
func (ChatMessage) EventName() string        { return EventChatMessage }
func (RequestChatHistory) EventName() string { return EventRequestChatHistory }
func (Signal) EventName() string             { return EventSignal }
func (RequestScreenTrack) EventName() string { return EventRequestScreenTrack }
func (ScreenShareStatus) EventName() string  { return EventScreenShareStatus }
func (RequestStartRecord) EventName() string { return EventRequestStartRecord }
func (RequestStopRecord) EventName() string  { return EventRequestStopRecord }
func (Ping) EventName() string               { return EventPing }

// Decode はフレームを Command に変換します
// 必須フィールドが欠けている場合は ErrInvalidPayload を返します
func Decode(frame []byte) (Command, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	switch env.Event {
	case EventJoinRoom:
		var cmd JoinRoom
		if err := decodeObject(env.Data, &cmd); err != nil {
			return nil, err
		}
		cmd.RoomID = normalizeID(cmd.RoomID)
		cmd.Name = strings.TrimSpace(cmd.Name)
		if cmd.RoomID == "" {
			return nil, fmt.Errorf("%w: %s requires roomId", ErrInvalidPayload, env.Event)
		}
		return cmd, nil

	case EventLeaveRoom:
		return LeaveRoom{}, nil

	case EventChatMessage:
		var cmd ChatMessage
		if err := decodeObject(env.Data, &cmd); err != nil {
			return nil, err
		}
		cmd.RoomID = normalizeID(cmd.RoomID)
		if cmd.RoomID == "" || cmd.Message == "" {
			return nil, fmt.Errorf("%w: %s requires roomId and message", ErrInvalidPayload, env.Event)
		}
		return cmd, nil

	case EventRequestChatHistory:
		roomID, err := decodeRoomID(env)
		if err != nil {
			return nil, err
		}
		return RequestChatHistory{RoomID: roomID}, nil

	case EventSignal:
		var cmd Signal
		if err := decodeObject(env.Data, &cmd); err != nil {
			return nil, err
		}
		cmd.TargetID = normalizeID(cmd.TargetID)
		if cmd.TargetID == "" {
			return nil, fmt.Errorf("%w: %s requires targetId", ErrInvalidPayload, env.Event)
		}
		return cmd, nil

	case EventRequestScreenTrack:
		var cmd RequestScreenTrack
		if err := decodeObject(env.Data, &cmd); err != nil {
			return nil, err
		}
		cmd.TargetID = normalizeID(cmd.TargetID)
		if cmd.TargetID == "" {
			return nil, fmt.Errorf("%w: %s requires targetId", ErrInvalidPayload, env.Event)
		}
		return cmd, nil

	case EventScreenShareStatus:
		var cmd ScreenShareStatus
		if err := decodeObject(env.Data, &cmd); err != nil {
			return nil, err
		}
		cmd.RoomID = normalizeID(cmd.RoomID)
		if cmd.RoomID == "" {
			return nil, fmt.Errorf("%w: %s requires roomId", ErrInvalidPayload, env.Event)
		}
		return cmd, nil

	case EventRequestStartRecord:
		roomID, err := decodeRoomID(env)
		if err != nil {
			return RequestStartRecord{Ack: env.Ack}, err
		}
		return RequestStartRecord{RoomID: roomID, Ack: env.Ack}, nil

	case EventRequestStopRecord:
		roomID, err := decodeRoomID(env)
		if err != nil {
			return nil, err
		}
		return RequestStopRecord{RoomID: roomID}, nil

	case EventPing:
		return Ping{}, nil

	case "":
		return nil, fmt.Errorf("%w: missing event", ErrMalformedEnvelope)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// decodeObject はデータ部をオブジェクトとしてデコードします
func decodeObject(data json.RawMessage, dst any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) || data[0] != '{' {
		return fmt.Errorf("%w: expected object", ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// decodeRoomID はルームIDだけを持つイベントのデータ部を読みます
// 文字列そのもの（"room-1"）と {"roomId": "room-1"} の両方を受け付けます
func decodeRoomID(env Envelope) (string, error) {
	data := bytes.TrimSpace(env.Data)
	var roomID string
	switch {
	case len(data) > 0 && data[0] == '"':
		if err := json.Unmarshal(data, &roomID); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	case len(data) > 0 && data[0] == '{':
		var obj struct {
			RoomID string `json:"roomId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		roomID = obj.RoomID
	}
	roomID = normalizeID(roomID)
	if roomID == "" {
		return "", fmt.Errorf("%w: %s requires roomId", ErrInvalidPayload, env.Event)
	}
	return roomID, nil
}

func normalizeID(id string) string {
	return strings.TrimSpace(id)
}
