package service

import (
	"fmt"

	"github.com/SteamVC/SteamVC_Room/backend/signal-server/internal/models"
)

// connection は1つのリアルタイム接続の属性を表します
// IDはトランスポート層が割り当て、ルーム・表示名・共有状態はこちらで管理します
type connection struct {
	id      string
	roomID  string // 未入室の場合は空
	name    string
	sharing bool
}

// room は最初の入室で作られ、最後の退出で削除されます
type room struct {
	id      string
	members []string // 入室順の接続ID
}

func (r *room) has(connID string) bool {
	for _, id := range r.members {
		if id == connID {
			return true
		}
	}
	return false
}

func (r *room) remove(connID string) {
	for i, id := range r.members {
		if id == connID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return
		}
	}
}

// Presence は接続とルームの所属を管理し、参加者のスナップショットを作ります
// ロックは持たないので、Coordinator のロック下で使ってください
type Presence struct {
	conns map[string]*connection
	rooms map[string]*room
}

func NewPresence() *Presence {
	return &Presence{
		conns: make(map[string]*connection),
		rooms: make(map[string]*room),
	}
}

// Add は接続を登録します。共有状態は false で始まります
func (p *Presence) Add(connID string) {
	if _, ok := p.conns[connID]; ok {
		return
	}
	p.conns[connID] = &connection{id: connID, name: models.DefaultUserName}
}

// Remove は接続の登録を解除します。先に Leave しておく必要があります
func (p *Presence) Remove(connID string) {
	c, ok := p.conns[connID]
	if !ok {
		return
	}
	assertf(c.roomID == "", "connection %s removed while still in room %s", connID, c.roomID)
	delete(p.conns, connID)
}

// Exists は接続が存在するかを返します
func (p *Presence) Exists(connID string) bool {
	_, ok := p.conns[connID]
	return ok
}

// RoomOf は接続が入室しているルームIDを返します
func (p *Presence) RoomOf(connID string) string {
	if c, ok := p.conns[connID]; ok {
		return c.roomID
	}
	return ""
}

// Name は接続の表示名を返します
func (p *Presence) Name(connID string) string {
	if c, ok := p.conns[connID]; ok {
		return c.name
	}
	return models.DefaultUserName
}

// Join は接続をルームに追加し、ルーム・表示名を設定します
// 他のルームに入室中の場合は呼び出し側で先に Leave してください
func (p *Presence) Join(connID, roomID, name string) error {
	c, ok := p.conns[connID]
	if !ok {
		return ErrConnectionNotFound
	}
	if c.roomID != "" && c.roomID != roomID {
		return fmt.Errorf("%w: already in room %s", ErrInvalidArgument, c.roomID)
	}

	r, exists := p.rooms[roomID]
	if !exists {
		r = &room{id: roomID}
		p.rooms[roomID] = r
	}
	if !r.has(connID) {
		r.members = append(r.members, connID)
	}

	c.roomID = roomID
	if name == "" {
		name = models.DefaultUserName
	}
	c.name = name
	return nil
}

// Leave は接続をルームから外します
// 戻り値: 退出したルームID、ルームが空になったか、退出したか
func (p *Presence) Leave(connID string) (roomID string, empty bool, left bool) {
	c, ok := p.conns[connID]
	if !ok || c.roomID == "" {
		return "", false, false
	}
	roomID = c.roomID
	c.roomID = ""

	r, exists := p.rooms[roomID]
	assertf(exists, "connection %s referenced missing room %s", connID, roomID)
	r.remove(connID)
	if len(r.members) == 0 {
		delete(p.rooms, roomID)
		return roomID, true, true
	}
	return roomID, false, true
}

// SetSharing は画面共有状態を更新します
func (p *Presence) SetSharing(connID string, sharing bool) {
	if c, ok := p.conns[connID]; ok {
		c.sharing = sharing
	}
}

// Members はルームの参加者IDを入室順で返します
func (p *Presence) Members(roomID string) []string {
	r, ok := p.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, len(r.members))
	copy(out, r.members)
	return out
}

// Roster はルームの参加者一覧を作ります
// usersInRoom には exclude を含めません。usersSharing は共有中の全参加者です
func (p *Presence) Roster(roomID, exclude string) models.Roster {
	roster := models.Roster{
		UsersInRoom:  []models.User{},
		UsersSharing: []string{},
	}
	r, ok := p.rooms[roomID]
	if !ok {
		return roster
	}
	for _, id := range r.members {
		c := p.conns[id]
		assertf(c != nil && c.roomID == roomID, "room %s lists stale member %s", roomID, id)
		if c.sharing {
			roster.UsersSharing = append(roster.UsersSharing, id)
		}
		if id == exclude {
			continue
		}
		name := c.name
		if name == "" {
			name = models.DefaultUserName
		}
		roster.UsersInRoom = append(roster.UsersInRoom, models.User{ID: id, Name: name})
	}
	return roster
}

// ConnectionCount は接続数を返します
func (p *Presence) ConnectionCount() int {
	return len(p.conns)
}

// RoomCount は参加者のいるルーム数を返します
func (p *Presence) RoomCount() int {
	return len(p.rooms)
}

func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("presence invariant violated: "+format, args...))
	}
}
