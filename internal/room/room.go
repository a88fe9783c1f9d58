package room

import (
	"sort"
	"sync"

	"github.com/AyushSriv06/codesync2/internal/models"
)

const (
	DefaultDocument  = "// Welcome to the collaborative room!\nconsole.log(\"Hello, World!\");"
	DefaultLanguage  = "javascript"
	DefaultChatLimit = 100
)

// Room 持有单个房间的全部权威状态。
// 除 Key 外的方法都要求调用方已持有房间锁，即只能在 Store.Update / Store.View 的回调里调用。
type Room struct {
	key string

	mu   sync.Mutex
	dead bool

	document  string
	language  string
	chat      []models.ChatMessage
	chatLimit int
	roster    map[string]models.Participant
	cursors   map[string]models.CursorState
}

func newRoom(key, document, language string, chatLimit int) *Room {
	return &Room{
		key:       key,
		document:  document,
		language:  language,
		chatLimit: chatLimit,
		roster:    make(map[string]models.Participant),
		cursors:   make(map[string]models.CursorState),
	}
}

func (r *Room) Key() string { return r.key }

func (r *Room) Document() string { return r.document }

// SetDocument 无条件覆盖文档内容（后写者胜）。
func (r *Room) SetDocument(text string) { r.document = text }

func (r *Room) Language() string { return r.language }

func (r *Room) SetLanguage(tag string) { r.language = tag }

// AppendChat 追加一条消息，超过上限时从头部丢弃，只保留最近 chatLimit 条。
func (r *Room) AppendChat(msg models.ChatMessage) {
	r.chat = append(r.chat, msg)
	if over := len(r.chat) - r.chatLimit; over > 0 {
		r.chat = r.chat[over:]
	}
}

func (r *Room) ChatLog() []models.ChatMessage {
	out := make([]models.ChatMessage, len(r.chat))
	copy(out, r.chat)
	return out
}

func (r *Room) ChatLen() int { return len(r.chat) }

func (r *Room) Participant(connID string) (models.Participant, bool) {
	p, ok := r.roster[connID]
	return p, ok
}

func (r *Room) PutParticipant(p models.Participant) { r.roster[p.ID] = p }

// RemoveParticipant 移除成员及其光标，返回成员此前是否在房间内。
func (r *Room) RemoveParticipant(connID string) bool {
	_, ok := r.roster[connID]
	delete(r.roster, connID)
	delete(r.cursors, connID)
	return ok
}

// Roster 按加入时间（相同则按 id）排序，保证每个观察者看到相同顺序。
func (r *Room) Roster() []models.Participant {
	out := make([]models.Participant, 0, len(r.roster))
	for _, p := range r.roster {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt != out[j].JoinedAt {
			return out[i].JoinedAt < out[j].JoinedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Room) Len() int { return len(r.roster) }

func (r *Room) Empty() bool { return len(r.roster) == 0 }

func (r *Room) PutCursor(c models.CursorState) { r.cursors[c.UserID] = c }

func (r *Room) RemoveCursor(connID string) { delete(r.cursors, connID) }

// Cursors 返回全部光标（含过期项），过期过滤由 presence 负责。
func (r *Room) Cursors() []models.CursorState {
	out := make([]models.CursorState, 0, len(r.cursors))
	for _, c := range r.cursors {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Room) Snapshot() models.Snapshot {
	return models.Snapshot{
		Key:      r.key,
		Code:     r.document,
		Language: r.language,
		Messages: r.ChatLog(),
		Users:    r.Roster(),
		Cursors:  r.Cursors(),
	}
}

func (r *Room) summary() models.RoomSummary {
	return models.RoomSummary{Key: r.key, Language: r.language, Online: len(r.roster), Messages: len(r.chat)}
}

type savedState struct {
	document string
	language string
	chat     []models.ChatMessage
	roster   map[string]models.Participant
	cursors  map[string]models.CursorState
}

func (r *Room) save() savedState {
	s := savedState{
		document: r.document,
		language: r.language,
		chat:     r.chat,
		roster:   make(map[string]models.Participant, len(r.roster)),
		cursors:  make(map[string]models.CursorState, len(r.cursors)),
	}
	for k, v := range r.roster {
		s.roster[k] = v
	}
	for k, v := range r.cursors {
		s.cursors[k] = v
	}
	return s
}

// restore 回滚到 save 时的状态。chat 只会被追加或从头部截断，保存的切片头仍然有效。
func (r *Room) restore(s savedState) {
	r.document = s.document
	r.language = s.language
	r.chat = s.chat
	r.roster = s.roster
	r.cursors = s.cursors
}
