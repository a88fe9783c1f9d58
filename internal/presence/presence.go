package presence

import (
	"time"

	"github.com/AyushSriv06/codesync2/internal/models"
	"github.com/AyushSriv06/codesync2/internal/room"
)

// DefaultStaleAfter 之后光标视为不存在。
const DefaultStaleAfter = 10 * time.Second

// Manager 维护花名册与光标。带 key 的方法自行加锁；
// Join/Leave/PutCursor/Live 作用于调用方已锁定的 *room.Room，供 Router 在同一把锁内完成变更与广播。
type Manager struct {
	store      *room.Store
	now        func() time.Time
	staleAfter time.Duration
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.staleAfter = d
		}
	}
}

func NewManager(store *room.Store, opts ...Option) *Manager {
	m := &Manager{store: store, now: time.Now, staleAfter: DefaultStaleAfter}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Now() time.Time { return m.now() }

func (m *Manager) ColorFor(connID string) string { return ColorFor(connID) }

// Join 把连接加入花名册。已在房间内的连接只更新显示名，保留原加入时间。
func (m *Manager) Join(r *room.Room, connID, displayName string) models.Participant {
	p, ok := r.Participant(connID)
	if !ok {
		p = models.Participant{ID: connID, JoinedAt: m.now().UnixMilli(), Color: ColorFor(connID)}
	}
	p.Name = displayName
	r.PutParticipant(p)
	return p
}

// Leave 移除成员及其光标，返回被移除的成员。
func (m *Manager) Leave(r *room.Room, connID string) (models.Participant, bool) {
	p, ok := r.Participant(connID)
	r.RemoveParticipant(connID)
	return p, ok
}

// PutCursor 覆盖该连接的光标，不会产生重复项。
func (m *Manager) PutCursor(r *room.Room, connID string, pos models.Position, displayName string) models.CursorState {
	c := models.CursorState{UserID: connID, Position: pos, UserName: displayName, Timestamp: m.now().UnixMilli()}
	r.PutCursor(c)
	return c
}

// Live 过滤出未过期的光标，过期判断以调用时刻为准。
func (m *Manager) Live(r *room.Room) []models.CursorState {
	return m.filterLive(r.Cursors())
}

func (m *Manager) filterLive(cursors []models.CursorState) []models.CursorState {
	cutoff := m.now().Add(-m.staleAfter).UnixMilli()
	out := make([]models.CursorState, 0, len(cursors))
	for _, c := range cursors {
		if c.Timestamp > cutoff {
			out = append(out, c)
		}
	}
	return out
}

func (m *Manager) AddParticipant(roomKey, connID, displayName string) []models.Participant {
	var roster []models.Participant
	_ = m.store.Update(roomKey, func(r *room.Room) error {
		m.Join(r, connID, displayName)
		roster = r.Roster()
		return nil
	})
	return roster
}

func (m *Manager) RemoveParticipant(roomKey, connID string) []models.Participant {
	var roster []models.Participant
	_ = m.store.Update(roomKey, func(r *room.Room) error {
		m.Leave(r, connID)
		roster = r.Roster()
		return nil
	})
	return roster
}

func (m *Manager) UpdateCursor(roomKey, connID string, pos models.Position, displayName string) models.CursorState {
	var c models.CursorState
	_ = m.store.Update(roomKey, func(r *room.Room) error {
		c = m.PutCursor(r, connID, pos, displayName)
		return nil
	})
	return c
}

func (m *Manager) RemoveCursor(roomKey, connID string) {
	_ = m.store.Update(roomKey, func(r *room.Room) error {
		r.RemoveCursor(connID)
		return nil
	})
}

func (m *Manager) LiveCursors(roomKey string) []models.CursorState {
	var out []models.CursorState
	_ = m.store.Update(roomKey, func(r *room.Room) error {
		out = m.Live(r)
		return nil
	})
	return out
}
