package room

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/AyushSriv06/codesync2/internal/models"
)

// ErrMutationPanic 表示房间变更回调发生 panic，房间状态已回滚。
var ErrMutationPanic = errors.New("room mutation panicked")

// Store 是所有房间状态的唯一拥有者。
// 单个房间内的变更通过房间锁串行执行；不同房间之间只在 map 访问时短暂竞争 Store 锁。
type Store struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	document  string
	language  string
	chatLimit int
}

type Option func(*Store)

func WithChatLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.chatLimit = n
		}
	}
}

func WithDefaults(document, language string) Option {
	return func(s *Store) {
		s.document = document
		s.language = language
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		rooms:     make(map[string]*Room),
		document:  DefaultDocument,
		language:  DefaultLanguage,
		chatLimit: DefaultChatLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate 若房间不存在则以默认内容懒创建。
func (s *Store) GetOrCreate(key string) *Room {
	s.mu.RLock()
	r := s.rooms[key]
	s.mu.RUnlock()
	if r != nil {
		return r
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r = s.rooms[key]
	if r != nil {
		return r
	}
	r = newRoom(key, s.document, s.language, s.chatLimit)
	s.rooms[key] = r
	return r
}

// Update 在房间锁内执行 fn，房间不存在时先创建。
// fn 返回错误或 panic 时房间回滚到调用前的状态，panic 转换为 ErrMutationPanic。
// fn 内不得再调用 Store 的方法。
func (s *Store) Update(key string, fn func(r *Room) error) error {
	for {
		r := s.GetOrCreate(key)
		r.mu.Lock()
		if r.dead {
			// 与 Delete 竞争失败，重新取一个新房间。
			r.mu.Unlock()
			continue
		}
		err := r.apply(fn)
		r.mu.Unlock()
		return err
	}
}

func (r *Room) apply(fn func(r *Room) error) (err error) {
	saved := r.save()
	defer func() {
		if p := recover(); p != nil {
			r.restore(saved)
			err = fmt.Errorf("%w: %v", ErrMutationPanic, p)
		}
	}()
	if err = fn(r); err != nil {
		r.restore(saved)
	}
	return err
}

// View 在房间锁内只读访问已存在的房间，不会创建房间。
func (s *Store) View(key string, fn func(r *Room)) bool {
	s.mu.RLock()
	r := s.rooms[key]
	s.mu.RUnlock()
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return false
	}
	fn(r)
	return true
}

// Delete 删除花名册为空的房间；房间仍有成员时拒绝删除并返回 false。
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[key]
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.Empty() {
		return false
	}
	r.dead = true
	delete(s.rooms, key)
	return true
}

func (s *Store) SetDocument(key, text string) {
	_ = s.Update(key, func(r *Room) error {
		r.SetDocument(text)
		return nil
	})
}

func (s *Store) SetLanguage(key, tag string) {
	_ = s.Update(key, func(r *Room) error {
		r.SetLanguage(tag)
		return nil
	})
}

func (s *Store) AppendChat(key string, msg models.ChatMessage) {
	_ = s.Update(key, func(r *Room) error {
		r.AppendChat(msg)
		return nil
	})
}

func (s *Store) Snapshot(key string) models.Snapshot {
	var snap models.Snapshot
	_ = s.Update(key, func(r *Room) error {
		snap = r.Snapshot()
		return nil
	})
	return snap
}

// Lookup 返回已存在房间的快照，不会懒创建。
func (s *Store) Lookup(key string) (models.Snapshot, bool) {
	var snap models.Snapshot
	ok := s.View(key, func(r *Room) { snap = r.Snapshot() })
	return snap, ok
}

// List 返回所有活跃房间的摘要，按 key 排序。
func (s *Store) List() []models.RoomSummary {
	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	out := make([]models.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		if !r.dead {
			out = append(out, r.summary())
		}
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
