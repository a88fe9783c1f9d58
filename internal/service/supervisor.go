package service

import (
	"github.com/AyushSriv06/codesync2/internal/events"
	"github.com/AyushSriv06/codesync2/internal/metrics"
	"github.com/AyushSriv06/codesync2/internal/registry"
	"github.com/AyushSriv06/codesync2/internal/room"

	"github.com/rs/zerolog/log"
)

// Supervisor 是传输层的唯一入口：处理连接建立/断开，并独占房间的删除。
type Supervisor struct {
	store  *room.Store
	conns  *registry.Registry
	router *Router
}

func NewSupervisor(store *room.Store, conns *registry.Registry, router *Router) *Supervisor {
	return &Supervisor{store: store, conns: conns, router: router}
}

func (s *Supervisor) Connect(connID string) {
	s.conns.Register(connID)
	log.Debug().Str("conn_id", connID).Msg("connection registered")
}

// Handle 分发一个已解码的事件，并回收因此变空的房间。
func (s *Supervisor) Handle(connID string, ev events.Inbound) {
	s.reap(s.router.Dispatch(connID, ev))
}

// Reject 处理在传输边界就已失败的事件（解码错误、限流等）。
func (s *Supervisor) Reject(connID string, err error) {
	s.router.Reject(connID, err)
}

// Disconnect 为连接当前所在房间合成一次 leave；连接不在任何房间时只注销。可重复调用。
func (s *Supervisor) Disconnect(connID string) {
	defer s.conns.Unregister(connID)
	key, ok := s.conns.CurrentRoom(connID)
	if !ok {
		return
	}
	empty, err := s.router.leave(connID, key)
	if err != nil {
		// 连接已不可用，不能留下无法移除的成员；跳过通知直接移除。
		log.Error().Err(err).Str("conn_id", connID).Str("room", key).Msg("disconnect leave, evicting without notice")
		empty = s.router.evict(connID, key)
	}
	if empty {
		s.reap([]string{key})
	}
}

// reap 删除空房间。Store.Delete 在锁内复查花名册，期间有人加入则保留。
func (s *Supervisor) reap(keys []string) {
	for _, key := range keys {
		if s.store.Delete(key) {
			log.Info().Str("room", key).Msg("room deleted (empty)")
		}
	}
	metrics.RoomsActive.Set(float64(s.store.Len()))
}

// Rooms 和 Connections 供健康检查使用。
func (s *Supervisor) Rooms() int { return s.store.Len() }

func (s *Supervisor) Connections() int { return s.conns.Len() }
