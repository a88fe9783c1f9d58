package service

import (
	"fmt"
	"strings"

	"github.com/AyushSriv06/codesync2/internal/events"
	"github.com/AyushSriv06/codesync2/internal/metrics"
	"github.com/AyushSriv06/codesync2/internal/models"
	"github.com/AyushSriv06/codesync2/internal/presence"
	"github.com/AyushSriv06/codesync2/internal/registry"
	"github.com/AyushSriv06/codesync2/internal/room"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Sender 把出站消息交给传输层，不等待确认；队列已满时返回 false。
type Sender interface {
	Send(connID string, payload []byte) bool
}

// Router 是协议状态机：校验入站事件、修改房间状态并决定广播范围。
// 每个事件的变更和广播都在同一次 Store.Update 内完成，因此同一房间的广播顺序与变更顺序一致。
type Router struct {
	store    *room.Store
	presence *presence.Manager
	conns    *registry.Registry
	out      Sender
	newID    func() string
}

func NewRouter(store *room.Store, pm *presence.Manager, conns *registry.Registry, out Sender) *Router {
	return &Router{store: store, presence: pm, conns: conns, out: out, newID: newMessageID}
}

// newMessageID 使用 UUIDv7：毫秒时间戳加随机位，足够用于 UI 去重，但不是持久化主键。
func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Dispatch 处理一个入站事件，返回因本事件变空、需要由 Supervisor 回收的房间。
// 任何错误或 panic 都只回复给发起连接。
func (rt *Router) Dispatch(connID string, ev events.Inbound) (vacated []string) {
	defer func() {
		if p := recover(); p != nil {
			rt.Reject(connID, fmt.Errorf("%w: %v", ErrInternal, p))
		}
	}()
	metrics.EventsTotal.WithLabelValues(string(ev.Kind())).Inc()

	var err error
	switch e := ev.(type) {
	case events.Join:
		vacated, err = rt.join(connID, e)
	case events.Leave:
		vacated, err = rt.handleLeave(connID, e)
	case events.DocumentChange:
		err = rt.changeDocument(connID, e)
	case events.LanguageChange:
		err = rt.changeLanguage(connID, e)
	case events.ChatSend:
		err = rt.sendChat(connID, e)
	case events.CursorUpdate:
		err = rt.updateCursor(connID, e)
	default:
		err = fmt.Errorf("%w: unsupported event %T", ErrInvalidEvent, ev)
	}
	if err != nil {
		rt.Reject(connID, err)
	}
	return vacated
}

// Reject 给发起连接回复 error 消息。
func (rt *Router) Reject(connID string, err error) {
	kind := errorKind(err)
	metrics.EventErrorsTotal.WithLabelValues(kind).Inc()
	l := log.Warn()
	if kind == "internal" {
		l = log.Error()
	}
	l.Err(err).Str("conn_id", connID).Str("kind", kind).Msg("event rejected")

	payload, encErr := events.Encode(events.NewError(ClientMessage(err)))
	if encErr != nil {
		return
	}
	rt.send(connID, payload)
}

func (rt *Router) requireRoute(connID, roomKey string) error {
	cur, ok := rt.conns.CurrentRoom(connID)
	if !ok || cur != roomKey {
		return fmt.Errorf("%w: %q", ErrUnroutedConnection, roomKey)
	}
	return nil
}

func (rt *Router) join(connID string, e events.Join) ([]string, error) {
	var vacated []string
	if cur, ok := rt.conns.CurrentRoom(connID); ok && cur != e.RoomID {
		empty, err := rt.leave(connID, cur)
		if err != nil {
			return nil, err
		}
		if empty {
			vacated = append(vacated, cur)
		}
	}

	name := strings.TrimSpace(e.UserName)
	err := rt.store.Update(e.RoomID, func(r *room.Room) error {
		p := rt.presence.Join(r, connID, name)
		snap := r.Snapshot()
		snap.Cursors = rt.presence.Live(r)
		state, err := events.Encode(events.NewRoomState(snap))
		if err != nil {
			return err
		}
		notice, err := events.Encode(events.NewUserJoined(p, snap.Users))
		if err != nil {
			return err
		}
		rt.send(connID, state)
		rt.fanout(r, connID, notice)
		return nil
	})
	if err != nil {
		// 回滚后房间可能是刚懒创建的空房间，交给 Supervisor 回收。
		rt.store.View(e.RoomID, func(r *room.Room) {
			if r.Empty() {
				vacated = append(vacated, e.RoomID)
			}
		})
		return vacated, fmt.Errorf("%w: join %q: %v", ErrInternal, e.RoomID, err)
	}
	rt.conns.SetCurrentRoom(connID, e.RoomID)
	log.Info().Str("conn_id", connID).Str("room", e.RoomID).Str("user", name).Msg("joined room")
	return vacated, nil
}

func (rt *Router) handleLeave(connID string, e events.Leave) ([]string, error) {
	if err := rt.requireRoute(connID, e.RoomID); err != nil {
		return nil, err
	}
	empty, err := rt.leave(connID, e.RoomID)
	if err != nil {
		return nil, err
	}
	if empty {
		return []string{e.RoomID}, nil
	}
	return nil, nil
}

// leave 移除成员并通知其余成员，返回房间是否已空。失败时房间与路由都保持原样。
func (rt *Router) leave(connID, roomKey string) (empty bool, err error) {
	err = rt.store.Update(roomKey, func(r *room.Room) error {
		p, ok := rt.presence.Leave(r, connID)
		if ok {
			notice, err := events.Encode(events.NewUserLeft(p, r.Roster()))
			if err != nil {
				return err
			}
			rt.fanout(r, connID, notice)
		}
		empty = r.Empty()
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: leave %q: %v", ErrInternal, roomKey, err)
	}
	rt.conns.SetCurrentRoom(connID, "")
	log.Info().Str("conn_id", connID).Str("room", roomKey).Bool("empty", empty).Msg("left room")
	return empty, nil
}

// evict 不广播地移除成员，用于连接已断开而正常 leave 失败的情况，返回房间是否已空。
func (rt *Router) evict(connID, roomKey string) bool {
	roster := rt.presence.RemoveParticipant(roomKey, connID)
	rt.conns.SetCurrentRoom(connID, "")
	return len(roster) == 0
}

func (rt *Router) changeDocument(connID string, e events.DocumentChange) error {
	if err := rt.requireRoute(connID, e.RoomID); err != nil {
		return err
	}
	text := e.Text()
	payload, err := events.Encode(events.NewDocumentUpdate(text, connID))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return rt.mutate(e.RoomID, func(r *room.Room) error {
		r.SetDocument(text)
		rt.fanout(r, connID, payload)
		return nil
	})
}

func (rt *Router) changeLanguage(connID string, e events.LanguageChange) error {
	if err := rt.requireRoute(connID, e.RoomID); err != nil {
		return err
	}
	payload, err := events.Encode(events.NewLanguageUpdate(e.Language, connID))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return rt.mutate(e.RoomID, func(r *room.Room) error {
		r.SetLanguage(e.Language)
		rt.fanout(r, "", payload)
		return nil
	})
}

func (rt *Router) sendChat(connID string, e events.ChatSend) error {
	if err := rt.requireRoute(connID, e.RoomID); err != nil {
		return err
	}
	return rt.mutate(e.RoomID, func(r *room.Room) error {
		msg := models.ChatMessage{
			ID:        rt.newID(),
			Message:   e.Message,
			UserName:  rt.displayName(r, connID, e.UserName),
			UserID:    connID,
			Timestamp: rt.presence.Now().UnixMilli(),
		}
		payload, err := events.Encode(events.NewChatMessage(msg))
		if err != nil {
			return err
		}
		r.AppendChat(msg)
		rt.fanout(r, "", payload)
		metrics.ChatMessagesTotal.Inc()
		return nil
	})
}

func (rt *Router) updateCursor(connID string, e events.CursorUpdate) error {
	if err := rt.requireRoute(connID, e.RoomID); err != nil {
		return err
	}
	return rt.mutate(e.RoomID, func(r *room.Room) error {
		c := rt.presence.PutCursor(r, connID, *e.Position, rt.displayName(r, connID, e.UserName))
		payload, err := events.Encode(events.NewCursorBroadcast(c))
		if err != nil {
			return err
		}
		rt.fanout(r, connID, payload)
		return nil
	})
}

func (rt *Router) mutate(roomKey string, fn func(r *room.Room) error) error {
	if err := rt.store.Update(roomKey, fn); err != nil {
		return fmt.Errorf("%w: room %q: %v", ErrInternal, roomKey, err)
	}
	return nil
}

// displayName 优先使用事件里携带的名字，否则回落到加入时登记的名字。
func (rt *Router) displayName(r *room.Room, connID, supplied string) string {
	if name := strings.TrimSpace(supplied); name != "" {
		return name
	}
	if p, ok := r.Participant(connID); ok {
		return p.Name
	}
	return ""
}

// fanout 发给房间内除 exclude 以外的所有成员；exclude 为空表示包括发送者。
func (rt *Router) fanout(r *room.Room, exclude string, payload []byte) {
	for _, p := range r.Roster() {
		if p.ID == exclude {
			continue
		}
		rt.send(p.ID, payload)
	}
}

func (rt *Router) send(connID string, payload []byte) {
	if !rt.out.Send(connID, payload) {
		metrics.BroadcastsDroppedTotal.Inc()
		log.Debug().Str("conn_id", connID).Msg("outbound message dropped")
	}
}
