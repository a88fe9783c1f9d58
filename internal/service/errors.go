package service

import (
	"errors"

	"github.com/AyushSriv06/codesync2/internal/events"
)

// 事件处理错误分类，ws 层据此给发起连接回复 error 消息，其它成员不受影响。
var (
	ErrInvalidEvent       = events.ErrInvalidEvent
	ErrUnroutedConnection = errors.New("connection is not in this room")
	ErrInternal           = errors.New("internal error")
)

// errorKind 用作指标标签。
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidEvent):
		return "invalid_event"
	case errors.Is(err, ErrUnroutedConnection):
		return "unrouted_connection"
	default:
		return "internal"
	}
}

// ClientMessage 返回可以发给客户端的错误描述，内部错误不暴露细节。
func ClientMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidEvent), errors.Is(err, ErrUnroutedConnection):
		return err.Error()
	default:
		return ErrInternal.Error()
	}
}
