package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/AyushSriv06/codesync2/internal/models"
)

// ErrInvalidEvent 表示入站事件格式错误、类型未知或缺少必填字段。
var ErrInvalidEvent = errors.New("invalid event")

const MaxDisplayNameLen = 64

type Kind string

const (
	KindJoin           Kind = "join-room"
	KindLeave          Kind = "leave-room"
	KindDocumentChange Kind = "code-change"
	KindLanguageChange Kind = "language-change"
	KindChatSend       Kind = "send-message"
	KindCursorUpdate   Kind = "cursor-change"
)

// Inbound 是客户端事件的封闭集合，只有本包内的类型实现它。
type Inbound interface {
	Kind() Kind
	Room() string
	validate() error
}

type Join struct {
	RoomID   string `json:"roomId"`
	UserName string `json:"userName"`
}

type Leave struct {
	RoomID string `json:"roomId"`
}

type DocumentChange struct {
	RoomID string  `json:"roomId"`
	Code   *string `json:"code"`
}

// Text 返回新文档内容，空文档是合法的。
func (e DocumentChange) Text() string {
	if e.Code == nil {
		return ""
	}
	return *e.Code
}

type LanguageChange struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
}

type ChatSend struct {
	RoomID   string `json:"roomId"`
	Message  string `json:"message"`
	UserName string `json:"userName"`
}

type CursorUpdate struct {
	RoomID   string           `json:"roomId"`
	Position *models.Position `json:"position"`
	UserName string           `json:"userName"`
}

func (Join) Kind() Kind           { return KindJoin }
func (Leave) Kind() Kind          { return KindLeave }
func (DocumentChange) Kind() Kind { return KindDocumentChange }
func (LanguageChange) Kind() Kind { return KindLanguageChange }
func (ChatSend) Kind() Kind       { return KindChatSend }
func (CursorUpdate) Kind() Kind   { return KindCursorUpdate }

func (e Join) Room() string           { return e.RoomID }
func (e Leave) Room() string          { return e.RoomID }
func (e DocumentChange) Room() string { return e.RoomID }
func (e LanguageChange) Room() string { return e.RoomID }
func (e ChatSend) Room() string       { return e.RoomID }
func (e CursorUpdate) Room() string   { return e.RoomID }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEvent, fmt.Sprintf(format, args...))
}

func checkDisplayName(name string, required bool) error {
	if strings.TrimSpace(name) == "" {
		if required {
			return invalid("missing userName")
		}
		return nil
	}
	if utf8.RuneCountInString(name) > MaxDisplayNameLen {
		return invalid("userName too long")
	}
	return nil
}

func (e Join) validate() error { return checkDisplayName(e.UserName, true) }

func (e Leave) validate() error { return nil }

func (e DocumentChange) validate() error {
	if e.Code == nil {
		return invalid("missing code")
	}
	return nil
}

func (e LanguageChange) validate() error {
	if strings.TrimSpace(e.Language) == "" {
		return invalid("missing language")
	}
	return nil
}

func (e ChatSend) validate() error {
	if strings.TrimSpace(e.Message) == "" {
		return invalid("empty message")
	}
	return checkDisplayName(e.UserName, false)
}

func (e CursorUpdate) validate() error {
	if e.Position == nil {
		return invalid("missing position")
	}
	if e.Position.LineNumber < 0 || e.Position.Column < 0 {
		return invalid("negative position")
	}
	return checkDisplayName(e.UserName, false)
}

// Decode 在传输边界把一帧 JSON 解析成具体事件，未知类型一律视为无效事件。
func Decode(data []byte) (Inbound, error) {
	var env struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, invalid("malformed json")
	}
	var ev Inbound
	switch env.Type {
	case KindJoin:
		ev = decodeAs[Join](data)
	case KindLeave:
		ev = decodeAs[Leave](data)
	case KindDocumentChange:
		ev = decodeAs[DocumentChange](data)
	case KindLanguageChange:
		ev = decodeAs[LanguageChange](data)
	case KindChatSend:
		ev = decodeAs[ChatSend](data)
	case KindCursorUpdate:
		ev = decodeAs[CursorUpdate](data)
	case "":
		return nil, invalid("missing type")
	default:
		return nil, invalid("unknown type %q", env.Type)
	}
	if ev == nil {
		return nil, invalid("malformed %s payload", env.Type)
	}
	if ev.Room() == "" {
		return nil, invalid("missing roomId")
	}
	if err := ev.validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

func decodeAs[T Inbound](data []byte) Inbound {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil
	}
	return v
}
