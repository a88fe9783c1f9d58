package events

import (
	"encoding/json"

	"github.com/AyushSriv06/codesync2/internal/models"
)

const (
	TypeRoomState      = "room-state"
	TypeUserJoined     = "user-joined"
	TypeUserLeft       = "user-left"
	TypeDocumentUpdate = "code-update"
	TypeLanguageUpdate = "language-update"
	TypeChatMessage    = "receive-message"
	TypeCursorUpdate   = "cursor-update"
	TypeError          = "error"
)

type RoomState struct {
	Type string `json:"type"`
	models.Snapshot
}

// RosterUpdate 同时用于 user-joined 和 user-left。
type RosterUpdate struct {
	Type  string               `json:"type"`
	User  models.Participant   `json:"user"`
	Users []models.Participant `json:"users"`
}

type DocumentUpdate struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	UserID string `json:"userId"`
}

type LanguageUpdate struct {
	Type     string `json:"type"`
	Language string `json:"language"`
	UserID   string `json:"userId"`
}

type ChatMessage struct {
	Type string `json:"type"`
	models.ChatMessage
}

type CursorBroadcast struct {
	Type     string          `json:"type"`
	Position models.Position `json:"position"`
	UserID   string          `json:"userId"`
	UserName string          `json:"userName"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewRoomState(snap models.Snapshot) RoomState {
	return RoomState{Type: TypeRoomState, Snapshot: snap}
}

func NewUserJoined(p models.Participant, roster []models.Participant) RosterUpdate {
	return RosterUpdate{Type: TypeUserJoined, User: p, Users: roster}
}

func NewUserLeft(p models.Participant, roster []models.Participant) RosterUpdate {
	return RosterUpdate{Type: TypeUserLeft, User: p, Users: roster}
}

func NewDocumentUpdate(code, origin string) DocumentUpdate {
	return DocumentUpdate{Type: TypeDocumentUpdate, Code: code, UserID: origin}
}

func NewLanguageUpdate(tag, origin string) LanguageUpdate {
	return LanguageUpdate{Type: TypeLanguageUpdate, Language: tag, UserID: origin}
}

func NewChatMessage(m models.ChatMessage) ChatMessage {
	return ChatMessage{Type: TypeChatMessage, ChatMessage: m}
}

func NewCursorBroadcast(c models.CursorState) CursorBroadcast {
	return CursorBroadcast{Type: TypeCursorUpdate, Position: c.Position, UserID: c.UserID, UserName: c.UserName}
}

func NewError(msg string) Error {
	return Error{Type: TypeError, Message: msg}
}

func Encode(v any) ([]byte, error) { return json.Marshal(v) }
