package models

// Participant 是房间花名册中的一名在线成员，以连接 id 为键。
type Participant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	JoinedAt int64  `json:"joinedAt"`
	Color    string `json:"color"`
}

// ChatMessage 创建后不可变。
type ChatMessage struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	UserName  string `json:"userName"`
	UserID    string `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// Position 是光标位置，选区字段仅在存在选区时出现。
type Position struct {
	LineNumber      int `json:"lineNumber"`
	Column          int `json:"column"`
	StartLineNumber int `json:"startLineNumber,omitempty"`
	StartColumn     int `json:"startColumn,omitempty"`
	EndLineNumber   int `json:"endLineNumber,omitempty"`
	EndColumn       int `json:"endColumn,omitempty"`
}

// HasSelection 报告位置是否携带选区范围。
func (p Position) HasSelection() bool {
	return p.StartLineNumber > 0 || p.EndLineNumber > 0
}

type CursorState struct {
	UserID    string   `json:"userId"`
	Position  Position `json:"position"`
	UserName  string   `json:"userName"`
	Timestamp int64    `json:"timestamp"`
}

// Snapshot 是房间完整状态的拷贝，交给新加入的成员。
type Snapshot struct {
	Key      string        `json:"roomId"`
	Code     string        `json:"code"`
	Language string        `json:"language"`
	Messages []ChatMessage `json:"messages"`
	Users    []Participant `json:"users"`
	Cursors  []CursorState `json:"cursors"`
}

// RoomSummary 供 REST 接口列出活跃房间。
type RoomSummary struct {
	Key      string `json:"roomId"`
	Language string `json:"language"`
	Online   int    `json:"online"`
	Messages int    `json:"messages"`
}
