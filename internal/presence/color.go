package presence

import "unicode/utf16"

// Palette 是所有观察者共享的固定调色板，顺序不可更改。
var Palette = [8]string{
	"#3B82F6", "#EF4444", "#10B981", "#F59E0B",
	"#8B5CF6", "#EC4899", "#06B6D4", "#84CC16",
}

// ColorFor 把连接 id 的 UTF-16 码元求和后对调色板取模，是纯函数，不同 id 可能同色。
func ColorFor(connID string) string {
	sum := 0
	for _, u := range utf16.Encode([]rune(connID)) {
		sum += int(u)
	}
	return Palette[sum%len(Palette)]
}
