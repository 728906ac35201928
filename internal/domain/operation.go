package domain

import (
	"encoding/json"
	"time"
)

// 画布操作类型。操作一经广播即不可变；日志只追加，
// 唯一的例外是 clear，它在逻辑上截断重放缓冲。
const (
	OpDraw   = "draw"   // 自由绘制笔画
	OpShape  = "shape"  // 图形
	OpText   = "text"   // 文本
	OpSticky = "sticky" // 便签
	OpClear  = "clear"  // 清空画布
)

// Operation 表示一次原子的画布变更。
// Payload 保留客户端发送的原始 JSON，服务端不解释其内部结构，
// 仅校验操作类型是否被房间设置允许。
type Operation struct {
	ID        string          `json:"id"`        // 操作唯一标识符 (UUID)
	RoomID    uint            `json:"roomId"`    // 操作发生的房间 ID
	UserID    uint            `json:"userId"`    // 执行操作的用户 ID
	Kind      string          `json:"kind"`      // 操作类型 (draw / shape / text / sticky / clear)
	Payload   json.RawMessage `json:"payload"`   // 操作的具体数据
	Timestamp time.Time       `json:"timestamp"` // 被协调器接受的时间
}

// Point 表示画布上的一个坐标。
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BrushStroke 是 draw 操作的载荷。
type BrushStroke struct {
	Points   []Point `json:"points"`
	Color    string  `json:"color"`
	Width    float64 `json:"width"`
	IsEraser bool    `json:"isEraser"`
}

// Shape 是 shape 操作的载荷。
type Shape struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Color  string  `json:"color"`
}

// TextItem 是 text 操作的载荷。
type TextItem struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Value string  `json:"value"`
	Color string  `json:"color"`
}

// StickyNote 是 sticky 操作的载荷。
type StickyNote struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Text string  `json:"text"`
}

// CursorPosition 表示参与者光标的最新位置。
// 光标更新采用 last-write-wins，中间位置允许丢弃。
type CursorPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ChatMessage 表示房间内的一条聊天消息。
type ChatMessage struct {
	ID        string    `json:"id"`
	UserID    uint      `json:"userId"`
	UserName  string    `json:"userName"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
