package hub

import "canvas-collab/internal/domain"

// 重放缓冲保留的最大操作数。超出后最老的操作被挤掉，
// 迟到者的基线由最近一次快照补齐。
const opLogCap = 1000

// opLog 是会话内的有界重放缓冲：自上一个快照以来
// 按接受顺序排列的操作序列。只被会话 goroutine 访问。
type opLog struct {
	ops []domain.Operation
}

func newOpLog() *opLog {
	return &opLog{}
}

// Append 追加一个已接受的操作，超出容量时丢弃最老的。
func (l *opLog) Append(op domain.Operation) {
	l.ops = append(l.ops, op)
	if len(l.ops) > opLogCap {
		l.ops = l.ops[len(l.ops)-opLogCap:]
	}
}

// Clear 清空缓冲 (canvas-cleared 或快照落库后)。
func (l *opLog) Clear() {
	l.ops = nil
}

// Replay 按接受顺序返回缓冲中的全部操作。
// 返回副本，调用方持有期间缓冲可以继续变化。
func (l *opLog) Replay() []domain.Operation {
	out := make([]domain.Operation, len(l.ops))
	copy(out, l.ops)
	return out
}

// Len 返回缓冲中的操作数。
func (l *opLog) Len() int { return len(l.ops) }

// Warm 用持久化镜像中的操作重建缓冲 (会话激活时)。
func (l *opLog) Warm(ops []domain.Operation) {
	if len(ops) > opLogCap {
		ops = ops[len(ops)-opLogCap:]
	}
	l.ops = append([]domain.Operation(nil), ops...)
}

// allowedBySettings 判断房间设置是否允许该类操作。
// readOnly 房间拒绝一切画布变更；clear 不受内容开关约束，
// 它由主持人能力单独把门。
func allowedBySettings(kind string, s domain.RoomSettings) bool {
	if s.ReadOnly {
		return false
	}
	switch kind {
	case domain.OpDraw:
		return s.AllowDrawing
	case domain.OpShape:
		return s.AllowShapes
	case domain.OpText:
		return s.AllowText
	case domain.OpSticky:
		return s.AllowStickyNotes
	case domain.OpClear:
		return true
	default:
		return false
	}
}
