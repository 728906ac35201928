package hub

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-collab/internal/domain"
)

// recordingOutbound 是测试用的出口桩，按顺序记录下发的帧。
type recordingOutbound struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (r *recordingOutbound) Enqueue(frame []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	r.frames = append(r.frames, cp)
	return true
}

func (r *recordingOutbound) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

func (r *recordingOutbound) Frames() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.frames))
	copy(out, r.frames)
	return out
}

func (r *recordingOutbound) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func TestPresenceTable_OrderedByJoinTime(t *testing.T) {
	table := newPresenceTable()
	base := time.Now()

	table.Add(domain.Principal{UserID: 3, Name: "C"}, domain.DefaultGrant(), &recordingOutbound{}, base)
	table.Add(domain.Principal{UserID: 1, Name: "A"}, domain.DefaultGrant(), &recordingOutbound{}, base.Add(time.Second))
	table.Add(domain.Principal{UserID: 2, Name: "B"}, domain.DefaultGrant(), &recordingOutbound{}, base.Add(2*time.Second))

	list := table.List()
	require.Len(t, list, 3)
	assert.Equal(t, uint(3), list[0].UserID, "列表应按加入先后排列")
	assert.Equal(t, uint(1), list[1].UserID)
	assert.Equal(t, uint(2), list[2].UserID)
}

func TestPresenceTable_ReconnectReplacesConnection(t *testing.T) {
	table := newPresenceTable()
	first := &recordingOutbound{}
	second := &recordingOutbound{}
	joinedAt := time.Now().Add(-time.Minute)

	replaced := table.Add(domain.Principal{UserID: 1}, domain.DefaultGrant(), first, joinedAt)
	require.Nil(t, replaced, "首次上线不应替换任何连接")

	replaced = table.Add(domain.Principal{UserID: 1}, domain.DefaultGrant(), second, time.Now())
	assert.Same(t, outbound(first), replaced, "重连应换出旧连接")
	assert.Equal(t, 1, table.Len(), "重连不应产生第二条在线记录")

	m := table.Get(1)
	require.NotNil(t, m)
	assert.Equal(t, joinedAt, m.joinedAt, "joinedAt 应保持首次加入时间")
}

func TestPresenceTable_StaleDisconnectIgnored(t *testing.T) {
	table := newPresenceTable()
	first := &recordingOutbound{}
	second := &recordingOutbound{}

	table.Add(domain.Principal{UserID: 1}, domain.DefaultGrant(), first, time.Now())
	table.Add(domain.Principal{UserID: 1}, domain.DefaultGrant(), second, time.Now())

	// 旧连接的迟到断开不应把新连接踢下线
	removed := table.Remove(1, first)
	assert.Nil(t, removed)
	assert.Equal(t, 1, table.Len())

	removed = table.Remove(1, second)
	require.NotNil(t, removed)
	assert.Equal(t, 0, table.Len())
}

func TestPresenceTable_CursorLastWriteWins(t *testing.T) {
	table := newPresenceTable()
	table.Add(domain.Principal{UserID: 1}, domain.DefaultGrant(), &recordingOutbound{}, time.Now())

	assert.True(t, table.SetCursor(1, domain.CursorPosition{X: 10, Y: 10}))
	assert.True(t, table.SetCursor(1, domain.CursorPosition{X: 42, Y: 7}))

	m := table.Get(1)
	require.NotNil(t, m)
	require.NotNil(t, m.cursor)
	assert.Equal(t, float64(42), m.cursor.X, "光标应保留最后一次写入的位置")
	assert.Equal(t, float64(7), m.cursor.Y)

	assert.False(t, table.SetCursor(99, domain.CursorPosition{}), "不在线的用户不应有光标记录")
}
