package hub

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-collab/internal/domain"
)

func newTestSession(settings domain.RoomSettings) *session {
	h := &Hub{sessions: make(map[uint]*session)}
	room := &domain.Room{ID: 1, Title: "Planning", RoomCode: "ABC123", IsPublic: true, IsActive: true}
	s := newSession(h, room, settings)
	h.sessions[room.ID] = s
	return s
}

// clientEvent 构造一条客户端上行帧。
func clientEvent(t *testing.T, event string, data interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(clientFrame{Event: event, Data: raw})
	require.NoError(t, err)
	return frame
}

// decodedFrame 是下行帧的解码形式。
type decodedFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func decodeFrames(t *testing.T, out *recordingOutbound) []decodedFrame {
	t.Helper()
	frames := out.Frames()
	decoded := make([]decodedFrame, 0, len(frames))
	for _, raw := range frames {
		var f decodedFrame
		require.NoError(t, json.Unmarshal(raw, &f))
		decoded = append(decoded, f)
	}
	return decoded
}

// eventsOf 过滤出指定事件名的帧。
func eventsOf(frames []decodedFrame, event string) []decodedFrame {
	var out []decodedFrame
	for _, f := range frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func connect(s *session, userID uint, grant domain.Grant, out outbound) {
	s.handleConnect(event{
		kind:      evConnect,
		out:       out,
		principal: domain.Principal{UserID: userID, Name: fmt.Sprintf("user-%d", userID), Role: "member"},
		grant:     grant,
	})
}

func TestSession_JoinerReceivesRoomState(t *testing.T) {
	s := newTestSession(domain.DefaultRoomSettings())
	out := &recordingOutbound{}

	connect(s, 1, domain.DefaultGrant(), out)

	frames := decodeFrames(t, out)
	require.NotEmpty(t, frames)
	assert.Equal(t, evtRoomState, frames[0].Event, "新加入者的第一帧应是 room-state")

	var state roomStateData
	require.NoError(t, json.Unmarshal(frames[0].Data, &state))
	assert.Equal(t, uint(1), state.Room.ID)
	assert.Equal(t, "ABC123", state.Room.RoomCode)
	require.Len(t, state.Participants, 1)
	assert.Equal(t, uint(1), state.Participants[0].UserID)
	assert.Empty(t, state.Operations, "空房间的重放序列应为空")
}

func TestSession_BroadcastTotalOrder(t *testing.T) {
	// 三个参与者：一个发送者和两个接收者。
	// 发送者的操作经过会话的事件通道串行化，
	// 两个接收者观察到的顺序必须完全一致。
	s := newTestSession(domain.DefaultRoomSettings())
	done := make(chan struct{})
	go func() {
		s.run()
		close(done)
	}()

	sender := &recordingOutbound{}
	recvA := &recordingOutbound{}
	recvB := &recordingOutbound{}
	grant := domain.DefaultGrant()

	s.events <- event{kind: evConnect, out: sender, principal: domain.Principal{UserID: 1, Name: "S"}, grant: grant}
	s.events <- event{kind: evConnect, out: recvA, principal: domain.Principal{UserID: 2, Name: "A"}, grant: grant}
	s.events <- event{kind: evConnect, out: recvB, principal: domain.Principal{UserID: 3, Name: "B"}, grant: grant}

	const n = 20
	for i := 0; i < n; i++ {
		frame := clientEvent(t, evtCanvasDraw, domain.BrushStroke{
			Points: []domain.Point{{X: float64(i), Y: float64(i)}},
			Color:  "#000000",
			Width:  2,
		})
		s.events <- event{kind: evFrame, out: sender, principal: domain.Principal{UserID: 1}, frame: frame}
	}

	s.events <- event{kind: evStop}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not stop in time")
	}

	opIDs := func(out *recordingOutbound) []string {
		updates := eventsOf(decodeFrames(t, out), evtDrawUpdate)
		ids := make([]string, 0, len(updates))
		for _, f := range updates {
			var op domain.Operation
			require.NoError(t, json.Unmarshal(f.Data, &op))
			ids = append(ids, op.ID)
		}
		return ids
	}

	idsA := opIDs(recvA)
	idsB := opIDs(recvB)
	assert.Len(t, idsA, n, "每个接收者都应收到全部操作")
	assert.Equal(t, idsA, idsB, "两个接收者观察到的操作顺序必须一致")

	senderUpdates := eventsOf(decodeFrames(t, sender), evtDrawUpdate)
	assert.Empty(t, senderUpdates, "发送者不应收到自己操作的回声")

	assert.Equal(t, n, s.oplog.Len(), "每个被接受的操作都应进入重放缓冲")
}

func TestSession_LateJoinerReplaysBuffer(t *testing.T) {
	s := newTestSession(domain.DefaultRoomSettings())
	early := &recordingOutbound{}
	connect(s, 1, domain.DefaultGrant(), early)

	for i := 0; i < 3; i++ {
		frame := clientEvent(t, evtAddShape, domain.Shape{X: float64(i), Width: 10, Height: 10})
		s.handleFrame(event{kind: evFrame, out: early, principal: domain.Principal{UserID: 1}, frame: frame})
	}

	late := &recordingOutbound{}
	connect(s, 2, domain.DefaultGrant(), late)

	frames := decodeFrames(t, late)
	require.NotEmpty(t, frames)
	var state roomStateData
	require.NoError(t, json.Unmarshal(frames[0].Data, &state))
	assert.Len(t, state.Operations, 3, "迟到者应拿到快照之后的全部操作")
	assert.Equal(t, domain.OpShape, state.Operations[0].Kind)
}

func TestSession_RoomFullRejected(t *testing.T) {
	settings := domain.DefaultRoomSettings()
	settings.MaxUsers = 1
	s := newTestSession(settings)

	first := &recordingOutbound{}
	connect(s, 1, domain.DefaultGrant(), first)
	require.Equal(t, 1, s.presence.Len())

	second := &recordingOutbound{}
	connect(s, 2, domain.DefaultGrant(), second)

	assert.Equal(t, 1, s.presence.Len(), "超员连接不应进入在线列表")
	assert.True(t, second.Closed(), "超员连接应被关闭")
	frames := decodeFrames(t, second)
	require.NotEmpty(t, frames)
	assert.Equal(t, evtError, frames[0].Event)
}

func TestSession_ReconnectDoesNotCountAgainstCapacity(t *testing.T) {
	settings := domain.DefaultRoomSettings()
	settings.MaxUsers = 1
	s := newTestSession(settings)

	first := &recordingOutbound{}
	connect(s, 1, domain.DefaultGrant(), first)

	second := &recordingOutbound{}
	connect(s, 1, domain.DefaultGrant(), second)

	assert.Equal(t, 1, s.presence.Len())
	assert.True(t, first.Closed(), "旧连接应被替换关闭")
	assert.False(t, second.Closed())
}

func TestSession_SettingsGateBlocksOperation(t *testing.T) {
	settings := domain.DefaultRoomSettings()
	settings.AllowDrawing = false
	s := newTestSession(settings)

	sender := &recordingOutbound{}
	receiver := &recordingOutbound{}
	connect(s, 1, domain.DefaultGrant(), sender)
	connect(s, 2, domain.DefaultGrant(), receiver)

	frame := clientEvent(t, evtCanvasDraw, domain.BrushStroke{Color: "#fff"})
	s.handleFrame(event{kind: evFrame, out: sender, principal: domain.Principal{UserID: 1}, frame: frame})

	assert.NotEmpty(t, eventsOf(decodeFrames(t, sender), evtError), "发送者应收到错误帧")
	assert.Empty(t, eventsOf(decodeFrames(t, receiver), evtDrawUpdate), "被拒操作不应广播")
	assert.Equal(t, 0, s.oplog.Len(), "被拒操作不应进入重放缓冲")
}

func TestSession_CapabilityGateBlocksOperation(t *testing.T) {
	s := newTestSession(domain.DefaultRoomSettings())

	grant := domain.Grant{CanDraw: false, CanEdit: true}
	sender := &recordingOutbound{}
	connect(s, 1, grant, sender)

	frame := clientEvent(t, evtCanvasDraw, domain.BrushStroke{})
	s.handleFrame(event{kind: evFrame, out: sender, principal: domain.Principal{UserID: 1}, frame: frame})

	assert.NotEmpty(t, eventsOf(decodeFrames(t, sender), evtError))
	assert.Equal(t, 0, s.oplog.Len())
}

func TestSession_ClearRequiresModerator(t *testing.T) {
	s := newTestSession(domain.DefaultRoomSettings())

	moderator := &recordingOutbound{}
	member := &recordingOutbound{}
	connect(s, 1, domain.ModeratorGrant(), moderator)
	connect(s, 2, domain.DefaultGrant(), member)

	// 先画一笔
	draw := clientEvent(t, evtCanvasDraw, domain.BrushStroke{})
	s.handleFrame(event{kind: evFrame, out: member, principal: domain.Principal{UserID: 2}, frame: draw})
	require.Equal(t, 1, s.oplog.Len())

	// 普通参与者清屏被拒
	clear := clientEvent(t, evtClear, map[string]string{})
	s.handleFrame(event{kind: evFrame, out: member, principal: domain.Principal{UserID: 2}, frame: clear})
	assert.Equal(t, 1, s.oplog.Len(), "非主持人不能清空画布")
	assert.NotEmpty(t, eventsOf(decodeFrames(t, member), evtError))

	// 主持人清屏成功
	s.handleFrame(event{kind: evFrame, out: moderator, principal: domain.Principal{UserID: 1}, frame: clear})
	assert.Equal(t, 0, s.oplog.Len(), "清屏应清空重放缓冲")
	assert.NotEmpty(t, eventsOf(decodeFrames(t, member), evtCanvasCleared), "其他参与者应收到 canvas-cleared")
}

func TestSession_SettingsUpdateTakesEffectImmediately(t *testing.T) {
	s := newTestSession(domain.DefaultRoomSettings())

	sender := &recordingOutbound{}
	connect(s, 1, domain.DefaultGrant(), sender)

	// REST 层把房间改成只读
	updated := s.settings
	updated.ReadOnly = true
	s.handleSettings(event{kind: evSettings, settings: updated})

	assert.NotEmpty(t, eventsOf(decodeFrames(t, sender), evtSettingsUpdated), "在线参与者应收到设置变更通知")

	frame := clientEvent(t, evtCanvasDraw, domain.BrushStroke{})
	s.handleFrame(event{kind: evFrame, out: sender, principal: domain.Principal{UserID: 1}, frame: frame})
	assert.Equal(t, 0, s.oplog.Len(), "只读生效后的操作应被拒绝")
}

func TestSession_GrantUpdateAppliesToLiveMember(t *testing.T) {
	s := newTestSession(domain.DefaultRoomSettings())

	sender := &recordingOutbound{}
	connect(s, 1, domain.DefaultGrant(), sender)

	revoked := domain.Grant{CanDraw: false, CanEdit: false}
	s.handleGrant(event{kind: evGrant, targetUserID: 1, grant: revoked})

	m := s.presence.Get(1)
	require.NotNil(t, m)
	assert.Equal(t, revoked, m.grant, "在线参与者的授权应立即更新")

	frame := clientEvent(t, evtCanvasDraw, domain.BrushStroke{})
	s.handleFrame(event{kind: evFrame, out: sender, principal: domain.Principal{UserID: 1}, frame: frame})
	assert.Equal(t, 0, s.oplog.Len(), "被撤销的能力应立即失效")
}

func TestSession_CursorUpdateNotInReplayBuffer(t *testing.T) {
	s := newTestSession(domain.DefaultRoomSettings())

	sender := &recordingOutbound{}
	receiver := &recordingOutbound{}
	connect(s, 1, domain.DefaultGrant(), sender)
	connect(s, 2, domain.DefaultGrant(), receiver)

	frame := clientEvent(t, evtCursorMove, domain.CursorPosition{X: 5, Y: 6})
	s.handleFrame(event{kind: evFrame, out: sender, principal: domain.Principal{UserID: 1}, frame: frame})

	assert.NotEmpty(t, eventsOf(decodeFrames(t, receiver), evtCursorUpdate), "光标更新应转发给其他参与者")
	assert.Equal(t, 0, s.oplog.Len(), "光标更新不进重放缓冲")
}

func TestSession_InboundOutboundEventMapping(t *testing.T) {
	// 上行与下行是不对称的词表：客户端发 canvas-add-shape，
	// 其他参与者收到 shape-added。每一对映射都必须可达。
	s := newTestSession(domain.DefaultRoomSettings())
	sender := &recordingOutbound{}
	receiver := &recordingOutbound{}
	connect(s, 1, domain.ModeratorGrant(), sender)
	connect(s, 2, domain.DefaultGrant(), receiver)

	opPairs := []struct {
		inbound  string
		payload  interface{}
		outbound string
	}{
		{evtCanvasDraw, domain.BrushStroke{Color: "#000000"}, evtDrawUpdate},
		{evtAddShape, domain.Shape{Width: 4, Height: 4}, evtShapeAdded},
		{evtAddText, domain.TextItem{Value: "hi"}, evtTextAdded},
		{evtAddSticky, domain.StickyNote{Text: "note"}, evtStickyAdded},
	}
	for _, pair := range opPairs {
		frame := clientEvent(t, pair.inbound, pair.payload)
		s.handleFrame(event{kind: evFrame, out: sender, principal: domain.Principal{UserID: 1}, frame: frame})
	}
	assert.Equal(t, len(opPairs), s.oplog.Len(), "每个画布操作都应进入重放缓冲")

	cursor := clientEvent(t, evtCursorMove, domain.CursorPosition{X: 1, Y: 2})
	s.handleFrame(event{kind: evFrame, out: sender, principal: domain.Principal{UserID: 1}, frame: cursor})
	chat := clientEvent(t, evtChat, map[string]string{"message": "hello"})
	s.handleFrame(event{kind: evFrame, out: sender, principal: domain.Principal{UserID: 1}, frame: chat})
	clear := clientEvent(t, evtClear, map[string]string{})
	s.handleFrame(event{kind: evFrame, out: sender, principal: domain.Principal{UserID: 1}, frame: clear})

	frames := decodeFrames(t, receiver)
	for _, pair := range opPairs {
		assert.NotEmpty(t, eventsOf(frames, pair.outbound), "上行 %s 应以 %s 转播", pair.inbound, pair.outbound)
	}
	assert.NotEmpty(t, eventsOf(frames, evtCursorUpdate), "上行 cursor-move 应以 cursor-update 转播")
	assert.NotEmpty(t, eventsOf(frames, evtChatMessage), "上行 canvas-chat 应以 chat-message 转播")
	assert.NotEmpty(t, eventsOf(frames, evtCanvasCleared), "上行 canvas-clear 应以 canvas-cleared 转播")
	assert.Equal(t, 0, s.oplog.Len(), "清屏后重放缓冲应为空")
	assert.Empty(t, eventsOf(decodeFrames(t, sender), evtError), "合法操作不应产生错误帧")
}

func TestSession_LeaveRoomFrameRemovesMember(t *testing.T) {
	s := newTestSession(domain.DefaultRoomSettings())
	leaving := &recordingOutbound{}
	staying := &recordingOutbound{}
	connect(s, 1, domain.DefaultGrant(), leaving)
	connect(s, 2, domain.DefaultGrant(), staying)

	frame := clientEvent(t, evtLeaveRoom, map[string]string{})
	left := s.handleFrame(event{kind: evFrame, out: leaving, principal: domain.Principal{UserID: 1}, frame: frame})

	assert.True(t, left, "leave-canvas-room 应使成员离开房间")
	assert.Equal(t, 1, s.presence.Len())
	assert.True(t, leaving.Closed())
	assert.NotEmpty(t, eventsOf(decodeFrames(t, staying), evtUserLeft))
}

func TestSession_DisconnectBroadcastsUserLeft(t *testing.T) {
	s := newTestSession(domain.DefaultRoomSettings())

	leaving := &recordingOutbound{}
	staying := &recordingOutbound{}
	connect(s, 1, domain.DefaultGrant(), leaving)
	connect(s, 2, domain.DefaultGrant(), staying)

	s.handleDisconnect(event{kind: evDisconnect, out: leaving, principal: domain.Principal{UserID: 1}})

	assert.Equal(t, 1, s.presence.Len())
	assert.NotEmpty(t, eventsOf(decodeFrames(t, staying), evtUserLeft))
	assert.True(t, leaving.Closed())
}

func TestSession_EmptySessionRetiresFromHub(t *testing.T) {
	s := newTestSession(domain.DefaultRoomSettings())
	h := s.hub
	done := make(chan struct{})
	go func() {
		s.run()
		close(done)
	}()

	out := &recordingOutbound{}
	s.events <- event{kind: evConnect, out: out, principal: domain.Principal{UserID: 1}, grant: domain.DefaultGrant()}
	s.events <- event{kind: evDisconnect, out: out, principal: domain.Principal{UserID: 1}}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not drain after the last participant left")
	}

	h.mu.Lock()
	_, active := h.sessions[s.roomID]
	h.mu.Unlock()
	assert.False(t, active, "排水后的会话应从注册表中移除")
}
