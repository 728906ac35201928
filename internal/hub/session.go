package hub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"canvas-collab/internal/domain"
	"canvas-collab/internal/service"
	"canvas-collab/internal/tasks"
)

// 会话事件通道的缓冲区大小
const sessionQueueSize = 512

// 客户端上行帧的事件名。
// 上行与下行是不对称的词表：客户端发 canvas-add-shape，
// 服务端转播时用 shape-added。
const (
	evtCanvasDraw = "canvas-draw"
	evtAddShape   = "canvas-add-shape"
	evtAddText    = "canvas-add-text"
	evtAddSticky  = "canvas-add-sticky"
	evtClear      = "canvas-clear"
	evtCursorMove = "cursor-move"
	evtChat       = "canvas-chat"
	evtLeaveRoom  = "leave-canvas-room"
)

// 服务端下行帧的事件名
const (
	evtRoomState       = "room-state"
	evtUserJoined      = "user-joined"
	evtUserLeft        = "user-left"
	evtDrawUpdate      = "canvas-draw-update"
	evtShapeAdded      = "shape-added"
	evtTextAdded       = "text-added"
	evtStickyAdded     = "sticky-added"
	evtCanvasCleared   = "canvas-cleared"
	evtCursorUpdate    = "cursor-update"
	evtChatMessage     = "chat-message"
	evtSettingsUpdated = "settings-updated"
	evtGrantUpdated    = "grant-updated"
	evtSnapshotSaved   = "snapshot-saved"
	evtError           = "error"
)

// 聊天历史下发给新加入者的条数上限
const chatReplayLimit = 50

type eventKind int

const (
	evConnect eventKind = iota
	evDisconnect
	evFrame
	evSettings
	evGrant
	evSnapshot
	evStop
)

// event 是投递给会话 goroutine 的内部事件。
// 会话的事件通道是房间内的唯一串行化点：
// 操作以会话处理 evFrame 的顺序为全序，广播顺序与之一致。
type event struct {
	kind      eventKind
	out       outbound
	principal domain.Principal
	grant     domain.Grant
	frame     []byte

	settings     domain.RoomSettings // evSettings
	targetUserID uint                // evGrant
	snapshot     *domain.Snapshot    // evSnapshot
}

// clientFrame 是客户端上行帧的信封。
type clientFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// serverFrame 是服务端下行帧的信封。
type serverFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// roomStateData 是发给新加入者的初始状态。
type roomStateData struct {
	Room         roomView           `json:"room"`
	Participants []memberInfo       `json:"participants"`
	Snapshot     *domain.Snapshot   `json:"snapshot,omitempty"`
	Operations   []domain.Operation `json:"operations"`
	Chat         []domain.ChatMessage `json:"chat"`
}

// roomView 是下发给客户端的房间视图。
type roomView struct {
	ID       uint                `json:"id"`
	Title    string              `json:"title"`
	RoomCode string              `json:"roomCode"`
	IsPublic bool                `json:"isPublic"`
	Settings domain.RoomSettings `json:"settings"`
}

// session 是单个房间的协调器：一个 goroutine 从事件通道
// 顺序消费连接、断开、画布帧与管理通知。
// 所有会话内状态 (presence / oplog / settings) 只被这个 goroutine 访问。
type session struct {
	roomID   uint
	hub      *Hub
	events   chan event
	presence *presenceTable
	oplog    *opLog
	settings domain.RoomSettings
	room     *domain.Room
	warmed   bool
}

func newSession(h *Hub, room *domain.Room, settings domain.RoomSettings) *session {
	return &session{
		roomID:   room.ID,
		hub:      h,
		events:   make(chan event, sessionQueueSize),
		presence: newPresenceTable(),
		oplog:    newOpLog(),
		settings: settings,
		room:     room,
	}
}

// run 是会话的主循环。最后一个参与者离开后会话排水并退出。
func (s *session) run() {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": s.roomID, "component": "session"})
	logCtx.Info("Session activated")

	for ev := range s.events {
		switch ev.kind {
		case evConnect:
			s.handleConnect(ev)
		case evDisconnect:
			s.handleDisconnect(ev)
			if s.presence.Len() == 0 && s.hub.tryRetire(s) {
				s.drain()
				logCtx.Info("Session drained, going dormant")
				return
			}
		case evFrame:
			if s.handleFrame(ev) && s.presence.Len() == 0 && s.hub.tryRetire(s) {
				s.drain()
				logCtx.Info("Session drained, going dormant")
				return
			}
		case evSettings:
			s.handleSettings(ev)
		case evGrant:
			s.handleGrant(ev)
		case evSnapshot:
			s.handleSnapshot(ev)
		case evStop:
			s.presence.Each(func(m *member) { m.out.Close() })
			logCtx.Info("Session stopped")
			return
		}
	}
}

// warm 在第一个连接到来时从 Redis 镜像重建重放缓冲。
// 进程重启后迟到者依然能拿到重启前的操作序列。
func (s *session) warm(ctx context.Context) {
	if s.warmed {
		return
	}
	s.warmed = true
	if s.hub.stateRepo == nil {
		return
	}
	ops, err := s.hub.stateRepo.ReplayOperations(ctx, s.roomID, opLogCap)
	if err != nil {
		logrus.WithField("room_id", s.roomID).WithError(err).
			Warn("Failed to warm replay buffer from state mirror")
		return
	}
	if len(ops) > 0 {
		s.oplog.Warm(ops)
	}
}

func (s *session) handleConnect(ev event) {
	ctx := context.Background()
	logCtx := logrus.WithFields(logrus.Fields{"room_id": s.roomID, "user_id": ev.principal.UserID})
	s.warm(ctx)

	// 容量检查：重连不占新名额
	if s.presence.Get(ev.principal.UserID) == nil && s.presence.Len() >= s.settings.MaxUsers {
		logCtx.Warn("Connection rejected: room is full")
		s.sendTo(ev.out, evtError, map[string]string{"message": service.ReasonRoomFull})
		ev.out.Close()
		return
	}

	replaced := s.presence.Add(ev.principal, ev.grant, ev.out, time.Now().UTC())
	if replaced != nil {
		logCtx.Info("Connection replaced by a newer one for the same user")
		replaced.Close()
	}

	// 新加入者先拿到完整状态：房间视图、在线列表、快照基线、
	// 快照之后的操作序列、最近聊天
	var snapshot *domain.Snapshot
	if s.hub.snapshotSvc != nil {
		snap, err := s.hub.snapshotSvc.Latest(ctx, s.roomID)
		if err != nil {
			logCtx.WithError(err).Warn("Failed to load latest snapshot for joiner")
		} else {
			snapshot = snap
		}
	}
	var chat []domain.ChatMessage
	if s.hub.stateRepo != nil {
		msgs, err := s.hub.stateRepo.RecentChat(ctx, s.roomID, chatReplayLimit)
		if err != nil {
			logCtx.WithError(err).Warn("Failed to load chat history for joiner")
		} else {
			chat = msgs
		}
	}
	s.sendTo(ev.out, evtRoomState, roomStateData{
		Room: roomView{
			ID:       s.room.ID,
			Title:    s.room.Title,
			RoomCode: s.room.RoomCode,
			IsPublic: s.room.IsPublic,
			Settings: s.settings,
		},
		Participants: s.presence.List(),
		Snapshot:     snapshot,
		Operations:   s.oplog.Replay(),
		Chat:         chat,
	})

	if replaced == nil {
		m := s.presence.Get(ev.principal.UserID)
		s.broadcast(evtUserJoined, m.info(), ev.principal.UserID)
	}
	logCtx.Info("Participant connected to session")
}

func (s *session) handleDisconnect(ev event) {
	m := s.presence.Remove(ev.principal.UserID, ev.out)
	if m == nil {
		return // 被替换连接的迟到断开，忽略
	}
	m.out.Close()
	s.broadcast(evtUserLeft, map[string]uint{"userId": ev.principal.UserID}, ev.principal.UserID)
	logrus.WithFields(logrus.Fields{"room_id": s.roomID, "user_id": ev.principal.UserID}).
		Info("Participant disconnected from session")
}

// handleFrame 派发一条客户端上行帧。
// 返回 true 表示该成员已通过 leave-canvas-room 离开房间。
func (s *session) handleFrame(ev event) bool {
	m := s.presence.Get(ev.principal.UserID)
	if m == nil || m.out != ev.out {
		return false // 未注册或已被替换的连接
	}
	logCtx := logrus.WithFields(logrus.Fields{"room_id": s.roomID, "user_id": ev.principal.UserID})

	var frame clientFrame
	if err := json.Unmarshal(ev.frame, &frame); err != nil {
		logCtx.WithError(err).Debug("Dropping malformed client frame")
		s.sendTo(m.out, evtError, map[string]string{"message": "Malformed frame"})
		return false
	}

	switch frame.Event {
	case evtCanvasDraw:
		s.acceptOperation(m, domain.OpDraw, frame.Data, m.grant.CanDraw, evtDrawUpdate)
	case evtAddShape:
		s.acceptOperation(m, domain.OpShape, frame.Data, m.grant.CanEdit, evtShapeAdded)
	case evtAddText:
		s.acceptOperation(m, domain.OpText, frame.Data, m.grant.CanEdit, evtTextAdded)
	case evtAddSticky:
		s.acceptOperation(m, domain.OpSticky, frame.Data, m.grant.CanEdit, evtStickyAdded)
	case evtClear:
		s.handleClear(m)
	case evtCursorMove:
		s.handleCursor(m, frame.Data)
	case evtChat:
		s.handleChat(m, frame.Data)
	case evtLeaveRoom:
		// 显式离开：与传输层断开等价，连接随之关闭
		s.handleDisconnect(event{kind: evDisconnect, out: m.out, principal: ev.principal})
		return true
	default:
		logCtx.WithField("event", frame.Event).Debug("Dropping frame with unknown event")
	}
	return false
}

// acceptOperation 是所有画布变更的统一入口：能力检查、设置检查、
// 分配操作 ID、进入重放缓冲与 Redis 镜像、按接受顺序广播。
func (s *session) acceptOperation(m *member, kind string, payload json.RawMessage, capable bool, outEvent string) {
	logCtx := logrus.WithFields(logrus.Fields{
		"room_id": s.roomID,
		"user_id": m.principal.UserID,
		"kind":    kind,
	})
	if !capable {
		logCtx.Debug("Operation rejected: capability denied")
		s.sendTo(m.out, evtError, map[string]string{"message": "You do not have permission for this action"})
		return
	}
	if !allowedBySettings(kind, s.settings) {
		logCtx.Debug("Operation rejected by room settings")
		s.sendTo(m.out, evtError, map[string]string{"message": "This action is disabled in this room"})
		return
	}

	op := domain.Operation{
		ID:        uuid.NewString(),
		RoomID:    s.roomID,
		UserID:    m.principal.UserID,
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	s.oplog.Append(op)
	if s.hub.stateRepo != nil {
		if err := s.hub.stateRepo.PushOperation(context.Background(), s.roomID, op); err != nil {
			logCtx.WithError(err).Warn("Failed to mirror operation to state store")
		}
	}
	s.broadcast(outEvent, op, m.principal.UserID)
}

// handleClear 清空画布。只有主持人或管理员可以执行。
func (s *session) handleClear(m *member) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": s.roomID, "user_id": m.principal.UserID})
	if !m.grant.IsModerator && !m.principal.IsAdmin() {
		logCtx.Debug("Clear rejected: not a moderator")
		s.sendTo(m.out, evtError, map[string]string{"message": "Only moderators can clear the canvas"})
		return
	}
	if s.settings.ReadOnly {
		s.sendTo(m.out, evtError, map[string]string{"message": "This action is disabled in this room"})
		return
	}

	s.oplog.Clear()
	if s.hub.stateRepo != nil {
		if err := s.hub.stateRepo.ClearOperations(context.Background(), s.roomID); err != nil {
			logCtx.WithError(err).Warn("Failed to clear operation mirror")
		}
	}
	s.broadcast(evtCanvasCleared, map[string]uint{"userId": m.principal.UserID}, m.principal.UserID)
	logCtx.Info("Canvas cleared")
}

// handleCursor 更新光标位置并转发。光标帧允许丢失，不进重放缓冲。
func (s *session) handleCursor(m *member, data json.RawMessage) {
	var pos domain.CursorPosition
	if err := json.Unmarshal(data, &pos); err != nil {
		return
	}
	s.presence.SetCursor(m.principal.UserID, pos)
	s.broadcast(evtCursorUpdate, map[string]interface{}{
		"userId": m.principal.UserID,
		"x":      pos.X,
		"y":      pos.Y,
	}, m.principal.UserID)
}

// handleChat 接受一条聊天消息，写入历史并转发。
func (s *session) handleChat(m *member, data json.RawMessage) {
	var in struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &in); err != nil || in.Message == "" {
		return
	}
	msg := domain.ChatMessage{
		ID:        uuid.NewString(),
		UserID:    m.principal.UserID,
		UserName:  m.principal.Name,
		Message:   in.Message,
		Timestamp: time.Now().UTC(),
	}
	if s.hub.stateRepo != nil {
		if err := s.hub.stateRepo.PushChatMessage(context.Background(), s.roomID, msg); err != nil {
			logrus.WithField("room_id", s.roomID).WithError(err).
				Warn("Failed to persist chat message")
		}
	}
	s.broadcast(evtChatMessage, msg, m.principal.UserID)
}

// handleSettings 应用 REST 层推来的设置变更并通知所有在线参与者。
func (s *session) handleSettings(ev event) {
	s.settings = ev.settings
	s.broadcast(evtSettingsUpdated, ev.settings, 0)
}

// handleGrant 应用授权变更。目标在线时立即生效并通知全房间。
func (s *session) handleGrant(ev event) {
	m := s.presence.Get(ev.targetUserID)
	if m != nil {
		m.grant = ev.grant
	}
	s.broadcast(evtGrantUpdated, map[string]interface{}{
		"userId": ev.targetUserID,
		"grant":  ev.grant,
	}, 0)
}

// handleSnapshot 在快照落库后把重放缓冲重置到新基线。
func (s *session) handleSnapshot(ev event) {
	s.oplog.Clear()
	if ev.snapshot != nil {
		s.broadcast(evtSnapshotSaved, map[string]uint{"version": ev.snapshot.Version}, 0)
	}
}

// drain 在会话退出前把未快照的操作交给后台持久化。
// 入队失败只记录：Redis 镜像仍然保留这些操作，
// 下一次排水或显式保存会把它们带上。
func (s *session) drain() {
	if s.oplog.Len() == 0 || s.hub.enqueuer == nil {
		return
	}
	task, err := tasks.NewSnapshotPersistTask(s.roomID, 0)
	if err != nil {
		logrus.WithField("room_id", s.roomID).WithError(err).Error("Failed to build snapshot persist task")
		return
	}
	if _, err := s.hub.enqueuer.Enqueue(task); err != nil {
		logrus.WithField("room_id", s.roomID).WithError(err).Warn("Failed to enqueue snapshot persist task")
		return
	}
	logrus.WithFields(logrus.Fields{"room_id": s.roomID, "pending_ops": s.oplog.Len()}).
		Info("Snapshot persist task enqueued on drain")
}

// sendTo 给单个出口发送一帧。
func (s *session) sendTo(out outbound, event string, data interface{}) {
	bytes, err := json.Marshal(serverFrame{Event: event, Data: data})
	if err != nil {
		logrus.WithField("room_id", s.roomID).WithError(err).Error("Failed to marshal server frame")
		return
	}
	out.Enqueue(bytes)
}

// broadcast 按加入顺序给房间内所有在线参与者发送一帧，
// excludeUserID 非 0 时跳过该用户 (通常是动作的发起者)。
func (s *session) broadcast(event string, data interface{}, excludeUserID uint) {
	bytes, err := json.Marshal(serverFrame{Event: event, Data: data})
	if err != nil {
		logrus.WithField("room_id", s.roomID).WithError(err).Error("Failed to marshal broadcast frame")
		return
	}
	s.presence.Each(func(m *member) {
		if excludeUserID != 0 && m.principal.UserID == excludeUserID {
			return
		}
		m.out.Enqueue(bytes)
	})
}
