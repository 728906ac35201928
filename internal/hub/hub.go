package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"canvas-collab/internal/domain"
	"canvas-collab/internal/repository"
	"canvas-collab/internal/service"
)

// TaskEnqueuer 是会话排水时投递后台任务的出口。
// *asynq.Client 实现了它。
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Hub 维护活跃房间会话的注册表。
// 每个有在线参与者的房间对应一个会话 goroutine；
// 最后一个参与者离开后会话排水并从注册表中移除。
type Hub struct {
	mu       sync.Mutex
	sessions map[uint]*session

	snapshotSvc *service.SnapshotService
	stateRepo   repository.StateRepository
	enqueuer    TaskEnqueuer
}

// NewHub 创建 Hub 实例。
func NewHub(snapshotSvc *service.SnapshotService, stateRepo repository.StateRepository, enqueuer TaskEnqueuer) *Hub {
	if snapshotSvc == nil {
		panic("SnapshotService cannot be nil for Hub")
	}
	return &Hub{
		sessions:    make(map[uint]*session),
		snapshotSvc: snapshotSvc,
		stateRepo:   stateRepo,
		enqueuer:    enqueuer,
	}
}

// Connect 把一条已通过准入评估的 WebSocket 连接接入房间会话。
// 房间会话不存在时被激活。容量检查在会话内完成。
func (h *Hub) Connect(conn *websocket.Conn, room *domain.Room, p domain.Principal, grant domain.Grant) error {
	settings, err := room.ParseSettings()
	if err != nil {
		return err
	}

	h.mu.Lock()
	s, ok := h.sessions[room.ID]
	if !ok {
		s = newSession(h, room, settings)
		h.sessions[room.ID] = s
		go s.run()
	}
	client := newClient(conn, s, p)
	// 持锁投递：tryRetire 在同一把锁下检查队列，
	// 保证排水中的会话不会漏掉新连接
	s.events <- event{kind: evConnect, out: client, principal: p, grant: grant}
	h.mu.Unlock()

	client.Run()
	return nil
}

// tryRetire 尝试把空会话从注册表中摘除。
// 必须在会话 goroutine 处理完一个事件后调用。
// 返回 false 表示有新事件已经入队，会话应继续运行。
func (h *Hub) tryRetire(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(s.events) > 0 {
		return false
	}
	if h.sessions[s.roomID] == s {
		delete(h.sessions, s.roomID)
	}
	return true
}

// NotifySettings 把 REST 层的设置变更推送给活跃会话。
// 房间没有活跃会话时是 no-op，下一次激活会重新读库。
func (h *Hub) NotifySettings(roomID uint, settings domain.RoomSettings) {
	h.notify(roomID, event{kind: evSettings, settings: settings})
}

// NotifyGrant 把授权变更推送给活跃会话，在线目标立即生效。
func (h *Hub) NotifyGrant(roomID, userID uint, grant domain.Grant) {
	h.notify(roomID, event{kind: evGrant, targetUserID: userID, grant: grant})
}

// NotifySnapshot 在快照落库后通知会话重置重放基线。
func (h *Hub) NotifySnapshot(roomID uint, snapshot *domain.Snapshot) {
	h.notify(roomID, event{kind: evSnapshot, snapshot: snapshot})
}

func (h *Hub) notify(roomID uint, ev event) {
	h.mu.Lock()
	s, ok := h.sessions[roomID]
	if ok {
		select {
		case s.events <- ev:
		default:
			logrus.WithField("room_id", roomID).Warn("Session event channel full, dropping notification")
		}
	}
	h.mu.Unlock()
}

// ActiveRooms 返回当前有在线参与者的房间数。
func (h *Hub) ActiveRooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown 停止所有活跃会话并断开其客户端。
func (h *Hub) Shutdown() {
	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[uint]*session)
	h.mu.Unlock()

	for _, s := range sessions {
		select {
		case s.events <- event{kind: evStop}:
		case <-time.After(1 * time.Second):
			logrus.WithField("room_id", s.roomID).Warn("Timeout stopping session during shutdown")
		}
	}
	logrus.WithField("session_count", len(sessions)).Info("Hub shut down")
}
