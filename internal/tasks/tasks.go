package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// 任务类型常量
const (
	TypeSnapshotPersist = "snapshot:persist"  // 会话排水后的快照持久化
	TypeRoomExpirySweep = "room:expiry_sweep" // 过期房间归档扫描
)

// SnapshotPersistPayload 是快照持久化任务的载荷。
// Worker 从 Redis 重放镜像中取出操作序列落库。
type SnapshotPersistPayload struct {
	RoomID uint `json:"room_id"`
	UserID uint `json:"user_id"` // 触发者，后台排水为 0
}

// NewSnapshotPersistTask 创建快照持久化任务。
func NewSnapshotPersistTask(roomID, userID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(SnapshotPersistPayload{RoomID: roomID, UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot persist payload: %w", err)
	}
	return asynq.NewTask(TypeSnapshotPersist, payload), nil
}

// NewRoomExpirySweepTask 创建过期房间扫描任务 (由调度器周期性入队)。
func NewRoomExpirySweepTask() *asynq.Task {
	return asynq.NewTask(TypeRoomExpirySweep, nil)
}
