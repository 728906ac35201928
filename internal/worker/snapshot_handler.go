package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"canvas-collab/internal/domain"
	"canvas-collab/internal/repository"
	"canvas-collab/internal/service"
	"canvas-collab/internal/tasks"
)

// SnapshotPersistHandler 处理会话排水后的快照持久化任务：
// 从 Redis 重放镜像取出操作序列落库，成功后清空镜像。
type SnapshotPersistHandler struct {
	snapshotService *service.SnapshotService
	stateRepo       repository.StateRepository
}

// NewSnapshotPersistHandler 创建 Handler 实例。
func NewSnapshotPersistHandler(snapshotService *service.SnapshotService, stateRepo repository.StateRepository) *SnapshotPersistHandler {
	if snapshotService == nil {
		panic("SnapshotService cannot be nil for SnapshotPersistHandler")
	}
	if stateRepo == nil {
		panic("StateRepository cannot be nil for SnapshotPersistHandler")
	}
	return &SnapshotPersistHandler{snapshotService: snapshotService, stateRepo: stateRepo}
}

// ProcessTask 实现 asynq.Handler 接口。
func (h *SnapshotPersistHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.SnapshotPersistPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		logrus.WithError(err).Error("Failed to unmarshal snapshot persist payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx := logrus.WithFields(logrus.Fields{
		"task_type": t.Type(),
		"room_id":   payload.RoomID,
	})
	logCtx.Info("Processing snapshot persist task...")

	ops, err := h.stateRepo.ReplayOperations(ctx, payload.RoomID, 0)
	if err != nil {
		logCtx.WithError(err).Error("Failed to read operation mirror")
		return fmt.Errorf("failed to read operation mirror for room %d: %w", payload.RoomID, err)
	}
	if len(ops) == 0 {
		// 排水和任务执行之间镜像被清空了 (显式保存或清屏)
		logCtx.Info("Operation mirror empty, nothing to persist")
		return nil
	}

	data, err := json.Marshal(domain.ReplayData{Operations: ops})
	if err != nil {
		logCtx.WithError(err).Error("Failed to marshal replay data")
		return fmt.Errorf("failed to marshal replay data: %v: %w", err, asynq.SkipRetry)
	}

	snapshot, err := h.snapshotService.Persist(ctx, payload.RoomID, payload.UserID, string(data))
	if err != nil {
		logCtx.WithError(err).Error("Failed to persist snapshot")
		return fmt.Errorf("failed to persist snapshot for room %d: %w", payload.RoomID, err)
	}

	// 操作已经进了快照，镜像可以清掉；失败只记录，下次排水会带上
	if err := h.stateRepo.ClearOperations(ctx, payload.RoomID); err != nil {
		logCtx.WithError(err).Warn("Failed to clear operation mirror after persist")
	}

	logCtx.WithFields(logrus.Fields{"version": snapshot.Version, "op_count": len(ops)}).
		Info("Snapshot persist task processed successfully")
	return nil
}
