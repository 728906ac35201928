package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"canvas-collab/internal/repository"
)

// 每次扫描处理的过期房间数上限
const expirySweepBatch = 100

// RoomExpirySweepHandler 处理周期性的过期房间归档任务。
// 超过 expires_at 的活跃房间被归档，其 Redis 状态被清理。
type RoomExpirySweepHandler struct {
	roomRepo  repository.RoomRepository
	stateRepo repository.StateRepository
}

// NewRoomExpirySweepHandler 创建 Handler 实例。
func NewRoomExpirySweepHandler(roomRepo repository.RoomRepository, stateRepo repository.StateRepository) *RoomExpirySweepHandler {
	if roomRepo == nil {
		panic("RoomRepository cannot be nil for RoomExpirySweepHandler")
	}
	return &RoomExpirySweepHandler{roomRepo: roomRepo, stateRepo: stateRepo}
}

// ProcessTask 实现 asynq.Handler 接口。
func (h *RoomExpirySweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := logrus.WithField("task_type", t.Type())
	logCtx.Info("Processing room expiry sweep...")

	rooms, err := h.roomRepo.FindExpired(ctx, time.Now().UTC(), expirySweepBatch)
	if err != nil {
		logCtx.WithError(err).Error("Failed to find expired rooms")
		return fmt.Errorf("failed to find expired rooms: %w", err)
	}
	if len(rooms) == 0 {
		logCtx.Debug("No expired rooms found")
		return nil
	}

	archived := 0
	for i := range rooms {
		room := &rooms[i]
		roomCtx := logCtx.WithField("room_id", room.ID)
		if err := h.roomRepo.Archive(ctx, room.ID); err != nil {
			// 单个房间失败不阻塞整批，下一轮扫描会再捞到它
			roomCtx.WithError(err).Error("Failed to archive expired room")
			continue
		}
		if h.stateRepo != nil {
			if err := h.stateRepo.CleanupRoomState(ctx, room.ID); err != nil {
				roomCtx.WithError(err).Warn("Failed to clean up room state after expiry")
			}
		}
		archived++
	}

	logCtx.WithFields(logrus.Fields{"expired": len(rooms), "archived": archived}).
		Info("Room expiry sweep completed")
	return nil
}
