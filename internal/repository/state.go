package repository

import (
	"context"
	"time"

	"canvas-collab/internal/domain"
)

// StateRepository 定义了与房间实时状态相关的操作，由 Redis 实现。
// 这里存的都是易失数据：重放缓冲的镜像、聊天历史、快照缓存。
// 真实的事实来源始终是数据库 (RoomRepository / SnapshotRepository)。
type StateRepository interface {
	// === Operation Replay Mirror ===

	// PushOperation 将一个操作追加到房间的重放镜像，并保持队列长度上限。
	// 进程重启后会话可以从镜像中暖启动重放缓冲。
	PushOperation(ctx context.Context, roomID uint, op domain.Operation) error

	// ReplayOperations 按接受顺序返回镜像中的操作。
	ReplayOperations(ctx context.Context, roomID uint, limit int) ([]domain.Operation, error)

	// ClearOperations 清空房间的重放镜像 (ClearAll 或快照落库后调用)。
	ClearOperations(ctx context.Context, roomID uint) error

	// === Chat History ===

	// PushChatMessage 将一条聊天消息追加到房间历史，并保持长度上限。
	PushChatMessage(ctx context.Context, roomID uint, msg domain.ChatMessage) error

	// RecentChat 返回最近的聊天消息 (按时间顺序)。
	RecentChat(ctx context.Context, roomID uint, limit int) ([]domain.ChatMessage, error)

	// === Snapshot Caching ===

	// GetSnapshotCache 尝试从缓存中获取最新快照。
	// 缓存未命中时返回 ErrNotFound。
	GetSnapshotCache(ctx context.Context, roomID uint) (*domain.Snapshot, error)

	// SetSnapshotCache 将快照写入缓存。ttl 为 0 表示不过期。
	SetSnapshotCache(ctx context.Context, roomID uint, snapshot *domain.Snapshot, ttl time.Duration) error

	// === Rate Limiting ===

	// CheckRateLimit 检查给定 key 的请求频率是否超限，并递增计数。
	// 返回 true 表示超限。
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)

	// === Cleanup ===

	// CleanupRoomState 删除房间相关的全部 Redis key (归档后调用)。
	CleanupRoomState(ctx context.Context, roomID uint) error
}
