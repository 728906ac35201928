package repository

import (
	"context"

	"canvas-collab/internal/domain"
)

// SnapshotRepository 定义了快照在持久化存储（数据库）中的操作。
// 快照只追加，从不修改。
type SnapshotRepository interface {
	// Latest 获取指定房间版本号最大的快照。
	// 没有快照时返回 ErrSnapshotNotFound。
	Latest(ctx context.Context, roomID uint) (*domain.Snapshot, error)

	// FindByVersion 按版本号获取快照。
	FindByVersion(ctx context.Context, roomID uint, version uint) (*domain.Snapshot, error)

	// ListRecent 按版本倒序返回最近的快照。
	ListRecent(ctx context.Context, roomID uint, limit int) ([]domain.Snapshot, error)

	// Save 插入新的快照记录。(room_id, version) 冲突时返回
	// ErrDuplicateEntry，调用方据此重新计算版本号并重试。
	Save(ctx context.Context, snapshot *domain.Snapshot) error
}
