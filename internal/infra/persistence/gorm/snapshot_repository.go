package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"canvas-collab/internal/domain"
	"canvas-collab/internal/repository"
)

// GormSnapshotRepository 是 SnapshotRepository 接口的 GORM 实现
type GormSnapshotRepository struct {
	db *gorm.DB
}

// NewGormSnapshotRepository 创建 GormSnapshotRepository 实例
func NewGormSnapshotRepository(db *gorm.DB) *GormSnapshotRepository {
	if db == nil {
		panic("database connection cannot be nil for GormSnapshotRepository")
	}
	return &GormSnapshotRepository{db: db}
}

// Latest 实现获取指定房间版本号最大的快照
func (r *GormSnapshotRepository) Latest(ctx context.Context, roomID uint) (*domain.Snapshot, error) {
	var snapshot domain.Snapshot
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("version DESC").
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("gorm: latest snapshot for room %d: %w", roomID, err)
	}
	return &snapshot, nil
}

// FindByVersion 实现按版本号获取快照
func (r *GormSnapshotRepository) FindByVersion(ctx context.Context, roomID uint, version uint) (*domain.Snapshot, error) {
	var snapshot domain.Snapshot
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND version = ?", roomID, version).
		First(&snapshot).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("gorm: snapshot v%d for room %d: %w", version, roomID, err)
	}
	return &snapshot, nil
}

// ListRecent 实现按版本倒序返回最近的快照
func (r *GormSnapshotRepository) ListRecent(ctx context.Context, roomID uint, limit int) ([]domain.Snapshot, error) {
	if limit <= 0 {
		limit = 10
	}
	var snapshots []domain.Snapshot
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("version DESC").
		Limit(limit).
		Find(&snapshots).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list snapshots for room %d: %w", roomID, err)
	}
	return snapshots, nil
}

// Save 实现插入新的快照记录。
// (room_id, version) 唯一索引把并发保存的版本竞争暴露为 ErrDuplicateEntry。
func (r *GormSnapshotRepository) Save(ctx context.Context, snapshot *domain.Snapshot) error {
	err := r.db.WithContext(ctx).Create(snapshot).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save snapshot (room %d, version %d): %w", snapshot.RoomID, snapshot.Version, err)
	}
	return nil
}
