package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"canvas-collab/internal/domain"
	"canvas-collab/internal/repository"
)

// GormParticipantRepository 是 ParticipantRepository 接口的 GORM 实现
type GormParticipantRepository struct {
	db *gorm.DB
}

// NewGormParticipantRepository 创建 GormParticipantRepository 实例
func NewGormParticipantRepository(db *gorm.DB) *GormParticipantRepository {
	if db == nil {
		panic("database connection cannot be nil for GormParticipantRepository")
	}
	return &GormParticipantRepository{db: db}
}

// Find 实现根据 (roomID, userID) 组合键查找参与记录
func (r *GormParticipantRepository) Find(ctx context.Context, roomID, userID uint) (*domain.Participant, error) {
	var participant domain.Participant
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&participant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrParticipantNotFound
		}
		return nil, fmt.Errorf("gorm: find participant (room %d, user %d): %w", roomID, userID, err)
	}
	return &participant, nil
}

// Save 实现保存参与记录
func (r *GormParticipantRepository) Save(ctx context.Context, participant *domain.Participant) error {
	err := r.db.WithContext(ctx).Save(participant).Error
	if err != nil {
		// (room_id, user_id) 唯一约束：并发的首次加入中只有一个插入成功
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save participant (room %d, user %d): %w", participant.RoomID, participant.UserID, err)
	}
	return nil
}

// ListByRoom 实现按 joined_at 升序列出房间的全部参与记录
func (r *GormParticipantRepository) ListByRoom(ctx context.Context, roomID uint) ([]domain.Participant, error) {
	var participants []domain.Participant
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("joined_at ASC").
		Find(&participants).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list participants for room %d: %w", roomID, err)
	}
	return participants, nil
}

// Remove 实现删除参与记录
func (r *GormParticipantRepository) Remove(ctx context.Context, roomID, userID uint) error {
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Delete(&domain.Participant{}).Error
	if err != nil {
		return fmt.Errorf("gorm: remove participant (room %d, user %d): %w", roomID, userID, err)
	}
	return nil
}

// Touch 实现更新参与者的 last_active 时间戳
func (r *GormParticipantRepository) Touch(ctx context.Context, roomID, userID uint, at time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&domain.Participant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Update("last_active", at).Error
	if err != nil {
		return fmt.Errorf("gorm: touch participant (room %d, user %d): %w", roomID, userID, err)
	}
	return nil
}

// UpdateGrant 实现授权的 compare-and-set。
// 仅当当前 permissions 等于 expected 时才更新，避免并发覆盖。
func (r *GormParticipantRepository) UpdateGrant(ctx context.Context, roomID, userID uint, permissions, expected string) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Participant{}).
		Where("room_id = ? AND user_id = ? AND permissions = ?", roomID, userID, expected).
		Update("permissions", permissions)
	if result.Error != nil {
		return fmt.Errorf("gorm: update grant (room %d, user %d): %w", roomID, userID, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrConflict
	}
	return nil
}

// RoomIDsByUser 实现按加入时间倒序返回用户参与过的房间 ID
func (r *GormParticipantRepository) RoomIDsByUser(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&domain.Participant{}).
		Where("user_id = ?", userID).
		Order("joined_at DESC").
		Pluck("room_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: room ids for user %d: %w", userID, err)
	}
	return ids, nil
}
