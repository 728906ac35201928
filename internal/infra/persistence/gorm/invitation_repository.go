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

// GormInvitationRepository 是 InvitationRepository 接口的 GORM 实现
type GormInvitationRepository struct {
	db *gorm.DB
}

// NewGormInvitationRepository 创建 GormInvitationRepository 实例
func NewGormInvitationRepository(db *gorm.DB) *GormInvitationRepository {
	if db == nil {
		panic("database connection cannot be nil for GormInvitationRepository")
	}
	return &GormInvitationRepository{db: db}
}

// Create 实现插入新的邀请记录
func (r *GormInvitationRepository) Create(ctx context.Context, invitation *domain.Invitation) error {
	err := r.db.WithContext(ctx).Create(invitation).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create invitation (room %d): %w", invitation.RoomID, err)
	}
	return nil
}

// FindByToken 实现根据令牌查找邀请
func (r *GormInvitationRepository) FindByToken(ctx context.Context, token string) (*domain.Invitation, error) {
	var invitation domain.Invitation
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&invitation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrInvitationNotFound
		}
		return nil, fmt.Errorf("gorm: find invitation by token: %w", err)
	}
	return &invitation, nil
}

// FindByID 实现根据 ID 查找邀请
func (r *GormInvitationRepository) FindByID(ctx context.Context, id uint) (*domain.Invitation, error) {
	var invitation domain.Invitation
	err := r.db.WithContext(ctx).First(&invitation, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrInvitationNotFound
		}
		return nil, fmt.Errorf("gorm: find invitation by id %d: %w", id, err)
	}
	return &invitation, nil
}

// FindPendingFor 实现查找指向给定用户的未过期 pending 邀请
func (r *GormInvitationRepository) FindPendingFor(ctx context.Context, roomID, userID uint, email string, now time.Time) (*domain.Invitation, error) {
	var invitation domain.Invitation
	query := r.db.WithContext(ctx).
		Where("room_id = ? AND status = ? AND expires_at > ?", roomID, domain.InvitationPending, now)
	if email != "" {
		query = query.Where("invited_user_id = ? OR invited_email = ?", userID, email)
	} else {
		query = query.Where("invited_user_id = ?", userID)
	}
	err := query.Order("created_at ASC").First(&invitation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrInvitationNotFound
		}
		return nil, fmt.Errorf("gorm: find pending invitation (room %d, user %d): %w", roomID, userID, err)
	}
	return &invitation, nil
}

// Consume 实现邀请的原子消费：条件更新 pending → accepted。
// 两个并发兑换中恰好一个命中行，另一个收到 ErrConflict。
func (r *GormInvitationRepository) Consume(ctx context.Context, id uint, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&domain.Invitation{}).
		Where("id = ? AND status = ? AND expires_at > ?", id, domain.InvitationPending, at).
		Updates(map[string]interface{}{
			"status":      domain.InvitationAccepted,
			"accepted_at": at,
		})
	if result.Error != nil {
		return fmt.Errorf("gorm: consume invitation %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrConflict
	}
	return nil
}

// UpdateStatus 实现非竞争路径的状态更新 (revoke / expire)
func (r *GormInvitationRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	err := r.db.WithContext(ctx).
		Model(&domain.Invitation{}).
		Where("id = ?", id).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("gorm: update invitation %d status to %s: %w", id, status, err)
	}
	return nil
}

// ListByRoom 实现按创建时间倒序列出房间的全部邀请
func (r *GormInvitationRepository) ListByRoom(ctx context.Context, roomID uint) ([]domain.Invitation, error) {
	var invitations []domain.Invitation
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Find(&invitations).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: list invitations for room %d: %w", roomID, err)
	}
	return invitations, nil
}
