package repository

import (
	"context"
	"time"

	"canvas-collab/internal/domain"
)

// InvitationRepository 定义了邀请的存储与原子消费操作。
type InvitationRepository interface {
	// Create 插入新的邀请记录。Token 冲突时返回 ErrDuplicateEntry。
	Create(ctx context.Context, invitation *domain.Invitation) error

	// FindByToken 根据令牌查找邀请 (不论状态)。
	// 不存在时返回 ErrInvitationNotFound。
	FindByToken(ctx context.Context, token string) (*domain.Invitation, error)

	// FindByID 根据 ID 查找邀请。
	FindByID(ctx context.Context, id uint) (*domain.Invitation, error)

	// FindPendingFor 查找指向给定用户 (按 user id 或 email) 的、
	// 未过期的 pending 邀请。没有时返回 ErrInvitationNotFound。
	FindPendingFor(ctx context.Context, roomID, userID uint, email string, now time.Time) (*domain.Invitation, error)

	// Consume 原子地将邀请从 pending 置为 accepted。
	// 实现必须是条件更新 (status='pending' AND expires_at > now)，
	// 绝不能是读后写。没有命中任何行时返回 ErrConflict ——
	// 这是并发兑换竞争中败者看到的错误。
	Consume(ctx context.Context, id uint, at time.Time) error

	// UpdateStatus 更新邀请状态 (revoke / expire 等非竞争路径)。
	UpdateStatus(ctx context.Context, id uint, status string) error

	// ListByRoom 按创建时间倒序列出房间的全部邀请。
	ListByRoom(ctx context.Context, roomID uint) ([]domain.Invitation, error)
}
