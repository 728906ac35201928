package repository

import (
	"context"
	"time"

	"canvas-collab/internal/domain"
)

// ParticipantRepository 定义了参与者记录的存储和检索操作。
// 参与记录是历史性的：断开连接只影响内存中的在线状态，不删除记录。
type ParticipantRepository interface {
	// Find 根据 (roomID, userID) 组合键查找参与记录。
	// 不存在时返回 ErrParticipantNotFound。
	Find(ctx context.Context, roomID, userID uint) (*domain.Participant, error)

	// Save 保存参与记录。违反 (room_id, user_id) 唯一约束时返回 ErrDuplicateEntry。
	Save(ctx context.Context, participant *domain.Participant) error

	// ListByRoom 按 joined_at 升序列出房间的全部参与记录。
	ListByRoom(ctx context.Context, roomID uint) ([]domain.Participant, error)

	// Remove 删除参与记录 (显式离开房间)。
	Remove(ctx context.Context, roomID, userID uint) error

	// Touch 更新参与者的 last_active 时间戳。
	Touch(ctx context.Context, roomID, userID uint, at time.Time) error

	// UpdateGrant 对参与者的授权做 compare-and-set：
	// 仅当当前 permissions 等于 expected 时更新为 permissions。
	// 没有命中任何行时返回 ErrConflict。
	UpdateGrant(ctx context.Context, roomID, userID uint, permissions, expected string) error

	// RoomIDsByUser 按加入时间倒序返回用户参与过的房间 ID。
	RoomIDsByUser(ctx context.Context, userID uint) ([]uint, error)
}
