package repository

import (
	"context"
	"time"

	"canvas-collab/internal/domain"
)

// RoomRepository 定义了房间数据的存储和检索操作。
type RoomRepository interface {
	// FindByID 根据房间 ID 查找房间 (不论是否活跃)。
	// 如果房间不存在，返回 ErrRoomNotFound。
	FindByID(ctx context.Context, id uint) (*domain.Room, error)

	// FindActiveByID 根据房间 ID 查找活跃房间。
	// 已归档或不存在的房间返回 ErrRoomNotFound。
	FindActiveByID(ctx context.Context, id uint) (*domain.Room, error)

	// FindActiveByCode 根据房间短码查找活跃房间。
	FindActiveByCode(ctx context.Context, code string) (*domain.Room, error)

	// Save 保存房间信息。违反 room_code 唯一约束时返回 ErrDuplicateEntry。
	Save(ctx context.Context, room *domain.Room) error

	// Archive 将房间标记为非活跃 (is_active=false)。
	// 幂等：归档已归档的房间不是错误。
	Archive(ctx context.Context, id uint) error

	// IsRoomCodeTaken 检查房间短码是否已被占用。
	IsRoomCodeTaken(ctx context.Context, code string) (bool, error)

	// FindExpired 查找已过期但仍活跃的房间，供后台归档任务使用。
	FindExpired(ctx context.Context, now time.Time, limit int) ([]domain.Room, error)

	// FindByCompany 分页查询公司范围内的房间，返回结果和总数。
	FindByCompany(ctx context.Context, companyID uint, offset, limit int, activeOnly bool) ([]domain.Room, int64, error)

	// FindByIDs 根据一组房间 ID 批量查询房间。
	FindByIDs(ctx context.Context, ids []uint) ([]domain.Room, error)
}
