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

// GormRoomRepository 是 RoomRepository 接口的 GORM 实现
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository 创建 GormRoomRepository 实例
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

// FindByID 实现根据房间 ID 查找房间 (不论是否活跃)
func (r *GormRoomRepository) FindByID(ctx context.Context, id uint) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).First(&room, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by id %d: %w", id, err)
	}
	return &room, nil
}

// FindActiveByID 实现根据房间 ID 查找活跃房间
func (r *GormRoomRepository) FindActiveByID(ctx context.Context, id uint) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Where("id = ? AND is_active = ?", id, true).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find active room by id %d: %w", id, err)
	}
	return &room, nil
}

// FindActiveByCode 实现根据房间短码查找活跃房间
func (r *GormRoomRepository) FindActiveByCode(ctx context.Context, code string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Where("room_code = ? AND is_active = ?", code, true).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find active room by code '%s': %w", code, err)
	}
	return &room, nil
}

// Save 实现保存房间信息（创建或更新）
func (r *GormRoomRepository) Save(ctx context.Context, room *domain.Room) error {
	err := r.db.WithContext(ctx).Save(room).Error
	if err != nil {
		// 唯一约束检查 (MySQL error 1062)，房间短码冲突走这里
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: save room (id: %d, room_code: %s): %w", room.ID, room.RoomCode, err)
	}
	return nil
}

// Archive 实现将房间标记为非活跃。幂等：已归档的房间是 no-op。
func (r *GormRoomRepository) Archive(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).
		Model(&domain.Room{}).
		Where("id = ?", id).
		Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("gorm: archive room %d: %w", id, err)
	}
	return nil
}

// IsRoomCodeTaken 实现检查房间短码是否已被占用
func (r *GormRoomRepository) IsRoomCodeTaken(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.Room{}).Where("room_code = ?", code).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("gorm: count rooms by code '%s': %w", code, err)
	}
	return count > 0, nil
}

// FindExpired 实现查找已过期但仍活跃的房间
func (r *GormRoomRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]domain.Room, error) {
	var rooms []domain.Room
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND expires_at IS NOT NULL AND expires_at < ?", true, now).
		Limit(limit).
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find expired rooms: %w", err)
	}
	return rooms, nil
}

// FindByCompany 实现分页查询公司范围内的房间
func (r *GormRoomRepository) FindByCompany(ctx context.Context, companyID uint, offset, limit int, activeOnly bool) ([]domain.Room, int64, error) {
	var rooms []domain.Room
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Room{}).Where("company_id = ?", companyID)
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("gorm: count company rooms (company %d): %w", companyID, err)
	}
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&rooms).Error
	if err != nil {
		return nil, 0, fmt.Errorf("gorm: find company rooms (company %d): %w", companyID, err)
	}
	return rooms, total, nil
}

// FindByIDs 实现根据 ID 列表批量获取房间信息
func (r *GormRoomRepository) FindByIDs(ctx context.Context, ids []uint) ([]domain.Room, error) {
	var rooms []domain.Room
	if len(ids) == 0 {
		return rooms, nil // 避免空的 IN 查询，直接返回空 slice
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find rooms by ids: %w", err)
	}
	return rooms, nil
}
