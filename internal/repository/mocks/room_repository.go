package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"canvas-collab/internal/domain"
)

// RoomRepository 是 repository.RoomRepository 的 testify mock。
type RoomRepository struct {
	mock.Mock
}

func (m *RoomRepository) FindByID(ctx context.Context, id uint) (*domain.Room, error) {
	args := m.Called(ctx, id)
	if room, ok := args.Get(0).(*domain.Room); ok {
		return room, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RoomRepository) FindActiveByID(ctx context.Context, id uint) (*domain.Room, error) {
	args := m.Called(ctx, id)
	if room, ok := args.Get(0).(*domain.Room); ok {
		return room, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RoomRepository) FindActiveByCode(ctx context.Context, code string) (*domain.Room, error) {
	args := m.Called(ctx, code)
	if room, ok := args.Get(0).(*domain.Room); ok {
		return room, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RoomRepository) Save(ctx context.Context, room *domain.Room) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

func (m *RoomRepository) Archive(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *RoomRepository) IsRoomCodeTaken(ctx context.Context, code string) (bool, error) {
	args := m.Called(ctx, code)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]domain.Room, error) {
	args := m.Called(ctx, now, limit)
	if rooms, ok := args.Get(0).([]domain.Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *RoomRepository) FindByCompany(ctx context.Context, companyID uint, offset, limit int, activeOnly bool) ([]domain.Room, int64, error) {
	args := m.Called(ctx, companyID, offset, limit, activeOnly)
	var rooms []domain.Room
	if r, ok := args.Get(0).([]domain.Room); ok {
		rooms = r
	}
	return rooms, args.Get(1).(int64), args.Error(2)
}

func (m *RoomRepository) FindByIDs(ctx context.Context, ids []uint) ([]domain.Room, error) {
	args := m.Called(ctx, ids)
	if rooms, ok := args.Get(0).([]domain.Room); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
