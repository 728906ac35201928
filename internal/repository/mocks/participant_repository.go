package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"canvas-collab/internal/domain"
)

// ParticipantRepository 是 repository.ParticipantRepository 的 testify mock。
type ParticipantRepository struct {
	mock.Mock
}

func (m *ParticipantRepository) Find(ctx context.Context, roomID, userID uint) (*domain.Participant, error) {
	args := m.Called(ctx, roomID, userID)
	if p, ok := args.Get(0).(*domain.Participant); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ParticipantRepository) Save(ctx context.Context, participant *domain.Participant) error {
	args := m.Called(ctx, participant)
	return args.Error(0)
}

func (m *ParticipantRepository) ListByRoom(ctx context.Context, roomID uint) ([]domain.Participant, error) {
	args := m.Called(ctx, roomID)
	if list, ok := args.Get(0).([]domain.Participant); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ParticipantRepository) Remove(ctx context.Context, roomID, userID uint) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

func (m *ParticipantRepository) Touch(ctx context.Context, roomID, userID uint, at time.Time) error {
	args := m.Called(ctx, roomID, userID, at)
	return args.Error(0)
}

func (m *ParticipantRepository) UpdateGrant(ctx context.Context, roomID, userID uint, permissions, expected string) error {
	args := m.Called(ctx, roomID, userID, permissions, expected)
	return args.Error(0)
}

func (m *ParticipantRepository) RoomIDsByUser(ctx context.Context, userID uint) ([]uint, error) {
	args := m.Called(ctx, userID)
	if ids, ok := args.Get(0).([]uint); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}
