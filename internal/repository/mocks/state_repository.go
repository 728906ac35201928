package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"canvas-collab/internal/domain"
)

// StateRepository 是 repository.StateRepository 的 testify mock。
type StateRepository struct {
	mock.Mock
}

func (m *StateRepository) PushOperation(ctx context.Context, roomID uint, op domain.Operation) error {
	args := m.Called(ctx, roomID, op)
	return args.Error(0)
}

func (m *StateRepository) ReplayOperations(ctx context.Context, roomID uint, limit int) ([]domain.Operation, error) {
	args := m.Called(ctx, roomID, limit)
	if ops, ok := args.Get(0).([]domain.Operation); ok {
		return ops, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StateRepository) ClearOperations(ctx context.Context, roomID uint) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

func (m *StateRepository) PushChatMessage(ctx context.Context, roomID uint, msg domain.ChatMessage) error {
	args := m.Called(ctx, roomID, msg)
	return args.Error(0)
}

func (m *StateRepository) RecentChat(ctx context.Context, roomID uint, limit int) ([]domain.ChatMessage, error) {
	args := m.Called(ctx, roomID, limit)
	if msgs, ok := args.Get(0).([]domain.ChatMessage); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StateRepository) GetSnapshotCache(ctx context.Context, roomID uint) (*domain.Snapshot, error) {
	args := m.Called(ctx, roomID)
	if s, ok := args.Get(0).(*domain.Snapshot); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *StateRepository) SetSnapshotCache(ctx context.Context, roomID uint, snapshot *domain.Snapshot, ttl time.Duration) error {
	args := m.Called(ctx, roomID, snapshot, ttl)
	return args.Error(0)
}

func (m *StateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func (m *StateRepository) CleanupRoomState(ctx context.Context, roomID uint) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}
