package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"canvas-collab/internal/domain"
)

// SnapshotRepository 是 repository.SnapshotRepository 的 testify mock。
type SnapshotRepository struct {
	mock.Mock
}

func (m *SnapshotRepository) Latest(ctx context.Context, roomID uint) (*domain.Snapshot, error) {
	args := m.Called(ctx, roomID)
	if s, ok := args.Get(0).(*domain.Snapshot); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SnapshotRepository) FindByVersion(ctx context.Context, roomID uint, version uint) (*domain.Snapshot, error) {
	args := m.Called(ctx, roomID, version)
	if s, ok := args.Get(0).(*domain.Snapshot); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SnapshotRepository) ListRecent(ctx context.Context, roomID uint, limit int) ([]domain.Snapshot, error) {
	args := m.Called(ctx, roomID, limit)
	if list, ok := args.Get(0).([]domain.Snapshot); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SnapshotRepository) Save(ctx context.Context, snapshot *domain.Snapshot) error {
	args := m.Called(ctx, snapshot)
	return args.Error(0)
}
