package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"canvas-collab/internal/domain"
)

// InvitationRepository 是 repository.InvitationRepository 的 testify mock。
type InvitationRepository struct {
	mock.Mock
}

func (m *InvitationRepository) Create(ctx context.Context, invitation *domain.Invitation) error {
	args := m.Called(ctx, invitation)
	return args.Error(0)
}

func (m *InvitationRepository) FindByToken(ctx context.Context, token string) (*domain.Invitation, error) {
	args := m.Called(ctx, token)
	if inv, ok := args.Get(0).(*domain.Invitation); ok {
		return inv, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *InvitationRepository) FindByID(ctx context.Context, id uint) (*domain.Invitation, error) {
	args := m.Called(ctx, id)
	if inv, ok := args.Get(0).(*domain.Invitation); ok {
		return inv, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *InvitationRepository) FindPendingFor(ctx context.Context, roomID, userID uint, email string, now time.Time) (*domain.Invitation, error) {
	args := m.Called(ctx, roomID, userID, email, now)
	if inv, ok := args.Get(0).(*domain.Invitation); ok {
		return inv, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *InvitationRepository) Consume(ctx context.Context, id uint, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *InvitationRepository) UpdateStatus(ctx context.Context, id uint, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *InvitationRepository) ListByRoom(ctx context.Context, roomID uint) ([]domain.Invitation, error) {
	args := m.Called(ctx, roomID)
	if list, ok := args.Get(0).([]domain.Invitation); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}
