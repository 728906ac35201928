package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"canvas-collab/internal/domain"
	"canvas-collab/internal/repository"
	"canvas-collab/internal/repository/mocks"
	"canvas-collab/internal/service"
)

func newInvitationService() (*service.InvitationService, *mocks.RoomRepository, *mocks.ParticipantRepository, *mocks.InvitationRepository) {
	roomRepo := new(mocks.RoomRepository)
	participantRepo := new(mocks.ParticipantRepository)
	invitationRepo := new(mocks.InvitationRepository)
	return service.NewInvitationService(roomRepo, participantRepo, invitationRepo), roomRepo, participantRepo, invitationRepo
}

func TestInvitationService_Create_OnePerTarget(t *testing.T) {
	// Arrange: 两个定向用户 + 一个邮箱目标
	svc, roomRepo, _, invitationRepo := newInvitationService()
	ctx := context.Background()
	creator := domain.Principal{UserID: 1}
	room := activeRoom(1, false)

	roomRepo.On("FindActiveByID", ctx, uint(1)).Return(room, nil).Once()
	invitationRepo.On("Create", ctx, mock.AnythingOfType("*domain.Invitation")).Return(nil).Times(3)

	// Act
	invitations, err := svc.Create(ctx, 1, creator, service.CreateInvitationSpec{
		UserIDs: []uint{20, 21},
		Email:   "guest@example.com",
	})

	// Assert
	require.NoError(t, err)
	require.Len(t, invitations, 3, "每个目标应得到独立的邀请")

	tokens := make(map[string]bool)
	for _, inv := range invitations {
		assert.Len(t, inv.Token, 64, "令牌应为 32 字节 hex 编码")
		assert.Equal(t, domain.InvitationPending, inv.Status)
		assert.WithinDuration(t, time.Now().UTC().Add(7*24*time.Hour), inv.ExpiresAt, time.Minute, "默认有效期 7 天")
		tokens[inv.Token] = true
	}
	assert.Len(t, tokens, 3, "令牌不应重复")
	assert.Equal(t, uint(20), *invitations[0].InvitedUserID)
	assert.Equal(t, uint(21), *invitations[1].InvitedUserID)
	assert.Equal(t, "guest@example.com", invitations[2].InvitedEmail)
	invitationRepo.AssertExpectations(t)
}

func TestInvitationService_Create_WithoutCanInviteRejected(t *testing.T) {
	// Arrange: 普通参与者持默认授权 (canInvite=false)
	svc, roomRepo, participantRepo, invitationRepo := newInvitationService()
	ctx := context.Background()
	member := domain.Principal{UserID: 5, Role: "member"}
	room := activeRoom(1, false)

	participant := &domain.Participant{RoomID: 1, UserID: 5}
	require.NoError(t, participant.SetGrant(domain.DefaultGrant()))

	roomRepo.On("FindActiveByID", ctx, uint(1)).Return(room, nil).Once()
	participantRepo.On("Find", ctx, uint(1), uint(5)).Return(participant, nil).Once()

	// Act
	_, err := svc.Create(ctx, 1, member, service.CreateInvitationSpec{Email: "x@example.com"})

	// Assert
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrCapabilityDenied))
	invitationRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestInvitationService_Redeem_Success(t *testing.T) {
	// Arrange
	svc, roomRepo, participantRepo, invitationRepo := newInvitationService()
	ctx := context.Background()
	p := domain.Principal{UserID: 9, Email: "nine@example.com"}
	room := activeRoom(1, false)

	grant := domain.Grant{CanDraw: true, CanEdit: true}
	invitation := &domain.Invitation{
		ID:           3,
		RoomID:       1,
		InvitedEmail: "nine@example.com",
		Token:        "tok",
		Status:       domain.InvitationPending,
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	require.NoError(t, invitation.SetGrant(grant))

	invitationRepo.On("FindByToken", ctx, "tok").Return(invitation, nil).Once()
	roomRepo.On("FindActiveByID", ctx, uint(1)).Return(room, nil).Once()
	invitationRepo.On("Consume", ctx, uint(3), mock.AnythingOfType("time.Time")).Return(nil).Once()
	participantRepo.On("Save", ctx, mock.AnythingOfType("*domain.Participant")).Return(nil).Once()

	// Act
	result, err := svc.Redeem(ctx, "tok", p)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, room.ID, result.Room.ID)
	assert.Equal(t, grant, result.Grant)
	invitationRepo.AssertExpectations(t)
}

func TestInvitationService_Redeem_Expired(t *testing.T) {
	// Arrange: pending 但已过期
	svc, _, _, invitationRepo := newInvitationService()
	ctx := context.Background()
	invitation := &domain.Invitation{
		ID:        3,
		RoomID:    1,
		Token:     "tok",
		Status:    domain.InvitationPending,
		ExpiresAt: time.Now().Add(-time.Hour),
	}

	invitationRepo.On("FindByToken", ctx, "tok").Return(invitation, nil).Once()
	invitationRepo.On("UpdateStatus", ctx, uint(3), domain.InvitationExpired).Return(nil).Once()

	// Act
	_, err := svc.Redeem(ctx, "tok", domain.Principal{UserID: 9})

	// Assert: 拒绝并懒标记为 expired
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrInvalidInvitation))
	invitationRepo.AssertExpectations(t)
	invitationRepo.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything, mock.Anything)
}

func TestInvitationService_Redeem_WrongAddressee(t *testing.T) {
	// Arrange: 邀请定向给 user 20，user 9 拿着令牌来兑换
	svc, _, _, invitationRepo := newInvitationService()
	ctx := context.Background()
	target := uint(20)
	invitation := &domain.Invitation{
		ID:            3,
		RoomID:        1,
		InvitedUserID: &target,
		Token:         "tok",
		Status:        domain.InvitationPending,
		ExpiresAt:     time.Now().Add(time.Hour),
	}

	invitationRepo.On("FindByToken", ctx, "tok").Return(invitation, nil).Once()

	// Act
	_, err := svc.Redeem(ctx, "tok", domain.Principal{UserID: 9})

	// Assert
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrAccessDenied))
	invitationRepo.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything, mock.Anything)
}

func TestInvitationService_Redeem_AlreadyAccepted(t *testing.T) {
	// Arrange
	svc, _, _, invitationRepo := newInvitationService()
	ctx := context.Background()
	invitation := &domain.Invitation{
		ID:        3,
		RoomID:    1,
		Token:     "tok",
		Status:    domain.InvitationAccepted,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	invitationRepo.On("FindByToken", ctx, "tok").Return(invitation, nil).Once()

	// Act
	_, err := svc.Redeem(ctx, "tok", domain.Principal{UserID: 9})

	// Assert
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrAlreadyConsumed))
}

// --- 并发兑换：恰好一个赢家 ---

// raceInvitationRepo 是一个并发安全的内联桩：
// Consume 用 CAS 模拟数据库条件更新，只允许第一次调用成功。
type raceInvitationRepo struct {
	invitation domain.Invitation
	consumed   int32
}

func (r *raceInvitationRepo) Create(ctx context.Context, inv *domain.Invitation) error { return nil }
func (r *raceInvitationRepo) FindByToken(ctx context.Context, token string) (*domain.Invitation, error) {
	inv := r.invitation
	return &inv, nil
}
func (r *raceInvitationRepo) FindByID(ctx context.Context, id uint) (*domain.Invitation, error) {
	inv := r.invitation
	return &inv, nil
}
func (r *raceInvitationRepo) FindPendingFor(ctx context.Context, roomID, userID uint, email string, now time.Time) (*domain.Invitation, error) {
	inv := r.invitation
	return &inv, nil
}
func (r *raceInvitationRepo) Consume(ctx context.Context, id uint, at time.Time) error {
	if atomic.CompareAndSwapInt32(&r.consumed, 0, 1) {
		return nil
	}
	return repository.ErrConflict
}
func (r *raceInvitationRepo) UpdateStatus(ctx context.Context, id uint, status string) error {
	return nil
}
func (r *raceInvitationRepo) ListByRoom(ctx context.Context, roomID uint) ([]domain.Invitation, error) {
	return nil, nil
}

type stubRoomRepo struct {
	mocks.RoomRepository
	room domain.Room
}

func (r *stubRoomRepo) FindActiveByID(ctx context.Context, id uint) (*domain.Room, error) {
	room := r.room
	return &room, nil
}

type stubParticipantRepo struct {
	mocks.ParticipantRepository
	saved int32
}

func (r *stubParticipantRepo) Save(ctx context.Context, p *domain.Participant) error {
	// 第二次插入撞唯一约束
	if atomic.CompareAndSwapInt32(&r.saved, 0, 1) {
		return nil
	}
	return repository.ErrDuplicateEntry
}

func TestInvitationService_Redeem_ConcurrentExactlyOneWinner(t *testing.T) {
	// Arrange: N 个 goroutine 同时兑换同一张邀请
	invitation := domain.Invitation{
		ID:        3,
		RoomID:    1,
		Token:     "tok",
		Status:    domain.InvitationPending,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, invitation.SetGrant(domain.DefaultGrant()))

	roomRepo := &stubRoomRepo{room: *activeRoom(1, false)}
	participantRepo := &stubParticipantRepo{}
	invitationRepo := &raceInvitationRepo{invitation: invitation}
	svc := service.NewInvitationService(roomRepo, participantRepo, invitationRepo)

	const n = 16
	var wg sync.WaitGroup
	var winners, losers int32

	// Act
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(userID uint) {
			defer wg.Done()
			_, err := svc.Redeem(context.Background(), "tok", domain.Principal{UserID: userID})
			if err == nil {
				atomic.AddInt32(&winners, 1)
			} else if errors.Is(err, service.ErrAlreadyConsumed) {
				atomic.AddInt32(&losers, 1)
			}
		}(uint(100 + i))
	}
	wg.Wait()

	// Assert: 恰好一个赢家，其余全部收到 ErrAlreadyConsumed
	assert.Equal(t, int32(1), winners, "应恰好有一个兑换成功")
	assert.Equal(t, int32(n-1), losers, "其余兑换都应收到 ErrAlreadyConsumed")
}

func TestInvitationService_Revoke_ConsumedNotRevocable(t *testing.T) {
	// Arrange
	svc, _, _, invitationRepo := newInvitationService()
	ctx := context.Background()
	invitation := &domain.Invitation{ID: 3, RoomID: 1, InvitedBy: 1, Status: domain.InvitationAccepted}
	invitationRepo.On("FindByID", ctx, uint(3)).Return(invitation, nil).Once()

	// Act
	err := svc.Revoke(ctx, 3, domain.Principal{UserID: 1})

	// Assert
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrAlreadyConsumed), "已消费的邀请不可撤销")
	invitationRepo.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}
