package service_test

import (
	"context"
	"errors"
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

func newRoomService() (*service.RoomService, *mocks.RoomRepository, *mocks.ParticipantRepository, *mocks.StateRepository) {
	roomRepo := new(mocks.RoomRepository)
	participantRepo := new(mocks.ParticipantRepository)
	stateRepo := new(mocks.StateRepository)
	return service.NewRoomService(roomRepo, participantRepo, stateRepo), roomRepo, participantRepo, stateRepo
}

func TestRoomService_CreateRoom_Success(t *testing.T) {
	// Arrange
	svc, roomRepo, participantRepo, _ := newRoomService()
	ctx := context.Background()
	admin := domain.Principal{UserID: 1, Role: "admin", CompanyID: 10, Name: "Ada"}

	roomRepo.On("IsRoomCodeTaken", ctx, mock.AnythingOfType("string")).Return(false, nil).Once()
	roomRepo.On("Save", ctx, mock.AnythingOfType("*domain.Room")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*domain.Room).ID = 5
		}).
		Return(nil).Once()
	participantRepo.On("Save", ctx, mock.MatchedBy(func(p *domain.Participant) bool {
		grant, err := p.ParseGrant()
		return err == nil && p.RoomID == 5 && p.UserID == 1 && grant == domain.ModeratorGrant()
	})).Return(nil).Once()

	// Act
	room, err := svc.CreateRoom(ctx, admin, service.CreateRoomSpec{Title: "Sprint Board"})

	// Assert
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Len(t, room.RoomCode, 6, "短码应为 6 位")
	assert.True(t, room.IsActive)

	settings, err := room.ParseSettings()
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultRoomSettings(), settings, "未指定设置时应使用默认值")

	// 默认生命周期 24h
	expected := time.Now().UTC().Add(24 * time.Hour)
	assert.WithinDuration(t, expected, room.ExpiresAt, time.Minute)

	roomRepo.AssertExpectations(t)
	participantRepo.AssertExpectations(t)
}

func TestRoomService_CreateRoom_PartialSettingsMergeOntoDefaults(t *testing.T) {
	// Arrange: 客户端只给了一个设置字段
	svc, roomRepo, participantRepo, _ := newRoomService()
	ctx := context.Background()
	admin := domain.Principal{UserID: 1, Role: "admin"}

	roomRepo.On("IsRoomCodeTaken", ctx, mock.AnythingOfType("string")).Return(false, nil).Once()
	roomRepo.On("Save", ctx, mock.AnythingOfType("*domain.Room")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*domain.Room).ID = 7
		}).
		Return(nil).Once()
	participantRepo.On("Save", ctx, mock.AnythingOfType("*domain.Participant")).Return(nil).Once()

	readOnly := true

	// Act
	room, err := svc.CreateRoom(ctx, admin, service.CreateRoomSpec{
		Title:    "Partial",
		Settings: &service.SettingsPatch{ReadOnly: &readOnly},
	})

	// Assert: 给了的字段生效，没给的字段落在默认值上
	require.NoError(t, err)
	settings, err := room.ParseSettings()
	require.NoError(t, err)
	assert.True(t, settings.ReadOnly)
	assert.Equal(t, 50, settings.MaxUsers, "未指定 maxUsers 时不能被清零")
	assert.True(t, settings.AllowDrawing)
	assert.True(t, settings.AllowShapes)
	assert.True(t, settings.AllowText)
	assert.True(t, settings.AllowStickyNotes)
}

func TestRoomService_CreateRoom_NonAdminRejected(t *testing.T) {
	// Arrange
	svc, roomRepo, _, _ := newRoomService()
	member := domain.Principal{UserID: 2, Role: "member"}

	// Act
	_, err := svc.CreateRoom(context.Background(), member, service.CreateRoomSpec{Title: "Nope"})

	// Assert
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrCapabilityDenied))
	roomRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestRoomService_CreateRoom_CodeCollisionRetries(t *testing.T) {
	// Arrange: 第一个码被占用，第二个插入时输掉竞争，第三个成功
	svc, roomRepo, participantRepo, _ := newRoomService()
	ctx := context.Background()
	admin := domain.Principal{UserID: 1, Role: "admin"}

	roomRepo.On("IsRoomCodeTaken", ctx, mock.AnythingOfType("string")).Return(true, nil).Once()
	roomRepo.On("IsRoomCodeTaken", ctx, mock.AnythingOfType("string")).Return(false, nil).Twice()
	roomRepo.On("Save", ctx, mock.AnythingOfType("*domain.Room")).
		Return(repository.ErrDuplicateEntry).Once()
	roomRepo.On("Save", ctx, mock.AnythingOfType("*domain.Room")).
		Run(func(args mock.Arguments) {
			args.Get(1).(*domain.Room).ID = 6
		}).
		Return(nil).Once()
	participantRepo.On("Save", ctx, mock.AnythingOfType("*domain.Participant")).Return(nil).Once()

	// Act
	room, err := svc.CreateRoom(ctx, admin, service.CreateRoomSpec{Title: "Retry"})

	// Assert: 冲突在内部消化，调用方看到的是成功
	require.NoError(t, err)
	assert.Equal(t, uint(6), room.ID)
	roomRepo.AssertExpectations(t)
}

func TestRoomService_Archive_Idempotent(t *testing.T) {
	// Arrange: 房间已经归档
	svc, roomRepo, _, _ := newRoomService()
	ctx := context.Background()
	creator := domain.Principal{UserID: 1, Role: "member"}
	room := &domain.Room{ID: 3, CreatedBy: 1, IsActive: false}
	roomRepo.On("FindByID", ctx, uint(3)).Return(room, nil).Once()

	// Act
	err := svc.Archive(ctx, 3, creator)

	// Assert: no-op，不报错也不再写库
	require.NoError(t, err, "归档已归档的房间应是 no-op")
	roomRepo.AssertNotCalled(t, "Archive", mock.Anything, mock.Anything)
}

func TestRoomService_Archive_CleansVolatileState(t *testing.T) {
	// Arrange
	svc, roomRepo, _, stateRepo := newRoomService()
	ctx := context.Background()
	admin := domain.Principal{UserID: 2, Role: "admin"}
	room := &domain.Room{ID: 3, CreatedBy: 1, IsActive: true}
	roomRepo.On("FindByID", ctx, uint(3)).Return(room, nil).Once()
	roomRepo.On("Archive", ctx, uint(3)).Return(nil).Once()
	stateRepo.On("CleanupRoomState", ctx, uint(3)).Return(nil).Once()

	// Act
	err := svc.Archive(ctx, 3, admin)

	// Assert
	require.NoError(t, err)
	roomRepo.AssertExpectations(t)
	stateRepo.AssertExpectations(t)
}

func TestRoomService_UpdateSettings_MergesPatch(t *testing.T) {
	// Arrange: 创建者只改 readOnly 和 maxUsers，其余字段保持原值
	svc, roomRepo, _, _ := newRoomService()
	ctx := context.Background()
	creator := domain.Principal{UserID: 1, Role: "member"}
	room := &domain.Room{ID: 4, CreatedBy: 1, IsActive: true}
	require.NoError(t, room.SetSettings(domain.DefaultRoomSettings()))

	roomRepo.On("FindActiveByID", ctx, uint(4)).Return(room, nil).Once()
	roomRepo.On("Save", ctx, room).Return(nil).Once()

	readOnly := true
	maxUsers := 10

	// Act
	updated, err := svc.UpdateSettings(ctx, 4, creator, service.SettingsPatch{
		ReadOnly: &readOnly,
		MaxUsers: &maxUsers,
	})

	// Assert
	require.NoError(t, err)
	settings, err := updated.ParseSettings()
	require.NoError(t, err)
	assert.True(t, settings.ReadOnly)
	assert.Equal(t, 10, settings.MaxUsers)
	assert.True(t, settings.AllowDrawing, "未打补丁的字段应保持原值")
	assert.True(t, settings.AllowStickyNotes, "未打补丁的字段应保持原值")
	roomRepo.AssertExpectations(t)
}

func TestRoomService_UpdateSettings_NonModeratorRejected(t *testing.T) {
	// Arrange: 普通参与者 (无主持授权) 尝试改设置
	svc, roomRepo, participantRepo, _ := newRoomService()
	ctx := context.Background()
	member := domain.Principal{UserID: 5, Role: "member"}
	room := &domain.Room{ID: 4, CreatedBy: 1, IsActive: true}
	require.NoError(t, room.SetSettings(domain.DefaultRoomSettings()))

	participant := &domain.Participant{RoomID: 4, UserID: 5}
	require.NoError(t, participant.SetGrant(domain.DefaultGrant()))

	roomRepo.On("FindActiveByID", ctx, uint(4)).Return(room, nil).Once()
	participantRepo.On("Find", ctx, uint(4), uint(5)).Return(participant, nil).Once()

	readOnly := true

	// Act
	_, err := svc.UpdateSettings(ctx, 4, member, service.SettingsPatch{ReadOnly: &readOnly})

	// Assert
	require.Error(t, err)
	assert.True(t, errors.Is(err, service.ErrCapabilityDenied))
	roomRepo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}
