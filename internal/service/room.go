package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"canvas-collab/internal/domain"
	"canvas-collab/internal/repository"
)

// 新房间的默认生命周期，到期后由后台任务归档。
const defaultRoomLifetime = 24 * time.Hour

// CreateRoomSpec 是创建房间的输入。
type CreateRoomSpec struct {
	Title       string
	Description string
	IsPublic    bool
	Settings    *SettingsPatch // 合并到默认设置上，缺省字段保持默认值
	ExpiresAt   *time.Time     // nil 时使用默认生命周期
}

// SettingsPatch 是部分更新房间设置的输入，nil 字段保持原值。
type SettingsPatch struct {
	AllowDrawing     *bool `json:"allowDrawing"`
	AllowShapes      *bool `json:"allowShapes"`
	AllowText        *bool `json:"allowText"`
	AllowStickyNotes *bool `json:"allowStickyNotes"`
	MaxUsers         *int  `json:"maxUsers"`
	ReadOnly         *bool `json:"readOnly"`
}

// RoomDetails 是房间详情查询的结果。
type RoomDetails struct {
	Room         *domain.Room
	Participants []domain.Participant
}

// RoomPage 是分页的房间列表。
type RoomPage struct {
	Rooms      []domain.Room
	Total      int64
	Page       int
	Limit      int
	TotalPages int
}

// RoomService 负责房间登记簿相关的业务逻辑：
// 创建 (短码分配)、查询、设置更新、归档。
type RoomService struct {
	roomRepo        repository.RoomRepository
	participantRepo repository.ParticipantRepository
	stateRepo       repository.StateRepository
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(
	roomRepo repository.RoomRepository,
	participantRepo repository.ParticipantRepository,
	stateRepo repository.StateRepository,
) *RoomService {
	if roomRepo == nil || participantRepo == nil {
		panic("RoomRepository and ParticipantRepository cannot be nil for RoomService")
	}
	return &RoomService{
		roomRepo:        roomRepo,
		participantRepo: participantRepo,
		stateRepo:       stateRepo,
	}
}

// CreateRoom 创建一个新房间并把创建者登记为首个参与者 (完整主持人授权)。
// 仅管理员角色可创建房间。
func (s *RoomService) CreateRoom(ctx context.Context, p domain.Principal, spec CreateRoomSpec) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": p.UserID, "company_id": p.CompanyID})

	if !p.IsAdmin() {
		logCtx.Warn("Room creation rejected: principal is not an admin")
		return nil, ErrCapabilityDenied
	}

	// 客户端给的设置合并到默认值上：部分设置不会把
	// maxUsers 等未给字段清零
	settings := domain.DefaultRoomSettings()
	if spec.Settings != nil {
		applyPatch(&settings, *spec.Settings)
	}
	expiresAt := time.Now().UTC().Add(defaultRoomLifetime)
	if spec.ExpiresAt != nil {
		expiresAt = *spec.ExpiresAt
	}

	room := &domain.Room{
		CompanyID:     p.CompanyID,
		CreatedBy:     p.UserID,
		CreatedByRole: p.Role,
		Title:         spec.Title,
		Description:   spec.Description,
		IsPublic:      spec.IsPublic,
		IsActive:      true,
		ExpiresAt:     expiresAt,
	}
	if err := room.SetSettings(settings); err != nil {
		logCtx.WithError(err).Error("Failed to encode room settings")
		return nil, ErrPersistenceFailure
	}

	// 短码分配：生成-检查-插入，唯一约束兜底，冲突时换码重试。
	// 冲突在内部消化，从不作为错误暴露给调用者。
	const maxAttempts = 10
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code, err := generateRoomCode()
		if err != nil {
			logCtx.WithError(err).Error("Failed to generate room code")
			return nil, ErrPersistenceFailure
		}
		taken, err := s.roomRepo.IsRoomCodeTaken(ctx, code)
		if err != nil {
			logCtx.WithError(err).Error("Failed to check room code uniqueness")
			return nil, ErrPersistenceFailure
		}
		if taken {
			logCtx.WithField("room_code", code).Warnf("Generated room code already exists, retrying (attempt %d)...", attempt+1)
			continue
		}

		room.RoomCode = code
		err = s.roomRepo.Save(ctx, room)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// 预检和插入之间有人抢走了这个码，换一个再来
			logCtx.WithField("room_code", code).Warn("Room code lost to a concurrent insert, retrying...")
			room.ID = 0
			continue
		}
		logCtx.WithError(err).Error("Failed to save new room")
		return nil, ErrPersistenceFailure
	}
	if room.ID == 0 {
		logCtx.Errorf("Failed to allocate a unique room code after %d attempts", maxAttempts)
		return nil, ErrPersistenceFailure
	}
	logCtx = logCtx.WithFields(logrus.Fields{"room_id": room.ID, "room_code": room.RoomCode})

	// 创建者成为首个参与者，持有完整主持人授权
	now := time.Now().UTC()
	creator := &domain.Participant{
		RoomID:     room.ID,
		UserID:     p.UserID,
		UserRole:   p.Role,
		UserName:   p.Name,
		UserEmail:  p.Email,
		JoinedAt:   now,
		LastActive: now,
	}
	if err := creator.SetGrant(domain.ModeratorGrant()); err != nil {
		return nil, ErrPersistenceFailure
	}
	if err := s.participantRepo.Save(ctx, creator); err != nil {
		logCtx.WithError(err).Error("Failed to bootstrap creator participant")
		return nil, ErrPersistenceFailure
	}

	logCtx.Info("Room created successfully")
	return room, nil
}

// GetByCode 根据短码查找活跃房间。
func (s *RoomService) GetByCode(ctx context.Context, code string) (*domain.Room, error) {
	room, err := s.roomRepo.FindActiveByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		logrus.WithField("room_code", code).WithError(err).Error("Failed to find room by code")
		return nil, ErrPersistenceFailure
	}
	return room, nil
}

// GetByID 根据 ID 查找活跃房间。
func (s *RoomService) GetByID(ctx context.Context, roomID uint) (*domain.Room, error) {
	room, err := s.roomRepo.FindActiveByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to find room by id")
		return nil, ErrPersistenceFailure
	}
	return room, nil
}

// UpdateSettings 合并式更新房间设置。
// 仅房间创建者、管理员或主持人参与者可以修改。
func (s *RoomService) UpdateSettings(ctx context.Context, roomID uint, p domain.Principal, patch SettingsPatch) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": p.UserID})

	room, err := s.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !s.isModerator(ctx, room, p) {
		logCtx.Warn("Settings update rejected: principal is not a moderator")
		return nil, ErrCapabilityDenied
	}

	settings, err := room.ParseSettings()
	if err != nil {
		logCtx.WithError(err).Error("Failed to parse stored room settings")
		return nil, ErrPersistenceFailure
	}
	applyPatch(&settings, patch)
	if err := room.SetSettings(settings); err != nil {
		return nil, ErrPersistenceFailure
	}
	if err := s.roomRepo.Save(ctx, room); err != nil {
		logCtx.WithError(err).Error("Failed to save updated room settings")
		return nil, ErrPersistenceFailure
	}

	logCtx.Info("Room settings updated")
	return room, nil
}

// Archive 将房间归档 (is_active=false)。幂等操作。
// 仅房间创建者或管理员可以归档。
func (s *RoomService) Archive(ctx context.Context, roomID uint, p domain.Principal) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": p.UserID})

	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return ErrRoomNotFound
		}
		logCtx.WithError(err).Error("Failed to load room for archive")
		return ErrPersistenceFailure
	}
	if room.CreatedBy != p.UserID && !p.IsAdmin() {
		logCtx.Warn("Archive rejected: principal is neither creator nor admin")
		return ErrCapabilityDenied
	}
	if !room.IsActive {
		return nil // 已归档，no-op
	}
	if err := s.roomRepo.Archive(ctx, roomID); err != nil {
		logCtx.WithError(err).Error("Failed to archive room")
		return ErrPersistenceFailure
	}
	// 归档后清理易失状态，失败只记录
	if s.stateRepo != nil {
		if err := s.stateRepo.CleanupRoomState(ctx, roomID); err != nil {
			logCtx.WithError(err).Warn("Failed to clean up room state after archive")
		}
	}
	logCtx.Info("Room archived")
	return nil
}

// Details 返回房间及其参与者列表。
// 私有房间要求查询者是参与者、创建者或管理员。
func (s *RoomService) Details(ctx context.Context, roomID uint, p domain.Principal) (*RoomDetails, error) {
	room, err := s.GetByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	participants, err := s.participantRepo.ListByRoom(ctx, roomID)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to list room participants")
		return nil, ErrPersistenceFailure
	}
	if !room.IsPublic && room.CreatedBy != p.UserID && !p.IsAdmin() {
		isParticipant := false
		for i := range participants {
			if participants[i].UserID == p.UserID {
				isParticipant = true
				break
			}
		}
		if !isParticipant {
			return nil, ErrAccessDenied
		}
	}
	return &RoomDetails{Room: room, Participants: participants}, nil
}

// ListCompanyRooms 分页列出公司范围内的房间 (管理员视图)。
func (s *RoomService) ListCompanyRooms(ctx context.Context, p domain.Principal, page, limit int, activeOnly bool) (*RoomPage, error) {
	if !p.IsAdmin() {
		return nil, ErrCapabilityDenied
	}
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rooms, total, err := s.roomRepo.FindByCompany(ctx, p.CompanyID, (page-1)*limit, limit, activeOnly)
	if err != nil {
		logrus.WithField("company_id", p.CompanyID).WithError(err).Error("Failed to list company rooms")
		return nil, ErrPersistenceFailure
	}
	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &RoomPage{Rooms: rooms, Total: total, Page: page, Limit: limit, TotalPages: totalPages}, nil
}

// ListUserRooms 列出用户参与过的房间。
func (s *RoomService) ListUserRooms(ctx context.Context, p domain.Principal) ([]domain.Room, error) {
	ids, err := s.participantRepo.RoomIDsByUser(ctx, p.UserID)
	if err != nil {
		logrus.WithField("user_id", p.UserID).WithError(err).Error("Failed to list user room ids")
		return nil, ErrPersistenceFailure
	}
	rooms, err := s.roomRepo.FindByIDs(ctx, ids)
	if err != nil {
		logrus.WithField("user_id", p.UserID).WithError(err).Error("Failed to load user rooms")
		return nil, ErrPersistenceFailure
	}
	return rooms, nil
}

// Leave 显式离开房间，删除参与记录。
func (s *RoomService) Leave(ctx context.Context, roomID uint, p domain.Principal) error {
	if err := s.participantRepo.Remove(ctx, roomID, p.UserID); err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": p.UserID}).
			WithError(err).Error("Failed to remove participant")
		return ErrPersistenceFailure
	}
	return nil
}

// UpdateParticipantGrant 由主持人调整另一个参与者的授权。
// 采用 compare-and-set：读出当前值，条件更新，冲突时由调用方重试。
func (s *RoomService) UpdateParticipantGrant(ctx context.Context, roomID uint, p domain.Principal, targetUserID uint, grant domain.Grant) error {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": p.UserID, "target_user_id": targetUserID})

	room, err := s.GetByID(ctx, roomID)
	if err != nil {
		return err
	}
	if !s.isModerator(ctx, room, p) {
		logCtx.Warn("Grant update rejected: principal is not a moderator")
		return ErrCapabilityDenied
	}

	target, err := s.participantRepo.Find(ctx, roomID, targetUserID)
	if err != nil {
		if errors.Is(err, repository.ErrParticipantNotFound) {
			return ErrRoomNotFound
		}
		logCtx.WithError(err).Error("Failed to load target participant")
		return ErrPersistenceFailure
	}

	updated := domain.Participant{}
	if err := updated.SetGrant(grant); err != nil {
		return ErrPersistenceFailure
	}
	err = s.participantRepo.UpdateGrant(ctx, roomID, targetUserID, updated.Permissions, target.Permissions)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			logCtx.Warn("Grant update lost a concurrent race")
			return ErrPersistenceFailure
		}
		logCtx.WithError(err).Error("Failed to update participant grant")
		return ErrPersistenceFailure
	}
	logCtx.Info("Participant grant updated")
	return nil
}

// isModerator 判断主体对房间是否有主持权：创建者、管理员或持 isModerator 授权的参与者。
func (s *RoomService) isModerator(ctx context.Context, room *domain.Room, p domain.Principal) bool {
	if room.CreatedBy == p.UserID || p.IsAdmin() {
		return true
	}
	participant, err := s.participantRepo.Find(ctx, room.ID, p.UserID)
	if err != nil {
		return false
	}
	grant, err := participant.ParseGrant()
	if err != nil {
		return false
	}
	return grant.IsModerator
}

// applyPatch 将非 nil 的补丁字段合并到设置上。
func applyPatch(s *domain.RoomSettings, patch SettingsPatch) {
	if patch.AllowDrawing != nil {
		s.AllowDrawing = *patch.AllowDrawing
	}
	if patch.AllowShapes != nil {
		s.AllowShapes = *patch.AllowShapes
	}
	if patch.AllowText != nil {
		s.AllowText = *patch.AllowText
	}
	if patch.AllowStickyNotes != nil {
		s.AllowStickyNotes = *patch.AllowStickyNotes
	}
	if patch.MaxUsers != nil {
		s.MaxUsers = *patch.MaxUsers
	}
	if patch.ReadOnly != nil {
		s.ReadOnly = *patch.ReadOnly
	}
}

// generateRoomCode 生成 6 位大写字母数字短码。
func generateRoomCode() (string, error) {
	const letters = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	const codeLength = 6

	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	for i := range b {
		b[i] = letters[int(b[i])%len(letters)]
	}
	return string(b), nil
}
