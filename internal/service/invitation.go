package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"canvas-collab/internal/domain"
	"canvas-collab/internal/repository"
)

// 邀请的默认有效期。
const defaultInvitationTTL = 7 * 24 * time.Hour

// CreateInvitationSpec 是签发邀请的输入。
// UserIDs 与 Email 至多出现一类；两者都为空时签发不定向邀请。
type CreateInvitationSpec struct {
	UserIDs   []uint
	Email     string
	Grant     *domain.Grant // nil 时使用默认授权
	ExpiresAt *time.Time    // nil 时使用默认有效期
}

// RedeemResult 是一次成功兑换的结果。
type RedeemResult struct {
	Room  *domain.Room
	Grant domain.Grant
}

// InvitationService 负责邀请的签发、兑换与撤销。
// 兑换走条件更新，保证同一邀请在并发竞争下恰好被消费一次。
type InvitationService struct {
	roomRepo        repository.RoomRepository
	participantRepo repository.ParticipantRepository
	invitationRepo  repository.InvitationRepository
}

// NewInvitationService 创建 InvitationService 实例。
func NewInvitationService(
	roomRepo repository.RoomRepository,
	participantRepo repository.ParticipantRepository,
	invitationRepo repository.InvitationRepository,
) *InvitationService {
	if roomRepo == nil || participantRepo == nil || invitationRepo == nil {
		panic("all repositories must be non-nil for InvitationService")
	}
	return &InvitationService{
		roomRepo:        roomRepo,
		participantRepo: participantRepo,
		invitationRepo:  invitationRepo,
	}
}

// Create 为房间签发一个或多个邀请。
// 签发者必须是房间创建者、管理员，或持 canInvite 授权的参与者。
// UserIDs 给出多个目标时，每个目标各得一张独立的邀请。
func (s *InvitationService) Create(ctx context.Context, roomID uint, p domain.Principal, spec CreateInvitationSpec) ([]domain.Invitation, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": p.UserID})

	room, err := s.roomRepo.FindActiveByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("Failed to load room for invitation creation")
		return nil, ErrPersistenceFailure
	}
	if !s.canInvite(ctx, room, p) {
		logCtx.Warn("Invitation creation rejected: principal cannot invite")
		return nil, ErrCapabilityDenied
	}

	grant := domain.DefaultGrant()
	if spec.Grant != nil {
		grant = *spec.Grant
	}
	// 普通参与者不能签发超出自身的授权
	if grant.IsModerator && !s.isRoomModerator(ctx, room, p) {
		logCtx.Warn("Invitation creation rejected: cannot delegate moderator grant")
		return nil, ErrCapabilityDenied
	}
	expiresAt := time.Now().UTC().Add(defaultInvitationTTL)
	if spec.ExpiresAt != nil {
		expiresAt = *spec.ExpiresAt
	}

	// 每个目标一张独立邀请；无目标时签发一张不定向邀请
	type target struct {
		userID *uint
		email  string
	}
	targets := make([]target, 0, len(spec.UserIDs)+1)
	for i := range spec.UserIDs {
		id := spec.UserIDs[i]
		targets = append(targets, target{userID: &id})
	}
	if spec.Email != "" {
		targets = append(targets, target{email: spec.Email})
	}
	if len(targets) == 0 {
		targets = append(targets, target{})
	}

	created := make([]domain.Invitation, 0, len(targets))
	for _, t := range targets {
		token, err := generateInvitationToken()
		if err != nil {
			logCtx.WithError(err).Error("Failed to generate invitation token")
			return nil, ErrPersistenceFailure
		}
		inv := domain.Invitation{
			RoomID:        roomID,
			InvitedBy:     p.UserID,
			InvitedUserID: t.userID,
			InvitedEmail:  t.email,
			Token:         token,
			Status:        domain.InvitationPending,
			ExpiresAt:     expiresAt,
		}
		if err := inv.SetGrant(grant); err != nil {
			return nil, ErrPersistenceFailure
		}
		if err := s.invitationRepo.Create(ctx, &inv); err != nil {
			logCtx.WithError(err).Error("Failed to save invitation")
			return nil, ErrPersistenceFailure
		}
		created = append(created, inv)
	}

	logCtx.WithField("count", len(created)).Info("Invitations created")
	return created, nil
}

// Redeem 按令牌兑换邀请，成功后兑换者成为参与者。
//
// 错误口径：
//   - 令牌不存在、已撤销或已过期 → ErrInvalidInvitation
//   - 邀请定向给了别人 → ErrAccessDenied
//   - 已被消费 (包括输掉并发竞争) → ErrAlreadyConsumed
//   - 房间不存在或已归档 → ErrRoomNotFound
func (s *InvitationService) Redeem(ctx context.Context, token string, p domain.Principal) (*RedeemResult, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": p.UserID, "operation": "Redeem"})

	inv, err := s.invitationRepo.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repository.ErrInvitationNotFound) {
			return nil, ErrInvalidInvitation
		}
		logCtx.WithError(err).Error("Failed to look up invitation by token")
		return nil, ErrPersistenceFailure
	}
	logCtx = logCtx.WithFields(logrus.Fields{"invitation_id": inv.ID, "room_id": inv.RoomID})

	switch inv.Status {
	case domain.InvitationAccepted:
		return nil, ErrAlreadyConsumed
	case domain.InvitationRevoked, domain.InvitationExpired:
		return nil, ErrInvalidInvitation
	}
	if inv.Expired(time.Now().UTC()) {
		// 懒标记：状态更新失败不影响兑换结果
		if err := s.invitationRepo.UpdateStatus(ctx, inv.ID, domain.InvitationExpired); err != nil {
			logCtx.WithError(err).Warn("Failed to mark invitation expired")
		}
		return nil, ErrInvalidInvitation
	}
	if !inv.AddressedTo(p.UserID, p.Email) {
		logCtx.Warn("Redemption rejected: invitation addressed to someone else")
		return nil, ErrAccessDenied
	}

	room, err := s.roomRepo.FindActiveByID(ctx, inv.RoomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("Failed to load room for redemption")
		return nil, ErrPersistenceFailure
	}

	grant, err := inv.ParseGrant()
	if err != nil {
		logCtx.WithError(err).Error("Failed to parse invitation grant")
		return nil, ErrPersistenceFailure
	}

	// 条件更新 pending → accepted，并发兑换只有一个赢家
	if err := s.invitationRepo.Consume(ctx, inv.ID, time.Now().UTC()); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			logCtx.Warn("Invitation already consumed by a concurrent redemption")
			return nil, ErrAlreadyConsumed
		}
		logCtx.WithError(err).Error("Failed to consume invitation")
		return nil, ErrPersistenceFailure
	}

	if err := s.addParticipant(ctx, room.ID, p, grant); err != nil {
		return nil, err
	}

	logCtx.Info("Invitation redeemed")
	return &RedeemResult{Room: room, Grant: grant}, nil
}

// Revoke 撤销一个尚未被消费的邀请。
// 仅签发者本人、房间创建者或管理员可以撤销。
// 已被消费的邀请不可撤销，返回 ErrAlreadyConsumed。
func (s *InvitationService) Revoke(ctx context.Context, invitationID uint, p domain.Principal) error {
	logCtx := logrus.WithFields(logrus.Fields{"invitation_id": invitationID, "user_id": p.UserID})

	inv, err := s.invitationRepo.FindByID(ctx, invitationID)
	if err != nil {
		if errors.Is(err, repository.ErrInvitationNotFound) {
			return ErrInvalidInvitation
		}
		logCtx.WithError(err).Error("Failed to load invitation for revocation")
		return ErrPersistenceFailure
	}
	if inv.InvitedBy != p.UserID && !p.IsAdmin() {
		room, err := s.roomRepo.FindByID(ctx, inv.RoomID)
		if err != nil || room.CreatedBy != p.UserID {
			logCtx.Warn("Revocation rejected: principal cannot revoke this invitation")
			return ErrCapabilityDenied
		}
	}
	if inv.Status == domain.InvitationAccepted {
		return ErrAlreadyConsumed
	}
	if inv.Status == domain.InvitationRevoked {
		return nil // 幂等
	}
	if err := s.invitationRepo.UpdateStatus(ctx, invitationID, domain.InvitationRevoked); err != nil {
		logCtx.WithError(err).Error("Failed to revoke invitation")
		return ErrPersistenceFailure
	}
	logCtx.Info("Invitation revoked")
	return nil
}

// ListRoomInvitations 列出房间的全部邀请，供主持人查看。
func (s *InvitationService) ListRoomInvitations(ctx context.Context, roomID uint, p domain.Principal) ([]domain.Invitation, error) {
	room, err := s.roomRepo.FindActiveByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, ErrPersistenceFailure
	}
	if !s.isRoomModerator(ctx, room, p) {
		return nil, ErrCapabilityDenied
	}
	invitations, err := s.invitationRepo.ListByRoom(ctx, roomID)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to list room invitations")
		return nil, ErrPersistenceFailure
	}
	return invitations, nil
}

// canInvite 判断主体能否为房间签发邀请。
func (s *InvitationService) canInvite(ctx context.Context, room *domain.Room, p domain.Principal) bool {
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
	return grant.CanInvite || grant.IsModerator
}

// isRoomModerator 判断主体对房间是否有主持权。
func (s *InvitationService) isRoomModerator(ctx context.Context, room *domain.Room, p domain.Principal) bool {
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

// addParticipant 为兑换成功的用户创建参与记录。
// 撞上唯一约束说明用户已在房间里，视为成功。
func (s *InvitationService) addParticipant(ctx context.Context, roomID uint, p domain.Principal, grant domain.Grant) error {
	now := time.Now().UTC()
	participant := &domain.Participant{
		RoomID:     roomID,
		UserID:     p.UserID,
		UserRole:   p.Role,
		UserName:   p.Name,
		UserEmail:  p.Email,
		JoinedAt:   now,
		LastActive: now,
	}
	if err := participant.SetGrant(grant); err != nil {
		return ErrPersistenceFailure
	}
	if err := s.participantRepo.Save(ctx, participant); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil
		}
		logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": p.UserID}).
			WithError(err).Error("Failed to save participant record")
		return ErrPersistenceFailure
	}
	return nil
}

// generateInvitationToken 生成 32 字节加密随机令牌，hex 编码为 64 字符。
func generateInvitationToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
