package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"canvas-collab/internal/domain"
	"canvas-collab/internal/repository"
)

// Decision 是一次准入评估的结果。
type Decision struct {
	Allowed     bool         // 是否允许加入
	Reason      string       // 拒绝原因 (仅 Allowed=false 时有意义)
	Grant       domain.Grant // 生效的授权 (仅 Allowed=true 时有意义)
	Room        *domain.Room // 评估通过的房间
	IsReturning bool         // 是否是已有参与者重新加入
}

// AccessEvaluator 负责房间准入决策。
//
// 判定顺序是契约的一部分，先命中者生效：
//  1. 房间不存在或已归档 → 拒绝
//  2. 已是参与者 → 允许 (即使房间事后被改为私有)
//  3. 公开房间 → 允许，默认授权
//  4. 有指向该用户的有效邀请 → 允许，邀请的授权，邀请被消费
//  5. 否则 → 拒绝
type AccessEvaluator struct {
	roomRepo        repository.RoomRepository
	participantRepo repository.ParticipantRepository
	invitationRepo  repository.InvitationRepository
}

// NewAccessEvaluator 创建 AccessEvaluator 实例。
func NewAccessEvaluator(
	roomRepo repository.RoomRepository,
	participantRepo repository.ParticipantRepository,
	invitationRepo repository.InvitationRepository,
) *AccessEvaluator {
	if roomRepo == nil || participantRepo == nil || invitationRepo == nil {
		panic("all repositories must be non-nil for AccessEvaluator")
	}
	return &AccessEvaluator{
		roomRepo:        roomRepo,
		participantRepo: participantRepo,
		invitationRepo:  invitationRepo,
	}
}

// Evaluate 评估主体能否加入房间。
// 通过公开房间或邀请首次加入时会创建参与记录；
// 通过邀请加入时邀请被原子地消费，竞争败者收到 ErrAlreadyConsumed。
func (e *AccessEvaluator) Evaluate(ctx context.Context, roomID uint, p domain.Principal) (*Decision, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": p.UserID, "operation": "Evaluate"})

	// 1. 房间必须存在且活跃
	room, err := e.roomRepo.FindActiveByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return &Decision{Allowed: false, Reason: ReasonRoomNotFound}, nil
		}
		logCtx.WithError(err).Error("Failed to load room for access evaluation")
		return nil, ErrPersistenceFailure
	}

	// 2. 已有参与者直接放行，使用其存量授权。
	// 这一步必须先于公开性检查：房间被改为私有后，老成员仍可重连。
	participant, err := e.participantRepo.Find(ctx, roomID, p.UserID)
	if err == nil {
		grant, parseErr := participant.ParseGrant()
		if parseErr != nil {
			logCtx.WithError(parseErr).Error("Failed to parse stored participant grant")
			return nil, ErrPersistenceFailure
		}
		if err := e.participantRepo.Touch(ctx, roomID, p.UserID, time.Now().UTC()); err != nil {
			logCtx.WithError(err).Warn("Failed to touch participant on rejoin")
		}
		logCtx.Debug("Access granted: returning participant")
		return &Decision{Allowed: true, Grant: grant, Room: room, IsReturning: true}, nil
	}
	if !errors.Is(err, repository.ErrParticipantNotFound) {
		logCtx.WithError(err).Error("Failed to look up participant for access evaluation")
		return nil, ErrPersistenceFailure
	}

	// 3. 公开房间：任何已认证主体都可加入，授予默认能力
	if room.IsPublic {
		grant := domain.DefaultGrant()
		if err := e.addParticipant(ctx, room.ID, p, grant); err != nil {
			return nil, err
		}
		logCtx.Debug("Access granted: public room")
		return &Decision{Allowed: true, Grant: grant, Room: room}, nil
	}

	// 4. 指向该用户的有效邀请
	invitation, err := e.invitationRepo.FindPendingFor(ctx, roomID, p.UserID, p.Email, time.Now().UTC())
	if err == nil {
		grant, parseErr := invitation.ParseGrant()
		if parseErr != nil {
			logCtx.WithError(parseErr).Error("Failed to parse invitation grant")
			return nil, ErrPersistenceFailure
		}
		// 原子消费：条件更新 pending → accepted，输掉竞争的一方在这里出局
		if err := e.invitationRepo.Consume(ctx, invitation.ID, time.Now().UTC()); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				logCtx.Warn("Invitation already consumed by a concurrent redemption")
				return nil, ErrAlreadyConsumed
			}
			logCtx.WithError(err).Error("Failed to consume invitation")
			return nil, ErrPersistenceFailure
		}
		if err := e.addParticipant(ctx, room.ID, p, grant); err != nil {
			return nil, err
		}
		logCtx.WithField("invitation_id", invitation.ID).Info("Access granted: invitation consumed")
		return &Decision{Allowed: true, Grant: grant, Room: room}, nil
	}
	if !errors.Is(err, repository.ErrInvitationNotFound) {
		logCtx.WithError(err).Error("Failed to look up invitation for access evaluation")
		return nil, ErrPersistenceFailure
	}

	// 5. 私有房间且无任何凭据
	logCtx.Debug("Access denied: private room, no credentials")
	return &Decision{Allowed: false, Reason: ReasonNoAccess}, nil
}

// addParticipant 为首次加入者创建参与记录。
// 并发的首次加入会撞上 (room_id, user_id) 唯一约束，视为已加入而非错误。
func (e *AccessEvaluator) addParticipant(ctx context.Context, roomID uint, p domain.Principal, grant domain.Grant) error {
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
	if err := e.participantRepo.Save(ctx, participant); err != nil {
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return nil
		}
		logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": p.UserID}).
			WithError(err).Error("Failed to save participant record")
		return ErrPersistenceFailure
	}
	return nil
}
