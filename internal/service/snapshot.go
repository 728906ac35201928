package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"canvas-collab/internal/domain"
	"canvas-collab/internal/repository"
)

// 快照缓存的有效期。
const snapshotCacheTTL = 10 * time.Minute

// SnapshotService 负责画布快照的持久化与读取。
// 版本号单调递增，(room_id, version) 唯一约束兜底并发落库。
type SnapshotService struct {
	roomRepo        repository.RoomRepository
	participantRepo repository.ParticipantRepository
	snapshotRepo    repository.SnapshotRepository
	stateRepo       repository.StateRepository
}

// NewSnapshotService 创建 SnapshotService 实例。
func NewSnapshotService(
	roomRepo repository.RoomRepository,
	participantRepo repository.ParticipantRepository,
	snapshotRepo repository.SnapshotRepository,
	stateRepo repository.StateRepository,
) *SnapshotService {
	if roomRepo == nil || participantRepo == nil || snapshotRepo == nil {
		panic("repositories cannot be nil for SnapshotService")
	}
	return &SnapshotService{
		roomRepo:        roomRepo,
		participantRepo: participantRepo,
		snapshotRepo:    snapshotRepo,
		stateRepo:       stateRepo,
	}
}

// SaveExplicit 由主持人显式触发快照保存。
// data 是客户端提交的画布完整状态。保存成功后重放缓冲以该快照为基线。
func (s *SnapshotService) SaveExplicit(ctx context.Context, roomID uint, p domain.Principal, data string) (*domain.Snapshot, error) {
	logCtx := logrus.WithFields(logrus.Fields{"room_id": roomID, "user_id": p.UserID})

	room, err := s.roomRepo.FindActiveByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, ErrRoomNotFound
		}
		logCtx.WithError(err).Error("Failed to load room for snapshot save")
		return nil, ErrPersistenceFailure
	}
	if !s.isRoomModerator(ctx, room, p) {
		logCtx.Warn("Snapshot save rejected: principal is not a moderator")
		return nil, ErrCapabilityDenied
	}

	snapshot, err := s.persist(ctx, roomID, p.UserID, data)
	if err != nil {
		return nil, err
	}

	// 显式保存后重放镜像以新快照为基线
	if s.stateRepo != nil {
		if err := s.stateRepo.ClearOperations(ctx, roomID); err != nil {
			logCtx.WithError(err).Warn("Failed to clear operation mirror after snapshot")
		}
	}
	logCtx.WithField("version", snapshot.Version).Info("Snapshot saved")
	return snapshot, nil
}

// Persist 落库一个快照，不做权限检查 (供后台任务使用，createdBy 可为 0)。
func (s *SnapshotService) Persist(ctx context.Context, roomID, createdBy uint, data string) (*domain.Snapshot, error) {
	return s.persist(ctx, roomID, createdBy, data)
}

// persist 计算下一个版本号并插入，版本冲突时重算重试。
func (s *SnapshotService) persist(ctx context.Context, roomID, createdBy uint, data string) (*domain.Snapshot, error) {
	logCtx := logrus.WithField("room_id", roomID)

	const maxAttempts = 3
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var version uint = 1
		latest, err := s.snapshotRepo.Latest(ctx, roomID)
		if err == nil {
			version = latest.Version + 1
		} else if !errors.Is(err, repository.ErrSnapshotNotFound) {
			logCtx.WithError(err).Error("Failed to load latest snapshot")
			return nil, ErrPersistenceFailure
		}

		snapshot := &domain.Snapshot{
			RoomID:    roomID,
			CreatedBy: createdBy,
			Data:      data,
			Version:   version,
			CreatedAt: time.Now().UTC(),
		}
		err = s.snapshotRepo.Save(ctx, snapshot)
		if err == nil {
			if s.stateRepo != nil {
				if cacheErr := s.stateRepo.SetSnapshotCache(ctx, roomID, snapshot, snapshotCacheTTL); cacheErr != nil {
					logCtx.WithError(cacheErr).Warn("Failed to cache snapshot")
				}
			}
			return snapshot, nil
		}
		if errors.Is(err, repository.ErrDuplicateEntry) {
			// 并发落库抢占了这个版本号，重算再试
			logCtx.WithField("version", version).Warn("Snapshot version taken by a concurrent save, retrying...")
			continue
		}
		logCtx.WithError(err).Error("Failed to save snapshot")
		return nil, ErrPersistenceFailure
	}
	logCtx.Errorf("Failed to allocate a snapshot version after %d attempts", maxAttempts)
	return nil, ErrPersistenceFailure
}

// Latest 返回房间最新的快照，优先读缓存，未命中时回源数据库并回填。
// 没有快照时返回 (nil, nil)。
func (s *SnapshotService) Latest(ctx context.Context, roomID uint) (*domain.Snapshot, error) {
	logCtx := logrus.WithField("room_id", roomID)

	if s.stateRepo != nil {
		cached, err := s.stateRepo.GetSnapshotCache(ctx, roomID)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			logCtx.WithError(err).Warn("Snapshot cache lookup failed, falling back to database")
		}
	}

	snapshot, err := s.snapshotRepo.Latest(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrSnapshotNotFound) {
			return nil, nil
		}
		logCtx.WithError(err).Error("Failed to load latest snapshot")
		return nil, ErrPersistenceFailure
	}
	if s.stateRepo != nil {
		if err := s.stateRepo.SetSnapshotCache(ctx, roomID, snapshot, snapshotCacheTTL); err != nil {
			logCtx.WithError(err).Warn("Failed to warm snapshot cache")
		}
	}
	return snapshot, nil
}

// GetByVersion 按版本号读取历史快照。
func (s *SnapshotService) GetByVersion(ctx context.Context, roomID, version uint) (*domain.Snapshot, error) {
	snapshot, err := s.snapshotRepo.FindByVersion(ctx, roomID, version)
	if err != nil {
		if errors.Is(err, repository.ErrSnapshotNotFound) {
			return nil, ErrRoomNotFound
		}
		logrus.WithFields(logrus.Fields{"room_id": roomID, "version": version}).
			WithError(err).Error("Failed to load snapshot by version")
		return nil, ErrPersistenceFailure
	}
	return snapshot, nil
}

// ListRecent 按版本倒序返回最近的快照。
func (s *SnapshotService) ListRecent(ctx context.Context, roomID uint, limit int) ([]domain.Snapshot, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	snapshots, err := s.snapshotRepo.ListRecent(ctx, roomID, limit)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to list snapshots")
		return nil, ErrPersistenceFailure
	}
	return snapshots, nil
}

// isRoomModerator 判断主体对房间是否有主持权。
func (s *SnapshotService) isRoomModerator(ctx context.Context, room *domain.Room, p domain.Principal) bool {
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
