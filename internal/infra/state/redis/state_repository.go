package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"canvas-collab/internal/domain"
	"canvas-collab/internal/repository"
)

// 重放镜像和聊天历史的长度上限。
// 镜像只是会话重启后的暖启动来源，超出部分由快照兜底。
const (
	opMirrorCap   = 1000
	chatHistoryCap = 100
)

// RedisStateRepository 是 StateRepository 接口的 Redis 实现
type RedisStateRepository struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStateRepository 创建 RedisStateRepository 实例
func NewRedisStateRepository(client *redis.Client, keyPrefix string) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	if keyPrefix == "" {
		keyPrefix = "cv:" // 默认前缀 "cv:" (canvas)
	}
	return &RedisStateRepository{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// --- Key Generation Helpers ---

func (r *RedisStateRepository) roomOpsKey(roomID uint) string {
	return fmt.Sprintf("%sroom:%d:ops", r.keyPrefix, roomID)
}

func (r *RedisStateRepository) roomChatKey(roomID uint) string {
	return fmt.Sprintf("%sroom:%d:chat", r.keyPrefix, roomID)
}

func (r *RedisStateRepository) roomSnapshotCacheKey(roomID uint) string {
	return fmt.Sprintf("%sroom:%d:snapshot", r.keyPrefix, roomID)
}

// --- StateRepository Interface Implementation ---

// PushOperation 将一个操作追加到房间的重放镜像 (RPUSH + LTRIM 保持上限)
func (r *RedisStateRepository) PushOperation(ctx context.Context, roomID uint, op domain.Operation) error {
	key := r.roomOpsKey(roomID)
	opBytes, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("redis: marshal operation %s for mirror: %w", op.ID, err)
	}
	pipe := r.client.Pipeline()
	pipe.RPush(ctx, key, string(opBytes))
	pipe.LTrim(ctx, key, -opMirrorCap, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: push operation to mirror for room %d on key %s: %w", roomID, key, err)
	}
	return nil
}

// ReplayOperations 按接受顺序返回镜像中的操作
func (r *RedisStateRepository) ReplayOperations(ctx context.Context, roomID uint, limit int) ([]domain.Operation, error) {
	if limit <= 0 || limit > opMirrorCap {
		limit = opMirrorCap
	}
	key := r.roomOpsKey(roomID)
	opStrs, err := r.client.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: replay operations for room %d from %s: %w", roomID, key, err)
	}
	ops := make([]domain.Operation, 0, len(opStrs))
	for _, opStr := range opStrs {
		var op domain.Operation
		if err := json.Unmarshal([]byte(opStr), &op); err == nil {
			ops = append(ops, op)
		} else {
			logrus.Warnf("redis: failed to unmarshal mirrored operation for room %d: %v", roomID, err)
		}
	}
	return ops, nil
}

// ClearOperations 清空房间的重放镜像
func (r *RedisStateRepository) ClearOperations(ctx context.Context, roomID uint) error {
	key := r.roomOpsKey(roomID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: clear operation mirror for room %d on key %s: %w", roomID, key, err)
	}
	return nil
}

// PushChatMessage 将一条聊天消息追加到房间历史
func (r *RedisStateRepository) PushChatMessage(ctx context.Context, roomID uint, msg domain.ChatMessage) error {
	key := r.roomChatKey(roomID)
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redis: marshal chat message %s: %w", msg.ID, err)
	}
	pipe := r.client.Pipeline()
	pipe.RPush(ctx, key, string(msgBytes))
	pipe.LTrim(ctx, key, -chatHistoryCap, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: push chat message for room %d on key %s: %w", roomID, key, err)
	}
	return nil
}

// RecentChat 返回最近的聊天消息
func (r *RedisStateRepository) RecentChat(ctx context.Context, roomID uint, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 || limit > chatHistoryCap {
		limit = chatHistoryCap
	}
	key := r.roomChatKey(roomID)
	msgStrs, err := r.client.LRange(ctx, key, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: recent chat for room %d from %s: %w", roomID, key, err)
	}
	msgs := make([]domain.ChatMessage, 0, len(msgStrs))
	for _, msgStr := range msgStrs {
		var msg domain.ChatMessage
		if err := json.Unmarshal([]byte(msgStr), &msg); err == nil {
			msgs = append(msgs, msg)
		} else {
			logrus.Warnf("redis: failed to unmarshal chat message for room %d: %v", roomID, err)
		}
	}
	return msgs, nil
}

// GetSnapshotCache 尝试从 Redis 缓存中获取最新快照
func (r *RedisStateRepository) GetSnapshotCache(ctx context.Context, roomID uint) (*domain.Snapshot, error) {
	key := r.roomSnapshotCacheKey(roomID)
	snapshotStr, err := r.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get snapshot cache for room %d from %s: %w", roomID, key, err)
	}
	var snapshot domain.Snapshot
	if err := json.Unmarshal([]byte(snapshotStr), &snapshot); err != nil {
		return nil, fmt.Errorf("redis: unmarshal snapshot cache for room %d from %s: %w", roomID, key, err)
	}
	return &snapshot, nil
}

// SetSnapshotCache 将快照存入 Redis 缓存 (ttl 为 0 表示不过期)
func (r *RedisStateRepository) SetSnapshotCache(ctx context.Context, roomID uint, snapshot *domain.Snapshot, ttl time.Duration) error {
	key := r.roomSnapshotCacheKey(roomID)
	snapshotBytes, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("redis: marshal snapshot for cache (room %d, version %d): %w", roomID, snapshot.Version, err)
	}
	if err := r.client.Set(ctx, key, string(snapshotBytes), ttl).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot cache for room %d on key %s: %w", roomID, key, err)
	}
	return nil
}

// CheckRateLimit 检查给定 key 的请求频率是否超限，并递增计数。
// 使用 Pipeline 执行 INCR+EXPIRE 减少网络往返。
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	pipe := r.client.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: pipeline failed for rate limit check on key %s: %w", key, err)
	}
	count, err := incrCmd.Result()
	if err != nil {
		return false, fmt.Errorf("redis: get incr result for rate limit on key %s: %w", key, err)
	}
	return count > int64(limit), nil
}

// CleanupRoomState 删除房间相关的全部 Redis key
func (r *RedisStateRepository) CleanupRoomState(ctx context.Context, roomID uint) error {
	keys := []string{
		r.roomOpsKey(roomID),
		r.roomChatKey(roomID),
		r.roomSnapshotCacheKey(roomID),
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis: cleanup state for room %d: %w", roomID, err)
	}
	return nil
}
