package repository

import (
	"context"
	"fmt"
	"time"

	"study_sync_service/internal/session/domain"
	"study_sync_service/pkg/database"
	"study_sync_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	roomKeyFmt   = "sync:room:%s"
	roomIndexKey = "sync:rooms"
)

// RoomRepository definition study room registry
type RoomRepository interface {
	CreateRoom(ctx context.Context, room *domain.StudyRoom, ttl time.Duration) error
	FindByID(ctx context.Context, roomID string) (*domain.StudyRoom, error)
	UpdateRoom(ctx context.Context, room *domain.StudyRoom) error
	DeleteRoom(ctx context.Context, roomID string) error
	SweepExpired(ctx context.Context, now time.Time) ([]string, error)
}

type redisRoomRepository struct {
	client *redis.Client
	repo   database.RedisRepository[domain.StudyRoom]
}

// NewRedisRoomRepository create a redis-backed room registry
// room records carry their own TTL, the index set is pruned by SweepExpired
func NewRedisRoomRepository(client *redis.Client) RoomRepository {
	return &redisRoomRepository{
		client: client,
		repo:   database.NewRedisRepository[domain.StudyRoom](client),
	}
}

// CreateRoom store the record with TTL and register it in the index
func (r *redisRoomRepository) CreateRoom(ctx context.Context, room *domain.StudyRoom, ttl time.Duration) error {
	if err := r.repo.Set(ctx, fmt.Sprintf(roomKeyFmt, room.RoomID), *room, ttl); err != nil {
		return err
	}
	return r.client.SAdd(ctx, roomIndexKey, room.RoomID).Err()
}

// FindByID load one room record, nil without error when missing
func (r *redisRoomRepository) FindByID(ctx context.Context, roomID string) (*domain.StudyRoom, error) {
	room, err := r.repo.Get(ctx, fmt.Sprintf(roomKeyFmt, roomID))
	if err == redis.Nil {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &room, nil
}

// UpdateRoom rewrite the record keeping its remaining TTL
func (r *redisRoomRepository) UpdateRoom(ctx context.Context, room *domain.StudyRoom) error {
	key := fmt.Sprintf(roomKeyFmt, room.RoomID)
	secs, err := r.repo.GetTTL(ctx, key)
	if err != nil {
		return err
	}
	ttl := time.Duration(secs) * time.Second
	if ttl <= 0 {
		ttl = time.Until(time.Unix(room.ExpiresAt, 0))
		if ttl <= 0 {
			return fmt.Errorf("room %s already expired", room.RoomID)
		}
	}
	return r.repo.Set(ctx, key, *room, ttl)
}

// DeleteRoom drop the record and its index entry
func (r *redisRoomRepository) DeleteRoom(ctx context.Context, roomID string) error {
	if err := r.repo.Del(ctx, fmt.Sprintf(roomKeyFmt, roomID)); err != nil {
		return err
	}
	return r.client.SRem(ctx, roomIndexKey, roomID).Err()
}

// SweepExpired prune index entries whose record is gone or past expiry,
// returns the room ids that expired in this pass
func (r *redisRoomRepository) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := r.client.SMembers(ctx, roomIndexKey).Result()
	if err != nil {
		return nil, err
	}

	var expired []string
	for _, id := range ids {
		room, err := r.FindByID(ctx, id)
		if err != nil {
			logger.Log.Warn("sweep read failed", zap.String("room_id", id), zap.Error(err))
			continue
		}
		if room == nil || room.Expired(now) {
			if err := r.DeleteRoom(ctx, id); err != nil {
				logger.Log.Warn("sweep delete failed", zap.String("room_id", id), zap.Error(err))
				continue
			}
			expired = append(expired, id)
		}
	}
	return expired, nil
}
