package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"study_sync_service/internal/session/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itRoom(id string, ttl time.Duration) *domain.StudyRoom {
	now := time.Now()
	return &domain.StudyRoom{
		RoomID:      id,
		ChannelName: "study:" + id,
		HostID:      "host-" + id,
		HostName:    "Hannah",
		DocName:     "notes.pdf",
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(ttl).Unix(),
	}
}

func TestRedisRoomRepository_CRUD(t *testing.T) {
	if redisClient == nil {
		t.Skip("redis not available")
	}
	ctx := context.Background()
	repo := NewRedisRoomRepository(redisClient)
	id := fmt.Sprintf("it-room-%d", time.Now().UnixNano())

	require.NoError(t, repo.CreateRoom(ctx, itRoom(id, time.Hour), time.Hour))

	room, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, room)
	assert.Equal(t, "Hannah", room.HostName)

	room.Participants = append(room.Participants, "u-2")
	require.NoError(t, repo.UpdateRoom(ctx, room))

	room, err = repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, room.Participants, "u-2")

	require.NoError(t, repo.DeleteRoom(ctx, id))
	room, err = repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, room)
}

func TestRedisRoomRepository_SweepExpired(t *testing.T) {
	if redisClient == nil {
		t.Skip("redis not available")
	}
	ctx := context.Background()
	repo := NewRedisRoomRepository(redisClient)

	liveID := fmt.Sprintf("it-live-%d", time.Now().UnixNano())
	deadID := fmt.Sprintf("it-dead-%d", time.Now().UnixNano())

	require.NoError(t, repo.CreateRoom(ctx, itRoom(liveID, time.Hour), time.Hour))
	// expired record, redis has not reaped the key yet
	require.NoError(t, repo.CreateRoom(ctx, itRoom(deadID, -time.Minute), time.Hour))

	expired, err := repo.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Contains(t, expired, deadID)
	assert.NotContains(t, expired, liveID)

	room, err := repo.FindByID(ctx, deadID)
	require.NoError(t, err)
	assert.Nil(t, room)

	room, err = repo.FindByID(ctx, liveID)
	require.NoError(t, err)
	require.NotNil(t, room)

	require.NoError(t, repo.DeleteRoom(ctx, liveID))
}
