package app

import (
	"context"
	"time"

	"study_sync_service/internal/session/repository"
	"study_sync_service/pkg/logger"

	"go.uber.org/zap"
)

// RoomSweeper periodic expiry pass over the room registry
type RoomSweeper struct {
	roomUC   RoomUseCase
	interval time.Duration
}

// NewRoomSweeper create a sweeper, zero interval means hourly
func NewRoomSweeper(roomUC RoomUseCase, interval time.Duration) *RoomSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RoomSweeper{roomUC: roomUC, interval: interval}
}

// Run sweep until ctx is done
func (s *RoomSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.roomUC.SweepExpired(ctx); err != nil {
				logger.Log.Error("room sweep failed", zap.Error(err))
			}
		case <-ctx.Done():
			logger.Log.Info("room sweeper stopped")
			return
		}
	}
}

// RevocationWatcher consumes the expiry feed and closes the live sessions
// of rooms that expired, on every service instance
type RevocationWatcher struct {
	feed     repository.ExpiryFeed
	registry *EngineRegistry
}

// NewRevocationWatcher create a watcher over the expiry feed
func NewRevocationWatcher(feed repository.ExpiryFeed, registry *EngineRegistry) *RevocationWatcher {
	return &RevocationWatcher{feed: feed, registry: registry}
}

// Run consume until ctx is done
func (w *RevocationWatcher) Run(ctx context.Context) {
	err := w.feed.Consume(ctx, func(msg repository.RoomExpiredMessage) {
		logger.Log.Info("room revoked", zap.String("room_id", msg.RoomID))
		w.registry.CloseRoom(msg.RoomID)
	})
	if err != nil && ctx.Err() == nil {
		logger.Log.Error("revocation watcher stopped", zap.Error(err))
	}
}
