package repository

import (
	"context"
	"encoding/json"
	"time"

	"study_sync_service/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// RoomExpiredMessage definition one room expiry notification on the feed
type RoomExpiredMessage struct {
	RoomID    string `json:"room_id"`
	ExpiredAt int64  `json:"expired_at"`
}

// ExpiryFeed definition the room expiry event stream
// the sweeper publishes, every service instance consumes and revokes the
// live sessions of rooms that expired
type ExpiryFeed interface {
	PublishExpired(ctx context.Context, roomID string) error
	Consume(ctx context.Context, handler func(msg RoomExpiredMessage)) error
}

type kafkaExpiryFeed struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

// NewKafkaExpiryFeed create a kafka-backed expiry feed
func NewKafkaExpiryFeed(writer *kafka.Writer, reader *kafka.Reader) ExpiryFeed {
	return &kafkaExpiryFeed{writer: writer, reader: reader}
}

// PublishExpired announce one expired room on the feed
func (f *kafkaExpiryFeed) PublishExpired(ctx context.Context, roomID string) error {
	msg := RoomExpiredMessage{RoomID: roomID, ExpiredAt: time.Now().Unix()}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return f.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(roomID),
		Value: data,
	})
}

// Consume block reading the feed until ctx is done, malformed messages are
// logged and skipped
func (f *kafkaExpiryFeed) Consume(ctx context.Context, handler func(msg RoomExpiredMessage)) error {
	for {
		m, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Log.Error("expiry feed read failed", zap.Error(err))
			return err
		}

		var msg RoomExpiredMessage
		if err := json.Unmarshal(m.Value, &msg); err != nil {
			logger.Log.Warn("expiry feed bad message", zap.Error(err))
			continue
		}
		if msg.RoomID == "" {
			continue
		}
		handler(msg)
	}
}
