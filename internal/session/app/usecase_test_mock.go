package app

import (
	"context"
	"io"
	"time"

	"study_sync_service/internal/session/domain"
	"study_sync_service/internal/session/repository"

	"github.com/stretchr/testify/mock"
)

// MockRoomRepository Mock RoomRepository
type MockRoomRepository struct {
	mock.Mock
}

// CreateRoom mock create room
func (m *MockRoomRepository) CreateRoom(ctx context.Context, room *domain.StudyRoom, ttl time.Duration) error {
	args := m.Called(ctx, room, ttl)
	return args.Error(0)
}

// FindByID mock find room by room id
func (m *MockRoomRepository) FindByID(ctx context.Context, roomID string) (*domain.StudyRoom, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.StudyRoom), args.Error(1)
	}
	return nil, args.Error(1)
}

// UpdateRoom mock update room
func (m *MockRoomRepository) UpdateRoom(ctx context.Context, room *domain.StudyRoom) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

// DeleteRoom mock delete room
func (m *MockRoomRepository) DeleteRoom(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

// SweepExpired mock sweep expired rooms
func (m *MockRoomRepository) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	args := m.Called(ctx, now)
	if args.Get(0) != nil {
		return args.Get(0).([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockDocumentRepository Mock DocumentRepository
type MockDocumentRepository struct {
	mock.Mock
}

// UploadDoc mock upload document
func (m *MockDocumentRepository) UploadDoc(ctx context.Context, roomID, docName string, r io.Reader, size int64, contentType string) error {
	args := m.Called(ctx, roomID, docName, r, size, contentType)
	return args.Error(0)
}

// PresignDoc mock presign document url
func (m *MockDocumentRepository) PresignDoc(ctx context.Context, roomID, docName string) (string, error) {
	args := m.Called(ctx, roomID, docName)
	return args.String(0), args.Error(1)
}

// MockExpiryFeed Mock ExpiryFeed
type MockExpiryFeed struct {
	mock.Mock
}

// PublishExpired mock publish room expiry
func (m *MockExpiryFeed) PublishExpired(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

// Consume mock consume the expiry feed
func (m *MockExpiryFeed) Consume(ctx context.Context, handler func(msg repository.RoomExpiredMessage)) error {
	args := m.Called(ctx, handler)
	return args.Error(0)
}
