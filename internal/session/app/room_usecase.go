package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"study_sync_service/internal/session/domain"
	"study_sync_service/internal/session/repository"
	"study_sync_service/pkg"
	"study_sync_service/pkg/encrypt"
	errprocess "study_sync_service/pkg/err"
	"study_sync_service/pkg/logger"
	"study_sync_service/pkg/token"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// room registry errors
var (
	// ErrRoomNotFound no record for the room id
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomExpired the room's lifetime is over
	ErrRoomExpired = errors.New("room expired")
	// ErrRoomPassword wrong password for a private room
	ErrRoomPassword = errors.New("room password mismatch")
)

// TokenPair definition the credentials a client needs to enter a room
type TokenPair struct {
	RTCToken    string `json:"rtc_token"`
	RTMToken    string `json:"rtm_token"`
	UID         string `json:"uid"`
	ChannelName string `json:"channel_name"`
}

// RoomUseCase definition room registry operations
type RoomUseCase interface {
	CreateRoom(ctx context.Context, hostName, docName string, password string) (*domain.StudyRoom, *TokenPair, error)
	GetRoom(ctx context.Context, roomID string) (*domain.StudyRoom, error)
	IssueToken(ctx context.Context, roomID, userName, password string) (*TokenPair, error)
	DeleteRoom(ctx context.Context, roomID, requesterID string) error
	SweepExpired(ctx context.Context) error
}

type roomUseCase struct {
	roomRepo repository.RoomRepository
	docRepo  repository.DocumentRepository
	expiry   repository.ExpiryFeed
	ttl      time.Duration
}

// NewRoomUseCase create the room registry use case
// docRepo and expiry may be nil when object storage or the expiry feed are
// not deployed
func NewRoomUseCase(roomRepo repository.RoomRepository, docRepo repository.DocumentRepository, expiry repository.ExpiryFeed, ttl time.Duration) RoomUseCase {
	if ttl <= 0 {
		ttl = domain.DefaultRoomTTL
	}
	return &roomUseCase{
		roomRepo: roomRepo,
		docRepo:  docRepo,
		expiry:   expiry,
		ttl:      ttl,
	}
}

// CreateRoom register a room and mint the host's token pair
// a non-empty password makes the room private
func (u *roomUseCase) CreateRoom(ctx context.Context, hostName, docName, password string) (*domain.StudyRoom, *TokenPair, error) {
	now := time.Now()
	room := &domain.StudyRoom{
		RoomID:      uuid.NewString(),
		ChannelName: "study:" + uuid.NewString(),
		DocName:     docName,
		HostID:      uuid.NewString(),
		HostName:    hostName,
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(u.ttl).Unix(),
	}

	if password != "" {
		hash, err := encrypt.HashPassword(password)
		if err != nil {
			return nil, nil, err
		}
		room.IsPrivate = true
		room.PasswordHash = hash
	}

	if u.docRepo != nil && docName != "" {
		url, err := u.docRepo.PresignDoc(ctx, room.RoomID, docName)
		if err != nil {
			// the room still works without a stored document
			logger.Log.Warn("doc presign failed", zap.String("room_id", room.RoomID), zap.Error(err))
		} else {
			room.DocURL = url
		}
	}

	room.Participants = []string{room.HostID}
	if err := u.roomRepo.CreateRoom(ctx, room, u.ttl); err != nil {
		return nil, nil, errprocess.Set(fmt.Sprintf("store room failed: %v", err))
	}

	pair, err := mintTokenPair(room, room.HostID, hostName, token.RoleHost)
	if err != nil {
		return nil, nil, err
	}
	return room, pair, nil
}

// GetRoom load one room, distinguishing missing from expired
func (u *roomUseCase) GetRoom(ctx context.Context, roomID string) (*domain.StudyRoom, error) {
	room, err := u.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, ErrRoomNotFound
	}
	if room.Expired(time.Now()) {
		return nil, ErrRoomExpired
	}
	return room, nil
}

// IssueToken mint a participant token pair, checking the room password for
// private rooms
func (u *roomUseCase) IssueToken(ctx context.Context, roomID, userName, password string) (*TokenPair, error) {
	room, err := u.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	if room.IsPrivate {
		if err := encrypt.CheckPassword(room.PasswordHash, password); err != nil {
			return nil, ErrRoomPassword
		}
	}

	uid := uuid.NewString()
	room.Participants = pkg.AppendIfNotExists(room.Participants, uid)
	if err := u.roomRepo.UpdateRoom(ctx, room); err != nil {
		logger.Log.Warn("participant record update failed",
			zap.String("room_id", roomID), zap.Error(err))
	}

	return mintTokenPair(room, uid, userName, token.RoleParticipant)
}

// DeleteRoom remove a room, host only
func (u *roomUseCase) DeleteRoom(ctx context.Context, roomID, requesterID string) error {
	room, err := u.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.HostID != requesterID {
		return ErrNotHost
	}
	if err := u.roomRepo.DeleteRoom(ctx, roomID); err != nil {
		return err
	}
	if u.expiry != nil {
		if err := u.expiry.PublishExpired(ctx, roomID); err != nil {
			logger.Log.Warn("expiry publish failed", zap.String("room_id", roomID), zap.Error(err))
		}
	}
	return nil
}

// SweepExpired prune expired rooms and announce each on the expiry feed
func (u *roomUseCase) SweepExpired(ctx context.Context) error {
	expired, err := u.roomRepo.SweepExpired(ctx, time.Now())
	if err != nil {
		return err
	}
	for _, id := range expired {
		logger.Log.Info("room expired", zap.String("room_id", id))
		if u.expiry == nil {
			continue
		}
		if err := u.expiry.PublishExpired(ctx, id); err != nil {
			logger.Log.Warn("expiry publish failed", zap.String("room_id", id), zap.Error(err))
		}
	}
	return nil
}

func mintTokenPair(room *domain.StudyRoom, uid, userName string, role token.RoleType) (*TokenPair, error) {
	rtc, err := token.GenerateRoomToken(uid, userName, room.RoomID, room.ChannelName, role, token.PurposeRTC)
	if err != nil {
		return nil, errprocess.Set(fmt.Sprintf("mint rtc token failed: %v", err))
	}
	rtm, err := token.GenerateRoomToken(uid, userName, room.RoomID, room.ChannelName, role, token.PurposeRTM)
	if err != nil {
		return nil, errprocess.Set(fmt.Sprintf("mint rtm token failed: %v", err))
	}
	return &TokenPair{
		RTCToken:    rtc,
		RTMToken:    rtm,
		UID:         uid,
		ChannelName: room.ChannelName,
	}, nil
}
