package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"study_sync_service/pkg/logger"
	"study_sync_service/pkg/token"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	channelKeyFmt  = "sync:channel:%s"
	membersKeyFmt  = "sync:channel:%s:members"
	peerKeyFmt     = "sync:peer:%s"
	presenceKeyFmt = "sync:presence:%s:%s"

	// eventBufSize bounded so a stalled consumer never blocks the pubsub
	// reader, overflow is dropped with a warn
	eventBufSize = 256

	defaultPresenceInterval = 5 * time.Second
	presenceTTLFactor       = 3
)

// RedisTransport Transport implementation over redis pub/sub with a
// members set plus per-member TTL keys for presence
type RedisTransport struct {
	client *redis.Client

	// PresenceInterval presence refresh/poll period, set before Initialize
	PresenceInterval time.Duration

	mu        sync.Mutex
	appID     string
	userID    string
	channelID string
	authed    bool
	joined    bool
	closed    bool

	events chan TransportEvent
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisTransport create a transport bound to a redis client
func NewRedisTransport(client *redis.Client) *RedisTransport {
	return &RedisTransport{
		client:           client,
		PresenceInterval: defaultPresenceInterval,
		events:           make(chan TransportEvent, eventBufSize),
	}
}

// Initialize bind the transport to an app and user, once
func (t *RedisTransport) Initialize(appID, userID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.appID != "" {
		return ErrAlreadyInitialized
	}
	if appID == "" || userID == "" {
		return ErrTransportInit
	}
	t.appID = appID
	t.userID = userID
	return nil
}

// Authenticate validate the messaging token against the bound user
func (t *RedisTransport) Authenticate(ctx context.Context, tokenStr string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.appID == "" || t.closed {
		return ErrTransportInit
	}

	claims, err := token.ParseRoomToken(tokenStr)
	if err != nil {
		logger.Log.Warn("transport auth failed", zap.Error(err))
		return ErrAuthToken
	}
	if claims.Purpose != string(token.PurposeRTM) || claims.UserID != t.userID {
		logger.Log.Warn("transport auth mismatch",
			zap.String("token_uid", claims.UserID),
			zap.String("transport_uid", t.userID))
		return ErrAuthToken
	}

	t.authed = true
	t.emit(ConnStateChanged{State: ConnConnected})
	return nil
}

// JoinChannel enter the room channel and start delivery on Events()
func (t *RedisTransport) JoinChannel(ctx context.Context, channelID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.authed {
		return ErrNotAuthenticated
	}
	if t.joined {
		return ErrChannelJoin
	}

	channelSub := t.client.Subscribe(ctx, fmt.Sprintf(channelKeyFmt, channelID))
	peerSub := t.client.Subscribe(ctx, fmt.Sprintf(peerKeyFmt, t.userID))

	if err := t.client.SAdd(ctx, fmt.Sprintf(membersKeyFmt, channelID), t.userID).Err(); err != nil {
		channelSub.Close()
		peerSub.Close()
		logger.Log.Error("join channel failed", zap.Error(err))
		return ErrChannelJoin
	}
	presenceKey := fmt.Sprintf(presenceKeyFmt, channelID, t.userID)
	if err := t.client.Set(ctx, presenceKey, "1", t.PresenceInterval*presenceTTLFactor).Err(); err != nil {
		channelSub.Close()
		peerSub.Close()
		logger.Log.Error("presence key failed", zap.Error(err))
		return ErrChannelJoin
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.channelID = channelID
	t.joined = true

	t.wg.Add(3)
	go t.readLoop(loopCtx, channelSub, false)
	go t.readLoop(loopCtx, peerSub, true)
	go t.presenceLoop(loopCtx, channelID)

	return nil
}

// Broadcast send payload to every channel member
func (t *RedisTransport) Broadcast(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	channelID := t.channelID
	joined := t.joined
	t.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}

	if err := t.client.Publish(ctx, fmt.Sprintf(channelKeyFmt, channelID), payload).Err(); err != nil {
		logger.Log.Error("broadcast failed", zap.Error(err))
		return ErrSend
	}
	return nil
}

// SendDirect send payload to one member only
func (t *RedisTransport) SendDirect(ctx context.Context, peerID string, payload []byte) error {
	t.mu.Lock()
	joined := t.joined
	t.mu.Unlock()
	if !joined {
		return ErrNotJoined
	}

	if err := t.client.Publish(ctx, fmt.Sprintf(peerKeyFmt, peerID), payload).Err(); err != nil {
		logger.Log.Error("send direct failed", zap.String("peer", peerID), zap.Error(err))
		return ErrSend
	}
	return nil
}

// Leave tear down channel and connection, safe to call more than once
func (t *RedisTransport) Leave() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	channelID := t.channelID
	joined := t.joined
	cancel := t.cancel
	t.joined = false
	t.authed = false
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()

	if joined {
		ctx, cancelCleanup := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancelCleanup()
		if err := t.client.SRem(ctx, fmt.Sprintf(membersKeyFmt, channelID), t.userID).Err(); err != nil {
			logger.Log.Warn("presence cleanup failed", zap.Error(err))
		}
		if err := t.client.Del(ctx, fmt.Sprintf(presenceKeyFmt, channelID, t.userID)).Err(); err != nil {
			logger.Log.Warn("presence cleanup failed", zap.Error(err))
		}
	}

	close(t.events)
	return nil
}

// Events notifications channel, closed by Leave
func (t *RedisTransport) Events() <-chan TransportEvent {
	return t.events
}

// readLoop drain one subscription until the transport leaves
func (t *RedisTransport) readLoop(ctx context.Context, sub *redis.PubSub, direct bool) {
	defer t.wg.Done()
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case m, ok := <-ch:
			if !ok {
				return
			}
			payload := []byte(m.Payload)
			sender := peekSender(payload)
			if direct {
				t.emit(DirectMessage{SenderID: sender, Payload: payload})
			} else {
				t.emit(ChannelMessage{SenderID: sender, Payload: payload})
			}
		case <-ctx.Done():
			return
		}
	}
}

// presenceLoop refresh our TTL key and diff the members set, emitting
// MemberJoined/MemberLeft as peers appear and expire
func (t *RedisTransport) presenceLoop(ctx context.Context, channelID string) {
	defer t.wg.Done()

	known := map[string]struct{}{t.userID: {}}
	ticker := time.NewTicker(t.PresenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			presenceKey := fmt.Sprintf(presenceKeyFmt, channelID, t.userID)
			if err := t.client.Set(ctx, presenceKey, "1", t.PresenceInterval*presenceTTLFactor).Err(); err != nil {
				t.emit(TransportError{Err: err})
				continue
			}

			members, err := t.client.SMembers(ctx, fmt.Sprintf(membersKeyFmt, channelID)).Result()
			if err != nil {
				t.emit(TransportError{Err: err})
				continue
			}

			live := make(map[string]struct{}, len(members))
			for _, id := range members {
				if id == t.userID {
					live[id] = struct{}{}
					continue
				}
				n, err := t.client.Exists(ctx, fmt.Sprintf(presenceKeyFmt, channelID, id)).Result()
				if err != nil {
					t.emit(TransportError{Err: err})
					continue
				}
				if n == 0 {
					// stale record, reap it so the set stays honest
					t.client.SRem(ctx, fmt.Sprintf(membersKeyFmt, channelID), id)
					continue
				}
				live[id] = struct{}{}
			}

			for id := range live {
				if _, ok := known[id]; !ok {
					t.emit(MemberJoined{MemberID: id})
				}
			}
			for id := range known {
				if _, ok := live[id]; !ok && id != t.userID {
					t.emit(MemberLeft{MemberID: id})
				}
			}
			known = live
		case <-ctx.Done():
			return
		}
	}
}

// emit non-blocking delivery, a full buffer drops the event with a warn
func (t *RedisTransport) emit(ev TransportEvent) {
	select {
	case t.events <- ev:
	default:
		logger.Log.Warn("transport event buffer full, dropping",
			zap.String("event", fmt.Sprintf("%T", ev)))
	}
}

// peekSender read only sender_id from the envelope, empty on malformed input
func peekSender(payload []byte) string {
	var head struct {
		SenderID string `json:"sender_id"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return ""
	}
	return head.SenderID
}
