package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"study_sync_service/internal/session/domain"
	"study_sync_service/internal/session/repository"
	"study_sync_service/pkg/logger"
	"study_sync_service/pkg/middlewares"
	"study_sync_service/pkg/token"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// EngineRegistry live engines per room, so an expiry notification can tear
// down every session of a revoked room
type EngineRegistry struct {
	mu    sync.Mutex
	rooms map[string]map[string]*SyncEngine
}

// NewEngineRegistry create an empty registry
func NewEngineRegistry() *EngineRegistry {
	return &EngineRegistry{rooms: make(map[string]map[string]*SyncEngine)}
}

// Add register one live engine
func (r *EngineRegistry) Add(roomID, userID string, e *SyncEngine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]*SyncEngine)
	}
	r.rooms[roomID][userID] = e
}

// Remove drop one engine, the room entry goes with its last engine
func (r *EngineRegistry) Remove(roomID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms[roomID], userID)
	if len(r.rooms[roomID]) == 0 {
		delete(r.rooms, roomID)
	}
}

// CloseRoom tear down every engine of one room
func (r *EngineRegistry) CloseRoom(roomID string) {
	r.mu.Lock()
	engines := make([]*SyncEngine, 0, len(r.rooms[roomID]))
	for _, e := range r.rooms[roomID] {
		engines = append(engines, e)
	}
	delete(r.rooms, roomID)
	r.mu.Unlock()

	for _, e := range engines {
		if err := e.Leave(); err != nil {
			logger.Log.Warn("engine close failed", zap.String("room_id", roomID), zap.Error(err))
		}
	}
}

// SessionWebsocketHandler websocket entry point, one sync engine per
// connection
type SessionWebsocketHandler struct {
	roomUC   RoomUseCase
	registry *EngineRegistry
	redis    *redis.Client
	tuning   SyncTuning
}

// SyncTuning engine knobs taken from the room section of the YAML config,
// zero fields fall back to the engine defaults
type SyncTuning struct {
	SnapshotWait    time.Duration
	SnapshotRetries int
	ScrollInterval  time.Duration
}

// NewSessionWebsocketHandler create SessionWebsocketHandler
func NewSessionWebsocketHandler(roomUC RoomUseCase, registry *EngineRegistry, redisClient *redis.Client, tuning SyncTuning) *SessionWebsocketHandler {
	// an unset retry count means the default, the engine reads zero literally
	if tuning.SnapshotRetries <= 0 {
		tuning.SnapshotRetries = defaultSnapshotRetries
	}
	return &SessionWebsocketHandler{
		roomUC:   roomUC,
		registry: registry,
		redis:    redisClient,
		tuning:   tuning,
	}
}

// wsError error frame sent back to the client
type wsError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// HandleConnection websocket entry point
// the JWT middleware already resolved the member identity into Locals
func (h *SessionWebsocketHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	memberID, _ := conn.Locals(middlewares.TokenMemberID).(string)
	memberName, _ := conn.Locals(middlewares.TokenMemberName).(string)
	role, _ := conn.Locals(middlewares.TokenRole).(string)
	rawToken, _ := conn.Locals(middlewares.TokenRaw).(string)
	roomID := conn.Params("roomID")

	logger.Log.Info("websocket session open",
		zap.String("room_id", roomID),
		zap.String("user_id", memberID))

	room, err := h.roomUC.GetRoom(ctx, roomID)
	if err != nil {
		h.sendError(conn, nil, err.Error())
		conn.Close()
		return
	}

	var writeMu sync.Mutex
	transport := repository.NewRedisTransport(h.redis)
	engine := NewSyncEngine(transport, Options{
		AppID:           "study_sync",
		UserID:          memberID,
		UserName:        memberName,
		IsHost:          role == string(token.RoleHost),
		FollowPresenter: true,
		SnapshotWait:    h.tuning.SnapshotWait,
		SnapshotRetries: h.tuning.SnapshotRetries,
		ScrollInterval:  h.tuning.ScrollInterval,
	}, func(ev domain.Event) {
		data, err := domain.Encode(ev)
		if err != nil {
			logger.Log.Error("event encode failed", zap.Error(err))
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Log.Errorf("write message error:", err)
		}
	})

	if err := engine.Start(ctx, room.ChannelName, rawToken); err != nil {
		logger.Log.Error("engine start failed",
			zap.String("room_id", roomID),
			zap.String("user_id", memberID),
			zap.Error(err))
		h.sendError(conn, &writeMu, err.Error())
		conn.Close()
		return
	}

	h.registry.Add(roomID, memberID, engine)

	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		h.registry.Remove(roomID, memberID)
		if err := engine.Leave(); err != nil {
			logger.Log.Warn("engine leave failed", zap.Error(err))
		}
		conn.Close()
		logger.Log.Info("websocket session closed",
			zap.String("room_id", roomID),
			zap.String("user_id", memberID))
	}()

	// fiber swallows close/ping/pong internally, the handlers surface them
	conn.SetCloseHandler(func(code int, text string) error {
		logger.Log.Infof("WebSocket closed:", conn.RemoteAddr())
		return nil
	})
	conn.SetPongHandler(func(appData string) error {
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(appData),
			time.Now().Add(time.Second),
		)
	})

	// the engine tears down when the room is revoked, close the socket too
	go func() {
		<-engine.Done()
		conn.Close()
	}()

	go func() {
		for range ticker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, []byte("ping"))
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Log.Info("connection closed", zap.String("user_id", memberID))
			} else {
				logger.Log.Errorf("websocket read error:", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		if err := engine.Submit(ctx, message); err != nil {
			if err == ErrEngineClosed {
				return
			}
			logger.Log.Warn("submit failed", zap.String("user_id", memberID), zap.Error(err))
			h.sendError(conn, &writeMu, err.Error())
		}
	}
}

func (h *SessionWebsocketHandler) sendError(conn *websocket.Conn, writeMu *sync.Mutex, errorMsg string) {
	b, _ := json.Marshal(wsError{Type: "error", Error: errorMsg})
	if writeMu != nil {
		writeMu.Lock()
		defer writeMu.Unlock()
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		logger.Log.Errorf("write message error:", err)
	}
}
