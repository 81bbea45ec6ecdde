package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"study_sync_service/internal/session/domain"
	"study_sync_service/internal/session/repository"
	"study_sync_service/pkg/middlewares"
	testtool "study_sync_service/pkg/test_tool"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// full stack pass: redis container, fiber websocket route, two clients on
// the real transport
func TestWebsocketSession_EndToEnd(t *testing.T) {
	ctx := context.Background()

	redisContainer, redisHost, redisPort, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image:        "redis:latest",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	defer redisContainer.Terminate(ctx)

	redisClient := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", redisHost, redisPort),
		DB:   0,
	})

	roomRepo := repository.NewRedisRoomRepository(redisClient)
	roomUC := NewRoomUseCase(roomRepo, nil, nil, time.Hour)
	registry := NewEngineRegistry()
	wsHandler := NewSessionWebsocketHandler(roomUC, registry, redisClient, SyncTuning{})

	fiberApp := fiber.New()
	fiberApp.Get("/ws/:roomID", middlewares.JWTMiddleware(), websocket.New(func(c *websocket.Conn) {
		wsHandler.HandleConnection(context.Background(), c)
	}))
	go func() {
		if err := fiberApp.Listen(":8099"); err != nil {
			fmt.Printf("websocket server stopped: %v\n", err)
		}
	}()
	defer fiberApp.Shutdown()
	time.Sleep(2 * time.Second)

	room, hostPair, err := roomUC.CreateRoom(ctx, "Hannah", "", "")
	require.NoError(t, err)

	hostURL := fmt.Sprintf("ws://127.0.0.1:8099/ws/%s?auth=%s", room.RoomID, hostPair.RTMToken)
	hostConn, _, err := gws.DefaultDialer.Dial(hostURL, nil)
	require.NoError(t, err, "host connect failed")
	defer hostConn.Close()

	// the host must be live before the participant joins, it answers the
	// snapshot handshake
	time.Sleep(500 * time.Millisecond)

	benPair, err := roomUC.IssueToken(ctx, room.RoomID, "Ben", "")
	require.NoError(t, err)

	benURL := fmt.Sprintf("ws://127.0.0.1:8099/ws/%s?auth=%s", room.RoomID, benPair.RTMToken)
	benConn, _, err := gws.DefaultDialer.Dial(benURL, nil)
	require.NoError(t, err, "participant connect failed")
	defer benConn.Close()

	// first frame on a fresh participant is the host's state handoff
	benConn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, frame, err := benConn.ReadMessage()
	require.NoError(t, err)
	env, err := domain.DecodeEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, string(domain.KindStateSnapshot), env.Type)
	assert.Equal(t, hostPair.UID, env.SenderID)

	// a host mutation reaches the participant with the sender rewritten
	highlight := []byte(`{"type":"highlight_create","sender_id":"spoofed","payload":{"id":"h-e2e","text":"osmosis"}}`)
	require.NoError(t, hostConn.WriteMessage(gws.TextMessage, highlight))

	_, frame, err = benConn.ReadMessage()
	require.NoError(t, err)
	env, err = domain.DecodeEnvelope(frame)
	require.NoError(t, err)
	assert.Equal(t, string(domain.KindHighlightCreate), env.Type)
	assert.Equal(t, hostPair.UID, env.SenderID)
}
