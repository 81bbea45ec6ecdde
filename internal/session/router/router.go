package router

import (
	"context"

	"study_sync_service/internal/session/app"
	"study_sync_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes register room registry and sync session routes
// @title Study Sync Service API
// @version 1.0
// @description API documentation for Study Sync Service
// @host localhost:8080
// @BasePath /
func RegisterRoutes(r *fiber.App, roomHandler *app.RoomHandler, wsHandler *app.SessionWebsocketHandler) {
	r.Get("/swagger/*", swagger.HandlerDefault)
	r.Get("/", app.ConnectCheck)
	r.Post("/debug", app.DebugLogFlag)

	rooms := r.Group("/rooms")
	rooms.Post("/create", roomHandler.CreateRoom)
	rooms.Get("/:roomId", roomHandler.GetRoom)
	rooms.Post("/:roomId/token", roomHandler.IssueToken)
	rooms.Delete("/:roomId", middlewares.JWTMiddleware(), roomHandler.DeleteRoom)

	r.Get("/ws/:roomID", middlewares.JWTMiddleware(), websocket.New(func(c *websocket.Conn) {
		wsHandler.HandleConnection(context.Background(), c)
	}))
}
