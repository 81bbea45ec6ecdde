package app

import (
	"errors"

	"study_sync_service/pkg/encrypt"
	"study_sync_service/pkg/logger"
	"study_sync_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RoomHandler HTTP entry points of the room registry
type RoomHandler struct {
	roomUC RoomUseCase
}

// NewRoomHandler create RoomHandler
func NewRoomHandler(roomUC RoomUseCase) *RoomHandler {
	return &RoomHandler{roomUC: roomUC}
}

// CreateRoom create a study room
// @Summary Create a study room
// @Description Registers a room and returns the host credentials
// @Tags Rooms
// @Accept json
// @Produce json
// @Param request body app.createRoomRequest true "room settings"
// @Success 200 {object} string "room created"
// @Failure 400 {object} string "invalid request"
// @Failure 500 {object} string "server error"
// @Router /rooms/create [post]
func (h *RoomHandler) CreateRoom(c *fiber.Ctx) error {
	var req createRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	if req.HostName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "host_name is required"})
	}

	room, pair, err := h.roomUC.CreateRoom(c.Context(), req.HostName, req.DocName, req.Password)
	if err != nil {
		if errors.Is(err, encrypt.ErrWeakPassword) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
		logger.Log.Error("create room failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "create room failed"})
	}

	logger.Log.Info("room created",
		zap.String("room_id", room.RoomID),
		zap.String("host", req.HostName))
	return c.JSON(fiber.Map{
		"room_id":      room.RoomID,
		"channel_name": room.ChannelName,
		"doc_url":      room.DocURL,
		"expires_at":   room.ExpiresAt,
		"is_private":   room.IsPrivate,
		"tokens":       pair,
	})
}

// GetRoom fetch one room record
// @Summary Fetch a study room
// @Description Returns the room record, 404 when unknown, 410 when expired
// @Tags Rooms
// @Produce json
// @Param roomId path string true "room id"
// @Success 200 {object} string "room record"
// @Failure 404 {object} string "room not found"
// @Failure 410 {object} string "room expired"
// @Router /rooms/{roomId} [get]
func (h *RoomHandler) GetRoom(c *fiber.Ctx) error {
	room, err := h.roomUC.GetRoom(c.Context(), c.Params("roomId"))
	if err != nil {
		return roomErrStatus(c, err)
	}

	return c.JSON(fiber.Map{
		"room_id":      room.RoomID,
		"channel_name": room.ChannelName,
		"doc_name":     room.DocName,
		"doc_url":      room.DocURL,
		"host_name":    room.HostName,
		"is_private":   room.IsPrivate,
		"created_at":   room.CreatedAt,
		"expires_at":   room.ExpiresAt,
		"participants": len(room.Participants),
	})
}

// IssueToken mint participant credentials for a room
// @Summary Join a study room
// @Description Mints the token pair a participant needs, checks the password on private rooms
// @Tags Rooms
// @Accept json
// @Produce json
// @Param roomId path string true "room id"
// @Param request body app.issueTokenRequest true "participant info"
// @Success 200 {object} app.TokenPair "credentials"
// @Failure 401 {object} string "password mismatch"
// @Failure 404 {object} string "room not found"
// @Failure 410 {object} string "room expired"
// @Router /rooms/{roomId}/token [post]
func (h *RoomHandler) IssueToken(c *fiber.Ctx) error {
	var req issueTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	if req.UserName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_name is required"})
	}

	pair, err := h.roomUC.IssueToken(c.Context(), c.Params("roomId"), req.UserName, req.Password)
	if err != nil {
		return roomErrStatus(c, err)
	}
	return c.JSON(pair)
}

// DeleteRoom delete a room, host only
// @Summary Delete a study room
// @Description Removes the room and revokes its live sessions
// @Tags Rooms
// @Produce json
// @Param roomId path string true "room id"
// @Param auth query string false "host token"
// @Success 200 {object} string "room deleted"
// @Failure 403 {object} string "not the host"
// @Failure 404 {object} string "room not found"
// @Router /rooms/{roomId} [delete]
func (h *RoomHandler) DeleteRoom(c *fiber.Ctx) error {
	memberID, ok := c.Locals(middlewares.TokenMemberID).(string)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing identity"})
	}

	if err := h.roomUC.DeleteRoom(c.Context(), c.Params("roomId"), memberID); err != nil {
		return roomErrStatus(c, err)
	}
	return c.JSON(fiber.Map{"message": "room deleted"})
}

type createRoomRequest struct {
	HostName string `json:"host_name"`
	DocName  string `json:"doc_name"`
	Password string `json:"password"`
}

type issueTokenRequest struct {
	UserName string `json:"user_name"`
	Password string `json:"password"`
}

func roomErrStatus(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrRoomExpired):
		return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrRoomPassword):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrNotHost):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": err.Error()})
	default:
		logger.Log.Error("room operation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
	}
}
