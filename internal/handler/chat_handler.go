package handler

import (
	"context"
	"errors"

	"sportbook-be/internal/dto"
	"sportbook-be/internal/entity"
	"sportbook-be/internal/pkg/logger"
	"sportbook-be/internal/pkg/serverutils"
	"sportbook-be/internal/service"
	internalWS "sportbook-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
)

// ChatService is what the transport needs from the chat coordinator.
type ChatService interface {
	internalWS.FrameHandler
	Authenticate(ctx context.Context, credential string) (*service.Connection, error)
	History(ctx context.Context, roomID, requesterID uuid.UUID, limit int) ([]*entity.ChatMessage, error)
	Presence(ctx context.Context, roomID, requesterID uuid.UUID) (dto.PresenceListPayload, error)
}

type ChatHandler struct {
	chat      ChatService
	hub       *internalWS.Hub
	jwtSecret string
	queueSize int
	logger    logger.ILogger
}

func NewChatHandler(chat ChatService, hub *internalWS.Hub, jwtSecret string, queueSize int, log logger.ILogger) *ChatHandler {
	return &ChatHandler{
		chat:      chat,
		hub:       hub,
		jwtSecret: jwtSecret,
		queueSize: queueSize,
		logger:    log,
	}
}

// ServeWs authenticates the handshake and hands the socket to the hub.
func (h *ChatHandler) ServeWs(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	// Priority 1: Query Param (Browser standard)
	tokenStr := c.Query("token")
	// Priority 2: Authorization Header (Tooling/Non-browser standard)
	if tokenStr == "" {
		tokenStr = serverutils.BearerToken(c.Get("Authorization"))
	}

	conn, err := h.chat.Authenticate(c.UserContext(), tokenStr)
	if err != nil {
		h.logger.Warn("ChatHandler", "Rejected WebSocket handshake", map[string]interface{}{"error": err.Error()})
		return statusError(err)
	}

	return websocket.New(func(ws *websocket.Conn) {
		h.logger.Info("ChatHandler", "Starting chat session", map[string]interface{}{
			"connection_id":  conn.ID,
			"participant_id": conn.ParticipantID.String(),
		})
		internalWS.ServeWs(h.hub, h.chat, ws, conn, h.queueSize)
		h.logger.Info("ChatHandler", "Chat session ended", map[string]interface{}{"connection_id": conn.ID})
	})(c)
}

func (h *ChatHandler) GetMessages(c *fiber.Ctx) error {
	userID, roomID, err := h.identify(c)
	if err != nil {
		return err
	}

	var query dto.HistoryQuery
	if err := c.QueryParser(&query); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid query")
	}
	if err := serverutils.ValidateRequest(&query); err != nil {
		return err
	}

	messages, err := h.chat.History(c.UserContext(), roomID, userID, query.Limit)
	if err != nil {
		return statusError(err)
	}
	return c.JSON(serverutils.SuccessResponse("Chat history", messages))
}

func (h *ChatHandler) GetPresence(c *fiber.Ctx) error {
	userID, roomID, err := h.identify(c)
	if err != nil {
		return err
	}

	list, err := h.chat.Presence(c.UserContext(), roomID, userID)
	if err != nil {
		return statusError(err)
	}
	return c.JSON(serverutils.SuccessResponse("Room presence", list))
}

func (h *ChatHandler) identify(c *fiber.Ctx) (uuid.UUID, uuid.UUID, error) {
	userIDStr, _ := c.Locals("user_id").(string)
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, uuid.Nil, fiber.NewError(fiber.StatusUnauthorized, "Invalid user ID")
	}
	roomID, err := uuid.Parse(c.Params("roomId"))
	if err != nil {
		return uuid.Nil, uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "Invalid room ID")
	}
	return userID, roomID, nil
}

func statusError(err error) error {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrNotAuthorized):
		return fiber.NewError(fiber.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrInvalidRequest):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnavailable):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}

// RegisterRoutes registers the chat routes.
func (h *ChatHandler) RegisterRoutes(router fiber.Router) {
	chat := router.Group("/chat")

	// WebSocket; authenticates its own handshake
	chat.Get("/ws", h.ServeWs)

	rooms := chat.Group("/rooms")
	rooms.Use(serverutils.JwtMiddleware(h.jwtSecret))
	rooms.Get("/:roomId/messages", h.GetMessages)
	rooms.Get("/:roomId/presence", h.GetPresence)
}
