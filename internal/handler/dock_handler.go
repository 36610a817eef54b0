package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/aifeed/chatdock/internal/dock"
	"github.com/aifeed/chatdock/internal/dto"
	"github.com/aifeed/chatdock/internal/middleware"
	"github.com/aifeed/chatdock/internal/repository"
	"github.com/aifeed/chatdock/internal/service"
	"github.com/aifeed/chatdock/internal/utils"
)

// DockHandler wires the chat dock endpoints including the websocket upgrade.
type DockHandler struct {
	service   service.DockService
	registry  *dock.Registry
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewDockHandler creates a dock handler instance.
func NewDockHandler(svc service.DockService, registry *dock.Registry, validator *validator.Validate, logger zerolog.Logger) *DockHandler {
	return &DockHandler{
		service:   svc,
		registry:  registry,
		validator: validator,
		logger:    logger.With().Str("component", "dock_handler").Logger(),
	}
}

// Register binds dock routes under the provided router group.
func (h *DockHandler) Register(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	router.Get("/ws", websocket.New(h.handleConnection))
	router.Get("/threads", h.threads)
	router.Get("/conversations/:id/messages", h.messages)
	router.Post("/open-chat", h.openChat)
	router.Get("/presence", h.presence)
}

func (h *DockHandler) handleConnection(conn *websocket.Conn) {
	userID := websocketUserID(conn)
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "user id missing"))
		_ = conn.Close()
		return
	}

	viewport := 0
	if raw := strings.TrimSpace(conn.Query("viewport")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			viewport = parsed
		}
	}

	var requestCtx context.Context
	if v := conn.Locals("request_ctx"); v != nil {
		if ctx, ok := v.(context.Context); ok {
			requestCtx = ctx
		}
	}

	h.service.ServeConnection(conn, service.SessionOptions{
		UserID:        userID,
		ViewportWidth: viewport,
		CorrelationID: middleware.CorrelationIDFromContext(requestCtx),
		Context:       requestCtx,
	})
}

func (h *DockHandler) threads(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	threads, err := h.service.Threads(c.UserContext(), userID)
	if err != nil {
		requestLogger(h.logger, c).Warn().Err(err).Msg("failed to list threads")
		return utils.SendError(c, fiber.StatusBadGateway, "unable to load threads")
	}

	return utils.SendSuccess(c, "threads loaded", threads)
}

func (h *DockHandler) messages(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	conversationID := strings.TrimSpace(c.Params("id"))
	if conversationID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "conversation id required")
	}

	messages, err := h.service.Messages(c.UserContext(), userID, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "conversation not found")
		}
		if errors.Is(err, service.ErrNotParticipant) {
			return utils.SendError(c, fiber.StatusForbidden, "not a conversation participant")
		}
		requestLogger(h.logger, c).Warn().Err(err).Msg("failed to list messages")
		return utils.SendError(c, fiber.StatusBadGateway, "unable to load messages")
	}

	return utils.SendSuccess(c, "messages loaded", messages)
}

func (h *DockHandler) openChat(c *fiber.Ctx) error {
	userID := userIDFromContext(c)
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "authentication required")
	}

	var payload dto.OpenChatRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	ctx := dock.WithActor(c.UserContext(), userID)
	opened, err := h.registry.Invoke(ctx, payload.UserID, dock.OpenChatOptions{CreateIfMissing: payload.CreateIfMissing})
	if err != nil {
		if errors.Is(err, dock.ErrNotInitialized) {
			return utils.SendError(c, fiber.StatusServiceUnavailable, "chat system not ready")
		}
		requestLogger(h.logger, c).Warn().Err(err).Msg("open chat failed")
		return utils.SendError(c, fiber.StatusBadGateway, "unable to open chat")
	}

	return utils.SendSuccess(c, "open chat resolved", dto.OpenChatResponse{Opened: opened})
}

func (h *DockHandler) presence(c *fiber.Ctx) error {
	online, err := h.service.Online(c.UserContext())
	if err != nil {
		requestLogger(h.logger, c).Warn().Err(err).Msg("failed to load presence snapshot")
		return utils.SendError(c, fiber.StatusBadGateway, "unable to load presence")
	}

	return utils.SendSuccess(c, "presence loaded", online)
}

func websocketUserID(conn *websocket.Conn) string {
	if v := conn.Locals("user_id"); v != nil {
		if id, ok := v.(string); ok {
			return strings.TrimSpace(id)
		}
	}
	return strings.TrimSpace(conn.Query("user_id"))
}
