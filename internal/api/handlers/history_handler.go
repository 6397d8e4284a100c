package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/vettan-ai/backend/internal/middleware/validation"
	"github.com/vettan-ai/backend/internal/query"
	"github.com/vettan-ai/backend/internal/storage/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

type HistoryService interface {
	ListSessions(ctx context.Context, limit int) ([]models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, error)
	GetMessages(ctx context.Context, sessionID string) ([]models.Message, error)
	UpdateSession(ctx context.Context, id string, upd models.SessionUpdate) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	Health(ctx context.Context) query.Health
}

type HistoryHandler struct {
	service HistoryService
}

func NewHistoryHandler(service HistoryService) *HistoryHandler {
	return &HistoryHandler{service: service}
}

func (h *HistoryHandler) ListSessions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultHistoryLimit)
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	sessions, err := h.service.ListSessions(c.Context(), limit)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (h *HistoryHandler) GetSession(c *fiber.Ctx) error {
	id := c.Params("id")
	if !validation.IsSessionID(id) {
		return invalidSessionID(c)
	}

	session, err := h.service.GetSession(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(session)
}

func (h *HistoryHandler) GetMessages(c *fiber.Ctx) error {
	id := c.Params("id")
	if !validation.IsSessionID(id) {
		return invalidSessionID(c)
	}

	messages, err := h.service.GetMessages(c.Context(), id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"session_id": id,
		"messages":   messages,
	})
}

func (h *HistoryHandler) UpdateSession(c *fiber.Ctx) error {
	id := c.Params("id")
	if !validation.IsSessionID(id) {
		return invalidSessionID(c)
	}

	var body struct {
		Title      *string `json:"title"`
		IsFavorite *bool   `json:"is_favorite"`
	}
	if err := c.App().Config().JSONDecoder(c.Body(), &body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid JSON format",
		})
	}

	session, err := h.service.UpdateSession(c.Context(), id, models.SessionUpdate{
		Query:      body.Title,
		IsFavorite: body.IsFavorite,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(session)
}

func (h *HistoryHandler) DeleteSession(c *fiber.Ctx) error {
	id := c.Params("id")
	if !validation.IsSessionID(id) {
		return invalidSessionID(c)
	}

	if err := h.service.DeleteSession(c.Context(), id); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"deleted": true,
		"id":      id,
	})
}

func (h *HistoryHandler) Health(c *fiber.Ctx) error {
	return c.JSON(h.service.Health(c.Context()))
}

func invalidSessionID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "Invalid session id",
	})
}
