package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/vettan-ai/backend/internal/middleware/validation"
	"github.com/vettan-ai/backend/internal/query"
	"github.com/vettan-ai/backend/internal/research"
	"github.com/vettan-ai/backend/internal/storage/models"
	"github.com/vettan-ai/backend/pkg/logger"
)

// ResearchService is the part of query.Engine the research endpoints need.
type ResearchService interface {
	RunPipeline(ctx context.Context, query string, opts query.Options) (*research.Result, error)
	RunFollowup(ctx context.Context, query, sessionID string) (*research.Result, error)
	GetMessages(ctx context.Context, sessionID string) ([]models.Message, error)
}

type ResearchHandler struct {
	service ResearchService
}

func NewResearchHandler(service ResearchService) *ResearchHandler {
	return &ResearchHandler{service: service}
}

type researchResponse struct {
	Output    string              `json:"output"`
	Citations []research.Citation `json:"citations"`
	Metadata  research.Metadata   `json:"metadata"`
	SessionID string              `json:"session_id"`
	Messages  []models.Message    `json:"messages,omitempty"`
}

// HandleResearch expects validation.ResearchBody to run first.
func (h *ResearchHandler) HandleResearch(c *fiber.Ctx) error {
	req, ok := c.Locals(validation.LocalsKey).(validation.ResearchRequest)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ctx := c.Context()

	if req.IsFollowup && req.SessionID != "" {
		logger.Info("Processing follow-up", zap.String("session_id", req.SessionID))

		result, err := h.service.RunFollowup(ctx, req.Query, req.SessionID)
		if err != nil {
			return writeError(c, err)
		}

		resp := toResponse(result)
		messages, err := h.service.GetMessages(ctx, req.SessionID)
		if err != nil {
			logger.Warn("Failed to load messages after follow-up", zap.String("session_id", req.SessionID), zap.Error(err))
		} else {
			resp.Messages = messages
		}
		return c.JSON(resp)
	}

	logger.Info("Processing research query", zap.Int("query_length", len(req.Query)), zap.Bool("use_cache", req.CacheEnabled()))

	result, err := h.service.RunPipeline(ctx, req.Query, query.Options{
		UseCache: req.CacheEnabled(),
		SaveToDB: true,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(toResponse(result))
}

func toResponse(result *research.Result) researchResponse {
	citations := result.Citations
	if citations == nil {
		citations = []research.Citation{}
	}
	return researchResponse{
		Output:    result.Output,
		Citations: citations,
		Metadata:  result.Metadata,
		SessionID: result.Metadata.SessionID,
	}
}
