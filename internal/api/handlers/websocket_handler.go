package handlers

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/vettan-ai/backend/internal/metrics"
	"github.com/vettan-ai/backend/internal/middleware/validation"
	"github.com/vettan-ai/backend/internal/query"
	"github.com/vettan-ai/backend/internal/research"
	"github.com/vettan-ai/backend/pkg/logger"
)

type WebSocketHandler struct {
	service        ResearchService
	maxQueryLength int
	timeout        time.Duration
}

func NewWebSocketHandler(service ResearchService, maxQueryLength int, timeout time.Duration) *WebSocketHandler {
	return &WebSocketHandler{
		service:        service,
		maxQueryLength: maxQueryLength,
		timeout:        timeout,
	}
}

// RequireUpgrade rejects plain HTTP requests to the websocket route.
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

type wsRequest struct {
	Type       string `json:"type"`
	Query      string `json:"query"`
	UseCache   *bool  `json:"use_cache"`
	SessionID  string `json:"session_id"`
	IsFollowup bool   `json:"is_followup"`
}

type wsFrame struct {
	Type      string              `json:"type"`
	Content   string              `json:"content,omitempty"`
	Citations []research.Citation `json:"citations,omitempty"`
	Metadata  *research.Metadata  `json:"metadata,omitempty"`
	SessionID string              `json:"session_id,omitempty"`
	Error     string              `json:"error,omitempty"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	metrics.ActiveConnections.Inc()
	logger.Info("WebSocket connection established")

	defer func() {
		metrics.ActiveConnections.Dec()
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg wsRequest
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if msg.Type != "" && msg.Type != "research" {
			continue
		}

		if reason := h.validate(&msg); reason != "" {
			if err := c.WriteJSON(wsFrame{Type: "error", Error: reason}); err != nil {
				return
			}
			continue
		}

		if err := h.streamResult(c, msg); err != nil {
			logger.Warn("Failed to stream research result", zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) validate(msg *wsRequest) string {
	msg.Query = strings.TrimSpace(msg.Query)
	msg.SessionID = strings.TrimSpace(msg.SessionID)

	switch {
	case msg.Query == "":
		return "Query is required"
	case h.maxQueryLength > 0 && utf8.RuneCountInString(msg.Query) > h.maxQueryLength:
		return "Query exceeds maximum length"
	case msg.IsFollowup && !validation.IsSessionID(msg.SessionID):
		return "session_id must be a UUID"
	}
	return ""
}

func (h *WebSocketHandler) streamResult(c *websocket.Conn, msg wsRequest) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := c.WriteJSON(wsFrame{Type: "status", Content: "Researching..."}); err != nil {
		return err
	}

	var (
		result *research.Result
		err    error
	)
	if msg.IsFollowup {
		result, err = h.service.RunFollowup(ctx, msg.Query, msg.SessionID)
	} else {
		result, err = h.service.RunPipeline(ctx, msg.Query, query.Options{
			UseCache: msg.UseCache == nil || *msg.UseCache,
			SaveToDB: true,
		})
	}
	if err != nil {
		logger.Warn("WebSocket research failed", zap.Error(err))
		return c.WriteJSON(wsFrame{Type: "error", Error: "Failed to process query"})
	}

	for _, chunk := range splitIntoChunks(result.Output) {
		if err := c.WriteJSON(wsFrame{Type: "chunk", Content: chunk}); err != nil {
			return err
		}
	}

	resp := toResponse(result)
	return c.WriteJSON(wsFrame{
		Type:      "complete",
		Citations: resp.Citations,
		Metadata:  &resp.Metadata,
		SessionID: resp.SessionID,
	})
}

// splitIntoChunks splits text into words, each carrying its trailing space,
// with newlines emitted as their own chunks. Joining the chunks reproduces
// the text up to collapsed whitespace.
func splitIntoChunks(text string) []string {
	var chunks []string
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			chunks = append(chunks, "\n")
		}
		words := strings.Fields(line)
		for j, word := range words {
			if j < len(words)-1 {
				word += " "
			}
			chunks = append(chunks, word)
		}
	}
	return chunks
}
