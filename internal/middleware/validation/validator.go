package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQueryLength int
	Logger         *zap.Logger
}

// ResearchRequest is the body of POST /api/research.
type ResearchRequest struct {
	Query      string `json:"query"`
	UseCache   *bool  `json:"use_cache"`
	SessionID  string `json:"session_id"`
	IsFollowup bool   `json:"is_followup"`
}

// CacheEnabled defaults to true when the field is absent.
func (r ResearchRequest) CacheEnabled() bool {
	return r.UseCache == nil || *r.UseCache
}

const LocalsKey = "research_request"

// ResearchBody validates the research request body and stores the parsed,
// sanitized request in c.Locals(LocalsKey).
func ResearchBody(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = 2000
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if ct := c.Get(fiber.HeaderContentType); ct != "" && !strings.HasPrefix(ct, fiber.MIMEApplicationJSON) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Content-Type must be application/json",
			})
		}

		var req ResearchRequest
		if err := c.App().Config().JSONDecoder(c.Body(), &req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		req.Query = sanitizeString(req.Query)
		req.SessionID = strings.TrimSpace(req.SessionID)

		if req.Query == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Query is required",
			})
		}

		if utf8.RuneCountInString(req.Query) > cfg.MaxQueryLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Query exceeds maximum length",
			})
		}

		if xssPattern.MatchString(req.Query) {
			cfg.Logger.Warn("Potential XSS attempt", zap.String("ip", c.IP()))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid query content",
			})
		}

		if req.IsFollowup {
			if req.SessionID == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "session_id is required for follow-up questions",
				})
			}
			if !IsSessionID(req.SessionID) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "session_id must be a UUID",
				})
			}
		}

		c.Locals(LocalsKey, req)
		return c.Next()
	}
}

func IsSessionID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func sanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")
	return strings.TrimSpace(input)
}
