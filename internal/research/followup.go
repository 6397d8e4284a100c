package research

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/vettan-ai/backend/internal/llm"
	"github.com/vettan-ai/backend/internal/metrics"
	"github.com/vettan-ai/backend/pkg/logger"
)

const followupInstruction = "You are Vettan, a research assistant. " +
	"Answer the follow-up question using the conversation so far. " +
	"Keep the same depth and cite the sources already discussed where relevant. " +
	"If the question needs information the conversation does not contain, say so plainly."

// Turn is one prior message of a conversation, oldest first.
type Turn struct {
	Role    string
	Content string
}

type FollowupHandler struct {
	gen       Generator
	model     string
	window    int
	charLimit int
}

func NewFollowupHandler(gen Generator, model string, window, charLimit int) *FollowupHandler {
	if window <= 0 {
		window = 6
	}
	if charLimit <= 0 {
		charLimit = 3000
	}
	return &FollowupHandler{gen: gen, model: model, window: window, charLimit: charLimit}
}

// Answer replies to query given the prior conversation. It does no search.
// Generation failures come back as an error-flagged Result.
func (f *FollowupHandler) Answer(ctx context.Context, query string, history []Turn) *Result {
	start := time.Now()

	messages := f.buildMessages(query, history)
	contextMessages := len(messages)

	result := &Result{
		Citations: []Citation{},
		Metadata: Metadata{
			Path:       PathFollowup,
			Followup:   true,
			Iterations: 1,
			Context: &FollowupDetail{
				Model:           f.model,
				ContextMessages: contextMessages,
			},
		},
	}

	resp, err := f.gen.Complete(ctx, llm.CompletionRequest{
		Model:       f.model,
		Messages:    messages,
		Temperature: llm.Temperature(0.3),
		MaxTokens:   1500,
	})
	if err != nil {
		logger.Error("Follow-up generation failed", zap.Int("context_messages", contextMessages), zap.Error(err))
		result.Output = fmt.Sprintf("Research failed: could not answer the follow-up question (%v)", err)
		result.Metadata.Error = true
		result.Metadata.ErrorMessage = err.Error()
		result.Metadata.TotalTime = round(time.Since(start).Seconds(), 2)
		return result
	}

	spend := spendOf(resp)
	metrics.LLMCost.Add(spend.Cost)

	result.Output = strings.TrimSpace(resp.Content)
	result.Metadata.EstimatedCost = spend.Cost
	result.Metadata.TotalTime = round(time.Since(start).Seconds(), 2)
	if resp.Model != "" {
		result.Metadata.Context.Model = resp.Model
	}
	result.Metadata.Context.Tokens = spend.Tokens
	return result
}

func (f *FollowupHandler) buildMessages(query string, history []Turn) []llm.Message {
	if len(history) > f.window {
		history = history[len(history)-f.window:]
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: followupInstruction})
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == llm.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: truncateChars(t.Content, f.charLimit)})
	}
	return append(messages, llm.Message{Role: llm.RoleUser, Content: query})
}

func truncateChars(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
