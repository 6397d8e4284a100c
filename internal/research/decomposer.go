package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/vettan-ai/backend/internal/llm"
	"github.com/vettan-ai/backend/pkg/logger"
)

const decompositionPrompt = `Break the research question below into 3 or 4 web search queries.
Each query should cover a different angle of the question and read like something a person would type into a search engine.
Respond with a JSON array of strings and nothing else.

Question: %s`

type Decomposer struct {
	gen   Generator
	model string
	max   int
}

func NewDecomposer(gen Generator, model string, maxSubQueries int) *Decomposer {
	if maxSubQueries <= 0 {
		maxSubQueries = 4
	}
	return &Decomposer{gen: gen, model: model, max: maxSubQueries}
}

// Decompose never fails: any problem yields the original query alone.
func (d *Decomposer) Decompose(ctx context.Context, query string) ([]string, Spend) {
	quoted, _ := json.Marshal(query)

	resp, err := d.gen.Complete(ctx, llm.CompletionRequest{
		Model:       d.model,
		UserPrompt:  fmt.Sprintf(decompositionPrompt, quoted),
		Temperature: llm.Temperature(0.2),
		MaxTokens:   200,
	})
	if err != nil {
		logger.Warn("Query decomposition failed, using original query", zap.Error(err))
		return []string{query}, Spend{}
	}

	spend := spendOf(resp)

	subQueries := ParseSubQueries(resp.Content, d.max)
	if subQueries == nil {
		logger.Debug("Decomposition output unusable, using original query",
			zap.String("raw", resp.Content),
		)
		return []string{query}, spend
	}

	return subQueries, spend
}

// ParseSubQueries extracts the sub-query list from model output. It accepts
// a fenced block, a JSON array, or a JSON object whose first array-valued
// field holds the list. It returns nil when fewer than two usable strings
// are found.
func ParseSubQueries(raw string, limit int) []string {
	content := stripFence(strings.TrimSpace(raw))
	if !gjson.Valid(content) {
		return nil
	}

	parsed := gjson.Parse(content)
	var list gjson.Result
	switch {
	case parsed.IsArray():
		list = parsed
	case parsed.IsObject():
		parsed.ForEach(func(_, value gjson.Result) bool {
			if value.IsArray() {
				list = value
				return false
			}
			return true
		})
	}
	if !list.IsArray() {
		return nil
	}

	var out []string
	for _, item := range list.Array() {
		if item.Type != gjson.String {
			continue
		}
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}

	if len(out) < 2 {
		return nil
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func stripFence(content string) string {
	start := strings.Index(content, "```")
	if start < 0 {
		return content
	}
	body := content[start+3:]
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	body = strings.TrimSpace(body)
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "[{") {
		// language tag such as ```json
		body = body[nl+1:]
	} else if strings.HasPrefix(strings.ToLower(body), "json") {
		body = body[len("json"):]
	}
	return strings.TrimSpace(body)
}
