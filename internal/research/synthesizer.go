package research

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/vettan-ai/backend/internal/llm"
	"github.com/vettan-ai/backend/internal/search/web"
	"github.com/vettan-ai/backend/pkg/logger"
)

// NoResultsMessage is returned when the fan-out produced no sources. It is
// shorter than the quality gate minimum, so it is never cached or persisted.
const NoResultsMessage = "I couldn't find relevant search results for your query. Please try rephrasing your question."

const synthesisPrompt = `You are Vettan, a research assistant that writes thorough, well-sourced answers.

%sSources:
%s

Question: %s

Write a clear, well-structured answer to the question using the sources above.
- Lead with a direct answer, then expand with supporting detail.
- Cite sources inline with their bracketed numbers, e.g. [1] or [2][3].
- Use only information found in the sources. Say so when they disagree or leave a gap.
- Use markdown headings and lists where they help readability.`

type Synthesizer struct {
	gen       Generator
	model     string
	wordLimit int
}

func NewSynthesizer(gen Generator, model string, wordLimit int) *Synthesizer {
	if wordLimit <= 0 {
		wordLimit = 400
	}
	return &Synthesizer{gen: gen, model: model, wordLimit: wordLimit}
}

// Synthesize writes the report. On provider failure it returns a
// "Research failed" message alongside the error so the gate rejects it.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, sources []SourceRecord, answers []string) (string, Spend, error) {
	resp, err := s.gen.Complete(ctx, llm.CompletionRequest{
		Model:       s.model,
		UserPrompt:  s.buildPrompt(query, sources, answers),
		Temperature: llm.Temperature(0.3),
		MaxTokens:   1500,
	})
	if err != nil {
		logger.Error("Synthesis failed", zap.Int("sources", len(sources)), zap.Error(err))
		return fmt.Sprintf("Research failed: could not generate a report from %d sources (%v)", len(sources), err), Spend{}, err
	}

	return strings.TrimSpace(resp.Content), spendOf(resp), nil
}

func (s *Synthesizer) buildPrompt(query string, sources []SourceRecord, answers []string) string {
	var summary string
	if combined := strings.TrimSpace(strings.Join(answers, " ")); combined != "" {
		summary = "Quick context from the search engine: " + combined +
			"\n(Rely mainly on the detailed sources below.)\n\n"
	}

	var b strings.Builder
	for i, src := range sources {
		content, cut := web.TruncateWords(src.Content, s.wordLimit)
		if cut {
			content += "..."
		}
		fmt.Fprintf(&b, "[%d] %s\nURL: %s\n%s\n\n", i+1, src.Title, src.URL, content)
	}

	return fmt.Sprintf(synthesisPrompt, summary, strings.TrimSpace(b.String()), query)
}
