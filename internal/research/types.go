package research

import (
	"context"
	"math"
	"net/url"

	"github.com/vettan-ai/backend/internal/llm"
	"github.com/vettan-ai/backend/internal/search/web"
)

// Generator is the LLM capability used by the decomposer, the synthesizer
// and the follow-up handler.
type Generator interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Searcher runs one web search.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) (*web.Response, error)
}

const ToolWebSearch = "search_web"

type SourceRecord struct {
	Title   string
	URL     string
	Content string
	Score   float64
	Query   string
}

type Citation struct {
	URL    string `json:"url"`
	Domain string `json:"domain"`
	Tool   string `json:"tool"`
	Query  string `json:"query"`
}

func CitationFor(src SourceRecord) Citation {
	domain := ""
	if u, err := url.Parse(src.URL); err == nil {
		domain = u.Host
	}
	return Citation{
		URL:    src.URL,
		Domain: domain,
		Tool:   ToolWebSearch,
		Query:  src.Query,
	}
}

func CitationsFor(sources []SourceRecord) []Citation {
	out := make([]Citation, 0, len(sources))
	for _, s := range sources {
		out = append(out, CitationFor(s))
	}
	return out
}

type Path string

const (
	PathFresh    Path = "parallel_v2"
	PathCache    Path = "cache"
	PathFollowup Path = "direct_llm"
)

type Timing struct {
	Decomposition float64 `json:"decomposition"`
	Search        float64 `json:"search"`
	Synthesis     float64 `json:"synthesis"`
}

type RunDetail struct {
	Timing             Timing   `json:"timing"`
	SourcesCount       int      `json:"sources_count"`
	SubQueries         []string `json:"sub_queries"`
	SuccessfulSearches int      `json:"successful_searches"`
	TotalSearches      int      `json:"total_searches"`
	Tokens             int      `json:"tokens"`
}

type CacheDetail struct {
	CachedSessionID string  `json:"cached_session_id"`
	OriginalCost    float64 `json:"original_cost"`
}

type FollowupDetail struct {
	Model           string `json:"model"`
	Tokens          int    `json:"tokens"`
	ContextMessages int    `json:"context_messages"`
}

// Metadata is tagged by Path. The common fields are always present; only the
// detail block matching Path is set.
type Metadata struct {
	Path           Path    `json:"pipeline"`
	FromCache      bool    `json:"from_cache"`
	Followup       bool    `json:"followup"`
	EstimatedCost  float64 `json:"estimated_cost"`
	CacheSavedCost float64 `json:"cache_saved_cost"`
	TotalTime      float64 `json:"total_time"`
	Iterations     int     `json:"iterations"`
	SavedToDB      bool    `json:"saved_to_db"`
	SessionID      string  `json:"session_id"`
	Error          bool    `json:"error"`
	ErrorMessage   string  `json:"error_message,omitempty"`

	Run     *RunDetail      `json:"run,omitempty"`
	Cache   *CacheDetail    `json:"cache,omitempty"`
	Context *FollowupDetail `json:"context,omitempty"`
}

// Result is the envelope returned by every pipeline path.
type Result struct {
	Output    string     `json:"output"`
	Citations []Citation `json:"citations"`
	Metadata  Metadata   `json:"metadata"`
}

// Spend accumulates tokens and estimated dollars across LLM calls.
type Spend struct {
	Tokens int
	Cost   float64
}

func spendOf(resp *llm.CompletionResponse) Spend {
	if resp == nil {
		return Spend{}
	}
	return Spend{
		Tokens: resp.Usage.TotalTokens,
		Cost:   llm.EstimateCost(resp.Model, resp.Usage),
	}
}

func (s Spend) Add(other Spend) Spend {
	return Spend{Tokens: s.Tokens + other.Tokens, Cost: s.Cost + other.Cost}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
