package research

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vettan-ai/backend/internal/metrics"
	"github.com/vettan-ai/backend/pkg/logger"
)

// SearchOutcome is the result of one sub-query search. Err is set on
// failure; an abandoned call never produces an outcome.
type SearchOutcome struct {
	Query   string
	Answer  string
	Sources []SourceRecord
	Err     error
}

func (o SearchOutcome) OK() bool { return o.Err == nil }

type SearchSummary struct {
	Sources      []SourceRecord
	Answers      []string
	SuccessCount int
	TotalCount   int
	Outcomes     []SearchOutcome
}

type Orchestrator struct {
	searcher   Searcher
	timeout    time.Duration
	maxSources int
}

func NewOrchestrator(searcher Searcher, timeout time.Duration, maxSources int) *Orchestrator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxSources <= 0 {
		maxSources = 5
	}
	return &Orchestrator{searcher: searcher, timeout: timeout, maxSources: maxSources}
}

// Search runs one search per sub-query concurrently under a single deadline.
// Calls still pending at the deadline are abandoned and whatever completed is
// merged in sub-query order.
func (o *Orchestrator) Search(ctx context.Context, subQueries []string, maxResultsPerQuery int) SearchSummary {
	fanCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var (
		mu        sync.Mutex
		outcomes  = make([]SearchOutcome, len(subQueries))
		completed = make([]bool, len(subQueries))
	)

	var g errgroup.Group
	for i, q := range subQueries {
		i, q := i, q
		g.Go(func() error {
			outcome := o.searchOne(fanCtx, q, maxResultsPerQuery)

			mu.Lock()
			defer mu.Unlock()
			if fanCtx.Err() != nil && outcome.Err != nil {
				// cancelled by the deadline, counted as abandoned below
				return nil
			}
			outcomes[i] = outcome
			completed[i] = true
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-fanCtx.Done():
		logger.Warn("Search fan-out deadline reached, continuing with completed results",
			zap.Duration("timeout", o.timeout),
			zap.Int("sub_queries", len(subQueries)),
		)
	}

	mu.Lock()
	finished := make([]SearchOutcome, 0, len(subQueries))
	for i := range subQueries {
		if completed[i] {
			finished = append(finished, outcomes[i])
		}
	}
	mu.Unlock()

	return o.summarize(finished, len(subQueries))
}

func (o *Orchestrator) searchOne(ctx context.Context, query string, maxResults int) SearchOutcome {
	resp, err := o.searcher.Search(ctx, query, maxResults)
	if err != nil {
		logger.Warn("Sub-query search failed", zap.String("sub_query", query), zap.Error(err))
		return SearchOutcome{Query: query, Err: err}
	}

	out := SearchOutcome{Query: query}
	if resp == nil {
		return out
	}
	out.Answer = strings.TrimSpace(resp.Answer)
	out.Sources = make([]SourceRecord, 0, len(resp.Results))
	for _, r := range resp.Results {
		out.Sources = append(out.Sources, SourceRecord{
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Content,
			Score:   r.Score,
			Query:   query,
		})
	}
	return out
}

func (o *Orchestrator) summarize(finished []SearchOutcome, total int) SearchSummary {
	summary := SearchSummary{
		TotalCount: total,
		Outcomes:   finished,
		Answers:    []string{},
	}

	var all []SourceRecord
	for _, oc := range finished {
		if !oc.OK() {
			metrics.SearchCalls.WithLabelValues("failure").Inc()
			continue
		}
		metrics.SearchCalls.WithLabelValues("success").Inc()
		summary.SuccessCount++
		if oc.Answer != "" {
			summary.Answers = append(summary.Answers, oc.Answer)
		}
		all = append(all, oc.Sources...)
	}
	if abandoned := total - len(finished); abandoned > 0 {
		metrics.SearchCalls.WithLabelValues("abandoned").Add(float64(abandoned))
	}

	summary.Sources = MergeSources(all, o.maxSources)
	metrics.SourcesPerRun.Observe(float64(len(summary.Sources)))

	return summary
}
