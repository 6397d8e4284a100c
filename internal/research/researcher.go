package research

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vettan-ai/backend/internal/metrics"
	"github.com/vettan-ai/backend/pkg/logger"
)

type Options struct {
	Model              string
	MaxSubQueries      int
	MaxSources         int
	MaxResultsPerQuery int
	FanoutTimeout      time.Duration
	SourceWordLimit    int
}

// Researcher runs the fresh pipeline: decompose, fan-out search, synthesize.
// It holds no store and has no side effects besides provider calls.
type Researcher struct {
	decomposer         *Decomposer
	orchestrator       *Orchestrator
	synthesizer        *Synthesizer
	maxResultsPerQuery int
}

func NewResearcher(gen Generator, searcher Searcher, opts Options) *Researcher {
	if opts.MaxResultsPerQuery <= 0 {
		opts.MaxResultsPerQuery = 5
	}
	return &Researcher{
		decomposer:         NewDecomposer(gen, opts.Model, opts.MaxSubQueries),
		orchestrator:       NewOrchestrator(searcher, opts.FanoutTimeout, opts.MaxSources),
		synthesizer:        NewSynthesizer(gen, opts.Model, opts.SourceWordLimit),
		maxResultsPerQuery: opts.MaxResultsPerQuery,
	}
}

func (r *Researcher) Research(ctx context.Context, query string) *Result {
	start := time.Now()

	subQueries, spend := r.decomposer.Decompose(ctx, query)
	decompDone := time.Now()

	summary := r.orchestrator.Search(ctx, subQueries, r.maxResultsPerQuery)
	searchDone := time.Now()

	logger.Info("Search phase completed",
		zap.Int("sub_queries", len(subQueries)),
		zap.Int("successful", summary.SuccessCount),
		zap.Int("sources", len(summary.Sources)),
	)

	result := &Result{
		Citations: CitationsFor(summary.Sources),
		Metadata: Metadata{
			Path:       PathFresh,
			Iterations: 1,
		},
	}

	if len(summary.Sources) == 0 {
		result.Output = NoResultsMessage
	} else {
		output, synthSpend, err := r.synthesizer.Synthesize(ctx, query, summary.Sources, summary.Answers)
		result.Output = output
		spend = spend.Add(synthSpend)
		if err != nil {
			result.Metadata.Error = true
			result.Metadata.ErrorMessage = err.Error()
		}
	}
	end := time.Now()

	metrics.LLMCost.Add(spend.Cost)

	result.Metadata.EstimatedCost = spend.Cost
	result.Metadata.TotalTime = round(end.Sub(start).Seconds(), 2)
	result.Metadata.Run = &RunDetail{
		Timing: Timing{
			Decomposition: round(decompDone.Sub(start).Seconds(), 1),
			Search:        round(searchDone.Sub(decompDone).Seconds(), 1),
			Synthesis:     round(end.Sub(searchDone).Seconds(), 1),
		},
		SourcesCount:       len(summary.Sources),
		SubQueries:         subQueries,
		SuccessfulSearches: summary.SuccessCount,
		TotalSearches:      summary.TotalCount,
		Tokens:             spend.Tokens,
	}

	return result
}
