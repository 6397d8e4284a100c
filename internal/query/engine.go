package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vettan-ai/backend/internal/metrics"
	"github.com/vettan-ai/backend/internal/research"
	"github.com/vettan-ai/backend/internal/storage"
	"github.com/vettan-ai/backend/internal/storage/models"
	"github.com/vettan-ai/backend/pkg/logger"
	"github.com/vettan-ai/backend/pkg/utils"
)

// Reported as cache_saved_cost when a cached session carries no cost.
const defaultCacheSavedCost = 0.025

type Researcher interface {
	Research(ctx context.Context, query string) *research.Result
}

type FollowupAnswerer interface {
	Answer(ctx context.Context, query string, history []research.Turn) *research.Result
}

type Options struct {
	UseCache bool
	SaveToDB bool
}

// Engine decides between cache reuse, a fresh research run and the
// follow-up shortcut, and owns all persistence around them.
type Engine struct {
	researcher   Researcher
	followup     FollowupAnswerer
	store        storage.Store
	cacheEnabled bool
}

// NewEngine accepts a nil store; fresh runs then skip caching and
// persistence and follow-ups report ErrServiceUnavailable.
func NewEngine(researcher Researcher, followup FollowupAnswerer, store storage.Store, cacheEnabled bool) *Engine {
	return &Engine{
		researcher:   researcher,
		followup:     followup,
		store:        store,
		cacheEnabled: cacheEnabled,
	}
}

func (e *Engine) RunPipeline(ctx context.Context, query string, opts Options) (*research.Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", research.ErrValidation)
	}

	start := time.Now()
	hash := utils.QueryHash(query)
	storeUp := e.storeAvailable(ctx)

	logger.Info("Processing research query",
		zap.String("query_hash", hash),
		zap.Bool("use_cache", opts.UseCache),
		zap.Bool("store_available", storeUp),
	)

	if opts.UseCache && e.cacheEnabled && storeUp {
		if cached := e.fromCache(ctx, hash, start); cached != nil {
			e.observe(research.PathCache, "cache_hit", start)
			return cached, nil
		}
	}

	result := e.researcher.Research(ctx, query)

	complete := research.IsComplete(result.Output)
	metrics.QualityGate.WithLabelValues("persist", gateLabel(complete)).Inc()

	switch {
	case !complete:
		logger.Info("Result failed quality gate, not persisting",
			zap.String("query_hash", hash),
			zap.Int("output_length", len(result.Output)),
			zap.Bool("error", result.Metadata.Error),
		)
	case !opts.SaveToDB:
	case !storeUp:
		logger.Warn("Store unavailable, returning result without persisting", zap.String("query_hash", hash))
	default:
		e.persist(ctx, query, hash, result)
	}

	outcome := "fresh"
	if result.Metadata.Error {
		outcome = "error"
	}
	e.observe(research.PathFresh, outcome, start)

	return result, nil
}

func (e *Engine) RunFollowup(ctx context.Context, query, sessionID string) (*research.Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", research.ErrValidation)
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required for follow-up", research.ErrValidation)
	}
	if !e.storeAvailable(ctx) {
		metrics.RequestsTotal.WithLabelValues(string(research.PathFollowup), "unavailable").Inc()
		return nil, fmt.Errorf("%w: follow-up needs the session store", research.ErrServiceUnavailable)
	}

	start := time.Now()

	history, err := e.store.History(ctx, sessionID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: session %s has no history", research.ErrNotFound, sessionID)
	}

	turns := make([]research.Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, research.Turn{Role: string(m.Role), Content: m.Content})
	}

	if _, err := e.store.AppendMessage(ctx, models.NewMessage{
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   query,
	}); err != nil {
		return nil, mapStoreError(err)
	}

	result := e.followup.Answer(ctx, query, turns)
	result.Metadata.SessionID = sessionID

	if result.Metadata.Error {
		logger.Warn("Follow-up answer failed, assistant turn not saved", zap.String("session_id", sessionID))
		e.observe(research.PathFollowup, "error", start)
		return result, nil
	}

	citations, _ := json.Marshal(result.Citations)
	meta, _ := json.Marshal(result.Metadata)
	if _, err := e.store.AppendMessage(ctx, models.NewMessage{
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   result.Output,
		Citations: citations,
		Metadata:  meta,
	}); err != nil {
		logger.Warn("Failed to save follow-up answer", zap.String("session_id", sessionID), zap.Error(err))
	} else {
		result.Metadata.SavedToDB = true
	}

	e.observe(research.PathFollowup, "followup", start)
	return result, nil
}

func (e *Engine) fromCache(ctx context.Context, hash string, start time.Time) *research.Result {
	session, err := e.store.LookupByHash(ctx, hash)
	if errors.Is(err, storage.ErrNotFound) {
		metrics.CacheLookups.WithLabelValues("store", "miss").Inc()
		return nil
	}
	if err != nil {
		metrics.CacheLookups.WithLabelValues("store", "error").Inc()
		logger.Warn("Cache lookup failed, running fresh", zap.String("query_hash", hash), zap.Error(err))
		return nil
	}

	if !research.IsComplete(session.Report) {
		metrics.CacheLookups.WithLabelValues("store", "stale").Inc()
		metrics.QualityGate.WithLabelValues("cache", "fail").Inc()
		logger.Info("Cached report failed quality gate, running fresh",
			zap.String("query_hash", hash),
			zap.String("session_id", session.ID),
		)
		return nil
	}
	metrics.CacheLookups.WithLabelValues("store", "hit").Inc()
	metrics.QualityGate.WithLabelValues("cache", "pass").Inc()

	var cachedMeta research.Metadata
	if err := json.Unmarshal(session.Metadata, &cachedMeta); err != nil {
		logger.Debug("Cached metadata unreadable", zap.String("session_id", session.ID), zap.Error(err))
	}

	citations := []research.Citation{}
	if err := json.Unmarshal(session.Citations, &citations); err != nil || citations == nil {
		citations = []research.Citation{}
	}

	saved := cachedMeta.EstimatedCost
	if saved == 0 {
		saved = defaultCacheSavedCost
	}

	logger.Info("Serving cached research", zap.String("query_hash", hash), zap.String("session_id", session.ID))

	return &research.Result{
		Output:    session.Report,
		Citations: citations,
		Metadata: research.Metadata{
			Path:           research.PathCache,
			FromCache:      true,
			EstimatedCost:  0,
			CacheSavedCost: saved,
			Iterations:     0,
			SessionID:      session.ID,
			TotalTime:      time.Since(start).Round(time.Millisecond).Seconds(),
			Cache: &research.CacheDetail{
				CachedSessionID: session.ID,
				OriginalCost:    cachedMeta.EstimatedCost,
			},
		},
	}
}

func (e *Engine) persist(ctx context.Context, query, hash string, result *research.Result) {
	citations, err := json.Marshal(result.Citations)
	if err != nil {
		logger.Error("Failed to encode citations", zap.Error(err))
		return
	}
	meta, err := json.Marshal(result.Metadata)
	if err != nil {
		logger.Error("Failed to encode metadata", zap.Error(err))
		return
	}

	session, err := e.store.CreateSession(ctx, models.NewSession{
		Query:     query,
		QueryHash: hash,
		Report:    result.Output,
		Citations: citations,
		Metadata:  meta,
	})
	if err != nil {
		logger.Warn("Failed to persist session", zap.String("query_hash", hash), zap.Error(err))
		return
	}

	result.Metadata.SavedToDB = true
	result.Metadata.SessionID = session.ID
}

func (e *Engine) storeAvailable(ctx context.Context) bool {
	if e.store == nil {
		return false
	}
	if err := e.store.Ping(ctx); err != nil {
		logger.Warn("Session store unreachable", zap.Error(err))
		return false
	}
	return true
}

func (e *Engine) observe(path research.Path, outcome string, start time.Time) {
	metrics.PipelineDuration.WithLabelValues(string(path)).Observe(time.Since(start).Seconds())
	metrics.RequestsTotal.WithLabelValues(string(path), outcome).Inc()
}

func mapStoreError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %v", research.ErrNotFound, err)
	}
	return fmt.Errorf("%w: %v", research.ErrServiceUnavailable, err)
}

func gateLabel(pass bool) string {
	if pass {
		return "pass"
	}
	return "fail"
}
