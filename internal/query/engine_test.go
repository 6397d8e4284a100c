package query

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vettan-ai/backend/internal/research"
	"github.com/vettan-ai/backend/internal/storage"
	"github.com/vettan-ai/backend/internal/storage/models"
	"github.com/vettan-ai/backend/internal/storage/sqlite"
	"github.com/vettan-ai/backend/pkg/utils"
)

var longReport = "Vettan research on X. " + strings.Repeat("X is well documented across several independent sources. ", 3)

type stubResearcher struct {
	mu      sync.Mutex
	calls   int
	results func(query string) *research.Result
}

func (s *stubResearcher) Research(_ context.Context, query string) *research.Result {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.results(query)
}

func (s *stubResearcher) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func freshResult(output string, cost float64) func(string) *research.Result {
	return func(string) *research.Result {
		return &research.Result{
			Output:    output,
			Citations: []research.Citation{{URL: "https://a.com/1", Domain: "a.com", Tool: research.ToolWebSearch, Query: "x"}},
			Metadata:  research.Metadata{Path: research.PathFresh, Iterations: 1, EstimatedCost: cost},
		}
	}
}

type stubFollowup struct {
	history []research.Turn
	result  *research.Result
}

func (s *stubFollowup) Answer(_ context.Context, _ string, history []research.Turn) *research.Result {
	s.history = history
	return s.result
}

type downStore struct {
	storage.Store
}

func (downStore) Ping(context.Context) error { return storage.ErrUnavailable }

func newStore(t *testing.T) *sqlite.Client {
	t.Helper()
	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCacheRoundTrip(t *testing.T) {
	store := newStore(t)
	researcher := &stubResearcher{results: freshResult(longReport, 0.004)}
	e := NewEngine(researcher, &stubFollowup{}, store, true)
	ctx := context.Background()

	first, err := e.RunPipeline(ctx, "Tell me about X", Options{UseCache: true, SaveToDB: true})
	require.NoError(t, err)
	assert.True(t, first.Metadata.SavedToDB)
	assert.NotEmpty(t, first.Metadata.SessionID)
	assert.False(t, first.Metadata.FromCache)

	second, err := e.RunPipeline(ctx, "  tell me ABOUT x ", Options{UseCache: true, SaveToDB: true})
	require.NoError(t, err)

	assert.Equal(t, 1, researcher.Calls())
	assert.Equal(t, longReport, second.Output)
	assert.True(t, second.Metadata.FromCache)
	assert.Equal(t, research.PathCache, second.Metadata.Path)
	assert.Zero(t, second.Metadata.EstimatedCost)
	assert.Zero(t, second.Metadata.Iterations)
	assert.InDelta(t, 0.004, second.Metadata.CacheSavedCost, 1e-12)
	assert.Equal(t, first.Metadata.SessionID, second.Metadata.SessionID)
	require.Len(t, second.Citations, 1)
	assert.Equal(t, "https://a.com/1", second.Citations[0].URL)

	sessions, err := store.ListSessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestCacheHitWithoutCostReportsDefaultSaving(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, models.NewSession{
		Query:     "legacy",
		QueryHash: utils.QueryHash("legacy"),
		Report:    longReport,
	})
	require.NoError(t, err)

	researcher := &stubResearcher{results: freshResult(longReport, 0)}
	e := NewEngine(researcher, &stubFollowup{}, store, true)

	got, err := e.RunPipeline(ctx, "Legacy", Options{UseCache: true})
	require.NoError(t, err)

	assert.True(t, got.Metadata.FromCache)
	assert.InDelta(t, defaultCacheSavedCost, got.Metadata.CacheSavedCost, 1e-12)
	assert.NotNil(t, got.Citations)
	assert.Zero(t, researcher.Calls())
}

func TestStaleCacheEntryIsNotServed(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	_, err := store.CreateSession(ctx, models.NewSession{
		Query:     "stale",
		QueryHash: utils.QueryHash("stale"),
		Report:    "Research failed: " + strings.Repeat("z", 120),
	})
	require.NoError(t, err)

	researcher := &stubResearcher{results: freshResult(longReport, 0.001)}
	e := NewEngine(researcher, &stubFollowup{}, store, true)

	got, err := e.RunPipeline(ctx, "stale", Options{UseCache: true, SaveToDB: true})
	require.NoError(t, err)

	assert.Equal(t, 1, researcher.Calls())
	assert.False(t, got.Metadata.FromCache)
	assert.Equal(t, longReport, got.Output)
	assert.True(t, got.Metadata.SavedToDB)
}

func TestIncompleteResultIsNotPersisted(t *testing.T) {
	store := newStore(t)
	researcher := &stubResearcher{results: freshResult(research.NoResultsMessage, 0)}
	e := NewEngine(researcher, &stubFollowup{}, store, true)
	ctx := context.Background()

	got, err := e.RunPipeline(ctx, "What is the capital of France?", Options{UseCache: true, SaveToDB: true})
	require.NoError(t, err)

	assert.Equal(t, research.NoResultsMessage, got.Output)
	assert.False(t, got.Metadata.SavedToDB)
	assert.Empty(t, got.Metadata.SessionID)

	sessions, err := store.ListSessions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSaveToDBFalseSkipsPersistence(t *testing.T) {
	store := newStore(t)
	e := NewEngine(&stubResearcher{results: freshResult(longReport, 0)}, &stubFollowup{}, store, true)
	ctx := context.Background()

	got, err := e.RunPipeline(ctx, "no save", Options{UseCache: true, SaveToDB: false})
	require.NoError(t, err)
	assert.False(t, got.Metadata.SavedToDB)

	sessions, err := store.ListSessions(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestUseCacheFalseAlwaysRunsFresh(t *testing.T) {
	store := newStore(t)
	researcher := &stubResearcher{results: freshResult(longReport, 0)}
	e := NewEngine(researcher, &stubFollowup{}, store, true)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := e.RunPipeline(ctx, "repeat", Options{UseCache: false, SaveToDB: true})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, researcher.Calls())
}

func TestDegradedStoreStillAnswers(t *testing.T) {
	for name, store := range map[string]storage.Store{"nil": nil, "down": downStore{}} {
		t.Run(name, func(t *testing.T) {
			researcher := &stubResearcher{results: freshResult(longReport, 0)}
			e := NewEngine(researcher, &stubFollowup{}, store, true)

			got, err := e.RunPipeline(context.Background(), "anything", Options{UseCache: true, SaveToDB: true})
			require.NoError(t, err)
			assert.Equal(t, longReport, got.Output)
			assert.False(t, got.Metadata.SavedToDB)

			_, err = e.RunFollowup(context.Background(), "more?", "some-session")
			require.ErrorIs(t, err, research.ErrServiceUnavailable)

			assert.Equal(t, "degraded", e.Health(context.Background()).Status)
		})
	}
}

func TestEmptyQueryIsValidationError(t *testing.T) {
	e := NewEngine(&stubResearcher{}, &stubFollowup{}, nil, true)

	_, err := e.RunPipeline(context.Background(), "   ", Options{})
	require.ErrorIs(t, err, research.ErrValidation)

	_, err = e.RunFollowup(context.Background(), "q", "")
	require.ErrorIs(t, err, research.ErrValidation)
}

func TestFollowupUnknownSession(t *testing.T) {
	store := newStore(t)
	followup := &stubFollowup{}
	e := NewEngine(&stubResearcher{}, followup, store, true)

	_, err := e.RunFollowup(context.Background(), "and then?", "00000000-0000-0000-0000-000000000000")
	require.ErrorIs(t, err, research.ErrNotFound)
	assert.Nil(t, followup.history)
}

func TestFollowupAppendsBothTurns(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	researcher := &stubResearcher{results: freshResult(longReport, 0.01)}
	followup := &stubFollowup{result: &research.Result{
		Output:    "Follow-up answer about X.",
		Citations: []research.Citation{},
		Metadata:  research.Metadata{Path: research.PathFollowup, Followup: true},
	}}
	e := NewEngine(researcher, followup, store, true)

	first, err := e.RunPipeline(ctx, "Tell me about X", Options{UseCache: true, SaveToDB: true})
	require.NoError(t, err)
	sessionID := first.Metadata.SessionID

	got, err := e.RunFollowup(ctx, "What about Y?", sessionID)
	require.NoError(t, err)

	assert.Equal(t, "Follow-up answer about X.", got.Output)
	assert.True(t, got.Metadata.Followup)
	assert.True(t, got.Metadata.SavedToDB)
	assert.Equal(t, sessionID, got.Metadata.SessionID)

	// handler saw the thread before the new question
	require.Len(t, followup.history, 2)
	assert.Equal(t, "Tell me about X", followup.history[0].Content)
	assert.Equal(t, longReport, followup.history[1].Content)

	history, err := e.GetMessages(ctx, sessionID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, models.RoleUser, history[2].Role)
	assert.Equal(t, "What about Y?", history[2].Content)
	assert.Equal(t, models.RoleAssistant, history[3].Role)

	sessions, err := e.ListSessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestFollowupFailureSkipsAssistantTurn(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	followup := &stubFollowup{result: &research.Result{
		Output:    "Research failed: provider down",
		Citations: []research.Citation{},
		Metadata:  research.Metadata{Path: research.PathFollowup, Followup: true, Error: true},
	}}
	e := NewEngine(&stubResearcher{results: freshResult(longReport, 0)}, followup, store, true)

	first, err := e.RunPipeline(ctx, "seed", Options{SaveToDB: true})
	require.NoError(t, err)

	got, err := e.RunFollowup(ctx, "next?", first.Metadata.SessionID)
	require.NoError(t, err)
	assert.True(t, got.Metadata.Error)
	assert.False(t, got.Metadata.SavedToDB)

	history, err := e.GetMessages(ctx, first.Metadata.SessionID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

func TestSessionManagement(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	e := NewEngine(&stubResearcher{results: freshResult(longReport, 0)}, &stubFollowup{}, store, true)

	first, err := e.RunPipeline(ctx, "manage me", Options{SaveToDB: true})
	require.NoError(t, err)
	id := first.Metadata.SessionID

	_, err = e.UpdateSession(ctx, id, models.SessionUpdate{})
	require.ErrorIs(t, err, research.ErrValidation)

	blank := "  "
	_, err = e.UpdateSession(ctx, id, models.SessionUpdate{Query: &blank})
	require.ErrorIs(t, err, research.ErrValidation)

	title := " New title "
	s, err := e.UpdateSession(ctx, id, models.SessionUpdate{Query: &title})
	require.NoError(t, err)
	assert.Equal(t, "New title", s.Query)
	assert.Equal(t, utils.QueryHash("manage me"), s.QueryHash)

	// renamed sessions still serve the original query from cache
	cached, err := e.RunPipeline(ctx, "manage me", Options{UseCache: true})
	require.NoError(t, err)
	assert.True(t, cached.Metadata.FromCache)

	require.NoError(t, e.DeleteSession(ctx, id))
	err = e.DeleteSession(ctx, id)
	require.ErrorIs(t, err, research.ErrNotFound)
	assert.False(t, errors.Is(err, research.ErrServiceUnavailable))

	_, err = e.GetSession(ctx, id)
	require.ErrorIs(t, err, research.ErrNotFound)

	assert.Equal(t, Health{Status: "healthy", Database: "connected"}, e.Health(ctx))
}
