package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vettan-ai/backend/internal/metrics"
	"github.com/vettan-ai/backend/internal/storage"
	"github.com/vettan-ai/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	c, err := NewClient(filepath.Join(t.TempDir(), "data", "vettan.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { c.Close() })

	tick := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time {
		tick = tick.Add(time.Millisecond)
		return tick
	}
	return c
}

func newSession(query, hash string) models.NewSession {
	return models.NewSession{
		Query:     query,
		QueryHash: hash,
		Report:    "report for " + query,
		Citations: json.RawMessage(`[{"url":"https://a.com/1","domain":"a.com","tool":"search_web","query":"q"}]`),
		Metadata:  json.RawMessage(`{"estimated_cost":0.01}`),
	}
}

func TestCreateSessionWritesBootstrapMessages(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	s, err := c.CreateSession(ctx, newSession("What is Go?", "h1"))
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)

	history, err := c.History(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)

	assert.Equal(t, models.RoleUser, history[0].Role)
	assert.Equal(t, "What is Go?", history[0].Content)
	assert.JSONEq(t, `[]`, string(history[0].Citations))

	assert.Equal(t, models.RoleAssistant, history[1].Role)
	assert.Equal(t, "report for What is Go?", history[1].Content)
	assert.JSONEq(t, string(s.Citations), string(history[1].Citations))
	assert.JSONEq(t, `{"estimated_cost":0.01}`, string(history[1].Metadata))

	got, err := c.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))
}

func TestLookupByHashReturnsMostRecent(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	_, err := c.LookupByHash(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = c.CreateSession(ctx, newSession("first", "same"))
	require.NoError(t, err)
	second, err := c.CreateSession(ctx, newSession("second", "same"))
	require.NoError(t, err)
	_, err = c.CreateSession(ctx, newSession("other", "different"))
	require.NoError(t, err)

	got, err := c.LookupByHash(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, "report for second", got.Report)
}

func TestAppendMessageKeepsOrderAndBumpsSession(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	s, err := c.CreateSession(ctx, newSession("q", "h"))
	require.NoError(t, err)
	before, err := c.GetSession(ctx, s.ID)
	require.NoError(t, err)

	_, err = c.AppendMessage(ctx, models.NewMessage{SessionID: s.ID, Role: models.RoleUser, Content: "follow-up?"})
	require.NoError(t, err)
	_, err = c.AppendMessage(ctx, models.NewMessage{SessionID: s.ID, Role: models.RoleAssistant, Content: "answer"})
	require.NoError(t, err)

	history, err := c.History(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, "follow-up?", history[2].Content)
	assert.Equal(t, "answer", history[3].Content)

	after, err := c.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
	assert.Equal(t, before.QueryHash, after.QueryHash)
}

func TestAppendMessageUnknownSession(t *testing.T) {
	c := newTestClient(t)

	_, err := c.AppendMessage(context.Background(), models.NewMessage{SessionID: "nope", Role: models.RoleUser, Content: "x"})
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = c.AppendMessage(context.Background(), models.NewMessage{SessionID: "nope", Role: "system", Content: "x"})
	require.Error(t, err)
}

func TestHistoryUnknownSession(t *testing.T) {
	c := newTestClient(t)

	_, err := c.History(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateSession(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	s, err := c.CreateSession(ctx, newSession("original title", "hash-1"))
	require.NoError(t, err)

	title := "Renamed"
	fav := true
	got, err := c.UpdateSession(ctx, s.ID, models.SessionUpdate{Query: &title, IsFavorite: &fav})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Query)
	assert.True(t, got.IsFavorite)
	assert.Equal(t, "hash-1", got.QueryHash)

	unfav := false
	got, err = c.UpdateSession(ctx, s.ID, models.SessionUpdate{IsFavorite: &unfav})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Query)
	assert.False(t, got.IsFavorite)

	_, err = c.UpdateSession(ctx, "missing", models.SessionUpdate{IsFavorite: &fav})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteSessionCascades(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	s, err := c.CreateSession(ctx, newSession("q", "h"))
	require.NoError(t, err)

	require.NoError(t, c.DeleteSession(ctx, s.ID))

	var count int
	require.NoError(t, c.db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, s.ID).Scan(&count))
	assert.Zero(t, count)

	require.ErrorIs(t, c.DeleteSession(ctx, s.ID), storage.ErrNotFound)
	_, err = c.GetSession(ctx, s.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListSessionsByRecentActivity(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	a, err := c.CreateSession(ctx, newSession("a", "ha"))
	require.NoError(t, err)
	b, err := c.CreateSession(ctx, newSession("b", "hb"))
	require.NoError(t, err)

	_, err = c.AppendMessage(ctx, models.NewMessage{SessionID: a.ID, Role: models.RoleUser, Content: "bump"})
	require.NoError(t, err)

	sessions, err := c.ListSessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, a.ID, sessions[0].ID)
	assert.Equal(t, b.ID, sessions[1].ID)

	sessions, err = c.ListSessions(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestCreateSessionSurvivesBootstrapFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewClientWithDB(db)
	before := testutil.ToFloat64(metrics.BootstrapMessageFailures)

	mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO messages").WillReturnError(errors.New("disk I/O error"))

	s, err := c.CreateSession(context.Background(), newSession("q", "h"))
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)

	assert.Equal(t, before+1, testutil.ToFloat64(metrics.BootstrapMessageFailures))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendMessageIgnoresTimestampBumpFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := NewClientWithDB(db)

	mock.ExpectExec("INSERT INTO messages").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE sessions SET updated_at").WillReturnError(errors.New("database is locked"))

	m, err := c.AppendMessage(context.Background(), models.NewMessage{SessionID: "s1", Role: models.RoleUser, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "s1", m.SessionID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPingReportsUnavailable(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	err = NewClientWithDB(db).Ping(context.Background())
	require.ErrorIs(t, err, storage.ErrUnavailable)
}
