package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/vettan-ai/backend/internal/metrics"
	"github.com/vettan-ai/backend/internal/storage"
	"github.com/vettan-ai/backend/internal/storage/models"
	"github.com/vettan-ai/backend/pkg/logger"
)

const defaultListLimit = 50

type Client struct {
	db  *sql.DB
	now func() time.Time
}

var _ storage.Store = (*Client)(nil)

func NewClient(dbPath string) (*Client, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return NewClientWithDB(db), nil
}

// NewClientWithDB wraps an open handle. The caller owns the schema.
func NewClientWithDB(db *sql.DB) *Client {
	return &Client{db: db, now: time.Now}
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		query_hash TEXT NOT NULL,
		report TEXT NOT NULL,
		citations TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		is_favorite INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_hash ON sessions(query_hash, created_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
		content TEXT NOT NULL,
		citations TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return nil
}

const sessionColumns = `id, query, query_hash, report, citations, metadata, is_favorite, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*models.Session, error) {
	var (
		s                    models.Session
		citations, metadata  string
		createdAt, updatedAt int64
	)
	err := row.Scan(&s.ID, &s.Query, &s.QueryHash, &s.Report, &citations, &metadata, &s.IsFavorite, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	s.Citations = models.OrEmptyArray([]byte(citations))
	s.Metadata = models.OrEmptyObject([]byte(metadata))
	s.CreatedAt = time.Unix(0, createdAt)
	s.UpdatedAt = time.Unix(0, updatedAt)
	return &s, nil
}

func (c *Client) LookupByHash(ctx context.Context, queryHash string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE query_hash = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`

	s, err := scanSession(c.db.QueryRowContext(ctx, query, queryHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	return s, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

	s, err := scanSession(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (c *Client) ListSessions(ctx context.Context, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY updated_at DESC, rowid DESC LIMIT ?`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

func (c *Client) CreateSession(ctx context.Context, ns models.NewSession) (*models.Session, error) {
	now := c.now()
	s := &models.Session{
		ID:        uuid.NewString(),
		Query:     ns.Query,
		QueryHash: ns.QueryHash,
		Report:    ns.Report,
		Citations: models.OrEmptyArray(ns.Citations),
		Metadata:  models.OrEmptyObject(ns.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Query, s.QueryHash, s.Report, string(s.Citations), string(s.Metadata), false,
		now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	logger.Info("Session created", zap.String("session_id", s.ID), zap.String("query_hash", s.QueryHash))

	c.bootstrap(ctx, s)

	return s, nil
}

func (c *Client) bootstrap(ctx context.Context, s *models.Session) {
	turns := []models.NewMessage{
		{SessionID: s.ID, Role: models.RoleUser, Content: s.Query},
		{SessionID: s.ID, Role: models.RoleAssistant, Content: s.Report, Citations: s.Citations, Metadata: s.Metadata},
	}

	for _, turn := range turns {
		if _, err := c.AppendMessage(ctx, turn); err != nil {
			metrics.BootstrapMessageFailures.Inc()
			logger.Warn("Session saved without bootstrap messages",
				zap.Bool("data_quality", true),
				zap.String("session_id", s.ID),
				zap.String("role", string(turn.Role)),
				zap.Error(err),
			)
			return
		}
	}
}

func (c *Client) AppendMessage(ctx context.Context, nm models.NewMessage) (*models.Message, error) {
	if !nm.Role.Valid() {
		return nil, fmt.Errorf("invalid message role %q", nm.Role)
	}

	now := c.now()
	m := &models.Message{
		ID:        uuid.NewString(),
		SessionID: nm.SessionID,
		Role:      nm.Role,
		Content:   nm.Content,
		Citations: models.OrEmptyArray(nm.Citations),
		Metadata:  models.OrEmptyObject(nm.Metadata),
		CreatedAt: now,
	}

	_, err := c.db.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, citations, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, string(m.Role), m.Content, string(m.Citations), string(m.Metadata), now.UnixNano(),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if _, err := c.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now.UnixNano(), m.SessionID); err != nil {
		logger.Warn("Failed to bump session timestamp", zap.String("session_id", m.SessionID), zap.Error(err))
	}

	logger.Debug("Message appended", zap.String("session_id", m.SessionID), zap.String("role", string(m.Role)))
	return m, nil
}

func (c *Client) History(ctx context.Context, sessionID string) ([]models.Message, error) {
	var exists int
	err := c.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}

	rows, err := c.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, citations, metadata, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		var (
			m                   models.Message
			role                string
			citations, metadata string
			createdAt           int64
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &citations, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.Role = models.Role(role)
		m.Citations = models.OrEmptyArray([]byte(citations))
		m.Metadata = models.OrEmptyObject([]byte(metadata))
		m.CreatedAt = time.Unix(0, createdAt)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}
	return messages, nil
}

func (c *Client) UpdateSession(ctx context.Context, id string, upd models.SessionUpdate) (*models.Session, error) {
	if upd.Empty() {
		return c.GetSession(ctx, id)
	}

	res, err := c.db.ExecContext(ctx,
		`UPDATE sessions SET
			query = COALESCE(?, query),
			is_favorite = COALESCE(?, is_favorite),
			updated_at = ?
		 WHERE id = ?`,
		nullString(upd.Query), nullBool(upd.IsFavorite), c.now().UnixNano(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, storage.ErrNotFound
	}

	return c.GetSession(ctx, id)
}

func (c *Client) DeleteSession(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return storage.ErrNotFound
	}

	logger.Info("Session deleted", zap.String("session_id", id))
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
