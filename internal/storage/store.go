package storage

import (
	"context"
	"errors"

	"github.com/vettan-ai/backend/internal/storage/models"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrUnavailable = errors.New("store unavailable")
)

// Store persists sessions and their message threads.
type Store interface {
	// LookupByHash returns the most recently created session for a query
	// hash, or ErrNotFound.
	LookupByHash(ctx context.Context, queryHash string) (*models.Session, error)

	// CreateSession persists the session and then its two bootstrap
	// messages. A bootstrap failure is logged and does not undo the session.
	CreateSession(ctx context.Context, s models.NewSession) (*models.Session, error)

	AppendMessage(ctx context.Context, m models.NewMessage) (*models.Message, error)

	// History returns the thread oldest first, or ErrNotFound for an
	// unknown session.
	History(ctx context.Context, sessionID string) ([]models.Message, error)

	GetSession(ctx context.Context, id string) (*models.Session, error)
	ListSessions(ctx context.Context, limit int) ([]models.Session, error)
	UpdateSession(ctx context.Context, id string, upd models.SessionUpdate) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error

	Ping(ctx context.Context) error
}
