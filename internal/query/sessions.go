package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/vettan-ai/backend/internal/research"
	"github.com/vettan-ai/backend/internal/storage/models"
)

type Health struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func (e *Engine) requireStore() error {
	if e.store == nil {
		return fmt.Errorf("%w: session store is not configured", research.ErrServiceUnavailable)
	}
	return nil
}

func (e *Engine) ListSessions(ctx context.Context, limit int) ([]models.Session, error) {
	if err := e.requireStore(); err != nil {
		return nil, err
	}
	sessions, err := e.store.ListSessions(ctx, limit)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return sessions, nil
}

func (e *Engine) GetSession(ctx context.Context, id string) (*models.Session, error) {
	if err := e.requireStore(); err != nil {
		return nil, err
	}
	s, err := e.store.GetSession(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return s, nil
}

func (e *Engine) GetMessages(ctx context.Context, sessionID string) ([]models.Message, error) {
	if err := e.requireStore(); err != nil {
		return nil, err
	}
	messages, err := e.store.History(ctx, sessionID)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return messages, nil
}

// UpdateSession renames or (un)favorites a session. The cache key stays
// bound to the original query.
func (e *Engine) UpdateSession(ctx context.Context, id string, upd models.SessionUpdate) (*models.Session, error) {
	if upd.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", research.ErrValidation)
	}
	if upd.Query != nil {
		title := strings.TrimSpace(*upd.Query)
		if title == "" {
			return nil, fmt.Errorf("%w: title must not be empty", research.ErrValidation)
		}
		upd.Query = &title
	}
	if err := e.requireStore(); err != nil {
		return nil, err
	}

	s, err := e.store.UpdateSession(ctx, id, upd)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return s, nil
}

func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	if err := e.requireStore(); err != nil {
		return err
	}
	if err := e.store.DeleteSession(ctx, id); err != nil {
		return mapStoreError(err)
	}
	return nil
}

func (e *Engine) Health(ctx context.Context) Health {
	switch {
	case e.store == nil:
		return Health{Status: "degraded", Database: "disabled"}
	case e.store.Ping(ctx) != nil:
		return Health{Status: "degraded", Database: "unavailable"}
	default:
		return Health{Status: "healthy", Database: "connected"}
	}
}
