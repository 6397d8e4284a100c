package redis

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/vettan-ai/backend/internal/metrics"
	"github.com/vettan-ai/backend/internal/storage"
	"github.com/vettan-ai/backend/internal/storage/models"
	"github.com/vettan-ai/backend/pkg/logger"
)

// SessionCache puts a read-through Redis layer in front of hash lookups.
// Redis failures are logged and the call falls through to the wrapped store.
type SessionCache struct {
	storage.Store
	cache *Client
	ttl   time.Duration
}

var _ storage.Store = (*SessionCache)(nil)

func NewSessionCache(store storage.Store, cache *Client, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionCache{Store: store, cache: cache, ttl: ttl}
}

func (s *SessionCache) LookupByHash(ctx context.Context, queryHash string) (*models.Session, error) {
	cached, ok, err := s.cache.GetSession(ctx, queryHash)
	switch {
	case err != nil:
		metrics.CacheLookups.WithLabelValues("redis", "error").Inc()
		logger.Warn("Redis lookup failed, falling back to store", zap.String("query_hash", queryHash), zap.Error(err))
	case ok:
		metrics.CacheLookups.WithLabelValues("redis", "hit").Inc()
		return cached, nil
	default:
		metrics.CacheLookups.WithLabelValues("redis", "miss").Inc()
	}

	session, err := s.Store.LookupByHash(ctx, queryHash)
	if err != nil {
		return nil, err
	}

	s.populate(ctx, session)
	return session, nil
}

func (s *SessionCache) CreateSession(ctx context.Context, ns models.NewSession) (*models.Session, error) {
	session, err := s.Store.CreateSession(ctx, ns)
	if err != nil {
		return nil, err
	}

	s.populate(ctx, session)
	return session, nil
}

func (s *SessionCache) UpdateSession(ctx context.Context, id string, upd models.SessionUpdate) (*models.Session, error) {
	session, err := s.Store.UpdateSession(ctx, id, upd)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, session.QueryHash)
	return session, nil
}

func (s *SessionCache) DeleteSession(ctx context.Context, id string) error {
	session, err := s.Store.GetSession(ctx, id)
	if err != nil {
		return err
	}

	if err := s.Store.DeleteSession(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx, session.QueryHash)
	return nil
}

func (s *SessionCache) populate(ctx context.Context, session *models.Session) {
	if err := s.cache.SetSession(ctx, session, s.ttl); err != nil {
		logger.Warn("Failed to cache session", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (s *SessionCache) invalidate(ctx context.Context, queryHash string) {
	if err := s.cache.DeleteSession(ctx, queryHash); err != nil {
		logger.Warn("Failed to invalidate cached session", zap.String("query_hash", queryHash), zap.Error(err))
	}
}
