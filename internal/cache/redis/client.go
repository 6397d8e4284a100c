package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vettan-ai/backend/internal/storage/models"
	"github.com/vettan-ai/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func NewClientFromRedis(client *redis.Client) *Client {
	return &Client{client: client}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func sessionKey(queryHash string) string {
	return "session:hash:" + queryHash
}

func (c *Client) SetSession(ctx context.Context, s *models.Session, ttl time.Duration) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := c.client.Set(ctx, sessionKey(s.QueryHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session cache: %w", err)
	}

	logger.Debug("Session cached", zap.String("query_hash", s.QueryHash), zap.Duration("ttl", ttl))
	return nil
}

// GetSession reports a miss as (nil, false, nil).
func (c *Client) GetSession(ctx context.Context, queryHash string) (*models.Session, bool, error) {
	data, err := c.client.Get(ctx, sessionKey(queryHash)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get session cache: %w", err)
	}

	var s models.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	logger.Debug("Session cache hit", zap.String("query_hash", queryHash))
	return &s, true, nil
}

func (c *Client) DeleteSession(ctx context.Context, queryHash string) error {
	if err := c.client.Del(ctx, sessionKey(queryHash)).Err(); err != nil {
		return fmt.Errorf("failed to delete session cache: %w", err)
	}
	return nil
}
