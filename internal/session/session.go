// Package session stores ephemeral per-session chat history and
// last-activity bookkeeping in Redis, expiring through key TTLs.
//
// History and session metadata live under two independent keys updated
// without a transaction. Partial failure only affects TTL freshness, never
// the correctness of stored messages; concurrent appends to the same
// session are last-writer-wins.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/newsrag/config"
	"github.com/mohammad-safakhou/newsrag/models"
)

const (
	sessionKeyPrefix = "session:"
	historyKeyPrefix = "history:"
)

// Cache is a Redis-backed session store.
type Cache struct {
	client     redis.Cmdable
	sessionTTL time.Duration
	historyTTL time.Duration
}

// New creates a Cache using the given Redis client and TTL config.
func New(client redis.Cmdable, cfg config.SessionConfig) *Cache {
	return &Cache{
		client:     client,
		sessionTTL: cfg.TTL(),
		historyTTL: cfg.HistoryTTL(),
	}
}

// Conn dials Redis and verifies the connection with a ping.
func Conn(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed (%s): %w", cfg.Addr, err)
	}
	return client, nil
}

// AppendMessage pushes a message onto the session's history (most recent at
// the head), resets the history TTL and refreshes the session's
// last-activity record.
func (c *Cache) AppendMessage(ctx context.Context, sessionID string, msg models.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	historyKey := historyKeyPrefix + sessionID
	if err := c.client.LPush(ctx, historyKey, data).Err(); err != nil {
		return fmt.Errorf("push message: %w", err)
	}
	if err := c.client.Expire(ctx, historyKey, c.historyTTL).Err(); err != nil {
		return fmt.Errorf("refresh history ttl: %w", err)
	}

	sessionKey := sessionKeyPrefix + sessionID
	lastActivity := msg.Timestamp.UTC().Format(time.RFC3339)
	if err := c.client.Set(ctx, sessionKey, lastActivity, c.sessionTTL).Err(); err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	return nil
}

// History returns the session's messages oldest-first. An expired or
// never-created session yields an empty slice, not an error.
func (c *Cache) History(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	raw, err := c.client.LRange(ctx, historyKeyPrefix+sessionID, 0, -1).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []models.ChatMessage{}, nil
		}
		return nil, fmt.Errorf("read history: %w", err)
	}

	// Stored most-recent-first; callers get chronological order.
	messages := make([]models.ChatMessage, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg models.ChatMessage
		if err := json.Unmarshal([]byte(raw[i]), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Clear removes the session's history and metadata. Idempotent.
func (c *Cache) Clear(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, historyKeyPrefix+sessionID, sessionKeyPrefix+sessionID).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Info returns the session's last activity and message count, or ok=false
// when the session is absent or expired.
func (c *Cache) Info(ctx context.Context, sessionID string) (models.SessionInfo, bool, error) {
	val, err := c.client.Get(ctx, sessionKeyPrefix+sessionID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.SessionInfo{}, false, nil
		}
		return models.SessionInfo{}, false, fmt.Errorf("read session: %w", err)
	}

	lastActivity, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return models.SessionInfo{}, false, fmt.Errorf("parse last activity: %w", err)
	}
	count, err := c.client.LLen(ctx, historyKeyPrefix+sessionID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return models.SessionInfo{}, false, fmt.Errorf("count messages: %w", err)
	}
	return models.SessionInfo{LastActivity: lastActivity, MessageCount: count}, true, nil
}
