package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"ragchat/internal/model"
)

// HistoryCache keeps the recent messages of a thread in redis. Every write
// to the thread sets a short-lived dirty marker; while it is present readers
// go to the database and must not repopulate the cache.
type HistoryCache struct {
	client   *redisv9.Client
	ttl      time.Duration
	dirtyTTL time.Duration
}

func NewHistoryCache(client *redisv9.Client, ttl, dirtyTTL time.Duration) *HistoryCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	if dirtyTTL <= 0 {
		dirtyTTL = 5 * time.Second
	}
	return &HistoryCache{client: client, ttl: ttl, dirtyTTL: dirtyTTL}
}

// Get returns the cached messages, or ok=false on a miss or while the
// thread is dirty.
func (c *HistoryCache) Get(ctx context.Context, threadID uint) ([]model.Message, bool, error) {
	pipe := c.client.Pipeline()
	dirty := pipe.Exists(ctx, dirtyKey(threadID))
	cached := pipe.Get(ctx, historyKey(threadID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redisv9.Nil) {
		return nil, false, fmt.Errorf("redis read history failed: %w", err)
	}
	if dirty.Val() > 0 {
		return nil, false, nil
	}
	raw, err := cached.Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}
	var messages []model.Message
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	return messages, true, nil
}

// Set stores messages unless a write happened since the caller read them.
func (c *HistoryCache) Set(ctx context.Context, threadID uint, messages []model.Message) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}
	dirty, err := c.client.Exists(ctx, dirtyKey(threadID)).Result()
	if err != nil {
		return fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	if dirty > 0 {
		return nil
	}
	if err := c.client.Set(ctx, historyKey(threadID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

// Invalidate marks the thread dirty and drops its cached history.
func (c *HistoryCache) Invalidate(ctx context.Context, threadID uint) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
		pipe.Set(ctx, dirtyKey(threadID), "1", c.dirtyTTL)
		pipe.Del(ctx, historyKey(threadID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate history failed: %w", err)
	}
	return nil
}

// Forget removes every key of a deleted thread.
func (c *HistoryCache) Forget(ctx context.Context, threadID uint) error {
	if err := c.client.Del(ctx, historyKey(threadID), dirtyKey(threadID)).Err(); err != nil {
		return fmt.Errorf("redis delete history failed: %w", err)
	}
	return nil
}

func historyKey(threadID uint) string {
	return fmt.Sprintf("ragchat:thread:%d:history", threadID)
}

func dirtyKey(threadID uint) string {
	return fmt.Sprintf("ragchat:thread:%d:history:dirty", threadID)
}
