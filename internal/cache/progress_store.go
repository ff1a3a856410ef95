package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"
)

const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Progress is the state of one background job as polled by clients.
type Progress struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProgressStore is a TTL-bound key/value store of job progress.
type ProgressStore struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewProgressStore(client *redisv9.Client, ttl time.Duration) *ProgressStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ProgressStore{client: client, ttl: ttl}
}

func (s *ProgressStore) Set(ctx context.Context, p Progress) error {
	p.UpdatedAt = time.Now()
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress failed: %w", err)
	}
	if err := s.client.Set(ctx, s.key(p.JobID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set progress failed: %w", err)
	}
	return nil
}

// Get returns nil when the job is unknown or its entry expired.
func (s *ProgressStore) Get(ctx context.Context, jobID string) (*Progress, error) {
	raw, err := s.client.Get(ctx, s.key(jobID)).Result()
	if err == redisv9.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get progress failed: %w", err)
	}
	var p Progress
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("unmarshal progress failed: %w", err)
	}
	return &p, nil
}

func (s *ProgressStore) Clear(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, s.key(jobID)).Err(); err != nil {
		return fmt.Errorf("redis delete progress failed: %w", err)
	}
	return nil
}

func (s *ProgressStore) key(jobID string) string {
	return "ragchat:progress:" + jobID
}
