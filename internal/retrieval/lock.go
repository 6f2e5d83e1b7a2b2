package retrieval

import (
	"context"
	"fmt"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// BatchLock is the process-wide mutex step 1 of the batch re-summarizer
// protocol needs (spec §4.4). TryLock reports whether the caller now
// holds the lock; a false return means another batch is running and
// this call should no-op.
type BatchLock interface {
	TryLock(ctx context.Context, sessionID string) (bool, error)
	Unlock(ctx context.Context, sessionID string) error
}

// LocalBatchLock is an in-process BatchLock, the default for a single
// agent runtime sharing one session directory with itself.
type LocalBatchLock struct {
	mu      sync.Mutex
	locked  map[string]bool
}

func NewLocalBatchLock() *LocalBatchLock {
	return &LocalBatchLock{locked: map[string]bool{}}
}

func (l *LocalBatchLock) TryLock(ctx context.Context, sessionID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked[sessionID] {
		return false, nil
	}
	l.locked[sessionID] = true
	return true, nil
}

func (l *LocalBatchLock) Unlock(ctx context.Context, sessionID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locked, sessionID)
	return nil
}

var _ BatchLock = (*LocalBatchLock)(nil)

// RedisBatchLock backs the same contract with SETNX+TTL, for the
// deployment shape where multiple agent processes share one session
// directory (the teacher's agentd service supports exactly this).
// The TTL bounds how long a crashed holder can block a future batch.
type RedisBatchLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisBatchLock(addr string, ttl time.Duration) (*RedisBatchLock, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("retrieval: redis ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisBatchLock{client: c, ttl: ttl}, nil
}

func (l *RedisBatchLock) key(sessionID string) string {
	return "ctxcore:batch-lock:" + sessionID
}

func (l *RedisBatchLock) TryLock(ctx context.Context, sessionID string) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(sessionID), "1", l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("retrieval: redis setnx: %w", err)
	}
	return ok, nil
}

func (l *RedisBatchLock) Unlock(ctx context.Context, sessionID string) error {
	return l.client.Del(ctx, l.key(sessionID)).Err()
}

func (l *RedisBatchLock) Close() error {
	return l.client.Close()
}

var _ BatchLock = (*RedisBatchLock)(nil)
