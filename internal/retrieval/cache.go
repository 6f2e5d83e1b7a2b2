package retrieval

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// SearchCache is a read-through cache in front of Index.Search, so a
// turn that repeats the same query (a tool-loop re-asking the same
// question) doesn't recompute cosine search against a large index.
// Optional: a nil *SearchCache (or one built over no client) behaves
// as a pure pass-through.
type SearchCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSearchCache connects to addr; ttl bounds how long a cached result
// set is trusted before a fresh search is required.
func NewSearchCache(addr string, ttl time.Duration) (*SearchCache, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SearchCache{client: c, ttl: ttl}, nil
}

func (c *SearchCache) cacheKey(sessionID, queryText string, k int) string {
	return "ctxcore:search:" + sessionID + ":" + itoa(k) + ":" + queryText
}

// Get returns a cached result set, or ok=false on a miss or cache error.
func (c *SearchCache) Get(ctx context.Context, sessionID, queryText string, k int) ([]SearchResult, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, c.cacheKey(sessionID, queryText, k)).Bytes()
	if err != nil {
		return nil, false
	}
	var results []SearchResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return nil, false
	}
	return results, true
}

// Set stores a result set; failures are swallowed, a cache is never
// load-bearing for correctness.
func (c *SearchCache) Set(ctx context.Context, sessionID, queryText string, k int, results []SearchResult) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(results)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.cacheKey(sessionID, queryText, k), raw, c.ttl).Err()
}

// Invalidate drops cached searches for a session. BatchSummarizer calls
// it after the shadow swap; IndexPage and RemovePage do not.
func (c *SearchCache) Invalidate(ctx context.Context, sessionID string) {
	if c == nil || c.client == nil {
		return
	}
	pattern := "ctxcore:search:" + sessionID + ":*"
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		_ = c.client.Del(ctx, keys...).Err()
	}
}

func (c *SearchCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
