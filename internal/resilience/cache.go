package resilience

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dividend-orchestrator/internal/gateway"
)

// Cache stores gateway results in Redis keyed by a canonical digest of the
// request, so semantically identical requests share entries regardless of
// field ordering in the original JSON.
type Cache struct {
	rdb redis.UniversalClient
}

func NewCache(rdb redis.UniversalClient) *Cache {
	return &Cache{rdb: rdb}
}

// Key builds the cache key for one backend request. The request is marshaled
// through a map so JSON object keys come out sorted, then hashed.
func (c *Cache) Key(backendID string, req *gateway.Request) (string, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	var normalized map[string]interface{}
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("orch:cache:%s:%s", backendID, hex.EncodeToString(sum[:])), nil
}

// Get returns the cached result, or nil on miss. Redis errors degrade to a
// miss: a broken cache must not fail the call.
func (c *Cache) Get(ctx context.Context, key string) (*gateway.Result, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var result gateway.Result
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	result.Cached = true
	return &result, nil
}

// Set stores a result under the key for the given TTL.
func (c *Cache) Set(ctx context.Context, key string, result *gateway.Result, ttl time.Duration) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, raw, ttl).Err()
}
