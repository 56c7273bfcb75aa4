package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheVersionKey = "rbac:held:version"

// Cache keeps held permission sets in Redis under a global version. Bumping
// the version orphans every cached entry at once; orphans expire via TTL.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
		return 0, err
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *Cache) heldKey(ctx context.Context, userID int64) (string, error) {
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return "rbac:held:" + strconv.FormatInt(userID, 10) + ":" + strconv.FormatInt(ver, 10), nil
}

// Held loads a user's held codes from the cache, populating it with loader
// on a miss.
func (c *Cache) Held(ctx context.Context, userID int64, loader func(context.Context) ([]int64, error)) ([]int64, error) {
	if loader == nil {
		return nil, errors.New("rbac: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key, err := c.heldKey(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: cache key: %w", err)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var codes []int64
		if err := json.Unmarshal(payload, &codes); err == nil {
			return codes, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("rbac: cache get: %w", err)
	}
	codes, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.store(ctx, key, codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// Refresh runs loader and overwrites the user's entry with the result. The
// entry is keyed under the version read before loading, so a Bump that lands
// while loader runs orphans the write instead of publishing stale codes.
func (c *Cache) Refresh(ctx context.Context, userID int64, loader func(context.Context) ([]int64, error)) ([]int64, error) {
	if loader == nil {
		return nil, errors.New("rbac: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key, err := c.heldKey(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: cache key: %w", err)
	}
	codes, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.store(ctx, key, codes); err != nil {
		return nil, err
	}
	return codes, nil
}

func (c *Cache) store(ctx context.Context, key string, codes []int64) error {
	raw, err := json.Marshal(codes)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("rbac: cache set: %w", err)
	}
	return nil
}

// Bump invalidates every cached held set by incrementing the global version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, cacheVersionKey).Err(); err != nil {
		return fmt.Errorf("rbac: cache bump: %w", err)
	}
	return nil
}
