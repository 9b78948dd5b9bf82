// Package cache provides a Redis-backed read cache for account views. The
// cache sits outside the correctness path: a miss or a failed write only
// costs a store read, never a wrong balance, because transfers invalidate
// both touched accounts before responding.
package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/corebank/transfer-engine/internal/domain"
)

type AccountCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewAccountCache wraps client; a nil client yields a cache where every
// lookup misses and writes are dropped.
func NewAccountCache(client *redis.Client, ttl time.Duration) *AccountCache {
	return &AccountCache{client: client, ttl: ttl}
}

func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *AccountCache) Get(ctx context.Context, accountID string) (*domain.AccountView, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, key(accountID)).Result()
	if err != nil {
		return nil, false
	}
	var view domain.AccountView
	if err := json.Unmarshal([]byte(data), &view); err != nil {
		return nil, false
	}
	return &view, true
}

func (c *AccountCache) Set(ctx context.Context, view domain.AccountView) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(view)
	if err != nil {
		log.Printf("account cache: marshal error for %s: %v", view.ID, err)
		return
	}
	if err := c.client.Set(ctx, key(view.ID), data, c.ttl).Err(); err != nil {
		log.Printf("account cache: write error for %s: %v", view.ID, err)
	}
}

func (c *AccountCache) Invalidate(ctx context.Context, accountIDs ...string) {
	if c == nil || c.client == nil || len(accountIDs) == 0 {
		return
	}
	keys := make([]string, len(accountIDs))
	for i, id := range accountIDs {
		keys[i] = key(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Printf("account cache: delete error: %v", err)
	}
}

func key(accountID string) string {
	return "account:view:" + accountID
}
