package redis

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/tokenflow/internal/domain"
)

const flagKeyPrefix = "flag:"

// FlagCache implements domain.FlagCache with one TTL'd key per flagged
// address, so stale flags expire without a sweeper.
type FlagCache struct {
	rdb *redis.Client
}

// NewFlagCache creates a FlagCache backed by the given Client.
func NewFlagCache(c *Client) *FlagCache {
	return &FlagCache{rdb: c.Underlying()}
}

// Flag marks address as bot-like for ttl. A zero ttl keeps the flag until
// Unflag.
func (f *FlagCache) Flag(ctx context.Context, address string, ttl time.Duration) error {
	if err := f.rdb.Set(ctx, flagKeyPrefix+address, time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil {
		return fmt.Errorf("redis: flag %s: %w", address, err)
	}
	return nil
}

// Unflag removes the flag for address.
func (f *FlagCache) Unflag(ctx context.Context, address string) error {
	if err := f.rdb.Del(ctx, flagKeyPrefix+address).Err(); err != nil {
		return fmt.Errorf("redis: unflag %s: %w", address, err)
	}
	return nil
}

// Flagged returns all currently flagged addresses in sorted order.
func (f *FlagCache) Flagged(ctx context.Context) ([]string, error) {
	var (
		addresses []string
		cursor    uint64
	)
	for {
		keys, next, err := f.rdb.Scan(ctx, cursor, flagKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: list flags: %w", err)
		}
		for _, k := range keys {
			addresses = append(addresses, strings.TrimPrefix(k, flagKeyPrefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(addresses)
	return addresses, nil
}

var _ domain.FlagCache = (*FlagCache)(nil)
