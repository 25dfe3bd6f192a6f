package domain

import (
	"context"
	"time"
)

// RateLimiter gates ledger submissions so the engine stays inside the remote
// endpoint's request budget.
type RateLimiter interface {
	// Allow reports whether one more request under key fits the sliding
	// window, counting it if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Wait blocks until a request under key is allowed or ctx is done.
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// EventBus is the pub/sub fabric bridging engine events to the WebSocket hub
// and any other listeners.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// FlagCache holds the currently flagged (bot-like) participant addresses with
// a TTL so stale flags expire on their own.
type FlagCache interface {
	Flag(ctx context.Context, address string, ttl time.Duration) error
	Unflag(ctx context.Context, address string) error
	Flagged(ctx context.Context) ([]string, error)
}
