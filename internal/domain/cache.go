package domain

import (
	"context"
	"time"
)

// MarketPrice is a cached price point for one market.
type MarketPrice struct {
	YesPrice  uint64
	NoPrice   uint64
	UpdatedAt time.Time
}

// PriceCache provides fast access to the latest market prices.
type PriceCache interface {
	SetPrice(ctx context.Context, marketID uint64, price MarketPrice) error
	GetPrice(ctx context.Context, marketID uint64) (MarketPrice, error)
	GetPrices(ctx context.Context, marketIDs []uint64) (map[uint64]MarketPrice, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub fan-out of engine events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter limits request rates per key.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under a sliding
	// window of the given size and counts it if so.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}
