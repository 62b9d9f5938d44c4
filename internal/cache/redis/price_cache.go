package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zmartlabs/zmart-engine/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each market's spot prices are stored as a hash at key "price:{marketID}"
// with fields "yes", "no" and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(marketID uint64) string {
	return "price:" + strconv.FormatUint(marketID, 10)
}

// SetPrice stores the latest spot prices for a market.
func (pc *PriceCache) SetPrice(ctx context.Context, marketID uint64, price domain.MarketPrice) error {
	key := priceKey(marketID)
	fields := map[string]interface{}{
		"yes": strconv.FormatUint(price.YesPrice, 10),
		"no":  strconv.FormatUint(price.NoPrice, 10),
		"ts":  strconv.FormatInt(price.UpdatedAt.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %d: %w", marketID, err)
	}
	return nil
}

// GetPrice retrieves the latest spot prices for a market.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, marketID uint64) (domain.MarketPrice, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(marketID)).Result()
	if err != nil {
		return domain.MarketPrice{}, fmt.Errorf("redis: get price %d: %w", marketID, err)
	}
	if len(vals) == 0 {
		return domain.MarketPrice{}, domain.ErrNotFound
	}
	price, err := parsePriceHash(vals)
	if err != nil {
		return domain.MarketPrice{}, fmt.Errorf("redis: get price %d: %w", marketID, err)
	}
	return price, nil
}

// GetPrices retrieves the latest prices for multiple markets using a pipeline.
// Markets whose keys do not exist are silently omitted from the result map.
func (pc *PriceCache) GetPrices(ctx context.Context, marketIDs []uint64) (map[uint64]domain.MarketPrice, error) {
	if len(marketIDs) == 0 {
		return map[uint64]domain.MarketPrice{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[uint64]*redis.MapStringStringCmd, len(marketIDs))
	for _, id := range marketIDs {
		cmds[id] = pipe.HGetAll(ctx, priceKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[uint64]domain.MarketPrice, len(marketIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		price, err := parsePriceHash(vals)
		if err != nil {
			continue
		}
		result[id] = price
	}

	return result, nil
}

func parsePriceHash(vals map[string]string) (domain.MarketPrice, error) {
	yes, err := strconv.ParseUint(vals["yes"], 10, 64)
	if err != nil {
		return domain.MarketPrice{}, fmt.Errorf("parse yes price: %w", err)
	}
	no, err := strconv.ParseUint(vals["no"], 10, 64)
	if err != nil {
		return domain.MarketPrice{}, fmt.Errorf("parse no price: %w", err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.MarketPrice{}, fmt.Errorf("parse ts: %w", err)
	}
	return domain.MarketPrice{
		YesPrice:  yes,
		NoPrice:   no,
		UpdatedAt: time.Unix(0, tsNano),
	}, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
