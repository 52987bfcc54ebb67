package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyflow/updown/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each
// asset/source pair is a hash at "price:{asset}:{source}" with fields
// "price" and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
}

func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(asset string, source domain.FeedSource) string {
	return "price:" + asset + ":" + string(source)
}

// SetPrice stores the latest price and timestamp for an asset/source.
func (pc *PriceCache) SetPrice(ctx context.Context, asset string, source domain.FeedSource, price float64, ts time.Time) error {
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(asset, source), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s/%s: %w", asset, source, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for an asset/source.
// Returns domain.ErrNotFound when never set.
func (pc *PriceCache) GetPrice(ctx context.Context, asset string, source domain.FeedSource) (float64, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(asset, source)).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s/%s: %w", asset, source, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, err := strconv.ParseFloat(vals["price"], 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse price %s/%s: %w", asset, source, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: parse ts %s/%s: %w", asset, source, err)
	}
	return price, time.Unix(0, tsNano).UTC(), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
