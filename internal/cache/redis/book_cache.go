package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/polyflow/updown/internal/domain"
)

// BookCache implements domain.BookCache using Redis hashes. Each market side
// is a hash at "book:{marketID}:{side}" holding the top-of-book fields.
type BookCache struct {
	rdb *redis.Client
}

func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookKey(marketID string, side domain.MarketSide) string {
	return "book:" + marketID + ":" + string(side)
}

// SetTop stores the latest top-of-book for one side of a market.
func (bc *BookCache) SetTop(ctx context.Context, marketID string, side domain.MarketSide, top domain.BookTop) error {
	fields := map[string]interface{}{
		"bid":   strconv.FormatFloat(top.BestBid, 'f', -1, 64),
		"ask":   strconv.FormatFloat(top.BestAsk, 'f', -1, 64),
		"depth": strconv.FormatFloat(top.DepthAtBest, 'f', -1, 64),
		"ts":    strconv.FormatInt(top.UpdatedAt.UnixNano(), 10),
	}
	if err := bc.rdb.HSet(ctx, bookKey(marketID, side), fields).Err(); err != nil {
		return fmt.Errorf("redis: set top %s/%s: %w", marketID, side, err)
	}
	return nil
}

// GetTop retrieves the latest top-of-book for one side of a market.
// Returns domain.ErrNotFound when never set.
func (bc *BookCache) GetTop(ctx context.Context, marketID string, side domain.MarketSide) (domain.BookTop, error) {
	vals, err := bc.rdb.HGetAll(ctx, bookKey(marketID, side)).Result()
	if err != nil {
		return domain.BookTop{}, fmt.Errorf("redis: get top %s/%s: %w", marketID, side, err)
	}
	if len(vals) == 0 {
		return domain.BookTop{}, domain.ErrNotFound
	}

	var top domain.BookTop
	if top.BestBid, err = strconv.ParseFloat(vals["bid"], 64); err != nil {
		return domain.BookTop{}, fmt.Errorf("redis: parse bid %s/%s: %w", marketID, side, err)
	}
	if top.BestAsk, err = strconv.ParseFloat(vals["ask"], 64); err != nil {
		return domain.BookTop{}, fmt.Errorf("redis: parse ask %s/%s: %w", marketID, side, err)
	}
	if top.DepthAtBest, err = strconv.ParseFloat(vals["depth"], 64); err != nil {
		return domain.BookTop{}, fmt.Errorf("redis: parse depth %s/%s: %w", marketID, side, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.BookTop{}, fmt.Errorf("redis: parse ts %s/%s: %w", marketID, side, err)
	}
	top.UpdatedAt = time.Unix(0, tsNano).UTC()
	return top, nil
}

var _ domain.BookCache = (*BookCache)(nil)
