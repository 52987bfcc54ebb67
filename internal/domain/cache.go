package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest per-source prices.
type PriceCache interface {
	SetPrice(ctx context.Context, asset string, source FeedSource, price float64, ts time.Time) error
	GetPrice(ctx context.Context, asset string, source FeedSource) (float64, time.Time, error)
}

// BookCache stores the live top-of-book per market side for dashboards.
type BookCache interface {
	SetTop(ctx context.Context, marketID string, side MarketSide, top BookTop) error
	GetTop(ctx context.Context, marketID string, side MarketSide) (BookTop, error)
}

// RecordBus publishes outbound records to external consumers over pub/sub.
type RecordBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
