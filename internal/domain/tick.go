package domain

import "time"

// FeedSource identifies which price feed produced a tick.
type FeedSource string

const (
	// FeedSourceFast is the low-latency reference feed (exchange trade stream).
	FeedSourceFast FeedSource = "fast"
	// FeedSourceOracle is the slower settlement-oracle feed the market resolves against.
	FeedSourceOracle FeedSource = "oracle"
)

// PriceTick is a single immutable price observation from one feed.
type PriceTick struct {
	Asset     string
	Source    FeedSource
	Price     float64
	Timestamp time.Time
}

// NormalizedTick is a PriceTick enriched by the feed normalizer with the
// per-source delta, the lag between the fast and oracle feeds, and staleness
// flags. Staleness degrades confidence downstream but is never fatal.
type NormalizedTick struct {
	Asset        string
	Source       FeedSource
	Price        float64
	Delta        float64       // price minus previous price from the same source
	InterFeedLag time.Duration // fast timestamp minus matching oracle timestamp
	FastStale    bool
	OracleStale  bool
	Timestamp    time.Time
}
