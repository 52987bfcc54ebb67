// Package feed ingests the fast and oracle price streams plus the venue
// quote stream, and normalizes ticks into a single time-ordered view with
// staleness and gap detection.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/polyflow/updown/internal/domain"
)

// TickHandler receives each normalized tick. Handlers must not block; slow
// downstream work is decoupled via the engine's per-market buffers.
type TickHandler func(ctx context.Context, tick domain.NormalizedTick)

// sourceState is the last observation for one (asset, source) stream.
type sourceState struct {
	price float64
	ts    time.Time
	seen  bool
}

// Normalizer unifies ticks from both price sources per asset. It maintains
// the last price and timestamp per source, computes the per-source delta and
// inter-feed lag, and flags a source stale when no tick arrives for longer
// than maxGap. Staleness degrades confidence downstream but is not fatal.
type Normalizer struct {
	maxGap  time.Duration
	handler TickHandler
	cache   domain.PriceCache // optional write-through, decoupled from ingestion
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	fast   map[string]*sourceState
	oracle map[string]*sourceState

	cacheCh chan domain.PriceTick
}

// NewNormalizer creates a Normalizer. cache may be nil when no price cache is
// wired (sim mode without redis).
func NewNormalizer(maxGap time.Duration, handler TickHandler, cache domain.PriceCache, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		maxGap:  maxGap,
		handler: handler,
		cache:   cache,
		logger:  logger.With(slog.String("component", "feed_normalizer")),
		now:     time.Now,
		fast:    make(map[string]*sourceState),
		oracle:  make(map[string]*sourceState),
		cacheCh: make(chan domain.PriceTick, 1024),
	}
}

// SetClock overrides the time source. Used by tests.
func (n *Normalizer) SetClock(now func() time.Time) { n.now = now }

// Ingest folds a raw tick into per-source state and publishes the normalized
// tick. It never performs blocking I/O on the caller's goroutine.
func (n *Normalizer) Ingest(ctx context.Context, t domain.PriceTick) {
	if t.Asset == "" || t.Price <= 0 {
		return
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = n.now()
	}

	n.mu.Lock()
	states := n.fast
	other := n.oracle
	if t.Source == domain.FeedSourceOracle {
		states, other = n.oracle, n.fast
	}
	st, ok := states[t.Asset]
	if !ok {
		st = &sourceState{}
		states[t.Asset] = st
	}
	var delta float64
	if st.seen {
		delta = t.Price - st.price
	}
	st.price = t.Price
	st.ts = t.Timestamp
	st.seen = true

	var lag time.Duration
	ot := other[t.Asset]
	if ot != nil && ot.seen {
		if t.Source == domain.FeedSourceFast {
			lag = t.Timestamp.Sub(ot.ts)
		} else {
			lag = ot.ts.Sub(t.Timestamp)
		}
	}
	fastStale := n.staleLocked(n.fast[t.Asset], t.Timestamp)
	oracleStale := n.staleLocked(n.oracle[t.Asset], t.Timestamp)
	n.mu.Unlock()

	tick := domain.NormalizedTick{
		Asset:        t.Asset,
		Source:       t.Source,
		Price:        t.Price,
		Delta:        delta,
		InterFeedLag: lag,
		FastStale:    fastStale,
		OracleStale:  oracleStale,
		Timestamp:    t.Timestamp,
	}

	if oracleStale && t.Source == domain.FeedSourceFast {
		// Data-quality flag only; signal generation degrades, never crashes.
		n.logger.Debug("oracle feed stale",
			slog.String("asset", t.Asset),
			slog.Duration("max_gap", n.maxGap),
		)
	}

	if n.handler != nil {
		n.handler(ctx, tick)
	}

	if n.cache != nil {
		select {
		case n.cacheCh <- t:
		default:
			// Cache writes are best effort; never stall the feed.
		}
	}
}

// LastPrice returns the last observed price and timestamp for a source.
func (n *Normalizer) LastPrice(asset string, source domain.FeedSource) (float64, time.Time, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	states := n.fast
	if source == domain.FeedSourceOracle {
		states = n.oracle
	}
	st, ok := states[asset]
	if !ok || !st.seen {
		return 0, time.Time{}, false
	}
	return st.price, st.ts, true
}

// Stale reports whether the source has gone longer than maxGap without a tick.
func (n *Normalizer) Stale(asset string, source domain.FeedSource, at time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	states := n.fast
	if source == domain.FeedSourceOracle {
		states = n.oracle
	}
	return n.staleLocked(states[asset], at)
}

func (n *Normalizer) staleLocked(st *sourceState, at time.Time) bool {
	if st == nil || !st.seen {
		return true
	}
	return at.Sub(st.ts) > n.maxGap
}

// Run drains the cache-write queue until ctx is cancelled. Runs on its own
// goroutine so redis latency never touches the ingestion path.
func (n *Normalizer) Run(ctx context.Context) error {
	if n.cache == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t := <-n.cacheCh:
			if err := n.cache.SetPrice(ctx, t.Asset, t.Source, t.Price, t.Timestamp); err != nil {
				n.logger.Debug("price cache write failed",
					slog.String("asset", t.Asset),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
