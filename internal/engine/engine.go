// Package engine wires the feed, detection, execution, position, hedge and
// settlement components into per-asset shards. Every mutation of one asset's
// market state happens on that asset's shard goroutine, so the components
// below never see interleaved writes for the same market.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyflow/updown/internal/config"
	"github.com/polyflow/updown/internal/detector"
	"github.com/polyflow/updown/internal/domain"
	"github.com/polyflow/updown/internal/executor"
	"github.com/polyflow/updown/internal/feed"
	"github.com/polyflow/updown/internal/hedge"
	"github.com/polyflow/updown/internal/market"
	"github.com/polyflow/updown/internal/position"
	"github.com/polyflow/updown/internal/settle"
)

const (
	shardBuffer          = 512
	housekeepingInterval = time.Second
)

// shardEvent is one unit of work for an asset shard. Exactly one field is set.
type shardEvent struct {
	tick     *domain.NormalizedTick
	quote    *domain.QuoteUpdate
	window   *domain.MarketWindow
	resolved *domain.MarketResolved
}

type shard struct {
	asset  string
	events chan shardEvent
	// lastTick is the most recent normalized tick, kept so quote movement
	// can trigger an entry evaluation between ticks. Only the shard
	// goroutine touches it.
	lastTick *domain.NormalizedTick
}

// Engine owns the shards and the component graph.
type Engine struct {
	cfg        *config.Config
	normalizer *feed.Normalizer
	tracker    *market.Tracker
	detector   *detector.Detector
	exec       *executor.Executor
	positions  *position.Manager
	hedger     *hedge.Engine
	settler    *settle.Settler
	sink       domain.RecordSink
	logger     *slog.Logger
	now        func() time.Time

	shards  map[string]*shard
	dropped atomic.Int64
}

// VenueFactory builds the order placer once the live book view exists; the
// simulated venue fills against it, a real venue ignores it.
type VenueFactory func(books executor.BookLookup) executor.OrderPlacer

// New assembles an Engine over the given execution venue and record sink.
// Feeds push into the engine through Normalizer(), OnQuote, OnWindow, and
// OnResolved.
// priceCache may be nil when no external cache is wired.
func New(cfg *config.Config, venueFor VenueFactory, sink domain.RecordSink, priceCache domain.PriceCache, logger *slog.Logger) *Engine {
	e := &Engine{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With(slog.String("component", "engine")),
		now:    time.Now,
		shards: make(map[string]*shard),
	}

	e.tracker = market.NewTracker(logger)
	e.normalizer = feed.NewNormalizer(
		time.Duration(cfg.Feeds.MaxGapSeconds*float64(time.Second)),
		e.OnTick,
		priceCache,
		logger,
	)

	tox := cfg.Trading.Toxicity
	scorer := detector.NewHeuristicScorer(tox)
	e.detector = detector.New(scorer, time.Duration(tox.WindowSeconds*float64(time.Second)), logger)

	e.exec = executor.NewExecutor(venueFor(e.tracker), cfg.Trading.MaxExposureUSD, cfg.Trading.FillTimeoutMs, logger)

	fees := executor.FeeSchedule{
		TakerFeeBps:    cfg.Fees.TakerFeeBps,
		MakerRebateBps: cfg.Fees.MakerRebateBps,
	}
	e.positions = position.NewManager(
		func(notional float64) float64 { return fees.FeeUSD(domain.FillKindTaker, notional) },
		e.onPositionChange,
		logger,
	)

	e.hedger = hedge.NewEngine(hedge.Config{
		UrgencySeconds: int(cfg.Trading.Hedge.UrgencySeconds),
		MaxAttempts:    cfg.Trading.Hedge.MaxAttempts,
		Backoff:        time.Duration(cfg.Trading.Hedge.BackoffMs) * time.Millisecond,
		PanicMaxPrice:  cfg.Trading.Hedge.PanicMaxPrice,
		Cooldown:       time.Duration(cfg.Trading.Hedge.CooldownMs) * time.Millisecond,
	}, e.exec, e.tracker, e.onHedgeIntent, nil, logger)

	e.settler = settle.NewSettler(e.positions, e.hedger, e.onSettlement, logger)

	for _, asset := range cfg.Feeds.Assets {
		e.shards[asset] = &shard{asset: asset, events: make(chan shardEvent, shardBuffer)}
	}
	return e
}

// Normalizer exposes the tick entry point for price feeds.
func (e *Engine) Normalizer() *feed.Normalizer { return e.normalizer }

// Tracker exposes the live book view, used by the simulated venue.
func (e *Engine) Tracker() *market.Tracker { return e.tracker }

// Metrics-facing accessors.
func (e *Engine) Positions() *position.Manager { return e.positions }
func (e *Engine) Hedger() *hedge.Engine        { return e.hedger }
func (e *Engine) Settler() *settle.Settler     { return e.settler }

// SetClock overrides the time source on the engine and its components.
// Used by tests.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.normalizer.SetClock(now)
	e.positions.SetClock(now)
	e.hedger.SetClock(now)
	e.settler.SetClock(now)
}

// Run drives the shards and housekeeping until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := e.normalizer.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("normalizer: %w", err)
	})

	for _, sh := range e.shards {
		sh := sh
		g.Go(func() error {
			e.runShard(ctx, sh)
			return nil
		})
	}

	g.Go(func() error {
		e.runHousekeeping(ctx)
		return nil
	})

	e.logger.Info("engine started", slog.Int("shards", len(e.shards)))
	return g.Wait()
}

func (e *Engine) runShard(ctx context.Context, sh *shard) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sh.events:
			switch {
			case ev.tick != nil:
				e.handleTick(ctx, *ev.tick)
			case ev.quote != nil:
				e.handleQuote(ctx, *ev.quote)
			case ev.window != nil:
				e.tracker.OpenWindow(*ev.window)
			case ev.resolved != nil:
				e.handleResolved(ctx, *ev.resolved)
			}
		}
	}
}

// runHousekeeping expires due windows and checks hedge urgency once a second.
func (e *Engine) runHousekeeping(ctx context.Context) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := e.now()
			for _, marketID := range e.tracker.ExpireDue(now) {
				e.detector.DropMarket(marketID)
			}
			for asset := range e.shards {
				book, ok := e.tracker.Active(asset, now)
				if !ok {
					continue
				}
				e.hedger.CheckMarket(ctx, book.Window)
			}
		}
	}
}

// dispatch routes an event to the asset's shard without blocking. Ingestion
// pressure must never back up into the feed reader.
func (e *Engine) dispatch(asset string, ev shardEvent) {
	sh, ok := e.shards[asset]
	if !ok {
		return
	}
	select {
	case sh.events <- ev:
	default:
		if e.dropped.Add(1)%100 == 1 {
			e.logger.Warn("shard backlog full, dropping event",
				slog.String("asset", asset),
				slog.Int64("dropped_total", e.dropped.Load()),
			)
		}
	}
}

// OnTick receives every normalized tick. Wired as the Normalizer handler.
func (e *Engine) OnTick(_ context.Context, tick domain.NormalizedTick) {
	e.dispatch(tick.Asset, shardEvent{tick: &tick})
}

// OnQuote receives top-of-book updates from the quote feed.
func (e *Engine) OnQuote(_ context.Context, q domain.QuoteUpdate) {
	e.dispatch(q.Asset, shardEvent{quote: &q})
}

// OnWindow receives new market window announcements.
func (e *Engine) OnWindow(_ context.Context, w domain.MarketWindow) {
	e.dispatch(w.Asset, shardEvent{window: &w})
}

// OnResolved receives market resolution events. When the market is unknown
// locally the settlement is applied inline; the settler is idempotent either
// way.
func (e *Engine) OnResolved(ctx context.Context, r domain.MarketResolved) {
	if book, ok := e.tracker.ByMarketID(r.MarketID); ok {
		e.dispatch(book.Window.Asset, shardEvent{resolved: &r})
		return
	}
	e.handleResolved(ctx, r)
}

func (e *Engine) handleTick(ctx context.Context, tick domain.NormalizedTick) {
	if sh, ok := e.shards[tick.Asset]; ok {
		sh.lastTick = &tick
	}
	now := e.now()
	book, ok := e.tracker.Active(tick.Asset, now)
	if !ok {
		return
	}
	e.evaluate(ctx, tick, book, now)
}

// evaluate runs the entry algorithm against the current book and, on a
// signal, enters the position. Called for every tick and every accepted
// quote update.
func (e *Engine) evaluate(ctx context.Context, tick domain.NormalizedTick, book domain.MarketBook, now time.Time) {
	oracle, _, seen := e.normalizer.LastPrice(tick.Asset, domain.FeedSourceOracle)
	oracleOK := seen && !e.normalizer.Stale(tick.Asset, domain.FeedSourceOracle, now)

	snap := detector.SnapshotFor(e.cfg.Trading, tick.Asset)
	sig, rejections := e.detector.Evaluate(detector.Input{
		Tick:        tick,
		Book:        book,
		OraclePrice: oracle,
		OracleOK:    oracleOK,
	}, snap, now)

	for _, rej := range rejections {
		e.sink.SignalRejected(ctx, rej)
	}
	if sig == nil {
		return
	}
	e.sink.SignalEmitted(ctx, *sig)
	e.enterPosition(ctx, *sig, snap.TradeSizeUSD)
}

// enterPosition runs a signal through the executor and hands the result to
// the position manager. Entry fills also feed the hedge inventory.
func (e *Engine) enterPosition(ctx context.Context, sig domain.Signal, tradeSizeUSD float64) {
	requested := tradeSizeUSD / sig.SharePriceAtSignal
	if _, err := e.positions.Open(ctx, sig, requested); err != nil {
		e.logger.Error("open position failed", slog.String("signal_id", sig.ID), slog.Any("error", err))
		return
	}

	res, err := e.exec.Execute(ctx, sig, tradeSizeUSD)
	if err != nil {
		if failErr := e.positions.Fail(ctx, sig.ID, err.Error()); failErr != nil {
			e.logger.Error("fail transition rejected", slog.String("signal_id", sig.ID), slog.Any("error", failErr))
		}
		return
	}

	pos, err := e.positions.OnFillResult(ctx, sig.ID, res, position.ExitParams{
		TakeProfitEnabled: e.cfg.Trading.TakeProfitEnabled,
		TakeProfitCents:   e.cfg.Trading.TakeProfitCents,
		StopLossEnabled:   e.cfg.Trading.StopLossEnabled,
		StopLossCents:     e.cfg.Trading.StopLossCents,
		HoldTimeout:       time.Duration(e.cfg.Trading.HoldTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		e.logger.Error("fill result rejected", slog.String("signal_id", sig.ID), slog.Any("error", err))
		return
	}
	// A position settled straight off the fill belongs to a resolved market;
	// its inventory was already dropped and must not be recreated.
	if pos.FilledShares > 0 && !pos.State.Terminal() {
		e.hedger.ApplyFill(domain.Fill{
			OrderID:   res.OrderID,
			SignalID:  sig.ID,
			MarketID:  sig.MarketID,
			Asset:     sig.Asset,
			Side:      sig.Direction,
			Shares:    res.FilledShares,
			Price:     res.FilledPrice,
			FeeUSD:    res.FeeUSD,
			Kind:      res.Kind,
			Timestamp: e.now(),
		})
	}
}

func (e *Engine) handleQuote(ctx context.Context, q domain.QuoteUpdate) {
	book, accepted := e.tracker.ApplyQuote(q, e.now())
	if !accepted {
		return
	}
	e.detector.ObserveQuote(q)
	e.positions.OnQuote(ctx, q.MarketID, q.Side, book.Top(q.Side))

	// An ask moving into band or the book turning ready can open an entry on
	// its own; re-run the evaluation against the latest price state.
	if sh, ok := e.shards[q.Asset]; ok && sh.lastTick != nil {
		e.evaluate(ctx, *sh.lastTick, book, e.now())
	}
}

func (e *Engine) handleResolved(ctx context.Context, r domain.MarketResolved) {
	e.settler.Apply(ctx, r, -1)
}

// onPositionChange is the position manager's transition hook. Terminal exits
// release the exposure guard and, for single-sided sells, reduce inventory.
func (e *Engine) onPositionChange(ctx context.Context, pos domain.Position) {
	e.sink.PositionChanged(ctx, pos)
	if !pos.State.Terminal() || pos.FilledShares == 0 {
		return
	}
	e.exec.ReleaseExposure(pos.Asset, pos.EntryCost())
	switch pos.ExitReason {
	case domain.ExitTakeProfit, domain.ExitStopLoss, domain.ExitTimeout:
		e.hedger.ApplyExit(pos.MarketID, pos.Side, pos.FilledShares)
	}
}

func (e *Engine) onHedgeIntent(ctx context.Context, intent domain.HedgeIntent) {
	e.sink.HedgeIssued(ctx, intent)
}

// onSettlement runs after the settler records a result: publish it and drop
// per-market tracking state.
func (e *Engine) onSettlement(ctx context.Context, res domain.SettlementResult) {
	e.sink.MarketSettled(ctx, res)
	e.detector.DropMarket(res.MarketID)
	e.positions.DropMarket(res.MarketID)
}
