// Package hedge pairs UP/DOWN inventory per market and closes unpaired
// exposure before expiry, escalating to panic pricing when the normal
// arbitrage band offers no fill.
package hedge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polyflow/updown/internal/domain"
)

// Placer submits hedge orders. Satisfied by *executor.Executor.
type Placer interface {
	PlaceHedge(ctx context.Context, intent domain.HedgeIntent) (domain.OrderResult, error)
}

// BookLookup resolves the live book for a market. Satisfied by
// *market.Tracker.
type BookLookup interface {
	ByMarketID(marketID string) (domain.MarketBook, bool)
}

// IntentFunc observes every hedge intent resolution (filled or aborted).
type IntentFunc func(ctx context.Context, intent domain.HedgeIntent)

// FillFunc observes hedge fills so they reach the same downstream path as
// entry fills.
type FillFunc func(ctx context.Context, fill domain.Fill)

// Config are the hedge escalation knobs.
type Config struct {
	UrgencySeconds int
	MaxAttempts    int
	Backoff        time.Duration
	PanicMaxPrice  float64
	Cooldown       time.Duration
}

// Engine recomputes per-market paired inventory on every fill and issues
// hedge intents when unpaired exposure survives into the urgency window.
// It is driven from the per-market engine shard, so inventory for one market
// is only ever mutated from one goroutine; the mutex covers cross-market
// reads (metrics, settlement).
type Engine struct {
	cfg      Config
	placer   Placer
	books    BookLookup
	onIntent IntentFunc
	onFill   FillFunc
	logger   *slog.Logger
	now      func() time.Time

	mu            sync.Mutex
	inventories   map[string]domain.PairedInventory
	lastAttempt   map[string]time.Time
	cooldownNoted map[string]time.Time // attempt time a cooldown skip was recorded for
}

func NewEngine(cfg Config, placer Placer, books BookLookup, onIntent IntentFunc, onFill FillFunc, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:           cfg,
		placer:        placer,
		books:         books,
		onIntent:      onIntent,
		onFill:        onFill,
		logger:        logger.With(slog.String("component", "hedge_engine")),
		now:           time.Now,
		inventories:   make(map[string]domain.PairedInventory),
		lastAttempt:   make(map[string]time.Time),
		cooldownNoted: make(map[string]time.Time),
	}
}

// SetClock overrides the time source. Used by tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// ApplyFill folds an entry or hedge fill into the market's inventory and
// returns the recomputed snapshot.
func (e *Engine) ApplyFill(fill domain.Fill) domain.PairedInventory {
	e.mu.Lock()
	defer e.mu.Unlock()
	inv, ok := e.inventories[fill.MarketID]
	if !ok {
		inv = domain.PairedInventory{MarketID: fill.MarketID}
	}
	inv = inv.ApplyFill(fill.Side, fill.Shares, fill.Price)
	e.inventories[fill.MarketID] = inv
	return inv
}

// ApplyExit removes shares sold in a single-sided exit from the inventory.
func (e *Engine) ApplyExit(marketID string, side domain.MarketSide, shares float64) domain.PairedInventory {
	e.mu.Lock()
	defer e.mu.Unlock()
	inv, ok := e.inventories[marketID]
	if !ok {
		return domain.PairedInventory{MarketID: marketID}
	}
	inv = inv.ReduceShares(side, shares)
	e.inventories[marketID] = inv
	return inv
}

// Inventory returns the current snapshot for the market.
func (e *Engine) Inventory(marketID string) (domain.PairedInventory, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inv, ok := e.inventories[marketID]
	return inv, ok
}

// DropMarket releases inventory tracking after settlement.
func (e *Engine) DropMarket(marketID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inventories, marketID)
	delete(e.lastAttempt, marketID)
	delete(e.cooldownNoted, marketID)
}

// CheckMarket decides whether the market's unpaired exposure must be hedged
// now and, if so, runs the escalation ladder: normal-band attempts with
// backoff, then a single panic attempt, then a logged skip. Returns the
// resolved intent when one was issued.
func (e *Engine) CheckMarket(ctx context.Context, window domain.MarketWindow) (domain.HedgeIntent, bool) {
	now := e.now()
	inv, ok := e.Inventory(window.ID)
	if !ok || inv.UnpairedShares() == 0 {
		return domain.HedgeIntent{}, false
	}
	if window.SecondsRemaining(now) > float64(e.cfg.UrgencySeconds) {
		return domain.HedgeIntent{}, false
	}

	missing := inv.UnpairedSide().Opposite()
	log := e.logger.With(
		slog.String("market_id", window.ID),
		slog.String("missing_side", string(missing)),
		slog.Float64("unpaired_shares", inv.UnpairedShares()),
	)

	e.mu.Lock()
	last, attempted := e.lastAttempt[window.ID]
	if attempted && now.Sub(last) < e.cfg.Cooldown {
		// Housekeeping polls faster than the cooldown elapses; record the
		// skip once per cooldown window, not once per poll.
		noted := e.cooldownNoted[window.ID].Equal(last)
		if !noted {
			e.cooldownNoted[window.ID] = last
		}
		e.mu.Unlock()
		if noted {
			return domain.HedgeIntent{}, false
		}
		return e.skip(ctx, log, window.ID, missing, inv.UnpairedShares(), domain.HedgeSkipCooldown), true
	}
	e.lastAttempt[window.ID] = now
	e.mu.Unlock()

	book, ok := e.books.ByMarketID(window.ID)
	if !ok {
		return e.skip(ctx, log, window.ID, missing, inv.UnpairedShares(), domain.HedgeSkipNoLiquidity), true
	}
	top := book.Top(missing)
	if !top.HasQuote() || top.DepthAtBest <= 0 {
		return e.skip(ctx, log, window.ID, missing, inv.UnpairedShares(), domain.HedgeSkipNoLiquidity), true
	}

	qty := inv.UnpairedShares()
	if top.DepthAtBest < qty {
		qty = top.DepthAtBest
	}

	// Acceptable normal-band ask: the pair must still complete below the $1
	// settlement payout against the held side's entry basis.
	heldCost := inv.UpAvgCost
	if inv.UnpairedSide() == domain.MarketSideDown {
		heldCost = inv.DownAvgCost
	}
	normalLimit := 1 - heldCost

	if top.BestAsk <= normalLimit {
		if intent, done := e.attempt(ctx, log, window.ID, missing, qty, top.BestAsk, false); done {
			return intent, true
		}
	} else {
		log.Warn("no acceptable ask in arbitrage band, escalating to panic hedge",
			slog.Float64("best_ask", top.BestAsk),
			slog.Float64("normal_limit", normalLimit),
		)
	}

	// Panic hedge: accept materially worse pricing rather than carry an
	// unhedged loss into settlement.
	if top.BestAsk > e.cfg.PanicMaxPrice {
		return e.skip(ctx, log, window.ID, missing, qty, domain.HedgeSkipPriceOutOfBounds), true
	}
	if intent, done := e.attemptPanic(ctx, log, window.ID, missing, qty); done {
		return intent, true
	}
	return e.skip(ctx, log, window.ID, missing, qty, domain.HedgeSkipNoLiquidity), true
}

// attempt runs bounded placement attempts at the given limit with backoff
// between them. Returns done=false when every attempt missed.
func (e *Engine) attempt(ctx context.Context, log *slog.Logger, marketID string, side domain.MarketSide, qty, limit float64, panicHedge bool) (domain.HedgeIntent, bool) {
	intent := domain.HedgeIntent{
		ID:            uuid.New().String(),
		MarketID:      marketID,
		SideNotHedged: side,
		IntendedQty:   qty,
		LimitPrice:    limit,
		Panic:         panicHedge,
		Status:        domain.HedgeStatusPending,
		CreatedAt:     e.now(),
	}
	// Announce the intent before placement so sinks see the pending row even
	// if every attempt misses; resolution follows as a second record.
	if e.onIntent != nil {
		e.onIntent(ctx, intent)
	}
	for intent.Attempts = 0; intent.Attempts < e.cfg.MaxAttempts; intent.Attempts++ {
		if intent.Attempts > 0 {
			select {
			case <-ctx.Done():
				return domain.HedgeIntent{}, false
			case <-time.After(e.cfg.Backoff):
			}
		}
		res, err := e.placer.PlaceHedge(ctx, intent)
		if err != nil {
			log.Error("hedge placement failed", slog.Any("error", err), slog.Int("attempt", intent.Attempts))
			continue
		}
		if !res.Filled {
			continue
		}
		intent.Status = domain.HedgeStatusFilled
		intent.ResolvedAt = e.now()
		log.Info("hedge filled",
			slog.Bool("panic", panicHedge),
			slog.Float64("price", res.FilledPrice),
			slog.Float64("shares", res.FilledShares),
			slog.Int("attempt", intent.Attempts),
		)
		fill := domain.Fill{
			OrderID:   res.OrderID,
			MarketID:  marketID,
			Side:      side,
			Shares:    res.FilledShares,
			Price:     res.FilledPrice,
			FeeUSD:    res.FeeUSD,
			Kind:      res.Kind,
			Hedge:     true,
			Timestamp: e.now(),
		}
		e.ApplyFill(fill)
		if e.onFill != nil {
			e.onFill(ctx, fill)
		}
		if e.onIntent != nil {
			e.onIntent(ctx, intent)
		}
		return intent, true
	}
	// Exhausted: resolve the announced intent before the caller escalates.
	intent.Status = domain.HedgeStatusAborted
	intent.AbortReason = domain.HedgeSkipNoLiquidity
	intent.ResolvedAt = e.now()
	if e.onIntent != nil {
		e.onIntent(ctx, intent)
	}
	return domain.HedgeIntent{}, false
}

func (e *Engine) attemptPanic(ctx context.Context, log *slog.Logger, marketID string, side domain.MarketSide, qty float64) (domain.HedgeIntent, bool) {
	return e.attempt(ctx, log, marketID, side, qty, e.cfg.PanicMaxPrice, true)
}

// skip records an explicit hedge abandonment. Unpaired exposure is never
// dropped silently.
func (e *Engine) skip(ctx context.Context, log *slog.Logger, marketID string, side domain.MarketSide, qty float64, reason domain.HedgeSkipReason) domain.HedgeIntent {
	intent := domain.HedgeIntent{
		ID:            uuid.New().String(),
		MarketID:      marketID,
		SideNotHedged: side,
		IntendedQty:   qty,
		Status:        domain.HedgeStatusAborted,
		AbortReason:   reason,
		CreatedAt:     e.now(),
		ResolvedAt:    e.now(),
	}
	log.Warn("hedge_skip", slog.String("reason", string(reason)), slog.Float64("qty", qty))
	if e.onIntent != nil {
		e.onIntent(ctx, intent)
	}
	return intent
}
