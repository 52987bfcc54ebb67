package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/polyflow/updown/internal/domain"
)

// Executor turns an accepted signal into an order request and runs it through
// the placement interface, applying deduplication and the exposure guard. It
// is called from the per-market engine shards, so fills for one market never
// interleave with other mutations of that market's state.
type Executor struct {
	placer         OrderPlacer
	dedup          *Dedup
	maxExposureUSD float64
	fillTimeoutMs  int64
	logger         *slog.Logger

	mu       sync.Mutex
	openUSD  map[string]float64 // asset -> open entry notional
	lastScan time.Time
}

// NewExecutor creates an Executor backed by the given placement interface.
// maxExposureUSD of zero disables the exposure guard.
func NewExecutor(placer OrderPlacer, maxExposureUSD float64, fillTimeoutMs int64, logger *slog.Logger) *Executor {
	return &Executor{
		placer:         placer,
		dedup:          NewDedup(2 * time.Minute),
		maxExposureUSD: maxExposureUSD,
		fillTimeoutMs:  fillTimeoutMs,
		logger:         logger.With(slog.String("component", "executor")),
		openUSD:        make(map[string]float64),
	}
}

// Execute places an order for the signal, buying tradeSizeUSD worth of shares
// at the signal's ask. The returned result distinguishes fill, timeout, and
// rejection; err is reserved for transport failures.
func (e *Executor) Execute(ctx context.Context, sig domain.Signal, tradeSizeUSD float64) (domain.OrderResult, error) {
	log := e.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("asset", sig.Asset),
		slog.String("market_id", sig.MarketID),
		slog.String("direction", string(sig.Direction)),
	)

	if e.dedup.Seen(sig.ID) {
		log.Debug("signal deduplicated, skipping")
		return domain.OrderResult{Message: "duplicate signal"}, nil
	}
	e.maybeCleanup()

	if sig.SharePriceAtSignal <= 0 {
		return domain.OrderResult{}, fmt.Errorf("executor: signal %s has no share price", sig.ID)
	}
	shares := tradeSizeUSD / sig.SharePriceAtSignal

	if err := e.reserve(sig.Asset, tradeSizeUSD); err != nil {
		log.Warn("exposure guard rejected entry",
			slog.Float64("trade_size_usd", tradeSizeUSD),
			slog.Float64("max_exposure_usd", e.maxExposureUSD),
		)
		return domain.OrderResult{}, err
	}

	req := domain.OrderRequest{
		// Stable client order ID derived from the signal: a retry after a
		// dropped acknowledgment reuses it and cannot double-fill.
		ClientOrderID: "ud-" + sig.ID,
		MarketID:      sig.MarketID,
		Side:          sig.Direction,
		LimitPrice:    sig.SharePriceAtSignal,
		Shares:        shares,
		TimeoutMs:     e.fillTimeoutMs,
		CreatedAt:     time.Now().UTC(),
	}

	result, err := e.placer.PlaceOrder(ctx, req)
	if err != nil || !result.Filled {
		e.release(sig.Asset, tradeSizeUSD)
	}
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: place order: %w", err)
	}

	if result.Filled {
		// The guard holds the requested notional; rebase it onto the actual
		// fill cost so the release at exit (entry price times shares) zeroes
		// it out even after price improvement.
		e.rebase(sig.Asset, tradeSizeUSD, result.FilledPrice*result.FilledShares)
		log.Info("order filled",
			slog.String("order_id", result.OrderID),
			slog.String("kind", string(result.Kind)),
			slog.Float64("price", result.FilledPrice),
			slog.Float64("shares", result.FilledShares),
			slog.Float64("fee_usd", result.FeeUSD),
		)
	} else if result.TimedOut {
		log.Warn("fill timed out", slog.String("order_id", result.OrderID))
	}
	return result, nil
}

// PlaceHedge places a hedge order directly, bypassing dedup and the exposure
// guard: closing unpaired exposure reduces risk, it never adds to it.
func (e *Executor) PlaceHedge(ctx context.Context, intent domain.HedgeIntent) (domain.OrderResult, error) {
	req := domain.OrderRequest{
		ClientOrderID: fmt.Sprintf("hd-%s-%d", intent.ID, intent.Attempts),
		MarketID:      intent.MarketID,
		Side:          intent.SideNotHedged,
		LimitPrice:    intent.LimitPrice,
		Shares:        intent.IntendedQty,
		TimeoutMs:     e.fillTimeoutMs,
		CreatedAt:     time.Now().UTC(),
	}
	result, err := e.placer.PlaceOrder(ctx, req)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: place hedge: %w", err)
	}
	return result, nil
}

// ReleaseExposure returns entry notional to the guard when a position exits.
func (e *Executor) ReleaseExposure(asset string, usd float64) {
	e.release(asset, usd)
}

func (e *Executor) reserve(asset string, usd float64) error {
	if e.maxExposureUSD <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.openUSD[asset]+usd > e.maxExposureUSD {
		return fmt.Errorf("executor: %s open %.2f + %.2f: %w",
			asset, e.openUSD[asset], usd, domain.ErrExposureExceeded)
	}
	e.openUSD[asset] += usd
	return nil
}

// rebase swaps a reservation for the amount actually spent.
func (e *Executor) rebase(asset string, reserved, actual float64) {
	if e.maxExposureUSD <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openUSD[asset] += actual - reserved
	if e.openUSD[asset] < 0 {
		e.openUSD[asset] = 0
	}
}

func (e *Executor) release(asset string, usd float64) {
	if e.maxExposureUSD <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openUSD[asset] -= usd
	if e.openUSD[asset] < 0 {
		e.openUSD[asset] = 0
	}
}

func (e *Executor) maybeCleanup() {
	e.mu.Lock()
	due := time.Since(e.lastScan) > 30*time.Second
	if due {
		e.lastScan = time.Now()
	}
	e.mu.Unlock()
	if due {
		if removed := e.dedup.Sweep(); removed > 0 {
			e.logger.Debug("dedup swept", slog.Int("entries", removed))
		}
	}
}
