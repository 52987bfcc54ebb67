// Package settle applies market resolution events to open inventory and
// positions, exactly once per market.
package settle

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/polyflow/updown/internal/domain"
)

// PositionSettler preempts open positions for a resolved market. Satisfied
// by *position.Manager.
type PositionSettler interface {
	Settle(ctx context.Context, marketID string, winningSide domain.MarketSide, at time.Time) []domain.Position
}

// InventorySource exposes per-market paired inventory. Satisfied by
// *hedge.Engine.
type InventorySource interface {
	Inventory(marketID string) (domain.PairedInventory, bool)
	DropMarket(marketID string)
}

// ResultFunc observes each settlement result exactly once.
type ResultFunc func(ctx context.Context, res domain.SettlementResult)

// driftMinorShares is the share disagreement below which drift is flagged
// minor rather than critical.
const driftMinorShares = 1.0

// Settler applies resolution events. A second event for the same market is a
// no-op; drift between local and externally observed shares is flagged but
// never blocks settlement.
type Settler struct {
	positions PositionSettler
	inventory InventorySource
	onResult  ResultFunc
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	settled map[string]domain.SettlementResult
}

func NewSettler(positions PositionSettler, inventory InventorySource, onResult ResultFunc, logger *slog.Logger) *Settler {
	return &Settler{
		positions: positions,
		inventory: inventory,
		onResult:  onResult,
		logger:    logger.With(slog.String("component", "settler")),
		now:       time.Now,
		settled:   make(map[string]domain.SettlementResult),
	}
}

// SetClock overrides the time source. Used by tests.
func (s *Settler) SetClock(now func() time.Time) { s.now = now }

// Apply settles the market named by the event. ObservedShares carries the
// externally reported holding for drift detection; pass a negative value
// when no external view is available. Returns the result and whether this
// call performed the settlement (false for duplicates).
func (s *Settler) Apply(ctx context.Context, ev domain.MarketResolved, observedShares float64) (domain.SettlementResult, bool) {
	s.mu.Lock()
	if prior, ok := s.settled[ev.MarketID]; ok {
		s.mu.Unlock()
		s.logger.Debug("duplicate resolution ignored", slog.String("market_id", ev.MarketID))
		return prior, false
	}
	// Reserve the slot before releasing the lock so a concurrent duplicate
	// cannot settle the same market twice.
	s.settled[ev.MarketID] = domain.SettlementResult{MarketID: ev.MarketID}
	s.mu.Unlock()

	at := ev.ResolvedAt
	if at.IsZero() {
		at = s.now()
	}

	inv, hasInv := s.inventory.Inventory(ev.MarketID)
	settledPositions := s.positions.Settle(ctx, ev.MarketID, ev.WinningSide, at)

	const payoutPerShare = 1.0
	var realized, carriedWinShares, carriedCost float64
	for _, p := range settledPositions {
		realized += p.PnLNet
		if p.Side == ev.WinningSide {
			carriedWinShares += p.FilledShares
		}
		carriedCost += p.EntryCost()
	}
	// Shares acquired through hedge fills have no position of their own, so
	// the inventory remainder beyond what the positions carried settles here:
	// payout on the winning side's excess minus its residual cost basis.
	if hasInv && !inv.Empty() {
		winShares := inv.UpShares
		if ev.WinningSide == domain.MarketSideDown {
			winShares = inv.DownShares
		}
		residualShares := math.Max(0, winShares-carriedWinShares)
		residualCost := math.Max(0, inv.TotalCost()-carriedCost)
		realized += residualShares*payoutPerShare - residualCost
	}

	res := domain.SettlementResult{
		MarketID:       ev.MarketID,
		WinningSide:    ev.WinningSide,
		PayoutPerShare: payoutPerShare,
		RealizedPnL:    realized,
		Classification: classify(inv, hasInv, ev.WinningSide),
		Drift:          driftSeverity(inv, hasInv, observedShares),
		SettledAt:      at,
	}

	s.mu.Lock()
	s.settled[ev.MarketID] = res
	s.mu.Unlock()

	s.logger.Info("market settled",
		slog.String("market_id", ev.MarketID),
		slog.String("winning_side", string(ev.WinningSide)),
		slog.String("classification", string(res.Classification)),
		slog.String("drift", string(res.Drift)),
		slog.Float64("realized_pnl", res.RealizedPnL),
		slog.Int("positions", len(settledPositions)),
	)

	s.inventory.DropMarket(ev.MarketID)
	if s.onResult != nil {
		s.onResult(ctx, res)
	}
	return res, true
}

// Result returns the recorded settlement for a market, if any.
func (s *Settler) Result(marketID string) (domain.SettlementResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.settled[marketID]
	return res, ok && res.SettledAt != (time.Time{})
}

// classify buckets the market outcome by hedge completeness at resolution.
func classify(inv domain.PairedInventory, hasInv bool, winner domain.MarketSide) domain.OutcomeClass {
	if !hasInv || inv.Empty() {
		return domain.OutcomeNoInventory
	}
	switch {
	case inv.UnpairedShares() == 0 && inv.IsArbitrage():
		return domain.OutcomeFullyHedgedArb
	case inv.PairedShares() > 0:
		return domain.OutcomePartialHedge
	default:
		// Single-sided holding: a loss unless the held side won.
		if inv.UnpairedSide() == winner {
			return domain.OutcomePartialHedge
		}
		return domain.OutcomeUnhedgedLoss
	}
}

// driftSeverity compares local paired shares against the externally observed
// holding. observedShares < 0 means no external view.
func driftSeverity(inv domain.PairedInventory, hasInv bool, observedShares float64) domain.DriftSeverity {
	if observedShares < 0 {
		return domain.DriftNone
	}
	local := 0.0
	if hasInv {
		local = inv.UpShares + inv.DownShares
	}
	diff := math.Abs(local - observedShares)
	switch {
	case diff == 0:
		return domain.DriftNone
	case diff < driftMinorShares:
		return domain.DriftMinor
	default:
		return domain.DriftCritical
	}
}
