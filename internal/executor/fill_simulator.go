// Package executor converts accepted signals into priced fills, either
// through the fill simulator or a real venue client, applying the fee/rebate
// schedule and latency.
package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/polyflow/updown/internal/domain"
)

// OrderPlacer is the abstract execution interface. "Placing an order" means
// invoking this; implementations are the simulator or a real venue client.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error)
}

// BookLookup resolves a market ID to its current tracked book.
type BookLookup interface {
	ByMarketID(marketID string) (domain.MarketBook, bool)
}

// SimVenue simulates fills against the tracked book. Maker/taker is decided
// by whether the limit would cross the spread; fills complete after the
// configured latency, or time out when latency exceeds the request timeout.
// Placement is idempotent on ClientOrderID, mirroring the live venue.
type SimVenue struct {
	books   BookLookup
	fees    FeeSchedule
	latency time.Duration
	logger  *slog.Logger

	// makerFills decides whether a resting order gets taken before timeout.
	// Overridable in tests; defaults to always filling.
	makerFills func(req domain.OrderRequest) bool

	mu     sync.Mutex
	placed map[string]domain.OrderResult // clientOrderID -> result
}

// NewSimVenue creates a fill simulator.
func NewSimVenue(books BookLookup, fees FeeSchedule, latency time.Duration, logger *slog.Logger) *SimVenue {
	return &SimVenue{
		books:      books,
		fees:       fees,
		latency:    latency,
		logger:     logger.With(slog.String("component", "fill_simulator")),
		makerFills: func(domain.OrderRequest) bool { return true },
		placed:     make(map[string]domain.OrderResult),
	}
}

// SetMakerFillFunc overrides the maker fill decision. Used by tests.
func (v *SimVenue) SetMakerFillFunc(fn func(domain.OrderRequest) bool) {
	v.makerFills = fn
}

// PlaceOrder implements OrderPlacer. A repeated ClientOrderID returns the
// original result without filling again.
func (v *SimVenue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	v.mu.Lock()
	if prev, ok := v.placed[req.ClientOrderID]; ok {
		v.mu.Unlock()
		return prev, nil
	}
	v.mu.Unlock()

	book, ok := v.books.ByMarketID(req.MarketID)
	if !ok {
		return v.remember(req.ClientOrderID, domain.OrderResult{
			OrderID: "sim-" + req.ClientOrderID,
			Message: "market not active",
		}), nil
	}
	top := book.Top(req.Side)

	kind := v.fees.Classify(req.LimitPrice, top.BestAsk)

	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout > 0 && v.latency >= timeout {
		// The fill never arrived inside the window: no shares, no cost.
		res := domain.OrderResult{
			OrderID:  "sim-" + req.ClientOrderID,
			TimedOut: true,
			Kind:     kind,
		}
		return v.remember(req.ClientOrderID, res), nil
	}

	if v.latency > 0 {
		select {
		case <-ctx.Done():
			return domain.OrderResult{}, ctx.Err()
		case <-time.After(v.latency):
		}
	}

	price := req.LimitPrice
	if kind == domain.FillKindTaker && top.BestAsk > 0 && top.BestAsk < price {
		price = top.BestAsk
	}
	if kind == domain.FillKindMaker && !v.makerFills(req) {
		res := domain.OrderResult{
			OrderID:  "sim-" + req.ClientOrderID,
			TimedOut: true,
			Kind:     kind,
		}
		return v.remember(req.ClientOrderID, res), nil
	}

	notional := price * req.Shares
	res := domain.OrderResult{
		OrderID:      "sim-" + req.ClientOrderID,
		Filled:       true,
		FilledShares: req.Shares,
		FilledPrice:  price,
		FeeUSD:       v.fees.FeeUSD(kind, notional),
		Kind:         kind,
	}
	v.logger.Debug("simulated fill",
		slog.String("client_order_id", req.ClientOrderID),
		slog.String("market_id", req.MarketID),
		slog.String("side", string(req.Side)),
		slog.String("kind", string(kind)),
		slog.Float64("price", price),
		slog.Float64("shares", req.Shares),
	)
	return v.remember(req.ClientOrderID, res), nil
}

func (v *SimVenue) remember(clientOrderID string, res domain.OrderResult) domain.OrderResult {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.placed[clientOrderID] = res
	return res
}
