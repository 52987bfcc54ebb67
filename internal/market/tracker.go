// Package market tracks the active market window per asset and maintains the
// latest top-of-book for the UP and DOWN tokens of that window.
package market

import (
	"log/slog"
	"sync"
	"time"

	"github.com/polyflow/updown/internal/domain"
)

// Tracker holds the active market per asset. A market is identified by
// (asset, strike, expiry); when a window's expiry passes its quotes are
// discarded and the asset has no active market until the next window opens.
type Tracker struct {
	logger *slog.Logger

	mu     sync.RWMutex
	active map[string]*domain.MarketBook // asset -> active window book
	byID   map[string]string             // marketID -> asset
}

// NewTracker creates an empty Tracker.
func NewTracker(logger *slog.Logger) *Tracker {
	return &Tracker{
		logger: logger.With(slog.String("component", "market_tracker")),
		active: make(map[string]*domain.MarketBook),
		byID:   make(map[string]string),
	}
}

// OpenWindow installs a new active window for the asset, replacing any
// previous one. Readiness starts false and latches true on the first update
// that leaves both sides quoted.
func (t *Tracker) OpenWindow(w domain.MarketWindow) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.active[w.Asset]; ok {
		delete(t.byID, prev.Window.ID)
	}
	t.active[w.Asset] = &domain.MarketBook{Window: w}
	t.byID[w.ID] = w.Asset
	t.logger.Info("market window opened",
		slog.String("asset", w.Asset),
		slog.String("market_id", w.ID),
		slog.Float64("strike", w.Strike),
		slog.Time("expires_at", w.ExpiresAt),
	)
}

// ApplyQuote updates the top-of-book for one side of the active market. The
// update is ignored when the market is not the active window for its asset or
// the window has expired. Returns the updated book and true when applied.
func (t *Tracker) ApplyQuote(q domain.QuoteUpdate, now time.Time) (domain.MarketBook, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	book, ok := t.active[q.Asset]
	if !ok || book.Window.ID != q.MarketID {
		return domain.MarketBook{}, false
	}
	if book.Window.Expired(now) {
		t.expireLocked(q.Asset)
		return domain.MarketBook{}, false
	}

	top := domain.BookTop{
		BestBid:     q.BestBid,
		BestAsk:     q.BestAsk,
		DepthAtBest: q.DepthAtBest,
		UpdatedAt:   q.Timestamp,
	}
	if top.UpdatedAt.IsZero() {
		top.UpdatedAt = now
	}
	if q.Side == domain.MarketSideUp {
		book.Up = top
	} else {
		book.Down = top
	}

	// Readiness latches: quotes may go stale later but the market never
	// becomes un-ready within the same window.
	if !book.Ready && book.Up.HasQuote() && book.Down.HasQuote() {
		book.Ready = true
		t.logger.Info("market ready",
			slog.String("asset", q.Asset),
			slog.String("market_id", q.MarketID),
		)
	}
	return *book, true
}

// Active returns the active book for the asset, expiring it first if needed.
func (t *Tracker) Active(asset string, now time.Time) (domain.MarketBook, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	book, ok := t.active[asset]
	if !ok {
		return domain.MarketBook{}, false
	}
	if book.Window.Expired(now) {
		t.expireLocked(asset)
		return domain.MarketBook{}, false
	}
	return *book, true
}

// ByMarketID resolves a market ID to its book, regardless of expiry. Used by
// settlement, which may arrive after the window has been discarded.
func (t *Tracker) ByMarketID(marketID string) (domain.MarketBook, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	asset, ok := t.byID[marketID]
	if !ok {
		return domain.MarketBook{}, false
	}
	book, ok := t.active[asset]
	if !ok || book.Window.ID != marketID {
		return domain.MarketBook{}, false
	}
	return *book, true
}

// ExpireDue discards quote state for every window whose expiry has passed.
// Returns the IDs of the markets discarded.
func (t *Tracker) ExpireDue(now time.Time) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []string
	for asset, book := range t.active {
		if book.Window.Expired(now) {
			expired = append(expired, book.Window.ID)
			t.expireLocked(asset)
		}
	}
	return expired
}

func (t *Tracker) expireLocked(asset string) {
	book, ok := t.active[asset]
	if !ok {
		return
	}
	delete(t.byID, book.Window.ID)
	delete(t.active, asset)
	t.logger.Info("market window expired",
		slog.String("asset", asset),
		slog.String("market_id", book.Window.ID),
	)
}
