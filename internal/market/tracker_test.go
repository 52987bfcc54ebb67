package market

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyflow/updown/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testWindow(asset string, expiresAt time.Time) domain.MarketWindow {
	return domain.MarketWindow{
		ID:        domain.WindowID(asset, 65000, expiresAt),
		Asset:     asset,
		Strike:    65000,
		OpensAt:   expiresAt.Add(-time.Hour),
		ExpiresAt: expiresAt,
	}
}

func TestTracker_ReadinessLatches(t *testing.T) {
	now := time.Now()
	tr := NewTracker(testLogger())
	w := testWindow("BTC", now.Add(10*time.Minute))
	tr.OpenWindow(w)

	book, ok := tr.Active("BTC", now)
	require.True(t, ok)
	assert.False(t, book.Ready)

	book, applied := tr.ApplyQuote(domain.QuoteUpdate{
		Asset: "BTC", MarketID: w.ID, Side: domain.MarketSideUp,
		BestBid: 0.38, BestAsk: 0.40, DepthAtBest: 500, Timestamp: now,
	}, now)
	require.True(t, applied)
	assert.False(t, book.Ready, "one quoted side is not ready")

	book, applied = tr.ApplyQuote(domain.QuoteUpdate{
		Asset: "BTC", MarketID: w.ID, Side: domain.MarketSideDown,
		BestBid: 0.58, BestAsk: 0.60, DepthAtBest: 300, Timestamp: now,
	}, now)
	require.True(t, applied)
	assert.True(t, book.Ready)
	assert.Equal(t, 0.40, book.Up.BestAsk)
	assert.Equal(t, 0.60, book.Down.BestAsk)
}

func TestTracker_IgnoresQuoteForInactiveMarket(t *testing.T) {
	now := time.Now()
	tr := NewTracker(testLogger())
	w := testWindow("BTC", now.Add(10*time.Minute))
	tr.OpenWindow(w)

	_, applied := tr.ApplyQuote(domain.QuoteUpdate{
		Asset: "BTC", MarketID: "BTC-99999.00-0", Side: domain.MarketSideUp,
		BestBid: 0.38, BestAsk: 0.40, Timestamp: now,
	}, now)
	assert.False(t, applied)

	_, applied = tr.ApplyQuote(domain.QuoteUpdate{
		Asset: "ETH", MarketID: w.ID, Side: domain.MarketSideUp,
		BestBid: 0.38, BestAsk: 0.40, Timestamp: now,
	}, now)
	assert.False(t, applied)
}

func TestTracker_ExpiryDiscardsWindow(t *testing.T) {
	now := time.Now()
	tr := NewTracker(testLogger())
	w := testWindow("BTC", now.Add(time.Minute))
	tr.OpenWindow(w)

	after := now.Add(2 * time.Minute)
	_, ok := tr.Active("BTC", after)
	assert.False(t, ok)

	// A quote for the expired window is dropped too.
	_, applied := tr.ApplyQuote(domain.QuoteUpdate{
		Asset: "BTC", MarketID: w.ID, Side: domain.MarketSideUp,
		BestBid: 0.38, BestAsk: 0.40, Timestamp: after,
	}, after)
	assert.False(t, applied)
}

func TestTracker_OpenWindowReplacesPrevious(t *testing.T) {
	now := time.Now()
	tr := NewTracker(testLogger())
	w1 := testWindow("BTC", now.Add(5*time.Minute))
	tr.OpenWindow(w1)
	w2 := testWindow("BTC", now.Add(20*time.Minute))
	tr.OpenWindow(w2)

	book, ok := tr.Active("BTC", now)
	require.True(t, ok)
	assert.Equal(t, w2.ID, book.Window.ID)

	_, ok = tr.ByMarketID(w1.ID)
	assert.False(t, ok)
}

func TestTracker_ExpireDue(t *testing.T) {
	now := time.Now()
	tr := NewTracker(testLogger())
	wBTC := testWindow("BTC", now.Add(time.Minute))
	wETH := testWindow("ETH", now.Add(time.Hour))
	tr.OpenWindow(wBTC)
	tr.OpenWindow(wETH)

	expired := tr.ExpireDue(now.Add(5 * time.Minute))
	assert.Equal(t, []string{wBTC.ID}, expired)

	_, ok := tr.Active("ETH", now.Add(5*time.Minute))
	assert.True(t, ok)
	assert.Empty(t, tr.ExpireDue(now.Add(5*time.Minute)))
}
