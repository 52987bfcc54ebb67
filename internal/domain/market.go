package domain

import (
	"fmt"
	"time"
)

// MarketSide identifies one leg of a complementary binary-outcome pair.
type MarketSide string

const (
	MarketSideUp   MarketSide = "UP"
	MarketSideDown MarketSide = "DOWN"
)

// Opposite returns the complementary side.
func (s MarketSide) Opposite() MarketSide {
	if s == MarketSideUp {
		return MarketSideDown
	}
	return MarketSideUp
}

// Valid reports whether s is a recognized side.
func (s MarketSide) Valid() bool {
	return s == MarketSideUp || s == MarketSideDown
}

// MarketWindow identifies one tradeable market: an asset, a strike price, and
// a fixed expiry. Only one window per asset is active at a time.
type MarketWindow struct {
	ID        string
	Asset     string
	Strike    float64
	OpensAt   time.Time
	ExpiresAt time.Time
}

// WindowID builds the canonical market identifier for an asset/strike/expiry triple.
func WindowID(asset string, strike float64, expiresAt time.Time) string {
	return fmt.Sprintf("%s-%.2f-%d", asset, strike, expiresAt.Unix())
}

// SecondsRemaining returns the time left until expiry, negative once expired.
func (w MarketWindow) SecondsRemaining(now time.Time) float64 {
	return w.ExpiresAt.Sub(now).Seconds()
}

// Expired reports whether the window's expiry has passed.
func (w MarketWindow) Expired(now time.Time) bool {
	return !now.Before(w.ExpiresAt)
}

// QuoteUpdate is a single best-bid/ask observation for one side of a market.
type QuoteUpdate struct {
	Asset       string
	MarketID    string
	Side        MarketSide
	BestBid     float64
	BestAsk     float64
	DepthAtBest float64
	Timestamp   time.Time
}

// BookTop holds the latest top-of-book for one side of a market.
type BookTop struct {
	BestBid     float64
	BestAsk     float64
	DepthAtBest float64
	UpdatedAt   time.Time
}

// HasQuote reports whether any quote has been observed for this side.
func (t BookTop) HasQuote() bool {
	return !t.UpdatedAt.IsZero()
}

// MarketBook is the tracked state of the active market window for an asset:
// top-of-book for both sides plus the readiness latch. Ready transitions
// false→true once both sides have a quote and never reverts within the same
// window's lifetime.
type MarketBook struct {
	Window MarketWindow
	Up     BookTop
	Down   BookTop
	Ready  bool
}

// Top returns the book top for the given side.
func (b MarketBook) Top(side MarketSide) BookTop {
	if side == MarketSideUp {
		return b.Up
	}
	return b.Down
}
