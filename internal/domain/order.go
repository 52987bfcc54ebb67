package domain

import "time"

// FillKind distinguishes how an order interacted with the book.
type FillKind string

const (
	// FillKindMaker rested in the book and may earn a rebate.
	FillKindMaker FillKind = "maker"
	// FillKindTaker crossed the spread immediately and pays the taker fee.
	FillKindTaker FillKind = "taker"
)

// OrderRequest is a request to the execution interface. ClientOrderID is a
// stable client-assigned identifier: retrying the same request after a
// dropped acknowledgment must not double-fill.
type OrderRequest struct {
	ClientOrderID string
	MarketID      string
	Side          MarketSide
	LimitPrice    float64
	Shares        float64
	TimeoutMs     int64
	CreatedAt     time.Time
}

// OrderResult is the venue's (or simulator's) response to an OrderRequest.
type OrderResult struct {
	OrderID      string
	Filled       bool
	TimedOut     bool
	FilledShares float64
	FilledPrice  float64
	FeeUSD       float64
	Kind         FillKind
	Message      string
}

// Fill is the normalized record of a completed execution, consumed by the
// position manager and the pairing engine.
type Fill struct {
	OrderID   string
	SignalID  string
	MarketID  string
	Asset     string
	Side      MarketSide
	Shares    float64
	Price     float64
	FeeUSD    float64
	Kind      FillKind
	Hedge     bool // true when the fill came from a hedge intent
	Timestamp time.Time
}

// Notional is the USD value of the fill, excluding fees.
func (f Fill) Notional() float64 {
	return f.Price * f.Shares
}
