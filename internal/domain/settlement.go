package domain

import "time"

// MarketResolved is the asynchronous resolution event delivered when a
// market's outcome is known.
type MarketResolved struct {
	MarketID    string
	WinningSide MarketSide
	ResolvedAt  time.Time
}

// OutcomeClass categorizes how a market played out for the run.
type OutcomeClass string

const (
	OutcomeFullyHedgedArb OutcomeClass = "fully_hedged_arbitrage"
	OutcomePartialHedge   OutcomeClass = "partially_hedged"
	OutcomeUnhedgedLoss   OutcomeClass = "unhedged_loss"
	OutcomeNoInventory    OutcomeClass = "no_inventory"
)

// DriftSeverity flags disagreement between local paired shares and externally
// observed shares, for out-of-band reconciliation.
type DriftSeverity string

const (
	DriftNone     DriftSeverity = "none"
	DriftMinor    DriftSeverity = "minor"
	DriftCritical DriftSeverity = "critical"
)

// SettlementResult is created exactly once per market; all positions
// referencing the market become immutable afterwards. PayoutPerShare is 1 for
// the winning side's holders and 0 for the losing side's.
type SettlementResult struct {
	MarketID       string
	WinningSide    MarketSide
	PayoutPerShare float64
	RealizedPnL    float64
	Classification OutcomeClass
	Drift          DriftSeverity
	SettledAt      time.Time
}
