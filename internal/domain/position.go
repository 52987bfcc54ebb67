package domain

import "time"

// PositionState tracks the position lifecycle. Terminal states are never left.
type PositionState string

const (
	PositionPendingFill    PositionState = "PENDING_FILL"
	PositionFilled         PositionState = "FILLED"
	PositionMonitoring     PositionState = "MONITORING"
	PositionSoldTP         PositionState = "SOLD_TP"
	PositionSoldSL         PositionState = "SOLD_SL"
	PositionExpiredTimeout PositionState = "EXPIRED_TIMEOUT"
	PositionSettledWin     PositionState = "SETTLED_WIN"
	PositionSettledLoss    PositionState = "SETTLED_LOSS"
	PositionFailed         PositionState = "FAILED"
)

// Terminal reports whether the state admits no further transitions.
func (s PositionState) Terminal() bool {
	switch s {
	case PositionSoldTP, PositionSoldSL, PositionExpiredTimeout,
		PositionSettledWin, PositionSettledLoss, PositionFailed:
		return true
	}
	return false
}

// ExitReason is the closed set of ways a position leaves MONITORING.
type ExitReason string

const (
	ExitNone       ExitReason = ""
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTimeout    ExitReason = "timeout"
	ExitSettlement ExitReason = "settlement"
	ExitFailure    ExitReason = "failure"
)

// Position is one traded opportunity, owned exclusively by the position
// manager and mutated only through state-machine transitions.
type Position struct {
	SignalID        string
	Asset           string
	MarketID        string
	Side            MarketSide
	RequestedShares float64
	FilledShares    float64
	EntryPrice      float64
	EntryFeeUSD     float64
	ExitPrice       float64
	ExitFeeUSD      float64
	ExitReason      ExitReason
	State           PositionState
	FailReason      string
	PnLGross        float64
	PnLNet          float64
	SignalAt        time.Time
	FilledAt        time.Time
	ExitedAt        time.Time
}

// EntryCost is the notional paid at entry, excluding fees.
func (p Position) EntryCost() float64 {
	return p.EntryPrice * p.FilledShares
}

// ApplyExit computes gross and net P&L for a single-sided exit at price.
func (p *Position) ApplyExit(price, feeUSD float64, reason ExitReason, at time.Time) {
	p.ExitPrice = price
	p.ExitFeeUSD = feeUSD
	p.ExitReason = reason
	p.ExitedAt = at
	p.PnLGross = (price - p.EntryPrice) * p.FilledShares
	p.PnLNet = p.PnLGross - p.EntryFeeUSD - p.ExitFeeUSD
}

// ApplySettlement computes P&L from a terminal payout per share.
func (p *Position) ApplySettlement(payoutPerShare float64, at time.Time) {
	p.ExitPrice = payoutPerShare
	p.ExitReason = ExitSettlement
	p.ExitedAt = at
	p.PnLGross = payoutPerShare*p.FilledShares - p.EntryCost()
	p.PnLNet = p.PnLGross - p.EntryFeeUSD
}
