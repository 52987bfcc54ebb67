package domain

import "time"

// HedgeStatus tracks a hedge intent's lifecycle. Terminal on fill, timeout,
// or explicit abort.
type HedgeStatus string

const (
	HedgeStatusPending HedgeStatus = "pending"
	HedgeStatusFilled  HedgeStatus = "filled"
	HedgeStatusAborted HedgeStatus = "aborted"
)

// HedgeSkipReason codes why a hedge was abandoned rather than retried.
type HedgeSkipReason string

const (
	HedgeSkipNone             HedgeSkipReason = ""
	HedgeSkipNoLiquidity      HedgeSkipReason = "no_liquidity"
	HedgeSkipPriceOutOfBounds HedgeSkipReason = "price_outside_bounds"
	HedgeSkipCooldown         HedgeSkipReason = "cooldown"
)

// HedgeIntent is issued when unpaired exposure must be closed before expiry.
// Panic marks an emergency hedge that accepts materially worse pricing to
// avoid an unhedged loss at settlement.
type HedgeIntent struct {
	ID            string
	MarketID      string
	SideNotHedged MarketSide
	IntendedQty   float64
	LimitPrice    float64
	Panic         bool
	Status        HedgeStatus
	AbortReason   HedgeSkipReason
	Attempts      int
	CreatedAt     time.Time
	ResolvedAt    time.Time
}
