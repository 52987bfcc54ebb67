package domain

import "math"

// PairedInventory aggregates UP/DOWN inventory for one market. Because every
// UP share pays $1 exactly when every DOWN share pays $0 (and vice versa),
// the paired portion min(up, down) has a settlement value fixed at $1 per
// pair regardless of outcome; buying a pair below $1 combined is a locked-in
// profit. The struct is recomputed from fills, never mutated in place.
type PairedInventory struct {
	MarketID    string
	UpShares    float64
	UpAvgCost   float64
	DownShares  float64
	DownAvgCost float64
}

// ApplyFill returns a new inventory with the fill folded into the side's
// average cost.
func (inv PairedInventory) ApplyFill(side MarketSide, shares, price float64) PairedInventory {
	if shares <= 0 {
		return inv
	}
	switch side {
	case MarketSideUp:
		total := inv.UpShares + shares
		inv.UpAvgCost = (inv.UpAvgCost*inv.UpShares + price*shares) / total
		inv.UpShares = total
	case MarketSideDown:
		total := inv.DownShares + shares
		inv.DownAvgCost = (inv.DownAvgCost*inv.DownShares + price*shares) / total
		inv.DownShares = total
	}
	return inv
}

// ReduceShares returns a new inventory with shares removed from the side,
// clamped at zero. Average cost is left untouched so the remaining holding
// keeps its entry basis.
func (inv PairedInventory) ReduceShares(side MarketSide, shares float64) PairedInventory {
	if shares <= 0 {
		return inv
	}
	switch side {
	case MarketSideUp:
		inv.UpShares = math.Max(0, inv.UpShares-shares)
		if inv.UpShares == 0 {
			inv.UpAvgCost = 0
		}
	case MarketSideDown:
		inv.DownShares = math.Max(0, inv.DownShares-shares)
		if inv.DownShares == 0 {
			inv.DownAvgCost = 0
		}
	}
	return inv
}

// PairedShares is the number of fully hedged UP+DOWN pairs held.
func (inv PairedInventory) PairedShares() float64 {
	return math.Min(inv.UpShares, inv.DownShares)
}

// UnpairedShares is the absolute one-sided excess.
func (inv PairedInventory) UnpairedShares() float64 {
	return math.Abs(inv.UpShares - inv.DownShares)
}

// UnpairedSide returns the side holding the excess, or "" when balanced.
func (inv PairedInventory) UnpairedSide() MarketSide {
	switch {
	case inv.UpShares > inv.DownShares:
		return MarketSideUp
	case inv.DownShares > inv.UpShares:
		return MarketSideDown
	}
	return ""
}

// CombinedEntry is the cost-per-pair: average UP cost plus average DOWN cost.
func (inv PairedInventory) CombinedEntry() float64 {
	return inv.UpAvgCost + inv.DownAvgCost
}

// IsArbitrage reports whether the paired portion was acquired below the $1
// settlement payout.
func (inv PairedInventory) IsArbitrage() bool {
	return inv.PairedShares() > 0 && inv.CombinedEntry() < 1
}

// GuaranteedProfit is the locked-in profit on the paired portion only.
// Zero when the combined entry is at or above $1.
func (inv PairedInventory) GuaranteedProfit() float64 {
	if !inv.IsArbitrage() {
		return 0
	}
	return inv.PairedShares() * (1 - inv.CombinedEntry())
}

// TotalCost is the full notional paid across both sides.
func (inv PairedInventory) TotalCost() float64 {
	return inv.UpShares*inv.UpAvgCost + inv.DownShares*inv.DownAvgCost
}

// ProfitIfWins is the settlement P&L if the given side pays out $1:
// payout on that side's full holding minus the total cost of both sides.
func (inv PairedInventory) ProfitIfWins(side MarketSide) float64 {
	var payout float64
	switch side {
	case MarketSideUp:
		payout = inv.UpShares
	case MarketSideDown:
		payout = inv.DownShares
	}
	return payout - inv.TotalCost()
}

// Empty reports whether no shares are held on either side.
func (inv PairedInventory) Empty() bool {
	return inv.UpShares == 0 && inv.DownShares == 0
}
