package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPositionState_Terminal(t *testing.T) {
	terminal := []PositionState{
		PositionSoldTP, PositionSoldSL, PositionExpiredTimeout,
		PositionSettledWin, PositionSettledLoss, PositionFailed,
	}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []PositionState{PositionPendingFill, PositionFilled, PositionMonitoring} {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestPosition_ApplyExit(t *testing.T) {
	now := time.Now()
	p := Position{
		EntryPrice:   0.40,
		FilledShares: 125,
		EntryFeeUSD:  0.50,
	}
	p.ApplyExit(0.43, 0.25, ExitTakeProfit, now)

	assert.InDelta(t, 3.75, p.PnLGross, 1e-9) // 0.03 * 125
	assert.InDelta(t, 3.00, p.PnLNet, 1e-9)
	assert.Equal(t, ExitTakeProfit, p.ExitReason)
	assert.Equal(t, 0.43, p.ExitPrice)
	assert.Equal(t, now, p.ExitedAt)
}

func TestPosition_ApplyExitLoss(t *testing.T) {
	p := Position{EntryPrice: 0.40, FilledShares: 100, EntryFeeUSD: 0.40}
	p.ApplyExit(0.37, 0.37, ExitStopLoss, time.Now())

	assert.InDelta(t, -3.0, p.PnLGross, 1e-9)
	assert.InDelta(t, -3.77, p.PnLNet, 1e-9)
}

func TestPosition_ApplySettlementWin(t *testing.T) {
	p := Position{EntryPrice: 0.40, FilledShares: 100, EntryFeeUSD: 0.40}
	p.ApplySettlement(1, time.Now())

	assert.InDelta(t, 60.0, p.PnLGross, 1e-9)
	assert.InDelta(t, 59.6, p.PnLNet, 1e-9)
	assert.Equal(t, ExitSettlement, p.ExitReason)
}

func TestPosition_ApplySettlementLoss(t *testing.T) {
	p := Position{EntryPrice: 0.40, FilledShares: 100, EntryFeeUSD: 0.40}
	p.ApplySettlement(0, time.Now())

	assert.InDelta(t, -40.0, p.PnLGross, 1e-9)
	assert.InDelta(t, -40.4, p.PnLNet, 1e-9)
}

func TestPosition_EntryCost(t *testing.T) {
	p := Position{EntryPrice: 0.55, FilledShares: 90}
	assert.InDelta(t, 49.5, p.EntryCost(), 1e-9)
}
