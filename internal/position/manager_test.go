package position

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyflow/updown/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// transitionLog records every observed state change.
type transitionLog struct {
	mu     sync.Mutex
	states []domain.PositionState
}

func (l *transitionLog) record(_ context.Context, pos domain.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, pos.State)
}

func (l *transitionLog) all() []domain.PositionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.PositionState(nil), l.states...)
}

func takerFee(notional float64) float64 { return notional * 0.01 }

func testSignal(id string) domain.Signal {
	return domain.Signal{
		ID:        id,
		Asset:     "BTC",
		MarketID:  "BTC-65000.00-1",
		Direction: domain.MarketSideUp,
		CreatedAt: time.Now(),
	}
}

func filledResult() domain.OrderResult {
	return domain.OrderResult{
		OrderID:      "o-1",
		Filled:       true,
		FilledShares: 125,
		FilledPrice:  0.40,
		FeeUSD:       0.50,
		Kind:         domain.FillKindTaker,
	}
}

func exitParams() ExitParams {
	return ExitParams{
		TakeProfitEnabled: true,
		TakeProfitCents:   3,
		StopLossEnabled:   true,
		StopLossCents:     3,
	}
}

func TestManager_OpenIsPendingFill(t *testing.T) {
	m := NewManager(takerFee, nil, testLogger())

	pos, err := m.Open(context.Background(), testSignal("s-1"), 125)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionPendingFill, pos.State)
	assert.Equal(t, 125.0, pos.RequestedShares)
	assert.Equal(t, 0.0, pos.FilledShares)
}

func TestManager_OneNonTerminalPerSignal(t *testing.T) {
	m := NewManager(takerFee, nil, testLogger())

	_, err := m.Open(context.Background(), testSignal("s-1"), 125)
	require.NoError(t, err)
	_, err = m.Open(context.Background(), testSignal("s-1"), 125)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestManager_FillMovesToMonitoring(t *testing.T) {
	log := &transitionLog{}
	m := NewManager(takerFee, log.record, testLogger())

	_, err := m.Open(context.Background(), testSignal("s-1"), 125)
	require.NoError(t, err)

	pos, err := m.OnFillResult(context.Background(), "s-1", filledResult(), exitParams())
	require.NoError(t, err)
	assert.Equal(t, domain.PositionMonitoring, pos.State)
	assert.Equal(t, 125.0, pos.FilledShares)
	assert.Equal(t, 0.40, pos.EntryPrice)

	assert.Equal(t, []domain.PositionState{
		domain.PositionPendingFill,
		domain.PositionFilled,
		domain.PositionMonitoring,
	}, log.all())
}

func TestManager_TakeProfitFiresOnce(t *testing.T) {
	m := NewManager(takerFee, nil, testLogger())
	_, err := m.Open(context.Background(), testSignal("s-1"), 125)
	require.NoError(t, err)
	_, err = m.OnFillResult(context.Background(), "s-1", filledResult(), exitParams())
	require.NoError(t, err)

	// Bid reaches entry + 3c.
	m.OnQuote(context.Background(), "BTC-65000.00-1", domain.MarketSideUp,
		domain.BookTop{BestBid: 0.43, BestAsk: 0.45, UpdatedAt: time.Now()})

	pos, err := m.Get("s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionSoldTP, pos.State)
	assert.Equal(t, domain.ExitTakeProfit, pos.ExitReason)
	assert.InDelta(t, 3.75, pos.PnLGross, 1e-9)
	assert.InDelta(t, 3.75-0.50-0.5375, pos.PnLNet, 1e-9)

	// A stop-loss print afterwards must not reopen or re-exit.
	m.OnQuote(context.Background(), "BTC-65000.00-1", domain.MarketSideUp,
		domain.BookTop{BestBid: 0.30, BestAsk: 0.32, UpdatedAt: time.Now()})

	after, err := m.Get("s-1")
	require.NoError(t, err)
	assert.Equal(t, pos, after)
}

func TestManager_StopLossFires(t *testing.T) {
	m := NewManager(takerFee, nil, testLogger())
	_, err := m.Open(context.Background(), testSignal("s-1"), 125)
	require.NoError(t, err)
	_, err = m.OnFillResult(context.Background(), "s-1", filledResult(), exitParams())
	require.NoError(t, err)

	m.OnQuote(context.Background(), "BTC-65000.00-1", domain.MarketSideUp,
		domain.BookTop{BestBid: 0.37, BestAsk: 0.39, UpdatedAt: time.Now()})

	pos, err := m.Get("s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionSoldSL, pos.State)
	assert.Equal(t, domain.ExitStopLoss, pos.ExitReason)
	assert.InDelta(t, -3.75, pos.PnLGross, 1e-9)
}

func TestManager_QuoteForOtherSideIgnored(t *testing.T) {
	m := NewManager(takerFee, nil, testLogger())
	_, err := m.Open(context.Background(), testSignal("s-1"), 125)
	require.NoError(t, err)
	_, err = m.OnFillResult(context.Background(), "s-1", filledResult(), exitParams())
	require.NoError(t, err)

	m.OnQuote(context.Background(), "BTC-65000.00-1", domain.MarketSideDown,
		domain.BookTop{BestBid: 0.99, BestAsk: 1.0, UpdatedAt: time.Now()})

	pos, err := m.Get("s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionMonitoring, pos.State)
}

func TestManager_FillTimeoutTerminatesWithZeroShares(t *testing.T) {
	m := NewManager(takerFee, nil, testLogger())
	_, err := m.Open(context.Background(), testSignal("s-1"), 125)
	require.NoError(t, err)

	pos, err := m.OnFillResult(context.Background(), "s-1", domain.OrderResult{TimedOut: true}, exitParams())
	require.NoError(t, err)
	assert.Equal(t, domain.PositionExpiredTimeout, pos.State)
	assert.Equal(t, 0.0, pos.FilledShares)
	assert.Equal(t, 0.0, pos.PnLNet)
}

func TestManager_RejectionFails(t *testing.T) {
	m := NewManager(takerFee, nil, testLogger())
	_, err := m.Open(context.Background(), testSignal("s-1"), 125)
	require.NoError(t, err)

	pos, err := m.OnFillResult(context.Background(), "s-1", domain.OrderResult{Message: "market not active"}, exitParams())
	require.NoError(t, err)
	assert.Equal(t, domain.PositionFailed, pos.State)
	assert.Equal(t, "market not active", pos.FailReason)

	// The fill result is applied at most once.
	_, err = m.OnFillResult(context.Background(), "s-1", filledResult(), exitParams())
	assert.ErrorIs(t, err, domain.ErrTerminalState)
}

func TestManager_HoldTimeoutExitsAtLastBid(t *testing.T) {
	m := NewManager(takerFee, nil, testLogger())
	_, err := m.Open(context.Background(), testSignal("s-1"), 125)
	require.NoError(t, err)

	exits := exitParams()
	exits.HoldTimeout = 30 * time.Millisecond
	_, err = m.OnFillResult(context.Background(), "s-1", filledResult(), exits)
	require.NoError(t, err)

	// A bid between the triggers arrives, then the market goes quiet.
	m.OnQuote(context.Background(), "BTC-65000.00-1", domain.MarketSideUp,
		domain.BookTop{BestBid: 0.41, BestAsk: 0.43, UpdatedAt: time.Now()})

	require.Eventually(t, func() bool {
		pos, err := m.Get("s-1")
		return err == nil && pos.State == domain.PositionExpiredTimeout
	}, time.Second, 5*time.Millisecond)

	pos, err := m.Get("s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ExitTimeout, pos.ExitReason)
	assert.Equal(t, 0.41, pos.ExitPrice)
	assert.InDelta(t, 1.25, pos.PnLGross, 1e-9)
}

func TestManager_SettlePreemptsMonitoring(t *testing.T) {
	m := NewManager(takerFee, nil, testLogger())
	_, err := m.Open(context.Background(), testSignal("s-1"), 125)
	require.NoError(t, err)
	_, err = m.OnFillResult(context.Background(), "s-1", filledResult(), exitParams())
	require.NoError(t, err)

	at := time.Now()
	settled := m.Settle(context.Background(), "BTC-65000.00-1", domain.MarketSideDown, at)
	require.Len(t, settled, 1)
	assert.Equal(t, domain.PositionSettledLoss, settled[0].State)
	assert.InDelta(t, -50.0, settled[0].PnLGross, 1e-9) // full entry notional

	// Triggers are disarmed; a late TP print changes nothing.
	m.OnQuote(context.Background(), "BTC-65000.00-1", domain.MarketSideUp,
		domain.BookTop{BestBid: 0.43, BestAsk: 0.45, UpdatedAt: time.Now()})
	pos, err := m.Get("s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionSettledLoss, pos.State)
}

func TestManager_SettleWinPaysOut(t *testing.T) {
	m := NewManager(takerFee, nil, testLogger())
	_, err := m.Open(context.Background(), testSignal("s-1"), 125)
	require.NoError(t, err)
	_, err = m.OnFillResult(context.Background(), "s-1", filledResult(), exitParams())
	require.NoError(t, err)

	settled := m.Settle(context.Background(), "BTC-65000.00-1", domain.MarketSideUp, time.Now())
	require.Len(t, settled, 1)
	assert.Equal(t, domain.PositionSettledWin, settled[0].State)
	assert.InDelta(t, 75.0, settled[0].PnLGross, 1e-9) // 125 shares at $1 minus $50 entry
	assert.InDelta(t, 74.5, settled[0].PnLNet, 1e-9)
}

func TestManager_SettleSkipsPendingFill(t *testing.T) {
	m := NewManager(takerFee, nil, testLogger())
	_, err := m.Open(context.Background(), testSignal("s-1"), 125)
	require.NoError(t, err)

	settled := m.Settle(context.Background(), "BTC-65000.00-1", domain.MarketSideUp, time.Now())
	assert.Empty(t, settled)

	pos, err := m.Get("s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionPendingFill, pos.State)
}

func TestManager_LateFillAfterSettlementSettlesDirectly(t *testing.T) {
	// Settlement and cleanup run while the fill is still in flight. The
	// pending position must survive the drop and end terminal when the
	// result lands, paying out against the recorded winning side.
	log := &transitionLog{}
	m := NewManager(takerFee, log.record, testLogger())
	_, err := m.Open(context.Background(), testSignal("s-1"), 125)
	require.NoError(t, err)

	m.Settle(context.Background(), "BTC-65000.00-1", domain.MarketSideUp, time.Now())
	m.DropMarket("BTC-65000.00-1")

	pos, err := m.OnFillResult(context.Background(), "s-1", filledResult(), exitParams())
	require.NoError(t, err)
	assert.Equal(t, domain.PositionSettledWin, pos.State)
	assert.Equal(t, domain.ExitSettlement, pos.ExitReason)
	assert.InDelta(t, 74.5, pos.PnLNet, 1e-9) // 125*(1-0.40) - 0.50 entry fee

	states := log.all()
	require.NotEmpty(t, states)
	assert.True(t, states[len(states)-1].Terminal(), "record stream must end terminal")

	// The straggler resolved, so the market's state is reclaimed now.
	_, err = m.Get("s-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestManager_LateFillOnLosingSideSettlesAsLoss(t *testing.T) {
	m := NewManager(takerFee, nil, testLogger())
	_, err := m.Open(context.Background(), testSignal("s-1"), 125)
	require.NoError(t, err)

	m.Settle(context.Background(), "BTC-65000.00-1", domain.MarketSideDown, time.Now())
	m.DropMarket("BTC-65000.00-1")

	pos, err := m.OnFillResult(context.Background(), "s-1", filledResult(), exitParams())
	require.NoError(t, err)
	assert.Equal(t, domain.PositionSettledLoss, pos.State)
	assert.InDelta(t, -50.5, pos.PnLNet, 1e-9) // full $50 entry plus the fee
}

func TestManager_DropMarketKeepsPendingFill(t *testing.T) {
	m := NewManager(takerFee, nil, testLogger())
	_, err := m.Open(context.Background(), testSignal("s-1"), 125)
	require.NoError(t, err)

	m.DropMarket("BTC-65000.00-1")
	pos, err := m.Get("s-1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionPendingFill, pos.State)
}

func TestManager_DropMarketReleasesTracking(t *testing.T) {
	m := NewManager(takerFee, nil, testLogger())
	_, err := m.Open(context.Background(), testSignal("s-1"), 125)
	require.NoError(t, err)
	require.NoError(t, m.Fail(context.Background(), "s-1", "shutdown"))

	m.DropMarket("BTC-65000.00-1")
	_, err = m.Get("s-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, m.OpenByMarket("BTC-65000.00-1"))
}
