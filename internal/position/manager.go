// Package position owns the per-signal position state machine: hold, exit by
// take-profit, stop-loss or timeout, and terminal resolution.
package position

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/polyflow/updown/internal/domain"
)

// ExitParams arms the monitoring triggers for a filled position.
type ExitParams struct {
	TakeProfitEnabled bool
	TakeProfitCents   float64
	StopLossEnabled   bool
	StopLossCents     float64
	HoldTimeout       time.Duration
}

// ExitFeeFunc prices the fee of a single-sided exit for the given notional.
type ExitFeeFunc func(notional float64) float64

// TransitionFunc observes every position state transition.
type TransitionFunc func(ctx context.Context, pos domain.Position)

// tracked is one live position plus its armed triggers. The mutex serializes
// the competing TP/SL/timeout/settlement paths: the first to take it performs
// the transition and the rest see a terminal state and stand down.
type tracked struct {
	mu        sync.Mutex
	pos       domain.Position
	tpPrice   float64
	slPrice   float64
	tpArmed   bool
	slArmed   bool
	holdTimer *time.Timer
	lastBid   float64
}

// Manager tracks all open positions and applies state-machine transitions.
type Manager struct {
	exitFee      ExitFeeFunc
	onTransition TransitionFunc
	logger       *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	bySignal  map[string]*tracked
	byMarket  map[string][]*tracked
	settledAs map[string]domain.MarketSide // resolved markets and their winning side
}

// NewManager creates a Manager. onTransition receives every state change and
// must be safe for concurrent use; it is also called from timer goroutines.
func NewManager(exitFee ExitFeeFunc, onTransition TransitionFunc, logger *slog.Logger) *Manager {
	if exitFee == nil {
		exitFee = func(float64) float64 { return 0 }
	}
	return &Manager{
		exitFee:      exitFee,
		onTransition: onTransition,
		logger:       logger.With(slog.String("component", "position_manager")),
		now:          time.Now,
		bySignal:     make(map[string]*tracked),
		byMarket:     make(map[string][]*tracked),
		settledAs:    make(map[string]domain.MarketSide),
	}
}

// SetClock overrides the time source. Used by tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Open creates a PENDING_FILL position for the signal. At most one
// non-terminal position may reference a signal ID.
func (m *Manager) Open(ctx context.Context, sig domain.Signal, requestedShares float64) (domain.Position, error) {
	m.mu.Lock()
	if t, ok := m.bySignal[sig.ID]; ok && !t.pos.State.Terminal() {
		m.mu.Unlock()
		return domain.Position{}, fmt.Errorf("position: signal %s: %w", sig.ID, domain.ErrAlreadyExists)
	}
	t := &tracked{
		pos: domain.Position{
			SignalID:        sig.ID,
			Asset:           sig.Asset,
			MarketID:        sig.MarketID,
			Side:            sig.Direction,
			RequestedShares: requestedShares,
			State:           domain.PositionPendingFill,
			SignalAt:        sig.CreatedAt,
		},
	}
	m.bySignal[sig.ID] = t
	m.byMarket[sig.MarketID] = append(m.byMarket[sig.MarketID], t)
	pos := t.pos
	m.mu.Unlock()

	m.emit(ctx, pos)
	return pos, nil
}

// OnFillResult applies the executor's result to a pending position. A fill
// moves it through FILLED into MONITORING and arms the exit triggers; a
// timeout terminates it with zero shares; a rejection fails it.
func (m *Manager) OnFillResult(ctx context.Context, signalID string, res domain.OrderResult, exits ExitParams) (domain.Position, error) {
	t, err := m.lookup(signalID)
	if err != nil {
		return domain.Position{}, err
	}

	t.mu.Lock()
	if t.pos.State != domain.PositionPendingFill {
		state := t.pos.State
		t.mu.Unlock()
		return domain.Position{}, fmt.Errorf("position: signal %s in state %s: %w", signalID, state, domain.ErrTerminalState)
	}
	now := m.now()

	switch {
	case res.TimedOut:
		t.pos.State = domain.PositionExpiredTimeout
		t.pos.ExitReason = domain.ExitTimeout
		t.pos.ExitedAt = now
	case !res.Filled:
		t.pos.State = domain.PositionFailed
		t.pos.ExitReason = domain.ExitFailure
		t.pos.FailReason = res.Message
		if t.pos.FailReason == "" {
			t.pos.FailReason = "order rejected"
		}
		t.pos.ExitedAt = now
	default:
		t.pos.FilledShares = res.FilledShares
		t.pos.EntryPrice = res.FilledPrice
		t.pos.EntryFeeUSD = res.FeeUSD
		t.pos.FilledAt = now
		t.pos.State = domain.PositionFilled
		filled := t.pos
		t.mu.Unlock()
		// FILLED is observable but transient; arm monitoring immediately.
		m.emit(ctx, filled)
		// A fill can land after the market resolved, when the shard was
		// still inside the venue call as settlement ran. There is nothing
		// left to monitor; settle the position directly.
		if winner, settled := m.settledSide(filled.MarketID); settled {
			return m.settleLate(ctx, t, winner), nil
		}
		return m.startMonitoring(ctx, t, exits), nil
	}

	pos := t.pos
	t.mu.Unlock()
	m.emit(ctx, pos)
	m.dropIfSettled(pos.MarketID)
	return pos, nil
}

// settleLate resolves a position whose fill arrived after settlement.
func (m *Manager) settleLate(ctx context.Context, t *tracked, winner domain.MarketSide) domain.Position {
	t.mu.Lock()
	if t.pos.State.Terminal() {
		// A concurrent Settle sweep caught the position first.
		pos := t.pos
		t.mu.Unlock()
		return pos
	}
	payout := 0.0
	if t.pos.Side == winner {
		payout = 1.0
		t.pos.State = domain.PositionSettledWin
	} else {
		t.pos.State = domain.PositionSettledLoss
	}
	t.pos.ApplySettlement(payout, m.now())
	pos := t.pos
	t.mu.Unlock()
	m.emit(ctx, pos)
	m.DropMarket(pos.MarketID)
	return pos
}

func (m *Manager) startMonitoring(ctx context.Context, t *tracked, exits ExitParams) domain.Position {
	t.mu.Lock()
	t.pos.State = domain.PositionMonitoring
	if exits.TakeProfitEnabled {
		t.tpPrice = t.pos.EntryPrice + exits.TakeProfitCents/100
		t.tpArmed = true
	}
	if exits.StopLossEnabled {
		t.slPrice = t.pos.EntryPrice - exits.StopLossCents/100
		t.slArmed = true
	}
	if exits.HoldTimeout > 0 {
		signalID := t.pos.SignalID
		t.holdTimer = time.AfterFunc(exits.HoldTimeout, func() {
			m.holdTimeout(signalID)
		})
	}
	pos := t.pos
	t.mu.Unlock()

	m.emit(ctx, pos)
	return pos
}

// OnQuote feeds a top-of-book update for one side of a market to every
// monitoring position on that side. Whichever trigger fires first wins; the
// others are disarmed atomically under the position's lock.
func (m *Manager) OnQuote(ctx context.Context, marketID string, side domain.MarketSide, top domain.BookTop) {
	for _, t := range m.marketPositions(marketID) {
		t.mu.Lock()
		if t.pos.Side != side || t.pos.State != domain.PositionMonitoring {
			t.mu.Unlock()
			continue
		}
		if top.BestBid > 0 {
			t.lastBid = top.BestBid
		}
		var (
			fire   bool
			state  domain.PositionState
			reason domain.ExitReason
		)
		switch {
		case t.tpArmed && top.BestBid > 0 && top.BestBid >= t.tpPrice:
			fire, state, reason = true, domain.PositionSoldTP, domain.ExitTakeProfit
		case t.slArmed && top.BestBid > 0 && top.BestBid <= t.slPrice:
			fire, state, reason = true, domain.PositionSoldSL, domain.ExitStopLoss
		}
		if !fire {
			t.mu.Unlock()
			continue
		}
		pos := m.exitLocked(t, state, reason, top.BestBid)
		t.mu.Unlock()
		m.emit(ctx, pos)
	}
}

// holdTimeout is the timer callback: exit at the last observed bid.
func (m *Manager) holdTimeout(signalID string) {
	t, err := m.lookup(signalID)
	if err != nil {
		return
	}
	t.mu.Lock()
	if t.pos.State != domain.PositionMonitoring {
		t.mu.Unlock()
		return
	}
	exitPrice := t.lastBid
	if exitPrice <= 0 {
		exitPrice = t.pos.EntryPrice
	}
	pos := m.exitLocked(t, domain.PositionExpiredTimeout, domain.ExitTimeout, exitPrice)
	t.mu.Unlock()
	m.emit(context.Background(), pos)
}

// exitLocked performs a single-sided exit transition. Caller holds t.mu.
func (m *Manager) exitLocked(t *tracked, state domain.PositionState, reason domain.ExitReason, exitPrice float64) domain.Position {
	t.disarmLocked()
	t.pos.State = state
	fee := m.exitFee(exitPrice * t.pos.FilledShares)
	t.pos.ApplyExit(exitPrice, fee, reason, m.now())
	m.logger.Info("position exited",
		slog.String("signal_id", t.pos.SignalID),
		slog.String("market_id", t.pos.MarketID),
		slog.String("state", string(state)),
		slog.Float64("exit_price", exitPrice),
		slog.Float64("pnl_net", t.pos.PnLNet),
	)
	return t.pos
}

// Settle preempts every non-terminal position in the market, transitioning
// directly to SETTLED_WIN or SETTLED_LOSS and disarming any live triggers.
// Positions already terminal are untouched. Returns the settled positions.
func (m *Manager) Settle(ctx context.Context, marketID string, winningSide domain.MarketSide, at time.Time) []domain.Position {
	m.mu.Lock()
	m.settledAs[marketID] = winningSide
	m.mu.Unlock()

	var settled []domain.Position
	for _, t := range m.marketPositions(marketID) {
		t.mu.Lock()
		if t.pos.State.Terminal() || t.pos.State == domain.PositionPendingFill {
			// A pending fill either completes against a dead market (the
			// simulator/venue rejects it) or times out; settlement does
			// not own that transition.
			t.mu.Unlock()
			continue
		}
		t.disarmLocked()
		payout := 0.0
		if t.pos.Side == winningSide {
			payout = 1.0
			t.pos.State = domain.PositionSettledWin
		} else {
			t.pos.State = domain.PositionSettledLoss
		}
		t.pos.ApplySettlement(payout, at)
		pos := t.pos
		t.mu.Unlock()
		settled = append(settled, pos)
		m.emit(ctx, pos)
	}
	return settled
}

// Fail transitions a position to FAILED with an explicit reason. Used for
// downstream execution errors.
func (m *Manager) Fail(ctx context.Context, signalID, reason string) error {
	t, err := m.lookup(signalID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	if t.pos.State.Terminal() {
		t.mu.Unlock()
		return domain.ErrTerminalState
	}
	t.disarmLocked()
	t.pos.State = domain.PositionFailed
	t.pos.ExitReason = domain.ExitFailure
	t.pos.FailReason = reason
	t.pos.ExitedAt = m.now()
	pos := t.pos
	t.mu.Unlock()
	m.emit(ctx, pos)
	m.dropIfSettled(pos.MarketID)
	return nil
}

// Get returns the current snapshot of a position.
func (m *Manager) Get(signalID string) (domain.Position, error) {
	t, err := m.lookup(signalID)
	if err != nil {
		return domain.Position{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos, nil
}

// OpenByMarket returns the non-terminal positions for a market.
func (m *Manager) OpenByMarket(marketID string) []domain.Position {
	var open []domain.Position
	for _, t := range m.marketPositions(marketID) {
		t.mu.Lock()
		if !t.pos.State.Terminal() {
			open = append(open, t.pos)
		}
		t.mu.Unlock()
	}
	return open
}

// DropMarket releases tracking state for a settled/expired market. A position
// still waiting on its fill result stays tracked so the result can land; the
// rest of the market's state is reclaimed once it too goes terminal.
func (m *Manager) DropMarket(marketID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pending []*tracked
	for _, t := range m.byMarket[marketID] {
		t.mu.Lock()
		terminal := t.pos.State.Terminal()
		t.mu.Unlock()
		if terminal {
			delete(m.bySignal, t.pos.SignalID)
		} else {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		delete(m.byMarket, marketID)
		delete(m.settledAs, marketID)
		return
	}
	m.byMarket[marketID] = pending
}

// settledSide reports the winning side of a market the settler has resolved.
func (m *Manager) settledSide(marketID string) (domain.MarketSide, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	side, ok := m.settledAs[marketID]
	return side, ok
}

// dropIfSettled reclaims market state once a straggling position resolves.
func (m *Manager) dropIfSettled(marketID string) {
	if _, ok := m.settledSide(marketID); ok {
		m.DropMarket(marketID)
	}
}

func (t *tracked) disarmLocked() {
	t.tpArmed = false
	t.slArmed = false
	if t.holdTimer != nil {
		t.holdTimer.Stop()
		t.holdTimer = nil
	}
}

func (m *Manager) lookup(signalID string) (*tracked, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.bySignal[signalID]
	if !ok {
		return nil, fmt.Errorf("position: signal %s: %w", signalID, domain.ErrNotFound)
	}
	return t, nil
}

func (m *Manager) marketPositions(marketID string) []*tracked {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*tracked(nil), m.byMarket[marketID]...)
}

func (m *Manager) emit(ctx context.Context, pos domain.Position) {
	if m.onTransition != nil {
		m.onTransition(ctx, pos)
	}
}
