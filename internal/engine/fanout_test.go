package engine

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

// countingSink tallies records per kind.
type countingSink struct {
	mu          sync.Mutex
	signals     int
	rejections  int
	positions   int
	hedges      int
	settlements int
}

func (s *countingSink) SignalEmitted(context.Context, domain.Signal) {
	s.mu.Lock()
	s.signals++
	s.mu.Unlock()
}

func (s *countingSink) SignalRejected(context.Context, domain.SignalRejection) {
	s.mu.Lock()
	s.rejections++
	s.mu.Unlock()
}

func (s *countingSink) PositionChanged(context.Context, domain.Position) {
	s.mu.Lock()
	s.positions++
	s.mu.Unlock()
}

func (s *countingSink) HedgeIssued(context.Context, domain.HedgeIntent) {
	s.mu.Lock()
	s.hedges++
	s.mu.Unlock()
}

func (s *countingSink) MarketSettled(context.Context, domain.SettlementResult) {
	s.mu.Lock()
	s.settlements++
	s.mu.Unlock()
}

func (s *countingSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signals + s.rejections + s.positions + s.hedges + s.settlements
}

func TestFanout_DeliversToAllSinks(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, b := &countingSink{}, &countingSink{}
	f := NewFanout(16, logger, a, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.Run(ctx)
	}()

	f.SignalEmitted(ctx, domain.Signal{ID: "s-1"})
	f.SignalRejected(ctx, domain.SignalRejection{Reason: domain.RejectCooldown})
	f.PositionChanged(ctx, domain.Position{SignalID: "s-1"})
	f.HedgeIssued(ctx, domain.HedgeIntent{ID: "h-1"})
	f.MarketSettled(ctx, domain.SettlementResult{MarketID: "m-1"})

	require.Eventually(t, func() bool {
		return a.total() == 5 && b.total() == 5
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, a.signals)
	assert.Equal(t, 1, a.settlements)
	assert.Equal(t, int64(0), f.Dropped())

	cancel()
	<-done
}

func TestFanout_DropsOnFullBuffer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := NewFanout(1, logger) // no Run goroutine draining

	f.SignalEmitted(context.Background(), domain.Signal{ID: "s-1"})
	f.SignalEmitted(context.Background(), domain.Signal{ID: "s-2"})
	f.SignalEmitted(context.Background(), domain.Signal{ID: "s-3"})

	assert.Equal(t, int64(2), f.Dropped())
}
