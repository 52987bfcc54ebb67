package settle

import (
	"context"
	"sync"

	"github.com/polyflow/updown/internal/domain"
)

// Collector accumulates the engine's record stream in memory and rebuilds
// RunMetrics from it on demand. It implements domain.RecordSink. The rebuilt
// metrics are a derived view only; open risk lives with the position manager
// and hedge engine.
type Collector struct {
	mu          sync.Mutex
	positions   map[string]domain.Position    // latest snapshot per signal
	hedges      map[string]domain.HedgeIntent // latest snapshot per intent
	settlements []domain.SettlementResult
	rejections  []domain.SignalRejection
}

func NewCollector() *Collector {
	return &Collector{
		positions: make(map[string]domain.Position),
		hedges:    make(map[string]domain.HedgeIntent),
	}
}

func (c *Collector) SignalEmitted(context.Context, domain.Signal) {}

func (c *Collector) SignalRejected(_ context.Context, rej domain.SignalRejection) {
	c.mu.Lock()
	c.rejections = append(c.rejections, rej)
	c.mu.Unlock()
}

func (c *Collector) PositionChanged(_ context.Context, pos domain.Position) {
	c.mu.Lock()
	c.positions[pos.SignalID] = pos
	c.mu.Unlock()
}

func (c *Collector) HedgeIssued(_ context.Context, intent domain.HedgeIntent) {
	c.mu.Lock()
	c.hedges[intent.ID] = intent
	c.mu.Unlock()
}

func (c *Collector) MarketSettled(_ context.Context, res domain.SettlementResult) {
	c.mu.Lock()
	c.settlements = append(c.settlements, res)
	c.mu.Unlock()
}

// Metrics re-aggregates over everything collected so far.
func (c *Collector) Metrics() domain.RunMetrics {
	c.mu.Lock()
	positions := make([]domain.Position, 0, len(c.positions))
	for _, p := range c.positions {
		positions = append(positions, p)
	}
	hedges := make([]domain.HedgeIntent, 0, len(c.hedges))
	for _, h := range c.hedges {
		hedges = append(hedges, h)
	}
	settlements := append([]domain.SettlementResult(nil), c.settlements...)
	rejections := append([]domain.SignalRejection(nil), c.rejections...)
	c.mu.Unlock()
	return domain.RebuildMetrics(positions, settlements, rejections, hedges)
}
