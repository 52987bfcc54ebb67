package engine

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/polyflow/updown/internal/domain"
)

// recordKind tags entries on the fan-out queue.
type recordKind int

const (
	recSignal recordKind = iota
	recRejection
	recPosition
	recHedge
	recSettlement
)

type record struct {
	kind       recordKind
	signal     domain.Signal
	rejection  domain.SignalRejection
	position   domain.Position
	hedge      domain.HedgeIntent
	settlement domain.SettlementResult
}

// Fanout delivers every record to each registered sink from a single drain
// goroutine. Producers enqueue without blocking; when the buffer is full the
// record is dropped and counted, never stalling the trading path.
type Fanout struct {
	sinks   []domain.RecordSink
	ch      chan record
	dropped atomic.Int64
	logger  *slog.Logger
}

func NewFanout(buffer int, logger *slog.Logger, sinks ...domain.RecordSink) *Fanout {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Fanout{
		sinks:  sinks,
		ch:     make(chan record, buffer),
		logger: logger.With(slog.String("component", "record_fanout")),
	}
}

// Run drains the queue until ctx is cancelled.
func (f *Fanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if n := f.dropped.Load(); n > 0 {
				f.logger.Warn("records dropped during run", slog.Int64("count", n))
			}
			return ctx.Err()
		case rec := <-f.ch:
			f.dispatch(ctx, rec)
		}
	}
}

// Dropped reports how many records were discarded on a full buffer.
func (f *Fanout) Dropped() int64 { return f.dropped.Load() }

func (f *Fanout) dispatch(ctx context.Context, rec record) {
	for _, s := range f.sinks {
		switch rec.kind {
		case recSignal:
			s.SignalEmitted(ctx, rec.signal)
		case recRejection:
			s.SignalRejected(ctx, rec.rejection)
		case recPosition:
			s.PositionChanged(ctx, rec.position)
		case recHedge:
			s.HedgeIssued(ctx, rec.hedge)
		case recSettlement:
			s.MarketSettled(ctx, rec.settlement)
		}
	}
}

func (f *Fanout) enqueue(rec record) {
	select {
	case f.ch <- rec:
	default:
		f.dropped.Add(1)
	}
}

func (f *Fanout) SignalEmitted(_ context.Context, sig domain.Signal) {
	f.enqueue(record{kind: recSignal, signal: sig})
}

func (f *Fanout) SignalRejected(_ context.Context, rej domain.SignalRejection) {
	f.enqueue(record{kind: recRejection, rejection: rej})
}

func (f *Fanout) PositionChanged(_ context.Context, pos domain.Position) {
	f.enqueue(record{kind: recPosition, position: pos})
}

func (f *Fanout) HedgeIssued(_ context.Context, intent domain.HedgeIntent) {
	f.enqueue(record{kind: recHedge, hedge: intent})
}

func (f *Fanout) MarketSettled(_ context.Context, res domain.SettlementResult) {
	f.enqueue(record{kind: recSettlement, settlement: res})
}

var _ domain.RecordSink = (*Fanout)(nil)
