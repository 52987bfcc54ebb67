// Package store adapts the persistence layer to the engine's record stream.
package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/polyflow/updown/internal/domain"
)

// Sink persists every engine record through the domain store interfaces.
// Persistence failures are logged, never propagated: the trading path does
// not stop because a write missed.
type Sink struct {
	signals     domain.SignalStore
	positions   domain.PositionStore
	hedges      domain.HedgeIntentStore
	settlements domain.SettlementStore
	logger      *slog.Logger
}

func NewSink(
	signals domain.SignalStore,
	positions domain.PositionStore,
	hedges domain.HedgeIntentStore,
	settlements domain.SettlementStore,
	logger *slog.Logger,
) *Sink {
	return &Sink{
		signals:     signals,
		positions:   positions,
		hedges:      hedges,
		settlements: settlements,
		logger:      logger.With(slog.String("component", "store_sink")),
	}
}

func (s *Sink) SignalEmitted(ctx context.Context, sig domain.Signal) {
	if err := s.signals.Create(ctx, sig); err != nil {
		s.logger.Error("persist signal failed", slog.String("signal_id", sig.ID), slog.Any("error", err))
	}
}

func (s *Sink) SignalRejected(ctx context.Context, rej domain.SignalRejection) {
	if err := s.signals.CreateRejection(ctx, rej); err != nil {
		s.logger.Error("persist rejection failed", slog.String("asset", rej.Asset), slog.Any("error", err))
	}
}

func (s *Sink) PositionChanged(ctx context.Context, pos domain.Position) {
	if err := s.positions.Upsert(ctx, pos); err != nil {
		s.logger.Error("persist position failed", slog.String("signal_id", pos.SignalID), slog.Any("error", err))
	}
}

// HedgeIssued persists intent records: the pending announcement inserts a
// row, its later resolution transitions the row's status. Intents born
// terminal (skips) and resolutions whose announcement never landed insert
// directly.
func (s *Sink) HedgeIssued(ctx context.Context, intent domain.HedgeIntent) {
	var err error
	if intent.ResolvedAt.IsZero() {
		err = s.hedges.Create(ctx, intent)
	} else {
		err = s.hedges.UpdateStatus(ctx, intent.ID, intent.Status, intent.AbortReason)
		if errors.Is(err, domain.ErrNotFound) {
			err = s.hedges.Create(ctx, intent)
		}
	}
	if err != nil {
		s.logger.Error("persist hedge intent failed", slog.String("intent_id", intent.ID), slog.Any("error", err))
	}
}

func (s *Sink) MarketSettled(ctx context.Context, res domain.SettlementResult) {
	err := s.settlements.Create(ctx, res)
	if err != nil && !errors.Is(err, domain.ErrDuplicateSettlement) {
		s.logger.Error("persist settlement failed", slog.String("market_id", res.MarketID), slog.Any("error", err))
	}
}

var _ domain.RecordSink = (*Sink)(nil)
