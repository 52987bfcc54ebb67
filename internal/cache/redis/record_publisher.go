package redis

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/polyflow/updown/internal/domain"
)

// Pub/Sub channels for the engine's record stream.
const (
	ChannelSignals     = "updown:signals"
	ChannelRejections  = "updown:rejections"
	ChannelPositions   = "updown:positions"
	ChannelHedges      = "updown:hedges"
	ChannelSettlements = "updown:settlements"
)

// RecordPublisher implements domain.RecordSink by publishing each record as
// JSON on the record bus. Publish failures are logged and dropped.
type RecordPublisher struct {
	bus    domain.RecordBus
	logger *slog.Logger
}

func NewRecordPublisher(bus domain.RecordBus, logger *slog.Logger) *RecordPublisher {
	return &RecordPublisher{
		bus:    bus,
		logger: logger.With(slog.String("component", "record_publisher")),
	}
}

func (p *RecordPublisher) publish(ctx context.Context, channel string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		p.logger.Error("marshal record failed", slog.String("channel", channel), slog.Any("error", err))
		return
	}
	if err := p.bus.Publish(ctx, channel, payload); err != nil {
		p.logger.Error("publish record failed", slog.String("channel", channel), slog.Any("error", err))
	}
}

func (p *RecordPublisher) SignalEmitted(ctx context.Context, sig domain.Signal) {
	p.publish(ctx, ChannelSignals, sig)
}

func (p *RecordPublisher) SignalRejected(ctx context.Context, rej domain.SignalRejection) {
	p.publish(ctx, ChannelRejections, rej)
}

func (p *RecordPublisher) PositionChanged(ctx context.Context, pos domain.Position) {
	p.publish(ctx, ChannelPositions, pos)
}

func (p *RecordPublisher) HedgeIssued(ctx context.Context, intent domain.HedgeIntent) {
	p.publish(ctx, ChannelHedges, intent)
}

func (p *RecordPublisher) MarketSettled(ctx context.Context, res domain.SettlementResult) {
	p.publish(ctx, ChannelSettlements, res)
}

var _ domain.RecordSink = (*RecordPublisher)(nil)
