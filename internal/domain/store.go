package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// SignalStore persists emitted signals and rejected candidates.
type SignalStore interface {
	Create(ctx context.Context, sig Signal) error
	CreateRejection(ctx context.Context, rej SignalRejection) error
	GetByID(ctx context.Context, id string) (Signal, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Signal, error)
}

// PositionStore persists positions; Upsert is called on every state transition.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	GetBySignalID(ctx context.Context, signalID string) (Position, error)
	ListOpen(ctx context.Context, asset string) ([]Position, error)
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]Position, error)
	ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]Position, error)
}

// HedgeIntentStore persists hedge intents across their lifecycle.
type HedgeIntentStore interface {
	Create(ctx context.Context, intent HedgeIntent) error
	UpdateStatus(ctx context.Context, id string, status HedgeStatus, reason HedgeSkipReason) error
	ListByMarket(ctx context.Context, marketID string, opts ListOpts) ([]HedgeIntent, error)
}

// SettlementStore persists settlement results, one per market.
type SettlementStore interface {
	Create(ctx context.Context, res SettlementResult) error
	GetByMarketID(ctx context.Context, marketID string) (SettlementResult, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]SettlementResult, error)
}

// RecordSink receives every outbound record the engine produces. Sinks must
// not block the ingestion path; slow consumers buffer or drop.
type RecordSink interface {
	SignalEmitted(ctx context.Context, sig Signal)
	SignalRejected(ctx context.Context, rej SignalRejection)
	PositionChanged(ctx context.Context, pos Position)
	HedgeIssued(ctx context.Context, intent HedgeIntent)
	MarketSettled(ctx context.Context, res SettlementResult)
}

// BlobWriter stores serialized record batches in object storage.
type BlobWriter interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}
