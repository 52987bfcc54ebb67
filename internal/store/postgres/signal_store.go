package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyflow/updown/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalSelectCols = `id, asset, market_id, direction, trigger_delta_usd,
	share_price_at_signal, toxicity, toxicity_reason, degraded_confidence, created_at`

func scanSignal(row pgx.Row) (domain.Signal, error) {
	var s domain.Signal
	var direction, toxicity string
	err := row.Scan(
		&s.ID, &s.Asset, &s.MarketID, &direction, &s.TriggerDeltaUSD,
		&s.SharePriceAtSignal, &toxicity, &s.ToxicityReason, &s.DegradedConfidence, &s.CreatedAt,
	)
	if err != nil {
		return domain.Signal{}, err
	}
	s.Direction = domain.MarketSide(direction)
	s.Toxicity = domain.ToxicityClass(toxicity)
	return s, nil
}

// Create inserts an emitted signal.
func (s *SignalStore) Create(ctx context.Context, sig domain.Signal) error {
	const query = `
		INSERT INTO signals (
			id, asset, market_id, direction, trigger_delta_usd,
			share_price_at_signal, toxicity, toxicity_reason, degraded_confidence, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, query,
		sig.ID, sig.Asset, sig.MarketID, string(sig.Direction), sig.TriggerDeltaUSD,
		sig.SharePriceAtSignal, string(sig.Toxicity), sig.ToxicityReason, sig.DegradedConfidence, sig.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create signal %s: %w", sig.ID, err)
	}
	return nil
}

// CreateRejection records a rejected candidate for analysis.
func (s *SignalStore) CreateRejection(ctx context.Context, rej domain.SignalRejection) error {
	const query = `
		INSERT INTO signal_rejections (
			asset, market_id, direction, delta_usd, reason, detail, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, query,
		rej.Asset, rej.MarketID, string(rej.Direction), rej.DeltaUSD,
		string(rej.Reason), rej.Detail, rej.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create rejection: %w", err)
	}
	return nil
}

// GetByID returns the signal with the given ID.
func (s *SignalStore) GetByID(ctx context.Context, id string) (domain.Signal, error) {
	query := `SELECT ` + signalSelectCols + ` FROM signals WHERE id = $1`
	sig, err := scanSignal(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Signal{}, fmt.Errorf("postgres: signal %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Signal{}, fmt.Errorf("postgres: get signal %s: %w", id, err)
	}
	return sig, nil
}

// ListByMarket returns signals for a market, newest first.
func (s *SignalStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Signal, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + signalSelectCols + `
		FROM signals WHERE market_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, marketID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals for %s: %w", marketID, err)
	}
	defer rows.Close()

	var signals []domain.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan signal: %w", err)
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}
