package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyflow/updown/internal/domain"
)

// HedgeIntentStore implements domain.HedgeIntentStore using PostgreSQL.
type HedgeIntentStore struct {
	pool *pgxpool.Pool
}

func NewHedgeIntentStore(pool *pgxpool.Pool) *HedgeIntentStore {
	return &HedgeIntentStore{pool: pool}
}

// Create inserts a hedge intent.
func (s *HedgeIntentStore) Create(ctx context.Context, intent domain.HedgeIntent) error {
	const query = `
		INSERT INTO hedge_intents (
			id, market_id, side_not_hedged, intended_qty, limit_price,
			panic, status, abort_reason, attempts, created_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			abort_reason = EXCLUDED.abort_reason,
			attempts = EXCLUDED.attempts,
			resolved_at = EXCLUDED.resolved_at`

	_, err := s.pool.Exec(ctx, query,
		intent.ID, intent.MarketID, string(intent.SideNotHedged), intent.IntendedQty, intent.LimitPrice,
		intent.Panic, string(intent.Status), string(intent.AbortReason), intent.Attempts,
		intent.CreatedAt, nullTime(intent.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: create hedge intent %s: %w", intent.ID, err)
	}
	return nil
}

// UpdateStatus transitions an intent's lifecycle status.
func (s *HedgeIntentStore) UpdateStatus(ctx context.Context, id string, status domain.HedgeStatus, reason domain.HedgeSkipReason) error {
	const query = `
		UPDATE hedge_intents
		SET status = $2, abort_reason = $3, resolved_at = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(status), string(reason))
	if err != nil {
		return fmt.Errorf("postgres: update hedge intent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: hedge intent %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ListByMarket returns hedge intents for a market, oldest first.
func (s *HedgeIntentStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.HedgeIntent, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id, market_id, side_not_hedged, intended_qty, limit_price,
			panic, status, abort_reason, attempts, created_at, resolved_at
		FROM hedge_intents WHERE market_id = $1
		ORDER BY created_at LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, marketID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list hedge intents for %s: %w", marketID, err)
	}
	defer rows.Close()

	var intents []domain.HedgeIntent
	for rows.Next() {
		intent, err := scanHedgeIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan hedge intent: %w", err)
		}
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}

func scanHedgeIntent(row pgx.Row) (domain.HedgeIntent, error) {
	var intent domain.HedgeIntent
	var side, status, reason string
	var resolvedAt *time.Time

	err := row.Scan(
		&intent.ID, &intent.MarketID, &side, &intent.IntendedQty, &intent.LimitPrice,
		&intent.Panic, &status, &reason, &intent.Attempts, &intent.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return domain.HedgeIntent{}, err
	}
	intent.SideNotHedged = domain.MarketSide(side)
	intent.Status = domain.HedgeStatus(status)
	intent.AbortReason = domain.HedgeSkipReason(reason)
	if resolvedAt != nil {
		intent.ResolvedAt = *resolvedAt
	}
	return intent, nil
}
