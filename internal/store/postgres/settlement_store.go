package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/polyflow/updown/internal/domain"
)

// SettlementStore implements domain.SettlementStore using PostgreSQL. The
// primary key on market_id enforces exactly-once settlement at the storage
// layer too.
type SettlementStore struct {
	pool *pgxpool.Pool
}

func NewSettlementStore(pool *pgxpool.Pool) *SettlementStore {
	return &SettlementStore{pool: pool}
}

// Create inserts the settlement result for a market. A duplicate insert
// returns ErrDuplicateSettlement.
func (s *SettlementStore) Create(ctx context.Context, res domain.SettlementResult) error {
	const query = `
		INSERT INTO settlements (
			market_id, winning_side, payout_per_share, realized_pnl,
			classification, drift, settled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (market_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		res.MarketID, string(res.WinningSide), res.PayoutPerShare, res.RealizedPnL,
		string(res.Classification), string(res.Drift), res.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create settlement %s: %w", res.MarketID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: settlement %s: %w", res.MarketID, domain.ErrDuplicateSettlement)
	}
	return nil
}

// GetByMarketID returns the settlement for a market.
func (s *SettlementStore) GetByMarketID(ctx context.Context, marketID string) (domain.SettlementResult, error) {
	const query = `
		SELECT market_id, winning_side, payout_per_share, realized_pnl,
			classification, drift, settled_at
		FROM settlements WHERE market_id = $1`

	res, err := scanSettlement(s.pool.QueryRow(ctx, query, marketID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.SettlementResult{}, fmt.Errorf("postgres: settlement %s: %w", marketID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("postgres: get settlement %s: %w", marketID, err)
	}
	return res, nil
}

// ListBefore returns settlements settled before the cutoff, oldest first.
func (s *SettlementStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.SettlementResult, error) {
	if limit <= 0 {
		limit = 500
	}
	const query = `
		SELECT market_id, winning_side, payout_per_share, realized_pnl,
			classification, drift, settled_at
		FROM settlements WHERE settled_at < $1
		ORDER BY settled_at LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list settlements: %w", err)
	}
	defer rows.Close()

	var results []domain.SettlementResult
	for rows.Next() {
		res, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan settlement: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func scanSettlement(row pgx.Row) (domain.SettlementResult, error) {
	var res domain.SettlementResult
	var side, class, drift string
	err := row.Scan(
		&res.MarketID, &side, &res.PayoutPerShare, &res.RealizedPnL,
		&class, &drift, &res.SettledAt,
	)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	res.WinningSide = domain.MarketSide(side)
	res.Classification = domain.OutcomeClass(class)
	res.Drift = domain.DriftSeverity(drift)
	return res, nil
}
