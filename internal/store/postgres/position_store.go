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

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `signal_id, asset, market_id, side, requested_shares,
	filled_shares, entry_price, entry_fee_usd, exit_price, exit_fee_usd,
	exit_reason, state, fail_reason, pnl_gross, pnl_net,
	signal_at, filled_at, exited_at`

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, exitReason, state string
	var filledAt, exitedAt *time.Time

	err := row.Scan(
		&p.SignalID, &p.Asset, &p.MarketID, &side, &p.RequestedShares,
		&p.FilledShares, &p.EntryPrice, &p.EntryFeeUSD, &p.ExitPrice, &p.ExitFeeUSD,
		&exitReason, &state, &p.FailReason, &p.PnLGross, &p.PnLNet,
		&p.SignalAt, &filledAt, &exitedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.MarketSide(side)
	p.ExitReason = domain.ExitReason(exitReason)
	p.State = domain.PositionState(state)
	if filledAt != nil {
		p.FilledAt = *filledAt
	}
	if exitedAt != nil {
		p.ExitedAt = *exitedAt
	}
	return p, nil
}

// Upsert writes the position's current snapshot; called on every state
// transition.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			signal_id, asset, market_id, side, requested_shares,
			filled_shares, entry_price, entry_fee_usd, exit_price, exit_fee_usd,
			exit_reason, state, fail_reason, pnl_gross, pnl_net,
			signal_at, filled_at, exited_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, NOW()
		)
		ON CONFLICT (signal_id) DO UPDATE SET
			filled_shares = EXCLUDED.filled_shares,
			entry_price = EXCLUDED.entry_price,
			entry_fee_usd = EXCLUDED.entry_fee_usd,
			exit_price = EXCLUDED.exit_price,
			exit_fee_usd = EXCLUDED.exit_fee_usd,
			exit_reason = EXCLUDED.exit_reason,
			state = EXCLUDED.state,
			fail_reason = EXCLUDED.fail_reason,
			pnl_gross = EXCLUDED.pnl_gross,
			pnl_net = EXCLUDED.pnl_net,
			filled_at = EXCLUDED.filled_at,
			exited_at = EXCLUDED.exited_at,
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.SignalID, p.Asset, p.MarketID, string(p.Side), p.RequestedShares,
		p.FilledShares, p.EntryPrice, p.EntryFeeUSD, p.ExitPrice, p.ExitFeeUSD,
		string(p.ExitReason), string(p.State), p.FailReason, p.PnLGross, p.PnLNet,
		p.SignalAt, nullTime(p.FilledAt), nullTime(p.ExitedAt),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.SignalID, err)
	}
	return nil
}

// GetBySignalID returns the position for a signal.
func (s *PositionStore) GetBySignalID(ctx context.Context, signalID string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE signal_id = $1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, signalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, fmt.Errorf("postgres: position %s: %w", signalID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", signalID, err)
	}
	return p, nil
}

var terminalStates = []string{
	string(domain.PositionSoldTP),
	string(domain.PositionSoldSL),
	string(domain.PositionExpiredTimeout),
	string(domain.PositionSettledWin),
	string(domain.PositionSettledLoss),
	string(domain.PositionFailed),
}

// ListOpen returns non-terminal positions for an asset.
func (s *PositionStore) ListOpen(ctx context.Context, asset string) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions
		WHERE asset = $1 AND state != ALL($2)
		ORDER BY signal_at`

	rows, err := s.pool.Query(ctx, query, asset, terminalStates)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions for %s: %w", asset, err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// ListByMarket returns positions for a market, oldest first.
func (s *PositionStore) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Position, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + positionSelectCols + `
		FROM positions WHERE market_id = $1
		ORDER BY signal_at LIMIT $2 OFFSET $3`

	rows, err := s.pool.Query(ctx, query, marketID, limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions for %s: %w", marketID, err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

// ListTerminalBefore returns terminal positions exited before the cutoff,
// used by the cold-storage archiver.
func (s *PositionStore) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + positionSelectCols + `
		FROM positions
		WHERE state = ANY($1) AND exited_at IS NOT NULL AND exited_at < $2
		ORDER BY exited_at LIMIT $3`

	rows, err := s.pool.Query(ctx, query, terminalStates, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list terminal positions: %w", err)
	}
	defer rows.Close()
	return collectPositions(rows)
}

func collectPositions(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
