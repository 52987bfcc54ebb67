package s3blob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/polyflow/updown/internal/domain"
)

// Archiver moves terminal positions and old settlements from the database to
// object-store cold storage as JSON batches.
type Archiver struct {
	writer      domain.BlobWriter
	positions   domain.PositionStore
	settlements domain.SettlementStore
	retention   time.Duration
	batchSize   int
	logger      *slog.Logger
}

func NewArchiver(
	writer domain.BlobWriter,
	positions domain.PositionStore,
	settlements domain.SettlementStore,
	retention time.Duration,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:      writer,
		positions:   positions,
		settlements: settlements,
		retention:   retention,
		batchSize:   500,
		logger:      logger.With(slog.String("component", "archiver")),
	}
}

// Run executes a single archive pass over everything older than the
// retention cutoff.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-a.retention)
	a.logger.Info("starting archive run", slog.Time("cutoff", cutoff))

	nPos, err := a.archivePositions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving positions before %v: %w", cutoff, err)
	}
	nSet, err := a.archiveSettlements(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving settlements before %v: %w", cutoff, err)
	}

	a.logger.Info("archive run complete",
		slog.Int("positions_archived", nPos),
		slog.Int("settlements_archived", nSet),
	)
	return nil
}

// RunLoop runs archive passes on the given interval until ctx is cancelled.
func (a *Archiver) RunLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.Any("error", err))
			}
		}
	}
}

func (a *Archiver) archivePositions(ctx context.Context, cutoff time.Time) (int, error) {
	batch, err := a.positions.ListTerminalBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return 0, fmt.Errorf("marshal positions: %w", err)
	}
	key := archiveKey("positions", cutoff)
	if err := a.writer.Put(ctx, key, body, "application/json"); err != nil {
		return 0, err
	}
	return len(batch), nil
}

func (a *Archiver) archiveSettlements(ctx context.Context, cutoff time.Time) (int, error) {
	batch, err := a.settlements.ListBefore(ctx, cutoff, a.batchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return 0, fmt.Errorf("marshal settlements: %w", err)
	}
	key := archiveKey("settlements", cutoff)
	if err := a.writer.Put(ctx, key, body, "application/json"); err != nil {
		return 0, err
	}
	return len(batch), nil
}

func archiveKey(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s-%d.json", kind, cutoff.Format("2006-01-02"), time.Now().UnixNano())
}
