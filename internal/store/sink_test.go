package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/polyflow/updown/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubHedgeStore records which persistence path each intent record took.
type stubHedgeStore struct {
	created []domain.HedgeIntent
	updated []string
	known   map[string]bool
}

func (s *stubHedgeStore) Create(_ context.Context, intent domain.HedgeIntent) error {
	if s.known == nil {
		s.known = make(map[string]bool)
	}
	s.created = append(s.created, intent)
	s.known[intent.ID] = true
	return nil
}

func (s *stubHedgeStore) UpdateStatus(_ context.Context, id string, _ domain.HedgeStatus, _ domain.HedgeSkipReason) error {
	if !s.known[id] {
		return domain.ErrNotFound
	}
	s.updated = append(s.updated, id)
	return nil
}

func (s *stubHedgeStore) ListByMarket(context.Context, string, domain.ListOpts) ([]domain.HedgeIntent, error) {
	return nil, nil
}

func newHedgeSink(hedges domain.HedgeIntentStore) *Sink {
	return NewSink(nil, nil, hedges, nil, testLogger())
}

func TestSink_HedgeResolutionUpdatesExistingRow(t *testing.T) {
	hedges := &stubHedgeStore{}
	s := newHedgeSink(hedges)
	ctx := context.Background()

	pending := domain.HedgeIntent{ID: "h-1", Status: domain.HedgeStatusPending, CreatedAt: time.Now()}
	s.HedgeIssued(ctx, pending)

	resolved := pending
	resolved.Status = domain.HedgeStatusFilled
	resolved.ResolvedAt = time.Now()
	s.HedgeIssued(ctx, resolved)

	assert.Len(t, hedges.created, 1)
	assert.Equal(t, []string{"h-1"}, hedges.updated)
}

func TestSink_TerminalIntentWithoutAnnouncementInserts(t *testing.T) {
	hedges := &stubHedgeStore{}
	s := newHedgeSink(hedges)

	s.HedgeIssued(context.Background(), domain.HedgeIntent{
		ID:          "h-2",
		Status:      domain.HedgeStatusAborted,
		AbortReason: domain.HedgeSkipNoLiquidity,
		CreatedAt:   time.Now(),
		ResolvedAt:  time.Now(),
	})

	assert.Len(t, hedges.created, 1)
	assert.Empty(t, hedges.updated)
}
