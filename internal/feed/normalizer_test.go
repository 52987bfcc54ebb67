package feed

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyflow/updown/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func collectTicks(out *[]domain.NormalizedTick) TickHandler {
	return func(_ context.Context, tick domain.NormalizedTick) {
		*out = append(*out, tick)
	}
}

func TestNormalizer_DeltaPerSource(t *testing.T) {
	var ticks []domain.NormalizedTick
	n := NewNormalizer(10*time.Second, collectTicks(&ticks), nil, testLogger())

	base := time.Now()
	n.Ingest(context.Background(), domain.PriceTick{Asset: "BTC", Source: domain.FeedSourceFast, Price: 65000, Timestamp: base})
	n.Ingest(context.Background(), domain.PriceTick{Asset: "BTC", Source: domain.FeedSourceFast, Price: 65012, Timestamp: base.Add(time.Second)})

	require.Len(t, ticks, 2)
	assert.Equal(t, 0.0, ticks[0].Delta, "first observation has no delta")
	assert.InDelta(t, 12.0, ticks[1].Delta, 1e-9)
}

func TestNormalizer_DeltaIsolatedBetweenSources(t *testing.T) {
	var ticks []domain.NormalizedTick
	n := NewNormalizer(10*time.Second, collectTicks(&ticks), nil, testLogger())

	base := time.Now()
	n.Ingest(context.Background(), domain.PriceTick{Asset: "BTC", Source: domain.FeedSourceFast, Price: 65000, Timestamp: base})
	n.Ingest(context.Background(), domain.PriceTick{Asset: "BTC", Source: domain.FeedSourceOracle, Price: 64990, Timestamp: base})
	n.Ingest(context.Background(), domain.PriceTick{Asset: "BTC", Source: domain.FeedSourceOracle, Price: 64995, Timestamp: base.Add(time.Second)})

	require.Len(t, ticks, 3)
	assert.Equal(t, 0.0, ticks[1].Delta)
	assert.InDelta(t, 5.0, ticks[2].Delta, 1e-9)
}

func TestNormalizer_InterFeedLag(t *testing.T) {
	var ticks []domain.NormalizedTick
	n := NewNormalizer(10*time.Second, collectTicks(&ticks), nil, testLogger())

	base := time.Now()
	n.Ingest(context.Background(), domain.PriceTick{Asset: "BTC", Source: domain.FeedSourceOracle, Price: 64990, Timestamp: base})
	n.Ingest(context.Background(), domain.PriceTick{Asset: "BTC", Source: domain.FeedSourceFast, Price: 65000, Timestamp: base.Add(3 * time.Second)})

	require.Len(t, ticks, 2)
	assert.Equal(t, 3*time.Second, ticks[1].InterFeedLag)
}

func TestNormalizer_StalenessFlag(t *testing.T) {
	var ticks []domain.NormalizedTick
	n := NewNormalizer(10*time.Second, collectTicks(&ticks), nil, testLogger())

	base := time.Now()
	n.Ingest(context.Background(), domain.PriceTick{Asset: "BTC", Source: domain.FeedSourceOracle, Price: 64990, Timestamp: base})
	n.Ingest(context.Background(), domain.PriceTick{Asset: "BTC", Source: domain.FeedSourceFast, Price: 65000, Timestamp: base.Add(time.Second)})
	require.Len(t, ticks, 2)
	assert.False(t, ticks[1].OracleStale)

	// The oracle goes quiet past the gap bound; the fast feed keeps flowing
	// and its ticks carry the degraded-oracle flag.
	n.Ingest(context.Background(), domain.PriceTick{Asset: "BTC", Source: domain.FeedSourceFast, Price: 65020, Timestamp: base.Add(15 * time.Second)})
	require.Len(t, ticks, 3)
	assert.False(t, ticks[2].FastStale)
	assert.True(t, ticks[2].OracleStale)

	assert.True(t, n.Stale("BTC", domain.FeedSourceOracle, base.Add(15*time.Second)))
	assert.False(t, n.Stale("BTC", domain.FeedSourceOracle, base.Add(5*time.Second)))
}

func TestNormalizer_UnseenSourceIsStale(t *testing.T) {
	n := NewNormalizer(10*time.Second, nil, nil, testLogger())
	assert.True(t, n.Stale("BTC", domain.FeedSourceFast, time.Now()))
}

func TestNormalizer_LastPrice(t *testing.T) {
	n := NewNormalizer(10*time.Second, nil, nil, testLogger())

	_, _, ok := n.LastPrice("BTC", domain.FeedSourceFast)
	assert.False(t, ok)

	ts := time.Now()
	n.Ingest(context.Background(), domain.PriceTick{Asset: "BTC", Source: domain.FeedSourceFast, Price: 65000, Timestamp: ts})
	price, at, ok := n.LastPrice("BTC", domain.FeedSourceFast)
	require.True(t, ok)
	assert.Equal(t, 65000.0, price)
	assert.Equal(t, ts, at)
}

func TestNormalizer_DropsInvalidTicks(t *testing.T) {
	var ticks []domain.NormalizedTick
	n := NewNormalizer(10*time.Second, collectTicks(&ticks), nil, testLogger())

	n.Ingest(context.Background(), domain.PriceTick{Asset: "", Source: domain.FeedSourceFast, Price: 65000})
	n.Ingest(context.Background(), domain.PriceTick{Asset: "BTC", Source: domain.FeedSourceFast, Price: 0})
	n.Ingest(context.Background(), domain.PriceTick{Asset: "BTC", Source: domain.FeedSourceFast, Price: -5})

	assert.Empty(t, ticks)
}
