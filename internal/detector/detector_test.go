package detector

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyflow/updown/internal/config"
	"github.com/polyflow/updown/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSnapshot() Snapshot {
	return Snapshot{
		Enabled:             true,
		MinDeltaUSD:         10,
		MinSharePrice:       0.10,
		MaxSharePrice:       0.90,
		MinSecondsRemaining: 30,
		MaxSecondsRemaining: 600,
		TradeSizeUSD:        50,
		MinOrderInterval:    5 * time.Second,
		DeltaWindow:         30 * time.Second,
	}
}

func readyBook(now time.Time, secsLeft float64, upAsk, downAsk float64) domain.MarketBook {
	expires := now.Add(time.Duration(secsLeft * float64(time.Second)))
	return domain.MarketBook{
		Window: domain.MarketWindow{
			ID:        domain.WindowID("BTC", 65000, expires),
			Asset:     "BTC",
			Strike:    65000,
			ExpiresAt: expires,
		},
		Up:    domain.BookTop{BestBid: upAsk - 0.02, BestAsk: upAsk, DepthAtBest: 500, UpdatedAt: now},
		Down:  domain.BookTop{BestBid: downAsk - 0.02, BestAsk: downAsk, DepthAtBest: 500, UpdatedAt: now},
		Ready: true,
	}
}

func fastInput(book domain.MarketBook, price, oracle float64, now time.Time) Input {
	return Input{
		Tick: domain.NormalizedTick{
			Asset:     "BTC",
			Source:    domain.FeedSourceFast,
			Price:     price,
			Timestamp: now,
		},
		Book:        book,
		OraclePrice: oracle,
		OracleOK:    true,
	}
}

// stubScorer returns a fixed classification.
type stubScorer struct {
	class  domain.ToxicityClass
	reason string
}

func (s stubScorer) Score(string, domain.MarketSide, []AskSample, float64) (domain.ToxicityClass, string) {
	return s.class, s.reason
}

func TestEvaluate_EmitsUpSignal(t *testing.T) {
	d := New(stubScorer{class: domain.ToxicityClean}, 20*time.Second, testLogger())
	now := time.Now()
	book := readyBook(now, 90, 0.40, 0.60)

	sig, rejections := d.Evaluate(fastInput(book, 65012, 65000, now), testSnapshot(), now)

	require.NotNil(t, sig)
	assert.Empty(t, rejections)
	assert.Equal(t, domain.MarketSideUp, sig.Direction)
	assert.InDelta(t, 12.0, sig.TriggerDeltaUSD, 1e-9)
	assert.Equal(t, 0.40, sig.SharePriceAtSignal)
	assert.Equal(t, book.Window.ID, sig.MarketID)
	assert.False(t, sig.DegradedConfidence)
	assert.NotEmpty(t, sig.ID)
}

func TestEvaluate_EmitsDownSignalOnNegativeDelta(t *testing.T) {
	d := New(stubScorer{class: domain.ToxicityClean}, 20*time.Second, testLogger())
	now := time.Now()
	book := readyBook(now, 90, 0.40, 0.55)

	sig, _ := d.Evaluate(fastInput(book, 64985, 65000, now), testSnapshot(), now)

	require.NotNil(t, sig)
	assert.Equal(t, domain.MarketSideDown, sig.Direction)
	assert.Equal(t, 0.55, sig.SharePriceAtSignal)
}

func TestEvaluate_BelowMinDelta(t *testing.T) {
	d := New(stubScorer{class: domain.ToxicityClean}, 20*time.Second, testLogger())
	now := time.Now()
	book := readyBook(now, 90, 0.40, 0.60)

	sig, rejections := d.Evaluate(fastInput(book, 65004, 65000, now), testSnapshot(), now)

	assert.Nil(t, sig)
	require.Len(t, rejections, 1)
	assert.Equal(t, domain.RejectBelowMinDelta, rejections[0].Reason)
}

func TestEvaluate_MarketNotReady(t *testing.T) {
	d := New(stubScorer{class: domain.ToxicityClean}, 20*time.Second, testLogger())
	now := time.Now()
	book := readyBook(now, 90, 0.40, 0.60)
	book.Ready = false

	sig, rejections := d.Evaluate(fastInput(book, 65012, 65000, now), testSnapshot(), now)

	assert.Nil(t, sig)
	require.Len(t, rejections, 1)
	assert.Equal(t, domain.RejectMarketNotReady, rejections[0].Reason)
}

func TestEvaluate_Disabled(t *testing.T) {
	d := New(stubScorer{class: domain.ToxicityClean}, 20*time.Second, testLogger())
	now := time.Now()
	snap := testSnapshot()
	snap.Enabled = false

	sig, rejections := d.Evaluate(fastInput(readyBook(now, 90, 0.40, 0.60), 65012, 65000, now), snap, now)

	assert.Nil(t, sig)
	require.Len(t, rejections, 1)
	assert.Equal(t, domain.RejectDisabled, rejections[0].Reason)
}

func TestEvaluate_WindowOutOfRange(t *testing.T) {
	d := New(stubScorer{class: domain.ToxicityClean}, 20*time.Second, testLogger())
	now := time.Now()

	sig, rejections := d.Evaluate(fastInput(readyBook(now, 15, 0.40, 0.60), 65012, 65000, now), testSnapshot(), now)
	assert.Nil(t, sig)
	require.Len(t, rejections, 1)
	assert.Equal(t, domain.RejectWindowOutOfRange, rejections[0].Reason)

	sig, rejections = d.Evaluate(fastInput(readyBook(now, 3600, 0.40, 0.60), 65012, 65000, now), testSnapshot(), now)
	assert.Nil(t, sig)
	require.Len(t, rejections, 1)
	assert.Equal(t, domain.RejectWindowOutOfRange, rejections[0].Reason)
}

func TestEvaluate_AskOutOfBand(t *testing.T) {
	d := New(stubScorer{class: domain.ToxicityClean}, 20*time.Second, testLogger())
	now := time.Now()
	book := readyBook(now, 90, 0.95, 0.05)

	sig, rejections := d.Evaluate(fastInput(book, 65012, 65000, now), testSnapshot(), now)

	assert.Nil(t, sig)
	require.Len(t, rejections, 1)
	assert.Equal(t, domain.RejectAskOutOfBand, rejections[0].Reason)
	assert.Equal(t, domain.MarketSideUp, rejections[0].Direction)
}

func TestEvaluate_ToxicCandidateRejected(t *testing.T) {
	d := New(stubScorer{class: domain.ToxicityToxic, reason: "ask_volatility 0.0800"}, 20*time.Second, testLogger())
	now := time.Now()

	sig, rejections := d.Evaluate(fastInput(readyBook(now, 90, 0.40, 0.60), 65012, 65000, now), testSnapshot(), now)

	assert.Nil(t, sig)
	require.Len(t, rejections, 1)
	assert.Equal(t, domain.RejectToxic, rejections[0].Reason)
	assert.Equal(t, "ask_volatility 0.0800", rejections[0].Detail)
}

func TestEvaluate_CooldownBlocksSecondSignal(t *testing.T) {
	d := New(stubScorer{class: domain.ToxicityClean}, 20*time.Second, testLogger())
	now := time.Now()
	book := readyBook(now, 90, 0.40, 0.60)

	sig, _ := d.Evaluate(fastInput(book, 65012, 65000, now), testSnapshot(), now)
	require.NotNil(t, sig)

	// Still dislocated two seconds later; the per-asset interval holds.
	later := now.Add(2 * time.Second)
	sig, rejections := d.Evaluate(fastInput(book, 65013, 65000, later), testSnapshot(), later)
	assert.Nil(t, sig)
	require.Len(t, rejections, 1)
	assert.Equal(t, domain.RejectCooldown, rejections[0].Reason)

	// After the interval the same condition fires again.
	afterCooldown := now.Add(6 * time.Second)
	sig, _ = d.Evaluate(fastInput(book, 65013, 65000, afterCooldown), testSnapshot(), afterCooldown)
	assert.NotNil(t, sig)
}

func TestEvaluate_StaleOracleDegradesToBaseline(t *testing.T) {
	d := New(stubScorer{class: domain.ToxicityClean}, 20*time.Second, testLogger())
	base := time.Now()
	book := readyBook(base, 300, 0.40, 0.60)

	// Seed the rolling baseline with an on-oracle observation.
	sig, _ := d.Evaluate(fastInput(book, 65000, 65000, base), testSnapshot(), base)
	require.Nil(t, sig)

	now := base.Add(10 * time.Second)
	in := fastInput(book, 65012, 0, now)
	in.OracleOK = false
	sig, _ = d.Evaluate(in, testSnapshot(), now)

	require.NotNil(t, sig)
	assert.Equal(t, domain.MarketSideUp, sig.Direction)
	assert.InDelta(t, 12.0, sig.TriggerDeltaUSD, 1e-9)
	assert.True(t, sig.DegradedConfidence)
}

func TestEvaluate_NoFastHistoryEmitsNothing(t *testing.T) {
	d := New(stubScorer{class: domain.ToxicityClean}, 20*time.Second, testLogger())
	now := time.Now()
	book := readyBook(now, 90, 0.40, 0.60)

	in := Input{
		Tick:        domain.NormalizedTick{Asset: "BTC", Source: domain.FeedSourceOracle, Price: 65000, Timestamp: now},
		Book:        book,
		OraclePrice: 65000,
		OracleOK:    true,
	}
	sig, rejections := d.Evaluate(in, testSnapshot(), now)
	assert.Nil(t, sig)
	assert.Empty(t, rejections)
}

func TestSnapshotFor_Overrides(t *testing.T) {
	cfg := config.Defaults().Trading
	minDelta := 25.0
	disabled := false
	cfg.Overrides = map[string]config.AssetOverride{
		"ETH": {MinDeltaUSD: &minDelta},
		"SOL": {Enabled: &disabled},
	}

	base := SnapshotFor(cfg, "BTC")
	assert.Equal(t, cfg.MinDeltaUSD, base.MinDeltaUSD)
	assert.True(t, base.Enabled)

	eth := SnapshotFor(cfg, "ETH")
	assert.Equal(t, 25.0, eth.MinDeltaUSD)
	assert.Equal(t, cfg.MaxSharePrice, eth.MaxSharePrice)

	sol := SnapshotFor(cfg, "SOL")
	assert.False(t, sol.Enabled)
}
