package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyflow/updown/internal/domain"
)

// recordingPlacer captures requests and returns a scripted result.
type recordingPlacer struct {
	reqs []domain.OrderRequest
	res  domain.OrderResult
	err  error
}

func (p *recordingPlacer) PlaceOrder(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	p.reqs = append(p.reqs, req)
	return p.res, p.err
}

func testSignal(id string) domain.Signal {
	return domain.Signal{
		ID:                 id,
		Asset:              "BTC",
		MarketID:           "BTC-65000.00-1",
		Direction:          domain.MarketSideUp,
		SharePriceAtSignal: 0.40,
	}
}

func TestExecutor_SizesOrderFromTradeSize(t *testing.T) {
	placer := &recordingPlacer{res: domain.OrderResult{Filled: true, FilledShares: 125, FilledPrice: 0.40}}
	e := NewExecutor(placer, 0, 3_000, testLogger())

	res, err := e.Execute(context.Background(), testSignal("s-1"), 50)
	require.NoError(t, err)
	assert.True(t, res.Filled)

	require.Len(t, placer.reqs, 1)
	req := placer.reqs[0]
	assert.Equal(t, "ud-s-1", req.ClientOrderID)
	assert.InDelta(t, 125.0, req.Shares, 1e-9) // $50 at $0.40
	assert.Equal(t, 0.40, req.LimitPrice)
	assert.Equal(t, int64(3_000), req.TimeoutMs)
}

func TestExecutor_DeduplicatesSignal(t *testing.T) {
	placer := &recordingPlacer{res: domain.OrderResult{Filled: true, FilledShares: 125, FilledPrice: 0.40}}
	e := NewExecutor(placer, 0, 3_000, testLogger())

	_, err := e.Execute(context.Background(), testSignal("s-1"), 50)
	require.NoError(t, err)

	res, err := e.Execute(context.Background(), testSignal("s-1"), 50)
	require.NoError(t, err)
	assert.False(t, res.Filled)
	assert.Equal(t, "duplicate signal", res.Message)
	assert.Len(t, placer.reqs, 1)
}

func TestExecutor_ExposureGuard(t *testing.T) {
	placer := &recordingPlacer{res: domain.OrderResult{Filled: true, FilledShares: 125, FilledPrice: 0.40}}
	e := NewExecutor(placer, 100, 3_000, testLogger())

	_, err := e.Execute(context.Background(), testSignal("s-1"), 60)
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), testSignal("s-2"), 60)
	require.ErrorIs(t, err, domain.ErrExposureExceeded)
	assert.Len(t, placer.reqs, 1)

	// A closed position returns its notional to the guard.
	e.ReleaseExposure("BTC", 60)
	_, err = e.Execute(context.Background(), testSignal("s-3"), 60)
	assert.NoError(t, err)
}

func TestExecutor_PriceImprovementDoesNotStrandExposure(t *testing.T) {
	// $50 requested, filled for $40 at a better price. Releasing the entry
	// cost afterwards must return the guard all the way to zero.
	placer := &recordingPlacer{res: domain.OrderResult{Filled: true, FilledShares: 100, FilledPrice: 0.40}}
	e := NewExecutor(placer, 100, 3_000, testLogger())

	sig := testSignal("s-1")
	sig.SharePriceAtSignal = 0.50
	_, err := e.Execute(context.Background(), sig, 50)
	require.NoError(t, err)

	e.ReleaseExposure("BTC", 40) // entry cost of the fill
	_, err = e.Execute(context.Background(), testSignal("s-2"), 100)
	assert.NoError(t, err, "guard must be empty after a flat round trip")
}

func TestExecutor_UnfilledOrderReleasesExposure(t *testing.T) {
	placer := &recordingPlacer{res: domain.OrderResult{TimedOut: true}}
	e := NewExecutor(placer, 100, 3_000, testLogger())

	res, err := e.Execute(context.Background(), testSignal("s-1"), 60)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)

	// The timeout freed the headroom; the next entry fits.
	placer.res = domain.OrderResult{Filled: true}
	_, err = e.Execute(context.Background(), testSignal("s-2"), 60)
	assert.NoError(t, err)
}

func TestExecutor_RejectsSignalWithoutPrice(t *testing.T) {
	e := NewExecutor(&recordingPlacer{}, 0, 3_000, testLogger())
	sig := testSignal("s-1")
	sig.SharePriceAtSignal = 0

	_, err := e.Execute(context.Background(), sig, 50)
	assert.Error(t, err)
}

func TestExecutor_PlaceHedgeBypassesGuard(t *testing.T) {
	placer := &recordingPlacer{res: domain.OrderResult{Filled: true, FilledShares: 40, FilledPrice: 0.55}}
	e := NewExecutor(placer, 1, 3_000, testLogger())

	res, err := e.PlaceHedge(context.Background(), domain.HedgeIntent{
		ID:            "h-1",
		MarketID:      "BTC-65000.00-1",
		SideNotHedged: domain.MarketSideDown,
		IntendedQty:   40,
		LimitPrice:    0.55,
		Attempts:      1,
	})
	require.NoError(t, err)
	assert.True(t, res.Filled)

	require.Len(t, placer.reqs, 1)
	req := placer.reqs[0]
	assert.Equal(t, "hd-h-1-1", req.ClientOrderID, "attempt number keys the retry")
	assert.Equal(t, domain.MarketSideDown, req.Side)
	assert.Equal(t, 40.0, req.Shares)
}
