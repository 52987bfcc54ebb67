// Package detector evaluates entry conditions against normalized feed state
// and tracked market books, and emits directional trade signals.
package detector

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polyflow/updown/internal/config"
	"github.com/polyflow/updown/internal/domain"
)

// Snapshot is an immutable view of the entry thresholds for one asset,
// resolved from the base trading config plus any per-asset override. A
// snapshot is applied atomically per evaluation cycle; config changes take
// effect only for subsequent signals.
type Snapshot struct {
	Enabled             bool
	MinDeltaUSD         float64
	MinSharePrice       float64
	MaxSharePrice       float64
	MinSecondsRemaining float64
	MaxSecondsRemaining float64
	TradeSizeUSD        float64
	MinOrderInterval    time.Duration
	DeltaWindow         time.Duration
}

// SnapshotFor resolves the effective thresholds for an asset.
func SnapshotFor(cfg config.TradingConfig, asset string) Snapshot {
	s := Snapshot{
		Enabled:             cfg.Enabled,
		MinDeltaUSD:         cfg.MinDeltaUSD,
		MinSharePrice:       cfg.MinSharePrice,
		MaxSharePrice:       cfg.MaxSharePrice,
		MinSecondsRemaining: cfg.MinSecondsRemaining,
		MaxSecondsRemaining: cfg.MaxSecondsRemaining,
		TradeSizeUSD:        cfg.TradeSizeUSD,
		MinOrderInterval:    time.Duration(cfg.MinOrderIntervalMs) * time.Millisecond,
		DeltaWindow:         time.Duration(cfg.DeltaWindowSeconds * float64(time.Second)),
	}
	ov, ok := cfg.Overrides[asset]
	if !ok {
		return s
	}
	if ov.Enabled != nil {
		s.Enabled = *ov.Enabled
	}
	if ov.MinDeltaUSD != nil {
		s.MinDeltaUSD = *ov.MinDeltaUSD
	}
	if ov.MinSharePrice != nil {
		s.MinSharePrice = *ov.MinSharePrice
	}
	if ov.MaxSharePrice != nil {
		s.MaxSharePrice = *ov.MaxSharePrice
	}
	if ov.MinSecondsRemaining != nil {
		s.MinSecondsRemaining = *ov.MinSecondsRemaining
	}
	if ov.MaxSecondsRemaining != nil {
		s.MaxSecondsRemaining = *ov.MaxSecondsRemaining
	}
	if ov.TradeSizeUSD != nil {
		s.TradeSizeUSD = *ov.TradeSizeUSD
	}
	if ov.MinOrderIntervalMs != nil {
		s.MinOrderInterval = time.Duration(*ov.MinOrderIntervalMs) * time.Millisecond
	}
	return s
}

// Input bundles the state a single evaluation runs against.
type Input struct {
	Tick        domain.NormalizedTick
	Book        domain.MarketBook
	OraclePrice float64
	OracleOK    bool // false when the oracle feed is stale or unseen
}

type pricePoint struct {
	price float64
	at    time.Time
}

// Detector evaluates the entry algorithm on every normalized tick or quote
// update for an asset whose market is ready.
type Detector struct {
	scorer ToxicityScorer
	logger *slog.Logger

	mu         sync.Mutex
	lastSignal map[string]time.Time    // asset -> last emitted signal time
	fastHist   map[string][]pricePoint // asset -> recent fast prices for the rolling baseline
	askHist    map[string][]AskSample  // marketID+side -> recent ask samples
	askWindow  time.Duration
}

// New creates a Detector with the given toxicity scorer.
func New(scorer ToxicityScorer, askWindow time.Duration, logger *slog.Logger) *Detector {
	if askWindow <= 0 {
		askWindow = 20 * time.Second
	}
	return &Detector{
		scorer:     scorer,
		logger:     logger.With(slog.String("component", "signal_detector")),
		lastSignal: make(map[string]time.Time),
		fastHist:   make(map[string][]pricePoint),
		askHist:    make(map[string][]AskSample),
		askWindow:  askWindow,
	}
}

func askKey(marketID string, side domain.MarketSide) string {
	return marketID + "/" + string(side)
}

// ObserveQuote records an ask sample for toxicity scoring.
func (d *Detector) ObserveQuote(q domain.QuoteUpdate) {
	if q.BestAsk <= 0 {
		return
	}
	at := q.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	key := askKey(q.MarketID, q.Side)
	d.mu.Lock()
	defer d.mu.Unlock()
	hist := append(d.askHist[key], AskSample{Ask: q.BestAsk, Depth: q.DepthAtBest, At: at})
	cutoff := at.Add(-d.askWindow)
	for len(hist) > 0 && hist[0].At.Before(cutoff) {
		hist = hist[1:]
	}
	d.askHist[key] = hist
}

// DropMarket discards ask history for an expired or settled market.
func (d *Detector) DropMarket(marketID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.askHist, askKey(marketID, domain.MarketSideUp))
	delete(d.askHist, askKey(marketID, domain.MarketSideDown))
}

// Evaluate runs the entry algorithm. It returns the emitted signal (nil when
// no entry fires) and the rejections recorded for analysis.
func (d *Detector) Evaluate(in Input, snap Snapshot, now time.Time) (*domain.Signal, []domain.SignalRejection) {
	asset := in.Tick.Asset
	marketID := in.Book.Window.ID

	reject := func(dir domain.MarketSide, delta float64, reason domain.RejectReason, detail string) domain.SignalRejection {
		return domain.SignalRejection{
			Asset:     asset,
			MarketID:  marketID,
			Direction: dir,
			DeltaUSD:  delta,
			Reason:    reason,
			Detail:    detail,
			CreatedAt: now,
		}
	}

	if in.Tick.Source == domain.FeedSourceFast {
		d.recordFast(asset, in.Tick.Price, in.Tick.Timestamp, snap.DeltaWindow)
	}

	if !snap.Enabled {
		return nil, []domain.SignalRejection{reject("", 0, domain.RejectDisabled, "")}
	}
	if !in.Book.Ready {
		return nil, []domain.SignalRejection{reject("", 0, domain.RejectMarketNotReady, "")}
	}

	// Step 1: delta against the reference price. A stale oracle means
	// "unknown", never assumed convergence; fall back to the rolling
	// fast-feed baseline and mark the evaluation degraded.
	fastPrice, ok := d.latestFast(asset)
	if !ok {
		return nil, nil
	}
	degraded := false
	reference := in.OraclePrice
	if !in.OracleOK {
		baseline, ok := d.baseline(asset, now, snap.DeltaWindow)
		if !ok {
			return nil, nil
		}
		reference = baseline
		degraded = true
	}
	deltaUSD := fastPrice - reference

	// Step 2: magnitude gate.
	if math.Abs(deltaUSD) < snap.MinDeltaUSD {
		return nil, []domain.SignalRejection{reject("", deltaUSD, domain.RejectBelowMinDelta,
			fmt.Sprintf("|%.2f| < %.2f", deltaUSD, snap.MinDeltaUSD))}
	}

	// Step 5 (direction-independent): window bounds.
	secsLeft := in.Book.Window.SecondsRemaining(now)
	if secsLeft < snap.MinSecondsRemaining || secsLeft > snap.MaxSecondsRemaining {
		return nil, []domain.SignalRejection{reject("", deltaUSD, domain.RejectWindowOutOfRange,
			fmt.Sprintf("%.0fs remaining", secsLeft))}
	}

	// Step 7 (direction-independent): cooldown.
	if !d.cooldownElapsed(asset, now, snap.MinOrderInterval) {
		return nil, []domain.SignalRejection{reject("", deltaUSD, domain.RejectCooldown, "")}
	}

	// Step 3: direction from the dislocation's sign. A positive dislocation
	// argues the underlying closes above strike more than the UP ask prices
	// in; negative is symmetric for DOWN.
	var direction domain.MarketSide
	switch {
	case deltaUSD >= snap.MinDeltaUSD:
		direction = domain.MarketSideUp
	case -deltaUSD >= snap.MinDeltaUSD:
		direction = domain.MarketSideDown
	default:
		return nil, []domain.SignalRejection{reject("", deltaUSD, domain.RejectNoDirection, "")}
	}

	// Step 4: the ask must price inside the tradeable band.
	ask := in.Book.Top(direction).BestAsk
	if ask < snap.MinSharePrice || ask > snap.MaxSharePrice {
		return nil, []domain.SignalRejection{reject(direction, deltaUSD, domain.RejectAskOutOfBand,
			fmt.Sprintf("ask %.3f outside [%.2f, %.2f]", ask, snap.MinSharePrice, snap.MaxSharePrice))}
	}

	// Step 6: toxicity.
	class, toxReason := d.scoreToxicity(asset, marketID, direction, ask)
	if class == domain.ToxicityToxic {
		return nil, []domain.SignalRejection{reject(direction, deltaUSD, domain.RejectToxic, toxReason)}
	}

	d.markEmitted(asset, now)

	sig := &domain.Signal{
		ID:                 uuid.New().String(),
		Asset:              asset,
		MarketID:           marketID,
		Direction:          direction,
		TriggerDeltaUSD:    deltaUSD,
		SharePriceAtSignal: ask,
		Toxicity:           class,
		ToxicityReason:     toxReason,
		DegradedConfidence: degraded,
		CreatedAt:          now,
	}
	d.logger.Info("signal emitted",
		slog.String("signal_id", sig.ID),
		slog.String("asset", asset),
		slog.String("market_id", marketID),
		slog.String("direction", string(sig.Direction)),
		slog.Float64("delta_usd", sig.TriggerDeltaUSD),
		slog.Float64("share_price", sig.SharePriceAtSignal),
		slog.Bool("degraded", degraded),
	)
	return sig, nil
}

func (d *Detector) scoreToxicity(asset, marketID string, side domain.MarketSide, targetPrice float64) (domain.ToxicityClass, string) {
	if d.scorer == nil {
		return domain.ToxicityClean, ""
	}
	d.mu.Lock()
	samples := append([]AskSample(nil), d.askHist[askKey(marketID, side)]...)
	d.mu.Unlock()
	return d.scorer.Score(asset, side, samples, targetPrice)
}

func (d *Detector) recordFast(asset string, price float64, at time.Time, window time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// Quote-driven evaluations replay the latest tick; the same observation
	// is recorded once.
	if prev := d.fastHist[asset]; len(prev) > 0 {
		if last := prev[len(prev)-1]; last.at.Equal(at) && last.price == price {
			return
		}
	}
	hist := append(d.fastHist[asset], pricePoint{price: price, at: at})
	cutoff := at.Add(-2 * window)
	for len(hist) > 0 && hist[0].at.Before(cutoff) {
		hist = hist[1:]
	}
	d.fastHist[asset] = hist
}

func (d *Detector) latestFast(asset string) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hist := d.fastHist[asset]
	if len(hist) == 0 {
		return 0, false
	}
	return hist[len(hist)-1].price, true
}

// baseline returns the oldest fast price inside the delta window, the rolling
// reference used when the oracle is stale.
func (d *Detector) baseline(asset string, now time.Time, window time.Duration) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	hist := d.fastHist[asset]
	cutoff := now.Add(-window)
	for _, p := range hist {
		if !p.at.Before(cutoff) {
			return p.price, true
		}
	}
	if len(hist) > 0 {
		return hist[len(hist)-1].price, true
	}
	return 0, false
}

func (d *Detector) cooldownElapsed(asset string, now time.Time, interval time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	last, ok := d.lastSignal[asset]
	if !ok {
		return true
	}
	return now.Sub(last) >= interval
}

func (d *Detector) markEmitted(asset string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastSignal[asset] = now
}
