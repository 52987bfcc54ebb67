package detector

import (
	"fmt"
	"math"
	"time"

	"github.com/polyflow/updown/internal/config"
	"github.com/polyflow/updown/internal/domain"
)

// AskSample is one observation of a side's best ask used for adverse-selection
// scoring.
type AskSample struct {
	Ask   float64
	Depth float64
	At    time.Time
}

// ToxicityScorer classifies a candidate entry as likely adverse. The scoring
// formula is pluggable; implementations receive the recent ask samples for
// the candidate side and the price the entry would pay.
type ToxicityScorer interface {
	Score(asset string, side domain.MarketSide, samples []AskSample, targetPrice float64) (domain.ToxicityClass, string)
}

// HeuristicScorer is the default ToxicityScorer. It flags entries when recent
// ask volatility is high or when liquidity at the best ask has been pulled
// toward the target price.
type HeuristicScorer struct {
	cfg config.ToxicityConfig
}

// NewHeuristicScorer creates a HeuristicScorer from config.
func NewHeuristicScorer(cfg config.ToxicityConfig) *HeuristicScorer {
	return &HeuristicScorer{cfg: cfg}
}

// Score implements ToxicityScorer.
func (h *HeuristicScorer) Score(_ string, _ domain.MarketSide, samples []AskSample, targetPrice float64) (domain.ToxicityClass, string) {
	if !h.cfg.Enabled {
		return domain.ToxicityClean, ""
	}
	if len(samples) < h.cfg.MinSamples {
		// Not enough history to judge; do not block the entry.
		return domain.ToxicityUnknown, "insufficient_samples"
	}

	mean, variance := 0.0, 0.0
	maxDepth := 0.0
	for _, s := range samples {
		mean += s.Ask
		if s.Depth > maxDepth {
			maxDepth = s.Depth
		}
	}
	mean /= float64(len(samples))
	for _, s := range samples {
		d := s.Ask - mean
		variance += d * d
	}
	variance /= float64(len(samples))
	vol := math.Sqrt(variance)

	if mean > 0 && vol/mean > h.cfg.MaxAskVolatility {
		return domain.ToxicityToxic, fmt.Sprintf("ask_volatility %.4f", vol/mean)
	}

	latest := samples[len(samples)-1]
	if maxDepth > 0 && latest.Depth < maxDepth*h.cfg.LiquidityPullRatio &&
		math.Abs(latest.Ask-targetPrice) < 0.02 {
		return domain.ToxicityToxic, fmt.Sprintf("liquidity_pull depth=%.1f peak=%.1f", latest.Depth, maxDepth)
	}

	return domain.ToxicityClean, ""
}
