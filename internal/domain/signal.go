package domain

import "time"

// ToxicityClass is the adverse-selection classification attached to a
// candidate entry by the toxicity scorer.
type ToxicityClass string

const (
	ToxicityClean   ToxicityClass = "clean"
	ToxicityToxic   ToxicityClass = "toxic"
	ToxicityUnknown ToxicityClass = "unknown"
)

// Signal is a directional trade signal emitted by the detector. Immutable
// once created; at most one non-terminal position may reference a signal ID.
type Signal struct {
	ID                 string
	Asset              string
	MarketID           string
	Direction          MarketSide
	TriggerDeltaUSD    float64
	SharePriceAtSignal float64 // best ask of the chosen side at emit time
	Toxicity           ToxicityClass
	ToxicityReason     string
	DegradedConfidence bool // oracle feed was stale, rolling baseline used
	CreatedAt          time.Time
}

// RejectReason codes why a candidate entry did not produce a signal. Rejected
// candidates are logged for toxicity/correction analysis, never traded.
type RejectReason string

const (
	RejectBelowMinDelta    RejectReason = "below_min_delta"
	RejectAskOutOfBand     RejectReason = "ask_out_of_band"
	RejectWindowOutOfRange RejectReason = "window_out_of_range"
	RejectToxic            RejectReason = "toxic"
	RejectCooldown         RejectReason = "cooldown"
	RejectMarketNotReady   RejectReason = "market_not_ready"
	RejectNoDirection      RejectReason = "no_direction"
	RejectDisabled         RejectReason = "disabled"
)

// SignalRejection records a candidate that failed entry conditions.
type SignalRejection struct {
	Asset     string
	MarketID  string
	Direction MarketSide
	DeltaUSD  float64
	Reason    RejectReason
	Detail    string
	CreatedAt time.Time
}
