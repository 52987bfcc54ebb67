package notify

import (
	"context"
	"fmt"

	"github.com/polyflow/updown/internal/domain"
)

// Event types recognized by the notifier filter.
const (
	EventSignal     = "signal"
	EventFailure    = "failure"
	EventHedgeSkip  = "hedge_skip"
	EventSettlement = "settlement"
)

// RecordSink implements domain.RecordSink by forwarding noteworthy records
// as operator notifications. Routine transitions stay quiet; failures, hedge
// skips, and settlements are pushed.
type RecordSink struct {
	notifier *Notifier
}

func NewRecordSink(notifier *Notifier) *RecordSink {
	return &RecordSink{notifier: notifier}
}

func (s *RecordSink) SignalEmitted(ctx context.Context, sig domain.Signal) {
	_ = s.notifier.Notify(ctx, EventSignal,
		fmt.Sprintf("Signal %s %s", sig.Asset, sig.Direction),
		fmt.Sprintf("market=%s delta=$%.2f ask=%.3f toxicity=%s",
			sig.MarketID, sig.TriggerDeltaUSD, sig.SharePriceAtSignal, sig.Toxicity),
	)
}

func (s *RecordSink) SignalRejected(context.Context, domain.SignalRejection) {}

func (s *RecordSink) PositionChanged(ctx context.Context, pos domain.Position) {
	if pos.State != domain.PositionFailed {
		return
	}
	_ = s.notifier.Notify(ctx, EventFailure,
		fmt.Sprintf("Position failed %s", pos.Asset),
		fmt.Sprintf("signal=%s market=%s reason=%s", pos.SignalID, pos.MarketID, pos.FailReason),
	)
}

func (s *RecordSink) HedgeIssued(ctx context.Context, intent domain.HedgeIntent) {
	if intent.Status != domain.HedgeStatusAborted {
		return
	}
	_ = s.notifier.Notify(ctx, EventHedgeSkip,
		"Hedge skipped",
		fmt.Sprintf("market=%s side=%s qty=%.2f reason=%s",
			intent.MarketID, intent.SideNotHedged, intent.IntendedQty, intent.AbortReason),
	)
}

func (s *RecordSink) MarketSettled(ctx context.Context, res domain.SettlementResult) {
	_ = s.notifier.Notify(ctx, EventSettlement,
		fmt.Sprintf("Market settled %s", res.MarketID),
		fmt.Sprintf("winner=%s class=%s pnl=$%.2f drift=%s",
			res.WinningSide, res.Classification, res.RealizedPnL, res.Drift),
	)
}

var _ domain.RecordSink = (*RecordSink)(nil)
