package executor

import "github.com/polyflow/updown/internal/domain"

// FeeSchedule applies the venue's fee/rebate schedule in basis points of
// notional. Taker fills pay the fee; maker fills earn a rebate, which comes
// back as a negative fee.
type FeeSchedule struct {
	TakerFeeBps    float64
	MakerRebateBps float64
}

// FeeUSD returns the signed fee for a fill of the given kind and notional.
func (f FeeSchedule) FeeUSD(kind domain.FillKind, notional float64) float64 {
	switch kind {
	case domain.FillKindTaker:
		return notional * f.TakerFeeBps / 10_000
	case domain.FillKindMaker:
		return -notional * f.MakerRebateBps / 10_000
	}
	return 0
}

// Classify decides maker vs taker for a limit buy at limitPrice against the
// current best ask: a limit that does not need to cross the spread rests in
// the book (maker); one at or through the ask crosses immediately (taker).
func (f FeeSchedule) Classify(limitPrice, bestAsk float64) domain.FillKind {
	if bestAsk > 0 && limitPrice >= bestAsk {
		return domain.FillKindTaker
	}
	return domain.FillKindMaker
}
