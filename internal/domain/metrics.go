package domain

// RunMetrics is a derived, read-only aggregate over terminal positions and
// settlement results. It is rebuilt from the underlying entities and must
// never be treated as a source of truth for open risk.
type RunMetrics struct {
	SignalsEmitted   int64
	SignalsRejected  int64
	ToxicityFiltered int64
	Fills            int64
	Wins             int64
	Losses           int64
	Corrections      int64 // entries exited by stop-loss
	HedgesIssued     int64
	HedgesSkipped    int64
	MarketsSettled   int64
	RealizedPnLUSD   float64
	FeesPaidUSD      float64
}

// WinRate returns wins over decided outcomes, zero when nothing has settled.
func (m RunMetrics) WinRate() float64 {
	decided := m.Wins + m.Losses
	if decided == 0 {
		return 0
	}
	return float64(m.Wins) / float64(decided)
}

// CorrectionRate returns stop-loss exits over fills.
func (m RunMetrics) CorrectionRate() float64 {
	if m.Fills == 0 {
		return 0
	}
	return float64(m.Corrections) / float64(m.Fills)
}

// RebuildMetrics recomputes RunMetrics from scratch over the given entities.
func RebuildMetrics(positions []Position, settlements []SettlementResult, rejections []SignalRejection, hedges []HedgeIntent) RunMetrics {
	var m RunMetrics
	for _, p := range positions {
		m.SignalsEmitted++
		if p.FilledShares > 0 {
			m.Fills++
			m.FeesPaidUSD += p.EntryFeeUSD + p.ExitFeeUSD
		}
		if !p.State.Terminal() {
			continue
		}
		switch p.State {
		case PositionSoldTP, PositionSettledWin:
			m.Wins++
		case PositionSettledLoss:
			m.Losses++
		case PositionSoldSL:
			m.Losses++
			m.Corrections++
		}
		m.RealizedPnLUSD += p.PnLNet
	}
	for _, r := range rejections {
		m.SignalsRejected++
		if r.Reason == RejectToxic {
			m.ToxicityFiltered++
		}
	}
	for _, h := range hedges {
		m.HedgesIssued++
		if h.Status == HedgeStatusAborted {
			m.HedgesSkipped++
		}
	}
	m.MarketsSettled = int64(len(settlements))
	return m
}
