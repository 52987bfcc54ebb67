package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/polyflow/updown/internal/domain"
	"github.com/polyflow/updown/internal/engine"
)

// replayEvent is one line of a recorded JSONL stream.
type replayEvent struct {
	Type string `json:"type"` // "price", "quote", "window", "resolved"
	TS   int64  `json:"ts"`   // Unix milliseconds

	// price
	Asset  string  `json:"asset,omitempty"`
	Source string  `json:"source,omitempty"`
	Price  float64 `json:"price,omitempty"`

	// quote
	MarketID    string  `json:"market_id,omitempty"`
	Side        string  `json:"side,omitempty"`
	BestBid     float64 `json:"best_bid,omitempty"`
	BestAsk     float64 `json:"best_ask,omitempty"`
	DepthAtBest float64 `json:"depth_at_best,omitempty"`

	// window
	Strike    float64 `json:"strike,omitempty"`
	OpensAt   int64   `json:"opens_at,omitempty"`
	ExpiresAt int64   `json:"expires_at,omitempty"`

	// resolved
	WinningSide string `json:"winning_side,omitempty"`
}

// Replayer feeds a recorded event stream into the engine, pacing events by
// their recorded inter-arrival times scaled by speed.
type Replayer struct {
	path   string
	speed  float64
	eng    *engine.Engine
	logger *slog.Logger
}

func NewReplayer(path string, speed float64, eng *engine.Engine, logger *slog.Logger) *Replayer {
	if speed <= 0 {
		speed = 1
	}
	return &Replayer{
		path:   path,
		speed:  speed,
		eng:    eng,
		logger: logger.With(slog.String("component", "replayer")),
	}
}

// Run replays the file until it is exhausted or ctx is cancelled.
func (r *Replayer) Run(ctx context.Context) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("replay: open %s: %w", r.path, err)
	}
	defer f.Close()

	r.logger.Info("replay started", slog.String("file", r.path), slog.Float64("speed", r.speed))

	var (
		count  int
		lastTS int64
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev replayEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			r.logger.Warn("skipping bad replay line", slog.Any("error", err))
			continue
		}

		if lastTS > 0 && ev.TS > lastTS {
			wait := time.Duration(float64(ev.TS-lastTS) / r.speed * float64(time.Millisecond))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
		lastTS = ev.TS

		r.apply(ctx, ev)
		count++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("replay: read %s: %w", r.path, err)
	}

	r.logger.Info("replay finished", slog.Int("events", count))
	return nil
}

func (r *Replayer) apply(ctx context.Context, ev replayEvent) {
	ts := time.UnixMilli(ev.TS).UTC()
	switch ev.Type {
	case "price":
		r.eng.Normalizer().Ingest(ctx, domain.PriceTick{
			Asset:     ev.Asset,
			Source:    domain.FeedSource(ev.Source),
			Price:     ev.Price,
			Timestamp: ts,
		})
	case "quote":
		r.eng.OnQuote(ctx, domain.QuoteUpdate{
			Asset:       ev.Asset,
			MarketID:    ev.MarketID,
			Side:        domain.MarketSide(ev.Side),
			BestBid:     ev.BestBid,
			BestAsk:     ev.BestAsk,
			DepthAtBest: ev.DepthAtBest,
			Timestamp:   ts,
		})
	case "window":
		r.eng.OnWindow(ctx, domain.MarketWindow{
			ID:        ev.MarketID,
			Asset:     ev.Asset,
			Strike:    ev.Strike,
			OpensAt:   time.UnixMilli(ev.OpensAt).UTC(),
			ExpiresAt: time.UnixMilli(ev.ExpiresAt).UTC(),
		})
	case "resolved":
		r.eng.OnResolved(ctx, domain.MarketResolved{
			MarketID:    ev.MarketID,
			WinningSide: domain.MarketSide(ev.WinningSide),
			ResolvedAt:  ts,
		})
	default:
		r.logger.Warn("unknown replay event type", slog.String("type", ev.Type))
	}
}
