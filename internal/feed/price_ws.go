package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/polyflow/updown/internal/domain"
)

// priceMessage is the wire shape of a tick on the price streams.
type priceMessage struct {
	Asset     string  `json:"asset"`
	Price     float64 `json:"price"`
	Timestamp string  `json:"ts"`
}

// PriceWSFeed consumes a price stream (fast exchange feed or settlement
// oracle feed) and forwards each tick into the normalizer tagged with its
// source.
type PriceWSFeed struct {
	stream     *wsStream
	source     domain.FeedSource
	normalizer *Normalizer
	logger     *slog.Logger
}

// NewPriceWSFeed creates a feed for the given source subscribed to assets.
func NewPriceWSFeed(wsURL string, source domain.FeedSource, assets []string, normalizer *Normalizer, logger *slog.Logger) *PriceWSFeed {
	f := &PriceWSFeed{
		source:     source,
		normalizer: normalizer,
		logger: logger.With(
			slog.String("component", "price_ws_feed"),
			slog.String("source", string(source)),
		),
	}
	sub := map[string]any{"type": "subscribe", "channel": "ticks", "assets": assets}
	f.stream = newWSStream(wsURL, sub, f.handleMessage, f.logger)
	return f
}

// Run consumes the stream until ctx is cancelled, reconnecting on disconnect.
func (f *PriceWSFeed) Run(ctx context.Context) error {
	return f.stream.Run(ctx)
}

func (f *PriceWSFeed) handleMessage(ctx context.Context, data []byte) {
	var msg priceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("unparseable tick", slog.Int("payload_len", len(data)))
		return
	}
	if msg.Asset == "" || msg.Price <= 0 {
		return
	}
	ts := time.Now().UTC()
	if msg.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
			ts = t
		}
	}
	f.normalizer.Ingest(ctx, domain.PriceTick{
		Asset:     msg.Asset,
		Source:    f.source,
		Price:     msg.Price,
		Timestamp: ts,
	})
}
