package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/polyflow/updown/internal/domain"
)

// QuoteHandler receives each top-of-book update for a market side.
type QuoteHandler func(ctx context.Context, q domain.QuoteUpdate)

// WindowHandler receives each newly opened market window.
type WindowHandler func(ctx context.Context, w domain.MarketWindow)

// ResolvedHandler receives market resolution events.
type ResolvedHandler func(ctx context.Context, r domain.MarketResolved)

// quoteMessage is the wire shape of venue stream messages. Type selects which
// of the optional fields are meaningful.
type quoteMessage struct {
	Type        string  `json:"type"` // "quote", "window", "resolved"
	Asset       string  `json:"asset"`
	MarketID    string  `json:"market_id"`
	Side        string  `json:"side"`
	BestBid     float64 `json:"best_bid"`
	BestAsk     float64 `json:"best_ask"`
	DepthAtBest float64 `json:"depth_at_best"`
	Strike      float64 `json:"strike"`
	OpensAt     string  `json:"opens_at"`
	ExpiresAt   string  `json:"expires_at"`
	WinningSide string  `json:"winning_side"`
	Timestamp   string  `json:"ts"`
}

// QuoteWSFeed consumes the venue stream carrying UP/DOWN token quotes, market
// window openings, and resolution events.
type QuoteWSFeed struct {
	stream     *wsStream
	onQuote    QuoteHandler
	onWindow   WindowHandler
	onResolved ResolvedHandler
	logger     *slog.Logger
}

// NewQuoteWSFeed creates a venue feed subscribed to the given assets.
func NewQuoteWSFeed(wsURL string, assets []string, onQuote QuoteHandler, onWindow WindowHandler, onResolved ResolvedHandler, logger *slog.Logger) *QuoteWSFeed {
	f := &QuoteWSFeed{
		onQuote:    onQuote,
		onWindow:   onWindow,
		onResolved: onResolved,
		logger:     logger.With(slog.String("component", "quote_ws_feed")),
	}
	sub := map[string]any{"type": "subscribe", "channel": "markets", "assets": assets}
	f.stream = newWSStream(wsURL, sub, f.handleMessage, f.logger)
	return f
}

// Run consumes the stream until ctx is cancelled, reconnecting on disconnect.
func (f *QuoteWSFeed) Run(ctx context.Context) error {
	return f.stream.Run(ctx)
}

func (f *QuoteWSFeed) handleMessage(ctx context.Context, data []byte) {
	var msg quoteMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("unparseable venue message", slog.Int("payload_len", len(data)))
		return
	}
	switch msg.Type {
	case "quote":
		side := domain.MarketSide(msg.Side)
		if !side.Valid() || msg.MarketID == "" {
			return
		}
		if f.onQuote != nil {
			f.onQuote(ctx, domain.QuoteUpdate{
				Asset:       msg.Asset,
				MarketID:    msg.MarketID,
				Side:        side,
				BestBid:     msg.BestBid,
				BestAsk:     msg.BestAsk,
				DepthAtBest: msg.DepthAtBest,
				Timestamp:   parseTS(msg.Timestamp),
			})
		}
	case "window":
		expires := parseTS(msg.ExpiresAt)
		if msg.Asset == "" || expires.IsZero() {
			return
		}
		id := msg.MarketID
		if id == "" {
			id = domain.WindowID(msg.Asset, msg.Strike, expires)
		}
		if f.onWindow != nil {
			f.onWindow(ctx, domain.MarketWindow{
				ID:        id,
				Asset:     msg.Asset,
				Strike:    msg.Strike,
				OpensAt:   parseTS(msg.OpensAt),
				ExpiresAt: expires,
			})
		}
	case "resolved":
		side := domain.MarketSide(msg.WinningSide)
		if !side.Valid() || msg.MarketID == "" {
			return
		}
		if f.onResolved != nil {
			f.onResolved(ctx, domain.MarketResolved{
				MarketID:    msg.MarketID,
				WinningSide: side,
				ResolvedAt:  parseTS(msg.Timestamp),
			})
		}
	}
}

func parseTS(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
