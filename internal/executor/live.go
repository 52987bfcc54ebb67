package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/polyflow/updown/internal/domain"
)

// LiveVenue places orders against a real venue over its REST API. Placement
// is idempotent: the venue keys on the client-assigned order ID, so retrying
// a request after a dropped acknowledgment cannot double-fill.
type LiveVenue struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewLiveVenue creates a live order placer. ordersPerSecond bounds the
// placement rate; bursts of one keep retries well behaved.
func NewLiveVenue(baseURL, apiKey string, ordersPerSecond float64, logger *slog.Logger) *LiveVenue {
	if ordersPerSecond <= 0 {
		ordersPerSecond = 5
	}
	return &LiveVenue{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(ordersPerSecond), 1),
		logger:  logger.With(slog.String("component", "live_venue")),
	}
}

// orderPayload is the wire shape of an order submission.
type orderPayload struct {
	ClientOrderID string  `json:"client_order_id"`
	MarketID      string  `json:"market_id"`
	Side          string  `json:"side"`
	LimitPrice    float64 `json:"limit_price"`
	Shares        float64 `json:"shares"`
	TimeoutMs     int64   `json:"timeout_ms"`
}

// orderResponse is the venue's order submission response.
type orderResponse struct {
	OrderID      string  `json:"order_id"`
	Status       string  `json:"status"` // "filled", "timeout", "rejected"
	FilledShares float64 `json:"filled_shares"`
	FilledPrice  float64 `json:"filled_price"`
	FeeUSD       float64 `json:"fee_usd"`
	Liquidity    string  `json:"liquidity"` // "maker" or "taker"
	Message      string  `json:"message"`
}

// PlaceOrder implements OrderPlacer against the venue REST API.
func (v *LiveVenue) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return domain.OrderResult{}, err
	}

	payload := orderPayload{
		ClientOrderID: req.ClientOrderID,
		MarketID:      req.MarketID,
		Side:          string(req.Side),
		LimitPrice:    req.LimitPrice,
		Shares:        req.Shares,
		TimeoutMs:     req.TimeoutMs,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: encode order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// The venue deduplicates on this header; resubmission is safe.
	httpReq.Header.Set("Idempotency-Key", req.ClientOrderID)
	if v.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+v.apiKey)
	}

	resp, err := v.httpClient.Do(httpReq)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: post order: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.OrderResult{}, fmt.Errorf("executor: venue status %d: %w", resp.StatusCode, domain.ErrOrderRejected)
	}

	var or orderResponse
	if err := json.Unmarshal(respBody, &or); err != nil {
		return domain.OrderResult{}, fmt.Errorf("executor: decode response: %w", err)
	}

	result := domain.OrderResult{
		OrderID:      or.OrderID,
		FilledShares: or.FilledShares,
		FilledPrice:  or.FilledPrice,
		FeeUSD:       or.FeeUSD,
		Message:      or.Message,
	}
	switch or.Liquidity {
	case "maker":
		result.Kind = domain.FillKindMaker
	default:
		result.Kind = domain.FillKindTaker
	}
	switch or.Status {
	case "filled":
		result.Filled = true
	case "timeout":
		result.TimedOut = true
	default:
		v.logger.Warn("order rejected",
			slog.String("client_order_id", req.ClientOrderID),
			slog.String("message", or.Message),
		)
	}
	return result, nil
}
