package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/polyflow/updown/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// messageHandler receives each raw text message from the stream.
type messageHandler func(ctx context.Context, data []byte)

// wsStream is a reconnecting WebSocket consumer shared by the price and quote
// feeds. It dials, sends the subscribe payload, and delivers raw messages to
// the handler until the context is cancelled.
type wsStream struct {
	url       string
	subscribe any // JSON-encoded and sent once per (re)connection
	onMessage messageHandler
	logger    *slog.Logger
}

func newWSStream(url string, subscribe any, onMessage messageHandler, logger *slog.Logger) *wsStream {
	return &wsStream{
		url:       url,
		subscribe: subscribe,
		onMessage: onMessage,
		logger:    logger,
	}
}

// Run connects and consumes messages, reconnecting with exponential backoff
// on disconnect. Returns when ctx is cancelled.
func (s *wsStream) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("stream disconnected, reconnecting",
			slog.String("url", s.url),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *wsStream) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("feed: connect %s: %w", s.url, err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	if s.subscribe != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(s.subscribe); err != nil {
			return fmt.Errorf("feed: subscribe: %w", err)
		}
	}

	// Close the connection when ctx is done so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	s.logger.Info("stream connected", slog.String("url", s.url))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: read: %w", domain.ErrWSDisconnect)
		}
		s.onMessage(ctx, data)
	}
}
