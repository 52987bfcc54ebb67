package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyflow/updown/internal/domain"
	"github.com/polyflow/updown/internal/engine"
	"github.com/polyflow/updown/internal/executor"
	"github.com/polyflow/updown/internal/feed"
)

const metricsLogInterval = time.Minute

// SimMode runs the engine with real feeds and simulated fills.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	fees := executor.FeeSchedule{
		TakerFeeBps:    a.cfg.Fees.TakerFeeBps,
		MakerRebateBps: a.cfg.Fees.MakerRebateBps,
	}
	venueFor := func(books executor.BookLookup) executor.OrderPlacer {
		return executor.NewSimVenue(books, fees, time.Duration(a.cfg.Sim.LatencyMs)*time.Millisecond, a.logger)
	}
	return a.runEngine(ctx, deps, venueFor, true)
}

// LiveMode runs the engine against the real venue.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	venueFor := func(executor.BookLookup) executor.OrderPlacer {
		return executor.NewLiveVenue(a.cfg.Venue.BaseURL, a.cfg.Venue.APIKey, a.cfg.Venue.OrdersPerSecond, a.logger)
	}
	return a.runEngine(ctx, deps, venueFor, true)
}

// ReplayMode drives the engine from a recorded event stream with simulated
// fills. No live feeds are started.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	fees := executor.FeeSchedule{
		TakerFeeBps:    a.cfg.Fees.TakerFeeBps,
		MakerRebateBps: a.cfg.Fees.MakerRebateBps,
	}
	venueFor := func(books executor.BookLookup) executor.OrderPlacer {
		return executor.NewSimVenue(books, fees, time.Duration(a.cfg.Sim.LatencyMs)*time.Millisecond, a.logger)
	}
	return a.runEngine(ctx, deps, venueFor, false)
}

// runEngine assembles the engine and runs every long-lived goroutine of the
// selected mode under one errgroup.
func (a *App) runEngine(ctx context.Context, deps *Dependencies, venueFor engine.VenueFactory, withFeeds bool) error {
	logger := a.logger
	fanout := engine.NewFanout(0, logger, deps.Sinks...)
	eng := engine.New(a.cfg, venueFor, fanout, deps.PriceCache, logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := eng.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("engine: %w", err)
	})

	g.Go(func() error {
		_ = fanout.Run(ctx)
		return nil
	})

	if withFeeds {
		a.startFeeds(ctx, g, eng)
	} else {
		g.Go(func() error {
			replayer := NewReplayer(a.cfg.Replay.File, a.cfg.Replay.Speed, eng, logger)
			err := replayer.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("replay: %w", err)
		})
	}

	if deps.Archiver != nil {
		interval := time.Duration(a.cfg.S3.ArchiveIntervalMinutes) * time.Minute
		g.Go(func() error {
			_ = deps.Archiver.RunLoop(ctx, interval)
			return nil
		})
	}

	g.Go(func() error {
		a.logMetrics(ctx, deps)
		return nil
	})

	err := g.Wait()
	a.logger.Info("run finished", slog.Any("metrics", deps.Collector.Metrics()))
	return err
}

// startFeeds launches the websocket consumers feeding the engine.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, eng *engine.Engine) {
	assets := a.cfg.Feeds.Assets
	logger := a.logger

	if a.cfg.Feeds.FastWSURL != "" {
		fast := feed.NewPriceWSFeed(a.cfg.Feeds.FastWSURL, domain.FeedSourceFast, assets, eng.Normalizer(), logger)
		g.Go(func() error {
			err := fast.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fast feed: %w", err)
		})
	}
	if a.cfg.Feeds.OracleWSURL != "" {
		oracle := feed.NewPriceWSFeed(a.cfg.Feeds.OracleWSURL, domain.FeedSourceOracle, assets, eng.Normalizer(), logger)
		g.Go(func() error {
			err := oracle.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("oracle feed: %w", err)
		})
	}
	if a.cfg.Feeds.QuoteWSURL != "" {
		quotes := feed.NewQuoteWSFeed(a.cfg.Feeds.QuoteWSURL, assets, eng.OnQuote, eng.OnWindow, eng.OnResolved, logger)
		g.Go(func() error {
			err := quotes.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("quote feed: %w", err)
		})
	}
}

// logMetrics periodically logs the rebuilt run metrics.
func (a *App) logMetrics(ctx context.Context, deps *Dependencies) {
	ticker := time.NewTicker(metricsLogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := deps.Collector.Metrics()
			a.logger.Info("run metrics",
				slog.Int64("signals", m.SignalsEmitted),
				slog.Int64("rejected", m.SignalsRejected),
				slog.Int64("fills", m.Fills),
				slog.Int64("wins", m.Wins),
				slog.Int64("losses", m.Losses),
				slog.Int64("hedges", m.HedgesIssued),
				slog.Int64("settled", m.MarketsSettled),
				slog.Float64("win_rate", m.WinRate()),
				slog.Float64("pnl_usd", m.RealizedPnLUSD),
			)
		}
	}
}
