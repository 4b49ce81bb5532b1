package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"colonycore/internal/config"
	"colonycore/internal/game"
	"colonycore/internal/store/backend"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	st, err := backend.Open(ctx, cfg.Store, "colony-worker")
	if err != nil {
		logger.Error("store open failed", "dialect", cfg.Store.Dialect, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	svc, err := game.NewService(st, logger, game.ConfigOptions(st, cfg.Game)...)
	if err != nil {
		logger.Error("game service init failed", "err", err)
		os.Exit(1)
	}
	if cfg.Game.SeedDefaults {
		if _, err := svc.SeedDefaults(ctx); err != nil {
			logger.Error("seed defaults failed", "err", err)
			os.Exit(1)
		}
	}

	if cfg.RunOnce {
		now := time.Now()
		if err := runProductionTick(ctx, svc, logger, now); err != nil {
			os.Exit(1)
		}
		if err := runMarketTick(ctx, svc, logger, now); err != nil {
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	market := time.NewTicker(cfg.MarketTickEvery)
	defer market.Stop()
	production := time.NewTicker(cfg.ProductionTickEvery)
	defer production.Stop()

	logger.Info("worker started",
		"market_every", cfg.MarketTickEvery.String(),
		"production_every", cfg.ProductionTickEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case now := <-production.C:
			_ = runProductionTick(ctx, svc, logger, now)
		case now := <-market.C:
			_ = runMarketTick(ctx, svc, logger, now)
		}
	}
}

func runMarketTick(ctx context.Context, svc *game.Service, logger *slog.Logger, now time.Time) error {
	res, err := svc.RunMarketTick(ctx, now)
	if err != nil {
		logger.Error("market tick failed", "err", err)
		return err
	}
	if len(res.Updated) > 0 || res.Conflicts > 0 || len(res.EventsStarted) > 0 {
		logger.Info("market tick complete",
			"updated", len(res.Updated), "conflicts", res.Conflicts, "events_started", res.EventsStarted)
	}
	return nil
}

func runProductionTick(ctx context.Context, svc *game.Service, logger *slog.Logger, now time.Time) error {
	res, err := svc.RunProductionTick(ctx, now)
	if err != nil {
		logger.Error("production tick failed", "err", err)
		return err
	}
	if !res.Skipped || res.Expired > 0 {
		logger.Info("production tick complete",
			"ticks", res.Ticks, "expired", res.Expired, "events_started", res.EventsStarted)
	}
	return nil
}
