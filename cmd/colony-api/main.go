package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"colonycore/internal/api"
	"colonycore/internal/config"
	"colonycore/internal/game"
	"colonycore/internal/store/backend"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	st, err := backend.Open(ctx, cfg.Store, "colony-api")
	if err != nil {
		logger.Error("store open failed", "dialect", cfg.Store.Dialect, "err", err)
		os.Exit(1)
	}
	defer st.Close()

	gameSvc, err := game.NewService(st, logger, game.ConfigOptions(st, cfg.Game)...)
	if err != nil {
		logger.Error("game service init failed", "err", err)
		os.Exit(1)
	}
	if cfg.Game.SeedDefaults {
		if _, err := gameSvc.SeedDefaults(ctx); err != nil {
			logger.Error("seed defaults failed", "err", err)
			os.Exit(1)
		}
	}

	server := api.New(cfg, logger, gameSvc)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("colony api listening", "addr", cfg.Addr, "dialect", cfg.Store.Dialect)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
