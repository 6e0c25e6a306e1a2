package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tycoon/internal/api"
	"tycoon/internal/config"
	"tycoon/internal/db"
	"tycoon/internal/game"
	"tycoon/internal/save"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadServerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	balance, err := config.LoadBalance(cfg.BalancePath)
	if err != nil {
		logger.Error("load balance failed", "path", cfg.BalancePath, "err", err)
		os.Exit(1)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open save store failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	gameSvc, err := game.NewService(game.Options{
		Balance:         balance,
		Seed:            cfg.Seed,
		TickEvery:       cfg.TickEvery,
		Store:           store,
		AutosaveSlot:    cfg.SaveSlot,
		MaxOfflineTicks: cfg.MaxOfflineTicks(),
		Logger:          logger,
	})
	if err != nil {
		logger.Error("game init failed", "err", err)
		os.Exit(1)
	}
	resume(ctx, logger, gameSvc, cfg.SaveSlot)

	server, err := api.New(logger, gameSvc)
	if err != nil {
		logger.Error("api init failed", "err", err)
		os.Exit(1)
	}
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.AutoStart {
		if err := gameSvc.Start(ctx); err != nil {
			logger.Error("scheduler start failed", "err", err)
			os.Exit(1)
		}
	}
	go autosave(ctx, logger, gameSvc, cfg.SaveSlot, cfg.AutosaveEvery)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		server.Close()
		_ = httpServer.Shutdown(shutdownCtx)
		if err := gameSvc.Shutdown(shutdownCtx); err != nil {
			logger.Error("final save failed", "err", err)
		}
	}()

	logger.Info("tycoon server listening", "addr", cfg.Addr, "tick_every", cfg.TickEvery.String(), "seed", cfg.Seed)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	<-shutdownDone
}

// openStore prefers Postgres when DATABASE_URL is set and falls back to
// JSON files under the save dir.
func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (save.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		store, err := save.NewFileStore(cfg.SaveDir)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using file saves", "dir", cfg.SaveDir)
		return store, func() {}, nil
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	logger.Info("using postgres saves")
	return save.NewPostgresStore(pool), pool.Close, nil
}

// resume loads the autosave slot and replays the time spent offline. A
// missing slot starts a fresh game.
func resume(ctx context.Context, logger *slog.Logger, svc *game.Service, slot string) {
	snap, err := svc.Load(ctx, slot)
	if err != nil {
		if errors.Is(err, save.ErrSlotNotFound) {
			logger.Info("no autosave found, starting fresh", "slot", slot)
			return
		}
		logger.Error("autosave load failed, starting fresh", "slot", slot, "err", err)
		return
	}
	ticks, err := svc.CatchUp(ctx, time.Since(snap.SavedAt))
	if err != nil {
		logger.Error("offline catch-up failed", "err", err)
		return
	}
	logger.Info("resumed autosave", "slot", slot, "tick", svc.CurrentTick(), "offline_ticks", ticks)
}

func autosave(ctx context.Context, logger *slog.Logger, svc *game.Service, slot string, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.Save(ctx, slot); err != nil {
				logger.Error("autosave failed", "slot", slot, "err", err)
				continue
			}
		}
	}
}
