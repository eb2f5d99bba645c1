// ordergate-server runs the admission controller as an HTTP service.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"ordergate/internal/api"
	"ordergate/internal/config"
	"ordergate/internal/cost"
	"ordergate/internal/engine"
	"ordergate/internal/lifecycle"
	"ordergate/internal/metrics"
	"ordergate/internal/ratelimit"
	"ordergate/internal/risk"
	"ordergate/internal/store"
	"ordergate/internal/util"
)

func main() {
	// A .env file is optional; the environment wins either way.
	_ = godotenv.Load()

	cfgPath := "config/ordergate.yaml"
	if p := os.Getenv("ORDERGATE_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	registry, err := risk.NewRegistry(cfg.Risk, logger)
	if err != nil {
		return err
	}
	costs, err := cost.New(cfg.Cost)
	if err != nil {
		return err
	}
	limiter := ratelimit.New(cfg.Exchanges)
	machine := lifecycle.NewMachine(logger)

	promReg := prometheus.NewRegistry()
	set := metrics.NewSet(promReg)
	machine.AddListener(set)

	hub := api.NewHub(logger)
	machine.AddListener(hub)

	if cfg.Storage.SQLitePath != "" {
		db, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		defer db.Close()

		var fills *store.FillLog
		if cfg.Storage.DataDir != "" {
			fills = store.NewFillLog(cfg.Storage.DataDir)
		}
		machine.AddListener(store.NewTransitionSink(logger, db, fills))
		registry.SetPositionHook(store.NewPositionRecorder(logger, db).Record)
	}

	eng := engine.New(logger, limiter, registry, costs, machine, set)
	server := api.NewServer(cfg, logger, eng, hub, promReg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("ordergate-server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)
	return server.ListenAndServe(ctx)
}
