package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/taskrunner/internal/api"
	"github.com/seantiz/taskrunner/internal/config"
	"github.com/seantiz/taskrunner/internal/engine"
	"github.com/seantiz/taskrunner/internal/model"
	"github.com/seantiz/taskrunner/internal/resultlog"
	"github.com/seantiz/taskrunner/internal/store"
	"github.com/seantiz/taskrunner/internal/telemetry"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}
	cfg := config.Load()
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(cfg.Trace, os.Stderr)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	results, err := resultlog.Open(cfg.ResultsPath)
	if err != nil {
		log.Fatalf("failed to open results file: %v", err)
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithWorkers(cfg.Workers),
	}

	var history store.Store
	if cfg.DBPath != "" {
		db, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()
		history = db

		sessionID := model.NewSessionID()
		opts = append(opts, engine.WithStore(db, sessionID))
		logger.Info("job history enabled", "db_path", cfg.DBPath, "session_id", sessionID)
	}

	eng, err := engine.New(demoCatalog(), results, opts...)
	if err != nil {
		log.Fatalf("failed to start engine: %v", err)
	}

	logger.Info("taskrunner: starting",
		"results_path", cfg.ResultsPath,
		"workers", cfg.Workers,
		"tasks", eng.TaskCount(),
		"admin_addr", cfg.AdminAddr,
	)

	if cfg.AdminAddr != "" {
		srv := api.NewServer(cfg.AdminAddr, eng, history, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("admin server stopped", "error", err)
			}
		}()
	}

	if err := eng.Run(ctx, os.Stdin); err != nil {
		logger.Warn("command loop ended", "error", err)
	}
	if ctx.Err() != nil {
		// Interrupted: treat like "finish force".
		eng.FinishForce()
	}
	if err := eng.WaitToFinish(ctx); err != nil {
		logger.Warn("outstanding work abandoned", "outstanding", eng.Outstanding(), "error", err)
	}
	if err := eng.Close(); err != nil {
		logger.Error("close engine", "error", err)
	}
	logger.Info("taskrunner: stopped")
}
