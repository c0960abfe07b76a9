package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"cheqmate/internal/aiscore"
	"cheqmate/internal/analyzer"
	"cheqmate/internal/cache"
	"cheqmate/internal/config"
	"cheqmate/internal/corpus"
	"cheqmate/internal/server"
	"cheqmate/internal/workspace"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger initialization failed: %v", err)
	}
	defer logger.Sync()

	base, err := workspace.EnsureDefault(cfg.DataDir)
	if err != nil {
		logger.Fatal("workspace initialization failed", zap.Error(err))
	}

	db, err := corpus.Open(workspace.DatabasePath(base))
	if err != nil {
		logger.Fatal("database initialization failed", zap.Error(err))
	}
	defer db.Close()

	store := corpus.NewStore(db)
	fpCache := cache.New()
	scorer := aiscore.NewBurstinessScorer(cfg.AI)
	engine := analyzer.New(store, fpCache, scorer, logger, analyzer.Config{
		ShingleSize: cfg.ShingleSize,
		TopK:        cfg.TopK,
	})
	srv := server.New(engine, fpCache, logger, cfg.RequestTimeout)

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.RequestTimeout,
		WriteTimeout: cfg.RequestTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("CheqMate engine started",
		zap.String("addr", cfg.Addr),
		zap.String("data_dir", base))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
