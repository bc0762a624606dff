// Package main wires together the ranking data service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ChuanYuanNotBoat/malody-api/internal/api"
	"github.com/ChuanYuanNotBoat/malody-api/internal/clock/system"
	"github.com/ChuanYuanNotBoat/malody-api/internal/config"
	"github.com/ChuanYuanNotBoat/malody-api/internal/crawl"
	"github.com/ChuanYuanNotBoat/malody-api/internal/logging"
	"github.com/ChuanYuanNotBoat/malody-api/internal/metrics"
	"github.com/ChuanYuanNotBoat/malody-api/internal/query"
	"github.com/ChuanYuanNotBoat/malody-api/internal/schema"
	"github.com/ChuanYuanNotBoat/malody-api/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Debug, cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	db, err := store.Open(ctx, cfg.DB.Path)
	if err != nil {
		logger.Fatal("open database failed", zap.String("path", cfg.DB.Path), zap.Error(err))
	}
	defer func() { _ = db.Close() }()
	if err := store.EnsureSchema(ctx, db); err != nil {
		logger.Fatal("ensure schema failed", zap.Error(err))
	}

	clock := system.New()
	registry := schema.NewRegistry()
	builder := query.NewBuilder(registry, cfg.Query.MaxLimit)
	querier := store.NewQuerier(db)
	sink := store.NewSink(db, clock, logger.Named("sink"))

	limiter := crawl.NewRateLimiter(cfg.Crawler.RateRPS, cfg.Crawler.RateBurst)
	policy := crawl.NewExponentialRetryPolicy(cfg.HTTP.MaxRetries, cfg.BackoffBase(), cfg.BackoffMax())
	fetcher := crawl.NewPageFetcher(crawl.FetcherConfig{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	}, limiter, policy, logger.Named("fetcher"))
	cache := crawl.NewCache(cfg.CacheTTL(), clock)
	coordinator := crawl.NewCoordinator(crawl.CoordinatorConfig{
		BaseURL: cfg.Crawler.BaseURL,
	}, fetcher, cache, sink, clock, logger.Named("crawl"))

	apiServer := api.NewServer(registry, builder, querier, coordinator, clock, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
