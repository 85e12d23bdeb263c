package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	httpx "github.com/jrmce/VersionLifecycle-sub000/internal/http"
	"github.com/jrmce/VersionLifecycle-sub000/internal/service/auth"
	"github.com/jrmce/VersionLifecycle-sub000/internal/service/deploy"
	"github.com/jrmce/VersionLifecycle-sub000/internal/service/events"
	"github.com/jrmce/VersionLifecycle-sub000/internal/service/webhook"
	"github.com/jrmce/VersionLifecycle-sub000/internal/ws"
	"github.com/jrmce/VersionLifecycle-sub000/pkg/config"
	"github.com/jrmce/VersionLifecycle-sub000/pkg/crypto"
	"github.com/jrmce/VersionLifecycle-sub000/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	hub := ws.NewHub()
	bus := openEventBus(cfg, log)
	defer bus.Close()
	eventSvc := events.New(hub, bus, log)

	metrics := webhook.NewMetrics(prometheus.DefaultRegisterer)
	webhookSvc := webhook.New(
		store.repo, store.repo,
		webhook.NewSender(nil, cfg.WebhookTimeout),
		crypto.NewSealer(cfg.SecretEncryptionKey),
		log, metrics,
		webhook.Options{FanoutLimit: cfg.WebhookFanoutLimit, Lease: cfg.WebhookLease, SweepBatch: cfg.WebhookSweepBatch},
	)

	// Deliveries outlive the request that triggered them; workers get their
	// own context and are drained on shutdown.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	dispatcher := webhook.NewDispatcher(webhookSvc, cfg.WebhookWorkers, cfg.WebhookQueueSize, log, metrics)
	dispatcher.Start(workerCtx)

	sweeper := webhook.NewSweeper(webhookSvc, cfg.WebhookSweepEvery, log)
	go sweeper.Run(ctx)

	deploySvc := deploy.New(store.repo, store.repo, store.repo, dispatcher, eventSvc, log)
	authSvc := auth.New(cfg.JWTSecret, cfg.AccessTokenTTL, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(ctx, addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, deploySvc, webhookSvc, hub, limiter, store.repo.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "environment", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		if err := dispatcher.Stop(shutdownCtx); err != nil {
			log.Warn("webhook queue not drained", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
