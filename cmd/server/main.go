// Command server starts the pipeline HTTP server: job ingress, the
// processor webhook intake, and the operational endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fairyhunter13/filetools-bot/internal/adapter/faststore"
	httpserver "github.com/fairyhunter13/filetools-bot/internal/adapter/httpserver"
	"github.com/fairyhunter13/filetools-bot/internal/adapter/observability"
	"github.com/fairyhunter13/filetools-bot/internal/adapter/queue/redisq"
	"github.com/fairyhunter13/filetools-bot/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/filetools-bot/internal/app"
	"github.com/fairyhunter13/filetools-bot/internal/config"
	"github.com/fairyhunter13/filetools-bot/internal/service/ratelimiter"
	"github.com/fairyhunter13/filetools-bot/internal/service/sharedcredits"
	"github.com/fairyhunter13/filetools-bot/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.SBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	fast := faststore.NewFromAddr(cfg.RedisAddr())

	catalog, err := config.LoadToolCatalog(cfg.ToolCatalogPath)
	if err != nil {
		slog.Error("tool catalog load failed", slog.Any("error", err))
		os.Exit(1)
	}

	creditsRepo := postgres.NewCreditsRepo(pool)
	ledger := sharedcredits.New(fast, creditsRepo, cfg.DailySharedCreditLimit)
	limiter := ratelimiter.New(ratelimiter.Options{
		TTL:        cfg.RateLimitTTL,
		Max:        cfg.RateLimitMax,
		MaxAttempt: cfg.RateLimitMaxAttempt,
	})
	pipeline := redisq.NewPipeline(fast.Client())

	ingress := usecase.NewIngressService(ledger, limiter, pipeline, catalog)
	ready := app.BuildReadinessCheck(pool, fast)
	srv := httpserver.NewServer(ingress, ledger, pipeline, ready)

	handler := app.BuildRouter(cfg, srv)
	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
