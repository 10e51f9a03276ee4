// Command worker runs the two stage pools of the pipeline: the task
// stage that hands submissions to the external processor, and the
// downloader stage that fetches finished artifacts and delivers them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fairyhunter13/filetools-bot/internal/adapter/faststore"
	"github.com/fairyhunter13/filetools-bot/internal/adapter/iloveapi"
	"github.com/fairyhunter13/filetools-bot/internal/adapter/observability"
	"github.com/fairyhunter13/filetools-bot/internal/adapter/queue/redisq"
	"github.com/fairyhunter13/filetools-bot/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/filetools-bot/internal/adapter/telegram"
	"github.com/fairyhunter13/filetools-bot/internal/config"
	"github.com/fairyhunter13/filetools-bot/internal/domain"
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

	ledger := sharedcredits.New(fast, postgres.NewCreditsRepo(pool), cfg.DailySharedCreditLimit)
	logs := postgres.NewJobLogsRepo(pool)
	notifier := telegram.New(cfg.TelegramBotToken)
	processor := iloveapi.New(cfg.ILoveAPIBaseURL, cfg.ILoveAPIPublicKey, cfg.ILoveAPISecretKey,
		iloveapi.WithWebhookURL(cfg.ProcessorWebhookURL()))

	refunds := usecase.NewRefundSupervisor(ledger, notifier)
	taskSvc := usecase.NewTaskStageService(processor, logs, refunds, notifier)
	downloadSvc := usecase.NewDownloadStageService(processor, logs, notifier, refunds,
		func(produced domain.Tool, jobID string) [][]domain.InlineButton {
			return telegram.FollowUpKeyboard(catalog, produced, jobID)
		},
		catalog.OutputKind)

	pipeline := redisq.NewPipeline(fast.Client())
	opts := redisq.WorkerOptions{
		Concurrency:     cfg.WorkerConcurrency(),
		LockDuration:    cfg.LockDuration,
		LockRenewTime:   cfg.LockRenewTime,
		StalledInterval: cfg.StalledInterval,
	}

	taskWorker := redisq.NewWorker(pipeline.Tasks, func(ctx context.Context, job *redisq.ActiveJob) error {
		var p domain.TaskJobPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("op=worker.task: %w: %v", domain.ErrInvalidArgument, err)
		}
		return taskSvc.Handle(ctx, p, statsFor(job))
	}, opts)

	downloadWorker := redisq.NewWorker(pipeline.Downloads, func(ctx context.Context, job *redisq.ActiveJob) error {
		var p domain.DownloadJobPayload
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return fmt.Errorf("op=worker.downloader: %w: %v", domain.ErrInvalidArgument, err)
		}
		return downloadSvc.Handle(ctx, p, statsFor(job))
	}, opts)

	taskWorker.Start(ctx)
	downloadWorker.Start(ctx)
	slog.Info("workers started",
		slog.Int("concurrency", opts.Concurrency),
		slog.Duration("lock_duration", opts.LockDuration))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutdown signal received", slog.String("signal", sig.String()))

	taskWorker.Stop()
	downloadWorker.Stop()
}

// statsFor snapshots the queue-side counters of a claim. finished_at
// is stamped by the stage services when the stage actually terminates.
func statsFor(job *redisq.ActiveJob) domain.WorkerStats {
	return domain.WorkerStats{
		CreatedAt:   job.EnqueuedAt,
		ProcessedAt: job.ClaimedAt,
		Ats:         job.Ats,
		Atm:         job.Atm,
		DelayMS:     job.ClaimedAt.Sub(job.EnqueuedAt).Milliseconds(),
		Priority:    job.Priority,
	}
}
