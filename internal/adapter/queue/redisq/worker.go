package redisq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/filetools-bot/internal/adapter/observability"
)

// Handler processes one claimed job. The context is canceled when the
// job's lease is lost; writes performed after that point are ignored
// by downstream consumers (the job log refuses immutable rows).
type Handler func(ctx context.Context, job *ActiveJob) error

// WorkerOptions tunes the pool. Zero values fall back to the pipeline
// defaults (lockDuration 40s, renew 20s, stalled sweep 60s).
type WorkerOptions struct {
	Concurrency     int
	LockDuration    time.Duration
	LockRenewTime   time.Duration
	StalledInterval time.Duration
	PollInterval    time.Duration
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 2
	}
	if o.LockDuration <= 0 {
		o.LockDuration = 40 * time.Second
	}
	if o.LockRenewTime <= 0 {
		o.LockRenewTime = 20 * time.Second
	}
	if o.StalledInterval <= 0 {
		o.StalledInterval = 60 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	return o
}

// Worker runs a goroutine pool over one queue.
type Worker struct {
	q       *Queue
	handler Handler
	opts    WorkerOptions

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorker constructs a worker pool for q.
func NewWorker(q *Queue, h Handler, opts WorkerOptions) *Worker {
	return &Worker{q: q, handler: h, opts: opts.withDefaults()}
}

// Start launches the pool and the stalled sweeper. It returns
// immediately; Stop drains.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	slog.Info("queue worker starting",
		slog.String("queue", w.q.Name()),
		slog.Int("concurrency", w.opts.Concurrency),
		slog.Duration("lock_duration", w.opts.LockDuration),
		slog.Duration("stalled_interval", w.opts.StalledInterval))
	for i := 0; i < w.opts.Concurrency; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.runLoop(ctx)
		}()
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runSweeper(ctx)
	}()
}

// Stop cancels the pool and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Worker) runLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		job, err := w.q.Claim(ctx, w.opts.LockDuration)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("queue claim failed", slog.String("queue", w.q.Name()), slog.Any("error", err))
			w.sleep(ctx, w.opts.PollInterval)
			continue
		}
		if job == nil {
			w.sleep(ctx, w.opts.PollInterval)
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *ActiveJob) {
	observability.StartProcessingJob(w.q.Name())
	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	// Heartbeat: renew the lease before lockDuration elapses. Losing
	// the lease cancels the job context.
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		ticker := time.NewTicker(w.opts.LockRenewTime)
		defer ticker.Stop()
		for {
			select {
			case <-jobCtx.Done():
				return
			case <-ticker.C:
				held, err := w.q.Renew(jobCtx, job.ID, job.Token, w.opts.LockDuration)
				if err != nil {
					slog.Warn("lease renewal error", slog.String("queue", w.q.Name()), slog.String("job_id", job.ID), slog.Any("error", err))
					continue
				}
				if !held {
					slog.Warn("lease lost, abandoning job", slog.String("queue", w.q.Name()), slog.String("job_id", job.ID))
					cancelJob()
					return
				}
			}
		}
	}()

	err := w.handler(jobCtx, job)
	cancelJob()
	<-renewDone

	// Finish with the parent context so shutdown does not strand the job.
	removed, ferr := w.q.Finish(ctx, job.ID, job.Token)
	if ferr != nil {
		slog.Error("queue finish failed", slog.String("queue", w.q.Name()), slog.String("job_id", job.ID), slog.Any("error", ferr))
	} else if !removed {
		// The stalled sweeper reclaimed the job; its next attempt owns it.
		slog.Warn("job finished after lease reclaim", slog.String("queue", w.q.Name()), slog.String("job_id", job.ID))
	}

	if err != nil {
		observability.FailJob(w.q.Name())
		slog.Error("job handler failed", slog.String("queue", w.q.Name()), slog.String("job_id", job.ID), slog.Any("error", err))
		return
	}
	observability.CompleteJob(w.q.Name())
}

func (w *Worker) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(w.opts.StalledInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.q.RequeueStalled(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.Error("stalled sweep failed", slog.String("queue", w.q.Name()), slog.Any("error", err))
				}
				continue
			}
			if n > 0 {
				observability.StalledJobs(w.q.Name(), n)
				slog.Warn("stalled jobs requeued", slog.String("queue", w.q.Name()), slog.Int("count", n))
			}
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
