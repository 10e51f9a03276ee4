package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

// TaskStageService is the stage-one worker body: it hands the
// submission to the external processor and records the outcome in the
// job log. Results arrive later through the webhook; this stage never
// downloads anything.
type TaskStageService struct {
	Processor domain.ProcessorClient
	Logs      domain.JobLogStore
	Refunds   *RefundSupervisor
	Notifier  domain.Notifier
	now       func() time.Time
}

// NewTaskStageService constructs a TaskStageService.
func NewTaskStageService(proc domain.ProcessorClient, logs domain.JobLogStore, refunds *RefundSupervisor, notifier domain.Notifier) *TaskStageService {
	return &TaskStageService{Processor: proc, Logs: logs, Refunds: refunds, Notifier: notifier, now: time.Now}
}

// WithClock overrides the time source (tests).
func (s *TaskStageService) WithClock(now func() time.Time) *TaskStageService {
	s.now = now
	return s
}

// Handle processes one task job. stats carries the queue-side
// execution statistics of this attempt.
func (s *TaskStageService) Handle(ctx domain.Context, p domain.TaskJobPayload, stats domain.WorkerStats) error {
	result, perr := s.Processor.Process(ctx, domain.ProcessRequest{
		Tool:         p.Tool,
		FileLinks:    p.FileLinks,
		Options:      p.ToolOptions,
		CustomString: p.JobID,
		CustomInt:    tgOrZero(p.TgUserID),
	})
	if perr != nil {
		return s.fail(ctx, p, stats, perr)
	}

	// finished_at covers the full stage run, not just the claim.
	stats.FinishedAt = s.now()
	entry := domain.NewJobLogEntry{
		Event:         domain.StageTask + "." + string(domain.WorkerCompleted),
		JobID:         p.JobID,
		UserID:        p.UserID,
		TgUserID:      p.TgUserID,
		Immutable:     false,
		Tool:          p.Tool,
		ToolPrice:     p.ToolPrice,
		ToolOptions:   p.ToolOptions,
		PaymentMethod: p.PaymentMethod,
		Files:         p.FileLinks,
		WorkerResult:  result,
		WorkerStats:   &stats,
	}
	if _, err := s.Logs.AddJobLog(ctx, entry); err != nil {
		// The external task is already running and its webhook will not
		// find a row to patch, so the user gets a heads-up instead of a
		// silent drop.
		slog.Error("job log append failed after processor accept",
			slog.String("job_id", p.JobID), slog.Any("error", err))
		if p.TgUserID != nil && s.Notifier != nil {
			msg := "Your file is being processed, but we hit a bookkeeping hiccup. " +
				"If no result arrives, your credits will be returned."
			if nerr := s.Notifier.SendMessage(ctx, *p.TgUserID, msg); nerr != nil {
				slog.Error("courtesy message failed",
					slog.String("job_id", p.JobID), slog.Any("error", nerr))
			}
		}
		return fmt.Errorf("op=taskstage.handle: %w", err)
	}
	return nil
}

func (s *TaskStageService) fail(ctx domain.Context, p domain.TaskJobPayload, stats domain.WorkerStats, perr error) error {
	stats.FinishedAt = s.now()
	entry := domain.NewJobLogEntry{
		Event:         domain.StageTask + "." + string(domain.WorkerFailed),
		JobID:         p.JobID,
		UserID:        p.UserID,
		TgUserID:      p.TgUserID,
		Immutable:     true,
		Tool:          p.Tool,
		ToolPrice:     p.ToolPrice,
		ToolOptions:   p.ToolOptions,
		PaymentMethod: p.PaymentMethod,
		Files:         p.FileLinks,
		WorkerError:   &domain.WorkerError{Name: "ProcessError", Message: perr.Error()},
		WorkerStats:   &stats,
	}
	if _, err := s.Logs.AddJobLog(ctx, entry); err != nil {
		slog.Error("job log append failed for failed task",
			slog.String("job_id", p.JobID), slog.Any("error", err))
	}
	if p.PaymentMethod == domain.PaymentSharedCredit {
		msg := fmt.Sprintf("Processing failed for job %s. Your %d credit(s) were returned.", p.JobID, p.ToolPrice)
		if err := s.Refunds.Refund(ctx, p.ToolPrice, "task stage failed: "+p.JobID, p.TgUserID, msg); err != nil {
			slog.Error("refund after task failure failed",
				slog.String("job_id", p.JobID), slog.Any("error", err))
		}
	}
	return fmt.Errorf("op=taskstage.handle: %w", perr)
}

func tgOrZero(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
