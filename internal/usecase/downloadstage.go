package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

// KeyboardBuilder produces the follow-up action keyboard attached to a
// delivered document.
type KeyboardBuilder func(produced domain.Tool, jobID string) [][]domain.InlineButton

// OutputKindFunc maps a tool to its delivered artifact kind.
type OutputKindFunc func(domain.Tool) string

// DownloadStageService is the stage-two worker body: it fetches the
// processed artifact, delivers it to the user, and closes out the job
// log row. Failed webhooks short-circuit to refund without a fetch.
type DownloadStageService struct {
	Processor domain.ProcessorClient
	Logs      domain.JobLogStore
	Notifier  domain.Notifier
	Refunds   *RefundSupervisor
	Keyboard  KeyboardBuilder
	Kinds     OutputKindFunc
	now       func() time.Time
}

// NewDownloadStageService constructs a DownloadStageService.
func NewDownloadStageService(proc domain.ProcessorClient, logs domain.JobLogStore, notifier domain.Notifier, refunds *RefundSupervisor, kb KeyboardBuilder, kinds OutputKindFunc) *DownloadStageService {
	return &DownloadStageService{Processor: proc, Logs: logs, Notifier: notifier, Refunds: refunds, Keyboard: kb, Kinds: kinds, now: time.Now}
}

// WithClock overrides the time source (tests).
func (s *DownloadStageService) WithClock(now func() time.Time) *DownloadStageService {
	s.now = now
	return s
}

// Handle processes one download job.
func (s *DownloadStageService) Handle(ctx domain.Context, p domain.DownloadJobPayload, stats domain.WorkerStats) error {
	jl, err := s.Logs.GetByJobID(ctx, p.JobID)
	if err != nil {
		return fmt.Errorf("op=downloadstage.handle: job log lookup: %w", err)
	}

	if p.Event == domain.EventTaskFailed {
		msg := p.StatusMessage
		if msg == "" {
			msg = "processing failed"
		}
		s.close(ctx, jl, p, stats, nil, &domain.WorkerError{Name: "TaskFailed", Message: msg})
		s.refund(ctx, jl, "processor reported failure: "+p.JobID)
		return nil
	}

	artifact, derr := s.Processor.Download(ctx, p.Server, p.TaskID)
	if derr != nil {
		s.close(ctx, jl, p, stats, nil, &domain.WorkerError{Name: "DownloadError", Message: derr.Error()})
		s.refund(ctx, jl, "download failed: "+p.JobID)
		return fmt.Errorf("op=downloadstage.handle: %w", derr)
	}

	kind := "generic"
	if s.Kinds != nil {
		kind = s.Kinds(p.Tool)
	}
	if artifact.Filename == "" {
		artifact.Filename = p.JobID + kindExtension(kind)
	}

	if jl.TgUserID != nil {
		doc := domain.Document{
			Filename: artifact.Filename,
			Data:     artifact.Data,
			Caption:  p.JobID,
		}
		if s.Keyboard != nil {
			doc.Keyboard = s.Keyboard(p.Tool, p.JobID)
		}
		if nerr := s.Notifier.SendDocument(ctx, *jl.TgUserID, doc); nerr != nil {
			s.close(ctx, jl, p, stats, nil, &domain.WorkerError{Name: "DeliveryError", Message: nerr.Error()})
			s.refund(ctx, jl, "delivery failed: "+p.JobID)
			return fmt.Errorf("op=downloadstage.handle: %w", nerr)
		}
	}

	result := map[string]any{
		"filename": artifact.Filename,
		"size":     len(artifact.Data),
		"task_id":  p.TaskID,
		"kind":     kind,
	}
	s.close(ctx, jl, p, stats, result, nil)
	return nil
}

// close patches the job-log row with the downloader outcome. A patch
// failure is logged but never fails the stage: the user already has
// (or has been told about) the result.
func (s *DownloadStageService) close(ctx domain.Context, jl domain.JobLog, p domain.DownloadJobPayload, stats domain.WorkerStats, result map[string]any, werr *domain.WorkerError) {
	stats.FinishedAt = s.now()
	outcome := domain.WorkerCompleted
	if werr != nil {
		outcome = domain.WorkerFailed
	}
	filter := domain.JobLogFilter{
		JobID:    p.JobID,
		UserID:   jl.UserID,
		TgUserID: jl.TgUserID,
		Tool:     jl.Tool,
	}
	patch := domain.JobLogPatch{
		Immutable:    true,
		WorkerResult: result,
		WorkerError:  werr,
		WorkerStats:  &stats,
	}
	event := domain.StageDownloader + "." + string(outcome)
	if err := s.Logs.UpdateWorkerJobLog(ctx, event, filter, patch); err != nil {
		slog.Error("job log patch failed",
			slog.String("job_id", p.JobID),
			slog.String("event", event),
			slog.Any("error", err))
	}
}

func kindExtension(kind string) string {
	switch kind {
	case "pdf":
		return ".pdf"
	case "image":
		return ".jpg"
	default:
		return ".bin"
	}
}

func (s *DownloadStageService) refund(ctx domain.Context, jl domain.JobLog, reason string) {
	if jl.PaymentMethod != domain.PaymentSharedCredit {
		return
	}
	msg := fmt.Sprintf("We could not finish job %s. Your %d credit(s) were returned.", jl.JobID, jl.ToolPrice)
	if err := s.Refunds.Refund(ctx, jl.ToolPrice, reason, jl.TgUserID, msg); err != nil {
		slog.Error("refund failed",
			slog.String("job_id", jl.JobID), slog.Any("error", err))
	}
}
