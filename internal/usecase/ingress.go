// Package usecase contains the pipeline orchestration services.
package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/filetools-bot/internal/config"
	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

// Submission is one validated work request handed over by the chat
// front end. Exactly one of UserID/TgUserID is set.
type Submission struct {
	UserID      *string
	TgUserID    *int64
	Tool        domain.Tool
	ToolOptions map[string]any
	FileLinks   []string
	FileType    domain.FileType
}

// userKey returns the identity string used for rate limiting and
// fingerprinting.
func (s Submission) userKey() string {
	if s.UserID != nil {
		return *s.UserID
	}
	if s.TgUserID != nil {
		return fmt.Sprintf("tg:%d", *s.TgUserID)
	}
	return ""
}

// IngressService admits work requests into the pipeline: fingerprint,
// rate limit, consume shared credits, enqueue the task stage.
type IngressService struct {
	Credits domain.CreditLedger
	Limiter domain.RateLimiter
	Queue   domain.Queue
	Catalog *config.ToolCatalog
	now     func() time.Time
}

// NewIngressService constructs an IngressService.
func NewIngressService(credits domain.CreditLedger, limiter domain.RateLimiter, q domain.Queue, catalog *config.ToolCatalog) *IngressService {
	return &IngressService{Credits: credits, Limiter: limiter, Queue: q, Catalog: catalog, now: time.Now}
}

// WithClock overrides the time source (tests).
func (s *IngressService) WithClock(now func() time.Time) *IngressService {
	s.now = now
	return s
}

// Submit admits one request. It returns the job fingerprint on
// success; rejections surface as ErrRateLimited / ErrOutOfQuota with
// no side effects beyond the attempt count.
func (s *IngressService) Submit(ctx domain.Context, sub Submission) (string, error) {
	if (sub.UserID == nil) == (sub.TgUserID == nil) {
		return "", fmt.Errorf("op=ingress.submit: %w: exactly one of user id and tg user id must be set", domain.ErrInvalidArgument)
	}
	spec, ok := s.Catalog.Lookup(sub.Tool)
	if !ok {
		return "", fmt.Errorf("op=ingress.submit: %w: unknown tool %q", domain.ErrInvalidArgument, sub.Tool)
	}
	if len(sub.FileLinks) == 0 {
		return "", fmt.Errorf("op=ingress.submit: %w: file link required", domain.ErrInvalidArgument)
	}

	submittedAt := s.now().Unix()
	jobID := domain.Fingerprint(sub.userKey(), sub.Tool, submittedAt)

	if !s.Limiter.Attempt(sub.userKey(), jobID) {
		return "", fmt.Errorf("op=ingress.submit: %w", domain.ErrRateLimited)
	}

	ok, err := s.Credits.ConsumeCredits(ctx, spec.Price, "task submission", jobID, string(sub.Tool))
	if err != nil {
		return "", fmt.Errorf("op=ingress.submit: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("op=ingress.submit: %w", domain.ErrOutOfQuota)
	}

	fileType := sub.FileType
	if fileType == "" {
		fileType = spec.FileType
	}
	payload := domain.TaskJobPayload{
		JobID:         jobID,
		SubmittedAt:   submittedAt,
		UserID:        sub.UserID,
		TgUserID:      sub.TgUserID,
		Tool:          sub.Tool,
		ToolOptions:   sub.ToolOptions,
		FileLinks:     sub.FileLinks,
		FileType:      fileType,
		ToolPrice:     spec.Price,
		PaymentMethod: domain.PaymentSharedCredit,
	}
	if _, err := s.Queue.EnqueueTask(ctx, payload); err != nil {
		// Credits must never be silently lost: the consume above has to
		// be compensated before surfacing the enqueue failure.
		if rerr := s.Credits.RefundCredits(ctx, spec.Price, "enqueue failed"); rerr != nil {
			slog.Error("refund after enqueue failure failed",
				slog.String("job_id", jobID), slog.Any("error", rerr))
		}
		return "", fmt.Errorf("op=ingress.submit: %w", err)
	}
	return jobID, nil
}
