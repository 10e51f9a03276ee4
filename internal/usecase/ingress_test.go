package usecase

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/filetools-bot/internal/config"
	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

func newIngressFixture() (*IngressService, *fakeLedger, *fakeLimiter, *fakeQueue) {
	ledger := newFakeLedger()
	limiter := &fakeLimiter{allow: true}
	q := &fakeQueue{}
	svc := NewIngressService(ledger, limiter, q, config.NewToolCatalog()).
		WithClock(func() time.Time { return time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC) })
	return svc, ledger, limiter, q
}

func validSubmission() Submission {
	return Submission{
		TgUserID:  ptrInt64(42),
		Tool:      domain.ToolCompress,
		FileLinks: []string{"https://files.example.com/in.pdf"},
	}
}

func TestSubmitHappyPath(t *testing.T) {
	svc, ledger, limiter, q := newIngressFixture()

	jobID, err := svc.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{40}$`), jobID)

	require.Len(t, limiter.attempts, 1)
	assert.Equal(t, "tg:42", limiter.attempts[0])

	require.Len(t, ledger.consumes, 1)
	assert.Equal(t, int64(10), ledger.consumes[0].Amount)
	assert.Equal(t, jobID, ledger.consumes[0].RefID)

	require.Len(t, q.tasks, 1)
	task := q.tasks[0]
	assert.Equal(t, jobID, task.JobID)
	assert.Equal(t, domain.ToolCompress, task.Tool)
	assert.Equal(t, int64(10), task.ToolPrice)
	assert.Equal(t, domain.PaymentSharedCredit, task.PaymentMethod)
	// File type falls back to the catalog default for the tool.
	assert.Equal(t, domain.FileTypeDocImage, task.FileType)
}

func TestSubmitDeterministicJobID(t *testing.T) {
	svc, _, _, _ := newIngressFixture()
	a, err := svc.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	b, err := svc.Submit(context.Background(), validSubmission())
	require.NoError(t, err)
	// Same user, tool and second: the fingerprint collapses retries.
	assert.Equal(t, a, b)
}

func TestSubmitRateLimited(t *testing.T) {
	svc, ledger, limiter, q := newIngressFixture()
	limiter.allow = false

	_, err := svc.Submit(context.Background(), validSubmission())
	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.Empty(t, ledger.consumes)
	assert.Empty(t, q.tasks)
}

func TestSubmitOutOfQuota(t *testing.T) {
	svc, ledger, _, q := newIngressFixture()
	ledger.consumeOK = false

	_, err := svc.Submit(context.Background(), validSubmission())
	require.ErrorIs(t, err, domain.ErrOutOfQuota)
	assert.Empty(t, q.tasks)
	assert.Empty(t, ledger.refunds)
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _, _ := newIngressFixture()

	tests := []struct {
		name string
		mod  func(*Submission)
	}{
		{"unknown tool", func(s *Submission) { s.Tool = "rotate" }},
		{"no files", func(s *Submission) { s.FileLinks = nil }},
		{"no identity", func(s *Submission) { s.TgUserID = nil }},
		{"both identities", func(s *Submission) { s.UserID = ptrStr("u-1") }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sub := validSubmission()
			tc.mod(&sub)
			_, err := svc.Submit(context.Background(), sub)
			require.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
}

func TestSubmitEnqueueFailureRefunds(t *testing.T) {
	svc, ledger, _, q := newIngressFixture()
	q.enqueueErr = assert.AnError

	_, err := svc.Submit(context.Background(), validSubmission())
	require.Error(t, err)
	require.Len(t, ledger.refunds, 1)
	assert.Equal(t, int64(10), ledger.refunds[0].Amount)
}
