package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

func downloadPayload(event string) domain.DownloadJobPayload {
	return domain.DownloadJobPayload{
		JobID:    "abc123",
		Event:    event,
		Tool:     domain.ToolCompress,
		Server:   "api8g.iloveimg.com",
		TaskID:   "task-1",
		TgUserID: ptrInt64(42),
	}
}

func openJobLog() domain.JobLog {
	return domain.JobLog{
		ID:            "row-1",
		JobID:         "abc123",
		TgUserID:      ptrInt64(42),
		Tool:          domain.ToolCompress,
		ToolPrice:     10,
		PaymentMethod: domain.PaymentSharedCredit,
	}
}

func newDownloadFixture() (*DownloadStageService, *fakeProcessor, *fakeLogs, *fakeLedger, *fakeNotifier) {
	proc := &fakeProcessor{artifact: domain.Artifact{Filename: "out.pdf", Data: []byte("pdf-bytes")}}
	logs := &fakeLogs{getLog: openJobLog()}
	ledger := newFakeLedger()
	notifier := &fakeNotifier{}
	kb := func(produced domain.Tool, jobID string) [][]domain.InlineButton {
		return [][]domain.InlineButton{{{Text: "Upscale", Data: "upscaleimage|" + jobID}}}
	}
	kinds := func(domain.Tool) string { return "pdf" }
	svc := NewDownloadStageService(proc, logs, notifier, NewRefundSupervisor(ledger, notifier), kb, kinds).
		WithClock(func() time.Time { return stageFinishedAt })
	return svc, proc, logs, ledger, notifier
}

func TestDownloadStageDeliversAndClosesLog(t *testing.T) {
	svc, proc, logs, ledger, notifier := newDownloadFixture()

	err := svc.Handle(context.Background(), downloadPayload(domain.EventTaskCompleted), taskStats())
	require.NoError(t, err)

	require.Len(t, proc.downloaded, 1)
	assert.Equal(t, "api8g.iloveimg.com/task-1", proc.downloaded[0])

	require.Len(t, notifier.docs, 1)
	doc := notifier.docs[0]
	assert.Equal(t, int64(42), doc.TgUserID)
	assert.Equal(t, "out.pdf", doc.Doc.Filename)
	assert.Equal(t, "abc123", doc.Doc.Caption)
	require.NotEmpty(t, doc.Doc.Keyboard)

	require.Len(t, logs.patches, 1)
	p := logs.patches[0]
	assert.Equal(t, "downloader.completed", p.Event)
	assert.True(t, p.Patch.Immutable)
	assert.Equal(t, "abc123", p.Filter.JobID)
	require.NotNil(t, p.Filter.TgUserID)
	assert.Equal(t, int64(42), *p.Filter.TgUserID)
	assert.Nil(t, p.Patch.WorkerError)
	require.NotNil(t, p.Patch.WorkerStats)
	assert.True(t, p.Patch.WorkerStats.FinishedAt.Equal(stageFinishedAt))
	result, ok := p.Patch.WorkerResult.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "pdf", result["kind"])

	assert.Empty(t, ledger.refunds)
}

func TestDownloadStageFilenameFallsBackToOutputKind(t *testing.T) {
	svc, proc, _, _, notifier := newDownloadFixture()
	proc.artifact = domain.Artifact{Filename: "", Data: []byte("pdf-bytes")}

	err := svc.Handle(context.Background(), downloadPayload(domain.EventTaskCompleted), taskStats())
	require.NoError(t, err)

	require.Len(t, notifier.docs, 1)
	assert.Equal(t, "abc123.pdf", notifier.docs[0].Doc.Filename)
}

func TestDownloadStageFailedEventShortCircuits(t *testing.T) {
	svc, proc, logs, ledger, notifier := newDownloadFixture()

	p := downloadPayload(domain.EventTaskFailed)
	p.StatusMessage = "processing error"
	err := svc.Handle(context.Background(), p, taskStats())
	require.NoError(t, err)

	assert.Empty(t, proc.downloaded, "failed events never hit the download endpoint")
	assert.Empty(t, notifier.docs)

	require.Len(t, logs.patches, 1)
	patch := logs.patches[0]
	assert.Equal(t, "downloader.failed", patch.Event)
	assert.True(t, patch.Patch.Immutable)
	require.NotNil(t, patch.Patch.WorkerError)
	assert.Equal(t, "processing error", patch.Patch.WorkerError.Message)

	require.Len(t, ledger.refunds, 1)
	assert.Equal(t, int64(10), ledger.refunds[0].Amount)
	// The user hears about the failure and the returned credits.
	require.Len(t, notifier.messages, 1)
}

func TestDownloadStageDownloadErrorRefunds(t *testing.T) {
	svc, proc, logs, ledger, _ := newDownloadFixture()
	proc.downloadErr = assert.AnError

	err := svc.Handle(context.Background(), downloadPayload(domain.EventTaskCompleted), taskStats())
	require.Error(t, err)

	require.Len(t, logs.patches, 1)
	assert.Equal(t, "downloader.failed", logs.patches[0].Event)
	require.Len(t, ledger.refunds, 1)
}

func TestDownloadStageDeliveryErrorRefunds(t *testing.T) {
	svc, _, logs, ledger, notifier := newDownloadFixture()
	notifier.docErr = assert.AnError

	err := svc.Handle(context.Background(), downloadPayload(domain.EventTaskCompleted), taskStats())
	require.Error(t, err)
	require.Len(t, logs.patches, 1)
	assert.Equal(t, "downloader.failed", logs.patches[0].Event)
	require.Len(t, ledger.refunds, 1)
}

func TestDownloadStageNoRefundForUserCredit(t *testing.T) {
	svc, proc, logs, ledger, _ := newDownloadFixture()
	proc.downloadErr = assert.AnError
	jl := openJobLog()
	jl.PaymentMethod = domain.PaymentUserCredit
	logs.getLog = jl

	err := svc.Handle(context.Background(), downloadPayload(domain.EventTaskCompleted), taskStats())
	require.Error(t, err)
	assert.Empty(t, ledger.refunds)
}

func TestDownloadStageMissingJobLog(t *testing.T) {
	svc, proc, logs, _, _ := newDownloadFixture()
	logs.getErr = domain.ErrNotFound

	err := svc.Handle(context.Background(), downloadPayload(domain.EventTaskCompleted), taskStats())
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Empty(t, proc.downloaded)
}

func TestRefundSupervisorNotifyFailureIsSwallowed(t *testing.T) {
	ledger := newFakeLedger()
	notifier := &fakeNotifier{msgErr: assert.AnError}
	sup := NewRefundSupervisor(ledger, notifier)

	err := sup.Refund(context.Background(), 10, "failure", ptrInt64(42), "credits returned")
	require.NoError(t, err)
	require.Len(t, ledger.refunds, 1)
}

func TestRefundSupervisorLedgerErrorPropagates(t *testing.T) {
	ledger := newFakeLedger()
	ledger.refundErr = assert.AnError
	sup := NewRefundSupervisor(ledger, &fakeNotifier{})

	err := sup.Refund(context.Background(), 10, "failure", nil, "")
	require.Error(t, err)
}
