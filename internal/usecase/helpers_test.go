package usecase

import (
	"sync"

	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

type consumeCall struct {
	Amount int64
	Reason string
	RefID  string
}

type refundCall struct {
	Amount int64
	Reason string
}

type fakeLedger struct {
	mu         sync.Mutex
	consumeOK  bool
	consumeErr error
	refundErr  error
	consumes   []consumeCall
	refunds    []refundCall
}

func newFakeLedger() *fakeLedger { return &fakeLedger{consumeOK: true} }

func (f *fakeLedger) GetCreditsLeft(domain.Context, bool) (int64, bool, error) {
	return 70, true, nil
}

func (f *fakeLedger) InitDailyCredits(domain.Context, int64) error { return nil }

func (f *fakeLedger) ConsumeCredits(_ domain.Context, amount int64, reason, refID, _ string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.consumeErr != nil {
		return false, f.consumeErr
	}
	if f.consumeOK {
		f.consumes = append(f.consumes, consumeCall{Amount: amount, Reason: reason, RefID: refID})
	}
	return f.consumeOK, nil
}

func (f *fakeLedger) RefundCredits(_ domain.Context, amount int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return f.refundErr
	}
	f.refunds = append(f.refunds, refundCall{Amount: amount, Reason: reason})
	return nil
}

func (f *fakeLedger) CompareCreditsLeft(domain.Context) (domain.CreditComparison, error) {
	return domain.CreditComparison{Equal: true}, nil
}

type fakeLimiter struct {
	allow    bool
	attempts []string
}

func (f *fakeLimiter) Attempt(key, _ string) bool {
	f.attempts = append(f.attempts, key)
	return f.allow
}

func (f *fakeLimiter) SetMaxAttempt(int, string) {}

type fakeQueue struct {
	enqueueErr error
	duplicate  bool
	tasks      []domain.TaskJobPayload
	downloads  []domain.DownloadJobPayload
}

func (f *fakeQueue) EnqueueTask(_ domain.Context, p domain.TaskJobPayload) (bool, error) {
	if f.enqueueErr != nil {
		return false, f.enqueueErr
	}
	if f.duplicate {
		return false, nil
	}
	f.tasks = append(f.tasks, p)
	return true, nil
}

func (f *fakeQueue) EnqueueDownload(_ domain.Context, p domain.DownloadJobPayload) (bool, error) {
	if f.enqueueErr != nil {
		return false, f.enqueueErr
	}
	if f.duplicate {
		return false, nil
	}
	f.downloads = append(f.downloads, p)
	return true, nil
}

type patchCall struct {
	Event  string
	Filter domain.JobLogFilter
	Patch  domain.JobLogPatch
}

type fakeLogs struct {
	addErr   error
	getErr   error
	patchErr error
	getLog   domain.JobLog
	entries  []domain.NewJobLogEntry
	patches  []patchCall
}

func (f *fakeLogs) AddJobLog(_ domain.Context, e domain.NewJobLogEntry) (string, error) {
	if f.addErr != nil {
		return "", f.addErr
	}
	f.entries = append(f.entries, e)
	return "row-1", nil
}

func (f *fakeLogs) UpdateWorkerJobLog(_ domain.Context, event string, filter domain.JobLogFilter, patch domain.JobLogPatch) error {
	if f.patchErr != nil {
		return f.patchErr
	}
	f.patches = append(f.patches, patchCall{Event: event, Filter: filter, Patch: patch})
	return nil
}

func (f *fakeLogs) GetByJobID(domain.Context, string) (domain.JobLog, error) {
	if f.getErr != nil {
		return domain.JobLog{}, f.getErr
	}
	return f.getLog, nil
}

type fakeProcessor struct {
	processErr    error
	downloadErr   error
	processResult domain.TaskResult
	artifact      domain.Artifact
	processed     []domain.ProcessRequest
	downloaded    []string
}

func (f *fakeProcessor) Process(_ domain.Context, req domain.ProcessRequest) (domain.TaskResult, error) {
	f.processed = append(f.processed, req)
	if f.processErr != nil {
		return domain.TaskResult{}, f.processErr
	}
	return f.processResult, nil
}

func (f *fakeProcessor) Download(_ domain.Context, server, taskID string) (domain.Artifact, error) {
	f.downloaded = append(f.downloaded, server+"/"+taskID)
	if f.downloadErr != nil {
		return domain.Artifact{}, f.downloadErr
	}
	return f.artifact, nil
}

type sentMessage struct {
	TgUserID int64
	Text     string
}

type sentDocument struct {
	TgUserID int64
	Doc      domain.Document
}

type fakeNotifier struct {
	msgErr   error
	docErr   error
	messages []sentMessage
	docs     []sentDocument
}

func (f *fakeNotifier) SendMessage(_ domain.Context, tgUserID int64, text string) error {
	if f.msgErr != nil {
		return f.msgErr
	}
	f.messages = append(f.messages, sentMessage{TgUserID: tgUserID, Text: text})
	return nil
}

func (f *fakeNotifier) SendDocument(_ domain.Context, tgUserID int64, doc domain.Document) error {
	if f.docErr != nil {
		return f.docErr
	}
	f.docs = append(f.docs, sentDocument{TgUserID: tgUserID, Doc: doc})
	return nil
}

func ptrStr(s string) *string { return &s }
func ptrInt64(n int64) *int64 { return &n }
