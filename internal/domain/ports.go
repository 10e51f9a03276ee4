package domain

import "time"

// FastStore is the narrow capability interface over the shared cache.
// Counters are atomic; Set applies the given TTL, DecrBy/IncrBy keep it.
type FastStore interface {
	Get(ctx Context, key string) (string, bool, error)
	Set(ctx Context, key, value string, ttl time.Duration) error
	DecrBy(ctx Context, key string, n int64) (int64, error)
	IncrBy(ctx Context, key string, n int64) (int64, error)
	Exists(ctx Context, key string) (bool, error)
}

// CreditStore is the durable side of the shared credit ledger.
type CreditStore interface {
	GetCredits(ctx Context, date string) (CreditPoolEntry, error)
	UpsertCredits(ctx Context, e CreditPoolEntry) error
	SetCreditsLeft(ctx Context, date string, left int64, updatedBy string) error
	AppendTransaction(ctx Context, tx CreditTransaction) error
}

// CreditLedger is the shared pool contract consumed by the pipeline.
type CreditLedger interface {
	// GetCreditsLeft returns today's remaining credits. When shouldInit is
	// true and no pool exists yet, the pool is initialized to the daily
	// limit. ok is false when the pool is absent and shouldInit is false.
	GetCreditsLeft(ctx Context, shouldInit bool) (left int64, ok bool, err error)
	InitDailyCredits(ctx Context, amount int64) error
	ConsumeCredits(ctx Context, amount int64, reason, refID, details string) (bool, error)
	RefundCredits(ctx Context, amount int64, reason string) error
	CompareCreditsLeft(ctx Context) (CreditComparison, error)
}

// RateLimiter gates admission per user key within a fixed window.
type RateLimiter interface {
	Attempt(key, refID string) bool
	SetMaxAttempt(n int, refID string)
}

// NewJobLogEntry carries the fields of a freshly appended job-log row.
type NewJobLogEntry struct {
	Event         string
	JobID         string
	UserID        *string
	TgUserID      *int64
	Immutable     bool
	Tool          Tool
	ToolPrice     int64
	ToolOptions   map[string]any
	PaymentMethod PaymentMethod
	Files         []string
	WorkerResult  any
	WorkerError   *WorkerError
	WorkerStats   *WorkerStats
}

// JobLogFilter selects rows for a patch. At least two predicates are
// required; Immutable and stage-state fields are not filterable.
type JobLogFilter struct {
	JobID    string
	UserID   *string
	TgUserID *int64
	Tool     Tool
}

// JobLogPatch carries the stage fields written by UpdateWorkerJobLog.
type JobLogPatch struct {
	Immutable    bool
	WorkerResult any
	WorkerError  *WorkerError
	WorkerStats  *WorkerStats
}

// JobLogStore persists per-stage audit entries (append + patch).
type JobLogStore interface {
	AddJobLog(ctx Context, e NewJobLogEntry) (string, error)
	UpdateWorkerJobLog(ctx Context, event string, filter JobLogFilter, patch JobLogPatch) error
	GetByJobID(ctx Context, jobID string) (JobLog, error)
}

// Queue is the two-stage pipeline transport. Enqueue is idempotent per
// job id: a duplicate enqueue reports enqueued=false without error.
type Queue interface {
	EnqueueTask(ctx Context, p TaskJobPayload) (enqueued bool, err error)
	EnqueueDownload(ctx Context, p DownloadJobPayload) (enqueued bool, err error)
}

// ProcessRequest describes one external submission.
type ProcessRequest struct {
	Tool         Tool
	FileLinks    []string
	Options      map[string]any
	CustomString string
	CustomInt    int64
}

// Artifact is a downloaded processing output.
type Artifact struct {
	Filename string
	Data     []byte
}

// ProcessorClient wraps the external third-party processing API.
type ProcessorClient interface {
	Process(ctx Context, req ProcessRequest) (TaskResult, error)
	Download(ctx Context, server, taskID string) (Artifact, error)
}

// Notifier delivers messages and documents to a chat user.
type Notifier interface {
	SendMessage(ctx Context, tgUserID int64, text string) error
	SendDocument(ctx Context, tgUserID int64, doc Document) error
}
