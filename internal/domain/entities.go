package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrConflict        = errors.New("conflict")
	ErrRateLimited     = errors.New("rate limited")
	ErrOutOfQuota      = errors.New("out of quota")
	ErrUpstream        = errors.New("upstream failure")
	ErrInternal        = errors.New("internal error")
)

// Tool enumerates the processing operations the external service offers.
type Tool string

const (
	ToolUpscaleImage          Tool = "upscaleimage"
	ToolRemoveBackgroundImage Tool = "removebackgroundimage"
	ToolImagePDF              Tool = "imagepdf"
	ToolMerge                 Tool = "merge"
	ToolCompress              Tool = "compress"
)

// KnownTools lists every tool the pipeline can dispatch.
var KnownTools = []Tool{
	ToolUpscaleImage,
	ToolRemoveBackgroundImage,
	ToolImagePDF,
	ToolMerge,
	ToolCompress,
}

// Valid reports whether t is a dispatchable tool.
func (t Tool) Valid() bool {
	for _, k := range KnownTools {
		if t == k {
			return true
		}
	}
	return false
}

// FileType enumerates the input kinds a submission may carry.
type FileType string

const (
	FileTypeDocImage FileType = "doc/image"
	FileTypeImage    FileType = "image"
	FileTypePDF      FileType = "pdf"
)

// PaymentMethod enumerates who pays for a job.
type PaymentMethod string

const (
	PaymentUserCredit   PaymentMethod = "user_credit"
	PaymentSharedCredit PaymentMethod = "shared_credit"
)

// WorkerState is the terminal state of one pipeline stage.
type WorkerState string

const (
	WorkerCompleted WorkerState = "completed"
	WorkerFailed    WorkerState = "failed"
)

// Stage names used in job-log events of the form "{stage}.{outcome}".
const (
	StageTask       = "task"
	StageDownloader = "downloader"
)

// Webhook event names posted by the external processor.
const (
	EventTaskCompleted = "task.completed"
	EventTaskFailed    = "task.failed"
)

// WorkerStats captures per-stage execution statistics.
type WorkerStats struct {
	CreatedAt   time.Time `json:"created_at"`
	ProcessedAt time.Time `json:"processed_at"`
	FinishedAt  time.Time `json:"finished_at"`
	// Ats counts attempts started, Atm attempts made (terminal handles).
	Ats      int   `json:"ats"`
	Atm      int   `json:"atm"`
	DelayMS  int64 `json:"delay"`
	Priority int   `json:"priority"`
}

// ProcessedFile identifies one output file on the external processor.
type ProcessedFile struct {
	ServerFilename string `json:"server_filename"`
	Filename       string `json:"filename"`
}

// TaskResult is the triple returned by a successful external submission.
// It is the correlation handle the downloader stage uses.
type TaskResult struct {
	Server string          `json:"server"`
	TaskID string          `json:"task_id"`
	Files  []ProcessedFile `json:"files"`
}

// WorkerError is the serializable failure record stored in job logs.
type WorkerError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// TaskJobPayload is the stage-one queue payload, keyed by the fingerprint.
type TaskJobPayload struct {
	JobID         string         `json:"job_id"`
	SubmittedAt   int64          `json:"submitted_at"`
	UserID        *string        `json:"user_id,omitempty"`
	TgUserID      *int64         `json:"tg_user_id,omitempty"`
	Tool          Tool           `json:"tool"`
	ToolOptions   map[string]any `json:"tool_options,omitempty"`
	FileLinks     []string       `json:"file_links"`
	FileType      FileType       `json:"file_type"`
	ToolPrice     int64          `json:"tool_price"`
	PaymentMethod PaymentMethod  `json:"payment_method"`
}

// DownloadJobPayload is the stage-two queue payload built from a webhook.
type DownloadJobPayload struct {
	JobID         string `json:"job_id"`
	Event         string `json:"event"`
	Tool          Tool   `json:"tool"`
	Server        string `json:"server"`
	TaskID        string `json:"task_id"`
	TgUserID      *int64 `json:"tg_user_id,omitempty"`
	Status        string `json:"status,omitempty"`
	StatusMessage string `json:"status_message,omitempty"`
}

// JobLog is one audit row covering both stages of a submission.
// Exactly one of UserID/TgUserID is non-nil.
type JobLog struct {
	ID            string
	JobID         string
	CreatedAt     time.Time
	UserID        *string
	TgUserID      *int64
	Tool          Tool
	ToolOptions   map[string]any
	ToolPrice     int64
	PaymentMethod PaymentMethod
	Immutable     bool
	Files         []string

	TaskWorkerState        *WorkerState
	TaskWorkerResult       *TaskResult
	TaskWorkerError        *WorkerError
	TaskWorkerStats        *WorkerStats
	DownloaderWorkerState  *WorkerState
	DownloaderWorkerResult map[string]any
	DownloaderWorkerError  *WorkerError
	DownloaderWorkerStats  *WorkerStats
}

// CreditPoolEntry is one daily row of the shared credit pool.
type CreditPoolEntry struct {
	Date          string
	CreditsLeft   int64
	CreatedAt     time.Time
	CreatedBy     string
	LastUpdatedAt time.Time
	LastUpdatedBy string
	Comment       string
}

// TxType enumerates credit transaction kinds.
type TxType string

const (
	TxInit    TxType = "init"
	TxConsume TxType = "consume"
	TxRefund  TxType = "refund"
)

// CreditTransaction is an append-only audit record of a ledger operation.
type CreditTransaction struct {
	ID        string
	Date      string
	Type      TxType
	Amount    int64
	Comment   string
	RefID     string
	Details   string
	CreatedAt time.Time
}

// CreditComparison is the reconciliation snapshot of fast vs durable store.
type CreditComparison struct {
	Fast    int64 `json:"fast"`
	Durable int64 `json:"durable"`
	Diff    int64 `json:"diff"`
	Equal   bool  `json:"equal"`
}

// InlineButton is one button of a follow-up keyboard attached to a
// delivered document. Data is opaque callback data.
type InlineButton struct {
	Text string
	Data string
}

// Document is an artifact delivered to a chat user.
type Document struct {
	Filename string
	Data     []byte
	Caption  string
	Keyboard [][]InlineButton
}

// Context is an alias so the domain layer stays decoupled in name only;
// adapters pass context.Context through.
type Context = context.Context
