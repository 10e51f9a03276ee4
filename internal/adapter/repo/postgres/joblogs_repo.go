package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

// JobLogsRepo persists per-stage audit entries in the "job-logs" table.
type JobLogsRepo struct{ Pool PgxPool }

// NewJobLogsRepo constructs a JobLogsRepo with the given pool.
func NewJobLogsRepo(p PgxPool) *JobLogsRepo { return &JobLogsRepo{Pool: p} }

// AddJobLog inserts a new audit row. The event "{stage}.{outcome}"
// selects which stage's worker fields receive the result/error/stats.
func (r *JobLogsRepo) AddJobLog(ctx domain.Context, e domain.NewJobLogEntry) (string, error) {
	tracer := otel.Tracer("repo.joblogs")
	ctx, span := tracer.Start(ctx, "joblogs.Add")
	defer span.End()

	stage, outcome, err := domain.ParseStageEvent(e.Event)
	if err != nil {
		return "", fmt.Errorf("op=joblog.add: %w", err)
	}
	if e.JobID == "" {
		return "", fmt.Errorf("op=joblog.add: %w: job id required", domain.ErrInvalidArgument)
	}
	if !e.Tool.Valid() {
		return "", fmt.Errorf("op=joblog.add: %w: unknown tool %q", domain.ErrInvalidArgument, e.Tool)
	}
	if (e.UserID == nil) == (e.TgUserID == nil) {
		return "", fmt.Errorf("op=joblog.add: %w: exactly one of user_id and tg_user_id must be set", domain.ErrInvalidArgument)
	}

	optsJSON, err := json.Marshal(e.ToolOptions)
	if err != nil {
		return "", fmt.Errorf("op=joblog.add: %w", err)
	}
	filesJSON, err := json.Marshal(e.Files)
	if err != nil {
		return "", fmt.Errorf("op=joblog.add: %w", err)
	}
	resultJSON, errJSON, statsJSON, err := marshalStageFields(e.WorkerResult, e.WorkerError, e.WorkerStats)
	if err != nil {
		return "", fmt.Errorf("op=joblog.add: %w", err)
	}

	id := uuid.New().String()
	q := fmt.Sprintf(`INSERT INTO "job-logs"
	      (id, job_id, created_at, user_id, tg_user_id, tool, tool_options, tool_price, payment_method, immutable, files,
	       %[1]s_worker_state, %[1]s_worker_result, %[1]s_worker_error, %[1]s_worker_stats)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	      ON CONFLICT (job_id) DO NOTHING`, stage)
	tag, err := r.Pool.Exec(ctx, q,
		id, e.JobID, time.Now().UTC(), e.UserID, e.TgUserID, e.Tool, optsJSON, e.ToolPrice, e.PaymentMethod,
		e.Immutable, filesJSON, string(outcome), resultJSON, errJSON, statsJSON)
	if err != nil {
		return "", fmt.Errorf("op=joblog.add: %w", err)
	}
	// One audit row per fingerprint: a duplicate insert, e.g. from a
	// worker that lost its lease mid-flight, is a no-op.
	if tag.RowsAffected() == 0 {
		slog.Warn("duplicate job log insert ignored", slog.String("job_id", e.JobID), slog.String("event", e.Event))
		return "", nil
	}
	return id, nil
}

// UpdateWorkerJobLog patches the stage fields of rows matched by
// filter. The filter must carry at least two predicates; immutable and
// stage-state fields are not filterable, and rows already marked
// immutable are never touched.
func (r *JobLogsRepo) UpdateWorkerJobLog(ctx domain.Context, event string, filter domain.JobLogFilter, patch domain.JobLogPatch) error {
	tracer := otel.Tracer("repo.joblogs")
	ctx, span := tracer.Start(ctx, "joblogs.UpdateWorker")
	defer span.End()

	stage, outcome, err := domain.ParseStageEvent(event)
	if err != nil {
		return fmt.Errorf("op=joblog.update: %w", err)
	}

	where, args := buildFilter(filter)
	if len(where) < 2 {
		return fmt.Errorf("op=joblog.update: %w: filter needs at least two predicates", domain.ErrInvalidArgument)
	}

	resultJSON, errJSON, statsJSON, err := marshalStageFields(patch.WorkerResult, patch.WorkerError, patch.WorkerStats)
	if err != nil {
		return fmt.Errorf("op=joblog.update: %w", err)
	}

	n := len(args)
	q := fmt.Sprintf(`UPDATE "job-logs" SET
	      %[1]s_worker_state=$%[2]d, %[1]s_worker_result=$%[3]d, %[1]s_worker_error=$%[4]d, %[1]s_worker_stats=$%[5]d, immutable=$%[6]d
	      WHERE %[7]s AND immutable = FALSE`,
		stage, n+1, n+2, n+3, n+4, n+5, strings.Join(where, " AND "))
	args = append(args, string(outcome), resultJSON, errJSON, statsJSON, patch.Immutable)

	tag, err := r.Pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("op=joblog.update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=joblog.update: %w: no mutable row matched", domain.ErrNotFound)
	}
	return nil
}

// GetByJobID loads one audit row by fingerprint.
func (r *JobLogsRepo) GetByJobID(ctx domain.Context, jobID string) (domain.JobLog, error) {
	tracer := otel.Tracer("repo.joblogs")
	ctx, span := tracer.Start(ctx, "joblogs.GetByJobID")
	defer span.End()

	q := `SELECT id, job_id, created_at, user_id, tg_user_id, tool, tool_options, tool_price, payment_method, immutable, files,
	       task_worker_state, task_worker_result, task_worker_error, task_worker_stats,
	       downloader_worker_state, downloader_worker_result, downloader_worker_error, downloader_worker_stats
	      FROM "job-logs" WHERE job_id=$1 ORDER BY created_at DESC LIMIT 1`
	row := r.Pool.QueryRow(ctx, q, jobID)

	var (
		l                     domain.JobLog
		optsJSON, filesJSON   []byte
		tState, dState        *string
		tResult, tErr, tStats []byte
		dResult, dErr, dStats []byte
	)
	if err := row.Scan(&l.ID, &l.JobID, &l.CreatedAt, &l.UserID, &l.TgUserID, &l.Tool, &optsJSON, &l.ToolPrice,
		&l.PaymentMethod, &l.Immutable, &filesJSON,
		&tState, &tResult, &tErr, &tStats,
		&dState, &dResult, &dErr, &dStats); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JobLog{}, fmt.Errorf("op=joblog.get: %w", domain.ErrNotFound)
		}
		return domain.JobLog{}, fmt.Errorf("op=joblog.get: %w", err)
	}

	if len(optsJSON) > 0 {
		_ = json.Unmarshal(optsJSON, &l.ToolOptions)
	}
	if len(filesJSON) > 0 {
		_ = json.Unmarshal(filesJSON, &l.Files)
	}
	if tState != nil {
		s := domain.WorkerState(*tState)
		l.TaskWorkerState = &s
	}
	if dState != nil {
		s := domain.WorkerState(*dState)
		l.DownloaderWorkerState = &s
	}
	unmarshalInto(tResult, &l.TaskWorkerResult)
	unmarshalInto(tErr, &l.TaskWorkerError)
	unmarshalInto(tStats, &l.TaskWorkerStats)
	if len(dResult) > 0 {
		_ = json.Unmarshal(dResult, &l.DownloaderWorkerResult)
	}
	unmarshalInto(dErr, &l.DownloaderWorkerError)
	unmarshalInto(dStats, &l.DownloaderWorkerStats)
	return l, nil
}

func buildFilter(f domain.JobLogFilter) (where []string, args []any) {
	add := func(col string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if f.JobID != "" {
		add("job_id", f.JobID)
	}
	if f.UserID != nil {
		add("user_id", *f.UserID)
	}
	if f.TgUserID != nil {
		add("tg_user_id", *f.TgUserID)
	}
	if f.Tool != "" {
		add("tool", f.Tool)
	}
	return where, args
}

func marshalStageFields(result any, werr *domain.WorkerError, stats *domain.WorkerStats) (resultJSON, errJSON, statsJSON []byte, err error) {
	if result != nil {
		if resultJSON, err = json.Marshal(result); err != nil {
			return nil, nil, nil, err
		}
	}
	if werr != nil {
		if errJSON, err = json.Marshal(werr); err != nil {
			return nil, nil, nil, err
		}
	}
	if stats != nil {
		if statsJSON, err = json.Marshal(stats); err != nil {
			return nil, nil, nil, err
		}
	}
	return resultJSON, errJSON, statsJSON, nil
}

func unmarshalInto[T any](b []byte, dst **T) {
	if len(b) == 0 {
		return
	}
	var v T
	if err := json.Unmarshal(b, &v); err == nil {
		*dst = &v
	}
}
