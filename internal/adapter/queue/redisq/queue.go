// Package redisq implements the two-stage job queue on Redis.
//
// It provides the lease discipline the pipeline depends on: jobs are
// claimed under a lock of fixed duration, renewed heartbeat-style by
// the worker, and reclaimed by a stalled sweeper once the lease
// expires. Enqueues are idempotent per job id.
package redisq

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

// Queue is a producer/consumer handle for one named queue.
type Queue struct {
	rdb  *redis.Client
	name string
	now  func() time.Time
}

// New constructs a queue handle. Names are short identifiers such as
// "taskQueue" and "downloaderQueue".
func New(rdb *redis.Client, name string) *Queue {
	return &Queue{rdb: rdb, name: name, now: time.Now}
}

// WithClock overrides the time source (tests).
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) waitKey() string      { return q.name + ":wait" }
func (q *Queue) activeKey() string    { return q.name + ":active" }
func (q *Queue) idsKey() string       { return q.name + ":ids" }
func (q *Queue) seqKey() string       { return q.name + ":seq" }
func (q *Queue) jobKeyPrefix() string { return q.name + ":job:" }

// Enqueue adds a job unless its id is already known. The bool result
// reports whether the job was actually added; a duplicate id is not an
// error (webhook retries must be safe).
func (q *Queue) Enqueue(ctx domain.Context, id string, payload []byte, priority int) (bool, error) {
	if id == "" {
		return false, fmt.Errorf("op=queue.enqueue: %w: empty job id", domain.ErrInvalidArgument)
	}
	res, err := enqueueScript.Run(ctx, q.rdb,
		[]string{q.waitKey(), q.idsKey(), q.jobKeyPrefix() + id, q.seqKey()},
		id, payload, priority, q.now().UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("op=queue.enqueue: %w", err)
	}
	return res == 1, nil
}

// ActiveJob is a claimed job plus its bookkeeping counters.
type ActiveJob struct {
	ID         string
	Payload    []byte
	Priority   int
	EnqueuedAt time.Time
	ClaimedAt  time.Time
	// Token fences this claim: renew and finish only succeed while the
	// job hash still carries it. A re-claim after a stall rotates it.
	Token string
	// Ats counts attempts started (claims), Atm attempts that already
	// terminated or stalled before this one.
	Ats int
	Atm int
}

// Claim pops the best waiting job and moves it to the active set under
// a lease of lockDuration. Returns nil when the queue is empty.
func (q *Queue) Claim(ctx domain.Context, lockDuration time.Duration) (*ActiveJob, error) {
	now := q.now()
	deadline := now.Add(lockDuration).UnixMilli()
	token := uuid.New().String()
	res, err := claimScript.Run(ctx, q.rdb,
		[]string{q.waitKey(), q.activeKey()},
		deadline, q.jobKeyPrefix(), token).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("op=queue.claim: %w", err)
	}
	vals, ok := res.([]any)
	if !ok || len(vals) < 6 {
		return nil, fmt.Errorf("op=queue.claim: unexpected script result %v", res)
	}
	job := &ActiveJob{ID: toString(vals[0]), Payload: []byte(toString(vals[1])), ClaimedAt: now, Token: token}
	job.Priority, _ = strconv.Atoi(toString(vals[2]))
	if ms, err := strconv.ParseInt(toString(vals[3]), 10, 64); err == nil {
		job.EnqueuedAt = time.UnixMilli(ms)
	}
	job.Ats, _ = strconv.Atoi(toString(vals[4]))
	job.Atm, _ = strconv.Atoi(toString(vals[5]))
	return job, nil
}

// Renew extends the lease of an active job to now+lockDuration. It
// reports false when the lease was already reclaimed or the fencing
// token rotated; the worker must then abandon the job.
func (q *Queue) Renew(ctx domain.Context, id, token string, lockDuration time.Duration) (bool, error) {
	deadline := q.now().Add(lockDuration).UnixMilli()
	res, err := renewScript.Run(ctx, q.rdb, []string{q.activeKey()}, id, deadline, token, q.jobKeyPrefix()).Int()
	if err != nil {
		return false, fmt.Errorf("op=queue.renew: %w", err)
	}
	return res == 1, nil
}

// Finish removes a terminal job entirely (removeOnComplete and
// removeOnFail are both true for this pipeline). The bool result is
// false when the job was no longer held under token, i.e. the lease
// was lost to a later claim.
func (q *Queue) Finish(ctx domain.Context, id, token string) (bool, error) {
	res, err := finishScript.Run(ctx, q.rdb, []string{q.activeKey(), q.idsKey()}, id, q.jobKeyPrefix(), token).Int()
	if err != nil {
		return false, fmt.Errorf("op=queue.finish: %w", err)
	}
	return res == 1, nil
}

// RequeueStalled moves every active job whose lease deadline has
// passed back to the waiting set, preserving priority. Returns how
// many were reclaimed.
func (q *Queue) RequeueStalled(ctx domain.Context) (int, error) {
	res, err := requeueStalledScript.Run(ctx, q.rdb,
		[]string{q.activeKey(), q.waitKey(), q.seqKey()},
		q.now().UnixMilli(), q.jobKeyPrefix()).Int()
	if err != nil {
		return 0, fmt.Errorf("op=queue.requeue_stalled: %w", err)
	}
	return res, nil
}

// Depth returns the number of waiting jobs (diagnostics).
func (q *Queue) Depth(ctx domain.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, q.waitKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("op=queue.depth: %w", err)
	}
	return n, nil
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}
