// Package postgres provides the durable-store adapters of the pipeline.
//
// Tables: "shared-credits" (one row per UTC date), the append-only
// "shared-credits-transactions", and "job-logs".
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// CreditsRepo persists the shared credit pool and its transaction log.
type CreditsRepo struct{ Pool PgxPool }

// NewCreditsRepo constructs a CreditsRepo with the given pool.
func NewCreditsRepo(p PgxPool) *CreditsRepo { return &CreditsRepo{Pool: p} }

// GetCredits loads one daily pool row, or domain.ErrNotFound.
func (r *CreditsRepo) GetCredits(ctx domain.Context, date string) (domain.CreditPoolEntry, error) {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.Get")
	defer span.End()
	q := `SELECT date, credits_left, created_at, created_by, last_updated_at, last_updated_by, COALESCE(comment,'')
	      FROM "shared-credits" WHERE date=$1`
	row := r.Pool.QueryRow(ctx, q, date)
	var e domain.CreditPoolEntry
	if err := row.Scan(&e.Date, &e.CreditsLeft, &e.CreatedAt, &e.CreatedBy, &e.LastUpdatedAt, &e.LastUpdatedBy, &e.Comment); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CreditPoolEntry{}, fmt.Errorf("op=credits.get: %w", domain.ErrNotFound)
		}
		return domain.CreditPoolEntry{}, fmt.Errorf("op=credits.get: %w", err)
	}
	return e, nil
}

// UpsertCredits inserts or replaces the daily pool row keyed by date.
func (r *CreditsRepo) UpsertCredits(ctx domain.Context, e domain.CreditPoolEntry) error {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.Upsert")
	defer span.End()
	q := `INSERT INTO "shared-credits" (date, credits_left, created_at, created_by, last_updated_at, last_updated_by, comment)
	      VALUES ($1,$2,$3,$4,$5,$6,$7)
	      ON CONFLICT (date) DO UPDATE SET
	        credits_left = EXCLUDED.credits_left,
	        last_updated_at = EXCLUDED.last_updated_at,
	        last_updated_by = EXCLUDED.last_updated_by,
	        comment = EXCLUDED.comment`
	_, err := r.Pool.Exec(ctx, q, e.Date, e.CreditsLeft, e.CreatedAt, e.CreatedBy, e.LastUpdatedAt, e.LastUpdatedBy, e.Comment)
	if err != nil {
		return fmt.Errorf("op=credits.upsert: %w", err)
	}
	return nil
}

// SetCreditsLeft mirrors the fast-store counter into the durable row.
func (r *CreditsRepo) SetCreditsLeft(ctx domain.Context, date string, left int64, updatedBy string) error {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.SetLeft")
	defer span.End()
	q := `UPDATE "shared-credits" SET credits_left=$2, last_updated_at=$3, last_updated_by=$4 WHERE date=$1`
	tag, err := r.Pool.Exec(ctx, q, date, left, time.Now().UTC(), updatedBy)
	if err != nil {
		return fmt.Errorf("op=credits.set_left: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=credits.set_left: %w: no pool row for %s", domain.ErrNotFound, date)
	}
	return nil
}

// AppendTransaction appends one row to the transaction audit log.
func (r *CreditsRepo) AppendTransaction(ctx domain.Context, tx domain.CreditTransaction) error {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.AppendTx")
	defer span.End()
	id := tx.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO "shared-credits-transactions" (id, date, type, amount, comment, ref_id, details, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := r.Pool.Exec(ctx, q, id, tx.Date, tx.Type, tx.Amount, tx.Comment, tx.RefID, tx.Details, tx.CreatedAt)
	if err != nil {
		return fmt.Errorf("op=credits.append_tx: %w", err)
	}
	return nil
}
