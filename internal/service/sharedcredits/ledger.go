// Package sharedcredits implements the shared daily credit ledger.
//
// The fast store holds the authoritative counter for the race between
// concurrent consumers; the durable store is a synchronous follower.
// All mutating sections are serialized by a process-wide priority
// mutex so credit operations on the same day observe a total order.
package sharedcredits

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/filetools-bot/internal/adapter/observability"
	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

const (
	keyPrefix = "sharedCredits:"
	keyTTL    = 24 * time.Hour
)

// Ledger allocates a finite daily pool of processing credits.
type Ledger struct {
	fast  domain.FastStore
	store domain.CreditStore
	limit int64
	tag   string
	mu    PriorityMutex
	now   func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithTag sets the last_updated_by tag written to durable rows.
func WithTag(tag string) Option {
	return func(l *Ledger) { l.tag = tag }
}

// New constructs a Ledger with the given daily limit.
func New(fast domain.FastStore, store domain.CreditStore, dailyLimit int64, opts ...Option) *Ledger {
	l := &Ledger{fast: fast, store: store, limit: dailyLimit, tag: "ledger", now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) today() string { return l.now().UTC().Format("2006-01-02") }

func (l *Ledger) key(date string) string { return keyPrefix + date }

// GetCreditsLeft returns today's remaining credits, initializing the
// pool to the daily limit when absent and shouldInit is true.
func (l *Ledger) GetCreditsLeft(ctx domain.Context, shouldInit bool) (int64, bool, error) {
	if err := l.mu.Lock(ctx, PriorityRead); err != nil {
		return 0, false, err
	}
	defer l.mu.Unlock()
	return l.getLocked(ctx, shouldInit)
}

func (l *Ledger) getLocked(ctx domain.Context, shouldInit bool) (int64, bool, error) {
	date := l.today()
	key := l.key(date)

	if v, ok, err := l.fast.Get(ctx, key); err != nil {
		return 0, false, fmt.Errorf("op=credits.get: %w", err)
	} else if ok {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return 0, false, fmt.Errorf("op=credits.get: bad cached value %q: %w", v, perr)
		}
		return n, true, nil
	}

	e, err := l.store.GetCredits(ctx, date)
	if err == nil {
		if serr := l.fast.Set(ctx, key, strconv.FormatInt(e.CreditsLeft, 10), keyTTL); serr != nil {
			slog.Warn("credits cache populate failed", slog.String("date", date), slog.Any("error", serr))
		}
		return e.CreditsLeft, true, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return 0, false, fmt.Errorf("op=credits.get: %w", err)
	}
	if !shouldInit {
		return 0, false, nil
	}
	if err := l.initLocked(ctx, l.limit, "lazy init on first read"); err != nil {
		return 0, false, err
	}
	return l.limit, true, nil
}

// InitDailyCredits upserts today's pool to amount, falling back to the
// daily limit when amount is not positive. The fast store is written
// only after the durable upsert succeeds.
func (l *Ledger) InitDailyCredits(ctx domain.Context, amount int64) error {
	if amount <= 0 {
		amount = l.limit
	}
	if err := l.mu.Lock(ctx, PriorityInit); err != nil {
		return err
	}
	defer l.mu.Unlock()
	return l.initLocked(ctx, amount, "daily init")
}

func (l *Ledger) initLocked(ctx domain.Context, amount int64, comment string) error {
	date := l.today()
	nowUTC := l.now().UTC()
	entry := domain.CreditPoolEntry{
		Date:          date,
		CreditsLeft:   amount,
		CreatedAt:     nowUTC,
		CreatedBy:     l.tag,
		LastUpdatedAt: nowUTC,
		LastUpdatedBy: l.tag,
		Comment:       comment,
	}
	if err := l.store.UpsertCredits(ctx, entry); err != nil {
		return fmt.Errorf("op=credits.init: %w", err)
	}
	if err := l.fast.Set(ctx, l.key(date), strconv.FormatInt(amount, 10), keyTTL); err != nil {
		return fmt.Errorf("op=credits.init: fast store: %w", err)
	}
	l.appendTx(ctx, domain.CreditTransaction{
		Date: date, Type: domain.TxInit, Amount: amount, Comment: comment,
	})
	return nil
}

// ConsumeCredits atomically attempts to decrement the pool by amount.
// It returns false (and compensates) when the pool would go negative.
// Durable follower writes are best-effort; a successful decrement is
// never rolled back here (see the refund supervisor for the
// compensating path on downstream failure).
func (l *Ledger) ConsumeCredits(ctx domain.Context, amount int64, reason, refID, details string) (bool, error) {
	if amount < 0 {
		return false, fmt.Errorf("op=credits.consume: %w: negative amount %d", domain.ErrInvalidArgument, amount)
	}
	if err := l.mu.Lock(ctx, PriorityConsume); err != nil {
		return false, err
	}
	defer l.mu.Unlock()

	// The decrement must land on an initialized key, otherwise DECRBY
	// would mint an untracked counter with no expiry.
	if _, _, err := l.getLocked(ctx, true); err != nil {
		return false, err
	}

	date := l.today()
	key := l.key(date)
	left, err := l.fast.DecrBy(ctx, key, amount)
	if err != nil {
		return false, fmt.Errorf("op=credits.consume: %w", err)
	}
	if left < 0 {
		if _, cerr := l.fast.IncrBy(ctx, key, amount); cerr != nil {
			slog.Error("credits compensation increment failed",
				slog.String("date", date), slog.Int64("amount", amount), slog.Any("error", cerr))
		}
		return false, nil
	}

	l.mirror(ctx, date, left)
	l.appendTx(ctx, domain.CreditTransaction{
		Date: date, Type: domain.TxConsume, Amount: amount,
		Comment: reason, RefID: refID, Details: details,
	})
	observability.ConsumeCredits(amount)
	return true, nil
}

// RefundCredits increments the pool by amount. A refund before today's
// pool exists in the fast store is a no-op.
func (l *Ledger) RefundCredits(ctx domain.Context, amount int64, reason string) error {
	if amount < 0 {
		return fmt.Errorf("op=credits.refund: %w: negative amount %d", domain.ErrInvalidArgument, amount)
	}
	if err := l.mu.Lock(ctx, PriorityRefund); err != nil {
		return err
	}
	defer l.mu.Unlock()

	date := l.today()
	key := l.key(date)
	exists, err := l.fast.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("op=credits.refund: %w", err)
	}
	if !exists {
		slog.Info("refund skipped, pool not initialized", slog.String("date", date), slog.Int64("amount", amount))
		return nil
	}
	left, err := l.fast.IncrBy(ctx, key, amount)
	if err != nil {
		return fmt.Errorf("op=credits.refund: %w", err)
	}
	l.mirror(ctx, date, left)
	l.appendTx(ctx, domain.CreditTransaction{
		Date: date, Type: domain.TxRefund, Amount: amount, Comment: reason,
	})
	observability.RefundCredits(amount)
	return nil
}

// CompareCreditsLeft returns a reconciliation snapshot of both stores
// without mutating either.
func (l *Ledger) CompareCreditsLeft(ctx domain.Context) (domain.CreditComparison, error) {
	if err := l.mu.Lock(ctx, PriorityInit); err != nil {
		return domain.CreditComparison{}, err
	}
	defer l.mu.Unlock()

	date := l.today()
	var fast int64
	if v, ok, err := l.fast.Get(ctx, l.key(date)); err != nil {
		return domain.CreditComparison{}, fmt.Errorf("op=credits.compare: %w", err)
	} else if ok {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			return domain.CreditComparison{}, fmt.Errorf("op=credits.compare: bad cached value %q: %w", v, perr)
		}
		fast = n
	}

	var durable int64
	e, err := l.store.GetCredits(ctx, date)
	if err == nil {
		durable = e.CreditsLeft
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.CreditComparison{}, fmt.Errorf("op=credits.compare: %w", err)
	}

	diff := durable - fast
	return domain.CreditComparison{Fast: fast, Durable: durable, Diff: diff, Equal: diff == 0}, nil
}

// mirror is the synchronous follower write. Failures are logged and do
// not roll back the fast-store value; reconciliation corrects drift.
func (l *Ledger) mirror(ctx domain.Context, date string, left int64) {
	if err := l.store.SetCreditsLeft(ctx, date, left, l.tag); err != nil {
		slog.Error("credits durable mirror failed",
			slog.String("date", date), slog.Int64("left", left), slog.Any("error", err))
	}
}

func (l *Ledger) appendTx(ctx domain.Context, tx domain.CreditTransaction) {
	tx.ID = uuid.New().String()
	tx.CreatedAt = l.now().UTC()
	if err := l.store.AppendTransaction(ctx, tx); err != nil {
		slog.Error("credit transaction append failed",
			slog.String("date", tx.Date), slog.String("type", string(tx.Type)), slog.Any("error", err))
	}
}
