package sharedcredits

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/filetools-bot/internal/domain"
)

type fakeFast struct {
	mu   sync.Mutex
	vals map[string]int64
}

func newFakeFast() *fakeFast { return &fakeFast{vals: make(map[string]int64)} }

func (f *fakeFast) Get(_ domain.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vals[key]
	if !ok {
		return "", false, nil
	}
	return strconv.FormatInt(v, 10), true, nil
}

func (f *fakeFast) Set(_ domain.Context, key, value string, _ time.Duration) error {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vals[key] = n
	return nil
}

func (f *fakeFast) DecrBy(_ domain.Context, key string, n int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vals[key] -= n
	return f.vals[key], nil
}

func (f *fakeFast) IncrBy(_ domain.Context, key string, n int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vals[key] += n
	return f.vals[key], nil
}

func (f *fakeFast) Exists(_ domain.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.vals[key]
	return ok, nil
}

type fakeCreditStore struct {
	mu        sync.Mutex
	entries   map[string]domain.CreditPoolEntry
	txs       []domain.CreditTransaction
	upsertErr error
}

func newFakeCreditStore() *fakeCreditStore {
	return &fakeCreditStore{entries: make(map[string]domain.CreditPoolEntry)}
}

func (s *fakeCreditStore) GetCredits(_ domain.Context, date string) (domain.CreditPoolEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[date]
	if !ok {
		return domain.CreditPoolEntry{}, domain.ErrNotFound
	}
	return e, nil
}

func (s *fakeCreditStore) UpsertCredits(_ domain.Context, e domain.CreditPoolEntry) error {
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.Date] = e
	return nil
}

func (s *fakeCreditStore) SetCreditsLeft(_ domain.Context, date string, left int64, updatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[date]
	if !ok {
		return domain.ErrNotFound
	}
	e.CreditsLeft = left
	e.LastUpdatedBy = updatedBy
	s.entries[date] = e
	return nil
}

func (s *fakeCreditStore) AppendTransaction(_ domain.Context, tx domain.CreditTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs = append(s.txs, tx)
	return nil
}

func (s *fakeCreditStore) txsOfType(tt domain.TxType) []domain.CreditTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.CreditTransaction
	for _, tx := range s.txs {
		if tx.Type == tt {
			out = append(out, tx)
		}
	}
	return out
}

func fixedClock() func() time.Time {
	ts := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return ts }
}

func TestConsumeLazilyInitializesPool(t *testing.T) {
	fast, store := newFakeFast(), newFakeCreditStore()
	l := New(fast, store, 70, WithClock(fixedClock()))
	ctx := context.Background()

	ok, err := l.ConsumeCredits(ctx, 10, "test", "ref-1", "compress")
	require.NoError(t, err)
	require.True(t, ok)

	left, present, err := l.GetCreditsLeft(ctx, false)
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, int64(60), left)

	e, err := store.GetCredits(ctx, "2024-05-10")
	require.NoError(t, err)
	assert.Equal(t, int64(60), e.CreditsLeft)

	require.Len(t, store.txsOfType(domain.TxInit), 1)
	consumes := store.txsOfType(domain.TxConsume)
	require.Len(t, consumes, 1)
	assert.Equal(t, "ref-1", consumes[0].RefID)
}

func TestConsumeInsufficientCompensates(t *testing.T) {
	fast, store := newFakeFast(), newFakeCreditStore()
	l := New(fast, store, 5, WithClock(fixedClock()))
	ctx := context.Background()

	ok, err := l.ConsumeCredits(ctx, 10, "too big", "ref", "")
	require.NoError(t, err)
	require.False(t, ok)

	left, _, err := l.GetCreditsLeft(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(5), left)
	assert.Empty(t, store.txsOfType(domain.TxConsume))
}

func TestConsumeZeroIsNoOpButAudited(t *testing.T) {
	fast, store := newFakeFast(), newFakeCreditStore()
	l := New(fast, store, 70, WithClock(fixedClock()))
	ctx := context.Background()

	ok, err := l.ConsumeCredits(ctx, 0, "zero", "ref-0", "")
	require.NoError(t, err)
	require.True(t, ok)

	left, _, err := l.GetCreditsLeft(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(70), left)

	consumes := store.txsOfType(domain.TxConsume)
	require.Len(t, consumes, 1)
	assert.Equal(t, int64(0), consumes[0].Amount)
}

func TestConsumeNegativeRejected(t *testing.T) {
	l := New(newFakeFast(), newFakeCreditStore(), 70, WithClock(fixedClock()))
	_, err := l.ConsumeCredits(context.Background(), -1, "", "", "")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestRefundBeforeInitIsNoOp(t *testing.T) {
	fast, store := newFakeFast(), newFakeCreditStore()
	l := New(fast, store, 70, WithClock(fixedClock()))
	ctx := context.Background()

	require.NoError(t, l.RefundCredits(ctx, 10, "stray refund"))
	_, present, err := l.GetCreditsLeft(ctx, false)
	require.NoError(t, err)
	assert.False(t, present)
	assert.Empty(t, store.txsOfType(domain.TxRefund))
}

func TestRefundReturnsCredits(t *testing.T) {
	fast, store := newFakeFast(), newFakeCreditStore()
	l := New(fast, store, 70, WithClock(fixedClock()))
	ctx := context.Background()

	ok, err := l.ConsumeCredits(ctx, 20, "job", "ref", "")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, l.RefundCredits(ctx, 20, "job failed"))

	left, _, err := l.GetCreditsLeft(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(70), left)
	require.Len(t, store.txsOfType(domain.TxRefund), 1)
}

func TestInitDailyCreditsFallsBackToLimit(t *testing.T) {
	fast, store := newFakeFast(), newFakeCreditStore()
	l := New(fast, store, 70, WithClock(fixedClock()))
	ctx := context.Background()

	require.NoError(t, l.InitDailyCredits(ctx, 0))
	left, present, err := l.GetCreditsLeft(ctx, false)
	require.NoError(t, err)
	require.True(t, present)
	assert.Equal(t, int64(70), left)

	require.NoError(t, l.InitDailyCredits(ctx, -3))
	left, _, err = l.GetCreditsLeft(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(70), left)
}

func TestInitDurableFailureLeavesFastUntouched(t *testing.T) {
	fast, store := newFakeFast(), newFakeCreditStore()
	store.upsertErr = assert.AnError
	l := New(fast, store, 70, WithClock(fixedClock()))

	err := l.InitDailyCredits(context.Background(), 70)
	require.Error(t, err)
	ok, _ := fast.Exists(context.Background(), "sharedCredits:2024-05-10")
	assert.False(t, ok)
}

func TestCompareCreditsLeft(t *testing.T) {
	fast, store := newFakeFast(), newFakeCreditStore()
	l := New(fast, store, 70, WithClock(fixedClock()))
	ctx := context.Background()

	require.NoError(t, l.InitDailyCredits(ctx, 70))
	// Simulate drift: the durable follower missed one consume.
	_, err := fast.DecrBy(ctx, "sharedCredits:2024-05-10", 10)
	require.NoError(t, err)

	cmp, err := l.CompareCreditsLeft(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(60), cmp.Fast)
	assert.Equal(t, int64(70), cmp.Durable)
	assert.Equal(t, int64(10), cmp.Diff)
	assert.False(t, cmp.Equal)

	// The comparison itself mutates nothing.
	left, _, err := l.GetCreditsLeft(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(60), left)
}

func TestConcurrentConsumeNeverOversells(t *testing.T) {
	fast, store := newFakeFast(), newFakeCreditStore()
	l := New(fast, store, 70, WithClock(fixedClock()))
	ctx := context.Background()

	const workers = 100
	var wg sync.WaitGroup
	granted := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := l.ConsumeCredits(ctx, 1, "concurrent", "", "")
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if ok {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	n := 0
	for range granted {
		n++
	}
	assert.Equal(t, 70, n)

	left, _, err := l.GetCreditsLeft(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(0), left)
}
