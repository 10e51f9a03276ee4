package sharedcredits

import (
	"context"
	"sync"
)

// Ledger section priorities. Higher runs first among waiters; equal
// priorities are served FIFO.
const (
	PriorityRead    = 0
	PriorityConsume = 1
	PriorityRefund  = 2
	PriorityInit    = 3
)

type waiter struct {
	prio int
	seq  uint64
	ch   chan struct{}
}

// PriorityMutex is a FIFO-with-priority mutex. All mutating ledger
// sections share one instance so only one executes at a time across
// the process.
type PriorityMutex struct {
	mu      sync.Mutex
	held    bool
	seq     uint64
	waiters []*waiter
}

// Lock acquires the mutex at the given priority, blocking until granted
// or ctx is done.
func (m *PriorityMutex) Lock(ctx context.Context, prio int) error {
	m.mu.Lock()
	if !m.held {
		m.held = true
		m.mu.Unlock()
		return nil
	}
	w := &waiter{prio: prio, seq: m.seq, ch: make(chan struct{})}
	m.seq++
	m.waiters = append(m.waiters, w)
	m.mu.Unlock()

	select {
	case <-w.ch:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		for i, cand := range m.waiters {
			if cand == w {
				m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
				m.mu.Unlock()
				return ctx.Err()
			}
		}
		// Grant raced the cancellation; the lock is ours to hand on.
		m.unlockLocked()
		m.mu.Unlock()
		return ctx.Err()
	}
}

// Unlock releases the mutex, handing it to the best waiter if any.
func (m *PriorityMutex) Unlock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unlockLocked()
}

func (m *PriorityMutex) unlockLocked() {
	if len(m.waiters) == 0 {
		m.held = false
		return
	}
	best := 0
	for i, w := range m.waiters {
		b := m.waiters[best]
		if w.prio > b.prio || (w.prio == b.prio && w.seq < b.seq) {
			best = i
		}
	}
	w := m.waiters[best]
	m.waiters = append(m.waiters[:best], m.waiters[best+1:]...)
	// Ownership transfers directly; held stays true.
	close(w.ch)
}
