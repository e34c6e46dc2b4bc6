package cache

import (
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/quotacache/internal/invariants"
)

// termWindow tracks open transactions. The term is odd while at least one
// transaction is open and advances on every open/close of the window, so
// banish entries from a closed window expire without being swept.
type termWindow struct {
	mu   sync.Mutex
	open int
	term atomic.Uint64
}

func (w *termWindow) begin() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.open == 0 {
		w.term.Add(1)
	}
	w.open++
	return w.term.Load()
}

func (w *termWindow) end() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.open == 0 {
		if invariants.Enabled {
			panic("quotacache: EndTransaction without BeginTransaction")
		}
		return
	}
	w.open--
	if w.open == 0 {
		w.term.Add(1)
	}
}

func (w *termWindow) current() (term uint64, open bool) {
	t := w.term.Load()
	return t, t%2 == 1
}

// TransactionalCache keeps cached values consistent with concurrent
// writers. A writer opens a Transaction and banishes every key it modifies;
// until the last open transaction ends, inserts of banished keys are
// rejected, so a reader that loaded the old value before the write cannot
// put it back into the cache.
type TransactionalCache struct {
	*core
}

// NewTransactionalCache creates a transactional cache and registers it with m.
func NewTransactionalCache(m *Manager, opt Options) (*TransactionalCache, error) {
	c, err := newCore(m, opt)
	if err != nil {
		return nil, err
	}
	c.txn = &termWindow{}
	if err := m.register(c); err != nil {
		return nil, err
	}
	return &TransactionalCache{core: c}, nil
}

// Transaction is a writer's handle on the banish window.
type Transaction struct {
	c    *TransactionalCache
	term uint64
	done atomic.Bool
}

// BeginTransaction opens (or joins) the banish window.
func (tc *TransactionalCache) BeginTransaction() *Transaction {
	return &Transaction{c: tc, term: tc.txn.begin()}
}

// Term is the window term the transaction started in.
func (tx *Transaction) Term() uint64 { return tx.term }

// Banish removes key from the cache and blocks its reinsertion until the
// window closes.
func (tx *Transaction) Banish(key []byte) bool {
	if tx.done.Load() {
		return false
	}
	return tx.c.Banish(key)
}

// End leaves the window. Safe to call more than once.
func (tx *Transaction) End() {
	if tx.done.CompareAndSwap(false, true) {
		tx.c.txn.end()
	}
}

// Banish removes key and, while a transaction window is open, blocks its
// reinsertion until the window closes. A bucket whose banish list is full
// rejects all inserts for the rest of the window. It reports whether the
// key was banished (a window was open).
func (tc *TransactionalCache) Banish(key []byte) bool {
	if tc.closed.Load() || len(key) == 0 || len(key) > MaxKeySize {
		return false
	}
	h := tc.hash(key)
	t := tc.pin()
	defer t.unpin()

	b, outer := t.lockFor(h)
	defer unlock(b, outer)
	if i := b.find(h, key); i >= 0 {
		tc.release(b.removeAt(i))
	}
	term, open := tc.txn.current()
	if open {
		b.banish(h, term, t.slots)
	}
	return open
}

// Banished reports whether inserts of key are currently blocked.
func (tc *TransactionalCache) Banished(key []byte) bool {
	term, open := tc.txn.current()
	if !open {
		return false
	}
	h := tc.hash(key)
	t := tc.pin()
	defer t.unpin()

	b, outer := t.lockFor(h)
	defer unlock(b, outer)
	return b.isBanished(h, term)
}

var _ Cache = (*TransactionalCache)(nil)
