// Package memory is an in-process tracking.Store. Transactions hold a store
// wide lock for their whole lifetime, so all writers serialize; it is meant
// for tests and single-node development, not production load.
package memory

import (
	"context"
	"errors"
	"sync"

	"asset-tracker-api/internal/tracking"
)

var errTxDone = errors.New("memory: transaction already finished")

// Store keeps all rows in maps guarded by one mutex
type Store struct {
	mu sync.Mutex
	st *state
}

var _ tracking.Store = (*Store)(nil)

// New returns an empty store
func New() *Store {
	return &Store{st: newState()}
}

// txn is the undo journal of one RunInTx call
type txn struct {
	undo []func()
	done bool
}

func (t *txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.done = true
}

// view is what repositories operate through. Outside a transaction every
// call takes the lock itself; inside one the lock is already held.
type view struct {
	s  *Store
	tx *txn
}

func (v view) do(fn func(st *state) error) error {
	if v.tx == nil {
		v.s.mu.Lock()
		defer v.s.mu.Unlock()
		return fn(v.s.st)
	}
	if v.tx.done {
		return errTxDone
	}
	return fn(v.s.st)
}

func (v view) onRollback(f func()) {
	if v.tx != nil {
		v.tx.undo = append(v.tx.undo, f)
	}
}

func (s *Store) repos(tx *txn) tracking.Repos {
	v := view{s: s, tx: tx}
	return tracking.Repos{
		Tags:      tagRepo{v},
		Assets:    assetRepo{v},
		Movements: movementRepo{v},
		Reads:     readRepo{v},
		Portals:   portalRepo{v},
	}
}

// Repos returns repositories that lock per call
func (s *Store) Repos() tracking.Repos {
	return s.repos(nil)
}

// RunInTx runs fn under the store lock. Every mutation made through the
// handed repositories is undone when fn fails, panics, or ctx ends first.
func (s *Store) RunInTx(ctx context.Context, fn func(r tracking.Repos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txn{}
	committed := false
	defer func() {
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(s.repos(tx)); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	committed = true
	tx.done = true
	return nil
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op
func (s *Store) Close() error { return nil }
