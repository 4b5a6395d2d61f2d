package store

import (
	"context"

	"moocore/merr"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// Store is the process-wide MVCC engine. It owns the global
// timestamp clock and keeps no list of relations: the individual
// relations (object table, property table, verb table,
// children/contents indices — defined in package db) are owned by
// their callers, and Begin only hands transactions the shared clock.
type Store struct {
	clock  *Clock
	logger *zap.Logger
}

// New creates a Store. A nil logger falls back to zap.NewNop().
func New(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{clock: NewClock(), logger: logger}
}

// Clock exposes the store's timestamp source, e.g. for the
// persistence layer to read the current high-water mark at
// checkpoint time (spec §6.3).
func (s *Store) Clock() *Clock { return s.clock }

// Begin opens a transaction from the current snapshot.
func (s *Store) Begin() *Txn {
	return newTxn(s)
}

// RetryPolicy paces conflict retries with exponential backoff,
// bounded by maxRetries (spec's max_task_retries config option). The
// store itself never retries a conflicting commit — the scheduler
// does, using this policy, per spec §4.5 ("the task is restarted from
// its original starting state with a fresh snapshot; retry count is
// bounded").
type RetryPolicy struct {
	maxRetries int
}

// NewRetryPolicy builds a RetryPolicy bounded at maxRetries attempts.
func NewRetryPolicy(maxRetries int) *RetryPolicy {
	return &RetryPolicy{maxRetries: maxRetries}
}

// Run invokes attempt repeatedly (each attempt should open a fresh
// Txn via Store.Begin and retry its work from scratch) until it
// succeeds, returns a non-ErrConflict error, or the retry budget is
// exhausted. It returns the last error seen.
func (p *RetryPolicy) Run(ctx context.Context, attempt func() error) error {
	var b backoff.BackOff = backoff.NewExponentialBackOff()
	b = backoff.WithMaxRetries(b, uint64(p.maxRetries))
	b = backoff.WithContext(b, ctx)
	var lastErr error
	op := func() error {
		err := attempt()
		lastErr = err
		if err == nil {
			return nil
		}
		if err == ErrConflict {
			return err // retryable
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, b); err != nil {
		if err == ErrConflict {
			return merr.Store("store.RetryPolicy.Run", ErrConflict)
		}
		return lastErr
	}
	return nil
}
