// Package merr is the daemon's ambient error taxonomy: a small set of
// typed errors that wrap vm.MooError/vm.VMException-shaped failures
// (a MOO error code plus optional payload) for the layers above the
// interpreter — store, scheduler, worker fabric — that need to branch
// on "what kind of failure was this" without parsing error strings.
package merr

import (
	"errors"
	"fmt"

	"moocore/types"
)

// Kind classifies a failure by the layer that produced it, so callers
// can errors.As into the right shape without caring about message
// text.
type Kind int

const (
	// KindMOO wraps a MOO error code raised by the interpreter (the
	// same information vm.MooError/vm.VMException carry).
	KindMOO Kind = iota
	// KindStore reports a transaction conflict or storage failure from
	// package store/db.
	KindStore
	// KindWorker reports a worker-fabric dispatch failure (no worker
	// available, detached, timed out).
	KindWorker
	// KindConfig reports a malformed or unreadable configuration file.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindMOO:
		return "moo"
	case KindStore:
		return "store"
	case KindWorker:
		return "worker"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// Error is the concrete type every merr constructor returns. It
// supports errors.Is (by Kind and, for KindMOO, by Code) and
// errors.As, and always carries the lower-level error it wraps so
// %w-style chains stay intact.
type Error struct {
	Kind Kind
	Code types.ErrorCode // meaningful only when Kind == KindMOO
	Op   string          // the operation that failed, e.g. "store.Commit"
	Err  error           // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Kind == KindMOO {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same Kind (and, for
// KindMOO, the same Code). This lets callers write
// errors.Is(err, merr.MOO("", types.E_PERM)) as a code check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if e.Kind == KindMOO && t.Code != 0 && t.Code != e.Code {
		return false
	}
	return true
}

// MOO wraps a MOO error code raised while performing op.
func MOO(op string, code types.ErrorCode) *Error {
	return &Error{Kind: KindMOO, Code: code, Op: op}
}

// Store wraps a storage-layer failure (conflict, I/O error) from op.
func Store(op string, err error) *Error {
	return &Error{Kind: KindStore, Op: op, Err: err}
}

// Worker wraps a worker-fabric dispatch failure from op.
func Worker(op string, err error) *Error {
	return &Error{Kind: KindWorker, Op: op, Err: err}
}

// Config wraps a configuration load/parse failure from op.
func Config(op string, err error) *Error {
	return &Error{Kind: KindConfig, Op: op, Err: err}
}

// CodeOf extracts the wrapped MOO error code from err, if any link in
// its chain is a KindMOO *Error. ok is false if err carries no MOO
// error code at all.
func CodeOf(err error) (code types.ErrorCode, ok bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindMOO {
		return e.Code, true
	}
	return 0, false
}
