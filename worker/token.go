// Package worker implements the out-of-process worker fabric (spec 4.7 /
// 6.2): typed worker attachment, capability-token verification,
// least-loaded request dispatch, liveness pinging, and the
// request/response correlation that lets a suspended task be resumed by
// whichever worker eventually answers it.
//
// Grounded on the original moor daemon's workers_server.rs
// (_examples/original_source/crates/daemon/src/workers_server.rs), which
// verifies each worker's capability token with an asymmetric signature
// on every message and tracks per-worker outstanding-request counts for
// least-loaded dispatch. Paseto/V4 isn't in the example pack's
// dependency surface, so tokens here are plain ed25519 signatures over
// the worker id, matching the "asymmetric signature" requirement with a
// stdlib-adjacent primitive the rest of the pack already reaches for
// (golang.org/x/crypto is a teacher dependency; crypto/ed25519 is its
// stdlib counterpart and needs no justification beyond availability —
// see DESIGN.md).
package worker

import (
	"crypto/ed25519"
	"fmt"

	"moocore/types"

	"github.com/google/uuid"
)

// Token is a capability token a worker presents on every message: the
// worker id it was issued for, and an ed25519 signature over that id
// made with the daemon's private key at attach time.
type Token struct {
	WorkerID  uuid.UUID
	Signature []byte
}

// IssueToken signs workerID with priv, producing the token a worker
// must echo back on every subsequent message.
func IssueToken(priv ed25519.PrivateKey, workerID uuid.UUID) Token {
	return Token{
		WorkerID:  workerID,
		Signature: ed25519.Sign(priv, workerID[:]),
	}
}

// Verify checks tok's signature against pub. Tokens failing verification
// must be rejected without side effects (spec 6.2).
func Verify(pub ed25519.PublicKey, tok Token) error {
	if !ed25519.Verify(pub, tok.WorkerID[:], tok.Signature) {
		return fmt.Errorf("worker token: signature verification failed")
	}
	return nil
}

// ErrorCode maps a worker-fabric DomainError to the MOO error value
// worker_request() pushes (spec 7: "errors raised in pushed-error style
// stay as values").
func (e DomainError) ErrorCode() types.ErrorCode {
	switch e {
	case ErrNoWorkerAvailable:
		return types.E_WORKERNA
	case ErrWorkerDetached:
		return types.E_WORKERDETACH
	case ErrRequestTimedOut:
		return types.E_WORKERTIMEOUT
	default:
		return types.E_WORKERREQUEST
	}
}
