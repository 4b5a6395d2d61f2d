package worker

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"
	"time"

	"moocore/types"

	"github.com/google/uuid"
)

func newTestHub(t *testing.T, transport Transport, resume ResumeFunc, opts ...Option) *Hub {
	t.Helper()
	return NewHub(transport, resume, nil, opts...)
}

func TestDispatchNoWorkerAvailable(t *testing.T) {
	h := newTestHub(t, func(ctx context.Context, req Request) error { return nil }, nil)
	err := h.Dispatch(context.Background(), 1, types.ObjID(0), types.NewSym("http"), nil, time.Second)
	if !errors.Is(err, ErrNoWorkerAvailable) {
		t.Fatalf("expected ErrNoWorkerAvailable, got %v", err)
	}
}

func TestDispatchResumesOnResult(t *testing.T) {
	var delivered Request
	transport := func(ctx context.Context, req Request) error {
		delivered = req
		return nil
	}

	resumed := make(chan types.Value, 1)
	resume := func(taskID int64, value types.Value) error {
		resumed <- value
		return nil
	}

	h := newTestHub(t, transport, resume)
	_, pub, _ := ed25519.GenerateKey(nil)
	workerID := h.Attach(types.NewSym("http"), pub)

	if err := h.Dispatch(context.Background(), 42, types.ObjID(0), types.NewSym("http"), []types.Value{types.NewInt(1)}, time.Second); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if delivered.WorkerID != workerID {
		t.Fatalf("request routed to %s, want %s", delivered.WorkerID, workerID)
	}

	h.Result(delivered.RequestID, types.NewInt(99))

	select {
	case v := <-resumed:
		iv, ok := v.(types.IntValue)
		if !ok || iv.Val != 99 {
			t.Fatalf("resumed with %#v, want IntValue(99)", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resume")
	}
}

func TestDispatchPicksLeastLoaded(t *testing.T) {
	var mu sync.Mutex
	var delivered []uuid.UUID
	transport := func(ctx context.Context, req Request) error {
		mu.Lock()
		delivered = append(delivered, req.WorkerID)
		mu.Unlock()
		return nil
	}

	h := newTestHub(t, transport, func(int64, types.Value) error { return nil })
	_, pub, _ := ed25519.GenerateKey(nil)
	busy := h.Attach(types.NewSym("http"), pub)
	idle := h.Attach(types.NewSym("http"), pub)

	// Load up "busy" with an outstanding request first.
	h.mu.Lock()
	h.workers[busy].outstanding[uuid.New()] = true
	h.mu.Unlock()

	if err := h.Dispatch(context.Background(), 1, types.ObjID(0), types.NewSym("http"), nil, time.Second); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0] != idle {
		t.Fatalf("expected request routed to idle worker %s, got %v", idle, delivered)
	}
}

func TestDetachFailsOutstandingRequests(t *testing.T) {
	transport := func(ctx context.Context, req Request) error { return nil }
	resumed := make(chan types.Value, 1)
	resume := func(taskID int64, value types.Value) error {
		resumed <- value
		return nil
	}

	h := newTestHub(t, transport, resume)
	_, pub, _ := ed25519.GenerateKey(nil)
	workerID := h.Attach(types.NewSym("http"), pub)

	if err := h.Dispatch(context.Background(), 1, types.ObjID(0), types.NewSym("http"), nil, time.Second); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	h.Detach(workerID)

	select {
	case v := <-resumed:
		ev, ok := v.(types.ErrValue)
		if !ok || ev.Code() != types.E_WORKERDETACH {
			t.Fatalf("resumed with %#v, want E_WORKERDETACH", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for resume")
	}
}

func TestRequestTimesOut(t *testing.T) {
	transport := func(ctx context.Context, req Request) error { return nil }
	resumed := make(chan types.Value, 1)
	resume := func(taskID int64, value types.Value) error {
		resumed <- value
		return nil
	}

	h := newTestHub(t, transport, resume)
	_, pub, _ := ed25519.GenerateKey(nil)
	h.Attach(types.NewSym("http"), pub)

	if err := h.Dispatch(context.Background(), 1, types.ObjID(0), types.NewSym("http"), nil, 10*time.Millisecond); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	select {
	case v := <-resumed:
		ev, ok := v.(types.ErrValue)
		if !ok || ev.Code() != types.E_WORKERTIMEOUT {
			t.Fatalf("resumed with %#v, want E_WORKERTIMEOUT", v)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for timeout resume")
	}
}

func TestTokenRoundTrip(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	id := uuid.New()
	tok := IssueToken(priv, id)
	if err := Verify(pub, tok); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	otherPub, _, _ := ed25519.GenerateKey(nil)
	if err := Verify(otherPub, tok); err == nil {
		t.Fatal("expected verification to fail against the wrong key")
	}
}
