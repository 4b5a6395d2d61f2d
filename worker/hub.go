package worker

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"moocore/idgen"
	"moocore/types"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Spec 6.2/4.7 constants, matching the original daemon's
// workers_server.rs (WORKER_TIMEOUT / PING_FREQUENCY).
const (
	DefaultPingFrequency  = 5 * time.Second
	DefaultDetachTimeout  = 10 * time.Second
	defaultMaxInFlight    = 256
	defaultTransportRetry = 2 * time.Second
)

// DomainError is a worker-fabric failure reported to the originating
// task as a pushed MOO error value (spec 7).
type DomainError int

const (
	ErrNoWorkerAvailable DomainError = iota
	ErrWorkerDetached
	ErrRequestTimedOut
	ErrRequestFailed
)

func (e DomainError) Error() string {
	switch e {
	case ErrNoWorkerAvailable:
		return "no worker available"
	case ErrWorkerDetached:
		return "worker detached"
	case ErrRequestTimedOut:
		return "worker request timed out"
	default:
		return "worker request failed"
	}
}

// Transport delivers an outbound request to an attached worker (the
// wire framing is the out-of-scope Host<->Daemon protocol of spec 6.2;
// this hook is where that protocol's client would plug in).
type Transport func(ctx context.Context, req Request) error

// Request is what the hub hands to Transport for delivery to a worker.
type Request struct {
	RequestID uuid.UUID
	WorkerID  uuid.UUID
	Perms     types.ObjID
	Args      []types.Value
	Timeout   time.Duration
}

// ResumeFunc wakes the task that issued a worker_request once its
// answer (or failure) is known. Bound to server.Scheduler.ResumeTask by
// whatever wires the hub into the scheduler, so this package never
// imports server.
type ResumeFunc func(taskID int64, value types.Value) error

type attachedWorker struct {
	id          uuid.UUID
	workerType  types.SymValue
	pubKey      ed25519.PublicKey
	lastPing    time.Time
	outstanding map[uuid.UUID]bool
}

type pendingRequest struct {
	taskID   int64
	workerID uuid.UUID
	timer    *time.Timer
}

// Hub tracks attached workers by type, dispatches worker_request()
// calls to the least-loaded worker of the requested type, and resumes
// the originating task when a Result, Error, detach, or timeout
// resolves the request (spec 4.7).
type Hub struct {
	mu      sync.Mutex
	workers map[uuid.UUID]*attachedWorker
	pending map[uuid.UUID]*pendingRequest

	pingFrequency time.Duration
	detachTimeout time.Duration

	transport  Transport
	resumeFunc ResumeFunc
	sem        *semaphore.Weighted

	logger *zap.Logger

	metrics hubMetrics

	cancel context.CancelFunc
	group  *errgroup.Group
}

type hubMetrics struct {
	attached     *prometheus.GaugeVec
	inFlight     prometheus.Gauge
	detached     prometheus.Counter
	timedOut     prometheus.Counter
	dispatchFail *prometheus.CounterVec
}

// Option customizes NewHub.
type Option func(*Hub)

// WithPingFrequency overrides DefaultPingFrequency.
func WithPingFrequency(d time.Duration) Option { return func(h *Hub) { h.pingFrequency = d } }

// WithDetachTimeout overrides DefaultDetachTimeout.
func WithDetachTimeout(d time.Duration) Option { return func(h *Hub) { h.detachTimeout = d } }

// WithMaxInFlight bounds concurrent outstanding worker requests across
// all workers (the worker fabric's fan-out bound, spec's domain stack).
func WithMaxInFlight(n int64) Option {
	return func(h *Hub) { h.sem = semaphore.NewWeighted(n) }
}

// WithRegisterer publishes hub metrics (attached workers by type,
// in-flight requests, detach/timeout counters) to reg instead of the
// private per-Hub registry NewHub creates otherwise.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(h *Hub) { h.metrics = newHubMetrics(reg) }
}

func newHubMetrics(reg prometheus.Registerer) hubMetrics {
	factory := promauto.With(reg)
	return hubMetrics{
		attached: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "moocore_worker_attached",
			Help: "Number of attached workers by type.",
		}, []string{"type"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "moocore_worker_requests_in_flight",
			Help: "Worker requests currently awaiting a response.",
		}),
		detached: factory.NewCounter(prometheus.CounterOpts{
			Name: "moocore_worker_detached_total",
			Help: "Workers marked detached after missing their ping deadline.",
		}),
		timedOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "moocore_worker_requests_timed_out_total",
			Help: "Worker requests that exceeded their per-call timeout.",
		}),
		dispatchFail: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moocore_worker_dispatch_failures_total",
			Help: "Worker requests that failed at dispatch time, by reason.",
		}, []string{"reason"}),
	}
}

// NewHub constructs a Hub. transport delivers requests to attached
// workers; resume wakes a suspended task with the request's outcome.
// Both are required — a Hub with a nil transport can still accept
// attach/detach and run its liveness sweep, but Dispatch always fails.
func NewHub(transport Transport, resume ResumeFunc, logger *zap.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		workers:       make(map[uuid.UUID]*attachedWorker),
		pending:       make(map[uuid.UUID]*pendingRequest),
		pingFrequency: DefaultPingFrequency,
		detachTimeout: DefaultDetachTimeout,
		transport:     transport,
		resumeFunc:    resume,
		sem:           semaphore.NewWeighted(defaultMaxInFlight),
		logger:        logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics.inFlight == nil {
		// Each Hub gets its own registry unless the caller supplies one via
		// WithRegisterer: multiple Hubs (e.g. one per test) must not collide
		// registering the same metric names against the global default.
		h.metrics = newHubMetrics(prometheus.NewRegistry())
	}
	return h
}

// Start launches the background liveness sweep. Call Stop to halt it.
func (h *Hub) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	h.group = g
	g.Go(func() error {
		h.sweepLoop(gctx)
		return nil
	})
}

// Stop halts the liveness sweep and waits for it to exit.
func (h *Hub) Stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	_ = h.group.Wait()
}

// Attach registers a new worker of workerType, verified with pub. Every
// subsequent message from this worker must carry a Token signed for its
// assigned id (verification happens at the transport boundary, since
// the wire protocol itself is out of scope here).
func (h *Hub) Attach(workerType types.SymValue, pub ed25519.PublicKey) uuid.UUID {
	id := idgen.NewID()
	h.mu.Lock()
	h.workers[id] = &attachedWorker{
		id:          id,
		workerType:  workerType,
		pubKey:      pub,
		lastPing:    time.Now(),
		outstanding: make(map[uuid.UUID]bool),
	}
	h.mu.Unlock()
	h.metrics.attached.WithLabelValues(workerType.Name()).Inc()
	h.logger.Info("worker attached", zap.String("id", id.String()), zap.String("type", workerType.Name()))
	return id
}

// Pong records a liveness ping from an attached worker.
func (h *Hub) Pong(workerID uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.workers[workerID]
	if !ok {
		return fmt.Errorf("worker %s: not attached", workerID)
	}
	w.lastPing = time.Now()
	return nil
}

// Detach removes a worker and fails its outstanding requests with
// ErrWorkerDetached, exactly as a missed ping deadline would.
func (h *Hub) Detach(workerID uuid.UUID) {
	h.mu.Lock()
	w, ok := h.workers[workerID]
	if ok {
		delete(h.workers, workerID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	h.metrics.attached.WithLabelValues(w.workerType.Name()).Dec()
	h.failOutstanding(w, ErrWorkerDetached)
}

// Dispatch sends a worker_request(workerType, args) to the
// least-loaded attached worker of that type and arranges for taskID to
// be resumed (via the ResumeFunc given to NewHub) once a response,
// error, detach, or timeout resolves the request.
func (h *Hub) Dispatch(ctx context.Context, taskID int64, perms types.ObjID, workerType types.SymValue, args []types.Value, timeout time.Duration) error {
	if !h.sem.TryAcquire(1) {
		h.metrics.dispatchFail.WithLabelValues("backpressure").Inc()
		return ErrRequestFailed
	}

	h.mu.Lock()
	var chosen *attachedWorker
	for _, w := range h.workers {
		if w.workerType.Name() != workerType.Name() {
			continue
		}
		if chosen == nil || len(w.outstanding) < len(chosen.outstanding) {
			chosen = w
		}
	}
	if chosen == nil {
		h.mu.Unlock()
		h.sem.Release(1)
		h.metrics.dispatchFail.WithLabelValues("no_worker").Inc()
		return ErrNoWorkerAvailable
	}

	requestID := idgen.NewID()
	workerID := chosen.id
	h.mu.Unlock()

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	req := Request{RequestID: requestID, WorkerID: workerID, Perms: perms, Args: args, Timeout: timeout}

	// Deliver before committing to tracking the request: a synchronous
	// send failure reports straight back to the caller (which answers
	// worker_request() immediately, no suspend involved), rather than
	// going through complete()/resumeFunc for a task that never suspended.
	if err := h.send(ctx, req); err != nil {
		h.sem.Release(1)
		h.logger.Warn("worker request delivery failed", zap.String("request_id", requestID.String()), zap.Error(err))
		h.metrics.dispatchFail.WithLabelValues("transport").Inc()
		return ErrRequestFailed
	}

	h.mu.Lock()
	chosen, ok := h.workers[workerID]
	if !ok {
		// Worker detached between being chosen and the send completing.
		h.mu.Unlock()
		h.sem.Release(1)
		h.metrics.dispatchFail.WithLabelValues("no_worker").Inc()
		return ErrNoWorkerAvailable
	}
	chosen.outstanding[requestID] = true
	pr := &pendingRequest{taskID: taskID, workerID: workerID}
	pr.timer = time.AfterFunc(timeout, func() { h.resolveTimeout(requestID) })
	h.pending[requestID] = pr
	h.mu.Unlock()

	h.metrics.inFlight.Inc()
	return nil
}

// send delivers req via Transport, retrying transient failures with a
// short bounded backoff (the "worker reconnect backoff" of the domain
// stack — a flaky transport looks the same as a worker reconnecting
// mid-send from the hub's point of view).
func (h *Hub) send(ctx context.Context, req Request) error {
	if h.transport == nil {
		return fmt.Errorf("worker request: no transport configured")
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(defaultTransportRetry), 2), ctx)
	return backoff.Retry(func() error { return h.transport(ctx, req) }, bo)
}

// Result delivers a worker's successful response for requestID.
func (h *Hub) Result(requestID uuid.UUID, value types.Value) {
	h.complete(requestID, value, nil)
}

// Error delivers a worker's failure response for requestID.
func (h *Hub) Error(requestID uuid.UUID, _ string) {
	h.complete(requestID, nil, ErrRequestFailed)
}

func (h *Hub) resolveTimeout(requestID uuid.UUID) {
	h.metrics.timedOut.Inc()
	h.complete(requestID, nil, ErrRequestTimedOut)
}

func (h *Hub) complete(requestID uuid.UUID, value types.Value, failErr error) {
	h.mu.Lock()
	pr, ok := h.pending[requestID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.pending, requestID)
	pr.timer.Stop()
	if w, ok := h.workers[pr.workerID]; ok {
		delete(w.outstanding, requestID)
	}
	h.mu.Unlock()

	h.sem.Release(1)
	h.metrics.inFlight.Dec()

	result := value
	if failErr != nil {
		code := types.E_WORKERREQUEST
		if de, ok := failErr.(DomainError); ok {
			code = de.ErrorCode()
		}
		result = types.NewErr(code)
	}
	if h.resumeFunc == nil {
		return
	}
	if err := h.resumeFunc(pr.taskID, result); err != nil {
		h.logger.Warn("failed to resume task after worker response",
			zap.Int64("task_id", pr.taskID), zap.Error(err))
	}
}

func (h *Hub) failOutstanding(w *attachedWorker, reason DomainError) {
	h.mu.Lock()
	ids := make([]uuid.UUID, 0, len(w.outstanding))
	for id := range w.outstanding {
		ids = append(ids, id)
	}
	h.mu.Unlock()

	for _, id := range ids {
		h.complete(id, nil, reason)
	}
}

// sweepLoop pings attached workers and detaches any that missed their
// deadline, matching workers_server.rs's process() loop.
func (h *Hub) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(h.pingFrequency)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweepExpired()
		}
	}
}

func (h *Hub) sweepExpired() {
	now := time.Now()
	h.mu.Lock()
	var expired []*attachedWorker
	for id, w := range h.workers {
		if now.Sub(w.lastPing) > h.detachTimeout {
			expired = append(expired, w)
			delete(h.workers, id)
		}
	}
	h.mu.Unlock()

	for _, w := range expired {
		h.metrics.attached.WithLabelValues(w.workerType.Name()).Dec()
		h.metrics.detached.Inc()
		h.logger.Error("worker missed ping deadline, detaching",
			zap.String("id", w.id.String()), zap.String("type", w.workerType.Name()))
		h.failOutstanding(w, ErrWorkerDetached)
	}
}
