// Package executor implements the HandlerExecutor: a per-kind task runner
// with two bounded queues, bounded concurrency, and best-effort persistence.
package executor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/paperpilot/orchestrator/internal/apperrors"
	"github.com/paperpilot/orchestrator/internal/task"
)

// SubmitResult is the outcome of Submit.
type SubmitResult string

const (
	SubmitOK              SubmitResult = "ok"
	SubmitQueueFull       SubmitResult = "queue_full"
	SubmitUnsupportedKind SubmitResult = "unsupported_kind"
)

// Handler is the per-kind behavior a HandlerExecutor drives. Handlers must
// be safe for concurrent use: the executor serializes queue mutation but
// calls BeforeExecute/Execute/AfterExecute concurrently across distinct tasks.
type Handler interface {
	SupportedKinds() []task.Kind
	ValidateParams(t *task.Task) error
	BeforeExecute(ctx context.Context, t *task.Task) error
	Execute(ctx context.Context, t *task.Task) (map[string]interface{}, error)
	AfterExecute(ctx context.Context, t *task.Task, result map[string]interface{})
}

// RetentionPolicy controls expired-task purging on load.
type RetentionPolicy struct {
	// None means queues start empty on every process start (no load).
	None bool
	// FixedDuration drops any task older than this on load. Zero disables.
	FixedDuration time.Duration
}

// Store is the persistence contract a HandlerExecutor uses to survive
// restarts. Implementations must tolerate total loss of a prior snapshot.
type Store interface {
	SaveQueue(namespace, kind string, tasks []*task.Task)
	LoadQueue(namespace, kind string) []*task.Task
}

// Config tunes one HandlerExecutor instance.
type Config struct {
	Namespace      string
	ExecCap        int
	WaitCap        int
	MaxConcurrency int
	Retention      RetentionPolicy
	IdleBackoff    time.Duration
	TickInterval   time.Duration
	ErrorBackoff   time.Duration
}

// withDefaults fills in zero-value tuning knobs with sane defaults. Queue
// caps are deliberately left alone when explicitly set to zero — an
// execCap/waitCap of 0 is a valid (if degenerate) configuration that must
// always reject Submit, not silently become a large default capacity.
// Only a negative value (never explicitly requested) is defaulted.
func (c Config) withDefaults() Config {
	if c.ExecCap < 0 {
		c.ExecCap = 100
	}
	if c.WaitCap < 0 {
		c.WaitCap = 1000
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 10
	}
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = 2 * time.Second
	}
	return c
}

// HandlerExecutor owns one execution queue and one waiting queue for a set
// of task kinds, a single processing loop, and bounded in-flight execution.
type HandlerExecutor struct {
	cfg     Config
	handler Handler
	store   Store
	log     *slog.Logger
	kinds   map[task.Kind]bool

	mu             sync.Mutex // serializes processOnce and queue slices
	executionQueue []*task.Task
	waitingQueue   []*task.Task
	dirty          bool

	inFlight int64

	started  atomic.Bool
	stopping atomic.Bool
	stopped  chan struct{}
	loopDone chan struct{}

	admitted   metric.Int64Counter
	rejected   metric.Int64Counter
	queueDepth metric.Int64Gauge
	inFlightGg metric.Int64Gauge
	persistMs  metric.Float64Histogram
}

// New builds a HandlerExecutor for handler, bound to store under namespace.
func New(cfg Config, handler Handler, store Store, log *slog.Logger, meter metric.Meter) *HandlerExecutor {
	cfg = cfg.withDefaults()
	kinds := make(map[task.Kind]bool, len(handler.SupportedKinds()))
	for _, k := range handler.SupportedKinds() {
		kinds[k] = true
	}

	admitted, _ := meter.Int64Counter("executor_admitted_total")
	rejected, _ := meter.Int64Counter("executor_rejected_total")
	queueDepth, _ := meter.Int64Gauge("executor_queue_depth")
	inFlightGg, _ := meter.Int64Gauge("executor_in_flight")
	persistMs, _ := meter.Float64Histogram("executor_persist_ms")

	return &HandlerExecutor{
		cfg:        cfg,
		handler:    handler,
		store:      store,
		log:        log,
		kinds:      kinds,
		stopped:    make(chan struct{}),
		loopDone:   make(chan struct{}),
		admitted:   admitted,
		rejected:   rejected,
		queueDepth: queueDepth,
		inFlightGg: inFlightGg,
		persistMs:  persistMs,
	}
}

// SupportedKinds reports the kinds this executor accepts.
func (h *HandlerExecutor) SupportedKinds() []task.Kind {
	out := make([]task.Kind, 0, len(h.kinds))
	for k := range h.kinds {
		out = append(out, k)
	}
	return out
}

// Submit admits t into the execution queue, falling back to the waiting
// queue when the execution queue is full. It never blocks.
func (h *HandlerExecutor) Submit(t *task.Task) SubmitResult {
	if !h.kinds[t.Kind] {
		h.rejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", "unsupported_kind")))
		return SubmitUnsupportedKind
	}
	if h.stopping.Load() {
		h.rejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", "stopping")))
		return SubmitQueueFull
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	switch {
	case len(h.executionQueue) < h.cfg.ExecCap:
		h.executionQueue = append(h.executionQueue, t)
	case len(h.waitingQueue) < h.cfg.WaitCap:
		h.waitingQueue = append(h.waitingQueue, t)
	default:
		h.rejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", "queue_full")))
		return SubmitQueueFull
	}
	h.dirty = true
	h.admitted.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(t.Kind))))
	return SubmitOK
}

// Start idempotently loads persisted queues, purges expired tasks, and
// launches the processing loop.
func (h *HandlerExecutor) Start() {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	h.loadAndPurge()
	go h.loop()
}

func (h *HandlerExecutor) loadAndPurge() {
	if h.cfg.Retention.None {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, kind := range h.SupportedKinds() {
		loaded := h.store.LoadQueue(h.cfg.Namespace, string(kind))
		for _, t := range loaded {
			if h.cfg.Retention.FixedDuration > 0 && t.IsExpired(h.cfg.Retention.FixedDuration) {
				h.dirty = true
				continue
			}
			if t.Status == task.StatusExecuting {
				// A process restart loses any in-flight work; requeue as pending.
				t.Status = task.StatusPending
			}
			h.executionQueue = append(h.executionQueue, t)
		}
	}
}

func (h *HandlerExecutor) loop() {
	defer close(h.loopDone)
	for {
		select {
		case <-h.stopped:
			return
		default:
		}

		h.mu.Lock()
		empty := len(h.executionQueue) == 0 && len(h.waitingQueue) == 0
		h.mu.Unlock()

		if empty {
			if h.sleepOrStop(h.cfg.IdleBackoff) {
				return
			}
			continue
		}

		if err := h.processOnce(); err != nil {
			h.log.Warn("processOnce failed", "namespace", h.cfg.Namespace, "error", err)
			if h.sleepOrStop(h.cfg.ErrorBackoff) {
				return
			}
			continue
		}

		if h.sleepOrStop(h.cfg.TickInterval) {
			return
		}
	}
}

func (h *HandlerExecutor) sleepOrStop(d time.Duration) bool {
	select {
	case <-h.stopped:
		return true
	case <-time.After(d):
		return false
	}
}

// processOnce runs one compaction/dispatch/promotion/persist cycle. It is
// only ever invoked from the single processing loop goroutine, but it takes
// the executor's mutex regardless since Submit mutates the same slices.
func (h *HandlerExecutor) processOnce() error {
	h.mu.Lock()

	compacted := h.executionQueue[:0]
	for _, t := range h.executionQueue {
		if t.IsTerminal() {
			h.dirty = true
			continue
		}
		compacted = append(compacted, t)
	}
	h.executionQueue = compacted

	for _, t := range h.executionQueue {
		if atomic.LoadInt64(&h.inFlight) >= int64(h.cfg.MaxConcurrency) {
			break
		}
		if t.Status != task.StatusPending {
			continue
		}
		t.MarkExecuting()
		atomic.AddInt64(&h.inFlight, 1)
		go h.runTask(t)
	}

	moved := false
	for len(h.executionQueue) < h.cfg.ExecCap && len(h.waitingQueue) > 0 {
		h.executionQueue = append(h.executionQueue, h.waitingQueue[0])
		h.waitingQueue = h.waitingQueue[1:]
		moved = true
	}
	if moved {
		h.dirty = true
	}

	h.queueDepth.Record(context.Background(), int64(len(h.executionQueue)), metric.WithAttributes(attribute.String("queue", "execution")))
	h.queueDepth.Record(context.Background(), int64(len(h.waitingQueue)), metric.WithAttributes(attribute.String("queue", "waiting")))
	h.inFlightGg.Record(context.Background(), atomic.LoadInt64(&h.inFlight))

	dirty := h.dirty
	var execSnapshot, waitSnapshot []*task.Task
	if dirty {
		execSnapshot = append([]*task.Task(nil), h.executionQueue...)
		waitSnapshot = append([]*task.Task(nil), h.waitingQueue...)
		h.dirty = false
	}
	h.mu.Unlock()

	if dirty {
		start := time.Now()
		for _, kind := range h.SupportedKinds() {
			var exec, wait []*task.Task
			for _, t := range execSnapshot {
				if t.Kind == kind {
					exec = append(exec, t)
				}
			}
			for _, t := range waitSnapshot {
				if t.Kind == kind {
					wait = append(wait, t)
				}
			}
			h.store.SaveQueue(h.cfg.Namespace, string(kind), append(exec, wait...))
		}
		h.persistMs.Record(context.Background(), float64(time.Since(start).Milliseconds()))
	}

	return nil
}

// runTask executes one task end to end and always releases its inFlight
// slot, regardless of how execution terminates. AfterExecute is called
// unconditionally on every exit path — including param-validation and
// Execute failures — since callers (e.g. batch.Organizer, wired through
// organize.Handler's completion event) rely on it to learn a task has
// reached a terminal state at all, not only on success.
func (h *HandlerExecutor) runTask(t *task.Task) {
	defer atomic.AddInt64(&h.inFlight, -1)

	ctx := context.Background()

	if err := h.handler.ValidateParams(t); err != nil {
		t.MarkFailed(apperrors.Wrap(apperrors.KindInvalidInput, "param validation failed", err))
		h.handler.AfterExecute(ctx, t, nil)
		return
	}

	if err := h.handler.BeforeExecute(ctx, t); err != nil {
		h.log.Warn("beforeExecute failed", "key", t.Key, "error", err)
	}

	result, err := h.handler.Execute(ctx, t)
	if err != nil {
		t.MarkFailed(err)
		h.handler.AfterExecute(ctx, t, result)
		return
	}
	t.MarkCompleted(result)

	h.handler.AfterExecute(ctx, t, result)
}

// Stop closes admission, waits (bounded by ctx) for in-flight work to drain,
// and performs a final persist.
func (h *HandlerExecutor) Stop(ctx context.Context) error {
	if !h.stopping.CompareAndSwap(false, true) {
		return nil
	}
	close(h.stopped)
	<-h.loopDone

	for {
		if atomic.LoadInt64(&h.inFlight) == 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	h.persistNow()
	return nil
}

// persistNow snapshots both queues and writes them out unconditionally,
// bypassing the dirty check. Used only from Stop, after the loop has
// already exited, so no task dispatch happens here.
func (h *HandlerExecutor) persistNow() {
	h.mu.Lock()
	execSnapshot := append([]*task.Task(nil), h.executionQueue...)
	waitSnapshot := append([]*task.Task(nil), h.waitingQueue...)
	h.dirty = false
	h.mu.Unlock()

	for _, kind := range h.SupportedKinds() {
		var exec, wait []*task.Task
		for _, t := range execSnapshot {
			if t.Kind == kind {
				exec = append(exec, t)
			}
		}
		for _, t := range waitSnapshot {
			if t.Kind == kind {
				wait = append(wait, t)
			}
		}
		h.store.SaveQueue(h.cfg.Namespace, string(kind), append(exec, wait...))
	}
}
