package executor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/paperpilot/orchestrator/internal/kvstore"
	"github.com/paperpilot/orchestrator/internal/logging"
	"github.com/paperpilot/orchestrator/internal/queue"
	"github.com/paperpilot/orchestrator/internal/task"
)

// echoHandler completes every task immediately with its params as the result.
type echoHandler struct {
	kinds    []task.Kind
	executed chan string
}

func (h *echoHandler) SupportedKinds() []task.Kind     { return h.kinds }
func (h *echoHandler) ValidateParams(t *task.Task) error { return nil }
func (h *echoHandler) BeforeExecute(ctx context.Context, t *task.Task) error { return nil }
func (h *echoHandler) Execute(ctx context.Context, t *task.Task) (map[string]interface{}, error) {
	return map[string]interface{}{"echoed": t.Key}, nil
}
func (h *echoHandler) AfterExecute(ctx context.Context, t *task.Task, result map[string]interface{}) {
	if h.executed != nil {
		h.executed <- t.Key
	}
}

func newTestStore(t *testing.T) *queue.DurableQueueStore {
	t.Helper()
	kv, err := kvstore.Open(filepath.Join(t.TempDir(), "exec.db"), "task_queues")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return queue.New(kv, logging.Init("executor-test", false, "debug"))
}

func TestSubmitRejectsUnsupportedKind(t *testing.T) {
	h := &echoHandler{kinds: []task.Kind{task.KindOrganizePaper}}
	exec := New(Config{Namespace: "t"}, h, newTestStore(t), logging.Init("executor-test", false, "debug"), noop.NewMeterProvider().Meter(""))
	res := exec.Submit(task.New("k1", task.KindPaperMetadataExtraction, nil))
	if res != SubmitUnsupportedKind {
		t.Fatalf("expected UnsupportedKind, got %s", res)
	}
}

func TestSubmitFillsExecutionThenWaitingThenRejects(t *testing.T) {
	h := &echoHandler{kinds: []task.Kind{task.KindOrganizePaper}}
	exec := New(Config{Namespace: "t", ExecCap: 1, WaitCap: 1, MaxConcurrency: 1}, h, newTestStore(t), logging.Init("executor-test", false, "debug"), noop.NewMeterProvider().Meter(""))

	if res := exec.Submit(task.New("k1", task.KindOrganizePaper, nil)); res != SubmitOK {
		t.Fatalf("expected first submit ok, got %s", res)
	}
	if res := exec.Submit(task.New("k2", task.KindOrganizePaper, nil)); res != SubmitOK {
		t.Fatalf("expected second submit ok (waiting queue), got %s", res)
	}
	if res := exec.Submit(task.New("k3", task.KindOrganizePaper, nil)); res != SubmitQueueFull {
		t.Fatalf("expected third submit QueueFull, got %s", res)
	}
}

func TestSubmitWithZeroCapsAlwaysRejects(t *testing.T) {
	h := &echoHandler{kinds: []task.Kind{task.KindOrganizePaper}}
	exec := New(Config{Namespace: "t", ExecCap: 0, WaitCap: 0, MaxConcurrency: 1}, h, newTestStore(t), logging.Init("executor-test", false, "debug"), noop.NewMeterProvider().Meter(""))

	if res := exec.Submit(task.New("k1", task.KindOrganizePaper, nil)); res != SubmitQueueFull {
		t.Fatalf("expected QueueFull with execCap=0,waitCap=0, got %s", res)
	}
}

func TestStartProcessesSubmittedTasks(t *testing.T) {
	h := &echoHandler{kinds: []task.Kind{task.KindOrganizePaper}, executed: make(chan string, 2)}
	exec := New(Config{Namespace: "t", ExecCap: 10, WaitCap: 10, MaxConcurrency: 4, IdleBackoff: 20 * time.Millisecond, TickInterval: 5 * time.Millisecond}, h, newTestStore(t), logging.Init("executor-test", false, "debug"), noop.NewMeterProvider().Meter(""))

	exec.Submit(task.New("k1", task.KindOrganizePaper, nil))
	exec.Submit(task.New("k2", task.KindOrganizePaper, nil))
	exec.Start()

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 2 {
		select {
		case key := <-h.executed:
			seen[key] = true
		case <-timeout:
			t.Fatalf("timed out waiting for tasks to execute, saw %v", seen)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := exec.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
