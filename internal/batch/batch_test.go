package batch

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/paperpilot/orchestrator/internal/executor"
	"github.com/paperpilot/orchestrator/internal/logging"
	"github.com/paperpilot/orchestrator/internal/metadata"
	"github.com/paperpilot/orchestrator/internal/notify"
	"github.com/paperpilot/orchestrator/internal/organize"
	"github.com/paperpilot/orchestrator/internal/storagefs"
	"github.com/paperpilot/orchestrator/internal/task"
)

type capturingSubmitter struct {
	submitted []*task.Task
	result    executor.SubmitResult
}

func (c *capturingSubmitter) Submit(t *task.Task) executor.SubmitResult {
	c.submitted = append(c.submitted, t)
	if c.result == "" {
		return executor.SubmitOK
	}
	return c.result
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestOrganizePapersRejectsEmpty(t *testing.T) {
	coord := metadata.New(metadata.Config{})
	org := New(Config{}, coord, &capturingSubmitter{}, nil, notify.New(logging.Init("batch-test", false, "debug")))
	if _, err := org.OrganizePapers(nil, task.Options{}); err == nil {
		t.Fatalf("expected error for empty papers")
	}
}

func TestFullLifecycleHappyPath(t *testing.T) {
	coord := metadata.New(metadata.Config{PollInterval: 5 * time.Millisecond})
	submitter := &capturingSubmitter{}
	bus := notify.New(logging.Init("batch-test", false, "debug"))
	org := New(Config{MetadataTimeout: time.Second}, coord, submitter, nil, bus)

	completed := make(chan map[string]interface{}, 1)
	bus.Subscribe(func(e notify.Event) {
		if e.Name == "BatchProcessingCompleted" {
			completed <- e.Payload.(map[string]interface{})
		}
	}, "BatchProcessingCompleted")

	papers := []task.Paper{{ID: "p1", Title: "Paper One", Abstract: "abs"}}
	batchID, err := org.OrganizePapers(papers, task.Options{})
	if err != nil {
		t.Fatalf("organize papers: %v", err)
	}

	coord.OnPreprocessingCompleted(metadata.PaperRecord{PaperID: "p1"})

	waitFor(t, func() bool { return len(submitter.submitted) == 1 })
	taskKey := submitter.submitted[0].Key

	org.OnOrganizeTaskCompleted(taskKey, true, nil, &organize.Result{
		ProcessedData: organize.ProcessedData{OriginalAbstract: "abs"},
	})

	select {
	case payload := <-completed:
		if payload["successCount"] != 1 {
			t.Fatalf("expected successCount 1, got %+v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for BatchProcessingCompleted")
	}

	b, ok := org.Get(batchID)
	if !ok || b.Status != StatusCompleted {
		t.Fatalf("expected batch completed, got %+v", b)
	}
}

func TestOnOrganizeTaskCompletedIsIdempotent(t *testing.T) {
	coord := metadata.New(metadata.Config{PollInterval: 5 * time.Millisecond})
	submitter := &capturingSubmitter{}
	org := New(Config{MetadataTimeout: time.Second}, coord, submitter, nil, notify.New(logging.Init("batch-test", false, "debug")))

	papers := []task.Paper{{ID: "p1", Title: "Paper One"}}
	_, err := org.OrganizePapers(papers, task.Options{})
	if err != nil {
		t.Fatalf("organize papers: %v", err)
	}
	coord.OnPreprocessingCompleted(metadata.PaperRecord{PaperID: "p1"})
	waitFor(t, func() bool { return len(submitter.submitted) == 1 })
	taskKey := submitter.submitted[0].Key

	org.OnOrganizeTaskCompleted(taskKey, true, nil, &organize.Result{})
	org.OnOrganizeTaskCompleted(taskKey, false, &task.ErrorInfo{Message: "should not apply"}, nil)

	b, ok := org.Get(findBatchIDByTask(org, taskKey))
	if !ok {
		t.Fatalf("expected batch to exist")
	}
	if b.Items[0].Status != PaperCompleted {
		t.Fatalf("expected second completion call to be a no-op, got status %s", b.Items[0].Status)
	}
}

func findBatchIDByTask(org *Organizer, taskKey string) string {
	org.mu.RLock()
	defer org.mu.RUnlock()
	return org.taskIndex[taskKey].batchID
}

func TestCSVArtifactGeneratedWhenTaskDirectorySet(t *testing.T) {
	root := t.TempDir()
	fs, err := storagefs.New(root)
	if err != nil {
		t.Fatalf("storagefs.New: %v", err)
	}

	coord := metadata.New(metadata.Config{PollInterval: 5 * time.Millisecond})
	submitter := &capturingSubmitter{}
	org := New(Config{MetadataTimeout: time.Second}, coord, submitter, fs, notify.New(logging.Init("batch-test", false, "debug")))

	papers := []task.Paper{{ID: "p1", Title: "Paper One", Abstract: "abs"}}
	opts := task.Options{
		Classification: task.ClassificationOptions{Enabled: true},
		Storage:        task.StorageOptions{TaskDirectory: "batch-dir"},
	}
	_, err = org.OrganizePapers(papers, opts)
	if err != nil {
		t.Fatalf("organize papers: %v", err)
	}
	coord.OnPreprocessingCompleted(metadata.PaperRecord{PaperID: "p1"})
	waitFor(t, func() bool { return len(submitter.submitted) == 1 })
	taskKey := submitter.submitted[0].Key

	org.OnOrganizeTaskCompleted(taskKey, true, nil, &organize.Result{
		ProcessedData: organize.ProcessedData{OriginalAbstract: "abs", Classification: "cs.AI"},
	})

	var b *Batch
	waitFor(t, func() bool {
		var ok bool
		b, ok = org.Get(findBatchIDByTask(org, taskKey))
		return ok && b.Status == StatusCompleted
	})

	if b.CSVArtifact == "" {
		t.Fatalf("expected CSV artifact path to be set")
	}
	data, err := os.ReadFile(b.CSVArtifact)
	if err != nil {
		t.Fatalf("read csv artifact: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "Category") {
		t.Fatalf("expected Category column in classification-only CSV, got:\n%s", content)
	}
	if strings.Contains(content, "Translated Abstract") {
		t.Fatalf("did not expect Translated Abstract column when translation disabled, got:\n%s", content)
	}
	if filepath.Dir(b.CSVArtifact) != filepath.Join(root, "batch-dir") {
		t.Fatalf("expected csv under batch-dir, got %s", b.CSVArtifact)
	}
}
