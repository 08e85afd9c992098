package queue

import (
	"path/filepath"
	"testing"

	"github.com/paperpilot/orchestrator/internal/kvstore"
	"github.com/paperpilot/orchestrator/internal/logging"
	"github.com/paperpilot/orchestrator/internal/task"
)

func openTestStore(t *testing.T) *kvstore.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "queues.db")
	kv, err := kvstore.Open(dbPath, "task_queues")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestLoadQueueEmptyOnFirstUse(t *testing.T) {
	s := New(openTestStore(t), logging.Init("queue-test", false, "debug"))
	tasks := s.LoadQueue("organize", "organize_paper")
	if len(tasks) != 0 {
		t.Fatalf("expected empty queue, got %d tasks", len(tasks))
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := New(openTestStore(t), logging.Init("queue-test", false, "debug"))
	tasks := []*task.Task{
		task.New("k1", task.KindOrganizePaper, nil),
		task.New("k2", task.KindOrganizePaper, nil),
	}
	s.SaveQueue("organize", "organize_paper", tasks)

	loaded := s.LoadQueue("organize", "organize_paper")
	if len(loaded) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(loaded))
	}
	if loaded[0].Key != "k1" || loaded[1].Key != "k2" {
		t.Fatalf("unexpected task order/identity: %+v", loaded)
	}
}

func TestDistinctNamespaceKindPairsDoNotCollide(t *testing.T) {
	s := New(openTestStore(t), logging.Init("queue-test", false, "debug"))
	s.SaveQueue("organize", "organize_paper", []*task.Task{task.New("a", task.KindOrganizePaper, nil)})
	s.SaveQueue("metadata", "paper_metadata_extraction", []*task.Task{task.New("b", task.KindPaperMetadataExtraction, nil)})

	organize := s.LoadQueue("organize", "organize_paper")
	metadata := s.LoadQueue("metadata", "paper_metadata_extraction")
	if len(organize) != 1 || organize[0].Key != "a" {
		t.Fatalf("organize queue corrupted: %+v", organize)
	}
	if len(metadata) != 1 || metadata[0].Key != "b" {
		t.Fatalf("metadata queue corrupted: %+v", metadata)
	}
}
