// Package queue provides bbolt-backed, best-effort persistence for a
// HandlerExecutor's execution and waiting queues.
package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/paperpilot/orchestrator/internal/kvstore"
	"github.com/paperpilot/orchestrator/internal/task"
)

const bucketName = "task_queues"

// DurableQueueStore persists named task queues under the
// task_queue_{namespace}_{kind} key convention. A read failure or the
// absence of a prior snapshot both yield an empty queue; callers must
// tolerate starting cold.
type DurableQueueStore struct {
	kv  *kvstore.Store
	log *slog.Logger
}

// New wraps an already-opened kvstore.Store. The caller owns the Store's
// lifetime (it may be shared across several queues and the batch snapshot
// bucket).
func New(kv *kvstore.Store, log *slog.Logger) *DurableQueueStore {
	return &DurableQueueStore{kv: kv, log: log}
}

func queueKey(namespace, kind string) string {
	return fmt.Sprintf("task_queue_%s_%s", namespace, kind)
}

// SaveQueue persists tasks for (namespace, kind). Failure is logged and
// swallowed: losing a persisted queue must never abort the caller.
func (s *DurableQueueStore) SaveQueue(namespace, kind string, tasks []*task.Task) {
	data, err := json.Marshal(tasks)
	if err != nil {
		s.log.Warn("queue marshal failed", "namespace", namespace, "kind", kind, "error", err)
		return
	}
	if err := s.kv.Write(bucketName, queueKey(namespace, kind), data); err != nil {
		s.log.Warn("queue persist failed", "namespace", namespace, "kind", kind, "error", err)
	}
}

// LoadQueue returns the persisted tasks for (namespace, kind), or an empty
// slice if nothing was ever saved or the snapshot is unreadable.
func (s *DurableQueueStore) LoadQueue(namespace, kind string) []*task.Task {
	data, ok, err := s.kv.Read(bucketName, queueKey(namespace, kind))
	if err != nil {
		s.log.Warn("queue load failed", "namespace", namespace, "kind", kind, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	var tasks []*task.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		s.log.Warn("queue unmarshal failed", "namespace", namespace, "kind", kind, "error", err)
		return nil
	}
	return tasks
}
