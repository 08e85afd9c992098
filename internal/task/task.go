package task

import (
	"time"

	"github.com/paperpilot/orchestrator/internal/apperrors"
)

// Status is one stage in a Task's lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Kind is the closed-but-extensible discriminator for what a Task does.
type Kind string

const (
	KindOrganizePaper           Kind = "organize_paper"
	KindPaperMetadataExtraction Kind = "paper_metadata_extraction"
	KindPaperElementCrawler     Kind = "paper_element_crawler"
)

// knownKinds is consulted by Validate; register additional kinds here as the
// handler surface grows.
var knownKinds = map[Kind]bool{
	KindOrganizePaper:           true,
	KindPaperMetadataExtraction: true,
	KindPaperElementCrawler:     true,
}

// RegisterKind extends the known-kind set. Handlers for custom kinds must
// call this during init so Task.Validate accepts them.
func RegisterKind(k Kind) { knownKinds[k] = true }

// ErrorInfo is the serializable carrier for a Failed task's error.
type ErrorInfo struct {
	Kind    apperrors.Kind `json:"kind"`
	Message string         `json:"message"`
}

// Task is the unit of work admitted to a HandlerExecutor. Its status only
// ever advances Pending -> Executing -> {Completed, Failed}, and only the
// owning executor is allowed to call the mark* methods.
type Task struct {
	Key       string                 `json:"key"`
	Kind      Kind                   `json:"kind"`
	Params    map[string]interface{} `json:"params"`
	Status    Status                 `json:"status"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Err       *ErrorInfo             `json:"error,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
	UpdatedAt time.Time              `json:"updatedAt"`
}

// New builds a Pending task stamped with the current time.
func New(key string, kind Kind, params map[string]interface{}) *Task {
	now := time.Now()
	return &Task{
		Key:       key,
		Kind:      kind,
		Params:    params,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the submission-time invariants: non-empty key, known kind.
func (t *Task) Validate() error {
	if t.Key == "" {
		return apperrors.New(apperrors.KindInvalidInput, "task key must not be empty")
	}
	if !knownKinds[t.Kind] {
		return apperrors.New(apperrors.KindUnsupportedKind, string(t.Kind))
	}
	return nil
}

// MarkExecuting transitions Pending -> Executing.
func (t *Task) MarkExecuting() {
	t.Status = StatusExecuting
	t.UpdatedAt = time.Now()
}

// MarkCompleted transitions {Pending, Executing} -> Completed.
func (t *Task) MarkCompleted(result map[string]interface{}) {
	t.Status = StatusCompleted
	t.Result = result
	t.UpdatedAt = time.Now()
}

// MarkFailed transitions {Pending, Executing} -> Failed.
func (t *Task) MarkFailed(err error) {
	t.Status = StatusFailed
	t.Err = toErrorInfo(err)
	t.UpdatedAt = time.Now()
}

// IsTerminal reports whether the task has reached Completed or Failed.
func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// IsExpired reports whether the task has been alive longer than limit.
func (t *Task) IsExpired(limit time.Duration) bool {
	return time.Since(t.CreatedAt) > limit
}

func toErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*apperrors.Error); ok {
		return &ErrorInfo{Kind: ae.Kind, Message: ae.Error()}
	}
	return &ErrorInfo{Kind: apperrors.KindInternal, Message: err.Error()}
}
