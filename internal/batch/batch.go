// Package batch implements the BatchOrganizer: the per-batch coordinator
// that waits for paper metadata, fans out organize_paper tasks, tracks
// per-paper progress, and emits the final CSV artifact.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paperpilot/orchestrator/internal/apperrors"
	"github.com/paperpilot/orchestrator/internal/executor"
	"github.com/paperpilot/orchestrator/internal/metadata"
	"github.com/paperpilot/orchestrator/internal/notify"
	"github.com/paperpilot/orchestrator/internal/organize"
	"github.com/paperpilot/orchestrator/internal/storagefs"
	"github.com/paperpilot/orchestrator/internal/task"
)

// Status is a Batch's lifecycle stage.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// PaperStatus is one PaperItem's lifecycle stage.
type PaperStatus string

const (
	PaperWaitingMetadata PaperStatus = "waiting_metadata"
	PaperMetadataReady   PaperStatus = "metadata_ready"
	PaperOrganizing      PaperStatus = "organizing"
	PaperCompleted       PaperStatus = "completed"
	PaperFailed          PaperStatus = "failed"
)

func (s PaperStatus) terminal() bool {
	return s == PaperCompleted || s == PaperFailed
}

// PaperItem tracks one paper's progress through a Batch.
type PaperItem struct {
	Paper           task.Paper
	Status          PaperStatus
	OrganizeTaskKey string
	ProcessedData   organize.ProcessedData
	Actions         []organize.ActionStatus
	StoragePath     string
	Error           *task.ErrorInfo
}

// Batch is a set of papers submitted together for organization.
type Batch struct {
	ID            string
	Options       task.Options
	Items         []*PaperItem
	TaskDirectory string
	Status        Status
	CSVArtifact   string
	CreatedAt     time.Time
	CompletedAt   time.Time

	mu sync.Mutex
}

// Progress reports how many papers are in each terminal state.
type Progress struct {
	Total     int
	Completed int
	Failed    int
}

// Snapshot is a point-in-time, lock-free copy of a Batch suitable for
// serialization (e.g. the HTTP GET /v1/batches/{id} response). Reading
// Batch's fields directly while runCoordinator/OnOrganizeTaskCompleted may
// be mutating them concurrently is a data race; callers must go through
// Batch.Snapshot instead.
type Snapshot struct {
	ID            string
	Options       task.Options
	Items         []PaperItem
	TaskDirectory string
	Status        Status
	CSVArtifact   string
	CreatedAt     time.Time
	CompletedAt   time.Time
}

// Snapshot copies b's fields under its lock, including a shallow copy of
// every PaperItem, so the result can be read or serialized without holding
// b.mu.
func (b *Batch) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := make([]PaperItem, len(b.Items))
	for i, item := range b.Items {
		items[i] = *item
	}
	return Snapshot{
		ID:            b.ID,
		Options:       b.Options,
		Items:         items,
		TaskDirectory: b.TaskDirectory,
		Status:        b.Status,
		CSVArtifact:   b.CSVArtifact,
		CreatedAt:     b.CreatedAt,
		CompletedAt:   b.CompletedAt,
	}
}

// Submitter is the subset of Dispatcher the organizer depends on.
type Submitter interface {
	Submit(t *task.Task) executor.SubmitResult
}

type indexEntry struct {
	batchID string
	paperID string
}

// Organizer is the BatchOrganizer: it owns every live Batch, the task
// index used to route completion callbacks, and the collaborators needed
// to drive a batch to completion.
type Organizer struct {
	mu        sync.RWMutex
	batches   map[string]*Batch
	taskIndex map[string]indexEntry

	metadataCoord   *metadata.Coordinator
	dispatcher      Submitter
	storage         *storagefs.FS
	bus             *notify.Bus
	metadataTimeout time.Duration
}

// Config tunes one Organizer instance.
type Config struct {
	MetadataTimeout time.Duration
}

// New builds an Organizer. storage may be nil when no batch configures a
// taskDirectory.
func New(cfg Config, metadataCoord *metadata.Coordinator, dispatcher Submitter, storage *storagefs.FS, bus *notify.Bus) *Organizer {
	if cfg.MetadataTimeout <= 0 {
		cfg.MetadataTimeout = 5 * time.Minute
	}
	o := &Organizer{
		batches:         make(map[string]*Batch),
		taskIndex:       make(map[string]indexEntry),
		metadataCoord:   metadataCoord,
		dispatcher:      dispatcher,
		storage:         storage,
		bus:             bus,
		metadataTimeout: cfg.MetadataTimeout,
	}
	bus.Subscribe(o.onOrganizeTaskCompletedEvent, organize.Completed)
	return o
}

func (o *Organizer) onOrganizeTaskCompletedEvent(e notify.Event) {
	payload, ok := e.Payload.(organize.CompletionEvent)
	if !ok {
		return
	}
	o.OnOrganizeTaskCompleted(payload.TaskKey, payload.Success, payload.Error, payload.Result)
}

// OrganizePapers validates the request, creates a Batch, spawns its
// coordinator goroutine, and returns the batch id immediately.
func (o *Organizer) OrganizePapers(papers []task.Paper, options task.Options) (string, error) {
	if len(papers) == 0 {
		return "", apperrors.New(apperrors.KindInvalidInput, "papers must be non-empty")
	}
	for _, p := range papers {
		if p.ID == "" || p.Title == "" {
			return "", apperrors.New(apperrors.KindInvalidInput, "every paper requires id and title")
		}
	}

	batchID := uuid.NewString()
	items := make([]*PaperItem, 0, len(papers))
	for _, p := range papers {
		items = append(items, &PaperItem{Paper: p, Status: PaperWaitingMetadata})
	}

	b := &Batch{
		ID:            batchID,
		Options:       options,
		Items:         items,
		TaskDirectory: options.Storage.TaskDirectory,
		Status:        StatusPending,
		CreatedAt:     time.Now(),
	}

	o.mu.Lock()
	o.batches[batchID] = b
	o.mu.Unlock()

	go o.runCoordinator(b)

	return batchID, nil
}

// Get returns the batch with the given id.
func (o *Organizer) Get(batchID string) (*Batch, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	b, ok := o.batches[batchID]
	return b, ok
}

func (o *Organizer) runCoordinator(b *Batch) {
	b.mu.Lock()
	b.Status = StatusRunning
	paperIDs := make([]string, len(b.Items))
	for i, item := range b.Items {
		paperIDs[i] = item.Paper.ID
	}
	b.mu.Unlock()

	o.bus.Publish(context.Background(), "BatchProcessingStarted", map[string]interface{}{
		"batchId":       b.ID,
		"paperCount":    len(paperIDs),
		"taskDirectory": b.TaskDirectory,
	})

	ready, err := o.metadataCoord.WaitAllReady(context.Background(), paperIDs, o.metadataTimeout)

	b.mu.Lock()
	if err != nil {
		for _, item := range b.Items {
			if item.Status == PaperWaitingMetadata {
				item.Status = PaperFailed
				item.Error = &task.ErrorInfo{Kind: apperrors.KindTimeout, Message: err.Error()}
			}
		}
	} else {
		for _, item := range b.Items {
			if rec, ok := ready[item.Paper.ID]; ok {
				mergeFields(&item.Paper, rec.Fields)
				item.Status = PaperMetadataReady
			}
		}
	}
	toSubmit := make([]*PaperItem, 0, len(b.Items))
	for _, item := range b.Items {
		if item.Status == PaperMetadataReady {
			toSubmit = append(toSubmit, item)
		}
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, item := range toSubmit {
		wg.Add(1)
		go func(item *PaperItem) {
			defer wg.Done()
			o.submitOrganizeTask(b, item)
		}(item)
	}
	wg.Wait()

	o.recomputeAndFinalize(b)
}

func mergeFields(p *task.Paper, fields map[string]interface{}) {
	if v, ok := fields["abstract"].(string); ok && v != "" {
		p.Abstract = v
	}
	if v, ok := fields["authors"].(string); ok && v != "" {
		p.Authors = v
	}
	if v, ok := fields["allVersionsUrl"].(string); ok && v != "" {
		p.AllVersionsURL = v
	}
	if v, ok := fields["pdfUrl"].(string); ok && v != "" {
		p.PDFURL = v
	}
}

func (o *Organizer) submitOrganizeTask(b *Batch, item *PaperItem) {
	key := fmt.Sprintf("organize_paper_%s_%d", item.Paper.ID, time.Now().UnixNano()/int64(time.Millisecond))

	b.mu.Lock()
	options := b.Options
	b.mu.Unlock()

	t := task.New(key, task.KindOrganizePaper, map[string]interface{}{
		"paper":   item.Paper,
		"options": options,
	})

	result := o.dispatcher.Submit(t)

	b.mu.Lock()
	defer b.mu.Unlock()
	if result != executor.SubmitOK {
		kind := apperrors.KindQueueFull
		if result == executor.SubmitUnsupportedKind {
			kind = apperrors.KindUnsupportedKind
		}
		item.Status = PaperFailed
		item.Error = &task.ErrorInfo{Kind: kind, Message: string(result)}
		return
	}
	item.Status = PaperOrganizing
	item.OrganizeTaskKey = key

	o.mu.Lock()
	o.taskIndex[key] = indexEntry{batchID: b.ID, paperID: item.Paper.ID}
	o.mu.Unlock()
}

// OnOrganizeTaskCompleted consults the task index and updates the matching
// PaperItem. A repeated call for a taskKey whose PaperItem has already
// reached a terminal status is a documented no-op.
func (o *Organizer) OnOrganizeTaskCompleted(taskKey string, success bool, errInfo *task.ErrorInfo, organizeResult *organize.Result) {
	o.mu.RLock()
	entry, ok := o.taskIndex[taskKey]
	o.mu.RUnlock()
	if !ok {
		return
	}

	o.mu.RLock()
	b, ok := o.batches[entry.batchID]
	o.mu.RUnlock()
	if !ok {
		return
	}

	b.mu.Lock()
	var item *PaperItem
	for _, candidate := range b.Items {
		if candidate.Paper.ID == entry.paperID {
			item = candidate
			break
		}
	}
	if item == nil || item.Status.terminal() {
		b.mu.Unlock()
		return
	}
	if success {
		item.Status = PaperCompleted
		if organizeResult != nil {
			item.ProcessedData = organizeResult.ProcessedData
			item.Actions = organizeResult.Actions
			item.StoragePath = organizeResult.StoragePath
		}
	} else {
		item.Status = PaperFailed
		item.Error = errInfo
	}
	b.mu.Unlock()

	o.recomputeAndFinalize(b)
}

func (o *Organizer) recomputeAndFinalize(b *Batch) {
	b.mu.Lock()
	progress := Progress{Total: len(b.Items)}
	anyNonTerminal := false
	for _, item := range b.Items {
		switch item.Status {
		case PaperCompleted:
			progress.Completed++
		case PaperFailed:
			progress.Failed++
		default:
			anyNonTerminal = true
		}
	}

	alreadyTerminal := b.Status == StatusCompleted || b.Status == StatusFailed
	if !alreadyTerminal {
		switch {
		case progress.Completed == progress.Total:
			b.Status = StatusCompleted
		case progress.Failed > 0 && !anyNonTerminal:
			if progress.Completed+progress.Failed == progress.Total {
				b.Status = StatusFailed
			}
		}
	}
	status := b.Status
	becameTerminal := !alreadyTerminal && (status == StatusCompleted || status == StatusFailed)
	b.mu.Unlock()

	if !becameTerminal {
		return
	}

	if status == StatusCompleted && b.TaskDirectory != "" && o.storage != nil {
		if path, err := o.exportCSV(b); err == nil {
			b.mu.Lock()
			b.CSVArtifact = path
			b.mu.Unlock()
		}
	}

	b.mu.Lock()
	b.CompletedAt = time.Now()
	b.mu.Unlock()

	o.bus.Publish(context.Background(), "BatchProcessingCompleted", map[string]interface{}{
		"batchId":       b.ID,
		"taskDirectory": b.TaskDirectory,
		"totalPapers":   progress.Total,
		"successCount":  progress.Completed,
		"failedCount":   progress.Failed,
		"csvArtifact":   b.CSVArtifact,
		"completedAt":   b.CompletedAt,
	})
}
