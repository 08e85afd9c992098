// Package organize implements the OrganizeHandler logic: the per-paper
// pipeline executed inside an executor.Handler for KindOrganizePaper tasks.
package organize

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paperpilot/orchestrator/internal/aiclient"
	"github.com/paperpilot/orchestrator/internal/apperrors"
	"github.com/paperpilot/orchestrator/internal/notify"
	"github.com/paperpilot/orchestrator/internal/storagefs"
	"github.com/paperpilot/orchestrator/internal/task"
)

// Completed is the event name published on the notify.Bus after every
// organize_paper task reaches a terminal state, whether or not it succeeded.
const Completed = "OrganizeTaskCompleted"

// CompletionEvent is the payload of a Completed event.
type CompletionEvent struct {
	TaskKey string
	Success bool
	Error   *task.ErrorInfo
	Result  *Result
}

// ActionStatus records the outcome of one pipeline stage.
type ActionStatus struct {
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ProcessedData is the per-paper result the CSV exporter later reads.
type ProcessedData struct {
	OriginalAbstract       string `json:"originalAbstract"`
	TranslatedAbstract     string `json:"translatedAbstract"`
	TargetLanguage         string `json:"targetLanguage,omitempty"`
	Classification         string `json:"classification,omitempty"`
	ClassificationStandard string `json:"classificationStandard,omitempty"`
}

// Result is the shape stored in Task.Result for a completed organize_paper task.
type Result struct {
	Paper         task.Paper     `json:"paper"`
	ProcessedData ProcessedData  `json:"processedData"`
	Actions       []ActionStatus `json:"actions"`
	StoragePath   string         `json:"storagePath,omitempty"`
}

// Handler runs the storage/translate/classify pipeline for organize_paper
// tasks. It implements executor.Handler.
type Handler struct {
	ai      aiclient.Client
	storage *storagefs.FS
	bus     *notify.Bus
}

// New builds a Handler. storage may be nil when no batch in this process
// configures a taskDirectory. bus may be nil, in which case no completion
// events are published (useful for unit tests that only check Execute's
// return value directly).
func New(ai aiclient.Client, storage *storagefs.FS, bus *notify.Bus) *Handler {
	return &Handler{ai: ai, storage: storage, bus: bus}
}

func (h *Handler) SupportedKinds() []task.Kind {
	return []task.Kind{task.KindOrganizePaper}
}

// Params is the decoded shape of an organize_paper task's Params.
type Params struct {
	Paper   task.Paper   `json:"paper"`
	Options task.Options `json:"options"`
}

func (h *Handler) ValidateParams(t *task.Task) error {
	if _, err := decodeParams(t); err != nil {
		return err
	}
	return nil
}

// decodeParams recovers Params from a Task's untyped Params map. It round
// trips through JSON so this works whether the map holds native Go values
// (submitted in-process) or the generic map[string]interface{} shape a
// persisted-and-reloaded task comes back as.
func decodeParams(t *task.Task) (Params, error) {
	raw, ok := t.Params["paper"]
	if !ok {
		return Params{}, apperrors.New(apperrors.KindInvalidInput, "organize_paper task missing paper param")
	}
	var paper task.Paper
	if err := reencode(raw, &paper); err != nil {
		return Params{}, apperrors.Wrap(apperrors.KindInvalidInput, "organize_paper task paper param malformed", err)
	}

	var opts task.Options
	if rawOpts, ok := t.Params["options"]; ok {
		if err := reencode(rawOpts, &opts); err != nil {
			return Params{}, apperrors.Wrap(apperrors.KindInvalidInput, "organize_paper task options param malformed", err)
		}
	}
	return Params{Paper: paper, Options: opts}, nil
}

func reencode(in interface{}, out interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (h *Handler) BeforeExecute(ctx context.Context, t *task.Task) error { return nil }

// Execute runs storage, translation, and classification in order. Each
// stage's failure is recorded as a failed action and does not abort later
// stages; the task itself always completes successfully unless decoding
// its params fails (handled earlier, in ValidateParams).
func (h *Handler) Execute(ctx context.Context, t *task.Task) (map[string]interface{}, error) {
	params, err := decodeParams(t)
	if err != nil {
		return nil, err
	}

	result := Result{
		Paper: params.Paper,
		ProcessedData: ProcessedData{
			OriginalAbstract:   params.Paper.Abstract,
			TranslatedAbstract: params.Paper.Abstract,
		},
	}

	if dir := params.Options.Storage.TaskDirectory; dir != "" && h.storage != nil {
		path, err := h.storage.CreateSubDirectory(dir)
		if err != nil {
			result.Actions = append(result.Actions, ActionStatus{Name: "storage", Success: false, Error: err.Error()})
		} else {
			result.StoragePath = path
			result.Actions = append(result.Actions, ActionStatus{Name: "storage", Success: true})
		}
	}

	if params.Options.Translation.Enabled {
		target := params.Options.Translation.TargetLanguage
		translated, err := h.ai.TranslateAbstract(ctx, params.Paper.Abstract, target)
		if err != nil || translated == "" {
			errMsg := "empty translation result"
			if err != nil {
				errMsg = err.Error()
			}
			result.Actions = append(result.Actions, ActionStatus{Name: "translation", Success: false, Error: errMsg})
		} else {
			result.ProcessedData.TranslatedAbstract = translated
			result.ProcessedData.TargetLanguage = target
			result.Actions = append(result.Actions, ActionStatus{Name: "translation", Success: true})
		}
	}

	if params.Options.Classification.Enabled {
		standard := params.Options.Classification.SelectedStandard
		category, err := h.ai.Classify(ctx, params.Paper, standard)
		if err != nil {
			result.Actions = append(result.Actions, ActionStatus{Name: "classification", Success: false, Error: err.Error()})
		} else {
			result.ProcessedData.Classification = category
			result.ProcessedData.ClassificationStandard = standard
			result.Actions = append(result.Actions, ActionStatus{Name: "classification", Success: true})
		}
	}

	return map[string]interface{}{"organizeResult": result}, nil
}

// AfterExecute publishes the task's outcome so a batch.Organizer (or any
// other subscriber) can route it back to the paper that requested it.
func (h *Handler) AfterExecute(ctx context.Context, t *task.Task, result map[string]interface{}) {
	if h.bus == nil {
		return
	}
	event := CompletionEvent{TaskKey: t.Key, Success: t.Status == task.StatusCompleted, Error: t.Err}
	if event.Success {
		organizeResult, err := ExtractResult(result)
		if err != nil {
			h.bus.Publish(ctx, Completed, CompletionEvent{TaskKey: t.Key, Success: false, Error: &task.ErrorInfo{Kind: apperrors.KindInternal, Message: err.Error()}})
			return
		}
		event.Result = &organizeResult
	}
	h.bus.Publish(ctx, Completed, event)
}

// ExtractResult type-asserts a completed organize_paper task's stored
// Result back out of its map[string]interface{} result shape.
func ExtractResult(raw map[string]interface{}) (Result, error) {
	v, ok := raw["organizeResult"]
	if !ok {
		return Result{}, fmt.Errorf("organize result missing from task result")
	}
	if result, ok := v.(Result); ok {
		return result, nil
	}
	var result Result
	if err := reencode(v, &result); err != nil {
		return Result{}, fmt.Errorf("organize result has unexpected shape: %w", err)
	}
	return result, nil
}
