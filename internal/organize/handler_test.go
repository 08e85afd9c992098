package organize

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/paperpilot/orchestrator/internal/aiclient"
	"github.com/paperpilot/orchestrator/internal/storagefs"
	"github.com/paperpilot/orchestrator/internal/task"
)

func newParamsTask(paper task.Paper, opts task.Options) *task.Task {
	t := task.New("k1", task.KindOrganizePaper, map[string]interface{}{
		"paper":   paper,
		"options": opts,
	})
	return t
}

func TestExecuteHappyPathWithTranslation(t *testing.T) {
	fs, err := storagefs.New(filepath.Join(t.TempDir(), "root"))
	if err != nil {
		t.Fatalf("storagefs.New: %v", err)
	}
	h := New(aiclient.NoOp{}, fs, nil)

	paper := task.Paper{ID: "p1", Title: "A Paper", Abstract: "original abstract"}
	opts := task.Options{
		Translation: task.TranslationOptions{Enabled: true, TargetLanguage: "fr"},
		Storage:     task.StorageOptions{TaskDirectory: "batch-1"},
	}
	tk := newParamsTask(paper, opts)

	raw, err := h.Execute(context.Background(), tk)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	result, err := ExtractResult(raw)
	if err != nil {
		t.Fatalf("extract result: %v", err)
	}
	if result.ProcessedData.TranslatedAbstract != "original abstract" {
		t.Fatalf("expected NoOp passthrough translation, got %q", result.ProcessedData.TranslatedAbstract)
	}
	if result.StoragePath == "" {
		t.Fatalf("expected storage path to be set")
	}
	for _, a := range result.Actions {
		if !a.Success {
			t.Fatalf("expected every action to succeed, got %+v", a)
		}
	}
}

func TestExecuteClassificationOnly(t *testing.T) {
	h := New(aiclient.NoOp{}, nil, nil)
	paper := task.Paper{ID: "p1", Title: "A Paper", Abstract: "abs"}
	opts := task.Options{Classification: task.ClassificationOptions{Enabled: true, SelectedStandard: "acm"}}
	tk := newParamsTask(paper, opts)

	raw, err := h.Execute(context.Background(), tk)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	result, err := ExtractResult(raw)
	if err != nil {
		t.Fatalf("extract result: %v", err)
	}
	if result.ProcessedData.Classification != "uncategorized" {
		t.Fatalf("expected deterministic classification, got %q", result.ProcessedData.Classification)
	}
	if result.ProcessedData.TranslatedAbstract != "abs" {
		t.Fatalf("expected original abstract preserved when translation disabled, got %q", result.ProcessedData.TranslatedAbstract)
	}
}

type failingAI struct{ aiclient.NoOp }

func (failingAI) TranslateAbstract(ctx context.Context, text, targetLanguage string) (string, error) {
	return "", context.DeadlineExceeded
}

func TestExecuteTranslationFailureDoesNotAbortTask(t *testing.T) {
	h := New(failingAI{}, nil, nil)
	paper := task.Paper{ID: "p1", Abstract: "abs"}
	opts := task.Options{Translation: task.TranslationOptions{Enabled: true, TargetLanguage: "fr"}}
	tk := newParamsTask(paper, opts)

	raw, err := h.Execute(context.Background(), tk)
	if err != nil {
		t.Fatalf("expected task-level success despite translation failure, got %v", err)
	}
	result, err := ExtractResult(raw)
	if err != nil {
		t.Fatalf("extract result: %v", err)
	}
	if result.ProcessedData.TranslatedAbstract != "abs" {
		t.Fatalf("expected original abstract preserved on translation failure, got %q", result.ProcessedData.TranslatedAbstract)
	}
	found := false
	for _, a := range result.Actions {
		if a.Name == "translation" {
			found = true
			if a.Success {
				t.Fatalf("expected translation action to be recorded as failed")
			}
		}
	}
	if !found {
		t.Fatalf("expected a translation action record")
	}
}

func TestDecodeParamsToleratesReloadedMapShape(t *testing.T) {
	// Simulate a task reloaded from persistence: Params values arrive as
	// map[string]interface{} rather than native task.Paper/task.Options.
	tk := task.New("k1", task.KindOrganizePaper, map[string]interface{}{
		"paper":   map[string]interface{}{"id": "p1", "title": "T", "abstract": "A"},
		"options": map[string]interface{}{"downloadPdf": false},
	})
	params, err := decodeParams(tk)
	if err != nil {
		t.Fatalf("decodeParams: %v", err)
	}
	if params.Paper.ID != "p1" || params.Paper.Title != "T" {
		t.Fatalf("unexpected decoded paper: %+v", params.Paper)
	}
}
