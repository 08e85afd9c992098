package aiclient

import (
	"context"
	"errors"
	"testing"

	"github.com/paperpilot/orchestrator/internal/apperrors"
	"github.com/paperpilot/orchestrator/internal/task"
)

func TestNoOpTranslateIsIdentity(t *testing.T) {
	c := NoOp{}
	out, err := c.TranslateAbstract(context.Background(), "hello", "fr")
	if err != nil || out != "hello" {
		t.Fatalf("expected identity passthrough, got %q err=%v", out, err)
	}
}

func TestNoOpClassifyIsDeterministic(t *testing.T) {
	c := NoOp{}
	out, err := c.Classify(context.Background(), task.Paper{Title: "t"}, "acm")
	if err != nil || out != "uncategorized" {
		t.Fatalf("expected uncategorized, got %q err=%v", out, err)
	}
}

type flakyClient struct {
	failures int
	calls    int
}

func (f *flakyClient) TranslateAbstract(ctx context.Context, text, targetLanguage string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("upstream unavailable")
	}
	return "translated:" + text, nil
}

func (f *flakyClient) Classify(ctx context.Context, paper task.Paper, standard string) (string, error) {
	return "cat", nil
}

func TestResilientRetriesThroughTransientFailures(t *testing.T) {
	inner := &flakyClient{failures: 1}
	r := NewResilient(inner)
	out, err := r.TranslateAbstract(context.Background(), "abs", "fr")
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if out != "translated:abs" {
		t.Fatalf("unexpected result %q", out)
	}
}

func TestResilientWrapsPersistentFailure(t *testing.T) {
	inner := &flakyClient{failures: 100}
	r := NewResilient(inner)
	_, err := r.TranslateAbstract(context.Background(), "abs", "fr")
	if !apperrors.Is(err, apperrors.KindExternalFailure) {
		t.Fatalf("expected external_failure kind, got %v", err)
	}
}
