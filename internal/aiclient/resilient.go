package aiclient

import (
	"context"
	"time"

	"github.com/paperpilot/orchestrator/internal/apperrors"
	"github.com/paperpilot/orchestrator/internal/resilience"
	"github.com/paperpilot/orchestrator/internal/task"
)

// Resilient wraps a Client with retry-with-backoff and an adaptive circuit
// breaker, since the AI collaborator is the pipeline's one genuinely flaky
// external dependency.
type Resilient struct {
	inner     Client
	breaker   *resilience.CircuitBreaker
	attempts  int
	baseDelay time.Duration
}

// NewResilient wraps inner with the teacher's default retry/breaker tuning:
// 3 attempts, 200ms base backoff, breaker trips at a 50% failure rate over
// a 30s/6-bucket window once at least 5 samples have been seen.
func NewResilient(inner Client) *Resilient {
	return &Resilient{
		inner:     inner,
		breaker:   resilience.NewCircuitBreakerAdaptive(30*time.Second, 6, 5, 0.5, 10*time.Second, 2),
		attempts:  3,
		baseDelay: 200 * time.Millisecond,
	}
}

func (r *Resilient) TranslateAbstract(ctx context.Context, text, targetLanguage string) (string, error) {
	if !r.breaker.Allow() {
		return "", apperrors.New(apperrors.KindExternalFailure, "ai client circuit open")
	}
	result, err := resilience.Retry(ctx, r.attempts, r.baseDelay, func() (string, error) {
		return r.inner.TranslateAbstract(ctx, text, targetLanguage)
	})
	r.breaker.RecordResult(err == nil)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindExternalFailure, "translate abstract failed", err)
	}
	return result, nil
}

func (r *Resilient) Classify(ctx context.Context, paper task.Paper, standard string) (string, error) {
	if !r.breaker.Allow() {
		return "", apperrors.New(apperrors.KindExternalFailure, "ai client circuit open")
	}
	result, err := resilience.Retry(ctx, r.attempts, r.baseDelay, func() (string, error) {
		return r.inner.Classify(ctx, paper, standard)
	})
	r.breaker.RecordResult(err == nil)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindExternalFailure, "classify failed", err)
	}
	return result, nil
}
