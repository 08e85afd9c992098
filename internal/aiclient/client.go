// Package aiclient defines the AI collaborator contract used by the
// organize pipeline's translation and classification stages, plus a
// concrete HTTP-backed adapter and a deterministic no-op implementation.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/paperpilot/orchestrator/internal/task"
)

// Client is the AI collaborator contract: translate an abstract, or
// classify a paper under a named standard.
type Client interface {
	TranslateAbstract(ctx context.Context, text, targetLanguage string) (string, error)
	Classify(ctx context.Context, paper task.Paper, standard string) (string, error)
}

// HTTPClient calls an out-of-process AI service over HTTP. It is the
// concrete, network-bound implementation of Client.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	tracer     trace.Tracer
}

// NewHTTPClient builds an HTTPClient against baseURL. A nil httpClient gets
// the teacher's pooled-transport defaults.
func NewHTTPClient(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPClient{
		httpClient: httpClient,
		baseURL:    baseURL,
		tracer:     otel.Tracer("paperpilot-aiclient"),
	}
}

type translateRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"targetLanguage"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

// TranslateAbstract posts to {baseURL}/v1/translate.
func (c *HTTPClient) TranslateAbstract(ctx context.Context, text, targetLanguage string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "aiclient.translate",
		trace.WithAttributes(attribute.String("target_language", targetLanguage)))
	defer span.End()

	var resp translateResponse
	if err := c.postJSON(ctx, "/v1/translate", translateRequest{Text: text, TargetLanguage: targetLanguage}, &resp); err != nil {
		return "", err
	}
	return resp.TranslatedText, nil
}

type classifyRequest struct {
	Title    string `json:"title"`
	Abstract string `json:"abstract"`
	Standard string `json:"standard"`
}

type classifyResponse struct {
	Category string `json:"category"`
}

// Classify posts to {baseURL}/v1/classify.
func (c *HTTPClient) Classify(ctx context.Context, paper task.Paper, standard string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "aiclient.classify",
		trace.WithAttributes(attribute.String("standard", standard)))
	defer span.End()

	var resp classifyResponse
	req := classifyRequest{Title: paper.Title, Abstract: paper.Abstract, Standard: standard}
	if err := c.postJSON(ctx, "/v1/classify", req, &resp); err != nil {
		return "", err
	}
	return resp.Category, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	otel.GetTextMapPropagator().Inject(ctx, propagationHeaderCarrier{httpReq.Header})

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("ai service error %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type propagationHeaderCarrier struct{ header http.Header }

func (p propagationHeaderCarrier) Get(key string) string { return p.header.Get(key) }
func (p propagationHeaderCarrier) Set(key, value string) { p.header.Set(key, value) }
func (p propagationHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(p.header))
	for k := range p.header {
		keys = append(keys, k)
	}
	return keys
}

// NoOp is a deterministic Client used in tests and when no AI credentials
// are configured: translation is the identity function, classification
// always returns "uncategorized".
type NoOp struct{}

func (NoOp) TranslateAbstract(ctx context.Context, text, targetLanguage string) (string, error) {
	return text, nil
}

func (NoOp) Classify(ctx context.Context, paper task.Paper, standard string) (string, error) {
	return "uncategorized", nil
}
