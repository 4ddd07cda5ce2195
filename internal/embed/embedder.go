// internal/embed/embedder.go

package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tablegraph/internal/model"
)

// Config holds the embedding endpoint settings, fixed for the process
// lifetime.
type Config struct {
	BaseURL   string
	Model     string
	Dimension int
	Timeout   time.Duration
}

// OllamaEmbedder turns text into fixed-length vectors via the Ollama
// embeddings API. Stateless beyond the outbound call.
type OllamaEmbedder struct {
	endpoint   string
	model      string
	dimension  int
	httpClient *http.Client
}

// NewOllamaEmbedder builds an embedder for cfg. Dimension is the expected
// vector length; responses of a different length are rejected.
func NewOllamaEmbedder(cfg Config) *OllamaEmbedder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaEmbedder{
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/api/embeddings",
		model:      cfg.Model,
		dimension:  cfg.Dimension,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Dimension returns the configured embedding dimension.
func (e *OllamaEmbedder) Dimension() int {
	return e.dimension
}

// Embed requests an embedding for text. A transient transport failure is
// retried exactly once; the caller decides whether to abort or degrade.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(map[string]string{
		"model":  e.model,
		"prompt": text,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	resp, err := e.post(ctx, payload)
	if err != nil {
		// One bounded retry for transient network failure.
		resp, err = e.post(ctx, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrProviderUnavailable, err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", model.ErrProviderError, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", model.ErrProviderError, err)
	}
	if len(result.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", model.ErrProviderError)
	}
	if e.dimension > 0 && len(result.Embedding) != e.dimension {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", model.ErrProviderError, len(result.Embedding), e.dimension)
	}

	return result.Embedding, nil
}

func (e *OllamaEmbedder) post(ctx context.Context, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return e.httpClient.Do(req)
}
