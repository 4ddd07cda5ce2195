// internal/embed/embedder_test.go

package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablegraph/internal/model"
)

func embeddingServer(t *testing.T, vec []float32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Model)
		assert.NotEmpty(t, req.Prompt)

		json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}))
}

func TestEmbedReturnsVector(t *testing.T) {
	srv := embeddingServer(t, []float32{0.1, 0.2, 0.3})
	defer srv.Close()

	e := NewOllamaEmbedder(Config{BaseURL: srv.URL, Model: "nomic-embed-text", Dimension: 3})
	vec, err := e.Embed(context.Background(), "customer identifier")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedRejectsWrongDimension(t *testing.T) {
	srv := embeddingServer(t, []float32{0.1, 0.2})
	defer srv.Close()

	e := NewOllamaEmbedder(Config{BaseURL: srv.URL, Model: "nomic-embed-text", Dimension: 3})
	_, err := e.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, model.ErrProviderError)
}

func TestEmbedRejectsEmptyEmbedding(t *testing.T) {
	srv := embeddingServer(t, []float32{})
	defer srv.Close()

	e := NewOllamaEmbedder(Config{BaseURL: srv.URL, Model: "nomic-embed-text", Dimension: 3})
	_, err := e.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, model.ErrProviderError)
}

func TestEmbedServerErrorIsProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(Config{BaseURL: srv.URL, Model: "missing", Dimension: 3})
	_, err := e.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, model.ErrProviderError)
	assert.NotErrorIs(t, err, model.ErrProviderUnavailable)
}

func TestEmbedUnreachableIsProviderUnavailable(t *testing.T) {
	e := NewOllamaEmbedder(Config{BaseURL: "http://127.0.0.1:1", Model: "nomic-embed-text", Dimension: 3})
	_, err := e.Embed(context.Background(), "text")
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
}

func TestEmbedRetriesOnceOnTransportFailure(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Kill the first connection mid-flight.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			conn.Close()
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{1, 0, 0}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(Config{BaseURL: srv.URL, Model: "nomic-embed-text", Dimension: 3})
	vec, err := e.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0, 0}, vec)
	assert.Equal(t, int64(2), calls.Load())
}

func TestEmbedHonorsContextCancellation(t *testing.T) {
	srv := embeddingServer(t, []float32{1, 0, 0})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := NewOllamaEmbedder(Config{BaseURL: srv.URL, Model: "nomic-embed-text", Dimension: 3})
	_, err := e.Embed(ctx, "text")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrProviderUnavailable) || errors.Is(err, context.Canceled))
}
