package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wanderplan/orchestrator/config"
	"github.com/wanderplan/orchestrator/services/providers"
)

func newTestAdapter(serverURL string) *Adapter {
	return NewAdapter(config.ProviderConfig{
		ID:      "openai",
		APIKey:  "test-key",
		BaseURL: serverURL,
		Model:   "gpt-4o-mini",
	})
}

func completionResponse(text string, promptTokens, completionTokens int) map[string]interface{} {
	return map[string]interface{}{
		"id":    "chatcmpl-123",
		"model": "gpt-4o-mini",
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": text},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	}
}

func TestGenerateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "plan a weekend in Lisbon", req.Messages[0].Content)
		require.NotNil(t, req.MaxTokens)
		assert.Equal(t, 500, *req.MaxTokens)

		json.NewEncoder(w).Encode(completionResponse("Day 1: Alfama...", 12, 340))
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	out, err := adapter.Generate(context.Background(), &providers.GenerateInput{
		Prompt:      "plan a weekend in Lisbon",
		MaxTokens:   500,
		Temperature: 0.7,
	})

	require.NoError(t, err)
	assert.Equal(t, "Day 1: Alfama...", out.Text)
	assert.Equal(t, "gpt-4o-mini", out.Model)
	assert.Equal(t, 12, out.InputTokens)
	assert.Equal(t, 340, out.OutputTokens)
}

func TestGenerateRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "rate limit exceeded", "type": "rate_limit_error"},
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	_, err := adapter.Generate(context.Background(), &providers.GenerateInput{Prompt: "hi"})

	pe, ok := providers.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, providers.CodeRateLimited, pe.Code)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, "rate limit exceeded", pe.Message)
}

func TestGenerateAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "invalid api key", "type": "invalid_request_error"},
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	_, err := adapter.Generate(context.Background(), &providers.GenerateInput{Prompt: "hi"})

	pe, ok := providers.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, providers.CodeAuthFailure, pe.Code)
}

func TestGenerateServerErrorIsUnknown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	_, err := adapter.Generate(context.Background(), &providers.GenerateInput{Prompt: "hi"})

	pe, ok := providers.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, providers.CodeUnknown, pe.Code)
	assert.Equal(t, http.StatusInternalServerError, pe.StatusCode)
}

func TestGenerateMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	_, err := adapter.Generate(context.Background(), &providers.GenerateInput{Prompt: "hi"})

	pe, ok := providers.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, providers.CodeInvalidResponse, pe.Code)
}

func TestGenerateEmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-123",
			"model":   "gpt-4o-mini",
			"choices": []interface{}{},
		})
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	_, err := adapter.Generate(context.Background(), &providers.GenerateInput{Prompt: "hi"})

	pe, ok := providers.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, providers.CodeInvalidResponse, pe.Code)
}

func TestGenerateTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(completionResponse("too late", 1, 1))
	}))
	defer server.Close()

	adapter := newTestAdapter(server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := adapter.Generate(ctx, &providers.GenerateInput{Prompt: "hi"})

	pe, ok := providers.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, providers.CodeTimeout, pe.Code)
}
