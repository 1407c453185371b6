// Package openai adapts the OpenAI chat completions API to the unified
// provider interface.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wanderplan/orchestrator/config"
	"github.com/wanderplan/orchestrator/services/providers"
)

const providerID = "openai"

// Adapter implements providers.Adapter for OpenAI
type Adapter struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewAdapter creates a new OpenAI adapter from its provider configuration.
// The HTTP client carries no timeout of its own; each call is bounded by the
// caller's context.
func NewAdapter(cfg config.ProviderConfig) *Adapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &Adapter{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      cfg.Model,
		httpClient: &http.Client{},
	}
}

// ID returns the provider id
func (a *Adapter) ID() string {
	return providerID
}

// Generate performs a chat completion request
func (a *Adapter) Generate(ctx context.Context, input *providers.GenerateInput) (*providers.GenerateOutput, error) {
	apiReq := &chatRequest{
		Model: a.model,
		Messages: []chatMessage{
			{Role: "user", Content: input.Prompt},
		},
	}
	if input.MaxTokens > 0 {
		apiReq.MaxTokens = &input.MaxTokens
	}
	if input.Temperature > 0 {
		apiReq.Temperature = &input.Temperature
	}
	if input.User != "" {
		apiReq.User = &input.User
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, providers.NewProviderError(providerID, providers.CodeUnknown, "failed to marshal request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", strings.NewReader(string(reqBody)))
	if err != nil {
		return nil, providers.NewProviderError(providerID, providers.CodeUnknown, "failed to create request", 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	httpResp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, providers.ClassifyTransportError(providerID, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, providers.NewProviderError(providerID, providers.CodeUnknown, "failed to read response", httpResp.StatusCode, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, a.handleErrorResponse(httpResp.StatusCode, respBody)
	}

	var apiResp chatResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, providers.NewProviderError(providerID, providers.CodeInvalidResponse, "failed to unmarshal response", httpResp.StatusCode, err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, providers.NewProviderError(providerID, providers.CodeInvalidResponse, "response contained no choices", httpResp.StatusCode, nil)
	}

	return &providers.GenerateOutput{
		Text:         apiResp.Choices[0].Message.Content,
		Model:        apiResp.Model,
		InputTokens:  apiResp.Usage.PromptTokens,
		OutputTokens: apiResp.Usage.CompletionTokens,
	}, nil
}

// handleErrorResponse classifies OpenAI error responses
func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	code := providers.ClassifyStatus(statusCode)

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return providers.NewProviderError(providerID, code,
			fmt.Sprintf("request failed with status %d", statusCode), statusCode, nil)
	}

	return providers.NewProviderError(providerID, code, errResp.Error.Message, statusCode, errors.New(errResp.Error.Type))
}

// OpenAI-specific request/response types

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	User        *string       `json:"user,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   usage        `json:"usage"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

var _ providers.Adapter = (*Adapter)(nil)
