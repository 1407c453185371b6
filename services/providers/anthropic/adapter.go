// Package anthropic adapts the Anthropic messages API to the unified
// provider interface.
package anthropic

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

const (
	providerID = "anthropic"

	// apiVersion is the required anthropic-version header value
	apiVersion = "2023-06-01"
)

// Adapter implements providers.Adapter for Anthropic
type Adapter struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewAdapter creates a new Anthropic adapter from its provider configuration.
// The HTTP client carries no timeout of its own; each call is bounded by the
// caller's context.
func NewAdapter(cfg config.ProviderConfig) *Adapter {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}

	return &Adapter{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{},
	}
}

// ID returns the provider id
func (a *Adapter) ID() string {
	return providerID
}

// Generate performs a messages request
func (a *Adapter) Generate(ctx context.Context, input *providers.GenerateInput) (*providers.GenerateOutput, error) {
	// max_tokens is mandatory in the messages API
	maxTokens := input.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.maxTokens
	}

	apiReq := &messagesRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		Messages: []message{
			{Role: "user", Content: input.Prompt},
		},
	}
	if input.Temperature > 0 {
		apiReq.Temperature = &input.Temperature
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, providers.NewProviderError(providerID, providers.CodeUnknown, "failed to marshal request", 0, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", strings.NewReader(string(reqBody)))
	if err != nil {
		return nil, providers.NewProviderError(providerID, providers.CodeUnknown, "failed to create request", 0, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

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

	var apiResp messagesResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, providers.NewProviderError(providerID, providers.CodeInvalidResponse, "failed to unmarshal response", httpResp.StatusCode, err)
	}

	text := apiResp.text()
	if text == "" {
		return nil, providers.NewProviderError(providerID, providers.CodeInvalidResponse, "response contained no text content", httpResp.StatusCode, nil)
	}

	return &providers.GenerateOutput{
		Text:         text,
		Model:        apiResp.Model,
		InputTokens:  apiResp.Usage.InputTokens,
		OutputTokens: apiResp.Usage.OutputTokens,
	}, nil
}

// handleErrorResponse classifies Anthropic error responses
func (a *Adapter) handleErrorResponse(statusCode int, body []byte) error {
	code := providers.ClassifyStatus(statusCode)

	var errResp errorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error.Message == "" {
		return providers.NewProviderError(providerID, code,
			fmt.Sprintf("request failed with status %d", statusCode), statusCode, nil)
	}

	return providers.NewProviderError(providerID, code, errResp.Error.Message, statusCode, errors.New(errResp.Error.Type))
}

// Anthropic-specific request/response types

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Content []contentBlock `json:"content"`
	Usage   usage          `json:"usage"`
}

// text concatenates the text content blocks of a response.
func (r *messagesResponse) text() string {
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

var _ providers.Adapter = (*Adapter)(nil)
