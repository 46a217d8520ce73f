package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultAPIVersion = "2024-02-15-preview"

// AzureClient talks to an Azure OpenAI chat deployment.
type AzureClient struct {
	endpoint   string
	apiKey     string
	deployment string
	apiVersion string
	client     *http.Client
}

// AzureOption configures the client.
type AzureOption func(*AzureClient)

// WithHTTPClient overrides the transport; tests point it at httptest.
func WithHTTPClient(c *http.Client) AzureOption {
	return func(a *AzureClient) { a.client = c }
}

// WithAPIVersion overrides the API version query parameter.
func WithAPIVersion(v string) AzureOption {
	return func(a *AzureClient) { a.apiVersion = v }
}

// NewAzureClient builds a client for the given endpoint and deployment.
func NewAzureClient(endpoint, apiKey, deployment string, opts ...AzureOption) *AzureClient {
	a := &AzureClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		deployment: deployment,
		apiVersion: defaultAPIVersion,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type chatRequest struct {
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Chat sends the conversation and returns the first choice's content.
func (a *AzureClient) Chat(ctx context.Context, messages []Message, options *Options) (string, error) {
	body := chatRequest{Messages: messages}
	if options != nil {
		body.MaxTokens = options.MaxTokens
		body.Temperature = options.Temperature
		if options.ForceJSON {
			body.ResponseFormat = &responseFormat{Type: "json_object"}
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("azure: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		a.endpoint, a.deployment, a.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("azure: create request: %w", err)
	}
	req.Header.Set("api-key", a.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("azure: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("azure: status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("azure: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("azure: empty choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}
