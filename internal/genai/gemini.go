// Package genai provides the Gemini REST API client used for text
// generation and query embedding.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/models"

var (
	// ErrEmptyPrompt is returned when Complete is called without a prompt.
	ErrEmptyPrompt = errors.New("genai: empty prompt")
	// ErrProviderFailed wraps any non-OK response from the API.
	ErrProviderFailed = errors.New("genai: provider request failed")
)

// Client calls the Gemini generateContent and embedContent endpoints.
type Client struct {
	apiKey         string
	modelID        string
	embeddingModel string
	baseURL        string
	temperature    float64
	maxTokens      int
	systemPrompt   string
	httpClient     *http.Client
}

// Config holds Gemini client settings.
type Config struct {
	APIKey         string
	ModelID        string
	EmbeddingModel string
	BaseURL        string // empty means the public endpoint
	Temperature    float64
	MaxTokens      int
	SystemPrompt   string
}

// New creates a Gemini client. Timeouts are carried by the request context,
// not by the HTTP client, so each collaborator call can set its own.
func New(cfg Config) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		apiKey:         cfg.APIKey,
		modelID:        cfg.ModelID,
		embeddingModel: cfg.EmbeddingModel,
		baseURL:        base,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		systemPrompt:   cfg.SystemPrompt,
		httpClient:     &http.Client{},
	}
}

// Complete sends the assembled prompt and returns the generated text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", ErrEmptyPrompt
	}

	reqBody := map[string]any{
		"contents": []map[string]any{
			{
				"role":  "user",
				"parts": []map[string]any{{"text": prompt}},
			},
		},
		"generationConfig": map[string]any{
			"temperature":     c.temperature,
			"maxOutputTokens": c.maxTokens,
		},
	}
	if c.systemPrompt != "" {
		reqBody["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": c.systemPrompt}},
		}
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, c.modelID, c.apiKey)
	body, err := c.post(ctx, url, reqBody)
	if err != nil {
		return "", err
	}

	var resp generateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("genai: parse response: %w", err)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrProviderFailed)
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

// Embed returns the embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	reqBody := map[string]any{
		"content": map[string]any{
			"parts": []map[string]any{{"text": text}},
		},
	}

	url := fmt.Sprintf("%s/%s:embedContent?key=%s", c.baseURL, c.embeddingModel, c.apiKey)
	body, err := c.post(ctx, url, reqBody)
	if err != nil {
		return nil, err
	}

	var resp embedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("genai: parse embedding response: %w", err)
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrProviderFailed)
	}
	return resp.Embedding.Values, nil
}

func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("genai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("genai: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("genai: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("genai: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderFailed, resp.StatusCode, string(body))
	}
	return body, nil
}

// IsTimeout reports whether err was caused by a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// Gemini API response types.
type generateResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content content `json:"content"`
}

type content struct {
	Parts []part `json:"parts"`
	Role  string `json:"role"`
}

type part struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}
