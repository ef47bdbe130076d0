// Package gemini is a small client for the Gemini generateContent REST API,
// limited to a single-turn request carrying one instruction and one inline image.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultBaseURL is the public Generative Language API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// ErrEmptyResponse is returned when the API answers without any text.
var ErrEmptyResponse = errors.New("no text in response")

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini API error (status %d %s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini API error (status %d): %s", e.StatusCode, e.Message)
}

// Client calls one model. It holds no per-request state and is safe for
// concurrent use.
type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root (used by tests).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithHTTPClient replaces the traced default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// NewClient builds a client. No timeout is set on the default HTTP client.
func NewClient(apiKey, model string, opts ...Option) *Client {
	c := &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SourceName returns a short provider label for logs and metrics.
func (c *Client) SourceName() string {
	return "Gemini"
}

// GenerateFromImage sends the instruction and the base64-encoded image in one
// request and returns the text of the first candidate.
func (c *Client) GenerateFromImage(ctx context.Context, prompt string, image []byte, mimeType string) (string, error) {
	parts := []part{{Text: prompt}}
	if len(image) > 0 {
		parts = append(parts, part{
			InlineData: &inlineData{
				MimeType: mimeType,
				Data:     base64.StdEncoding.EncodeToString(image),
			},
		})
	}

	return c.generateContent(ctx, generateRequest{
		Contents: []content{{Role: "user", Parts: parts}},
	})
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
}

func (c *Client) generateContent(ctx context.Context, body generateRequest) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", parseAPIError(resp.StatusCode, respBody)
	}

	var gr generateResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if len(gr.Candidates) == 0 {
		if gr.PromptFeedback != nil && gr.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("prompt blocked: %s", gr.PromptFeedback.BlockReason)
		}
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, p := range gr.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	if sb.Len() == 0 {
		if reason := gr.Candidates[0].FinishReason; reason != "" && reason != "STOP" {
			return "", fmt.Errorf("%w (finish reason %s)", ErrEmptyResponse, reason)
		}
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

func parseAPIError(status int, body []byte) error {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		return &APIError{StatusCode: status, Status: er.Error.Status, Message: er.Error.Message}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}
