// Package gateway implements the HTTP client for the shared multi-tenant
// routing gateway. The gateway multiplexes requests to many agents; the
// identity header tells it which agent context to use. The wire protocol is
// OpenAI chat-completions compatible.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	completionsPath = "/v1/chat/completions"

	// identityHeader carries the agent ID the gateway routes by.
	identityHeader = "X-Sauti-Agent"

	maxAttempts    = 3
	attemptTimeout = 2 * time.Minute
	retryStep      = 1 * time.Second
)

// ErrUnavailable is returned by Send after all retry attempts fail.
// It wraps the last attempt's error.
var ErrUnavailable = errors.New("gateway unavailable")

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client talks to the shared routing gateway.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithModel overrides the model requested from the gateway.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// NewClient creates a gateway client.
func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		model:      "default",
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts the conversation and returns the full response text.
// Up to 3 attempts, each with its own 2-minute timeout; the delay before
// the next attempt grows linearly with the attempt number. Exhausting the
// attempts returns ErrUnavailable wrapping the last error.
func (c *Client) Send(ctx context.Context, agentID string, messages []Message) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		text, err := c.sendOnce(ctx, agentID, messages)
		if err == nil {
			return text, nil
		}
		lastErr = err

		c.logger.Warn("gateway request failed",
			slog.String("agent_id", agentID),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		if attempt < maxAttempts {
			select {
			case <-time.After(time.Duration(attempt) * retryStep):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}

	return "", fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, maxAttempts, lastErr)
}

func (c *Client) sendOnce(ctx context.Context, agentID string, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()

	body, err := json.Marshal(apiRequest{
		Messages: messages,
		Model:    c.model,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(identityHeader, agentID)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response body: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gateway error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("gateway returned no choices")
	}
	return apiResp.Choices[0].Message.Content, nil
}

// Stream posts the conversation with streaming enabled and returns a Stream
// of text deltas. The sequence is finite, forward-only, and not restartable;
// the caller must drain it or call Close.
func (c *Client) Stream(ctx context.Context, agentID string, messages []Message) (*Stream, error) {
	body, err := json.Marshal(apiRequest{
		Messages: messages,
		Model:    c.model,
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set(identityHeader, agentID)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("gateway error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	return newStream(httpResp.Body), nil
}

// --- Gateway wire types (unexported) ---

type apiRequest struct {
	Messages []Message `json:"messages"`
	Model    string    `json:"model"`
	Stream   bool      `json:"stream,omitempty"`
}

type apiResponse struct {
	Choices []apiChoice `json:"choices"`
}

type apiChoice struct {
	Message apiChoiceMessage `json:"message"`
}

type apiChoiceMessage struct {
	Content string `json:"content"`
}
