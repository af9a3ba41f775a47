// Package tts defines the speech synthesizer interface and its HTTP
// implementation against an OpenAI-compatible audio/speech API.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

const (
	defaultBaseURL = "https://api.openai.com"
	speechPath     = "/v1/audio/speech"
	defaultModel   = "tts-1"
	defaultVoice   = "alloy"
	defaultFormat  = "mp3"

	// Synthesized sentences are short; cap the audio we accept per call.
	maxAudioBytes = 8 << 20
)

// Synthesizer converts one sentence of text into an audio clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Client implements Synthesizer using an OpenAI-compatible speech endpoint.
type Client struct {
	apiKey     string
	model      string
	voice      string
	format     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the TTS client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithVoice selects the synthesis voice.
func WithVoice(voice string) Option {
	return func(c *Client) { c.voice = voice }
}

// WithModel selects the synthesis model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithFormat selects the audio output format (mp3, opus, aac, flac, wav).
func WithFormat(format string) Option {
	return func(c *Client) { c.format = format }
}

// NewClient creates a speech synthesis client.
func NewClient(apiKey string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		apiKey:     apiKey,
		model:      defaultModel,
		voice:      defaultVoice,
		format:     defaultFormat,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Synthesize converts text to audio bytes in the configured format.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(speechRequest{
		Model:          c.model,
		Input:          text,
		Voice:          c.voice,
		ResponseFormat: c.format,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+speechPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return nil, fmt.Errorf("tts error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	audio, err := io.ReadAll(io.LimitReader(httpResp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("tts returned empty audio")
	}
	return audio, nil
}

// --- TTS wire types (unexported) ---

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}
