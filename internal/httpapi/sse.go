package httpapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/sauti/internal/gateway"
	"github.com/jkaninda/sauti/internal/storage"
	"github.com/jkaninda/sauti/internal/voice"
)

// SSEEvent is a server-sent event on the chat streaming endpoint.
type SSEEvent struct {
	Type    string `json:"type"`              // "delta", "done", "error"
	Content string `json:"content,omitempty"` // Text content.
}

// handleChatStream handles POST /v1/chat/stream, relaying gateway text
// deltas as server-sent events.
func (s *Server) handleChatStream(c *okapi.Context) error {
	req, err := s.bindChatRequest(c)
	if err != nil {
		return err
	}

	correlationID := newCorrelationID()
	s.logger.Info("http chat stream",
		slog.String("user_id", req.UserID),
		slog.String("correlation_id", correlationID),
	)

	if _, err := s.lifecycle.EnsureRunning(c.Context(), req.UserID); err != nil {
		return s.lifecycleError(c, correlationID, err)
	}

	stream, err := s.gateway.Stream(c.Context(), req.UserID, append(req.History, gateway.Message{Role: "user", Content: req.Message}))
	if err != nil {
		s.logger.Error("opening gateway stream failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.JSON(http.StatusBadGateway, ErrorBody{Error: "gateway unavailable"})
	}
	defer stream.Close()

	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.logger.Error("gateway stream failed",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
			c.SSEvent("error", SSEEvent{Type: "error", Content: "stream interrupted"})
			return nil
		}
		c.SSEvent("delta", SSEEvent{Type: "delta", Content: delta})
	}

	s.lifecycle.Touch(c.Context(), req.UserID)
	c.SSEvent("done", SSEEvent{Type: "done"})
	return nil
}

// VoiceRequest is the JSON body for POST /v1/voice/stream.
type VoiceRequest struct {
	UserID    string            `json:"user_id"`
	Message   string            `json:"message"`
	History   []gateway.Message `json:"history,omitempty"`
	NativeTTS bool              `json:"native_tts,omitempty"` // Agent emits its own audio; skip synthesis.
}

// handleVoiceStream handles POST /v1/voice/stream. The voice pipeline's
// token, text, audio, and done events are relayed as server-sent events.
func (s *Server) handleVoiceStream(c *okapi.Context) error {
	var req VoiceRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.UserID == "" {
		return c.AbortBadRequest("user_id is required")
	}
	if req.Message == "" {
		return c.AbortBadRequest("message is required")
	}
	if s.limiter != nil {
		if err := s.limiter.Allow(req.UserID); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	if err := s.ensureCredits(c.Context(), req.UserID, s.voice.CreditCost()); err != nil {
		if errors.Is(err, storage.ErrInsufficientCredits) {
			return c.JSON(http.StatusPaymentRequired, ErrorBody{Error: "insufficient credits"})
		}
		return c.AbortInternalServerError("credit check failed")
	}

	correlationID := newCorrelationID()
	s.logger.Info("http voice stream",
		slog.String("user_id", req.UserID),
		slog.String("correlation_id", correlationID),
		slog.Bool("native_tts", req.NativeTTS),
	)

	if _, err := s.lifecycle.EnsureRunning(c.Context(), req.UserID); err != nil {
		return s.lifecycleError(c, correlationID, err)
	}

	stream, err := s.gateway.Stream(c.Context(), req.UserID, append(req.History, gateway.Message{Role: "user", Content: req.Message}))
	if err != nil {
		s.logger.Error("opening gateway stream failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.JSON(http.StatusBadGateway, ErrorBody{Error: "gateway unavailable"})
	}

	session := s.voice.NewSession(req.UserID, stream, req.NativeTTS, func(e voice.Event) {
		c.SSEvent(string(e.Type), e)
	})

	if err := session.Run(c.Context()); err != nil {
		// The failure event has already been emitted on the stream.
		s.logger.Error("voice session failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	s.lifecycle.Touch(c.Context(), req.UserID)
	return nil
}
