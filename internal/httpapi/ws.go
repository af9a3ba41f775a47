package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/jkaninda/sauti/internal/gateway"
	"github.com/jkaninda/sauti/internal/storage"
	"github.com/jkaninda/sauti/internal/voice"
)

const wsCloseTimeout = 5 * time.Second

// wsStartFrame is the first message the client sends after connecting.
type wsStartFrame struct {
	UserID    string            `json:"user_id"`
	Message   string            `json:"message"`
	History   []gateway.Message `json:"history,omitempty"`
	NativeTTS bool              `json:"native_tts,omitempty"`
}

// wsClientFrame is any subsequent message from the client.
// Only cancellation is recognized.
type wsClientFrame struct {
	Type string `json:"type"` // "cancel"
}

// handleVoiceWS serves GET /v1/voice/ws: the voice pipeline event stream
// over WebSocket. The client sends one start frame, then receives pipeline
// events as JSON text messages. A {"type":"cancel"} frame stops the session.
func (s *Server) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	if !s.wsAuthenticated(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"sauti-voice-v1"},
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection closed")

	ctx := r.Context()

	var start wsStartFrame
	if err := readJSON(ctx, conn, &start); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "expected start frame")
		return
	}
	if start.UserID == "" || start.Message == "" {
		conn.Close(websocket.StatusPolicyViolation, "user_id and message are required")
		return
	}
	if s.limiter != nil {
		if err := s.limiter.Allow(start.UserID); err != nil {
			writeEvent(ctx, conn, voice.Event{Type: voice.EventError, Error: "rate limit exceeded"})
			conn.Close(websocket.StatusPolicyViolation, "rate limit exceeded")
			return
		}
	}

	if err := s.ensureCredits(ctx, start.UserID, s.voice.CreditCost()); err != nil {
		if errors.Is(err, storage.ErrInsufficientCredits) {
			writeEvent(ctx, conn, voice.Event{Type: voice.EventError, Error: "insufficient credits"})
			conn.Close(websocket.StatusNormalClosure, "insufficient credits")
			return
		}
		writeEvent(ctx, conn, voice.Event{Type: voice.EventError, Error: "credit check failed"})
		conn.Close(websocket.StatusInternalError, "credit check failed")
		return
	}

	correlationID := newCorrelationID()
	s.logger.Info("voice websocket session",
		slog.String("user_id", start.UserID),
		slog.String("correlation_id", correlationID),
		slog.Bool("native_tts", start.NativeTTS),
	)

	if _, err := s.lifecycle.EnsureRunning(ctx, start.UserID); err != nil {
		s.logger.Error("lifecycle operation failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		writeEvent(ctx, conn, voice.Event{Type: voice.EventError, Error: "agent unavailable"})
		conn.Close(websocket.StatusInternalError, "agent unavailable")
		return
	}

	stream, err := s.gateway.Stream(ctx, start.UserID, append(start.History, gateway.Message{Role: "user", Content: start.Message}))
	if err != nil {
		s.logger.Error("opening gateway stream failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		writeEvent(ctx, conn, voice.Event{Type: voice.EventError, Error: "gateway unavailable"})
		conn.Close(websocket.StatusInternalError, "gateway unavailable")
		return
	}

	session := s.voice.NewSession(start.UserID, stream, start.NativeTTS, func(e voice.Event) {
		writeEvent(ctx, conn, e)
	})

	// Watch for a cancel frame or the client going away.
	go func() {
		for {
			var frame wsClientFrame
			if err := readJSON(ctx, conn, &frame); err != nil {
				// Client disconnected: stop the session.
				session.Cancel()
				return
			}
			if frame.Type == "cancel" {
				session.Cancel()
				return
			}
		}
	}()

	if err := session.Run(ctx); err != nil {
		s.logger.Error("voice session failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		conn.Close(websocket.StatusInternalError, "session failed")
		return
	}

	s.lifecycle.Touch(ctx, start.UserID)
	conn.Close(websocket.StatusNormalClosure, "done")
}

// wsAuthenticated validates the API key from the Authorization header or the
// token query parameter (browser WebSocket clients cannot set headers).
func (s *Server) wsAuthenticated(r *http.Request) bool {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	for _, key := range s.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(token), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

func readJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeEvent(ctx context.Context, conn *websocket.Conn, e voice.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsCloseTimeout)
	defer cancel()
	_ = conn.Write(writeCtx, websocket.MessageText, data)
}
