// Package httpapi implements the HTTP API server for Sauti.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Request body size limits (default 1 MB)
//   - Per-user rate limiting via token bucket
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/sauti/internal/gateway"
	"github.com/jkaninda/sauti/internal/lifecycle"
	"github.com/jkaninda/sauti/internal/observability"
	"github.com/jkaninda/sauti/internal/ratelimit"
	"github.com/jkaninda/sauti/internal/reaper"
	"github.com/jkaninda/sauti/internal/storage"
	"github.com/jkaninda/sauti/internal/voice"
)

const (
	defaultMaxRequestSize = 1 << 20 // 1 MB
	defaultChatCreditCost = 1.0
)

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// Config configures the HTTP API server.
type Config struct {
	ListenAddr     string   // e.g., ":8080"
	EnableDocs     bool
	APIKeys        []string // Bearer keys accepted on /v1. Keys from config/env.
	MaxRequestSize int64    // Maximum request body in bytes. 0 = 1 MB default.
	ChatCreditCost float64  // Credits debited per non-streaming message. 0 = 1.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for /metrics.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz endpoint.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	lifecycle *lifecycle.Manager
	gateway   *gateway.Client
	credits   storage.CreditStore
	records   storage.AgentRecordStore
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	server    *http.Server

	voice  *voice.Pipeline // nil = voice endpoints disabled.
	reaper *reaper.Reaper  // nil = sweep endpoint disabled.

	okapi *okapi.Okapi
	group *okapi.Group
}

// NewServer creates the HTTP API server.
func NewServer(cfg Config, lm *lifecycle.Manager, gw *gateway.Client, credits storage.CreditStore, records storage.AgentRecordStore, rl *ratelimit.Limiter, logger *slog.Logger) *Server {
	return &Server{
		config:    cfg,
		lifecycle: lm,
		gateway:   gw,
		credits:   credits,
		records:   records,
		limiter:   rl,
		logger:    logger,
		okapi:     okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithVoice attaches the voice pipeline, enabling the voice endpoints.
func (s *Server) WithVoice(p *voice.Pipeline) *Server {
	s.voice = p
	return s
}

// WithReaper attaches the reaper, enabling the manual sweep endpoint.
func (s *Server) WithReaper(r *reaper.Reaper) *Server {
	s.reaper = r
	return s
}

func (s *Server) WithOpenAPIDocs() *Server {
	s.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Sauti",
			Version: "v0.0.1",
		},
	)
	return s
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	// Metrics/tracing middleware (applied globally).
	if s.config.Metrics != nil || s.config.Tracer != nil {
		s.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(s.config.Metrics, s.config.Tracer, next)
		})
	}

	// Authenticated /v1 group.
	s.group = s.okapi.Group("/v1", s.authenticate)

	// Chat endpoints.
	s.group.Post("/chat", s.handleChat,
		okapi.DocSummary("Send a message to the user's agent"),
		okapi.DocTags("Chat"),
		okapi.DocRequestBody(ChatRequest{}),
		okapi.DocResponse(ChatResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusPaymentRequired, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	s.group.Post("/chat/stream", s.handleChatStream,
		okapi.DocSummary("Stream a chat response via SSE"),
		okapi.DocTags("Chat"),
		okapi.DocRequestBody(ChatRequest{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
	)

	// Voice endpoints (only if the pipeline is configured).
	if s.voice != nil {
		s.group.Post("/voice/stream", s.handleVoiceStream,
			okapi.DocSummary("Stream voice pipeline events via SSE"),
			okapi.DocTags("Voice"),
			okapi.DocRequestBody(VoiceRequest{}),
			okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
			okapi.DocResponse(http.StatusPaymentRequired, ErrorBody{}),
		)
		s.okapi.HandleStd("GET", "/v1/voice/ws", s.handleVoiceWS)
	}

	// Agent lifecycle admin endpoints.
	s.group.Get("/agents/{user}", s.handleAgentGet,
		okapi.DocSummary("Get an agent's lifecycle state"),
		okapi.DocTags("Agents"),
		okapi.DocPathParam("user", "string", "User ID"),
		okapi.DocResponse(AgentResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	s.group.Post("/agents/{user}/provision", s.handleAgentProvision,
		okapi.DocSummary("Provision the user's sandbox and bind routing"),
		okapi.DocTags("Agents"),
		okapi.DocPathParam("user", "string", "User ID"),
		okapi.DocResponse(AgentResponse{}),
		okapi.DocResponse(http.StatusServiceUnavailable, ErrorBody{}),
	)
	s.group.Post("/agents/{user}/pause", s.handleAgentPause,
		okapi.DocSummary("Unbind the agent's routing, leaving sandbox and workspace intact"),
		okapi.DocTags("Agents"),
		okapi.DocPathParam("user", "string", "User ID"),
		okapi.DocResponse(map[string]string{}),
	)
	s.group.Post("/agents/{user}/resume", s.handleAgentResume,
		okapi.DocSummary("Re-bind a paused agent's routing"),
		okapi.DocTags("Agents"),
		okapi.DocPathParam("user", "string", "User ID"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)
	s.group.Post("/agents/{user}/wake", s.handleAgentWake,
		okapi.DocSummary("Bring a paused or reaped agent fully back"),
		okapi.DocTags("Agents"),
		okapi.DocPathParam("user", "string", "User ID"),
		okapi.DocResponse(AgentResponse{}),
		okapi.DocResponse(http.StatusServiceUnavailable, ErrorBody{}),
	)

	// Reaper endpoint (only if the reaper is configured).
	if s.reaper != nil {
		s.group.Post("/reaper/sweep", s.handleReaperSweep,
			okapi.DocSummary("Run one inactivity sweep now"),
			okapi.DocTags("Reaper"),
			okapi.DocResponse(reaper.Report{}),
		)
	}

	// Observability endpoints (unauthenticated).
	s.okapi.Get("/healthz", s.handleLiveness)
	s.okapi.Get("/readyz", s.handleReadiness)

	if s.config.MetricsRegistry != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.okapi.HandleStd("GET", path, promhttp.HandlerFor(s.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if s.config.EnableDocs {
		s.WithOpenAPIDocs()
	}

	s.server = &http.Server{
		Addr:              s.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute, // Streaming endpoints hold the response open.
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("http api server starting", slog.String("addr", s.config.ListenAddr))

	return s.okapi.StartServer(s.server)
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("http api server stopping")
	return s.okapi.Shutdown(s.server)
}

// --- Chat handlers ---

// ChatRequest is the JSON body for POST /v1/chat and /v1/chat/stream.
type ChatRequest struct {
	UserID  string            `json:"user_id"`
	Message string            `json:"message"`
	History []gateway.Message `json:"history,omitempty"` // Prior turns, oldest first.
}

// ChatResponse is the JSON response for POST /v1/chat.
type ChatResponse struct {
	Response         string  `json:"response"`
	CorrelationID    string  `json:"correlation_id"`
	CreditsUsed      float64 `json:"credits_used"`
	CreditsRemaining float64 `json:"credits_remaining,omitempty"`
}

func (s *Server) handleChat(c *okapi.Context) error {
	req, err := s.bindChatRequest(c)
	if err != nil {
		return err
	}

	cost := s.chatCreditCost()
	if err := s.ensureCredits(c.Context(), req.UserID, cost); err != nil {
		if errors.Is(err, storage.ErrInsufficientCredits) {
			return c.JSON(http.StatusPaymentRequired, ErrorBody{Error: "insufficient credits"})
		}
		return c.AbortInternalServerError("credit check failed")
	}

	correlationID := newCorrelationID()
	s.logger.Info("http chat",
		slog.String("user_id", req.UserID),
		slog.String("correlation_id", correlationID),
	)

	if _, err := s.lifecycle.EnsureRunning(c.Context(), req.UserID); err != nil {
		return s.lifecycleError(c, correlationID, err)
	}

	text, err := s.gateway.Send(c.Context(), req.UserID, append(req.History, gateway.Message{Role: "user", Content: req.Message}))
	if err != nil {
		s.logger.Error("gateway send failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, gateway.ErrUnavailable) {
			return c.JSON(http.StatusBadGateway, ErrorBody{Error: "gateway unavailable"})
		}
		return c.AbortInternalServerError("chat failed")
	}

	if err := s.credits.DebitCredits(c.Context(), req.UserID, cost); err != nil {
		if errors.Is(err, storage.ErrInsufficientCredits) {
			return c.JSON(http.StatusPaymentRequired, ErrorBody{Error: "insufficient credits"})
		}
		s.logger.Error("debit failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("chat failed")
	}
	if err := s.credits.RecordUsage(c.Context(), req.UserID, "chat", cost); err != nil {
		s.logger.Warn("usage record failed",
			slog.String("user_id", req.UserID),
			slog.String("error", err.Error()),
		)
	}
	s.lifecycle.Touch(c.Context(), req.UserID)

	resp := ChatResponse{
		Response:      text,
		CorrelationID: correlationID,
		CreditsUsed:   cost,
	}
	if remaining, err := s.credits.GetCredits(c.Context(), req.UserID); err == nil {
		resp.CreditsRemaining = remaining
	}
	return c.OK(resp)
}

// bindChatRequest parses and validates the shared chat request body,
// applying the per-user rate limit.
func (s *Server) bindChatRequest(c *okapi.Context) (*ChatRequest, error) {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		return nil, c.AbortBadRequest("invalid request body")
	}
	if req.UserID == "" {
		return nil, c.AbortBadRequest("user_id is required")
	}
	if req.Message == "" {
		return nil, c.AbortBadRequest("message is required")
	}
	if s.limiter != nil {
		if err := s.limiter.Allow(req.UserID); err != nil {
			return nil, c.AbortTooManyRequests("rate limit exceeded")
		}
	}
	return &req, nil
}

func (s *Server) chatCreditCost() float64 {
	if s.config.ChatCreditCost > 0 {
		return s.config.ChatCreditCost
	}
	return defaultChatCreditCost
}

// ensureCredits verifies the user can afford cost before any sandbox or
// gateway work starts: a broke user must not trigger provisioning or an
// agent round-trip only to be refused afterwards. A missing credit account
// reads as a zero balance. Returns storage.ErrInsufficientCredits when the
// balance does not cover the cost.
func (s *Server) ensureCredits(ctx context.Context, userID string, cost float64) error {
	balance, err := s.credits.GetCredits(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("checking credits: %w", err)
	}
	if balance < cost {
		return storage.ErrInsufficientCredits
	}
	return nil
}

// lifecycleError maps lifecycle errors to appropriate HTTP responses.
func (s *Server) lifecycleError(c *okapi.Context, correlationID string, err error) error {
	s.logger.Error("lifecycle operation failed",
		slog.String("correlation_id", correlationID),
		slog.String("error", err.Error()),
	)
	if errors.Is(err, lifecycle.ErrProvisioningTimeout) {
		return c.JSON(http.StatusServiceUnavailable, ErrorBody{Error: "sandbox did not become healthy in time"})
	}
	return c.AbortInternalServerError("agent unavailable")
}

// --- Agent admin handlers ---

// AgentResponse is the JSON response for agent lifecycle endpoints.
type AgentResponse struct {
	UserID           string    `json:"user_id"`
	Status           string    `json:"status"`
	SandboxID        string    `json:"sandbox_id,omitempty"`
	LastActiveAt     time.Time `json:"last_active_at,omitempty"`
	CreditsRemaining float64   `json:"credits_remaining,omitempty"`
}

func (s *Server) handleAgentGet(c *okapi.Context) error {
	userID := c.Param("user")

	rec, err := s.records.GetAgentRecord(c.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return c.JSON(http.StatusNotFound, ErrorBody{Error: "agent not found"})
		}
		return c.AbortInternalServerError("lookup failed")
	}

	resp := AgentResponse{
		UserID:       rec.UserID,
		Status:       string(rec.Status),
		SandboxID:    rec.SandboxID,
		LastActiveAt: rec.LastActiveAt,
	}
	if balance, err := s.credits.GetCredits(c.Context(), userID); err == nil {
		resp.CreditsRemaining = balance
	}
	return c.OK(resp)
}

func (s *Server) handleAgentProvision(c *okapi.Context) error {
	userID := c.Param("user")
	correlationID := newCorrelationID()

	if _, err := s.lifecycle.Provision(c.Context(), userID); err != nil {
		return s.lifecycleError(c, correlationID, err)
	}
	return s.agentState(c, userID)
}

func (s *Server) handleAgentPause(c *okapi.Context) error {
	userID := c.Param("user")

	if err := s.lifecycle.Pause(c.Context(), userID); err != nil {
		s.logger.Error("pause failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("pause failed")
	}
	return c.OK(map[string]string{"status": "paused"})
}

func (s *Server) handleAgentResume(c *okapi.Context) error {
	userID := c.Param("user")

	if err := s.lifecycle.Resume(c.Context(), userID); err != nil {
		if errors.Is(err, lifecycle.ErrWorkspaceMissing) {
			return c.JSON(http.StatusConflict, ErrorBody{Error: "agent workspace missing; re-provision instead"})
		}
		s.logger.Error("resume failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return c.AbortInternalServerError("resume failed")
	}
	return c.OK(map[string]string{"status": "resumed"})
}

func (s *Server) handleAgentWake(c *okapi.Context) error {
	userID := c.Param("user")
	correlationID := newCorrelationID()

	if _, err := s.lifecycle.Wake(c.Context(), userID); err != nil {
		return s.lifecycleError(c, correlationID, err)
	}
	return s.agentState(c, userID)
}

// agentState responds with the agent's current persisted state.
func (s *Server) agentState(c *okapi.Context, userID string) error {
	rec, err := s.records.GetAgentRecord(c.Context(), userID)
	if err != nil {
		return c.OK(AgentResponse{UserID: userID})
	}
	return c.OK(AgentResponse{
		UserID:       rec.UserID,
		Status:       string(rec.Status),
		SandboxID:    rec.SandboxID,
		LastActiveAt: rec.LastActiveAt,
	})
}

// --- Reaper handler ---

func (s *Server) handleReaperSweep(c *okapi.Context) error {
	report, err := s.reaper.Sweep(c.Context())
	if err != nil {
		s.logger.Error("manual sweep failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("sweep failed")
	}
	return c.OK(report)
}

// --- Health handlers ---

// HealthResponse is the JSON response for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleLiveness is the Kubernetes liveness probe
func (s *Server) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (s *Server) handleReadiness(c *okapi.Context) error {
	if s.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := s.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Authentication ---

// authenticate validates the bearer API key with a constant-time comparison.
func (s *Server) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		valid := false
		for _, key := range s.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				valid = true
			}
		}
		if !valid {
			return c.AbortUnauthorized("invalid API key")
		}
		return next(c)
	}
}

// --- Helpers ---

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
