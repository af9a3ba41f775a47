// Package lifecycle supervises per-user agent sandboxes: idempotent
// ensure-running, provisioning with bounded health polling, and pause/resume
// of conversational routing through the shared binding registry.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jkaninda/sauti/internal/domain"
	"github.com/jkaninda/sauti/internal/registry"
	"github.com/jkaninda/sauti/internal/sandbox"
	"github.com/jkaninda/sauti/internal/storage"
	"github.com/jkaninda/sauti/internal/workspace"
)

const (
	defaultHealthInterval = 2 * time.Second
	defaultHealthAttempts = 30
)

// ErrProvisioningTimeout is returned when a freshly created sandbox does not
// answer its health endpoint within the polling budget. Fatal to the request;
// the sandbox itself is left running and may still finish warming up.
var ErrProvisioningTimeout = errors.New("provisioning timed out waiting for sandbox health")

// ErrWorkspaceMissing is returned by Resume when the agent's workspace
// directory no longer exists on disk.
var ErrWorkspaceMissing = errors.New("agent workspace missing")

// Manager owns sandbox lifecycle decisions for all users.
//
// Concurrent EnsureRunning calls for the same user are serialized only by the
// engine's name-based lookup-before-create; there is no lock at this layer.
// The remaining race window is narrow and accepted: the worst case is one
// redundant inspect, never a duplicate sandbox.
type Manager struct {
	engine     sandbox.Engine
	records    storage.AgentRecordStore
	registry   *registry.Registry
	workspace  *workspace.Workspace
	httpClient *http.Client
	logger     *slog.Logger

	model   string // Model recorded in registry bindings.
	binding string // Channel binding recorded in registry bindings.

	healthInterval time.Duration
	healthAttempts int
}

// Option configures the Manager.
type Option func(*Manager)

// WithHealthBudget overrides the health polling interval and attempt budget.
func WithHealthBudget(interval time.Duration, attempts int) Option {
	return func(m *Manager) {
		m.healthInterval = interval
		m.healthAttempts = attempts
	}
}

// WithHTTPClient sets the client used for sandbox health probes.
func WithHTTPClient(hc *http.Client) Option {
	return func(m *Manager) { m.httpClient = hc }
}

// WithBindingDefaults sets the model and channel binding written to new
// registry entries.
func WithBindingDefaults(model, binding string) Option {
	return func(m *Manager) {
		m.model = model
		m.binding = binding
	}
}

// NewManager creates a lifecycle manager.
func NewManager(engine sandbox.Engine, records storage.AgentRecordStore, reg *registry.Registry, ws *workspace.Workspace, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		engine:         engine,
		records:        records,
		registry:       reg,
		workspace:      ws,
		httpClient:     http.DefaultClient,
		logger:         logger,
		model:          "default",
		binding:        "api",
		healthInterval: defaultHealthInterval,
		healthAttempts: defaultHealthAttempts,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureRunning guarantees the user has a running sandbox and returns its
// gateway token. An existing running sandbox returns immediately; a stopped
// one is started; a missing or unstartable one is re-provisioned with health
// polling and its registry binding restored, so a first-ever chat reaches
// the gateway without a prior explicit provision.
func (m *Manager) EnsureRunning(ctx context.Context, userID string) (string, error) {
	rec, err := m.records.GetAgentRecord(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("loading agent record: %w", err)
	}

	if rec != nil && rec.SandboxID != "" && rec.GatewayToken != "" {
		status, err := m.engine.Status(ctx, rec.SandboxID)
		if err != nil {
			return "", fmt.Errorf("inspecting sandbox: %w", err)
		}
		switch status {
		case sandbox.StatusRunning:
			return rec.GatewayToken, nil
		case sandbox.StatusStopped:
			if err := m.engine.Start(ctx, rec.SandboxID); err == nil {
				if err := m.records.SetAgentStatus(ctx, userID, domain.StatusRunning); err != nil {
					m.logger.Warn("failed to update agent status",
						slog.String("user_id", userID),
						slog.String("error", err.Error()),
					)
				}
				return rec.GatewayToken, nil
			}
			m.logger.Warn("sandbox start failed, re-provisioning",
				slog.String("user_id", userID),
				slog.String("sandbox_id", rec.SandboxID),
			)
		case sandbox.StatusNotFound:
			m.logger.Info("sandbox gone, re-provisioning",
				slog.String("user_id", userID),
				slog.String("sandbox_id", rec.SandboxID),
			)
		}
	}

	return m.Provision(ctx, userID)
}

// Provision creates (or recovers) the user's sandbox, waits for it to become
// healthy, and binds the agent in the shared registry. Returns the gateway
// token.
func (m *Manager) Provision(ctx context.Context, userID string) (string, error) {
	token, err := m.provision(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := m.bind(userID); err != nil {
		return "", err
	}
	return token, nil
}

// Pause removes the agent's registry binding, making its conversational
// routing disappear. The sandbox and its workspace are left intact; a
// debounced gateway reload is scheduled by the registry.
func (m *Manager) Pause(ctx context.Context, agentID string) error {
	if err := m.registry.RemoveAgent(agentID); err != nil {
		return fmt.Errorf("removing registry binding: %w", err)
	}
	if err := m.records.SetAgentStatus(ctx, agentID, domain.StatusSleeping); err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn("failed to mark agent sleeping",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()),
		)
	}
	m.logger.Info("agent paused", slog.String("agent_id", agentID))
	return nil
}

// Resume re-adds the agent's registry binding. Refused with
// ErrWorkspaceMissing if the agent workspace directory no longer exists.
func (m *Manager) Resume(ctx context.Context, agentID string) error {
	if !m.workspace.AgentDirExists(agentID) {
		return fmt.Errorf("%w: %s", ErrWorkspaceMissing, agentID)
	}
	if err := m.bind(agentID); err != nil {
		return err
	}
	if err := m.records.SetAgentStatus(ctx, agentID, domain.StatusRunning); err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn("failed to mark agent running",
			slog.String("agent_id", agentID),
			slog.String("error", err.Error()),
		)
	}
	m.logger.Info("agent resumed", slog.String("agent_id", agentID))
	return nil
}

// Wake brings a paused or reaped agent fully back: sandbox running, registry
// binding restored, activity clock reset. Returns the gateway token.
func (m *Manager) Wake(ctx context.Context, userID string) (string, error) {
	token, err := m.EnsureRunning(ctx, userID)
	if err != nil {
		return "", err
	}
	if err := m.bind(userID); err != nil {
		return "", err
	}
	if err := m.records.TouchAgent(ctx, userID, time.Now()); err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn("failed to touch agent",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	return token, nil
}

// Touch records user activity, advancing the inactivity clock the reaper
// policy reads. Best-effort: a missing record is not an error.
func (m *Manager) Touch(ctx context.Context, userID string) {
	if err := m.records.TouchAgent(ctx, userID, time.Now()); err != nil && !errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn("failed to touch agent",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

// provision creates or recovers the sandbox, persists the record, and polls
// the health endpoint until it answers or the budget runs out.
func (m *Manager) provision(ctx context.Context, userID string) (string, error) {
	now := time.Now()
	if err := m.records.SaveAgentRecord(ctx, &domain.AgentInstance{
		UserID:       userID,
		Status:       domain.StatusProvisioning,
		LastActiveAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return "", fmt.Errorf("persisting agent record: %w", err)
	}

	sb, err := m.engine.Create(ctx, userID)
	if err != nil {
		if serr := m.records.SetAgentStatus(ctx, userID, domain.StatusError); serr != nil {
			m.logger.Warn("failed to mark agent errored", slog.String("user_id", userID))
		}
		return "", fmt.Errorf("creating sandbox: %w", err)
	}

	now = time.Now()
	if err := m.records.SaveAgentRecord(ctx, &domain.AgentInstance{
		UserID:       userID,
		SandboxID:    sb.ID,
		GatewayToken: sb.Token,
		Status:       domain.StatusProvisioning,
		LastActiveAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}); err != nil {
		return "", fmt.Errorf("persisting agent record: %w", err)
	}

	if err := m.awaitHealthy(ctx, userID); err != nil {
		return "", err
	}

	if err := m.records.SetAgentStatus(ctx, userID, domain.StatusRunning); err != nil {
		m.logger.Warn("failed to mark agent running",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	m.logger.Info("sandbox provisioned",
		slog.String("user_id", userID),
		slog.String("sandbox_id", sb.ID),
	)
	return sb.Token, nil
}

// awaitHealthy polls the sandbox health endpoint at a fixed interval until
// any 2xx response arrives or the attempt budget is exhausted.
func (m *Manager) awaitHealthy(ctx context.Context, userID string) error {
	url := m.engine.URLFor(userID)

	for attempt := 1; attempt <= m.healthAttempts; attempt++ {
		if m.probe(ctx, url) {
			return nil
		}
		select {
		case <-time.After(m.healthInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%w: %s after %d attempts", ErrProvisioningTimeout, userID, m.healthAttempts)
}

func (m *Manager) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (m *Manager) bind(agentID string) error {
	err := m.registry.AddAgent(registry.Entry{
		AgentID:   agentID,
		Workspace: m.workspace.AgentDir(agentID),
		Model:     m.model,
		Binding:   m.binding,
	})
	if err != nil {
		return fmt.Errorf("adding registry binding: %w", err)
	}
	return nil
}
