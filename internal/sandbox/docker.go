package sandbox

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const (
	defaultDockerImage    = "sauti-agent:latest"
	defaultDockerMemoryMB = 512
	defaultDockerCPUCores = 1.0
	defaultDockerPIDs     = 128
	defaultAgentPort      = 8700
	defaultNetworkName    = "sauti-net"

	// tokenEnvVar is the environment variable the gateway token is recorded
	// under inside the container. Create reads it back on recovery so the
	// token stays stable across restarts.
	tokenEnvVar = "SAUTI_GATEWAY_TOKEN"

	dockerOpTimeout = 30 * time.Second
)

// DockerConfig configures the Docker-based engine.
type DockerConfig struct {
	Image     string  // Agent container image.
	MemoryMB  int     // --memory hard limit per sandbox.
	CPUCores  float64 // --cpus rate limit.
	PIDsLimit int     // --pids-limit.
	AgentPort int     // Port the agent process listens on inside the container.
	Network   string  // Private bridge network name, lazily created.
}

// DockerEngine implements Engine by shelling out to the docker CLI.
//
// Guarantees:
//   - Container names are deterministic per user, so lookup-before-create
//     makes Create idempotent under concurrent callers (best-effort, not a
//     strict lock — the narrow race is documented on the lifecycle manager).
//   - Containers restart with the daemon (--restart=always) and carry hard
//     memory/CPU/PIDs ceilings.
//   - Sandboxes share a private bridge network; the agent is addressed by
//     container name, never published on the host.
type DockerEngine struct {
	config DockerConfig
	logger *slog.Logger
}

// NewDockerEngine creates a Docker-based sandbox engine.
func NewDockerEngine(cfg DockerConfig, logger *slog.Logger) *DockerEngine {
	if cfg.Image == "" {
		cfg.Image = defaultDockerImage
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = defaultDockerMemoryMB
	}
	if cfg.CPUCores <= 0 {
		cfg.CPUCores = defaultDockerCPUCores
	}
	if cfg.PIDsLimit <= 0 {
		cfg.PIDsLimit = defaultDockerPIDs
	}
	if cfg.AgentPort <= 0 {
		cfg.AgentPort = defaultAgentPort
	}
	if cfg.Network == "" {
		cfg.Network = defaultNetworkName
	}
	return &DockerEngine{config: cfg, logger: logger}
}

// ContainerName returns the deterministic container name for a user:
// sauti-agent-<12 hex chars of sha256(userID)>.
func ContainerName(userID string) string {
	sum := sha256.Sum256([]byte(userID))
	return "sauti-agent-" + hex.EncodeToString(sum[:])[:12]
}

// Create ensures a running sandbox for the user and returns it with its
// gateway token. See Engine.Create for the idempotency contract.
func (e *DockerEngine) Create(ctx context.Context, userID string) (*Sandbox, error) {
	name := ContainerName(userID)

	status, err := e.Status(ctx, name)
	if err != nil {
		// A real inspect failure (daemon down, permission) is distinct from
		// "doesn't exist yet" and must not be masked by a fresh create.
		return nil, fmt.Errorf("inspecting sandbox %s: %w", name, err)
	}

	switch status {
	case StatusRunning:
		token, err := e.recordedToken(ctx, name)
		if err != nil {
			return nil, err
		}
		id, err := e.containerID(ctx, name)
		if err != nil {
			return nil, err
		}
		return &Sandbox{ID: id, Name: name, Token: token}, nil

	case StatusStopped:
		if err := e.Start(ctx, name); err != nil {
			return nil, fmt.Errorf("starting existing sandbox %s: %w", name, err)
		}
		token, err := e.recordedToken(ctx, name)
		if err != nil {
			return nil, err
		}
		id, err := e.containerID(ctx, name)
		if err != nil {
			return nil, err
		}
		e.logger.Info("sandbox restarted", slog.String("container", name), slog.String("user_id", userID))
		return &Sandbox{ID: id, Name: name, Token: token}, nil
	}

	// Absent: create fresh.
	if err := e.ensureNetwork(ctx); err != nil {
		return nil, err
	}

	token, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generating gateway token: %w", err)
	}

	args := e.buildRunArgs(name, token)
	out, err := e.docker(ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("creating sandbox %s: %w", name, err)
	}
	id := strings.TrimSpace(string(out))

	e.logger.Info("sandbox created",
		slog.String("container", name),
		slog.String("user_id", userID),
		slog.String("image", e.config.Image),
		slog.Int("memory_mb", e.config.MemoryMB),
		slog.Float64("cpu_cores", e.config.CPUCores),
	)

	return &Sandbox{ID: id, Name: name, Token: token}, nil
}

// Start starts a stopped container.
func (e *DockerEngine) Start(ctx context.Context, id string) error {
	out, err := e.docker(ctx, "start", id)
	if err != nil {
		if isNoSuchContainer(out) {
			return fmt.Errorf("starting %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("starting %s: %w", id, err)
	}
	return nil
}

// Stop stops a running container. Already-stopped and already-gone both
// count as success.
func (e *DockerEngine) Stop(ctx context.Context, id string) error {
	out, err := e.docker(ctx, "stop", id)
	if err != nil {
		if isNoSuchContainer(out) || bytes.Contains(out, []byte("is not running")) {
			return nil
		}
		return fmt.Errorf("stopping %s: %w", id, err)
	}
	return nil
}

// Delete force-removes a container. Already-gone counts as success.
func (e *DockerEngine) Delete(ctx context.Context, id string) error {
	out, err := e.docker(ctx, "rm", "-f", id)
	if err != nil {
		if isNoSuchContainer(out) {
			return nil
		}
		return fmt.Errorf("removing %s: %w", id, err)
	}
	return nil
}

// Status inspects the container and normalizes the result into the
// running/stopped/not_found tri-state.
func (e *DockerEngine) Status(ctx context.Context, id string) (Status, error) {
	out, err := e.docker(ctx, "inspect", "-f", "{{.State.Running}}", id)
	if err != nil {
		if isNoSuchContainer(out) {
			return StatusNotFound, nil
		}
		return "", fmt.Errorf("inspecting %s: %w", id, err)
	}
	if strings.TrimSpace(string(out)) == "true" {
		return StatusRunning, nil
	}
	return StatusStopped, nil
}

// URLFor returns the agent's base address on the private network.
func (e *DockerEngine) URLFor(userID string) string {
	return fmt.Sprintf("http://%s:%d", ContainerName(userID), e.config.AgentPort)
}

// recordedToken extracts the gateway token from the container's recorded
// environment, so restarts hand back the same credential.
func (e *DockerEngine) recordedToken(ctx context.Context, name string) (string, error) {
	out, err := e.docker(ctx, "inspect", "-f", "{{range .Config.Env}}{{println .}}{{end}}", name)
	if err != nil {
		return "", fmt.Errorf("reading environment of %s: %w", name, err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), tokenEnvVar+"="); ok {
			return v, nil
		}
	}
	return "", fmt.Errorf("sandbox %s has no recorded %s", name, tokenEnvVar)
}

func (e *DockerEngine) containerID(ctx context.Context, name string) (string, error) {
	out, err := e.docker(ctx, "inspect", "-f", "{{.Id}}", name)
	if err != nil {
		return "", fmt.Errorf("reading container ID of %s: %w", name, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// ensureNetwork lazily creates the private bridge network.
func (e *DockerEngine) ensureNetwork(ctx context.Context) error {
	if _, err := e.docker(ctx, "network", "inspect", e.config.Network); err == nil {
		return nil
	}
	out, err := e.docker(ctx, "network", "create", "--driver", "bridge", e.config.Network)
	if err != nil {
		// Lost the creation race: another caller made it first.
		if bytes.Contains(out, []byte("already exists")) {
			return nil
		}
		return fmt.Errorf("creating network %s: %w", e.config.Network, err)
	}
	e.logger.Info("sandbox network created", slog.String("network", e.config.Network))
	return nil
}

func (e *DockerEngine) buildRunArgs(name, token string) []string {
	memoryFlag := strconv.Itoa(e.config.MemoryMB) + "m"
	cpuFlag := strconv.FormatFloat(e.config.CPUCores, 'f', 2, 64)

	return []string{
		"run", "-d",
		"--name", name,
		"--restart=always",

		"--memory=" + memoryFlag,
		"--memory-swap=" + memoryFlag,
		"--cpus=" + cpuFlag,
		"--pids-limit=" + strconv.Itoa(e.config.PIDsLimit),

		"--network", e.config.Network,

		"--env", tokenEnvVar + "=" + token,
		"--env", "SAUTI_AGENT_PORT=" + strconv.Itoa(e.config.AgentPort),

		e.config.Image,
	}
}

// docker runs a docker CLI command and returns its combined output. The
// output is returned even on error so callers can classify failures.
func (e *DockerEngine) docker(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, dockerOpTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("docker %s: %v: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func isNoSuchContainer(out []byte) bool {
	return bytes.Contains(out, []byte("No such container")) ||
		bytes.Contains(out, []byte("No such object"))
}

// generateToken returns a 64-char hex token from 32 random bytes.
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
