package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
gateway:
  url: http://localhost:9000
  debounce_s: 10
sandbox:
  image: example/agent:v1
  max_memory_mb: 1024
voice:
  credit_cost: 2.5
  tts:
    api_key: file-key
reaper:
  schedule: "0 */2 * * *"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.URL != "http://localhost:9000" {
		t.Errorf("gateway url = %q", cfg.Gateway.URL)
	}
	if got := cfg.Gateway.Debounce(); got != 10*time.Second {
		t.Errorf("debounce = %v, want 10s", got)
	}
	if cfg.Sandbox.Image != "example/agent:v1" {
		t.Errorf("image = %q", cfg.Sandbox.Image)
	}
	if got := cfg.Voice.Cost(); got != 2.5 {
		t.Errorf("credit cost = %v", got)
	}
	if cfg.Reaper.Schedule != "0 */2 * * *" {
		t.Errorf("schedule = %q", cfg.Reaper.Schedule)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"gateway":{"url":"http://gw:8000"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.URL != "http://gw:8000" {
		t.Errorf("gateway url = %q", cfg.Gateway.URL)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("SAUTI_GATEWAY_URL", "http://env-wins:1234")
	path := writeConfig(t, "config.yaml", "gateway:\n  url: http://file:9000\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.URL != "http://env-wins:1234" {
		t.Errorf("gateway url = %q, want env override", cfg.Gateway.URL)
	}
}

func TestLoad_MissingGatewayURL(t *testing.T) {
	t.Setenv("SAUTI_GATEWAY_URL", "")
	path := writeConfig(t, "config.yaml", "sandbox:\n  image: x\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing gateway.url")
	}
}

func TestLoad_BadStorageDriver(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
gateway:
  url: http://gw
storage:
  driver: cassandra
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unsupported driver")
	}
}

func TestDefaults(t *testing.T) {
	var s SandboxConfig
	if got := s.HealthPollInterval(); got != 2*time.Second {
		t.Errorf("health poll = %v, want 2s", got)
	}
	if got := s.HealthAttempts(); got != 30 {
		t.Errorf("health attempts = %d, want 30", got)
	}

	var g GatewayConfig
	if got := g.Debounce(); got != 5*time.Second {
		t.Errorf("debounce = %v, want 5s", got)
	}

	var v *VoiceConfig
	if got := v.Cost(); got != 1 {
		t.Errorf("nil voice cost = %v, want 1", got)
	}
	if got := v.SynthBatchSize(); got != 3 {
		t.Errorf("nil voice batch = %v, want 3", got)
	}

	var r *RateLimitConfig
	if got := r.PerMinute(); got != 60 {
		t.Errorf("nil rate limit per-minute = %d, want 60", got)
	}
}
