package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoader_LoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "intentguard.yaml")

	yamlContent := `
server:
  port: 8080
  dashboard: true
  log_level: debug
  cors: true

storage:
  driver: memory
  path: ./test.db
  snapshots_dir: ./snaps

tirs:
  detector:
    warmup_intents: 5
    thresholds:
      warning: 0.4
      critical: 0.6
      terminal: 0.8

compliance:
  catalog: false
  default_internal_domain: "@corp.example"

orchestrator:
  max_concurrent_workflows: 3
  step_timeout: 10s

oracle:
  mode: http
  endpoint: https://reasoning.example.com

approvals:
  timeout: 5m
  timeout_effect: allow
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	cfg := loader.Get()

	// Server
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("Server.LogLevel = %q, want \"debug\"", cfg.Server.LogLevel)
	}
	if !cfg.Server.CORS {
		t.Error("Server.CORS = false, want true")
	}

	// Storage
	if cfg.Storage.Driver != "memory" {
		t.Errorf("Storage.Driver = %q, want \"memory\"", cfg.Storage.Driver)
	}
	if cfg.Storage.SnapshotsDir != "./snaps" {
		t.Errorf("Storage.SnapshotsDir = %q, want \"./snaps\"", cfg.Storage.SnapshotsDir)
	}

	// TIRS
	if cfg.TIRS.Detector.WarmupIntents != 5 {
		t.Errorf("TIRS.Detector.WarmupIntents = %d, want 5", cfg.TIRS.Detector.WarmupIntents)
	}
	if cfg.TIRS.Detector.BaseThresholds.Critical != 0.6 {
		t.Errorf("TIRS.Detector.BaseThresholds.Critical = %f, want 0.6",
			cfg.TIRS.Detector.BaseThresholds.Critical)
	}

	// Compliance
	if cfg.Compliance.Catalog {
		t.Error("Compliance.Catalog = true, want false")
	}
	if cfg.Compliance.DefaultInternalDomain != "@corp.example" {
		t.Errorf("Compliance.DefaultInternalDomain = %q", cfg.Compliance.DefaultInternalDomain)
	}

	// Orchestrator: overridden fields change, defaults survive.
	if cfg.Orchestrator.MaxConcurrentWorkflows != 3 {
		t.Errorf("Orchestrator.MaxConcurrentWorkflows = %d, want 3", cfg.Orchestrator.MaxConcurrentWorkflows)
	}
	if cfg.Orchestrator.StepTimeout != 10*time.Second {
		t.Errorf("Orchestrator.StepTimeout = %v, want 10s", cfg.Orchestrator.StepTimeout)
	}
	if cfg.Orchestrator.MaxParallelSteps != 4 {
		t.Errorf("Orchestrator.MaxParallelSteps = %d, want default 4", cfg.Orchestrator.MaxParallelSteps)
	}

	// Oracle
	if cfg.Oracle.Mode != "http" {
		t.Errorf("Oracle.Mode = %q, want \"http\"", cfg.Oracle.Mode)
	}

	// Approvals
	if cfg.Approvals.Timeout != 5*time.Minute {
		t.Errorf("Approvals.Timeout = %v, want 5m", cfg.Approvals.Timeout)
	}
	if cfg.Approvals.TimeoutEffect != "allow" {
		t.Errorf("Approvals.TimeoutEffect = %q, want \"allow\"", cfg.Approvals.TimeoutEffect)
	}
}

func TestLoader_DefaultConfig(t *testing.T) {
	loader := NewLoader()
	cfg := loader.Get()

	if cfg.Server.Port != 7180 {
		t.Errorf("default Server.Port = %d, want 7180", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("default Storage.Driver = %q, want \"sqlite\"", cfg.Storage.Driver)
	}
	if !cfg.Compliance.Catalog {
		t.Error("default Compliance.Catalog = false, want true")
	}
	if cfg.Compliance.DefaultInternalDomain != "@company.com" {
		t.Errorf("default Compliance.DefaultInternalDomain = %q", cfg.Compliance.DefaultInternalDomain)
	}
	if cfg.TIRS.Detector.BaseThresholds.Warning != 0.5 {
		t.Errorf("default warning threshold = %f, want 0.5", cfg.TIRS.Detector.BaseThresholds.Warning)
	}
	if cfg.Orchestrator.MaxConcurrentWorkflows != 5 {
		t.Errorf("default MaxConcurrentWorkflows = %d, want 5", cfg.Orchestrator.MaxConcurrentWorkflows)
	}
	if cfg.Orchestrator.RequestTimeout != 300*time.Second {
		t.Errorf("default RequestTimeout = %v, want 300s", cfg.Orchestrator.RequestTimeout)
	}
	if cfg.Approvals.Timeout != 15*time.Minute {
		t.Errorf("default Approvals.Timeout = %v, want 15m", cfg.Approvals.Timeout)
	}
	if cfg.Approvals.TimeoutEffect != "deny" {
		t.Errorf("default Approvals.TimeoutEffect = %q, want \"deny\"", cfg.Approvals.TimeoutEffect)
	}
	if cfg.Oracle.Mode != "heuristic" {
		t.Errorf("default Oracle.Mode = %q, want \"heuristic\"", cfg.Oracle.Mode)
	}
}

func TestLoader_LoadNonExistentFile(t *testing.T) {
	loader := NewLoader()
	err := loader.Load("/nonexistent/path/to/config.yaml")
	if err == nil {
		t.Error("Load() with nonexistent file should return error")
	}
}

func TestLoader_LoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.yaml")

	if err := os.WriteFile(configPath, []byte(`{{{invalid yaml`), 0644); err != nil {
		t.Fatalf("failed to write bad config: %v", err)
	}

	loader := NewLoader()
	err := loader.Load(configPath)
	if err == nil {
		t.Error("Load() with invalid YAML should return error")
	}
}

func TestLoader_FilePath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "intentguard.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  port: 9999\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	if loader.FilePath() != "" {
		t.Errorf("FilePath() before Load() = %q, want empty", loader.FilePath())
	}

	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if loader.FilePath() != configPath {
		t.Errorf("FilePath() = %q, want %q", loader.FilePath(), configPath)
	}
}

func TestLoader_Reload(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "intentguard.yaml")

	if err := os.WriteFile(configPath, []byte("server:\n  port: 8080\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if loader.Get().Server.Port != 8080 {
		t.Errorf("initial port = %d, want 8080", loader.Get().Server.Port)
	}

	if err := os.WriteFile(configPath, []byte("server:\n  port: 9999\n"), 0644); err != nil {
		t.Fatalf("failed to overwrite config: %v", err)
	}

	if err := loader.Reload(); err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	if loader.Get().Server.Port != 9999 {
		t.Errorf("reloaded port = %d, want 9999", loader.Get().Server.Port)
	}
}

func TestLoader_ReloadWithoutLoad(t *testing.T) {
	loader := NewLoader()
	err := loader.Reload()
	if err == nil {
		t.Error("Reload() without prior Load() should return error")
	}
}

func TestLoader_Watch(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "intentguard.yaml")
	if err := os.WriteFile(configPath, []byte("server:\n  port: 8080\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	reloaded := make(chan *Config, 1)
	if err := loader.Watch(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	defer loader.StopWatch()

	if err := os.WriteFile(configPath, []byte("server:\n  port: 9999\n"), 0644); err != nil {
		t.Fatalf("failed to overwrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Server.Port != 9999 {
			t.Errorf("watched reload port = %d, want 9999", cfg.Server.Port)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not fire within 5s")
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("TEST_IG_PORT", "9999")
	os.Setenv("TEST_IG_SECRET", "my-secret")
	defer os.Unsetenv("TEST_IG_PORT")
	defer os.Unsetenv("TEST_IG_SECRET")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple substitution",
			input: "port: ${TEST_IG_PORT}",
			want:  "port: 9999",
		},
		{
			name:  "multiple substitutions",
			input: "port: ${TEST_IG_PORT}\nsecret: ${TEST_IG_SECRET}",
			want:  "port: 9999\nsecret: my-secret",
		},
		{
			name:  "undefined variable",
			input: "value: ${UNDEFINED_TEST_VAR_XYZ}",
			want:  "value: ",
		},
		{
			name:  "default value syntax",
			input: "value: ${UNDEFINED_TEST_VAR_XYZ:-default-val}",
			want:  "value: default-val",
		},
		{
			name:  "default value not used when env var set",
			input: "port: ${TEST_IG_PORT:-1234}",
			want:  "port: 9999",
		},
		{
			name:  "no env vars",
			input: "port: 8080",
			want:  "port: 8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := substituteEnvVars(tt.input)
			if got != tt.want {
				t.Errorf("substituteEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSubstituteEnvVars_InConfigLoad(t *testing.T) {
	os.Setenv("TEST_IG_CFG_PORT", "7777")
	defer os.Unsetenv("TEST_IG_CFG_PORT")

	dir := t.TempDir()
	configPath := filepath.Join(dir, "intentguard.yaml")

	yamlContent := `
server:
  port: ${TEST_IG_CFG_PORT}
  log_level: info
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	cfg := loader.Get()
	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port with env var = %d, want 7777", cfg.Server.Port)
	}
}

func TestGenerateDefault(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "intentguard.yaml")

	if err := GenerateDefault(configPath); err != nil {
		t.Fatalf("GenerateDefault() error: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read generated config: %v", err)
	}
	if len(data) == 0 {
		t.Error("generated config is empty")
	}

	loader := NewLoader()
	if err := loader.Load(configPath); err != nil {
		t.Fatalf("generated config is not valid YAML: %v", err)
	}

	cfg := loader.Get()
	if cfg.Server.Port != 7180 {
		t.Errorf("generated config port = %d, want 7180", cfg.Server.Port)
	}

	if err := GenerateDefault(configPath); err == nil {
		t.Error("GenerateDefault() over an existing file should return error")
	}
}
