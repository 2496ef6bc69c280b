package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader reads the YAML config, applies environment substitution, and
// optionally watches the file for hot reload. Get always returns a
// usable config: before Load it hands out the defaults.
type Loader struct {
	mu       sync.RWMutex
	cfg      *Config
	filePath string

	logger    *slog.Logger
	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewLoader creates a Loader seeded with DefaultConfig.
func NewLoader() *Loader {
	return &Loader{
		cfg:    DefaultConfig(),
		logger: slog.Default().With("component", "config.Loader"),
	}
}

// Load reads and parses the config file at path. Values start from the
// defaults, so a partial file only overrides what it names.
func (l *Loader) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	l.mu.Lock()
	l.cfg = cfg
	l.filePath = path
	l.mu.Unlock()
	return nil
}

// Get returns the current config.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cfg
}

// FilePath returns the path of the loaded config file, or empty before
// Load.
func (l *Loader) FilePath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filePath
}

// Reload re-reads the previously loaded file.
func (l *Loader) Reload() error {
	path := l.FilePath()
	if path == "" {
		return fmt.Errorf("no config file loaded")
	}
	return l.Load(path)
}

// Watch starts an fsnotify watcher on the loaded config file. On every
// write the file is reloaded and onReload invoked with the fresh
// config. Call StopWatch to clean up.
func (l *Loader) Watch(onReload func(*Config)) error {
	path := l.FilePath()
	if path == "" {
		return fmt.Errorf("no config file loaded")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watcher != nil {
		l.stopWatchLocked()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}

	// Watch the directory rather than the file to catch editor
	// rename-and-replace patterns.
	if err := w.Add(filepath.Dir(absPath)); err != nil {
		_ = w.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	l.watcher = w
	l.watchDone = make(chan struct{})
	go l.watchLoop(absPath, onReload)

	l.logger.Info("watching config for changes", "path", absPath)
	return nil
}

func (l *Loader) watchLoop(targetPath string, onReload func(*Config)) {
	defer close(l.watchDone)

	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			absEvent, _ := filepath.Abs(event.Name)
			if absEvent != targetPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := l.Reload(); err != nil {
					l.logger.Error("config reload failed", "path", targetPath, "error", err)
					continue
				}
				l.logger.Info("config reloaded", "path", targetPath)
				if onReload != nil {
					onReload(l.Get())
				}
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("fsnotify error", "error", err)
		}
	}
}

// StopWatch stops the config watcher, if running.
func (l *Loader) StopWatch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopWatchLocked()
}

func (l *Loader) stopWatchLocked() {
	if l.watcher != nil {
		_ = l.watcher.Close()
		if l.watchDone != nil {
			<-l.watchDone
		}
		l.watcher = nil
		l.watchDone = nil
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// substituteEnvVars expands ${VAR} references in the raw config text.
// Unset variables expand to the ${VAR:-default} fallback, or empty.
func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if v, ok := os.LookupEnv(groups[1]); ok {
			return v
		}
		return groups[3]
	})
}

const defaultConfigTemplate = `# IntentGuard configuration.
# Values support environment substitution: ${VAR} and ${VAR:-default}.

server:
  port: 7180
  dashboard: true
  log_level: info
  cors: false

storage:
  driver: sqlite           # sqlite | memory
  path: ./intentguard.db
  snapshots_dir: ./snapshots

tirs:
  detector:
    weights:
      embedding_drift: 0.30
      capability_surprisal: 0.25
      violation_rate: 0.20
      velocity_anomaly: 0.15
      context_deviation: 0.10
    thresholds:
      warning: 0.5
      critical: 0.7
      terminal: 0.85

compliance:
  catalog: true
  default_internal_domain: "@company.com"
  # rules_file: ./policies.yaml

orchestrator:
  max_concurrent_workflows: 5
  max_parallel_steps: 4
  step_timeout: 30s
  request_timeout: 300s

oracle:
  mode: heuristic          # heuristic | http
  # endpoint: https://reasoning.example.com
  # api_key: ${ORACLE_API_KEY}
  timeout: 30s

iap:
  enabled: false
  # endpoint: https://iap.example.com
  # api_key: ${IAP_API_KEY}
  timeout: 10s

alerts:
  slack:
    webhook_url: ""
    channel: "#guardrails"
  webhook:
    url: ""
    secret: ""

approvals:
  timeout: 15m
  timeout_effect: deny     # deny | allow

hub:
  mailbox_size: 32
  max_rounds: 5
  negotiation_timeout: 60s

metrics:
  enabled: true
`

// GenerateDefault writes a commented starter config to path.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	return os.WriteFile(path, []byte(defaultConfigTemplate), 0o644)
}
