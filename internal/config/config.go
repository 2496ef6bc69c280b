package config

import (
	"time"

	"github.com/intentguard/intentguard/internal/tirs/drift"
)

// Config is the top-level IntentGuard configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	TIRS         TIRSConfig         `yaml:"tirs"`
	Compliance   ComplianceConfig   `yaml:"compliance"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Oracle       OracleConfig       `yaml:"oracle"`
	IAP          IAPConfig          `yaml:"iap"`
	Alerts       AlertsConfig       `yaml:"alerts"`
	Approvals    ApprovalsConfig    `yaml:"approvals"`
	Hub          HubConfig          `yaml:"hub"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

type ServerConfig struct {
	Port      int    `yaml:"port"`
	Dashboard bool   `yaml:"dashboard"`
	LogLevel  string `yaml:"log_level"`
	CORS      bool   `yaml:"cors"`
}

type StorageConfig struct {
	// Driver selects the audit backend: sqlite or memory.
	Driver       string `yaml:"driver"`
	Path         string `yaml:"path"`
	SnapshotsDir string `yaml:"snapshots_dir"`
}

type TIRSConfig struct {
	Detector drift.Config `yaml:"detector"`

	// EmbeddingDim sizes the hashing embedder. Zero takes the default.
	EmbeddingDim int `yaml:"embedding_dim"`
}

type ComplianceConfig struct {
	// RulesFile is an optional YAML file of operator-defined rule and
	// threshold policies, hot-reloaded on change.
	RulesFile string `yaml:"rules_file"`

	// Catalog toggles the built-in domain policy set.
	Catalog bool `yaml:"catalog"`

	// DefaultInternalDomain marks recipients as internal for the
	// communication policies.
	DefaultInternalDomain string `yaml:"default_internal_domain"`
}

type OrchestratorConfig struct {
	MaxConcurrentWorkflows int           `yaml:"max_concurrent_workflows"`
	MaxParallelSteps       int           `yaml:"max_parallel_steps"`
	StepTimeout            time.Duration `yaml:"step_timeout"`
	RequestTimeout         time.Duration `yaml:"request_timeout"`
}

type OracleConfig struct {
	// Mode selects the reasoning backend: heuristic or http.
	Mode     string        `yaml:"mode"`
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

type IAPConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Endpoint string        `yaml:"endpoint"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`
}

type AlertsConfig struct {
	Slack   SlackAlertConfig   `yaml:"slack"`
	Webhook WebhookAlertConfig `yaml:"webhook"`
}

type SlackAlertConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type WebhookAlertConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

type ApprovalsConfig struct {
	Timeout time.Duration `yaml:"timeout"`

	// TimeoutEffect decides an unresolved request: deny or allow.
	TimeoutEffect string `yaml:"timeout_effect"`
}

type HubConfig struct {
	// MailboxSize bounds each agent's message queue.
	MailboxSize int `yaml:"mailbox_size"`

	MaxRounds          int           `yaml:"max_rounds"`
	NegotiationTimeout time.Duration `yaml:"negotiation_timeout"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns a config with sensible defaults for zero-config
// startup.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      7180,
			Dashboard: true,
			LogLevel:  "info",
			CORS:      false,
		},
		Storage: StorageConfig{
			Driver:       "sqlite",
			Path:         "./intentguard.db",
			SnapshotsDir: "./snapshots",
		},
		TIRS: TIRSConfig{
			Detector: drift.DefaultConfig(),
		},
		Compliance: ComplianceConfig{
			Catalog:               true,
			DefaultInternalDomain: "@company.com",
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentWorkflows: 5,
			MaxParallelSteps:       4,
			StepTimeout:            30 * time.Second,
			RequestTimeout:         300 * time.Second,
		},
		Oracle: OracleConfig{
			Mode:    "heuristic",
			Timeout: 30 * time.Second,
		},
		IAP: IAPConfig{
			Timeout: 10 * time.Second,
		},
		Approvals: ApprovalsConfig{
			Timeout:       15 * time.Minute,
			TimeoutEffect: "deny",
		},
		Hub: HubConfig{
			MailboxSize:        32,
			MaxRounds:          5,
			NegotiationTimeout: 60 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
