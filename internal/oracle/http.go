package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// HTTPConfig wires an external reasoning service.
type HTTPConfig struct {
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	APIKey   string        `yaml:"api_key" json:"api_key"`
	Model    string        `yaml:"model" json:"model"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

// HTTPReasoner calls an external reasoning service over HTTP. Transport
// failures, timeouts, and malformed responses surface as errors; callers
// treat those as "oracle unavailable" and keep the local decision.
type HTTPReasoner struct {
	cfg    HTTPConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPReasoner creates a client for the configured endpoint.
func NewHTTPReasoner(cfg HTTPConfig, logger *slog.Logger) *HTTPReasoner {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPReasoner{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "oracle.HTTPReasoner"),
	}
}

type assessRequest struct {
	Model               string         `json:"model,omitempty"`
	AgentID             string         `json:"agent_id"`
	Action              string         `json:"action"`
	Payload             map[string]any `json:"payload"`
	Context             map[string]any `json:"context,omitempty"`
	Signals             Signals        `json:"signals"`
	ComplianceEscalated bool           `json:"compliance_escalated"`
}

type assessResponse struct {
	Recommendation string   `json:"recommendation"`
	Confidence     float64  `json:"confidence"`
	Reasoning      string   `json:"reasoning"`
	Factors        []string `json:"factors"`
	Error          string   `json:"error,omitempty"`
}

// Assess posts the request to the reasoning service and parses its
// recommendation. Unrecognized recommendations degrade to escalate so a
// confused service can never widen access.
func (r *HTTPReasoner) Assess(ctx context.Context, req Request) (*Assessment, error) {
	body, err := json.Marshal(assessRequest{
		Model:               r.cfg.Model,
		AgentID:             req.AgentID,
		Action:              req.Action,
		Payload:             req.Payload,
		Context:             req.Context,
		Signals:             req.Signals,
		ComplianceEscalated: req.ComplianceEscalated,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal assessment request: %w", err)
	}

	endpoint := strings.TrimRight(r.cfg.Endpoint, "/") + "/v1/assess"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create assessment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("reasoning service unreachable: %w", err)
	}
	defer resp.Body.Close()

	var parsed assessResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode assessment (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("status %d", resp.StatusCode)
		if parsed.Error != "" {
			msg += ": " + parsed.Error
		}
		return nil, fmt.Errorf("reasoning service error: %s", msg)
	}

	rec := Recommendation(strings.ToLower(strings.TrimSpace(parsed.Recommendation)))
	switch rec {
	case RecommendProceed, RecommendEscalate, RecommendDeny:
	default:
		r.logger.Warn("unrecognized recommendation, treating as escalate", "value", parsed.Recommendation)
		rec = RecommendEscalate
	}

	conf := parsed.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	return &Assessment{
		Recommendation: rec,
		Confidence:     conf,
		Reasoning:      parsed.Reasoning,
		Factors:        parsed.Factors,
		Timestamp:      time.Now(),
	}, nil
}
