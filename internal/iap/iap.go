// Package iap is the client for an external Intent Access Protocol
// verifier. When configured, the gateway consults it before the local
// compliance and behavioral checks; a transport failure or timeout is
// reported as an error so callers fall back to the local decision
// instead of failing closed on an unreachable network dependency.
package iap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Verdicts returned by the protocol. The wire values are uppercase.
const (
	VerdictAllow    = "ALLOW"
	VerdictDeny     = "DENY"
	VerdictModify   = "MODIFY"
	VerdictEscalate = "ESCALATE"
)

// Config controls the external verifier client.
type Config struct {
	Enabled  bool
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Result is the verifier's judgment on a single intent.
type Result struct {
	IntentID        string         `json:"intent_id"`
	Allowed         bool           `json:"allowed"`
	Verdict         string         `json:"verdict"`
	Reason          string         `json:"reason,omitempty"`
	PolicyTriggered string         `json:"policy_triggered,omitempty"`
	ModifiedPayload map[string]any `json:"modified_payload,omitempty"`
	Token           string         `json:"token,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Client talks to the external verifier over HTTP.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient builds a verifier client. A zero timeout defaults to 10s;
// the verifier sits on the hot path, so it gets a tighter budget than
// the reasoning layer.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "iap.Client"),
	}
}

// Enabled reports whether the client is configured to be consulted.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled && c.cfg.Endpoint != ""
}

type verifyRequest struct {
	AgentID string         `json:"agent_id"`
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload,omitempty"`
}

type verifyResponse struct {
	IntentID        string         `json:"intent_id"`
	Verdict         string         `json:"verdict"`
	Reason          string         `json:"reason"`
	PolicyTriggered string         `json:"policy_triggered"`
	ModifiedPayload map[string]any `json:"modified_payload"`
	Token           string         `json:"token"`
	Error           string         `json:"error"`
}

// Verify submits one intent for external judgment. Any transport or
// protocol failure comes back as an error; the caller treats that as
// an unknown verdict and decides locally.
func (c *Client) Verify(ctx context.Context, agentID, action string, payload map[string]any) (*Result, error) {
	body, err := json.Marshal(verifyRequest{AgentID: agentID, Action: action, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encoding verify request: %w", err)
	}

	url := strings.TrimRight(c.cfg.Endpoint, "/") + "/v1/verify"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling intent verifier: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading verifier response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("intent verifier returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var vr verifyResponse
	if err := json.Unmarshal(raw, &vr); err != nil {
		return nil, fmt.Errorf("decoding verifier response: %w", err)
	}
	if vr.Error != "" {
		return nil, fmt.Errorf("intent verifier error: %s", vr.Error)
	}

	verdict := strings.ToUpper(strings.TrimSpace(vr.Verdict))
	switch verdict {
	case VerdictAllow, VerdictDeny, VerdictModify, VerdictEscalate:
	default:
		return nil, fmt.Errorf("unrecognized verifier verdict %q", vr.Verdict)
	}

	res := &Result{
		IntentID:        vr.IntentID,
		Allowed:         verdict != VerdictDeny,
		Verdict:         verdict,
		Reason:          vr.Reason,
		PolicyTriggered: vr.PolicyTriggered,
		ModifiedPayload: vr.ModifiedPayload,
		Token:           vr.Token,
		Timestamp:       time.Now().UTC(),
	}
	c.logger.Debug("external verdict received",
		"agent_id", agentID,
		"action", action,
		"verdict", res.Verdict,
		"intent_id", res.IntentID)
	return res, nil
}
