package iap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestVerifyAllow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/verify" {
			t.Errorf("path = %q, want /v1/verify", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("authorization = %q", got)
		}
		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.AgentID != "finance_agent" || req.Action != "approve_expense" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(verifyResponse{
			IntentID: "INT-20250601-000042",
			Verdict:  "ALLOW",
			Token:    "tok-1",
		})
	}))
	defer srv.Close()

	c := NewClient(Config{Enabled: true, Endpoint: srv.URL, APIKey: "sekrit"}, nil)
	got, err := c.Verify(context.Background(), "finance_agent", "approve_expense", map[string]any{"amount": 100.0})
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if !got.Allowed || got.Verdict != VerdictAllow {
		t.Errorf("verdict = %q allowed = %v, want ALLOW/true", got.Verdict, got.Allowed)
	}
	if got.IntentID != "INT-20250601-000042" {
		t.Errorf("intent id = %q", got.IntentID)
	}
}

func TestVerifyDenyAndModify(t *testing.T) {
	responses := []verifyResponse{
		{IntentID: "INT-20250601-000043", Verdict: "deny", Reason: "payment cap", PolicyTriggered: "FIN-002"},
		{IntentID: "INT-20250601-000044", Verdict: "MODIFY", ModifiedPayload: map[string]any{"body": "[REDACTED]"}},
	}
	i := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(responses[i])
		i++
	}))
	defer srv.Close()

	c := NewClient(Config{Enabled: true, Endpoint: srv.URL}, nil)

	deny, err := c.Verify(context.Background(), "finance_agent", "execute_payment", nil)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if deny.Allowed || deny.Verdict != VerdictDeny {
		t.Errorf("verdict = %q allowed = %v, want DENY/false", deny.Verdict, deny.Allowed)
	}
	if deny.PolicyTriggered != "FIN-002" {
		t.Errorf("policy = %q", deny.PolicyTriggered)
	}

	mod, err := c.Verify(context.Background(), "ops_agent", "send_email", nil)
	if err != nil {
		t.Fatalf("Verify() error: %v", err)
	}
	if !mod.Allowed || mod.Verdict != VerdictModify {
		t.Errorf("verdict = %q allowed = %v, want MODIFY/true", mod.Verdict, mod.Allowed)
	}
	if mod.ModifiedPayload["body"] != "[REDACTED]" {
		t.Errorf("modified payload = %v", mod.ModifiedPayload)
	}
}

func TestVerifyTransportFailureIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(Config{Enabled: true, Endpoint: srv.URL, Timeout: 500 * time.Millisecond}, nil)
	if _, err := c.Verify(context.Background(), "a", "x", nil); err == nil {
		t.Error("transport failure must surface as an error for local fallback")
	}
}

func TestVerifyRejectsUnknownVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(verifyResponse{Verdict: "PERHAPS"})
	}))
	defer srv.Close()

	c := NewClient(Config{Enabled: true, Endpoint: srv.URL}, nil)
	if _, err := c.Verify(context.Background(), "a", "x", nil); err == nil {
		t.Error("unknown verdict must surface as an error")
	}
}

func TestEnabledRequiresEndpoint(t *testing.T) {
	if NewClient(Config{Enabled: true}, nil).Enabled() {
		t.Error("enabled without endpoint should report disabled")
	}
	if NewClient(Config{Enabled: false, Endpoint: "http://verifier"}, nil).Enabled() {
		t.Error("disabled config should report disabled")
	}
	if !NewClient(Config{Enabled: true, Endpoint: "http://verifier"}, nil).Enabled() {
		t.Error("enabled with endpoint should report enabled")
	}
}
