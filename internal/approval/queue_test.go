package approval

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/intentguard/intentguard/internal/alert"
	"github.com/intentguard/intentguard/internal/audit"
	"github.com/intentguard/intentguard/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestQueue(t *testing.T) (*Queue, *audit.Chain) {
	t.Helper()
	chain, err := audit.NewChain(audit.NewMemoryStore(), nil, testLogger())
	if err != nil {
		t.Fatalf("NewChain() error: %v", err)
	}
	q := NewQueue(config.ApprovalsConfig{Timeout: 10 * time.Second, TimeoutEffect: "deny"},
		chain, alert.NewManager(config.AlertsConfig{}, testLogger()), testLogger())
	t.Cleanup(q.Close)
	return q, chain
}

func countEvents(t *testing.T, chain *audit.Chain, et audit.EventType) int {
	t.Helper()
	_, total, err := chain.Entries(audit.Filter{EventType: et})
	if err != nil {
		t.Fatalf("Entries() error: %v", err)
	}
	return total
}

func TestTypeForAction(t *testing.T) {
	cases := []struct {
		action string
		want   Type
	}{
		{"adjust_salary", TypeFinance},
		{"execute_payment", TypeFinance},
		{"draft_contract", TypeLegal},
		{"review_nda", TypeLegal},
		{"hire_employee", TypeHR},
		{"terminate_employee", TypeHR},
		{"grant_access", TypeSecurity},
		{"security_review", TypeSecurity},
		{"approve_expense", TypeManager},
	}
	for _, tc := range cases {
		if got := TypeForAction(tc.action); got != tc.want {
			t.Errorf("TypeForAction(%q) = %q, want %q", tc.action, got, tc.want)
		}
	}
}

func TestSubmitAndResolve_Approved(t *testing.T) {
	q, chain := newTestQueue(t)

	req := &Request{
		ID:      "approval-1",
		AgentID: "hr_agent",
		Action:  "adjust_salary",
		Reason:  "salary above band",
	}

	ctx := context.Background()
	var approved bool
	var submitErr error

	// Submit in goroutine (blocks until resolved)
	done := make(chan struct{})
	go func() {
		approved, submitErr = q.Submit(ctx, req)
		close(done)
	}()

	// Give Submit time to queue the request
	time.Sleep(100 * time.Millisecond)

	pending := q.ListPending()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(pending))
	}
	if pending[0].ID != "approval-1" {
		t.Errorf("expected approval-1, got %s", pending[0].ID)
	}
	if pending[0].Type != TypeFinance {
		t.Errorf("derived type = %q, want finance", pending[0].Type)
	}

	if err := q.Resolve("approval-1", true, "vp@example.com"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	<-done

	if submitErr != nil {
		t.Errorf("Submit returned error: %v", submitErr)
	}
	if !approved {
		t.Error("expected approved=true, got false")
	}

	if len(q.ListPending()) != 0 {
		t.Error("expected no pending requests after resolve")
	}

	if got := countEvents(t, chain, audit.EventApprovalRequested); got != 1 {
		t.Errorf("approval_requested entries = %d, want 1", got)
	}
	if got := countEvents(t, chain, audit.EventApprovalGranted); got != 1 {
		t.Errorf("approval_granted entries = %d, want 1", got)
	}
}

func TestSubmitAndResolve_Denied(t *testing.T) {
	q, chain := newTestQueue(t)

	done := make(chan struct{})
	var approved bool
	go func() {
		approved, _ = q.Submit(context.Background(), &Request{
			ID:      "approval-2",
			AgentID: "finance_agent",
			Action:  "execute_payment",
		})
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)

	if err := q.Resolve("approval-2", false, "cfo@example.com"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	<-done

	if approved {
		t.Error("expected approved=false, got true")
	}
	if got := countEvents(t, chain, audit.EventApprovalDenied); got != 1 {
		t.Errorf("approval_denied entries = %d, want 1", got)
	}
}

func TestResolve_NotFound(t *testing.T) {
	q, _ := newTestQueue(t)

	err := q.Resolve("nonexistent-approval", true, "admin")
	if err == nil {
		t.Fatal("expected error for non-existent approval, got nil")
	}
}

func TestResolve_AlreadyResolved(t *testing.T) {
	q, _ := newTestQueue(t)

	done := make(chan struct{})
	go func() {
		_, _ = q.Submit(context.Background(), &Request{ID: "approval-3", AgentID: "a", Action: "x"})
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)

	if err := q.Resolve("approval-3", true, "admin"); err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}
	<-done

	if err := q.Resolve("approval-3", false, "admin"); err == nil {
		t.Fatal("expected error when resolving already-resolved approval, got nil")
	}
}

func TestSubmit_Timeout_DenyEffect(t *testing.T) {
	q, _ := newTestQueue(t)

	done := make(chan struct{})
	var approved bool
	var submitErr error
	go func() {
		approved, submitErr = q.Submit(context.Background(), &Request{
			ID:            "approval-timeout-1",
			AgentID:       "a",
			Action:        "x",
			Timeout:       50 * time.Millisecond,
			TimeoutEffect: "deny",
		})
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	q.sweepExpired(time.Now())
	<-done

	if submitErr != nil {
		t.Errorf("Submit returned error: %v", submitErr)
	}
	if approved {
		t.Error("expected approved=false on timeout with deny effect, got true")
	}
}

func TestSubmit_Timeout_AllowEffect(t *testing.T) {
	q, _ := newTestQueue(t)

	done := make(chan struct{})
	var approved bool
	go func() {
		approved, _ = q.Submit(context.Background(), &Request{
			ID:            "approval-timeout-2",
			AgentID:       "a",
			Action:        "x",
			Timeout:       50 * time.Millisecond,
			TimeoutEffect: "allow",
		})
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	q.sweepExpired(time.Now())
	<-done

	if !approved {
		t.Error("expected approved=true on timeout with allow effect, got false")
	}
}

func TestSubmit_ContextCancelled(t *testing.T) {
	q, _ := newTestQueue(t)

	ctx, cancel := context.WithCancel(context.Background())

	var approved bool
	var submitErr error
	done := make(chan struct{})
	go func() {
		approved, submitErr = q.Submit(ctx, &Request{ID: "approval-cancelled", AgentID: "a", Action: "x"})
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if submitErr != context.Canceled {
		t.Errorf("expected context.Canceled error, got %v", submitErr)
	}
	if approved {
		t.Error("expected approved=false on context cancel, got true")
	}
	if len(q.ListPending()) != 0 {
		t.Error("expected no pending requests after cancel")
	}
}

func TestSubmit_DefaultsApplied(t *testing.T) {
	q, _ := newTestQueue(t)

	done := make(chan struct{})
	go func() {
		_, _ = q.Submit(context.Background(), &Request{AgentID: "a", Action: "grant_access"})
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	pending := q.ListPending()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending request, got %d", len(pending))
	}
	req := pending[0]
	if req.ID == "" {
		t.Error("id should be generated")
	}
	if req.Type != TypeSecurity {
		t.Errorf("type = %q, want security", req.Type)
	}
	if req.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want queue default 10s", req.Timeout)
	}
	if req.TimeoutEffect != "deny" {
		t.Errorf("timeout effect = %q, want deny", req.TimeoutEffect)
	}

	_ = q.Resolve(req.ID, false, "admin")
	<-done
}

func TestListPending_Multiple(t *testing.T) {
	q, _ := newTestQueue(t)

	for i := 1; i <= 3; i++ {
		req := &Request{
			ID:      fmt.Sprintf("approval-%d", i),
			AgentID: fmt.Sprintf("agent-%d", i),
			Action:  "x",
		}
		go func() {
			_, _ = q.Submit(context.Background(), req)
		}()
	}

	time.Sleep(200 * time.Millisecond)

	pending := q.ListPending()
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending requests, got %d", len(pending))
	}

	ids := make(map[string]bool)
	for _, req := range pending {
		ids[req.ID] = true
	}
	for i := 1; i <= 3; i++ {
		expectedID := fmt.Sprintf("approval-%d", i)
		if !ids[expectedID] {
			t.Errorf("expected pending request %s not found", expectedID)
		}
	}

	for id := range ids {
		_ = q.Resolve(id, false, "admin")
	}
}

func TestConcurrentSubmissions(t *testing.T) {
	q, _ := newTestQueue(t)

	const numRequests = 20
	var wg sync.WaitGroup
	wg.Add(numRequests)

	for i := 0; i < numRequests; i++ {
		go func(index int) {
			defer wg.Done()
			req := &Request{
				ID:      fmt.Sprintf("approval-concurrent-%d", index),
				AgentID: fmt.Sprintf("agent-%d", index),
				Action:  "x",
			}
			go func() {
				_, _ = q.Submit(context.Background(), req)
			}()
		}(i)
	}

	wg.Wait()
	time.Sleep(200 * time.Millisecond)

	pending := q.ListPending()
	if len(pending) != numRequests {
		t.Errorf("expected %d pending requests, got %d", numRequests, len(pending))
	}

	ids := make(map[string]bool)
	for _, req := range pending {
		if ids[req.ID] {
			t.Errorf("duplicate request ID found: %s", req.ID)
		}
		ids[req.ID] = true
	}

	for id := range ids {
		_ = q.Resolve(id, false, "admin")
	}
}
