package hub

import (
	"context"
	"log/slog"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/intentguard/intentguard/internal/config"
	"github.com/intentguard/intentguard/internal/fault"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time { return c.t }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHub(t *testing.T, cfg config.HubConfig, agents ...string) *Hub {
	t.Helper()
	clock := &fixedClock{t: time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)}
	h := New(cfg, clock, testLogger())
	for _, id := range agents {
		if err := h.Register(id); err != nil {
			t.Fatalf("Register(%s) error = %v", id, err)
		}
	}
	return h
}

func TestSendAndReceive(t *testing.T) {
	h := newTestHub(t, config.HubConfig{}, "finance_agent", "legal_agent")

	sent, err := h.Send("finance_agent", "legal_agent", MessageInform,
		map[string]any{"note": "contract CT-001 cleared"}, "")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if sent.ID != "MSG-000001" {
		t.Errorf("message id = %q, want MSG-000001", sent.ID)
	}

	got, err := h.Receive(context.Background(), "legal_agent")
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if got.From != "finance_agent" || got.To != "legal_agent" || got.Type != MessageInform {
		t.Errorf("message = %+v, want the envelope preserved", got)
	}
	if got.Content["note"] != "contract CT-001 cleared" {
		t.Errorf("content = %v", got.Content)
	}
	if !got.Timestamp.Equal(time.Date(2025, 1, 14, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v, want the injected clock's time", got.Timestamp)
	}
}

func TestSendToUnregisteredAgent(t *testing.T) {
	h := newTestHub(t, config.HubConfig{}, "finance_agent")

	if _, err := h.Send("finance_agent", "ghost_agent", MessageInform, nil, ""); err == nil {
		t.Fatal("Send() to an unregistered agent succeeded")
	} else if fault.Is(err, fault.KindQueueFull) {
		t.Errorf("Send() error = %v; an unknown recipient is not a full queue", err)
	}
}

func TestSendToFullMailboxFails(t *testing.T) {
	h := newTestHub(t, config.HubConfig{MailboxSize: 2}, "a", "b")

	for i := 0; i < 2; i++ {
		if _, err := h.Send("a", "b", MessageInform, nil, ""); err != nil {
			t.Fatalf("Send() %d error = %v", i, err)
		}
	}

	_, err := h.Send("a", "b", MessageInform, nil, "")
	if !fault.Is(err, fault.KindQueueFull) {
		t.Fatalf("Send() error = %v, want a %s failure", err, fault.KindQueueFull)
	}

	// Draining one slot makes room again.
	if _, err := h.Receive(context.Background(), "b"); err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if _, err := h.Send("a", "b", MessageInform, nil, ""); err != nil {
		t.Errorf("Send() after drain error = %v", err)
	}
}

func TestRegisterDuplicateMailbox(t *testing.T) {
	h := newTestHub(t, config.HubConfig{}, "a")
	if err := h.Register("a"); err == nil {
		t.Fatal("Register() accepted a duplicate mailbox")
	}
}

func TestReceiveHonorsContext(t *testing.T) {
	h := newTestHub(t, config.HubConfig{}, "a")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := h.Receive(ctx, "a"); err != context.DeadlineExceeded {
		t.Fatalf("Receive() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestCollaborate(t *testing.T) {
	h := newTestHub(t, config.HubConfig{}, "requester", "helper")

	go func() {
		req, err := h.Receive(context.Background(), "helper")
		if err != nil {
			t.Errorf("helper Receive() error = %v", err)
			return
		}
		if req.Type != MessageRequest || req.Content["task"] != "estimate" {
			t.Errorf("helper got %+v, want the task request", req)
		}
		_, err = h.Send("helper", "requester", MessageResponse,
			map[string]any{"estimate": 4200.0}, req.ID)
		if err != nil {
			t.Errorf("helper Send() error = %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := h.Collaborate(ctx, "requester", "helper", "estimate",
		map[string]any{"project": "atlas"})
	if err != nil {
		t.Fatalf("Collaborate() error = %v", err)
	}
	if result["estimate"] != 4200.0 {
		t.Errorf("result = %v, want the helper's response content", result)
	}

	if got := h.Connections("requester"); !reflect.DeepEqual(got, []string{"helper"}) {
		t.Errorf("Connections(requester) = %v, want [helper]", got)
	}
}

func TestAwaitResponseDropsUnrelatedMessages(t *testing.T) {
	h := newTestHub(t, config.HubConfig{}, "a", "b")

	if _, err := h.Send("b", "a", MessageInform, map[string]any{"noise": true}, ""); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := h.Send("b", "a", MessageResponse, map[string]any{"answer": 7.0}, "MSG-REQ"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := h.AwaitResponse(ctx, "a", "MSG-REQ")
	if err != nil {
		t.Fatalf("AwaitResponse() error = %v", err)
	}
	if resp.Content["answer"] != 7.0 {
		t.Errorf("response = %+v, want the correlated reply", resp)
	}
}

func TestBroadcastSkipsFullMailboxes(t *testing.T) {
	h := newTestHub(t, config.HubConfig{MailboxSize: 1}, "a", "b", "c")

	if _, err := h.Send("b", "c", MessageInform, nil, ""); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	delivered := h.Broadcast("a", MessageInform, map[string]any{"event": "maintenance"}, nil)
	if len(delivered) != 1 {
		t.Fatalf("delivered = %d messages (%v), want only the agent with room", len(delivered), delivered)
	}
	if delivered[0].To != "b" {
		t.Errorf("delivered to %q, want b", delivered[0].To)
	}
}

func TestSharedContextAccessControl(t *testing.T) {
	h := newTestHub(t, config.HubConfig{}, "a", "b")

	sc := h.CreateSharedContext([]string{"a", "b"}, map[string]any{"budget": 1000.0})

	if err := h.UpdateSharedContext(sc.ID, "a", map[string]any{"spent": 250.0}); err != nil {
		t.Fatalf("UpdateSharedContext() error = %v", err)
	}
	if err := h.UpdateSharedContext(sc.ID, "outsider", map[string]any{"spent": 0.0}); err == nil {
		t.Error("UpdateSharedContext() accepted a write from a non-participant")
	}

	data, ok := h.SharedData(sc.ID, "b")
	if !ok {
		t.Fatal("SharedData() denied a participant")
	}
	if data["budget"] != 1000.0 || data["spent"] != 250.0 {
		t.Errorf("data = %v", data)
	}

	if _, ok := h.SharedData(sc.ID, "outsider"); ok {
		t.Error("SharedData() served a non-participant")
	}

	// The returned copy does not alias hub state.
	data["budget"] = 0.0
	fresh, _ := h.SharedData(sc.ID, "a")
	if fresh["budget"] != 1000.0 {
		t.Error("mutating a SharedData copy leaked into the hub")
	}
}

func TestStats(t *testing.T) {
	h := newTestHub(t, config.HubConfig{}, "a", "b")

	if _, err := h.Send("a", "b", MessageInform, nil, ""); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	h.CreateSharedContext([]string{"a", "b"}, nil)

	s := h.Stats()
	if s.RegisteredAgents != 2 {
		t.Errorf("RegisteredAgents = %d, want 2", s.RegisteredAgents)
	}
	if s.MessagesSent != 1 {
		t.Errorf("MessagesSent = %d, want 1", s.MessagesSent)
	}
	if s.SharedContexts != 1 {
		t.Errorf("SharedContexts = %d, want 1", s.SharedContexts)
	}
}
