package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/intentguard/intentguard/internal/config"
	"github.com/intentguard/intentguard/internal/runtime"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "intentguard",
		Short: "Guardrail runtime for multi-agent AI workflows",
		Long:  "IntentGuard — Verify. Route. Record.\nA guardrail gateway that checks every agent action against policy and behavioral drift before it runs.",
	}

	var configFile string
	var port int
	var devMode bool

	// --- start ---
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the IntentGuard gateway and management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configFile, port, devMode)
		},
	}
	startCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: intentguard.yaml)")
	startCmd.Flags().IntVarP(&port, "port", "p", 0, "Override HTTP port (default: 7180)")
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Dev mode: verbose logs, CORS *")

	// --- init ---
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate starter config and directory structure",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}

	// --- status ---
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show running status, agent fleet, recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(port)
		},
	}

	// --- version ---
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("IntentGuard %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", buildDate)
		},
	}

	// --- request ---
	var reqPayload string
	var reqContext string
	requestCmd := &cobra.Command{
		Use:   "request [action]",
		Short: "Submit a single action through the gateway",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(port, args[0], reqPayload, reqContext)
		},
	}
	requestCmd.Flags().StringVar(&reqPayload, "payload", "{}", "Action payload as JSON")
	requestCmd.Flags().StringVar(&reqContext, "context", "{}", "Request context as JSON")

	// --- agent ---
	agentCmd := &cobra.Command{
		Use:   "agent",
		Short: "Agent lifecycle commands",
	}

	agentListCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents with risk posture",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgentList(port)
		},
	}

	agentShowCmd := &cobra.Command{
		Use:   "show [agent-id]",
		Short: "Show one agent's stats, risk profile, and snapshot count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/agents/%s", p, args[0]))
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			var result map[string]interface{}
			if err := decodeJSON(resp, &result); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	var actionReason string
	agentPauseCmd := &cobra.Command{
		Use:   "pause [agent-id]",
		Short: "Pause an agent (blocks execution, keeps the profile)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postLifecycle(port, args[0], "pause", actionReason)
		},
	}
	agentPauseCmd.Flags().StringVar(&actionReason, "reason", "", "Reason recorded on the audit chain")

	agentResumeCmd := &cobra.Command{
		Use:   "resume [agent-id]",
		Short: "Resume a throttled or paused agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postLifecycle(port, args[0], "resume", "")
		},
	}

	agentKillCmd := &cobra.Command{
		Use:   "kill [agent-id]",
		Short: "Kill an agent and write a forensic snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postLifecycle(port, args[0], "kill", actionReason)
		},
	}
	agentKillCmd.Flags().StringVar(&actionReason, "reason", "", "Reason recorded on the audit chain")

	agentResurrectCmd := &cobra.Command{
		Use:   "resurrect [agent-id]",
		Short: "Resurrect a killed agent (baseline restarts from warmup)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postLifecycle(port, args[0], "resurrect", "")
		},
	}

	agentCmd.AddCommand(agentListCmd, agentShowCmd, agentPauseCmd, agentResumeCmd, agentKillCmd, agentResurrectCmd)

	// --- snapshot ---
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Forensic snapshot commands",
	}

	snapshotListCmd := &cobra.Command{
		Use:   "list [agent-id]",
		Short: "List an agent's snapshot chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotList(port, args[0])
		},
	}

	snapshotVerifyCmd := &cobra.Command{
		Use:   "verify [agent-id]",
		Short: "Verify hash chain integrity for an agent's snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/snapshots/%s/verify", p, args[0]), "application/json", nil)
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			var result map[string]interface{}
			if err := decodeJSON(resp, &result); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			if valid, _ := result["valid"].(bool); valid {
				fmt.Printf("✓ Snapshot chain intact for agent %s (%v snapshots verified)\n", args[0], result["snapshot_count"])
			} else {
				fmt.Printf("✗ Snapshot chain broken for agent %s: %v\n", args[0], result["problems"])
			}
			return nil
		},
	}

	var exportOut string
	snapshotExportCmd := &cobra.Command{
		Use:   "export [agent-id]",
		Short: "Export an agent's ordered snapshot chain to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshotExport(port, args[0], exportOut)
		},
	}
	snapshotExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output file (default: <agent-id>-snapshots.json)")

	snapshotCmd.AddCommand(snapshotListCmd, snapshotVerifyCmd, snapshotExportCmd)

	// --- policy ---
	policyCmd := &cobra.Command{
		Use:   "policy",
		Short: "Policy management commands",
	}

	policyListCmd := &cobra.Command{
		Use:   "list",
		Short: "Show all installed policies with status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicyList(port)
		},
	}

	policyStatsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Engine evaluation counters and violation summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/policies/stats", p))
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			var result map[string]interface{}
			_ = decodeJSON(resp, &result)
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	policyReloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Hot-reload the operator rules file without restart",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/policies/reload", p), "application/json", nil)
			if err != nil {
				return fmt.Errorf("failed to connect to IntentGuard: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode == 200 {
				fmt.Println("✓ Policies reloaded")
			} else {
				fmt.Printf("✗ Reload failed (HTTP %d)\n", resp.StatusCode)
			}
			return nil
		},
	}

	policyCmd.AddCommand(policyListCmd, policyStatsCmd, policyReloadCmd)

	// --- workflow ---
	workflowCmd := &cobra.Command{
		Use:   "workflow",
		Short: "Workflow commands",
	}

	workflowListCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowList(port)
		},
	}

	var workflowParams string
	workflowRunCmd := &cobra.Command{
		Use:   "run [workflow-id]",
		Short: "Execute a registered workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowRun(port, args[0], workflowParams)
		},
	}
	workflowRunCmd.Flags().StringVar(&workflowParams, "params", "{}", "Workflow parameters as JSON")

	workflowCmd.AddCommand(workflowListCmd, workflowRunCmd)

	// --- audit ---
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Audit chain commands",
	}

	auditVerifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit hash chain end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolvePort(port)
			resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/audit/verify", p))
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			var result map[string]interface{}
			if err := decodeJSON(resp, &result); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			if valid, _ := result["valid"].(bool); valid {
				fmt.Printf("✓ Audit chain intact (%v entries verified)\n", result["entries"])
			} else {
				fmt.Printf("✗ Audit chain broken: %v\n", result["issues"])
			}
			return nil
		},
	}

	auditCmd.AddCommand(auditVerifyCmd)

	// --- mock ---
	mockCmd := &cobra.Command{
		Use:   "mock",
		Short: "Send mock requests through the gateway for testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMock(port)
		},
	}

	rootCmd.AddCommand(startCmd, initCmd, statusCmd, versionCmd, requestCmd,
		agentCmd, snapshotCmd, policyCmd, workflowCmd, auditCmd, mockCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runStart(configFile string, portOverride int, devMode bool) error {
	loader := config.NewLoader()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := loader.Load(configFile); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg := loader.Get()
	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}
	if devMode {
		cfg.Server.CORS = true
		cfg.Server.LogLevel = "debug"
	}

	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	rt, err := runtime.New(cfg, logger)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println("  ╔══════════════════════════════════════════╗")
	fmt.Println("  ║          IntentGuard v" + version + "               ║")
	fmt.Println("  ║   Guardrails for multi-agent workflows   ║")
	fmt.Println("  ╚══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  → HTTP:      http://localhost:%d\n", cfg.Server.Port)
	if cfg.Server.Dashboard {
		fmt.Printf("  → Dashboard: http://localhost:%d/dashboard\n", cfg.Server.Port)
	}
	fmt.Printf("  → API:       http://localhost:%d/api\n", cfg.Server.Port)
	fmt.Printf("  → Gateway:   http://localhost:%d/v1/requests\n", cfg.Server.Port)
	fmt.Printf("  → Storage:   %s (%s)\n", cfg.Storage.Driver, cfg.Storage.Path)
	fmt.Printf("  → Snapshots: %s\n", cfg.Storage.SnapshotsDir)
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		if err := rt.Shutdown(shutCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("starting HTTP server", "port", cfg.Server.Port)
	return rt.Start()
}

func runInit() error {
	configPath := "intentguard.yaml"
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("  ⚠ %s already exists (skipping)\n", configPath)
	} else {
		if err := config.GenerateDefault(configPath); err != nil {
			return err
		}
		fmt.Printf("  ✓ Generated %s\n", configPath)
	}

	if err := os.MkdirAll("snapshots", 0755); err != nil {
		return fmt.Errorf("failed to create snapshots/: %w", err)
	}
	fmt.Println("  ✓ Created snapshots/")

	fmt.Println()
	fmt.Println("  Next steps:")
	fmt.Println("    intentguard start                      # Start the gateway")
	fmt.Println("    intentguard status                     # Fleet and risk overview")
	fmt.Println("    intentguard mock                       # Send sample traffic")
	return nil
}

func runStatus(port int) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/stats", p))
	if err != nil {
		fmt.Printf("IntentGuard is not running on port %d\n", p)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	var stats map[string]interface{}
	if err := decodeJSON(resp, &stats); err != nil {
		return err
	}

	fmt.Println("IntentGuard Status")
	fmt.Println("──────────────────")
	if system, ok := stats["system"].(map[string]interface{}); ok {
		fmt.Printf("  %-20s %v\n", "requests:", system["request_count"])
		if agents, ok := system["agents"].([]interface{}); ok {
			fmt.Printf("  %-20s %d\n", "agents:", len(agents))
			for _, a := range agents {
				m := a.(map[string]interface{})
				fmt.Printf("    %-18s %-10v risk=%.2f\n", str(m["agent_id"]), m["status"], num(m["risk_score"]))
			}
		}
	}
	if v, ok := stats["pending_approvals"]; ok {
		fmt.Printf("  %-20s %v\n", "pending approvals:", v)
	}
	if audit, ok := stats["audit"].(map[string]interface{}); ok {
		fmt.Printf("  %-20s %v\n", "audit entries:", audit["total_entries"])
	}
	return nil
}

func runRequest(port int, action, payloadJSON, contextJSON string) error {
	var payload, reqContext map[string]interface{}
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return fmt.Errorf("invalid --payload JSON: %w", err)
	}
	if err := json.Unmarshal([]byte(contextJSON), &reqContext); err != nil {
		return fmt.Errorf("invalid --context JSON: %w", err)
	}

	body, _ := json.Marshal(map[string]interface{}{
		"action":  action,
		"payload": payload,
		"context": reqContext,
	})
	p := resolvePort(port)
	resp, err := http.Post(fmt.Sprintf("http://localhost:%d/v1/requests", p), "application/json", strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("failed to connect (is IntentGuard running?): %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]interface{}
	if err := decodeJSON(resp, &result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if success, _ := result["success"].(bool); success {
		fmt.Printf("✓ %s → %v (risk %.2f %v)\n", action, result["routed_to"], num(result["risk_score"]), result["risk_level"])
	} else {
		fmt.Printf("✗ %s blocked: %v\n", action, result["error"])
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func postLifecycle(port int, agentID, verb, reason string) error {
	p := resolvePort(port)
	body := "{}"
	if reason != "" {
		b, _ := json.Marshal(map[string]string{"reason": reason, "by": "cli"})
		body = string(b)
	}
	resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/agents/%s/%s", p, agentID, verb), "application/json", strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]interface{}
	_ = decodeJSON(resp, &result)
	if resp.StatusCode != 200 {
		fmt.Printf("✗ %s %s failed: %v\n", verb, agentID, result["error"])
		return nil
	}
	fmt.Printf("✓ Agent %s: %v\n", agentID, result["status"])
	if snap, ok := result["snapshot_id"]; ok {
		fmt.Printf("  Snapshot: %v\n", snap)
	}
	return nil
}

func runAgentList(port int) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/agents", p))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]interface{}
	_ = decodeJSON(resp, &result)

	agents, ok := result["agents"].([]interface{})
	if !ok || len(agents) == 0 {
		fmt.Println("No agents registered.")
		return nil
	}

	fmt.Printf("%-22s %-14s %-12s %-8s %-8s %s\n", "ID", "TYPE", "STATUS", "RISK", "BLOCKED", "ACTIONS")
	fmt.Println(strings.Repeat("─", 80))
	for _, a := range agents {
		m := a.(map[string]interface{})
		fmt.Printf("%-22v %-14v %-12v %-8.2f %-8v %v\n",
			m["agent_id"], m["agent_type"], m["status"], num(m["risk_score"]), m["blocked_count"], m["action_count"])
	}
	return nil
}

func runSnapshotList(port int, agentID string) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/snapshots?agent_id=%s", p, agentID))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]interface{}
	_ = decodeJSON(resp, &result)

	snapshots, ok := result["snapshots"].([]interface{})
	if !ok || len(snapshots) == 0 {
		fmt.Printf("No snapshots recorded for agent %s.\n", agentID)
		return nil
	}

	fmt.Printf("%-26s %-22s %-10s %s\n", "ID", "TRIGGER", "RISK", "HASH")
	fmt.Println(strings.Repeat("─", 86))
	for _, s := range snapshots {
		m := s.(map[string]interface{})
		fmt.Printf("%-26v %-22v %-10.3f %v\n",
			m["snapshot_id"], truncate(str(m["trigger"]), 22), num(m["risk_score"]), truncate(str(m["content_hash"]), 16))
	}
	return nil
}

func runSnapshotExport(port int, agentID, out string) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/snapshots/%s/export", p, agentID))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != 200 {
		var result map[string]interface{}
		_ = decodeJSON(resp, &result)
		fmt.Printf("✗ Export failed: %v\n", result["error"])
		return nil
	}

	if out == "" {
		out = agentID + "-snapshots.json"
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.ReadFrom(resp.Body); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	fmt.Printf("✓ Exported snapshot chain to %s\n", out)
	return nil
}

func runPolicyList(port int) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/policies", p))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]interface{}
	_ = decodeJSON(resp, &result)
	policies, _ := result["policies"].([]interface{})
	if len(policies) == 0 {
		fmt.Println("No policies installed.")
		return nil
	}

	fmt.Printf("%-12s %-14s %-10s %-9s %s\n", "ID", "CATEGORY", "SEVERITY", "ENABLED", "NAME")
	fmt.Println(strings.Repeat("─", 80))
	for _, pol := range policies {
		m := pol.(map[string]interface{})
		fmt.Printf("%-12v %-14v %-10v %-9v %v\n",
			m["policy_id"], m["category"], m["severity"], m["enabled"], truncate(str(m["name"]), 34))
	}
	return nil
}

func runWorkflowList(port int) error {
	p := resolvePort(port)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/workflows", p))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]interface{}
	_ = decodeJSON(resp, &result)
	workflows, _ := result["workflows"].([]interface{})
	if len(workflows) == 0 {
		fmt.Println("No workflows registered.")
		return nil
	}

	fmt.Printf("%-22s %-8s %-10s %s\n", "ID", "STEPS", "PARALLEL", "NAME")
	fmt.Println(strings.Repeat("─", 70))
	for _, w := range workflows {
		m := w.(map[string]interface{})
		fmt.Printf("%-22v %-8v %-10v %v\n", m["workflow_id"], m["steps"], m["parallel"], m["name"])
	}
	return nil
}

func runWorkflowRun(port int, workflowID, paramsJSON string) error {
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return fmt.Errorf("invalid --params JSON: %w", err)
	}

	body, _ := json.Marshal(map[string]interface{}{"params": params})
	p := resolvePort(port)
	resp, err := http.Post(fmt.Sprintf("http://localhost:%d/v1/workflows/%s/run", p, workflowID), "application/json", strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]interface{}
	if err := decodeJSON(resp, &result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.StatusCode != 200 {
		fmt.Printf("✗ Workflow failed to start: %v\n", result["error"])
		return nil
	}

	if status, _ := result["status"].(string); status == "completed" {
		fmt.Printf("✓ Workflow %s completed in %.2fs\n", workflowID, num(result["duration_seconds"]))
	} else {
		fmt.Printf("✗ Workflow %s %v (%v/%v steps completed)\n",
			workflowID, result["status"], result["completed_steps"], result["total_steps"])
	}
	if steps, ok := result["steps"].([]interface{}); ok {
		for _, s := range steps {
			m := s.(map[string]interface{})
			mark := "✓"
			if status, _ := m["status"].(string); status != "completed" {
				mark = "✗"
			}
			fmt.Printf("  %s %v [%v] → %v\n", mark, m["step_id"], m["action"], m["status"])
		}
	}
	return nil
}

func runMock(port int) error {
	p := resolvePort(port)
	fmt.Printf("Sending mock requests to localhost:%d...\n\n", p)

	client := &http.Client{Timeout: 10 * time.Second}

	requests := []map[string]interface{}{
		{"action": "approve_expense", "payload": map[string]interface{}{"amount": 150, "has_receipt": true, "category": "travel"}},
		{"action": "approve_expense", "payload": map[string]interface{}{"amount": 250}},
		{"action": "send_email", "payload": map[string]interface{}{"to": "partner@external.com", "subject": "notes", "body": "ssn 123-45-6789"}},
		{"action": "generate_offer", "payload": map[string]interface{}{"level": "L3", "salary": 200000, "candidate": "mock"}},
		{"action": "provision_access", "payload": map[string]interface{}{"user": "mock-user", "system": "crm"}},
	}

	for _, req := range requests {
		body, _ := json.Marshal(req)
		resp, err := client.Post(fmt.Sprintf("http://localhost:%d/v1/requests", p), "application/json", strings.NewReader(string(body)))
		if err != nil {
			return fmt.Errorf("failed to connect (is IntentGuard running?): %w", err)
		}
		var result map[string]interface{}
		_ = decodeJSON(resp, &result)
		_ = resp.Body.Close()

		mark := "✓"
		if ok, _ := result["success"].(bool); !ok {
			mark = "✗"
		}
		fmt.Printf("  %s %-18v → %-18v risk=%.2f %v\n",
			mark, req["action"], str(result["routed_to"]), num(result["risk_score"]), str(result["error"]))
	}

	fmt.Println("\n  ✓ Mock traffic complete. Check 'intentguard status' or the dashboard.")
	return nil
}

// --- Shared Helpers ---

func findConfigFile() string {
	candidates := []string{
		"intentguard.yaml",
		"intentguard.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "intentguard", "config.yaml"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func resolvePort(port int) int {
	if port == 0 {
		return 7180
	}
	return port
}

func decodeJSON(resp *http.Response, v interface{}) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-2] + ".."
}

func str(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func num(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
