// Package runtime assembles the IntentGuard service graph from
// configuration: compliance engine, drift detection, forensic and audit
// storage, approvals, alerting, orchestration, the collaboration hub,
// and the management API. The cmd layer owns flags and signals; this
// package owns construction order and shutdown order.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/intentguard/intentguard/internal/agent"
	"github.com/intentguard/intentguard/internal/alert"
	"github.com/intentguard/intentguard/internal/api"
	"github.com/intentguard/intentguard/internal/approval"
	"github.com/intentguard/intentguard/internal/audit"
	"github.com/intentguard/intentguard/internal/capability"
	"github.com/intentguard/intentguard/internal/compliance"
	"github.com/intentguard/intentguard/internal/compliance/catalog"
	"github.com/intentguard/intentguard/internal/config"
	"github.com/intentguard/intentguard/internal/embedding"
	"github.com/intentguard/intentguard/internal/hub"
	"github.com/intentguard/intentguard/internal/iap"
	"github.com/intentguard/intentguard/internal/metrics"
	"github.com/intentguard/intentguard/internal/oracle"
	"github.com/intentguard/intentguard/internal/orchestrator"
	"github.com/intentguard/intentguard/internal/tirs"
	"github.com/intentguard/intentguard/internal/tirs/drift"
	"github.com/intentguard/intentguard/internal/tirs/forensic"
)

// Runtime is the assembled system. Fields are exported for the API
// layer, the CLI, and tests; construction goes through New.
type Runtime struct {
	Registry   *capability.Registry
	Compliance *compliance.Engine
	Catalog    *catalog.Catalog
	Risk       *tirs.Service
	Chain      *audit.Chain
	Alerts     *alert.Manager
	Approvals  *approval.Queue
	Oracle     oracle.Reasoner
	Hub        *hub.Hub
	Metrics    *metrics.Metrics
	Gateway    *orchestrator.Gateway
	Server     *api.Server

	cfg    *config.Config
	logger *slog.Logger

	auditStore   audit.Store
	evaluator    *compliance.CELEvaluator
	rulesWatcher *fsnotify.Watcher
	closeOnce    sync.Once
}

// New builds the full service graph. Construction is fail-fast: a bad
// rules file or an unopenable store aborts startup rather than running
// degraded.
func New(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	rt := &Runtime{cfg: cfg, logger: logger}

	registry, err := capability.NewBuiltinRegistry()
	if err != nil {
		return nil, fmt.Errorf("build capability registry: %w", err)
	}
	rt.Registry = registry

	rt.Compliance = compliance.NewEngine(registry, logger)
	if cfg.Compliance.Catalog {
		cat, err := catalog.Install(rt.Compliance, catalog.Options{
			InternalDomain: cfg.Compliance.DefaultInternalDomain,
		})
		if err != nil {
			return nil, fmt.Errorf("install policy catalog: %w", err)
		}
		rt.Catalog = cat
	}
	if cfg.Compliance.RulesFile != "" {
		rt.evaluator, err = compliance.NewCELEvaluator(logger)
		if err != nil {
			return nil, fmt.Errorf("build rule evaluator: %w", err)
		}
		if err := rt.loadRules(); err != nil {
			return nil, err
		}
		if err := rt.watchRules(); err != nil {
			logger.Warn("rules file hot reload unavailable", "error", err)
		}
	}

	embedder := embedding.NewHashingOracle(cfg.TIRS.EmbeddingDim)
	detector, err := drift.NewDetector(cfg.TIRS.Detector, embedder, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("build drift detector: %w", err)
	}

	snapshotsDir := cfg.Storage.SnapshotsDir
	if snapshotsDir == "" {
		snapshotsDir = "./snapshots"
	}
	forensics, err := forensic.NewStore(snapshotsDir, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	switch cfg.Storage.Driver {
	case "memory":
		rt.auditStore = audit.NewMemoryStore()
	case "", "sqlite":
		store, err := audit.NewSQLiteStore(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		rt.auditStore = store
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	rt.Chain, err = audit.NewChain(rt.auditStore, nil, logger)
	if err != nil {
		rt.auditStore.Close()
		return nil, fmt.Errorf("open audit chain: %w", err)
	}

	rt.Alerts = alert.NewManager(cfg.Alerts, logger)
	rt.Risk = tirs.NewService(detector, forensics, rt.Chain, rt.Alerts, logger)
	rt.Approvals = approval.NewQueue(cfg.Approvals, rt.Chain, rt.Alerts, logger)

	if cfg.Metrics.Enabled {
		rt.Metrics = metrics.New()
		rt.Risk.SetMetrics(rt.Metrics)
		rt.Approvals.SetMetrics(rt.Metrics)
	}

	if cfg.Oracle.Mode == "http" && cfg.Oracle.Endpoint != "" {
		rt.Oracle = oracle.NewHTTPReasoner(oracle.HTTPConfig{
			Endpoint: cfg.Oracle.Endpoint,
			APIKey:   cfg.Oracle.APIKey,
			Model:    cfg.Oracle.Model,
			Timeout:  cfg.Oracle.Timeout,
		}, logger)
	} else {
		rt.Oracle = oracle.NewHeuristic(logger)
	}

	verifier := iap.NewClient(iap.Config{
		Enabled:  cfg.IAP.Enabled,
		Endpoint: cfg.IAP.Endpoint,
		APIKey:   cfg.IAP.APIKey,
		Timeout:  cfg.IAP.Timeout,
	}, logger)

	rt.Hub = hub.New(cfg.Hub, nil, logger)

	rt.Gateway = orchestrator.NewGateway(cfg.Orchestrator, orchestrator.Deps{
		Registry:   registry,
		Compliance: rt.Compliance,
		Risk:       rt.Risk,
		Chain:      rt.Chain,
		Approvals:  rt.Approvals,
		IAP:        verifier,
		Metrics:    rt.Metrics,
		Logger:     logger,
	})
	if err := orchestrator.RegisterTemplates(rt.Gateway.Engine()); err != nil {
		rt.auditStore.Close()
		return nil, fmt.Errorf("register workflow templates: %w", err)
	}

	if err := rt.registerAgents(); err != nil {
		rt.auditStore.Close()
		return nil, err
	}

	var reload func() error
	if cfg.Compliance.RulesFile != "" {
		reload = rt.loadRules
	}
	rt.Server = api.NewServer(cfg.Server, api.Deps{
		Gateway:     rt.Gateway,
		Risk:        rt.Risk,
		Compliance:  rt.Compliance,
		Chain:       rt.Chain,
		Approvals:   rt.Approvals,
		Hub:         rt.Hub,
		Metrics:     rt.Metrics,
		ReloadRules: reload,
		Logger:      logger,
	})

	// Enforcement and approval alerts also stream to dashboard clients.
	rt.Alerts.AddSender(rt.Server.Events())

	return rt, nil
}

// registerAgents stands up the built-in department fleet and joins each
// agent to the collaboration hub.
func (rt *Runtime) registerAgents() error {
	deps := agent.Deps{
		Compliance: rt.Compliance,
		Risk:       rt.Risk,
		Registry:   rt.Registry,
		Oracle:     rt.Oracle,
		Approvals:  rt.Approvals,
		Logger:     rt.logger,
	}
	fleet := []agent.Agent{
		agent.NewFinance(deps),
		agent.NewHR(deps),
		agent.NewIT(deps),
		agent.NewLegal(deps),
		agent.NewOps(deps),
		agent.NewProcurement(deps),
	}
	for _, a := range fleet {
		if err := rt.Gateway.RegisterAgent(a); err != nil {
			return fmt.Errorf("register agent %s: %w", a.AgentID(), err)
		}
		if err := rt.Hub.Register(a.AgentID()); err != nil {
			return fmt.Errorf("register agent %s on hub: %w", a.AgentID(), err)
		}
	}
	return nil
}

// loadRules reads the operator rules file and swaps the custom policy
// category atomically. Invalid files leave the installed set untouched.
func (rt *Runtime) loadRules() error {
	path := rt.cfg.Compliance.RulesFile
	policies, err := compliance.LoadRulesFile(path, rt.evaluator)
	if err != nil {
		return fmt.Errorf("load rules file: %w", err)
	}
	if err := rt.Compliance.ReplaceCategory(compliance.CategoryCustom, policies); err != nil {
		return fmt.Errorf("install operator rules: %w", err)
	}
	rt.logger.Info("operator rules loaded", "file", path, "policies", len(policies))
	return nil
}

// watchRules hot-reloads the rules file on change. Reload failures are
// logged and keep the previous policy set.
func (rt *Runtime) watchRules() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := w.Add(rt.cfg.Compliance.RulesFile); err != nil {
		w.Close()
		return fmt.Errorf("watch rules file: %w", err)
	}
	rt.rulesWatcher = w

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					if err := rt.loadRules(); err != nil {
						rt.logger.Error("rules hot reload failed", "error", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				rt.logger.Error("rules watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Addr is the listen address derived from the configured port.
func (rt *Runtime) Addr() string {
	return api.APIAddr(rt.cfg.Server.Port)
}

// Start serves the management API and blocks until the server stops.
// A graceful shutdown is not an error.
func (rt *Runtime) Start() error {
	if err := rt.Server.Start(rt.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the API server, then closes the subsystems in reverse
// dependency order: pending approvals resolve by their timeout effect
// before the audit store goes away. Safe to call more than once.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	var first error
	rt.closeOnce.Do(func() {
		if err := rt.Server.Shutdown(ctx); err != nil {
			first = err
		}
		rt.Approvals.Close()
		if rt.rulesWatcher != nil {
			rt.rulesWatcher.Close()
		}
		if err := rt.auditStore.Close(); err != nil && first == nil {
			first = err
		}
	})
	return first
}
