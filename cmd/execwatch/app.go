package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kandev/execwatch/internal/approval"
	"github.com/kandev/execwatch/internal/common/config"
	"github.com/kandev/execwatch/internal/common/constants"
	"github.com/kandev/execwatch/internal/common/logger"
	"github.com/kandev/execwatch/internal/events"
	"github.com/kandev/execwatch/internal/execution/graph"
	"github.com/kandev/execwatch/internal/execution/logs"
	"github.com/kandev/execwatch/internal/execution/normalizer"
	"github.com/kandev/execwatch/internal/execution/reconciler"
	"github.com/kandev/execwatch/internal/execution/repository"
	"github.com/kandev/execwatch/internal/execution/snapshot"
	"github.com/kandev/execwatch/internal/execution/watcher"
	"github.com/kandev/execwatch/internal/gateway/wsclient"
	"github.com/kandev/execwatch/internal/metrics"
	"github.com/kandev/execwatch/internal/monitor"
	"github.com/kandev/execwatch/internal/remote"
	"github.com/kandev/execwatch/internal/tools/mcpinvoker"
)

// app holds every long-lived component of the serve command.
type app struct {
	repo    *repository.SQLRepository
	bus     *events.ProvidedBus
	conn    *wsclient.Client
	invoker *mcpinvoker.Invoker
	engine  *approval.Engine
	monitor *monitor.Service
	watcher *watcher.Watcher

	cleanups []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.cleanups) - 1; i >= 0; i-- {
		if err := a.cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{}

	repo, repoCleanup, err := repository.Provide(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.repo = repo
	a.cleanups = append(a.cleanups, repoCleanup)

	provided, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.bus = provided
	a.cleanups = append(a.cleanups, busCleanup)

	m := metrics.Default()
	store := graph.NewStore()
	buffer := logs.NewBuffer(constants.DefaultLogBufferSize)
	rec := reconciler.New(store, buffer, m, log)

	loader, err := snapshot.NewLoader(repo, snapshot.Options{
		CacheSize:    cfg.Snapshot.CacheSize,
		HistoryLimit: cfg.Snapshot.HistoryLimit,
	}, m, log)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.invoker = mcpinvoker.New(cfg.MCP, log)
	a.cleanups = append(a.cleanups, a.invoker.Close)

	deps := approval.Dependencies{
		Graph:        rec,
		Invoker:      a.invoker,
		Persister:    repo,
		Logs:         buffer,
		Interactions: approval.NewInteractionStore(cfg.Approval.InteractionTimeoutDuration()),
	}
	monitorDeps := monitor.Dependencies{
		Store:      store,
		Reconciler: rec,
		Normalizer: normalizer.New(store, log),
		Loader:     loader,
		Repository: repo,
		Logs:       buffer,
	}

	if cfg.Orchestrator.URL != "" {
		a.conn = wsclient.New(cfg.Orchestrator.URL, log)
		a.conn.OnNotification(wsclient.BridgeActions, wsclient.NewBridge(provided.Bus, log))
		rc := remote.NewClient(a.conn, cfg.Orchestrator.RequestTimeoutDuration(), log)
		deps.Resumer = rc
		monitorDeps.Remote = rc
	} else {
		log.Warn("no orchestrator configured; resume and remote deletes are disabled")
	}

	a.engine = approval.NewEngine(deps, approval.Options{
		ToolTimeout:        cfg.Approval.ToolTimeoutDuration(),
		AutoApproveServers: cfg.Approval.AutoApproveServers,
		ApprovalIDPrefix:   cfg.Approval.OrchestratorIDPrefix,
	}, m, log)
	monitorDeps.Engine = a.engine

	a.monitor = monitor.NewService(monitorDeps, monitor.Options{HistoryLimit: cfg.Snapshot.HistoryLimit}, log)
	a.watcher = watcher.NewWatcher(provided.Bus, a.monitor.HandleEvent, log)

	log.Info("execwatch components ready",
		zap.String("db_driver", cfg.Database.Driver),
		zap.Bool("nats", provided.NATS != nil),
		zap.Int("mcp_servers", len(cfg.MCP.Servers)))
	return a, nil
}
