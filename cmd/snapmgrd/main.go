// Command snapmgrd is the standalone embedded-topology daemon: it wires
// an in-memory ClusterStateBus, a local-disk RepositoryDriver, and the
// SnapshotLifecycle engine into one process, then exposes them over the
// admin HTTP API for cmd/snapmgrctl, for local testing and demos of the
// engine outside a real multi-node cluster (section 1, "embedded
// (single-process) topology").
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/zapr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ctrllog "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager/signals"

	"github.com/jvs-project/snapmgr/internal/adminapi"
	"github.com/jvs-project/snapmgr/internal/audit"
	"github.com/jvs-project/snapmgr/internal/clusterbus/memory"
	"github.com/jvs-project/snapmgr/internal/engine"
	"github.com/jvs-project/snapmgr/internal/lifecycle"
	"github.com/jvs-project/snapmgr/internal/listener"
	"github.com/jvs-project/snapmgr/internal/ongoingops"
	"github.com/jvs-project/snapmgr/internal/reactive"
	"github.com/jvs-project/snapmgr/internal/repoloop"
	repolocal "github.com/jvs-project/snapmgr/internal/repository/local"
	"github.com/jvs-project/snapmgr/pkg/config"
	"github.com/jvs-project/snapmgr/pkg/logging"
	"github.com/jvs-project/snapmgr/pkg/metrics"
	"github.com/jvs-project/snapmgr/pkg/model"
	"github.com/jvs-project/snapmgr/pkg/webhook"
)

// periodicRedriveInterval guards against a missed Kick (e.g. a reactive
// applier invocation racing a cluster-manager handoff) by re-checking
// every repository on a timer, per section 4.3's note that RepoLoop must
// eventually make progress even if a wakeup is dropped.
const periodicRedriveInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", "snapmgr.yaml", "path to daemon configuration")
	nodeID := flag.String("node-id", "local-node", "this node's identifier")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.ErrorErr("load config", err)
		os.Exit(1)
	}
	if cfg.Repository.Name == "" || cfg.Repository.Root == "" {
		logging.Error("repository.name and repository.root are required in config")
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.Level(cfg.Logging.Level))
	logging.SetGlobal(logger)
	ctrllog.SetLogger(zapr.NewLogger(logger.Zap()))

	metrics.Init()
	registry := metrics.Default()

	ctx := signals.SetupSignalHandler()

	cloneEngine, err := engine.DetectEngine(cfg.Repository.Root)
	if err != nil {
		logger.ErrorErr("detect clone engine", err)
		os.Exit(1)
	}
	logger.Info("detected clone engine", map[string]any{"engine": string(cloneEngine.Name())})

	driver, err := repolocal.New(cfg.Repository.Root, cloneEngine, cfg.RepositoryWorkers)
	if err != nil {
		logger.ErrorErr("create repository driver", err)
		os.Exit(1)
	}

	bus := memory.New(model.NewClusterState())
	bus.SetClusterManager(true)
	defer bus.Close()

	ongoing := ongoingops.New()
	listeners := listener.NewRegistry()
	loop := repoloop.New()
	maxOps := config.MaxConcurrentOperationsSetting(cfg.MaxConcurrentOps)

	auditAppender := audit.NewFileAppender(filepath.Join(cfg.Repository.Root, "audit.jsonl"))
	webhookClient := webhook.NewClient(&cfg.Webhook)
	defer webhookClient.Close()

	engineLC := lifecycle.New(bus, driver, ongoing, listeners, loop, *nodeID, maxOps.Get).
		WithObservability(registry, auditAppender, webhookClient)

	bus.AddApplier(reactive.NewApplier(reactive.Deps{
		Bus:       bus,
		Ongoing:   ongoing,
		Listeners: listeners,
		RepoLoop:  loop,
		Kick:      engineLC.Kick,
	}, bus.IsClusterManager))

	repoName := cfg.Repository.Name
	go loop.RunPeriodic(ctx, periodicRedriveInterval, func() []string { return []string{repoName} }, engineLC.Step)

	mux := http.NewServeMux()
	mux.Handle("/", adminapi.NewHandler(engineLC, bus, driver, maxOps))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.AdminAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("snapmgrd started", map[string]any{
		"repository":                repoName,
		"root":                      cfg.Repository.Root,
		"admin_addr":                cfg.AdminAddr,
		"max_concurrent_operations": maxOps.Get(),
	})

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.ErrorErr("admin server exited", err)
		os.Exit(1)
	}

	logger.Info("shutting down")
}
