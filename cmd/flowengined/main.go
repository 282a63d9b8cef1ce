// Command flowengined assembles one running instance of the engine: a
// StoragePort (backend selected by config), the PluginRegistry seeded
// with the reference node-kind pack, the EventsBus, RecoveryCoordinator,
// RunScheduler, and RpcTransport, wired together the way the teacher's
// examples/*/main.go processes assemble a graph.Engine before serving
// it — except here the wiring is a long-running daemon, not a one-shot
// demo.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mhyatt000/flowcore/emit"
	"github.com/mhyatt000/flowcore/engine"
	"github.com/mhyatt000/flowcore/internal/config"
	"github.com/mhyatt000/flowcore/internal/logging"
	"github.com/mhyatt000/flowcore/plugins/httpreq"
	"github.com/mhyatt000/flowcore/plugins/llm"
	"github.com/mhyatt000/flowcore/plugins/testkind"
	"github.com/mhyatt000/flowcore/plugins/vars"
	"github.com/mhyatt000/flowcore/rpc"
	"github.com/mhyatt000/flowcore/store"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	addr := flag.String("addr", ":8080", "address the RPC transport listens on")
	metricsAddr := flag.String("metrics-addr", ":9090", "address the Prometheus /metrics endpoint listens on")
	flag.Parse()

	if err := run(*configPath, *addr, *metricsAddr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath, addr, metricsAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logging.New(cfg.Logging)

	port, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = port.Close() }()

	registry := engine.NewPluginRegistry()
	if err := registerPlugins(registry); err != nil {
		return fmt.Errorf("register plugins: %w", err)
	}

	registerer := prometheus.NewRegistry()
	metrics := engine.NewMetrics(registerer)

	bus := emit.NewBus(port.Events())
	breakpoints := engine.NewBreakpointRegistry()
	walker := engine.NewWalker(cfg.Engine, port, bus, registry, breakpoints, logger).WithMetrics(metrics)

	ownerID := uuid.NewString()
	lease := engine.NewLeaseManager(cfg.Engine, port.Queue(), logger).WithMetrics(metrics)
	sched := engine.NewScheduler(cfg.Engine, port, walker, lease, ownerID, logger).WithMetrics(metrics)
	controller := engine.NewController(cfg.Engine, port, bus, walker, sched)
	debug := engine.NewDebugController(breakpoints, port, controller)

	transport := rpc.New(controller, debug, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recovery := engine.NewRecoveryCoordinator(port, bus, logger)
	counts, err := recovery.Recover(ctx, ownerID, cfg.Engine.LeaseTTLMs)
	if err != nil {
		return fmt.Errorf("startup recovery sweep: %w", err)
	}
	logger.WithFields(map[string]any{
		"requeued_running": counts.RequeuedRunning,
		"adopted_paused":   counts.AdoptedPaused,
		"cleaned_terminal": counts.CleanedTerminal,
	}).Info("recovery complete, starting scheduler")

	sched.Start(ctx)
	defer sched.Stop()
	go lease.ReclaimLoop(ctx)

	metricsServer := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(registerer, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithField("error", err).Error("metrics server stopped")
		}
	}()

	rpcServer := &http.Server{Addr: addr, Handler: transport.Router()}
	go func() {
		if err := rpcServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithField("error", err).Error("rpc server stopped")
		}
	}()

	logger.WithFields(map[string]any{"addr": addr, "metrics_addr": metricsAddr, "owner_id": ownerID}).Info("flowengined started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = rpcServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}

func openStorage(cfg config.StorageConfig) (store.Port, error) {
	switch cfg.Driver {
	case "sqlite":
		return store.NewSQLitePort(cfg.DSN)
	case "mysql":
		return store.NewMySQLPort(cfg.DSN)
	default:
		return store.NewMemPort(), nil
	}
}

// registerPlugins seeds the PluginRegistry with the reference node-kind
// pack: enough concrete kinds to exercise every testable property and
// control-flow path, not a production node catalog.
func registerPlugins(registry *engine.PluginRegistry) error {
	if err := registry.Register(testkind.Definition()); err != nil {
		return err
	}
	if err := registry.Register(vars.Definition()); err != nil {
		return err
	}
	if err := registry.Register(httpreq.New(30 * time.Second).Definition()); err != nil {
		return err
	}

	providers := map[string]llm.ChatModel{
		"anthropic": llm.NewAnthropic(os.Getenv("ANTHROPIC_API_KEY"), ""),
		"openai":    llm.NewOpenAI(os.Getenv("OPENAI_API_KEY"), ""),
		"google":    llm.NewGoogle(os.Getenv("GOOGLE_API_KEY"), ""),
	}
	llmPlugin := llm.New(providers, "anthropic")
	if err := registry.Register(llmPlugin.Definition()); err != nil {
		return err
	}
	return nil
}
