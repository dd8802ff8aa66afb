package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sigflow/sigflow/config"
	"github.com/sigflow/sigflow/pkg/api"
	"github.com/sigflow/sigflow/pkg/logger"
	"github.com/sigflow/sigflow/pkg/metrics"
	"github.com/sigflow/sigflow/pkg/sigslot"
	"github.com/sigflow/sigflow/pkg/taskq"
	"github.com/sigflow/sigflow/pkg/telemetry/tracing"
	"github.com/sigflow/sigflow/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")

	// CLI overrides
	logLevel  = flag.String("log-level", "", "Override log level")
	debugMode = flag.Bool("debug", false, "Enable debug mode")
)

// heartbeat is the payload of the daemon's liveness signal.
type heartbeat struct {
	Seq int64
	At  time.Time
}

func main() {
	flag.Parse()

	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, buildOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("starting sigflow",
		"version", version.Version,
		"git_commit", version.GitCommit,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("configuration loaded", "config", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Tracing
	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error("tracing shutdown failed", "error", err)
		}
	}()

	// Metrics
	metricsManager := metrics.NewManager(metrics.Config{
		Enabled:             cfg.Metrics.Enabled,
		Port:                cfg.Metrics.Port,
		Path:                cfg.Metrics.Path,
		TaskWaitBuckets:     metrics.DefaultConfig().TaskWaitBuckets,
		TaskDurationBuckets: metrics.DefaultConfig().TaskDurationBuckets,
	})
	// Recorders are installed unconditionally: recording no-ops while
	// metrics are disabled and picks up a hot-reloaded enable without
	// rewiring. The server itself only starts when enabled at boot.
	sigslot.SetMetricsRecorder(metricsManager)
	taskq.SetMetricsRecorder(metricsManager)
	if metricsManager.Enabled() {
		go func() {
			log.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := metricsManager.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	// Task queues
	registry := taskq.NewRegistry()
	for _, qc := range cfg.Queues {
		var opts []taskq.Option
		if qc.RateLimit > 0 {
			opts = append(opts, taskq.WithRateLimit(qc.RateLimit))
		}
		if _, err := registry.CreateQueue(qc.Name, opts...); err != nil {
			log.Error("failed to create task queue", "queue", qc.Name, "error", err)
			os.Exit(1)
		}
		log.Info("created task queue", "queue", qc.Name, "rate_limit", qc.RateLimit)
	}

	// Introspection API
	var wg sync.WaitGroup
	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg.API, registry, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(); err != nil {
				log.Error("api server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
			defer cancelShutdown()
			if err := apiServer.Shutdown(shutdownCtx); err != nil {
				log.Error("api server shutdown failed", "error", err)
			}
		}()
	}

	// Config hot-reload
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, config.NewLoader())
		if err != nil {
			log.Warn("config watcher unavailable", "error", err)
		} else {
			current := config.ExtractHotReloadable(cfg)
			watcher.OnChange(func(updated *config.Config) {
				next := config.ExtractHotReloadable(updated)
				if !current.Changed(next) {
					return
				}
				log.Info("applying hot-reloaded configuration",
					"log_level", next.LogLevel,
					"metrics_enabled", next.MetricsEnabled,
				)
				log.SetLevel(logger.ParseLevel(next.LogLevel))
				metricsManager.SetEnabled(next.MetricsEnabled)
				if next.MetricsPort != current.MetricsPort || next.MetricsPath != current.MetricsPath {
					log.Warn("metrics port/path changes require a restart",
						"port", next.MetricsPort, "path", next.MetricsPath)
				}
				current = next
			})
			go func() {
				if err := watcher.Watch(ctx); err != nil && err != context.Canceled {
					log.Warn("config watcher stopped", "error", err)
				}
			}()
			defer watcher.Stop()
		}
	}

	// Heartbeat signal: emitted on the main goroutine, handled on the first
	// configured queue, keeps the liveness of the dispatch path observable.
	heartbeatSignal := sigslot.New[heartbeat]("daemon.heartbeat")
	if names := cfg.QueueNames(); len(names) > 0 {
		q, err := registry.Get(names[0])
		if err != nil {
			log.Error("failed to look up heartbeat queue", "queue", names[0], "error", err)
			os.Exit(1)
		}
		conn, err := heartbeatSignal.ConnectCtx(func(ctx context.Context, hb heartbeat) {
			log.DebugContext(ctx, "heartbeat", "seq", hb.Seq, "queue", taskq.Current(ctx).Name())
		}, sigslot.WithType(sigslot.QueuedConnection), sigslot.WithQueue(q))
		if err != nil {
			log.Error("failed to connect heartbeat slot", "error", err)
			os.Exit(1)
		}
		defer conn.Disconnect()
	}

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	log.Info("sigflow started")

	var seq int64
	for {
		select {
		case <-ticker.C:
			seq++
			if err := heartbeatSignal.Emit(ctx, heartbeat{Seq: seq, At: time.Now()}); err != nil {
				log.Warn("heartbeat emission failed", "error", err)
			}
		case sig := <-sigChan:
			log.Info("received shutdown signal", "signal", sig.String())
			cancel()

			closeCtx, cancelClose := context.WithTimeout(context.Background(), 10*time.Second)
			if err := registry.Close(closeCtx); err != nil {
				log.Error("queue registry shutdown failed", "error", err)
			}
			cancelClose()

			wg.Wait()
			log.Info("sigflow stopped")
			return
		}
	}
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *debugMode {
		overrides["app.debug"] = true
	}
	return overrides
}

func printVersion() {
	fmt.Printf("sigflow %s\n", version.Version)
	fmt.Printf("  build time: %s\n", version.BuildTime)
	fmt.Printf("  git commit: %s\n", version.GitCommit)
	fmt.Printf("  go version: %s\n", version.GoVersion)
}
