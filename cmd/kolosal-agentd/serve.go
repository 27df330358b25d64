package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/KolosalAI/kolosal-agent/agent/functions"
	"github.com/KolosalAI/kolosal-agent/agent/persistence"
	"github.com/KolosalAI/kolosal-agent/api"
	"github.com/KolosalAI/kolosal-agent/bus"
	"github.com/KolosalAI/kolosal-agent/config"
	"github.com/KolosalAI/kolosal-agent/inference"
	"github.com/KolosalAI/kolosal-agent/internal/metrics"
	"github.com/KolosalAI/kolosal-agent/jobs"
	"github.com/KolosalAI/kolosal-agent/llm/embedding"
	"github.com/KolosalAI/kolosal-agent/runtime"
)

const metricsNamespace = "kolosal"

// serveFlags are the command-line overrides; they beat both the environment
// and the config file.
type serveFlags struct {
	configPath string
	host       string
	port       int
	logLevel   string
}

func parseServeFlags(args []string) serveFlags {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	f := serveFlags{}
	fs.StringVar(&f.configPath, "config", "", "Path to config file")
	fs.StringVar(&f.host, "host", "", "Management API bind host")
	fs.IntVar(&f.port, "port", 0, "Management API bind port")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.Parse(args)
	if f.configPath == "" {
		f.configPath = os.Getenv("KOLOSAL_CONFIG")
	}
	return f
}

func runServe(args []string) int {
	flags := parseServeFlags(args)

	bootLogger := zap.NewNop()
	loader := config.NewLoader(bootLogger)
	if flags.configPath != "" {
		loader = loader.WithPath(flags.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitStartup
	}
	if flags.host != "" {
		cfg.System.Host = flags.host
	}
	if flags.port != 0 {
		cfg.System.Port = flags.port
	}
	if flags.logLevel != "" {
		cfg.System.LogLevel = flags.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		return exitStartup
	}

	logger := initLogger(cfg.System.LogLevel)
	defer logger.Sync()

	logger.Info("starting kolosal-agentd",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	d, err := buildDaemon(cfg, flags.configPath, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return exitStartup
	}
	return d.run()
}

// daemon holds every long-lived component in shutdown order.
type daemon struct {
	cfg        *config.SystemConfig
	configPath string
	logger     *zap.Logger

	router     *bus.Router
	backend    *inference.Backend
	archiver   jobs.Archiver
	snapshots  persistence.SnapshotStore
	manager    *runtime.Manager
	supervisor *runtime.Supervisor
	server     *api.Server
}

func buildDaemon(cfg *config.SystemConfig, configPath string, logger *zap.Logger) (*daemon, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(metricsNamespace, registry, logger)

	router := bus.NewRouter(bus.Config{}, logger, collector)

	// The inference backend is optional; agents fall back to "not configured"
	// failures on LLM functions when absent.
	var backend *inference.Backend
	deps := functions.Deps{
		Logger:   logger,
		Embedder: embedding.NewHashProvider(0),
	}
	if len(cfg.InferenceEngines) > 0 {
		engine := cfg.InferenceEngines[0]
		if len(cfg.InferenceEngines) > 1 {
			logger.Warn("multiple inference engines configured, using the first",
				zap.Int("configured", len(cfg.InferenceEngines)))
		}
		backend = inference.NewBackend(engine, logger)
		deps.Inference = inference.NewClientForBackend(backend, 60*time.Second)
	}

	snapshots, err := buildSnapshotStore(cfg.Persistence, logger)
	if err != nil {
		return nil, err
	}

	var archiver jobs.Archiver
	if cfg.Archive.Enabled {
		archiver, err = jobs.NewSQLiteArchive(cfg.Archive.Path, logger)
		if err != nil {
			return nil, err
		}
	}

	declared := make([]functions.DeclaredConfig, 0, len(cfg.Functions))
	for _, fc := range cfg.Functions {
		declared = append(declared, functions.DeclaredConfig{
			Name:        fc.Name,
			Type:        fc.Type,
			Description: fc.Description,
			Parameters:  fc.Parameters,
		})
	}

	manager := runtime.NewManager(runtime.ManagerOptions{
		Router:         router,
		Deps:           deps,
		Declared:       declared,
		Archiver:       archiver,
		Snapshots:      snapshots,
		SnapshotOnStop: cfg.Persistence.SnapshotOnStop,
		Logger:         logger,
		Collector:      collector,
	})

	supervisor := runtime.NewSupervisor(manager, backend, router, runtime.SupervisorConfig{
		Interval:            cfg.Supervisor.Interval,
		MaxRecoveryAttempts: cfg.Supervisor.MaxRecoveryAttempts,
		RecoveryWindow:      cfg.Supervisor.RecoveryWindow,
		ActionTimeout:       cfg.Supervisor.ActionTimeout,
	}, logger)

	d := &daemon{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		router:     router,
		backend:    backend,
		archiver:   archiver,
		snapshots:  snapshots,
		manager:    manager,
		supervisor: supervisor,
	}

	handler := api.NewHandler(api.Options{
		Manager:        manager,
		Supervisor:     supervisor,
		Reload:         d.reload,
		Gatherer:       registry,
		Collector:      collector,
		Logger:         logger,
		AllowedOrigins: cfg.System.AllowedOrigins,
		RateLimitRPS:   cfg.System.RateLimitRPS,
		RequestTimeout: cfg.System.RequestTimeout,
	})
	d.server = api.NewServer(api.ServerConfig{
		Addr:            fmt.Sprintf("%s:%d", cfg.System.Host, cfg.System.Port),
		ShutdownTimeout: cfg.System.ShutdownTimeout,
	}, handler, logger)

	return d, nil
}

func buildSnapshotStore(cfg config.PersistenceSection, logger *zap.Logger) (persistence.SnapshotStore, error) {
	switch cfg.Type {
	case "", "memory":
		return persistence.NewMemoryStore(), nil
	case "redis":
		store, err := persistence.NewRedisStore(cfg.Redis)
		if err != nil {
			return nil, err
		}
		logger.Info("redis snapshot store connected",
			zap.String("host", cfg.Redis.Host), zap.Int("port", cfg.Redis.Port))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown persistence type %q", cfg.Type)
	}
}

// run brings everything up, then blocks until a signal or a fatal server
// error. Shutdown is the reverse of startup.
func (d *daemon) run() int {
	d.router.Start()

	if d.backend != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		if err := d.backend.Start(ctx); err != nil {
			// The supervisor keeps retrying within its recovery budget.
			d.logger.Warn("inference backend not healthy at startup", zap.Error(err))
		}
		cancel()
	}

	report := d.manager.CreateFromConfigs(d.cfg.Agents)
	d.logger.Info("agent population created",
		zap.Strings("started", report.Started),
		zap.Int("failed", len(report.Failed)),
	)
	for name, reason := range report.Failed {
		d.logger.Error("agent failed to start",
			zap.String("agent_name", name), zap.String("reason", reason))
	}

	d.supervisor.Start()

	if err := d.server.Start(); err != nil {
		d.logger.Error("management server failed to start", zap.Error(err))
		d.shutdown()
		return exitStartup
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		d.logger.Info("signal received, shutting down", zap.String("signal", sig.String()))
		d.shutdown()
		return exitInterrupt
	case err, ok := <-d.server.Err():
		if ok && err != nil {
			d.logger.Error("management server failed", zap.Error(err))
			d.shutdown()
			return exitRuntime
		}
		d.shutdown()
		return exitOK
	}
}

func (d *daemon) shutdown() {
	_ = d.server.Stop()
	d.supervisor.Stop()
	d.manager.StopAll()
	if d.backend != nil {
		d.backend.Stop()
	}
	d.router.Stop()
	if d.archiver != nil {
		_ = d.archiver.Close()
	}
	if d.snapshots != nil {
		_ = d.snapshots.Close()
	}
	d.logger.Info("kolosal-agentd stopped")
}

// reload re-reads configuration and replaces the agent population. An empty
// path reuses the path the daemon was started with.
func (d *daemon) reload(path string) error {
	if path == "" {
		path = d.configPath
	}
	loader := config.NewLoader(d.logger)
	if path != "" {
		loader = loader.WithPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	report := d.manager.Reload(cfg.Agents)
	d.logger.Info("configuration reloaded",
		zap.String("path", path),
		zap.Strings("started", report.Started),
		zap.Int("failed", len(report.Failed)),
	)
	d.cfg.Agents = cfg.Agents
	return nil
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info", "":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
