package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	serengine "github.com/eefei22/ser-engine"
	"github.com/eefei22/ser-engine/internal/aggregate"
	"github.com/eefei22/ser-engine/internal/api"
	"github.com/eefei22/ser-engine/internal/clock"
	"github.com/eefei22/ser-engine/internal/config"
	"github.com/eefei22/ser-engine/internal/control"
	"github.com/eefei22/ser-engine/internal/database"
	"github.com/eefei22/ser-engine/internal/ingest"
	"github.com/eefei22/ser-engine/internal/metrics"
	"github.com/eefei22/ser-engine/internal/pipeline"
	"github.com/eefei22/ser-engine/internal/queue"
	"github.com/eefei22/ser-engine/internal/resultlog"
	"github.com/eefei22/ser-engine/internal/session"
	"github.com/eefei22/ser-engine/internal/synth"
)

// version, commit, and buildTime are injected at build time via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	var overrides config.Overrides
	var showVersion bool
	flag.StringVar(&overrides.EnvFile, "env-file", "", "Path to .env file (default: .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.DatabaseURL, "database-url", "", "PostgreSQL connection URL (overrides DATABASE_URL)")
	flag.StringVar(&overrides.InferenceURL, "inference-url", "", "Inference sidecar URL (overrides SER_INFERENCE_URL)")
	flag.StringVar(&overrides.WatchDir, "watch-dir", "", "Watch directory for WAV chunks (overrides WATCH_DIR)")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("%s (commit=%s, built=%s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	startTime := time.Now()

	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("invalid config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", buildTime).
		Str("log_level", level.String()).
		Msg("ser-engine starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.System()

	// Store. A malformed URL is fatal; an unreachable server is not —
	// the probe is best-effort and the pool reconnects lazily.
	dbLog := log.With().Str("component", "database").Logger()
	db, err := database.Open(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid database configuration")
	}
	if err := db.HealthCheck(ctx); err != nil {
		log.Warn().Err(err).Msg("database unreachable at startup, continuing")
	} else if err := db.InitSchema(ctx, serengine.SchemaSQL); err != nil {
		log.Warn().Err(err).Msg("schema initialization failed, continuing")
	}

	// Control plane, session tracking, queue, result rings.
	reg := control.New(cfg.AggregationIntervalSeconds, cfg.GenerationIntervalSeconds, cfg.SynthUserID)
	sessions := session.NewTracker(time.Duration(cfg.SessionGapSeconds)*time.Second, log)
	q := queue.New(cfg.QueueCapacity)
	results := resultlog.New(500, 1000)
	if cfg.MetricsEnabled {
		metrics.RegisterQueueDepth(q.Size)
	}

	// Worker, aggregator, generator — started in this order, stopped in
	// reverse.
	analyzer := pipeline.NewClient(cfg.InferenceURL, cfg.InferenceTimeout)
	worker := queue.NewWorker(queue.WorkerOptions{
		Queue:          q,
		Analyzer:       analyzer,
		Store:          db,
		Sessions:       sessions,
		Results:        results,
		Clock:          clk,
		AnalyzeTimeout: cfg.InferenceTimeout + 10*time.Second,
		Log:            log.With().Str("component", "worker").Logger(),
	})
	worker.Start()

	aggregator := aggregate.New(sessions, reg.AggInterval, results, clk, log)
	aggregator.Start()

	generator := synth.New(db, reg, clk, nil, log)
	generator.Start()

	var watcher *ingest.Watcher
	if cfg.WatchDir != "" {
		watcher = ingest.NewWatcher(cfg.WatchDir, cfg.TmpDir, q, clk, log)
		if err := watcher.Start(); err != nil {
			log.Fatal().Err(err).Str("watch_dir", cfg.WatchDir).Msg("failed to start file watcher")
		}
	}

	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(api.ServerOptions{
		Config:     cfg,
		Store:      db,
		Queue:      q,
		Worker:     worker,
		Sessions:   sessions,
		Results:    results,
		Registries: reg,
		Aggregator: aggregator,
		Generator:  generator,
		Clock:      clk,
		WebFiles:   serengine.WebFiles,
		Version:    fmt.Sprintf("%s (commit=%s, built=%s)", version, commit, buildTime),
		StartTime:  startTime,
		Log:        httpLog,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info().
		Str("listen", cfg.HTTPAddr).
		Dur("startup_ms", time.Since(startTime)).
		Msg("ser-engine ready")

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
			exitCode = 1
		}
	}

	// Shutdown is the strict reverse of startup; each step is bounded so
	// one stuck component cannot wedge the rest.
	stepTimeout := cfg.ShutdownDrainTimeout

	shutdownCtx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	cancel()

	if watcher != nil {
		watcher.Stop()
	}
	generator.Stop(stepTimeout)
	aggregator.Stop(stepTimeout)
	worker.Stop(stepTimeout)
	db.Close()

	log.Info().Msg("ser-engine stopped")
	os.Exit(exitCode)
}
