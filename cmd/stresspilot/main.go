package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"

	"github.com/stresspilot/stresspilot/internal/config"
	"github.com/stresspilot/stresspilot/internal/dashboard"
	"github.com/stresspilot/stresspilot/internal/loadtest"
	"github.com/stresspilot/stresspilot/internal/logging"
	"github.com/stresspilot/stresspilot/internal/metrics"
	"github.com/stresspilot/stresspilot/internal/objectstore"
	"github.com/stresspilot/stresspilot/internal/output"
	"github.com/stresspilot/stresspilot/internal/sysinfo"
	"github.com/stresspilot/stresspilot/internal/threshold"
	"github.com/stresspilot/stresspilot/internal/tracing"
)

const (
	exitCompleted = 0
	exitFailed    = 1
	exitCancelled = 2

	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	loader := config.NewLoader()
	cfg, err := loader.Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return exitCompleted
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailed
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailed
	}
	if err := logging.Setup(cfg.LogLevel, cfg.JSONOutput); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailed
	}
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailed
	}

	// A second generator on the same host would skew every measurement the
	// first one makes.
	if cfg.LockFile != "" {
		lock := flock.New(cfg.LockFile)
		held, err := lock.TryLock()
		if err != nil {
			log.WithError(err).Error("acquiring instance lock")
			return exitFailed
		}
		if !held {
			log.WithField("lock_file", cfg.LockFile).Error("another instance is already running")
			return exitFailed
		}
		defer func() { _ = lock.Unlock() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		log.WithError(err).Error("initializing tracing")
		return exitFailed
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("tracing shutdown")
		}
	}()

	store, err := objectstore.New(cfg.Storage, provider.Tracer())
	if err != nil {
		log.WithError(err).Error("creating object storage client")
		return exitFailed
	}

	collector := metrics.NewCollector()

	if cfg.MetricsAddr != "" {
		srv := startMetricsServer(cfg.MetricsAddr, collector)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	handle, err := loadtest.StartRun(ctx, *cfg, store, collector, sysinfo.New(""), log.StandardLogger())
	if err != nil {
		log.WithError(err).Error("starting run")
		return exitFailed
	}

	var dash *dashboard.Dashboard
	if cfg.Dashboard && !cfg.JSONOutput {
		dash, err = dashboard.New(collector, dashboard.RunConfig{
			Endpoint:        cfg.Storage.Endpoint,
			Bucket:          cfg.Storage.Bucket,
			DurationMinutes: cfg.DurationMinutes,
			IntervalSeconds: cfg.IntervalSeconds,
			CPUIntensity:    cfg.CPUIntensity,
			MemorySizeMB:    cfg.MemorySizeMB,
			FileSizeMB:      cfg.FileSizeMB,
			ConfigFile:      cfg.ConfigFile,
		}, handle.Cancel)
		if err != nil {
			log.WithError(err).Warn("dashboard unavailable, falling back to progress line")
		} else {
			dash.Start()
		}
	}

	var progress *output.ProgressReporter
	if !cfg.JSONOutput && dash == nil {
		progress = output.NewProgressReporter(collector, progressInterval, os.Stdout)
		progress.Start()
	}

	// First signal requests a graceful stop; stop() restores default signal
	// handling so a second signal terminates the process immediately.
	go func() {
		<-ctx.Done()
		handle.Cancel()
		stop()
	}()

	result := handle.Wait()
	if dash != nil {
		dash.Stop()
	}
	if progress != nil {
		progress.Stop()
		fmt.Fprintln(os.Stdout)
	}

	stats := collector.Stats(result.Elapsed)
	state := result.State.String()
	if cfg.JSONOutput {
		if err := output.PrintJSONReport(os.Stdout, state, stats); err != nil {
			log.WithError(err).Error("writing report")
			return exitFailed
		}
	} else {
		output.PrintReport(os.Stdout, state, stats)
	}

	thresholdsPassed := true
	if results := threshold.NewEvaluator(thresholds).Evaluate(stats); len(results) > 0 {
		fmt.Fprintln(os.Stdout, "\nThresholds:")
		for _, res := range results {
			fmt.Fprintf(os.Stdout, "  %s\n", res.Message)
			if !res.Pass {
				thresholdsPassed = false
			}
		}
	}

	switch result.State {
	case loadtest.StateCompleted:
		if !thresholdsPassed {
			log.Error("one or more thresholds failed")
			return exitFailed
		}
		return exitCompleted
	case loadtest.StateCancelled:
		return exitCancelled
	default:
		if result.Err != nil {
			log.WithError(result.Err).Error("run failed")
		}
		return exitFailed
	}
}

func startMetricsServer(addr string, collector *metrics.Collector) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
	return srv
}
