package loadtest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/oklog/ulid/v2"
	"github.com/stresspilot/stresspilot/internal/config"
	"github.com/stresspilot/stresspilot/internal/metrics"
	"github.com/stresspilot/stresspilot/internal/objectstore"
)

// State is the lifecycle of a run.
type State int

const (
	StateInitialized State = iota
	StateRunning
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrWatchdogTimeout means workers did not acknowledge cancellation before
// the hard deadline and the run was abandoned.
var ErrWatchdogTimeout = errors.New("watchdog: workers did not stop before the hard deadline")

// ensureBucketTimeout bounds the startup reachability probe.
const ensureBucketTimeout = 30 * time.Second

// Outcome is the final result of a run, available from Handle.Wait.
type Outcome struct {
	State   State
	Ticks   int
	Planned int
	Elapsed time.Duration
	Err     error
}

// HostSampler provides one snapshot of host-wide resource usage per tick.
type HostSampler interface {
	Sample(ctx context.Context) (metrics.HostSample, error)
}

// Options configures an Orchestrator. Workers, Duration and Interval are
// required; everything else has a usable default.
type Options struct {
	Duration time.Duration
	Interval time.Duration
	Workers  []Worker

	Collector *metrics.Collector
	Sampler   HostSampler
	Logger    log.FieldLogger

	// WatchdogGrace is how long past Duration the run may keep running
	// before it is declared failed. Defaults to Interval plus five seconds.
	WatchdogGrace time.Duration

	// MinSlice is the floor for a truncated final tick. Defaults to a tenth
	// of Interval, never below ten milliseconds.
	MinSlice time.Duration
}

func (o *Options) normalize() {
	if o.Logger == nil {
		o.Logger = log.StandardLogger()
	}
	if o.Collector == nil {
		o.Collector = metrics.NewCollector()
	}
	if o.WatchdogGrace <= 0 {
		o.WatchdogGrace = o.Interval + 5*time.Second
	}
	if o.MinSlice <= 0 {
		o.MinSlice = o.Interval / 10
		if o.MinSlice < 10*time.Millisecond {
			o.MinSlice = 10 * time.Millisecond
		}
	}
}

// Orchestrator drives all workers through a shared tick schedule: every
// interval it starts one cycle per worker, waits for all of them at a
// barrier, records the results, then sleeps out the remainder of the
// interval.
type Orchestrator struct {
	opts Options
}

func New(opts Options) *Orchestrator {
	opts.normalize()
	return &Orchestrator{opts: opts}
}

// Handle controls a running load test. Cancel is safe to call from any
// goroutine and is idempotent; Wait blocks until the run settles and always
// returns the same Outcome.
type Handle struct {
	cancel context.CancelFunc

	cancelOnce sync.Once
	settleOnce sync.Once
	done       chan struct{}
	outcome    Outcome
}

// Cancel requests a graceful stop. Workers finish their current cycle
// promptly and the run settles as Cancelled.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(h.cancel)
}

// Wait blocks until the run has fully stopped.
func (h *Handle) Wait() Outcome {
	<-h.done
	return h.outcome
}

func (h *Handle) settle(out Outcome) {
	h.settleOnce.Do(func() {
		h.outcome = out
		close(h.done)
	})
}

// Start launches the run and returns immediately.
func (o *Orchestrator) Start() *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go o.run(ctx, h)
	return h
}

// StartRun wires the standard worker set from configuration and launches it.
// The storage backend is probed first so an unreachable endpoint fails the
// run before any load is generated.
func StartRun(ctx context.Context, cfg config.Config, store objectstore.Store, collector *metrics.Collector, sampler HostSampler, logger log.FieldLogger) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("loadtest: object store is required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}

	probeCtx, cancel := context.WithTimeout(ctx, ensureBucketTimeout)
	defer cancel()
	if err := store.EnsureBucket(probeCtx); err != nil {
		return nil, fmt.Errorf("storage backend unavailable: %w", err)
	}

	runID := strings.ToLower(ulid.Make().String())
	logger.WithField("run_id", runID).Info("run initialized")

	o := New(Options{
		Duration: cfg.Duration(),
		Interval: cfg.Interval(),
		Workers: []Worker{
			NewCPUWorker(cfg.CPUIntensity),
			NewMemoryWorker(cfg.MemoryBytes()),
			NewStorageWorker(store, cfg.FileBytes(), runID, logger),
		},
		Collector: collector,
		Sampler:   sampler,
		Logger:    logger,
	})
	return o.Start(), nil
}

func (o *Orchestrator) run(ctx context.Context, h *Handle) {
	start := time.Now()
	planned := plannedTicks(o.opts.Duration, o.opts.Interval)
	o.opts.Collector.SetRunState(StateRunning.String())
	o.opts.Logger.WithField("planned_ticks", planned).
		WithField("duration", o.opts.Duration.String()).
		WithField("interval", o.opts.Interval.String()).
		Info("run started")

	// The watchdog settles the handle even if a worker never returns, so
	// Wait cannot block forever on a stuck cycle.
	watchdog := time.AfterFunc(o.opts.Duration+o.opts.WatchdogGrace, func() {
		o.opts.Collector.SetRunState(StateFailed.String())
		o.opts.Logger.Error("watchdog deadline exceeded, abandoning workers")
		h.settle(Outcome{
			State:   StateFailed,
			Planned: planned,
			Elapsed: time.Since(start),
			Err:     ErrWatchdogTimeout,
		})
	})
	defer watchdog.Stop()

	outcome := o.loop(ctx, start, planned)
	o.release()
	o.opts.Collector.SetRunState(outcome.State.String())
	o.opts.Logger.WithField("state", outcome.State.String()).
		WithField("ticks", outcome.Ticks).
		WithField("elapsed", outcome.Elapsed.Round(time.Millisecond).String()).
		Info("run finished")
	h.settle(outcome)
}

func (o *Orchestrator) loop(ctx context.Context, start time.Time, planned int) Outcome {
	deadline := start.Add(o.opts.Duration)
	ticks := 0
	storageSucceeded := false

	for {
		if ctx.Err() != nil {
			return Outcome{State: StateCancelled, Ticks: ticks, Planned: planned, Elapsed: time.Since(start)}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Outcome{State: StateCompleted, Ticks: ticks, Planned: planned, Elapsed: time.Since(start)}
		}

		slice := o.opts.Interval
		if remaining < slice {
			slice = remaining
			if slice < o.opts.MinSlice {
				slice = o.opts.MinSlice
			}
		}

		tickStart := time.Now()
		results := o.runTick(ctx, slice)
		ticks++
		tickElapsed := time.Since(tickStart)
		drifted := tickElapsed > o.opts.Interval+o.opts.Interval/10
		o.opts.Collector.ObserveTick(drifted)

		var fatal error
		for _, res := range results {
			o.opts.Collector.ObserveCycle(toObservation(res))
			if res.Succeeded || res.Failure == FailureCancelled {
				continue
			}
			o.opts.Logger.WithField("worker", string(res.Kind)).
				WithField("failure", string(res.Failure)).
				WithError(res.Err).
				Warn("cycle failed")
			// An unreachable backend is fatal only while no storage cycle
			// has ever succeeded; afterwards it is a transient failure.
			if res.Failure == FailureStorageUnavailable && !storageSucceeded {
				fatal = res.Err
			}
		}
		for _, res := range results {
			if res.Kind == KindStorage && res.Succeeded {
				storageSucceeded = true
			}
		}

		o.sampleHost()
		o.logTick(ticks, planned, results)

		if fatal != nil {
			return Outcome{State: StateFailed, Ticks: ticks, Planned: planned, Elapsed: time.Since(start), Err: fatal}
		}
		if ctx.Err() != nil {
			return Outcome{State: StateCancelled, Ticks: ticks, Planned: planned, Elapsed: time.Since(start)}
		}

		if drifted {
			o.opts.Logger.WithField("tick", ticks).
				WithField("elapsed", tickElapsed.Round(time.Millisecond).String()).
				WithField("interval", o.opts.Interval.String()).
				Warn("tick overran interval, starting next tick immediately")
			continue
		}
		idle := o.opts.Interval - tickElapsed
		if until := time.Until(deadline); until < idle {
			idle = until
		}
		sleepCtx(ctx, idle)
	}
}

// runTick starts one cycle per worker and waits for all of them.
func (o *Orchestrator) runTick(ctx context.Context, slice time.Duration) []CycleResult {
	results := make([]CycleResult, len(o.opts.Workers))
	var wg sync.WaitGroup
	for i, w := range o.opts.Workers {
		wg.Add(1)
		go func(i int, w Worker) {
			defer wg.Done()
			results[i] = w.RunCycle(ctx, slice)
		}(i, w)
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) sampleHost() {
	if o.opts.Sampler == nil {
		return
	}
	// Sampling rides on its own context so a cancelled run still records
	// its final host snapshot.
	sampleCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sample, err := o.opts.Sampler.Sample(sampleCtx)
	if err != nil {
		o.opts.Logger.WithError(err).Debug("host sample failed")
		return
	}
	o.opts.Collector.ObserveHost(sample)
	o.opts.Logger.WithField("cpu_pct", fmt.Sprintf("%.1f", sample.CPUPercent)).
		WithField("mem_pct", fmt.Sprintf("%.1f", sample.MemoryPercent)).
		WithField("disk_pct", fmt.Sprintf("%.1f", sample.DiskPercent)).
		Debug("host sample")
}

func (o *Orchestrator) logTick(tick, planned int, results []CycleResult) {
	entry := o.opts.Logger.WithField("tick", fmt.Sprintf("%d/%d", tick, planned))
	for _, res := range results {
		status := "ok"
		if !res.Succeeded {
			status = string(res.Failure)
		}
		entry = entry.WithField(string(res.Kind), status)
	}
	entry.Info("tick complete")
}

// release gives every worker that holds resources a chance to let go of
// them. The sweep runs on a fresh context so run cancellation cannot block it.
func (o *Orchestrator) release() {
	for _, w := range o.opts.Workers {
		r, ok := w.(Releaser)
		if !ok {
			continue
		}
		if err := r.Release(context.Background()); err != nil {
			o.opts.Logger.WithField("worker", string(w.Kind())).WithError(err).Warn("release failed")
		}
	}
}

func plannedTicks(duration, interval time.Duration) int {
	if interval <= 0 {
		return 0
	}
	n := int(duration / interval)
	if duration%interval != 0 {
		n++
	}
	return n
}
