package loadtest

import (
	"context"
	"time"
)

// dutyQuantum is the period over which the CPU worker slices busy and idle
// time. A 100ms quantum is short enough that monitoring tools sampling at
// one second resolution see a steady load rather than a square wave.
const dutyQuantum = 100 * time.Millisecond

// spinBatch is how many accumulator steps the busy loop runs between clock
// and cancellation checks.
const spinBatch = 4096

// CPUWorker burns one core at a configured duty percentage by alternating
// busy-spin and sleep phases within each quantum.
type CPUWorker struct {
	intensity int // 1..100

	// sum keeps the spin loop's work observable so the compiler cannot
	// eliminate it.
	sum uint64
}

func NewCPUWorker(intensity int) *CPUWorker {
	return &CPUWorker{intensity: intensity}
}

func (w *CPUWorker) Kind() Kind { return KindCPU }

func (w *CPUWorker) RunCycle(ctx context.Context, slice time.Duration) CycleResult {
	start := time.Now()
	deadline := start.Add(slice)
	sum := w.sum
	var busy time.Duration
	cancelled := false

	for !cancelled && time.Now().Before(deadline) {
		quantum := dutyQuantum
		if remaining := time.Until(deadline); remaining < quantum {
			quantum = remaining
		}
		busyBudget := quantum * time.Duration(w.intensity) / 100
		// At full intensity the integer split leaves no idle phase; at the
		// boundary a fractional quantum rounds toward busy.
		if w.intensity == 100 {
			busyBudget = quantum
		}

		busyStart := time.Now()
		busyUntil := busyStart.Add(busyBudget)
		for time.Now().Before(busyUntil) {
			for i := 0; i < spinBatch; i++ {
				sum = sum*6364136223846793005 + 1442695040888963407
			}
			if ctx.Err() != nil {
				cancelled = true
				break
			}
		}
		busy += time.Since(busyStart)
		if cancelled {
			break
		}

		if idle := quantum - busyBudget; idle > 0 {
			if !sleepCtx(ctx, idle) {
				cancelled = true
			}
		}
	}
	w.sum = sum

	elapsed := time.Since(start)
	duty := 0.0
	if elapsed > 0 {
		duty = busy.Seconds() / elapsed.Seconds()
	}
	res := CycleResult{
		Kind:      KindCPU,
		StartedAt: start,
		Elapsed:   elapsed,
		Succeeded: !cancelled,
		Duty:      duty,
	}
	if cancelled {
		res.Failure = FailureCancelled
		res.Err = ctx.Err()
	}
	return res
}
