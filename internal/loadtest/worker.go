package loadtest

import (
	"context"
	"time"

	"github.com/stresspilot/stresspilot/internal/metrics"
)

// Kind identifies a resource worker.
type Kind string

const (
	KindCPU     Kind = "cpu"
	KindMemory  Kind = "memory"
	KindStorage Kind = "storage"
)

// FailureKind classifies a failed cycle. Transient kinds are recorded and the
// run continues; StorageUnavailable escalates only before the first
// successful storage cycle.
type FailureKind string

const (
	FailureNone               FailureKind = ""
	FailureOutOfMemory        FailureKind = "out_of_memory"
	FailureUploadFailed       FailureKind = "upload_failed"
	FailureDeleteFailed       FailureKind = "delete_failed"
	FailureTimeout            FailureKind = "timeout"
	FailureStorageUnavailable FailureKind = "storage_unavailable"
	FailureCancelled          FailureKind = "cancelled"
)

// CycleResult is the outcome of one worker cycle. It is consumed by the
// collector immediately after the tick's barrier and not retained.
type CycleResult struct {
	Kind      Kind
	StartedAt time.Time
	Elapsed   time.Duration
	Succeeded bool
	Failure   FailureKind
	Err       error

	// Per-kind detail.
	Duty          float64       // cpu: achieved duty fraction
	TouchedBytes  int64         // memory: bytes allocated and touched
	UploadedBytes int64         // storage: payload bytes uploaded
	UploadLatency time.Duration // storage
	Deleted       bool          // storage: object removed after upload
	Orphaned      bool          // storage: uploaded but not deleted
}

// Worker applies one kind of resource pressure for the given slice of time.
// RunCycle must observe ctx at sub-slice granularity and return a partial
// result promptly when cancelled.
type Worker interface {
	Kind() Kind
	RunCycle(ctx context.Context, slice time.Duration) CycleResult
}

// Releaser is implemented by workers that can hold resources beyond a single
// cycle. The orchestrator calls Release exactly once when the run ends,
// regardless of outcome.
type Releaser interface {
	Release(ctx context.Context) error
}

func toObservation(res CycleResult) metrics.CycleObservation {
	return metrics.CycleObservation{
		Worker:        string(res.Kind),
		Elapsed:       res.Elapsed,
		Succeeded:     res.Succeeded,
		FailureKind:   string(res.Failure),
		Duty:          res.Duty,
		TouchedBytes:  res.TouchedBytes,
		UploadedBytes: res.UploadedBytes,
		UploadLatency: res.UploadLatency,
		Deleted:       res.Deleted,
		Orphaned:      res.Orphaned,
	}
}

// sleepCtx sleeps for d or until ctx is done. Returns false when cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
