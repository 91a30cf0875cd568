package loadtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/oklog/ulid/v2"
	"github.com/stresspilot/stresspilot/internal/objectstore"
)

// orphanSweepTimeout bounds the end-of-run attempt to delete objects whose
// in-cycle delete failed.
const orphanSweepTimeout = 30 * time.Second

// StorageWorker uploads one pseudo-random object per cycle and deletes it
// again. Keys are unique per cycle so concurrent or restarted runs never
// collide.
type StorageWorker struct {
	store        objectstore.Store
	payloadBytes int64
	runID        string
	logger       log.FieldLogger

	rnd *rand.Rand

	mu      sync.Mutex
	orphans []string
}

func NewStorageWorker(store objectstore.Store, payloadBytes int64, runID string, logger log.FieldLogger) *StorageWorker {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &StorageWorker{
		store:        store,
		payloadBytes: payloadBytes,
		runID:        runID,
		logger:       logger,
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (w *StorageWorker) Kind() Kind { return KindStorage }

func (w *StorageWorker) RunCycle(ctx context.Context, slice time.Duration) CycleResult {
	start := time.Now()
	res := CycleResult{Kind: KindStorage, StartedAt: start}

	payload := make([]byte, w.payloadBytes)
	w.rnd.Read(payload)
	key := fmt.Sprintf("loadtest/%s/%s.bin", w.runID, ulid.Make().String())

	// The upload may not outlive the cycle's slice.
	opCtx, cancel := context.WithTimeout(ctx, slice)
	defer cancel()

	latency, err := w.store.Put(opCtx, key, bytes.NewReader(payload), int64(len(payload)))
	if err != nil {
		res.Elapsed = time.Since(start)
		res.Failure, res.Err = classifyPutError(ctx, opCtx, err)
		return res
	}
	res.UploadedBytes = int64(len(payload))
	res.UploadLatency = latency

	if err := w.store.Delete(opCtx, key); err != nil {
		w.mu.Lock()
		w.orphans = append(w.orphans, key)
		w.mu.Unlock()
		w.logger.WithField("key", key).WithError(err).Warn("object orphaned: delete failed after upload")
		res.Elapsed = time.Since(start)
		res.Failure = FailureDeleteFailed
		res.Err = fmt.Errorf("deleting %s: %w", key, err)
		res.Orphaned = true
		return res
	}
	res.Deleted = true
	res.Succeeded = true
	res.Elapsed = time.Since(start)
	return res
}

// Release retries deletion of any orphaned objects so a finished run leaves
// the bucket clean when the backend has recovered.
func (w *StorageWorker) Release(ctx context.Context) error {
	w.mu.Lock()
	orphans := w.orphans
	w.orphans = nil
	w.mu.Unlock()
	if len(orphans) == 0 {
		return nil
	}

	sweepCtx, cancel := context.WithTimeout(ctx, orphanSweepTimeout)
	defer cancel()

	var failed []string
	for _, key := range orphans {
		if err := w.store.Delete(sweepCtx, key); err != nil {
			failed = append(failed, key)
			w.logger.WithField("key", key).WithError(err).Warn("orphan sweep: delete failed")
			continue
		}
		w.logger.WithField("key", key).Info("orphan sweep: object removed")
	}
	if len(failed) > 0 {
		w.mu.Lock()
		w.orphans = append(w.orphans, failed...)
		w.mu.Unlock()
		return fmt.Errorf("%d orphaned objects remain", len(failed))
	}
	return nil
}

// OrphanKeys reports objects uploaded but not yet deleted.
func (w *StorageWorker) OrphanKeys() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.orphans))
	copy(out, w.orphans)
	return out
}

func classifyPutError(runCtx, opCtx context.Context, err error) (FailureKind, error) {
	switch {
	case runCtx.Err() != nil:
		return FailureCancelled, runCtx.Err()
	case errors.Is(err, context.DeadlineExceeded) || opCtx.Err() == context.DeadlineExceeded:
		return FailureTimeout, fmt.Errorf("upload exceeded cycle slice: %w", err)
	case objectstore.IsUnavailable(err):
		return FailureStorageUnavailable, fmt.Errorf("storage backend unreachable: %w", err)
	default:
		return FailureUploadFailed, fmt.Errorf("upload rejected: %w", err)
	}
}
