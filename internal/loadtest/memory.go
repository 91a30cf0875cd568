package loadtest

import (
	"context"
	"fmt"
	"time"
)

// pageStride is the interval at which the memory worker writes into its
// buffer. Touching one byte per page forces every page to be committed
// rather than merely reserved.
const pageStride = 4096

// holdCheck is how often the hold phase wakes to re-touch pages and check
// for cancellation.
const holdCheck = 100 * time.Millisecond

// MemoryWorker allocates a fixed-size buffer, touches every page, holds the
// allocation for the rest of the cycle, then releases it. Allocation failure
// surfaces as a runtime panic in Go, so the cycle converts that into an
// out-of-memory failure instead of crashing the process.
type MemoryWorker struct {
	sizeBytes int64
}

func NewMemoryWorker(sizeBytes int64) *MemoryWorker {
	return &MemoryWorker{sizeBytes: sizeBytes}
}

func (w *MemoryWorker) Kind() Kind { return KindMemory }

func (w *MemoryWorker) RunCycle(ctx context.Context, slice time.Duration) (res CycleResult) {
	start := time.Now()
	res = CycleResult{Kind: KindMemory, StartedAt: start}
	defer func() {
		if r := recover(); r != nil {
			res.Elapsed = time.Since(start)
			res.Succeeded = false
			res.Failure = FailureOutOfMemory
			res.Err = fmt.Errorf("allocating %d bytes: %v", w.sizeBytes, r)
		}
	}()

	buf := make([]byte, w.sizeBytes)
	touch(buf)
	res.TouchedBytes = int64(len(buf))

	deadline := start.Add(slice)
	cancelled := false
	for time.Now().Before(deadline) {
		wait := holdCheck
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		if !sleepCtx(ctx, wait) {
			cancelled = true
			break
		}
		touch(buf)
	}

	// Dropping the reference here is the release: the buffer becomes
	// collectable the moment the cycle returns.
	buf = nil
	_ = buf

	res.Elapsed = time.Since(start)
	res.Succeeded = !cancelled
	if cancelled {
		res.Failure = FailureCancelled
		res.Err = ctx.Err()
	}
	return res
}

func touch(buf []byte) {
	for i := 0; i < len(buf); i += pageStride {
		buf[i] = byte(i)
	}
	if n := len(buf); n > 0 {
		buf[n-1] = byte(n)
	}
}
