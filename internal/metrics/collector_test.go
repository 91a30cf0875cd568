package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestObserveCycleAggregates(t *testing.T) {
	c := NewCollector()

	c.ObserveCycle(CycleObservation{
		Worker: WorkerCPU, Elapsed: time.Second, Succeeded: true, Duty: 0.48,
	})
	c.ObserveCycle(CycleObservation{
		Worker: WorkerMemory, Elapsed: time.Second, Succeeded: true, TouchedBytes: 100 << 20,
	})
	c.ObserveCycle(CycleObservation{
		Worker: WorkerStorage, Elapsed: 800 * time.Millisecond, Succeeded: true,
		UploadedBytes: 1 << 20, UploadLatency: 120 * time.Millisecond, Deleted: true,
	})
	c.ObserveCycle(CycleObservation{
		Worker: WorkerStorage, Elapsed: 900 * time.Millisecond, Succeeded: false,
		FailureKind: "upload_failed",
	})
	c.ObserveTick(false)
	c.ObserveTick(true)

	stats := c.Stats(2 * time.Second)

	if stats.Ticks != 2 || stats.Drifts != 1 {
		t.Fatalf("ticks=%d drifts=%d, want 2/1", stats.Ticks, stats.Drifts)
	}
	if got := stats.Workers[WorkerCPU].Cycles; got != 1 {
		t.Fatalf("cpu cycles = %d, want 1", got)
	}
	if stats.LastCPUDuty != 0.48 {
		t.Fatalf("last duty = %f", stats.LastCPUDuty)
	}
	if stats.LastMemoryBytes != 100<<20 {
		t.Fatalf("last memory bytes = %d", stats.LastMemoryBytes)
	}

	storage := stats.Workers[WorkerStorage]
	if storage.Cycles != 2 || storage.Failures != 1 {
		t.Fatalf("storage cycles=%d failures=%d, want 2/1", storage.Cycles, storage.Failures)
	}
	if storage.Errors["upload_failed"] != 1 {
		t.Fatalf("failure kinds not counted: %v", storage.Errors)
	}

	if stats.BytesUploaded != 1<<20 || stats.ObjectsUploaded != 1 || stats.ObjectsDeleted != 1 {
		t.Fatalf("upload accounting wrong: %+v", stats)
	}
	if stats.ObjectsOrphaned != 0 {
		t.Fatalf("unexpected orphans: %d", stats.ObjectsOrphaned)
	}
	if stats.UploadP50Latency <= 0 {
		t.Fatalf("upload latency percentile missing: %s", stats.UploadP50Latency)
	}
}

func TestOrphanAccounting(t *testing.T) {
	c := NewCollector()
	c.ObserveCycle(CycleObservation{
		Worker: WorkerStorage, Succeeded: false, FailureKind: "delete_failed",
		UploadedBytes: 1 << 20, UploadLatency: 50 * time.Millisecond, Orphaned: true,
	})
	stats := c.Stats(time.Second)
	if stats.ObjectsUploaded != 1 || stats.ObjectsDeleted != 0 || stats.ObjectsOrphaned != 1 {
		t.Fatalf("uploaded=%d deleted=%d orphaned=%d", stats.ObjectsUploaded, stats.ObjectsDeleted, stats.ObjectsOrphaned)
	}
	// uploaded - deleted == outstanding orphans
	if stats.ObjectsUploaded-stats.ObjectsDeleted != stats.ObjectsOrphaned {
		t.Fatal("orphan invariant violated")
	}
}

func TestConcurrentObserve(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		worker := []string{WorkerCPU, WorkerMemory, WorkerStorage}[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.ObserveCycle(CycleObservation{Worker: worker, Elapsed: time.Millisecond, Succeeded: true})
			}
		}()
	}
	wg.Wait()

	stats := c.Stats(time.Second)
	var total int64
	for _, ws := range stats.Workers {
		total += ws.Cycles
	}
	if total != 300 {
		t.Fatalf("total cycles = %d, want 300", total)
	}
}

func TestNetworkDeltaFromHostSamples(t *testing.T) {
	c := NewCollector()
	c.ObserveHost(HostSample{NetBytesSent: 1000, NetBytesRecv: 2000})
	c.ObserveHost(HostSample{NetBytesSent: 5000, NetBytesRecv: 2500})
	stats := c.Stats(time.Second)
	if stats.NetSentBytes != 4000 || stats.NetRecvBytes != 500 {
		t.Fatalf("net delta sent=%d recv=%d", stats.NetSentBytes, stats.NetRecvBytes)
	}
}

func TestPrometheusExposition(t *testing.T) {
	c := NewCollector()
	c.ObserveCycle(CycleObservation{
		Worker: WorkerStorage, Elapsed: time.Second, Succeeded: true,
		UploadedBytes: 2 << 20, UploadLatency: 100 * time.Millisecond, Deleted: true,
	})
	c.SetRunState("running")

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read exposition: %v", err)
	}
	body := string(raw)

	for _, want := range []string{
		"stresspilot_cycles_total",
		"stresspilot_bytes_uploaded_total",
		"stresspilot_upload_latency_seconds",
		"stresspilot_run_state 1",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q in:\n%s", want, body)
		}
	}
}
