package metrics

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Worker kind labels used across the collector and the exported series.
const (
	WorkerCPU     = "cpu"
	WorkerMemory  = "memory"
	WorkerStorage = "storage"
)

// CycleObservation is one worker cycle's outcome as seen by the collector.
// Zero-valued fields that do not apply to the worker kind are ignored.
type CycleObservation struct {
	Worker        string
	Elapsed       time.Duration
	Succeeded     bool
	FailureKind   string // empty when Succeeded
	Duty          float64
	TouchedBytes  int64
	UploadedBytes int64
	UploadLatency time.Duration
	Deleted       bool
	Orphaned      bool
}

// HostSample is a point-in-time snapshot of host-level resource usage.
type HostSample struct {
	CPUPercent      float64
	MemoryPercent   float64
	MemoryUsedBytes uint64
	DiskPercent     float64
	NetBytesSent    uint64
	NetBytesRecv    uint64
}

// WorkerStats aggregates one worker kind's cycle counts.
type WorkerStats struct {
	Cycles   int64            `json:"cycles"`
	Failures int64            `json:"failures"`
	Errors   map[string]int64 `json:"errors,omitempty"`
}

// Stats is the aggregated view consumed by the final report.
type Stats struct {
	Duration time.Duration `json:"-"`
	Ticks    int64         `json:"ticks"`
	Drifts   int64         `json:"drifted_ticks"`

	Workers map[string]WorkerStats `json:"workers"`

	BytesUploaded   int64 `json:"bytes_uploaded"`
	ObjectsUploaded int64 `json:"objects_uploaded"`
	ObjectsDeleted  int64 `json:"objects_deleted"`
	ObjectsOrphaned int64 `json:"objects_orphaned"`

	LastCPUDuty     float64 `json:"last_cpu_duty"`
	LastMemoryBytes int64   `json:"last_memory_bytes"`

	UploadMinLatency  time.Duration `json:"-"`
	UploadMaxLatency  time.Duration `json:"-"`
	UploadMeanLatency time.Duration `json:"-"`
	UploadP50Latency  time.Duration `json:"-"`
	UploadP90Latency  time.Duration `json:"-"`
	UploadP99Latency  time.Duration `json:"-"`

	// JSON-friendly millisecond fields.
	DurationMs        float64 `json:"duration_ms"`
	UploadMinMs       float64 `json:"upload_min_ms"`
	UploadMaxMs       float64 `json:"upload_max_ms"`
	UploadMeanMs      float64 `json:"upload_mean_ms"`
	UploadP50Ms       float64 `json:"upload_p50_ms"`
	UploadP90Ms       float64 `json:"upload_p90_ms"`
	UploadP99Ms       float64 `json:"upload_p99_ms"`
	UploadThroughputMBs float64 `json:"upload_throughput_mb_s"`

	NetSentBytes uint64 `json:"net_sent_bytes"`
	NetRecvBytes uint64 `json:"net_recv_bytes"`
}

// Collector aggregates per-cycle observations from all workers within a run.
// It is safe for concurrent use; workers from the same tick record into it in
// parallel. Exporting to Prometheus happens in-process on Observe, never over
// the network, so recording cannot block a worker on the metrics backend.
type Collector struct {
	mu sync.Mutex

	workers map[string]*workerAgg

	ticks  int64
	drifts int64

	bytesUploaded   int64
	objectsUploaded int64
	objectsDeleted  int64
	objectsOrphaned int64

	lastCPUDuty     float64
	lastMemoryBytes int64

	uploadHist       *hdrhistogram.Histogram
	uploadSum        time.Duration
	uploadMin        time.Duration
	uploadMax        time.Duration
	uploadCount      int64
	uploadActiveTime time.Duration

	firstHost *HostSample
	lastHost  *HostSample

	prom *promInstruments
}

type workerAgg struct {
	cycles   int64
	failures int64
	errors   map[string]int64
}

// NewCollector creates a collector with its own Prometheus registry so
// concurrent runs never share series state.
func NewCollector() *Collector {
	return &Collector{
		workers: make(map[string]*workerAgg),
		// Upload latencies from 1µs to 60s at 3 significant figures.
		uploadHist: hdrhistogram.New(1, 60_000_000, 3),
		prom:       newPromInstruments(),
	}
}

// ObserveCycle records one worker cycle.
func (c *Collector) ObserveCycle(o CycleObservation) {
	c.mu.Lock()
	agg, ok := c.workers[o.Worker]
	if !ok {
		agg = &workerAgg{errors: make(map[string]int64)}
		c.workers[o.Worker] = agg
	}
	agg.cycles++
	if !o.Succeeded {
		agg.failures++
		agg.errors[o.FailureKind]++
	}

	switch o.Worker {
	case WorkerCPU:
		if o.Succeeded || o.Duty > 0 {
			c.lastCPUDuty = o.Duty
		}
	case WorkerMemory:
		if o.Succeeded {
			c.lastMemoryBytes = o.TouchedBytes
		}
	case WorkerStorage:
		if o.UploadedBytes > 0 {
			c.bytesUploaded += o.UploadedBytes
			c.objectsUploaded++
			c.recordUploadLatency(o.UploadLatency)
		}
		if o.Deleted {
			c.objectsDeleted++
		}
		if o.Orphaned {
			c.objectsOrphaned++
		}
	}
	c.mu.Unlock()

	c.prom.observeCycle(o)
}

func (c *Collector) recordUploadLatency(latency time.Duration) {
	if latency <= 0 {
		return
	}
	us := latency.Microseconds()
	if us < c.uploadHist.LowestTrackableValue() {
		us = c.uploadHist.LowestTrackableValue()
	}
	if us > c.uploadHist.HighestTrackableValue() {
		us = c.uploadHist.HighestTrackableValue()
	}
	_ = c.uploadHist.RecordValue(us)

	c.uploadSum += latency
	c.uploadCount++
	if c.uploadMin == 0 || latency < c.uploadMin {
		c.uploadMin = latency
	}
	if latency > c.uploadMax {
		c.uploadMax = latency
	}
}

// ObserveTick records one scheduler tick. drifted marks a tick whose cycles
// overran the configured interval.
func (c *Collector) ObserveTick(drifted bool) {
	c.mu.Lock()
	c.ticks++
	if drifted {
		c.drifts++
	}
	c.mu.Unlock()

	c.prom.observeTick(drifted)
}

// ObserveHost records a host-level resource sample.
func (c *Collector) ObserveHost(s HostSample) {
	c.mu.Lock()
	if c.firstHost == nil {
		first := s
		c.firstHost = &first
	}
	last := s
	c.lastHost = &last
	c.mu.Unlock()

	c.prom.observeHost(s)
}

// SetRunState publishes the orchestrator run state as a gauge.
func (c *Collector) SetRunState(state string) {
	c.prom.setRunState(state)
}

// Stats computes the aggregated view for the given run duration.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := Stats{
		Duration:        elapsed,
		Ticks:           c.ticks,
		Drifts:          c.drifts,
		Workers:         make(map[string]WorkerStats, len(c.workers)),
		BytesUploaded:   c.bytesUploaded,
		ObjectsUploaded: c.objectsUploaded,
		ObjectsDeleted:  c.objectsDeleted,
		ObjectsOrphaned: c.objectsOrphaned,
		LastCPUDuty:     c.lastCPUDuty,
		LastMemoryBytes: c.lastMemoryBytes,
		UploadMinLatency: c.uploadMin,
		UploadMaxLatency: c.uploadMax,
	}

	for kind, agg := range c.workers {
		ws := WorkerStats{Cycles: agg.cycles, Failures: agg.failures}
		if len(agg.errors) > 0 {
			ws.Errors = make(map[string]int64, len(agg.errors))
			for k, v := range agg.errors {
				ws.Errors[k] = v
			}
		}
		stats.Workers[kind] = ws
	}

	if c.uploadCount > 0 {
		stats.UploadMeanLatency = time.Duration(int64(c.uploadSum) / c.uploadCount)
	}
	if c.uploadHist.TotalCount() > 0 {
		stats.UploadP50Latency = time.Duration(c.uploadHist.ValueAtQuantile(50)) * time.Microsecond
		stats.UploadP90Latency = time.Duration(c.uploadHist.ValueAtQuantile(90)) * time.Microsecond
		stats.UploadP99Latency = time.Duration(c.uploadHist.ValueAtQuantile(99)) * time.Microsecond
	}
	if c.uploadSum > 0 {
		stats.UploadThroughputMBs = (float64(c.bytesUploaded) / (1024 * 1024)) / c.uploadSum.Seconds()
	}

	if c.firstHost != nil && c.lastHost != nil {
		if c.lastHost.NetBytesSent >= c.firstHost.NetBytesSent {
			stats.NetSentBytes = c.lastHost.NetBytesSent - c.firstHost.NetBytesSent
		}
		if c.lastHost.NetBytesRecv >= c.firstHost.NetBytesRecv {
			stats.NetRecvBytes = c.lastHost.NetBytesRecv - c.firstHost.NetBytesRecv
		}
	}

	stats.DurationMs = float64(elapsed) / float64(time.Millisecond)
	stats.UploadMinMs = float64(stats.UploadMinLatency) / float64(time.Millisecond)
	stats.UploadMaxMs = float64(stats.UploadMaxLatency) / float64(time.Millisecond)
	stats.UploadMeanMs = float64(stats.UploadMeanLatency) / float64(time.Millisecond)
	stats.UploadP50Ms = float64(stats.UploadP50Latency) / float64(time.Millisecond)
	stats.UploadP90Ms = float64(stats.UploadP90Latency) / float64(time.Millisecond)
	stats.UploadP99Ms = float64(stats.UploadP99Latency) / float64(time.Millisecond)

	return stats
}
