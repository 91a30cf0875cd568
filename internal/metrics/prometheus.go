package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stresspilot"

// Run-state gauge values. The mapping is stable so dashboards can alert on it.
var runStateValues = map[string]float64{
	"initialized": 0,
	"running":     1,
	"completed":   2,
	"cancelled":   3,
	"failed":      4,
}

// promInstruments mirrors the collector's aggregates into a dedicated
// Prometheus registry for scraping.
type promInstruments struct {
	registry *prometheus.Registry

	cyclesTotal        *prometheus.CounterVec
	cycleFailuresTotal *prometheus.CounterVec
	cycleDuration      *prometheus.HistogramVec

	ticksTotal      prometheus.Counter
	tickDriftsTotal prometheus.Counter

	bytesUploadedTotal   prometheus.Counter
	objectsUploadedTotal prometheus.Counter
	objectsDeletedTotal  prometheus.Counter
	objectsOrphanedTotal prometheus.Counter
	uploadLatency        prometheus.Histogram

	cpuDuty     prometheus.Gauge
	memoryBytes prometheus.Gauge
	runState    prometheus.Gauge

	hostCPUPercent    prometheus.Gauge
	hostMemoryPercent prometheus.Gauge
	hostMemoryUsed    prometheus.Gauge
	hostDiskPercent   prometheus.Gauge
	hostNetSent       prometheus.Gauge
	hostNetRecv       prometheus.Gauge
}

func newPromInstruments() *promInstruments {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &promInstruments{
		registry: reg,

		cyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Number of load cycles executed, by worker kind and status",
		}, []string{"worker", "status"}),
		cycleFailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_failures_total",
			Help:      "Number of failed load cycles, by worker kind and failure kind",
		}, []string{"worker", "kind"}),
		cycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of one load cycle",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"worker"}),

		ticksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Number of scheduler ticks fired",
		}),
		tickDriftsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_drifts_total",
			Help:      "Number of ticks whose cycles overran the configured interval",
		}),

		bytesUploadedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_uploaded_total",
			Help:      "Total payload bytes uploaded to object storage",
		}),
		objectsUploadedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_uploaded_total",
			Help:      "Number of test objects successfully uploaded",
		}),
		objectsDeletedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_deleted_total",
			Help:      "Number of test objects successfully deleted",
		}),
		objectsOrphanedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "objects_orphaned_total",
			Help:      "Number of uploaded objects whose deletion failed",
		}),
		uploadLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_latency_seconds",
			Help:      "Latency of object uploads",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		cpuDuty: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cpu_duty_fraction",
			Help:      "Achieved CPU duty fraction of the last cycle",
		}),
		memoryBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_allocated_bytes",
			Help:      "Bytes allocated and touched in the last memory cycle",
		}),
		runState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_state",
			Help:      "Run state: 0 initialized, 1 running, 2 completed, 3 cancelled, 4 failed",
		}),

		hostCPUPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_percent",
			Help:      "Host CPU utilisation percent",
		}),
		hostMemoryPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_percent",
			Help:      "Host memory utilisation percent",
		}),
		hostMemoryUsed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_used_bytes",
			Help:      "Host memory in use",
		}),
		hostDiskPercent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_disk_percent",
			Help:      "Host root filesystem utilisation percent",
		}),
		hostNetSent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_net_sent_bytes",
			Help:      "Cumulative host network bytes sent",
		}),
		hostNetRecv: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_net_recv_bytes",
			Help:      "Cumulative host network bytes received",
		}),
	}
}

func (p *promInstruments) observeCycle(o CycleObservation) {
	status := "success"
	if !o.Succeeded {
		status = "failure"
		p.cycleFailuresTotal.WithLabelValues(o.Worker, o.FailureKind).Inc()
	}
	p.cyclesTotal.WithLabelValues(o.Worker, status).Inc()
	p.cycleDuration.WithLabelValues(o.Worker).Observe(o.Elapsed.Seconds())

	switch o.Worker {
	case WorkerCPU:
		if o.Succeeded || o.Duty > 0 {
			p.cpuDuty.Set(o.Duty)
		}
	case WorkerMemory:
		if o.Succeeded {
			p.memoryBytes.Set(float64(o.TouchedBytes))
		}
	case WorkerStorage:
		if o.UploadedBytes > 0 {
			p.bytesUploadedTotal.Add(float64(o.UploadedBytes))
			p.objectsUploadedTotal.Inc()
			p.uploadLatency.Observe(o.UploadLatency.Seconds())
		}
		if o.Deleted {
			p.objectsDeletedTotal.Inc()
		}
		if o.Orphaned {
			p.objectsOrphanedTotal.Inc()
		}
	}
}

func (p *promInstruments) observeTick(drifted bool) {
	p.ticksTotal.Inc()
	if drifted {
		p.tickDriftsTotal.Inc()
	}
}

func (p *promInstruments) observeHost(s HostSample) {
	p.hostCPUPercent.Set(s.CPUPercent)
	p.hostMemoryPercent.Set(s.MemoryPercent)
	p.hostMemoryUsed.Set(float64(s.MemoryUsedBytes))
	p.hostDiskPercent.Set(s.DiskPercent)
	p.hostNetSent.Set(float64(s.NetBytesSent))
	p.hostNetRecv.Set(float64(s.NetBytesRecv))
}

func (p *promInstruments) setRunState(state string) {
	if v, ok := runStateValues[state]; ok {
		p.runState.Set(v)
	}
}

// Registry exposes the run-scoped Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.prom.registry
}

// Handler returns the scrape handler for the run's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.prom.registry, promhttp.HandlerOpts{})
}
