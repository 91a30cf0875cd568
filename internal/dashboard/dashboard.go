// Package dashboard renders a live terminal UI for a running load test.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/stresspilot/stresspilot/internal/metrics"
)

// RunConfig holds the run parameters shown in the summary panel.
type RunConfig struct {
	Endpoint        string // storage endpoint
	Bucket          string // target bucket
	DurationMinutes int
	IntervalSeconds int
	CPUIntensity    int // percent
	MemorySizeMB    int
	FileSizeMB      int
	ConfigFile      string // path to config file if used
}

// Dashboard renders a live terminal UI for load generator metrics.
type Dashboard struct {
	collector    *metrics.Collector
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownFunc func()
	wg           sync.WaitGroup
	mu           sync.Mutex

	// Widgets
	grid           *ui.Grid
	latencySparkle *widgets.SparklineGroup
	latencyPara    *widgets.Paragraph
	cpuGauge       *widgets.Gauge
	workerList     *widgets.List
	errorList      *widgets.List
	summaryPara    *widgets.Paragraph
	storagePara    *widgets.Paragraph
	latencyHistory []float64
	startTime      time.Time
	runDuration    time.Duration
	runConfig      RunConfig
}

// New creates a new Dashboard.
func New(collector *metrics.Collector, cfg RunConfig, shutdownFunc func()) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dashboard{
		collector:      collector,
		ctx:            ctx,
		cancel:         cancel,
		shutdownFunc:   shutdownFunc,
		latencyHistory: make([]float64, 0, 100),
		startTime:      time.Now(),
		runConfig:      cfg,
	}

	d.initWidgets()
	d.setupGrid()

	return d, nil
}

// initWidgets initializes all dashboard widgets.
func (d *Dashboard) initWidgets() {
	// Upload latency sparkline
	sparkline := widgets.NewSparkline()
	sparkline.Title = "Upload Latency (ms)"
	sparkline.LineColor = ui.ColorGreen
	sparkline.Data = []float64{0}

	d.latencySparkle = widgets.NewSparklineGroup(sparkline)
	d.latencySparkle.Title = "Upload Latency"
	d.latencySparkle.BorderStyle.Fg = ui.ColorCyan

	// Latency Metrics Paragraph
	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Latency Stats"
	d.latencyPara.Text = "Min: 0ms\nMean: 0ms\nP50: 0ms\nP90: 0ms\nP99: 0ms"
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	// CPU Duty Gauge
	d.cpuGauge = widgets.NewGauge()
	d.cpuGauge.Title = "CPU Duty"
	d.cpuGauge.Percent = 0
	d.cpuGauge.BarColor = ui.ColorBlue
	d.cpuGauge.BorderStyle.Fg = ui.ColorCyan
	d.cpuGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	// Failure Kind List
	d.errorList = widgets.NewList()
	d.errorList.Title = "Failures"
	d.errorList.Rows = []string{"No failures"}
	d.errorList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.errorList.BorderStyle.Fg = ui.ColorCyan

	// Worker List
	d.workerList = widgets.NewList()
	d.workerList.Title = "Workers"
	d.workerList.Rows = []string{"Awaiting data"}
	d.workerList.TextStyle = ui.NewStyle(ui.ColorCyan)
	d.workerList.BorderStyle.Fg = ui.ColorCyan

	// Summary Paragraph
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Run Summary"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	// Storage Paragraph
	d.storagePara = widgets.NewParagraph()
	d.storagePara.Title = "Storage"
	d.storagePara.Text = "Waiting for data..."
	d.storagePara.BorderStyle.Fg = ui.ColorCyan
}

// setupGrid configures the layout grid.
func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)

	d.grid.Set(
		ui.NewRow(0.16,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.20,
			ui.NewCol(0.5, d.cpuGauge),
			ui.NewCol(0.5, d.storagePara),
		),
		ui.NewRow(0.30,
			ui.NewCol(0.65, d.latencySparkle),
			ui.NewCol(0.35, d.latencyPara),
		),
		ui.NewRow(0.34,
			ui.NewCol(0.5, d.workerList),
			ui.NewCol(0.5, d.errorList),
		),
	)
}

// Start begins the dashboard update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop stops the dashboard and cleans up.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	d.runDuration = time.Since(d.startTime)
	ui.Close()
	// Give terminal time to restore
	time.Sleep(100 * time.Millisecond)
}

// GetFinalStats returns the final statistics after the dashboard has stopped.
func (d *Dashboard) GetFinalStats() metrics.Stats {
	return d.collector.Stats(d.runDuration)
}

// run is the main dashboard update loop.
func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()

	d.render()

	for {
		select {
		case <-d.ctx.Done():
			// Drain any remaining events
			for len(uiEvents) > 0 {
				<-uiEvents
			}
			return
		case e := <-uiEvents:
			// Check if context is done to avoid blocking
			select {
			case <-d.ctx.Done():
				return
			default:
			}

			switch e.ID {
			case "q", "<C-c>":
				if d.shutdownFunc != nil {
					d.shutdownFunc()
				}
				// Do not return here; wait for Stop() to cancel context
			case "<Resize>":
				payload := e.Payload.(ui.Resize)
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				ui.Clear()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

// update refreshes all widget data from the collector.
func (d *Dashboard) update() {
	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := time.Since(d.startTime)
	stats := d.collector.Stats(elapsed)

	// Update latency history for sparkline
	if stats.UploadMeanMs > 0 {
		d.latencyHistory = append(d.latencyHistory, stats.UploadMeanMs)
		if len(d.latencyHistory) > 100 {
			d.latencyHistory = d.latencyHistory[1:]
		}
		d.latencySparkle.Sparklines[0].Data = d.latencyHistory
		d.latencySparkle.Title = fmt.Sprintf(
			"Upload Latency | Mean: %.2fms | Min: %.2fms | Max: %.2fms",
			stats.UploadMeanMs,
			stats.UploadMinMs,
			stats.UploadMaxMs,
		)
	}

	dutyPercent := int(stats.LastCPUDuty * 100)
	if dutyPercent > 100 {
		dutyPercent = 100
	}
	d.cpuGauge.Percent = dutyPercent
	d.cpuGauge.Label = fmt.Sprintf("%.1f%% measured (target %d%%)", stats.LastCPUDuty*100, d.runConfig.CPUIntensity)

	d.summaryPara.Text = fmt.Sprintf(
		"Target: %s/%s\n%s\nElapsed: %s | Ticks: %d | Drifted: %d",
		d.runConfig.Endpoint,
		d.runConfig.Bucket,
		d.formatRunParams(),
		elapsed.Round(time.Second),
		stats.Ticks,
		stats.Drifts,
	)

	d.storagePara.Text = fmt.Sprintf(
		"Uploaded:   %d objects (%.1f MiB)\nDeleted:    %d objects\nOrphaned:   %d objects\nThroughput: %.2f MB/s\nMemory:     %.1f MiB held/cycle",
		stats.ObjectsUploaded,
		float64(stats.BytesUploaded)/(1<<20),
		stats.ObjectsDeleted,
		stats.ObjectsOrphaned,
		stats.UploadThroughputMBs,
		float64(stats.LastMemoryBytes)/(1<<20),
	)

	d.latencyPara.Text = fmt.Sprintf(
		"Min:  %.2fms\nMean: %.2fms\nP50:  %.2fms\nP90:  %.2fms\nP99:  %.2fms",
		stats.UploadMinMs,
		stats.UploadMeanMs,
		stats.UploadP50Ms,
		stats.UploadP90Ms,
		stats.UploadP99Ms,
	)

	d.errorList.Rows = formatFailureRows(stats.Workers)
	d.workerList.Rows = formatWorkerRows(stats.Workers)
}

// render draws all widgets to the screen.
func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()

	ui.Render(d.grid)
}

func formatWorkerRows(workers map[string]metrics.WorkerStats) []string {
	if len(workers) == 0 {
		return []string{"[Awaiting data](fg:green)"}
	}
	names := make([]string, 0, len(workers))
	for name := range workers {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([]string, 0, len(names))
	for _, name := range names {
		ws := workers[name]
		rows = append(rows, fmt.Sprintf("[%s](fg:cyan) | cycles %4d | failures %d", name, ws.Cycles, ws.Failures))
	}
	return rows
}

func formatFailureRows(workers map[string]metrics.WorkerStats) []string {
	type failureRow struct {
		worker string
		kind   string
		count  int64
	}
	var rows []failureRow
	for worker, ws := range workers {
		for kind, count := range ws.Errors {
			rows = append(rows, failureRow{worker: worker, kind: kind, count: count})
		}
	}
	if len(rows) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count == rows[j].count {
			return rows[i].worker+rows[i].kind < rows[j].worker+rows[j].kind
		}
		return rows[i].count > rows[j].count
	})
	maxRows := len(rows)
	if maxRows > 10 {
		maxRows = 10
	}
	formatted := make([]string, 0, maxRows)
	for i := 0; i < maxRows; i++ {
		row := rows[i]
		formatted = append(formatted, fmt.Sprintf("[%s %s](fg:red) %d", strings.ToUpper(row.worker), row.kind, row.count))
	}
	return formatted
}

// formatRunParams formats the run configuration parameters for display.
func (d *Dashboard) formatRunParams() string {
	var parts []string

	if d.runConfig.CPUIntensity > 0 {
		parts = append(parts, fmt.Sprintf("CPU: %d%%", d.runConfig.CPUIntensity))
	}
	if d.runConfig.MemorySizeMB > 0 {
		parts = append(parts, fmt.Sprintf("Memory: %dMB", d.runConfig.MemorySizeMB))
	}
	if d.runConfig.FileSizeMB > 0 {
		parts = append(parts, fmt.Sprintf("Object: %dMB", d.runConfig.FileSizeMB))
	}
	if d.runConfig.DurationMinutes > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %dm", d.runConfig.DurationMinutes))
	}
	if d.runConfig.IntervalSeconds > 0 {
		parts = append(parts, fmt.Sprintf("Interval: %ds", d.runConfig.IntervalSeconds))
	}
	if d.runConfig.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", d.runConfig.ConfigFile))
	}

	if len(parts) == 0 {
		return ""
	}

	return strings.Join(parts, " | ")
}
