package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/stresspilot/stresspilot/internal/metrics"
)

// PrintReport outputs a human-readable summary of a finished run.
func PrintReport(w io.Writer, state string, stats metrics.Stats) {
	fmt.Fprintln(w, "\n--- Load Test Summary ---")
	fmt.Fprintf(w, "State:             %s\n", state)
	fmt.Fprintf(w, "Duration:          %s\n", stats.Duration)
	fmt.Fprintf(w, "Ticks:             %d\n", stats.Ticks)
	if stats.Drifts > 0 {
		fmt.Fprintf(w, "Drifted Ticks:     %d\n", stats.Drifts)
	}

	if len(stats.Workers) > 0 {
		fmt.Fprintln(w, "\nWorkers:")
		names := make([]string, 0, len(stats.Workers))
		for name := range stats.Workers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ws := stats.Workers[name]
			fmt.Fprintf(w, "  - %s: cycles=%d, failures=%d\n", name, ws.Cycles, ws.Failures)
			if len(ws.Errors) > 0 {
				kinds := make([]string, 0, len(ws.Errors))
				for kind := range ws.Errors {
					kinds = append(kinds, kind)
				}
				sort.Strings(kinds)
				for _, kind := range kinds {
					fmt.Fprintf(w, "      %s: %d\n", kind, ws.Errors[kind])
				}
			}
		}
	}

	fmt.Fprintln(w, "\nStorage:")
	fmt.Fprintf(w, "  Uploaded:        %d objects, %s\n", stats.ObjectsUploaded, formatBytes(stats.BytesUploaded))
	fmt.Fprintf(w, "  Deleted:         %d objects\n", stats.ObjectsDeleted)
	if stats.ObjectsOrphaned > 0 {
		fmt.Fprintf(w, "  Orphaned:        %d objects\n", stats.ObjectsOrphaned)
	}
	if stats.UploadThroughputMBs > 0 {
		fmt.Fprintf(w, "  Throughput:      %.2f MB/s\n", stats.UploadThroughputMBs)
	}

	if stats.ObjectsUploaded > 0 {
		fmt.Fprintln(w, "\nUpload Latency:")
		fmt.Fprintf(w, "  Min:             %s\n", stats.UploadMinLatency)
		fmt.Fprintf(w, "  Max:             %s\n", stats.UploadMaxLatency)
		fmt.Fprintf(w, "  Mean:            %s\n", stats.UploadMeanLatency)
		fmt.Fprintf(w, "  P50:             %s\n", stats.UploadP50Latency)
		fmt.Fprintf(w, "  P90:             %s\n", stats.UploadP90Latency)
		fmt.Fprintf(w, "  P99:             %s\n", stats.UploadP99Latency)
	}

	fmt.Fprintln(w, "\nNetwork Traffic:")
	fmt.Fprintf(w, "  Sent:            %s\n", formatBytes(int64(stats.NetSentBytes)))
	fmt.Fprintf(w, "  Received:        %s\n", formatBytes(int64(stats.NetRecvBytes)))
}

// PrintJSONReport outputs a machine-readable report.
func PrintJSONReport(w io.Writer, state string, stats metrics.Stats) error {
	doc := struct {
		State string `json:"state"`
		metrics.Stats
	}{State: state, Stats: stats}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.2f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
