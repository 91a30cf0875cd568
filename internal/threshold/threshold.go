// Package threshold evaluates pass/fail assertions against the final run
// statistics, so CI jobs can gate on storage latency or failure rates.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/stresspilot/stresspilot/internal/metrics"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Metric    string  // e.g., "upload_latency", "cycles_failed"
	Aggregate string  // e.g., "p99", "avg", "rate", "count"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

// Evaluator evaluates thresholds against collected metrics.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the provided stats.
func (e *Evaluator) Evaluate(stats metrics.Stats) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, e.evaluateOne(t, stats))
	}
	return results
}

func (e *Evaluator) evaluateOne(t Threshold, stats metrics.Stats) Result {
	actual, err := extractMetricValue(t, stats)
	if err != nil {
		return Result{
			Threshold: t,
			Actual:    0,
			Pass:      false,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	message := fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value)
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   message,
	}
}

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "upload_latency:p99 < 500"      (upload latency percentile in ms)
// - "upload_latency:avg < 200"      (average upload latency in ms)
// - "cycles_failed:rate < 0.01"     (failed cycle rate as decimal)
// - "cycles_failed:count < 10"      (failed cycle count)
// - "objects_orphaned:count == 0"   (objects left behind)
// - "upload_throughput:rate > 5"    (upload throughput in MB/s)
// - "tick_drift:count < 3"          (ticks overrunning the interval)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	// Pattern: metric:aggregate operator value
	// e.g., "upload_latency:p99 < 500"
	pattern := regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)
	matches := pattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'upload_latency:p99 < 500')", s)
	}

	metric := matches[1]
	aggregate := matches[2]
	operator := matches[3]
	valueStr := matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	if !isValidMetric(metric) {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: upload_latency, cycles_failed, objects_orphaned, upload_throughput, tick_drift)", metric)
	}
	if !isValidAggregate(aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate: %q (supported: p50, p90, p95, p99, avg, min, max, rate, count)", aggregate)
	}
	if !isValidOperator(operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errors []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errors = append(errors, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errors, "; "))
	}

	return result, nil
}

func isValidMetric(metric string) bool {
	valid := []string{"upload_latency", "cycles_failed", "objects_orphaned", "upload_throughput", "tick_drift"}
	for _, v := range valid {
		if metric == v {
			return true
		}
	}
	return false
}

func isValidAggregate(aggregate string) bool {
	valid := []string{"p50", "p90", "p95", "p99", "avg", "min", "max", "rate", "count"}
	for _, v := range valid {
		if aggregate == v {
			return true
		}
	}
	return false
}

func isValidOperator(operator string) bool {
	valid := []string{"<", "<=", ">", ">=", "=="}
	for _, v := range valid {
		if operator == v {
			return true
		}
	}
	return false
}

func extractMetricValue(t Threshold, stats metrics.Stats) (float64, error) {
	switch t.Metric {
	case "upload_latency":
		return extractLatencyMetric(t.Aggregate, stats)
	case "cycles_failed":
		return extractFailureMetric(t.Aggregate, stats)
	case "objects_orphaned":
		if t.Aggregate != "count" {
			return 0, fmt.Errorf("unsupported aggregate %q for objects_orphaned (use 'count')", t.Aggregate)
		}
		return float64(stats.ObjectsOrphaned), nil
	case "upload_throughput":
		if t.Aggregate != "rate" {
			return 0, fmt.Errorf("unsupported aggregate %q for upload_throughput (use 'rate')", t.Aggregate)
		}
		return stats.UploadThroughputMBs, nil
	case "tick_drift":
		if t.Aggregate != "count" {
			return 0, fmt.Errorf("unsupported aggregate %q for tick_drift (use 'count')", t.Aggregate)
		}
		return float64(stats.Drifts), nil
	default:
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
}

func extractLatencyMetric(aggregate string, stats metrics.Stats) (float64, error) {
	switch aggregate {
	case "p50":
		return stats.UploadP50Ms, nil
	case "p90":
		return stats.UploadP90Ms, nil
	case "p95":
		// Approximate p95 from p90 and p99
		return (stats.UploadP90Ms + stats.UploadP99Ms) / 2, nil
	case "p99":
		return stats.UploadP99Ms, nil
	case "avg", "mean":
		return stats.UploadMeanMs, nil
	case "min":
		return stats.UploadMinMs, nil
	case "max":
		return stats.UploadMaxMs, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for upload_latency", aggregate)
	}
}

func extractFailureMetric(aggregate string, stats metrics.Stats) (float64, error) {
	var cycles, failures int64
	for _, ws := range stats.Workers {
		cycles += ws.Cycles
		failures += ws.Failures
	}
	switch aggregate {
	case "count":
		return float64(failures), nil
	case "rate":
		if cycles == 0 {
			return 0, nil
		}
		return float64(failures) / float64(cycles), nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q for cycles_failed (use 'count' or 'rate')", aggregate)
	}
}

func compareValues(actual float64, operator string, expected float64) bool {
	// Handle floating point comparison with small epsilon
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
