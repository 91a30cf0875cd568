package threshold

import (
	"testing"

	"github.com/stresspilot/stresspilot/internal/metrics"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Threshold
		wantError bool
	}{
		{
			name:  "valid p99 latency threshold",
			input: "upload_latency:p99 < 500",
			want: Threshold{
				Metric:    "upload_latency",
				Aggregate: "p99",
				Operator:  "<",
				Value:     500,
				Raw:       "upload_latency:p99 < 500",
			},
		},
		{
			name:  "valid failure rate threshold",
			input: "cycles_failed:rate < 0.01",
			want: Threshold{
				Metric:    "cycles_failed",
				Aggregate: "rate",
				Operator:  "<",
				Value:     0.01,
				Raw:       "cycles_failed:rate < 0.01",
			},
		},
		{
			name:  "valid orphan count with ==",
			input: "objects_orphaned:count == 0",
			want: Threshold{
				Metric:    "objects_orphaned",
				Aggregate: "count",
				Operator:  "==",
				Value:     0,
				Raw:       "objects_orphaned:count == 0",
			},
		},
		{
			name:  "valid throughput threshold with >",
			input: "upload_throughput:rate > 5",
			want: Threshold{
				Metric:    "upload_throughput",
				Aggregate: "rate",
				Operator:  ">",
				Value:     5,
				Raw:       "upload_throughput:rate > 5",
			},
		},
		{name: "empty string", input: "", wantError: true},
		{name: "missing aggregate", input: "upload_latency < 500", wantError: true},
		{name: "unknown metric", input: "http_req_duration:p95 < 500", wantError: true},
		{name: "unknown aggregate", input: "upload_latency:p42 < 500", wantError: true},
		{name: "bad operator", input: "upload_latency:p99 ! 500", wantError: true},
		{name: "non-numeric value", input: "upload_latency:p99 < abc", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantError {
				if err == nil {
					t.Fatalf("Parse(%q) expected error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseMultiple(t *testing.T) {
	got, err := ParseMultiple([]string{
		"upload_latency:p99 < 500",
		"cycles_failed:rate < 0.05",
	})
	if err != nil {
		t.Fatalf("ParseMultiple: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}

	if _, err := ParseMultiple([]string{"upload_latency:p99 < 500", "bogus"}); err == nil {
		t.Fatal("ParseMultiple with an invalid entry should error")
	}

	if got, err := ParseMultiple(nil); err != nil || got != nil {
		t.Fatalf("ParseMultiple(nil) = %v, %v; want nil, nil", got, err)
	}
}

func testStats() metrics.Stats {
	return metrics.Stats{
		Workers: map[string]metrics.WorkerStats{
			"cpu":     {Cycles: 100},
			"memory":  {Cycles: 100},
			"storage": {Cycles: 100, Failures: 2},
		},
		ObjectsOrphaned:     1,
		Drifts:              4,
		UploadP50Ms:         40,
		UploadP90Ms:         120,
		UploadP99Ms:         410,
		UploadMeanMs:        55,
		UploadMinMs:         12,
		UploadMaxMs:         480,
		UploadThroughputMBs: 8.5,
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantPass bool
	}{
		{"p99 under limit", "upload_latency:p99 < 500", true},
		{"p99 over limit", "upload_latency:p99 < 400", false},
		{"p95 approximated", "upload_latency:p95 < 300", true},
		{"mean latency", "upload_latency:avg <= 55", true},
		{"failure rate passes", "cycles_failed:rate < 0.01", true},
		{"failure count fails", "cycles_failed:count < 2", false},
		{"orphans present", "objects_orphaned:count == 0", false},
		{"throughput floor", "upload_throughput:rate > 5", true},
		{"drift ceiling", "tick_drift:count < 3", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.input, err)
			}
			results := NewEvaluator([]Threshold{th}).Evaluate(testStats())
			if len(results) != 1 {
				t.Fatalf("got %d results, want 1", len(results))
			}
			if results[0].Pass != tt.wantPass {
				t.Errorf("%q pass = %v, want %v (actual %.2f)", tt.input, results[0].Pass, tt.wantPass, results[0].Actual)
			}
		})
	}
}

func TestEvaluateEmpty(t *testing.T) {
	if got := NewEvaluator(nil).Evaluate(testStats()); got != nil {
		t.Errorf("Evaluate with no thresholds = %v, want nil", got)
	}
}

func TestEvaluateUnsupportedAggregate(t *testing.T) {
	th := Threshold{Metric: "objects_orphaned", Aggregate: "rate", Operator: "<", Value: 1, Raw: "objects_orphaned:rate < 1"}
	results := NewEvaluator([]Threshold{th}).Evaluate(testStats())
	if len(results) != 1 || results[0].Pass {
		t.Fatalf("expected a failing result for unsupported aggregate, got %+v", results)
	}
}
