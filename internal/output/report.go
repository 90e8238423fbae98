package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/dvelasquez/node-perf/internal/artifact"
	"github.com/dvelasquez/node-perf/internal/metrics"
	"github.com/dvelasquez/node-perf/internal/threshold"
)

// RunReport is what perf-sample prints once a run is finalized.
type RunReport struct {
	Label      string                   `json:"label"`
	Location   string                   `json:"location,omitempty"`
	Duration   time.Duration            `json:"-"`
	DurationMs float64                  `json:"duration_ms"`
	Summary    artifact.Summary         `json:"summary"`
	Latency    map[string]metrics.Stats `json:"latency"`
	Statuses   []metrics.StatusBucket   `json:"statuses,omitempty"`
	Thresholds []threshold.Result       `json:"thresholds,omitempty"`
}

// PrintReport outputs a human-readable summary of a run.
func PrintReport(w io.Writer, r RunReport) {
	fmt.Fprintln(w, "\n--- Sampling Results ---")
	fmt.Fprintf(w, "Label:             %s\n", r.Label)
	if r.Location != "" {
		fmt.Fprintf(w, "Artifacts:         %s\n", r.Location)
	}
	fmt.Fprintf(w, "Entries:           %d\n", r.Summary.Total)
	fmt.Fprintf(w, "Duration:          %s\n", r.Duration.Round(time.Millisecond))

	if len(r.Summary.Counts) > 0 {
		fmt.Fprintln(w, "\nEntry Counts:")
		for _, kind := range sortedKeys(r.Summary.Counts) {
			fmt.Fprintf(w, "  %-10s %d\n", kind, r.Summary.Counts[kind])
		}
	}

	if len(r.Latency) > 0 {
		fmt.Fprintln(w, "\nDuration by Kind:")
		kinds := make([]string, 0, len(r.Latency))
		for kind := range r.Latency {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			s := r.Latency[kind]
			fmt.Fprintf(w,
				"  - %s: total=%d, min=%s, mean=%s, p50=%s, p90=%s, p95=%s, p99=%s, max=%s\n",
				kind, s.Total, s.MinLatency, s.MeanLatency, s.P50Latency, s.P90Latency, s.P95Latency, s.P99Latency, s.MaxLatency,
			)
		}
	}

	if len(r.Statuses) > 0 {
		fmt.Fprintln(w, "\nStatus Buckets:")
		writeStatusBuckets(w, r.Statuses, "  ")
	}

	if len(r.Thresholds) > 0 {
		failed := threshold.Failed(r.Thresholds)
		fmt.Fprintf(w, "\nThresholds: %d passed, %d failed\n", len(r.Thresholds)-failed, failed)
		for _, res := range r.Thresholds {
			fmt.Fprintf(w, "  %s\n", res.Message)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted run report.
func PrintJSONReport(w io.Writer, r RunReport) error {
	r.DurationMs = float64(r.Duration) / float64(time.Millisecond)
	if r.Latency == nil {
		r.Latency = map[string]metrics.Stats{}
	}
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", out)
	return err
}

func writeStatusBuckets(w io.Writer, rows []metrics.StatusBucket, indent string) {
	for _, row := range rows {
		fmt.Fprintf(w, "%s%s %s: %d\n", indent, strings.ToUpper(row.Kind), row.Status, row.Count)
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
