// Package threshold evaluates pass/fail assertions against the per-kind
// latency statistics of a sampling run.
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/dvelasquez/node-perf/internal/entry"
	"github.com/dvelasquez/node-perf/internal/metrics"
)

// Threshold represents a performance assertion that can pass or fail.
type Threshold struct {
	Kind      string  // entry kind, e.g. "http", "resource", "measure"
	Aggregate string  // e.g. "p95", "avg", "count", "error_rate"
	Operator  string  // e.g. "<", "<=", ">", ">=", "=="
	Value     float64 // the threshold value to compare against
	Raw       string  // original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold `json:"-"`
	Raw       string    `json:"threshold"`
	Actual    float64   `json:"actual"`
	Pass      bool      `json:"pass"`
	Message   string    `json:"message"`
}

// Evaluator evaluates thresholds against collected statistics.
type Evaluator struct {
	thresholds []Threshold
}

var pattern = regexp.MustCompile(`^([a-z]+):([a-z0-9_]+)\s*([<>=!]+)\s*([0-9.]+)$`)

var (
	latencyAggregates = []string{"p50", "p90", "p95", "p99", "avg", "min", "max"}
	countAggregates   = []string{"count", "errors", "error_rate"}
	operators         = []string{"<", "<=", ">", ">=", "=="}
)

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{thresholds: thresholds}
}

// Evaluate checks all thresholds. latency is keyed by entry kind; statuses
// feed the error aggregates, where any numeric status of 400 or above counts
// as an error.
func (e *Evaluator) Evaluate(latency map[string]metrics.Stats, statuses []metrics.StatusBucket) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, latency, statuses))
	}
	return results
}

// Failed counts the results that did not pass.
func Failed(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Pass {
			n++
		}
	}
	return n
}

func evaluateOne(t Threshold, latency map[string]metrics.Stats, statuses []metrics.StatusBucket) Result {
	actual, err := extractValue(t, latency, statuses)
	if err != nil {
		return Result{
			Threshold: t,
			Raw:       t.Raw,
			Message:   fmt.Sprintf("✗ %s: %v", t.Raw, err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}
	return Result{
		Threshold: t,
		Raw:       t.Raw,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

// Parse parses a threshold string into a Threshold.
// Supported formats:
//   - "http:p95 < 500"            (latency percentile in ms)
//   - "resource:avg < 200"        (mean duration in ms)
//   - "measure:max < 1000"        (max duration in ms)
//   - "resource:count >= 10"      (number of entries)
//   - "http:errors == 0"          (entries with status >= 400)
//   - "resource:error_rate < 0.01" (errors as a fraction of entries)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := pattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected kind:aggregate operator value, e.g. 'http:p95 < 500')", s)
	}
	kind, aggregate, operator, valueStr := matches[1], matches[2], matches[3], matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}
	if !isValidKind(kind) {
		return Threshold{}, fmt.Errorf("unsupported kind: %q (supported: http, resource, measure)", kind)
	}
	if !contains(latencyAggregates, aggregate) && !contains(countAggregates, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate: %q (supported: %s)", aggregate,
			strings.Join(append(append([]string{}, latencyAggregates...), countAggregates...), ", "))
	}
	if (aggregate == "errors" || aggregate == "error_rate") && entry.Kind(kind) == entry.KindMeasure {
		return Threshold{}, fmt.Errorf("aggregate %q needs a status and measure entries have none", aggregate)
	}
	if !contains(operators, operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Kind:      kind,
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
	var errs []string
	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errs, "; "))
	}
	return result, nil
}

func isValidKind(kind string) bool {
	for _, k := range entry.Kinds() {
		if string(k) == kind {
			return true
		}
	}
	return false
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func extractValue(t Threshold, latency map[string]metrics.Stats, statuses []metrics.StatusBucket) (float64, error) {
	stats := latency[t.Kind]
	switch t.Aggregate {
	case "count":
		return float64(stats.Total), nil
	case "errors":
		return float64(countErrors(t.Kind, statuses)), nil
	case "error_rate":
		if stats.Total == 0 {
			return 0, nil
		}
		return float64(countErrors(t.Kind, statuses)) / float64(stats.Total), nil
	}

	if stats.Total == 0 {
		return 0, fmt.Errorf("no %s entries were sampled", t.Kind)
	}
	switch t.Aggregate {
	case "p50":
		return stats.P50LatencyMs, nil
	case "p90":
		return stats.P90LatencyMs, nil
	case "p95":
		return stats.P95LatencyMs, nil
	case "p99":
		return stats.P99LatencyMs, nil
	case "avg":
		return stats.MeanLatencyMs, nil
	case "min":
		return stats.MinLatencyMs, nil
	case "max":
		return stats.MaxLatencyMs, nil
	default:
		return 0, fmt.Errorf("unsupported aggregate %q", t.Aggregate)
	}
}

// countErrors sums buckets of kind whose status is numeric and >= 400.
// "unknown" statuses are not errors.
func countErrors(kind string, statuses []metrics.StatusBucket) int {
	n := 0
	for _, b := range statuses {
		if b.Kind != kind {
			continue
		}
		code, err := strconv.Atoi(b.Status)
		if err == nil && code >= 400 {
			n += b.Count
		}
	}
	return n
}

func compareValues(actual float64, operator string, expected float64) bool {
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
