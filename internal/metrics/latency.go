package metrics

import (
	"errors"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/tidwall/gjson"

	"github.com/dvelasquez/node-perf/internal/entry"
)

// LatencyCollector aggregates snapshot durations per entry kind.
type LatencyCollector struct {
	mu     sync.Mutex
	kinds  map[string]*kindLatency
	status map[string]map[string]int
}

type kindLatency struct {
	hist  *hdrhistogram.Histogram
	count int64
	min   time.Duration
	max   time.Duration
	sum   time.Duration
}

// Stats represents aggregated durations for one entry kind.
type Stats struct {
	Total       int64         `json:"total"`
	MinLatency  time.Duration `json:"-"`
	MaxLatency  time.Duration `json:"-"`
	MeanLatency time.Duration `json:"-"`
	P50Latency  time.Duration `json:"-"`
	P90Latency  time.Duration `json:"-"`
	P95Latency  time.Duration `json:"-"`
	P99Latency  time.Duration `json:"-"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64 `json:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms"`
}

func NewLatencyCollector() *LatencyCollector {
	return &LatencyCollector{
		kinds:  make(map[string]*kindLatency),
		status: make(map[string]map[string]int),
	}
}

// Observe records the duration of s under its kind.
func (c *LatencyCollector) Observe(s entry.Snapshot) {
	status := ""
	switch v := s.(type) {
	case entry.HTTPSnapshot:
		status = strconv.Itoa(v.Detail.Res.StatusCode)
	case entry.ResourceSnapshot:
		status = statusLabel(v.ResponseStatus)
	}
	c.record(string(s.EntryType()), s.EntryDuration(), status)
}

// ObserveJSON records a snapshot in its wire form without decoding all of it.
func (c *LatencyCollector) ObserveJSON(raw []byte) error {
	if !gjson.ValidBytes(raw) {
		return errors.New("observe latency: invalid JSON")
	}
	res := gjson.GetManyBytes(raw, "entryType", "duration", "detail.res.statusCode", "responseStatus")
	kind := res[0].String()
	if kind == "" {
		return errors.New("observe latency: missing entryType")
	}
	status := ""
	switch entry.Kind(kind) {
	case entry.KindHTTP:
		status = res[2].String()
	case entry.KindResource:
		status = statusUnknown
		if res[3].Exists() {
			status = res[3].String()
		}
	}
	c.record(kind, res[1].Float(), status)
	return nil
}

func (c *LatencyCollector) record(kind string, durationMs float64, status string) {
	if durationMs < 0 || math.IsNaN(durationMs) {
		durationMs = 0
	}
	latency := time.Duration(durationMs * float64(time.Millisecond))

	c.mu.Lock()
	defer c.mu.Unlock()

	k, ok := c.kinds[kind]
	if !ok {
		// Track latencies from 1µs up to 60s with 3 significant figures.
		k = &kindLatency{hist: hdrhistogram.New(1, 60_000_000, 3)}
		c.kinds[kind] = k
	}
	if latency > 0 {
		us := latency.Microseconds()
		if us < k.hist.LowestTrackableValue() {
			us = k.hist.LowestTrackableValue()
		}
		if us > k.hist.HighestTrackableValue() {
			us = k.hist.HighestTrackableValue()
		}
		_ = k.hist.RecordValue(us)
	}
	k.sum += latency
	if k.count == 0 || latency < k.min {
		k.min = latency
	}
	if latency > k.max {
		k.max = latency
	}
	k.count++

	if status != "" {
		if c.status[kind] == nil {
			c.status[kind] = make(map[string]int)
		}
		c.status[kind][status]++
	}
}

// Kinds returns the observed kinds in ascending order.
func (c *LatencyCollector) Kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]string, 0, len(c.kinds))
	for k := range c.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Stats computes per-kind statistics.
func (c *LatencyCollector) Stats() map[string]Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]Stats, len(c.kinds))
	for kind, k := range c.kinds {
		stats := Stats{
			Total:      k.count,
			MinLatency: k.min,
			MaxLatency: k.max,
		}
		if k.count > 0 {
			stats.MeanLatency = time.Duration(int64(k.sum) / k.count)
		}
		if k.hist.TotalCount() > 0 {
			stats.P50Latency = time.Duration(k.hist.ValueAtQuantile(50)) * time.Microsecond
			stats.P90Latency = time.Duration(k.hist.ValueAtQuantile(90)) * time.Microsecond
			stats.P95Latency = time.Duration(k.hist.ValueAtQuantile(95)) * time.Microsecond
			stats.P99Latency = time.Duration(k.hist.ValueAtQuantile(99)) * time.Microsecond
		}

		stats.MinLatencyMs = float64(stats.MinLatency) / float64(time.Millisecond)
		stats.MaxLatencyMs = float64(stats.MaxLatency) / float64(time.Millisecond)
		stats.MeanLatencyMs = float64(stats.MeanLatency) / float64(time.Millisecond)
		stats.P50LatencyMs = float64(stats.P50Latency) / float64(time.Millisecond)
		stats.P90LatencyMs = float64(stats.P90Latency) / float64(time.Millisecond)
		stats.P95LatencyMs = float64(stats.P95Latency) / float64(time.Millisecond)
		stats.P99LatencyMs = float64(stats.P99Latency) / float64(time.Millisecond)
		out[kind] = stats
	}
	return out
}

// StatusBreakdown returns per-kind status counts as sorted rows.
func (c *LatencyCollector) StatusBreakdown() []StatusBucket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return FlattenStatusBuckets(c.status)
}
