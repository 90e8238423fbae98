package metrics_test

import (
	"testing"
	"time"

	"github.com/dvelasquez/node-perf/internal/entry"
	"github.com/dvelasquez/node-perf/internal/metrics"
)

func TestLatencyCollectorPerKindStats(t *testing.T) {
	c := metrics.NewLatencyCollector()
	for _, d := range []float64{10, 20, 30} {
		c.Observe(httpSnap("GET", "/data", 200, d))
	}
	status := 200
	c.Observe(resourceSnap("https://a.test/x", &status, 100))

	stats := c.Stats()
	httpStats, ok := stats["http"]
	if !ok {
		t.Fatalf("missing http stats: %v", stats)
	}
	if httpStats.Total != 3 {
		t.Errorf("Total = %d, want 3", httpStats.Total)
	}
	if httpStats.MinLatency != 10*time.Millisecond || httpStats.MaxLatency != 30*time.Millisecond {
		t.Errorf("min/max = %v/%v", httpStats.MinLatency, httpStats.MaxLatency)
	}
	if httpStats.MeanLatency != 20*time.Millisecond {
		t.Errorf("MeanLatency = %v, want 20ms", httpStats.MeanLatency)
	}
	if httpStats.P50LatencyMs < 19 || httpStats.P50LatencyMs > 21 {
		t.Errorf("P50LatencyMs = %v, want ~20", httpStats.P50LatencyMs)
	}
	if stats["resource"].Total != 1 {
		t.Errorf("resource Total = %d, want 1", stats["resource"].Total)
	}

	kinds := c.Kinds()
	if len(kinds) != 2 || kinds[0] != "http" || kinds[1] != "resource" {
		t.Errorf("Kinds() = %v", kinds)
	}
}

func TestLatencyCollectorObserveJSON(t *testing.T) {
	c := metrics.NewLatencyCollector()
	if err := c.ObserveJSON([]byte(`{"entryType":"resource","name":"https://a.test/","duration":12.5}`)); err != nil {
		t.Fatalf("ObserveJSON() error = %v", err)
	}
	if err := c.ObserveJSON([]byte(`{"entryType":"http","duration":3,"detail":{"res":{"statusCode":404}}}`)); err != nil {
		t.Fatalf("ObserveJSON() error = %v", err)
	}
	if err := c.ObserveJSON([]byte(`{"duration":3}`)); err == nil {
		t.Error("expected error for missing entryType")
	}
	if err := c.ObserveJSON([]byte(`{`)); err == nil {
		t.Error("expected error for invalid JSON")
	}

	rows := c.StatusBreakdown()
	want := []metrics.StatusBucket{
		{Kind: "http", Status: "404", Count: 1},
		{Kind: "resource", Status: "unknown", Count: 1},
	}
	if len(rows) != len(want) {
		t.Fatalf("StatusBreakdown() = %v", rows)
	}
	for i := range want {
		if rows[i] != want[i] {
			t.Errorf("row %d = %v, want %v", i, rows[i], want[i])
		}
	}
}

func TestLatencyCollectorMeasuresHaveNoStatus(t *testing.T) {
	c := metrics.NewLatencyCollector()
	c.Observe(entry.MeasureSnapshot{Name: "m", Duration: 1})
	if rows := c.StatusBreakdown(); rows != nil {
		t.Errorf("StatusBreakdown() = %v, want nil", rows)
	}
	if c.Stats()["measure"].Total != 1 {
		t.Error("measure duration not recorded")
	}
}
