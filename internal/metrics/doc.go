// Package metrics turns timing snapshots into Prometheus series and run-level
// latency statistics.
//
// # Recorder
//
// [Recorder] classifies each snapshot by kind and records it into labelled
// collectors registered on a caller-supplied registry:
//
//	reg := prometheus.NewRegistry()
//	rec, err := metrics.NewRecorder(reg, metrics.RecorderOptions{Logger: log})
//	if err != nil {
//		return err
//	}
//	rec.RecordAll(collector.Drain())
//	http.Handle("/metrics", metrics.Handler(reg))
//
// Inbound requests are labelled {method, path, status}; outbound fetches are
// labelled {host, path, status, initiator} with host and path parsed from the
// entry name. Durations arrive in milliseconds and are observed in seconds.
//
// [Recorder.Record] returns a [*LabelError] when labels cannot be derived.
// [Recorder.RecordAll] and [Recorder.Consume] log the failure, count it in
// perf_record_errors_total and move on to the next snapshot.
//
// # Latency
//
// [LatencyCollector] keeps one HDR histogram per entry kind and reports
// min/max/mean and p50/p90/p99 through [Stats]. The sampling harness uses it
// for its end-of-run report.
package metrics
