package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dvelasquez/node-perf/internal/entry"
)

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	// Namespace prefixes every metric name when set.
	Namespace string
	// RecordMeasures adds a histogram for measure snapshots.
	RecordMeasures bool
	// IncludePaths limits http recording to these request URLs when non-empty.
	IncludePaths []string
	// Buckets overrides the histogram buckets (seconds).
	Buckets []float64
	Logger  *zap.Logger
}

// Recorder turns snapshots into Prometheus observations.
type Recorder struct {
	httpDuration     *prometheus.HistogramVec
	httpTotal        *prometheus.CounterVec
	resourceDuration *prometheus.HistogramVec
	resourceTotal    *prometheus.CounterVec
	recordErrors     *prometheus.CounterVec
	measureDuration  *prometheus.HistogramVec

	includePaths map[string]struct{}
	log          *zap.Logger
	logLimit     rate.Sometimes
}

// NewRecorder creates the recorder's collectors and registers them with reg
// (the default registerer when nil).
func NewRecorder(reg prometheus.Registerer, opts RecorderOptions) (*Recorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	buckets := opts.Buckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := &Recorder{
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "http_response_duration_seconds",
			Help:      "The duration of HTTP responses in seconds",
			Buckets:   buckets,
		}, []string{"method", "path", "status"}),
		httpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "http_requests_total",
			Help:      "The number of HTTP responses",
		}, []string{"method", "path", "status"}),
		resourceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "resource_duration_seconds",
			Help:      "The duration of outbound resource fetches in seconds",
			Buckets:   buckets,
		}, []string{"host", "path", "status", "initiator"}),
		resourceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "resource_requests_total",
			Help:      "The number of outbound resource fetches",
		}, []string{"host", "path", "status", "initiator"}),
		recordErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: opts.Namespace,
			Name:      "perf_record_errors_total",
			Help:      "Snapshots that could not be recorded",
		}, []string{"entry_type"}),
		log:      log.With(zap.String("component", "recorder")),
		logLimit: rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
	collectors := []prometheus.Collector{
		r.httpDuration, r.httpTotal, r.resourceDuration, r.resourceTotal, r.recordErrors,
	}
	if opts.RecordMeasures {
		r.measureDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: opts.Namespace,
			Name:      "measure_duration_seconds",
			Help:      "The duration of measured intervals in seconds",
			Buckets:   buckets,
		}, []string{"name"})
		collectors = append(collectors, r.measureDuration)
	}
	if len(opts.IncludePaths) > 0 {
		r.includePaths = make(map[string]struct{}, len(opts.IncludePaths))
		for _, p := range opts.IncludePaths {
			r.includePaths[p] = struct{}{}
		}
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Record observes one snapshot. Durations are converted from milliseconds to
// seconds. Measures are ignored unless RecordMeasures was set.
func (r *Recorder) Record(s entry.Snapshot) error {
	switch v := s.(type) {
	case entry.HTTPSnapshot:
		if r.includePaths != nil {
			if _, ok := r.includePaths[v.Detail.Req.URL]; !ok {
				return nil
			}
		}
		return r.observe(v.Detail.Req.URL, r.httpDuration, r.httpTotal, HTTPLabels(v), v.Duration)
	case entry.ResourceSnapshot:
		labels, err := ResourceLabels(v)
		if err != nil {
			return err
		}
		return r.observe(v.Name, r.resourceDuration, r.resourceTotal, labels, v.Duration)
	case entry.MeasureSnapshot:
		if r.measureDuration != nil {
			h, err := r.measureDuration.GetMetricWithLabelValues(v.Name)
			if err != nil {
				return &LabelError{Name: v.Name, Err: err}
			}
			h.Observe(v.Duration / 1000)
		}
	}
	return nil
}

// observe resolves both series before touching either, so a label value the
// registry rejects (invalid UTF-8) leaves no partial observation behind.
func (r *Recorder) observe(name string, hv *prometheus.HistogramVec, cv *prometheus.CounterVec, labels prometheus.Labels, ms float64) error {
	h, err := hv.GetMetricWith(labels)
	if err != nil {
		return &LabelError{Name: name, Err: err}
	}
	c, err := cv.GetMetricWith(labels)
	if err != nil {
		return &LabelError{Name: name, Err: err}
	}
	h.Observe(ms / 1000)
	c.Inc()
	return nil
}

// RecordAll records every snapshot, logging and counting failures instead of
// stopping. It returns the number of snapshots that failed.
func (r *Recorder) RecordAll(snaps []entry.Snapshot) int {
	failed := 0
	for _, s := range snaps {
		if !r.recordOrLog(s) {
			failed++
		}
	}
	return failed
}

// Consume records snapshots from ch until it is closed or ctx is done.
func (r *Recorder) Consume(ctx context.Context, ch <-chan entry.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-ch:
			if !ok {
				return
			}
			r.recordOrLog(s)
		}
	}
}

func (r *Recorder) recordOrLog(s entry.Snapshot) bool {
	err := r.Record(s)
	if err == nil {
		return true
	}
	r.recordErrors.WithLabelValues(string(s.EntryType())).Inc()
	r.logLimit.Do(func() {
		fields := []zap.Field{zap.String("entry_type", string(s.EntryType())), zap.Error(err)}
		var le *LabelError
		if errors.As(err, &le) {
			fields = append(fields, zap.String("name", le.Name))
		}
		r.log.Warn("failed to record snapshot", fields...)
	})
	return false
}

// Handler serves the text exposition of g.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
