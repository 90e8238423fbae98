package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dvelasquez/node-perf/internal/collector"
	"github.com/dvelasquez/node-perf/internal/entry"
	"github.com/dvelasquez/node-perf/internal/httpclient"
	"github.com/dvelasquez/node-perf/internal/logging"
	"github.com/dvelasquez/node-perf/internal/metrics"
	"github.com/dvelasquez/node-perf/internal/timeline"
	"github.com/dvelasquez/node-perf/internal/tracing"
)

const (
	isoMillis       = "2006-01-02T15:04:05.000Z07:00"
	recorderBuffer  = 1024
	shutdownTimeout = 5 * time.Second
)

// Options configure a Server.
type Options struct {
	ExternalURL        string
	FetchTimeout       time.Duration
	Kinds              []entry.Kind // defaults to entry.Kinds()
	RecordMeasures     bool
	IncludePaths       []string
	ResourceBufferSize int

	Registry *prometheus.Registry // nil creates a private registry
	Logger   *zap.Logger
	Tracer   trace.Tracer
	Now      func() time.Time
}

// RunInfo describes the serving process in every drain response.
type RunInfo struct {
	GoVersion     string       `json:"goVersion"`
	PID           int          `json:"pid"`
	StartedAt     string       `json:"startedAt"`
	ObservedKinds []entry.Kind `json:"observedKinds"`
}

// Server is the instrumented perf target.
type Server struct {
	opt       Options
	log       *zap.Logger
	timeline  *timeline.Timeline
	collector *collector.Collector
	recorder  *metrics.Recorder
	registry  *prometheus.Registry
	client    *http.Client
	upgrader  websocket.Upgrader
	runInfo   RunInfo
	handler   http.Handler

	streamsDone chan struct{}
	streamsOnce sync.Once
	closeOnce   sync.Once
}

// New builds the timeline, starts collecting and registers metrics. The
// caller must Close the server when done.
func New(opt Options) (*Server, error) {
	if opt.ExternalURL == "" {
		return nil, errors.New("server: external URL is required")
	}
	if len(opt.Kinds) == 0 {
		opt.Kinds = entry.Kinds()
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	if opt.Tracer == nil {
		opt.Tracer = otel.Tracer("node-perf/server")
	}
	log := logging.OrNop(opt.Logger).With(zap.String("component", "server"))

	var tlOpts []timeline.Option
	if opt.ResourceBufferSize > 0 {
		tlOpts = append(tlOpts, timeline.WithResourceBufferSize(opt.ResourceBufferSize))
	}
	tl := timeline.New(tlOpts...)

	col := collector.New(tl, collector.WithLogger(opt.Logger), collector.WithEntryLog(tl))
	observed, err := col.Start(opt.Kinds)
	if err != nil {
		tl.Close()
		return nil, err
	}

	reg := opt.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	rec, err := metrics.NewRecorder(reg, metrics.RecorderOptions{
		RecordMeasures: opt.RecordMeasures,
		IncludePaths:   opt.IncludePaths,
		Logger:         opt.Logger,
	})
	if err != nil {
		col.Stop()
		tl.Close()
		return nil, err
	}

	if observed == nil {
		observed = []entry.Kind{}
	}
	s := &Server{
		opt:       opt,
		log:       log,
		timeline:  tl,
		collector: col,
		recorder:  rec,
		registry:  reg,
		client:    httpclient.NewClient(opt.FetchTimeout, httpclient.WithTimeline(tl)),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		runInfo: RunInfo{
			GoVersion:     runtime.Version(),
			PID:           os.Getpid(),
			StartedAt:     opt.Now().UTC().Format(isoMillis),
			ObservedKinds: observed,
		},
		streamsDone: make(chan struct{}),
	}
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /data", s.handleData)
	api.HandleFunc("GET /perf-entries", s.handleDrain)
	api.Handle("GET /metrics", metrics.Handler(s.registry))
	api.HandleFunc("GET /healthz", s.handleHealth)

	// The stream endpoint hijacks the connection, which the gzip writer
	// does not support.
	root := http.NewServeMux()
	root.HandleFunc("GET /perf-entries/stream", s.handleStream)
	root.Handle("/", gzhttp.GzipHandler(s.timeline.Handler(api)))

	return tracing.Middleware(s.opt.Tracer, root)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Timeline exposes the host timeline so callers can add their own marks.
func (s *Server) Timeline() *timeline.Timeline {
	return s.timeline
}

// RunInfo returns the process description sent with every drain.
func (s *Server) RunInfo() RunInfo {
	return s.runInfo
}

// Flush waits until every emitted event has reached the collector.
func (s *Server) Flush(ctx context.Context) error {
	return s.timeline.Flush(ctx)
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln and feeds the metrics recorder from a live
// subscription. It returns after ctx is cancelled and the HTTP server has
// shut down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(s.log),
	}

	sub, cancel := s.collector.Subscribe(recorderBuffer)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.recorder.Consume(gctx, sub)
		return nil
	})
	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.closeStreams()
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.log.Info("server stopped", zap.Uint64("dropped", s.collector.Dropped()))
	return err
}

func (s *Server) closeStreams() {
	s.streamsOnce.Do(func() { close(s.streamsDone) })
}

// Close stops collection and the timeline. Safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.closeStreams()
		s.collector.Stop()
		s.timeline.Close()
		s.client.CloseIdleConnections()
	})
}
