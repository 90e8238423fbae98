package runner

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/dvelasquez/node-perf/internal/artifact"
	"github.com/dvelasquez/node-perf/internal/logging"
)

// Options configure the Runner.
type Options struct {
	Warmup  int           // trigger-only iterations before sampling
	Samples int           // trigger+drain iterations that are recorded
	Delay   time.Duration // pause after every iteration
	Target  Target        // service under test (required)
	RunInfo artifact.RunInfo
	Label   string          // artifact directory label
	Writer  artifact.Writer // nil skips persistence

	// OnIteration, when set, is called after every completed iteration with
	// the 1-based iteration number and the number of entries drained so far.
	OnIteration func(phase Phase, done, total, entries int)

	Logger *zap.Logger
	Tracer trace.Tracer
	Sleep  func(ctx context.Context, d time.Duration) error // optional injection for tests
	Now    func() time.Time
}

// DefaultLabel names the artifact directory when Options.Label is empty.
const DefaultLabel = "perf-target"

func (o *Options) normalize() {
	if o.Warmup < 0 {
		o.Warmup = 0
	}
	if o.Samples < 0 {
		o.Samples = 0
	}
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.Label == "" {
		o.Label = DefaultLabel
	}
	if o.Logger == nil {
		o.Logger = logging.Nop()
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer("node-perf/runner")
	}
	if o.Sleep == nil {
		o.Sleep = sleepContext
	}
	if o.OnIteration == nil {
		o.OnIteration = func(Phase, int, int, int) {}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
