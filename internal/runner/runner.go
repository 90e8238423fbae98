package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/dvelasquez/node-perf/internal/artifact"
	"github.com/dvelasquez/node-perf/internal/metrics"
	"github.com/dvelasquez/node-perf/internal/tracing"
)

// Phase is the lifecycle state of a Runner.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseWarmup
	PhaseSampling
	PhaseFinalized
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWarmup:
		return "warmup"
	case PhaseSampling:
		return "sampling"
	case PhaseFinalized:
		return "finalized"
	case PhaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// ErrAlreadyRun is returned when Run is called more than once.
var ErrAlreadyRun = errors.New("runner has already run")

// Result captures the outcome of a finalized run.
type Result struct {
	Records  []artifact.Record
	Summary  artifact.Summary
	Latency  map[string]metrics.Stats
	Statuses []metrics.StatusBucket
	Location string // where the artifacts were written, empty without a Writer
	Duration time.Duration
}

// Runner drives a target through warmup and sampling and persists what the
// sampling phase drained.
type Runner struct {
	opt   Options
	phase atomic.Int32
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt}
}

// Phase reports the current phase. Safe for concurrent use.
func (r *Runner) Phase() Phase {
	return Phase(r.phase.Load())
}

func (r *Runner) setPhase(p Phase) {
	r.phase.Store(int32(p))
	r.opt.Logger.Debug("phase changed", zap.Stringer("phase", p))
}

// Run executes the whole run on the calling goroutine. Iterations are strictly
// sequential. Any trigger, drain or write failure aborts the run; nothing is
// persisted unless every iteration succeeded.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if !r.phase.CompareAndSwap(int32(PhaseIdle), int32(PhaseWarmup)) {
		return Result{}, ErrAlreadyRun
	}
	res, err := r.run(ctx)
	if err != nil {
		r.setPhase(PhaseFailed)
		r.opt.Logger.Error("run failed", zap.Error(err))
		return Result{}, err
	}
	r.setPhase(PhaseFinalized)
	return res, nil
}

func (r *Runner) run(ctx context.Context) (Result, error) {
	opt := r.opt
	if opt.Target == nil {
		return Result{}, errors.New("runner: target is required")
	}
	start := opt.Now()
	fallback, err := json.Marshal(opt.RunInfo)
	if err != nil {
		return Result{}, fmt.Errorf("encode run info: %w", err)
	}

	opt.Logger.Info("warmup started", zap.Int("iterations", opt.Warmup))
	for i := 0; i < opt.Warmup; i++ {
		if err := r.iteration(ctx, PhaseWarmup, i, func(ctx context.Context) error {
			return opt.Target.Trigger(ctx)
		}); err != nil {
			return Result{}, err
		}
		opt.OnIteration(PhaseWarmup, i+1, opt.Warmup, 0)
		if err := opt.Sleep(ctx, opt.Delay); err != nil {
			return Result{}, err
		}
	}

	if opt.Warmup > 0 {
		// Warmup entries are left on the target; drop them before sampling.
		resp, err := opt.Target.Drain(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("discard warmup entries: %w", err)
		}
		opt.Logger.Debug("warmup entries discarded", zap.Int("entries", len(resp.Entries)))
	}

	r.setPhase(PhaseSampling)
	opt.Logger.Info("sampling started", zap.Int("iterations", opt.Samples))
	records := []artifact.Record{}
	latency := metrics.NewLatencyCollector()
	for i := 0; i < opt.Samples; i++ {
		var drained int
		err := r.iteration(ctx, PhaseSampling, i, func(ctx context.Context) error {
			if err := opt.Target.Trigger(ctx); err != nil {
				return err
			}
			resp, err := opt.Target.Drain(ctx)
			if err != nil {
				return err
			}
			info := json.RawMessage(fallback)
			if hasValue(resp.RunInfo) {
				info = resp.RunInfo
			}
			for _, e := range resp.Entries {
				records = append(records, artifact.Record{RunInfo: info, Entry: e})
				if err := latency.ObserveJSON(e); err != nil {
					opt.Logger.Debug("entry skipped by latency report", zap.Error(err))
				}
			}
			drained = len(resp.Entries)
			return nil
		})
		if err != nil {
			return Result{}, err
		}
		opt.Logger.Debug("sample drained", zap.Int("sample", i), zap.Int("entries", drained))
		opt.OnIteration(PhaseSampling, i+1, opt.Samples, len(records))
		if err := opt.Sleep(ctx, opt.Delay); err != nil {
			return Result{}, err
		}
	}

	summary := artifact.Summarize(records)
	var location string
	if opt.Writer != nil {
		location, err = opt.Writer.WriteRun(ctx, artifact.Run{
			Label:   opt.Label,
			Started: start,
			Info:    opt.RunInfo,
			Records: records,
			Summary: summary,
		})
		if err != nil {
			return Result{}, err
		}
	}

	return Result{
		Records:  records,
		Summary:  summary,
		Latency:  latency.Stats(),
		Statuses: latency.StatusBreakdown(),
		Location: location,
		Duration: opt.Now().Sub(start),
	}, nil
}

func (r *Runner) iteration(ctx context.Context, phase Phase, i int, fn func(context.Context) error) error {
	ctx, span := tracing.StartIterationSpan(ctx, r.opt.Tracer, phase.String(), i)
	err := fn(ctx)
	tracing.EndSpan(span, err, attribute.String("perf.label", r.opt.Label))
	if err != nil {
		return fmt.Errorf("%s iteration %d: %w", phase, i+1, err)
	}
	return nil
}

func hasValue(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
