// Command perf-sample drives warmup and sampling iterations against a
// perf-target instance and writes the drained entries to disk.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dvelasquez/node-perf/internal/artifact"
	"github.com/dvelasquez/node-perf/internal/config"
	"github.com/dvelasquez/node-perf/internal/httpclient"
	"github.com/dvelasquez/node-perf/internal/logging"
	"github.com/dvelasquez/node-perf/internal/output"
	"github.com/dvelasquez/node-perf/internal/runner"
	"github.com/dvelasquez/node-perf/internal/threshold"
	"github.com/dvelasquez/node-perf/internal/tracing"
)

const (
	progressInterval = time.Second
	baseRetryDelay   = 100 * time.Millisecond
	maxRetryDelay    = 5 * time.Second
	shutdownTimeout  = 5 * time.Second
)

type jitterSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.LoadSampler(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logging.Flush(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return sample(ctx, *cfg, logger, os.Stdout)
}

func sample(ctx context.Context, cfg config.SamplerConfig, logger *zap.Logger, stdout io.Writer) error {
	thresholds, err := threshold.ParseMultiple(cfg.Thresholds)
	if err != nil {
		return err
	}

	provider, err := tracing.Init(ctx, cfg.Tracing, tracing.RoleSampler, tracing.WithRunLabel(cfg.Label))
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	client := httpclient.NewClient(cfg.Timeout)
	defer client.CloseIdleConnections()

	httpTarget, err := runner.NewHTTPTarget(client, cfg.Target, cfg.TriggerPath, cfg.DrainPath)
	if err != nil {
		return err
	}
	httpTarget.Propagate = provider.ShouldPropagate()

	var target runner.Target = httpTarget
	if cfg.Retries > 0 {
		target = runner.WithRetry(target, newRetryPolicy(cfg.Retries))
	}

	writer, err := newWriter(ctx, cfg, logger)
	if err != nil {
		return err
	}

	opts := runner.Options{
		Warmup:  cfg.Warmup,
		Samples: cfg.Samples,
		Delay:   cfg.Delay,
		Target:  target,
		RunInfo: artifact.NewRunInfo(cfg.Target, cfg.Warmup, cfg.Samples, cfg.Delay, time.Now()),
		Label:   cfg.Label,
		Writer:  writer,
		Logger:  logger,
		Tracer:  provider.Tracer(),
	}

	var progress *output.ProgressReporter
	if !cfg.JSONOutput {
		progress = output.NewProgressReporter(progressInterval, stdout)
		opts.OnIteration = func(phase runner.Phase, done, total, entries int) {
			progress.Update(phase.String(), done, total, entries)
		}
		progress.Start()
	}

	result, err := runner.New(opts).Run(ctx)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return err
	}

	report := output.RunReport{
		Label:      cfg.Label,
		Location:   result.Location,
		Duration:   result.Duration,
		DurationMs: float64(result.Duration) / float64(time.Millisecond),
		Summary:    result.Summary,
		Latency:    result.Latency,
		Statuses:   result.Statuses,
		Thresholds: threshold.NewEvaluator(thresholds).Evaluate(result.Latency, result.Statuses),
	}
	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, report); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(stdout, "Saved to %s\n", result.Location)
		output.PrintReport(stdout, report)
	}

	if failed := threshold.Failed(report.Thresholds); failed > 0 {
		return fmt.Errorf("%d of %d thresholds failed", failed, len(report.Thresholds))
	}
	return nil
}

// newWriter returns the local artifact writer, mirrored to S3 when a bucket
// is configured.
func newWriter(ctx context.Context, cfg config.SamplerConfig, logger *zap.Logger) (artifact.Writer, error) {
	writers := artifact.MultiWriter{artifact.NewFSWriter(cfg.Out, logger)}
	if cfg.S3.Enabled() {
		mirror, err := artifact.NewS3Mirror(ctx, cfg.S3.Region, cfg.S3.Bucket, cfg.S3.Prefix, logger)
		if err != nil {
			return nil, err
		}
		writers = append(writers, mirror)
	}
	return writers, nil
}

func newRetryPolicy(retries int) runner.RetryPolicy {
	source := &jitterSource{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}

	return runner.RetryPolicy{
		MaxAttempts: retries + 1,
		ShouldRetry: runner.RetryableError,
		DelayFunc: func(attempt int, err error) time.Duration {
			if attempt < 1 {
				attempt = 1
			}
			backoff := time.Duration(1<<uint(attempt-1)) * baseRetryDelay
			if backoff > maxRetryDelay {
				backoff = maxRetryDelay
			}
			return backoff + source.jitter(backoff/2)
		},
	}
}

func (j *jitterSource) jitter(max time.Duration) time.Duration {
	if j == nil || max <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Duration(j.rnd.Int63n(int64(max)))
}
