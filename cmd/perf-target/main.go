// Command perf-target serves an instrumented endpoint whose timing entries
// can be drained by perf-sample.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dvelasquez/node-perf/internal/config"
	"github.com/dvelasquez/node-perf/internal/entry"
	"github.com/dvelasquez/node-perf/internal/logging"
	"github.com/dvelasquez/node-perf/internal/server"
	"github.com/dvelasquez/node-perf/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.LoadTarget(args)
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

	return serve(ctx, *cfg, logger)
}

func serve(ctx context.Context, cfg config.TargetConfig, logger *zap.Logger) error {
	provider, err := tracing.Init(ctx, cfg.Tracing, tracing.RoleTarget)
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

	s, err := server.New(server.Options{
		ExternalURL:        cfg.ExternalURL,
		FetchTimeout:       cfg.FetchTimeout,
		Kinds:              entry.ParseKinds(cfg.Kinds),
		RecordMeasures:     cfg.RecordMeasures,
		IncludePaths:       cfg.IncludePaths,
		ResourceBufferSize: cfg.ResourceBufferSize,
		Logger:             logger,
		Tracer:             provider.Tracer(),
	})
	if err != nil {
		return err
	}
	defer s.Close()

	logger.Info("perf-target starting",
		zap.String("addr", cfg.Addr),
		zap.String("external_url", cfg.ExternalURL),
		zap.Any("observed_kinds", s.RunInfo().ObservedKinds),
	)
	return s.ListenAndServe(ctx, cfg.Addr)
}
