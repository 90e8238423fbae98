package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterSamplerFlags registers the perf-sample flags on a cobra command.
func RegisterSamplerFlags(cmd *cobra.Command) {
	configureSamplerFlags(cmd.Flags())
}

// RegisterTargetFlags registers the perf-target flags on a cobra command.
func RegisterTargetFlags(cmd *cobra.Command) {
	configureTargetFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command used purely as a flag container.
func newFlagCommand(use string, configure func(*pflag.FlagSet)) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configure(cmd.Flags())
	return cmd
}

func configureSamplerFlags(flags *pflag.FlagSet) {
	// Run shape
	flags.String("target", DefaultTarget, "Base URL of the perf target")
	flags.Int("warmup", DefaultWarmup, "Warmup iterations (trigger only)")
	flags.Int("samples", DefaultSamples, "Sampling iterations (trigger then drain)")
	flags.Duration("delay", DefaultDelay, "Pause after every iteration")
	flags.Int("delay-ms", int(DefaultDelay/time.Millisecond), "Pause after every iteration in milliseconds")
	flags.String("trigger-path", DefaultTriggerPath, "Path requested to trigger work")
	flags.String("drain-path", DefaultDrainPath, "Path requested to drain recorded entries")
	flags.Duration("timeout", 0, "Per-request timeout (0 means none)")
	flags.Int("retries", 0, "Extra attempts for a failed trigger")
	flags.StringSlice("threshold", nil, "Pass/fail assertion on the run (repeatable, e.g. 'http:p95 < 500')")

	// Output
	flags.String("out", DefaultOut, "Root directory for run artifacts")
	flags.String("label", DefaultLabel, "Run label, used as a directory name")
	flags.Bool("json-output", false, "Emit the run report as JSON")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	configureLoggingFlags(flags, "console")

	// S3 mirror
	flags.String("s3-bucket", "", "Also upload artifacts to this S3 bucket")
	flags.String("s3-prefix", "", "Key prefix for uploaded artifacts")
	flags.String("s3-region", "", "AWS region for the S3 bucket")

	configureTracingFlags(flags)
}

func configureTargetFlags(flags *pflag.FlagSet) {
	flags.String("addr", DefaultAddr, "Listen address")
	flags.String("external-url", DefaultExternalURL, "URL fetched by the /data handler")
	flags.StringSlice("kinds", []string{"http", "resource", "measure"}, "Entry kinds to observe")
	flags.Bool("record-measures", false, "Export measure durations to Prometheus")
	flags.StringSlice("include-paths", nil, "Only export HTTP metrics for these paths (default all)")
	flags.Int("resource-buffer-size", DefaultResourceBufferSize, "Capacity of the resource timing log")
	flags.Duration("fetch-timeout", 10*time.Second, "Timeout for the outbound fetch")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")
	configureLoggingFlags(flags, "json")
	configureTracingFlags(flags)
}

func configureLoggingFlags(flags *pflag.FlagSet, format string) {
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", format, "Log format (json or console)")
}

func configureTracingFlags(flags *pflag.FlagSet) {
	flags.String("tracing-endpoint", "", "OTLP endpoint for trace export")
	flags.String("tracing-protocol", "grpc", "OTLP protocol (grpc or http)")
	flags.String("tracing-service-name", "", "Service name reported on spans")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of traces to sample")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applySamplerFlags copies changed flags over file and default values.
func applySamplerFlags(cfg *SamplerConfig, fs *pflag.FlagSet) error {
	if fs.Changed("target") {
		val, err := fs.GetString("target")
		if err != nil {
			return err
		}
		cfg.Target = strings.TrimSpace(val)
	}
	if fs.Changed("warmup") {
		val, err := fs.GetInt("warmup")
		if err != nil {
			return err
		}
		cfg.Warmup = val
	}
	if fs.Changed("samples") {
		val, err := fs.GetInt("samples")
		if err != nil {
			return err
		}
		cfg.Samples = val
	}
	if fs.Changed("delay-ms") {
		val, err := fs.GetInt("delay-ms")
		if err != nil {
			return err
		}
		cfg.Delay = time.Duration(val) * time.Millisecond
	}
	// --delay wins when both are given.
	if fs.Changed("delay") {
		val, err := fs.GetDuration("delay")
		if err != nil {
			return err
		}
		cfg.Delay = val
	}
	if fs.Changed("trigger-path") {
		val, err := fs.GetString("trigger-path")
		if err != nil {
			return err
		}
		cfg.TriggerPath = val
	}
	if fs.Changed("drain-path") {
		val, err := fs.GetString("drain-path")
		if err != nil {
			return err
		}
		cfg.DrainPath = val
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		cfg.Timeout = val
	}
	if fs.Changed("retries") {
		val, err := fs.GetInt("retries")
		if err != nil {
			return err
		}
		cfg.Retries = val
	}
	if fs.Changed("threshold") {
		val, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = val
	}
	if fs.Changed("out") {
		val, err := fs.GetString("out")
		if err != nil {
			return err
		}
		cfg.Out = val
	}
	if fs.Changed("label") {
		val, err := fs.GetString("label")
		if err != nil {
			return err
		}
		cfg.Label = val
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		cfg.JSONOutput = val
	}
	if fs.Changed("s3-bucket") {
		val, err := fs.GetString("s3-bucket")
		if err != nil {
			return err
		}
		cfg.S3.Bucket = val
	}
	if fs.Changed("s3-prefix") {
		val, err := fs.GetString("s3-prefix")
		if err != nil {
			return err
		}
		cfg.S3.Prefix = val
	}
	if fs.Changed("s3-region") {
		val, err := fs.GetString("s3-region")
		if err != nil {
			return err
		}
		cfg.S3.Region = val
	}
	if err := applyLoggingFlags(&cfg.LogLevel, &cfg.LogFormat, fs); err != nil {
		return err
	}
	return applyTracingFlags(&cfg.Tracing, fs)
}

// applyTargetFlags copies changed flags over file, env and default values.
func applyTargetFlags(cfg *TargetConfig, fs *pflag.FlagSet) error {
	if fs.Changed("addr") {
		val, err := fs.GetString("addr")
		if err != nil {
			return err
		}
		cfg.Addr = strings.TrimSpace(val)
	}
	if fs.Changed("external-url") {
		val, err := fs.GetString("external-url")
		if err != nil {
			return err
		}
		cfg.ExternalURL = strings.TrimSpace(val)
	}
	if fs.Changed("kinds") {
		val, err := fs.GetStringSlice("kinds")
		if err != nil {
			return err
		}
		cfg.Kinds = val
	}
	if fs.Changed("record-measures") {
		val, err := fs.GetBool("record-measures")
		if err != nil {
			return err
		}
		cfg.RecordMeasures = val
	}
	if fs.Changed("include-paths") {
		val, err := fs.GetStringSlice("include-paths")
		if err != nil {
			return err
		}
		cfg.IncludePaths = val
	}
	if fs.Changed("resource-buffer-size") {
		val, err := fs.GetInt("resource-buffer-size")
		if err != nil {
			return err
		}
		cfg.ResourceBufferSize = val
	}
	if fs.Changed("fetch-timeout") {
		val, err := fs.GetDuration("fetch-timeout")
		if err != nil {
			return err
		}
		cfg.FetchTimeout = val
	}
	if err := applyLoggingFlags(&cfg.LogLevel, &cfg.LogFormat, fs); err != nil {
		return err
	}
	return applyTracingFlags(&cfg.Tracing, fs)
}

func applyLoggingFlags(level, format *string, fs *pflag.FlagSet) error {
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		*level = val
	}
	if fs.Changed("log-format") {
		val, err := fs.GetString("log-format")
		if err != nil {
			return err
		}
		*format = val
	}
	return nil
}

func applyTracingFlags(cfg *TracingConfig, fs *pflag.FlagSet) error {
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		cfg.Endpoint = val
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		cfg.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		cfg.ServiceName = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		cfg.SampleRate = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		cfg.Insecure = val
	}
	return nil
}
