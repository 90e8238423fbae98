package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dvelasquez/node-perf/internal/logging"
)

// Sampler defaults mirror a local perf-target.
const (
	DefaultTarget      = "http://localhost:3000"
	DefaultWarmup      = 3
	DefaultSamples     = 10
	DefaultDelay       = 200 * time.Millisecond
	DefaultOut         = "out"
	DefaultLabel       = "perf-target"
	DefaultTriggerPath = "/data"
	DefaultDrainPath   = "/perf-entries"
)

// Target server defaults.
const (
	DefaultAddr               = ":3000"
	DefaultExternalURL        = "https://jsonplaceholder.typicode.com/todos/1"
	DefaultResourceBufferSize = 250
)

// SamplerConfig drives cmd/perf-sample.
type SamplerConfig struct {
	Target      string        `mapstructure:"target"`
	Warmup      int           `mapstructure:"warmup"`
	Samples     int           `mapstructure:"samples"`
	Delay       time.Duration `mapstructure:"delay"`
	Out         string        `mapstructure:"out"`
	Label       string        `mapstructure:"label"`
	TriggerPath string        `mapstructure:"trigger_path"`
	DrainPath   string        `mapstructure:"drain_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Retries     int           `mapstructure:"retries"`
	Thresholds  []string      `mapstructure:"thresholds"`
	JSONOutput  bool          `mapstructure:"json_output"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFormat   string        `mapstructure:"log_format"`
	S3          S3Config      `mapstructure:"s3"`
	Tracing     TracingConfig `mapstructure:"tracing"`
	ConfigFile  string        `mapstructure:"-"`
}

// TargetConfig drives cmd/perf-target.
type TargetConfig struct {
	Addr               string        `mapstructure:"addr"`
	ExternalURL        string        `mapstructure:"external_url"`
	Kinds              []string      `mapstructure:"kinds"`
	RecordMeasures     bool          `mapstructure:"record_measures"`
	IncludePaths       []string      `mapstructure:"include_paths"`
	ResourceBufferSize int           `mapstructure:"resource_buffer_size"`
	FetchTimeout       time.Duration `mapstructure:"fetch_timeout"`
	LogLevel           string        `mapstructure:"log_level"`
	LogFormat          string        `mapstructure:"log_format"`
	Tracing            TracingConfig `mapstructure:"tracing"`
	ConfigFile         string        `mapstructure:"-"`
}

// S3Config enables mirroring run artifacts to a bucket.
type S3Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region"`
}

func (c S3Config) Enabled() bool {
	return strings.TrimSpace(c.Bucket) != ""
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Insecure    bool    `mapstructure:"insecure"`
}

// Enabled reports whether an exporter endpoint is configured, either directly
// or through OTEL_EXPORTER_OTLP_ENDPOINT.
func (c TracingConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

func defaultSamplerConfig() *SamplerConfig {
	return &SamplerConfig{
		Target:      DefaultTarget,
		Warmup:      DefaultWarmup,
		Samples:     DefaultSamples,
		Delay:       DefaultDelay,
		Out:         DefaultOut,
		Label:       DefaultLabel,
		TriggerPath: DefaultTriggerPath,
		DrainPath:   DefaultDrainPath,
		LogLevel:    "info",
		LogFormat:   logging.FormatConsole,
		Tracing:     TracingConfig{SampleRate: 1.0},
	}
}

func defaultTargetConfig() *TargetConfig {
	return &TargetConfig{
		Addr:               DefaultAddr,
		ExternalURL:        DefaultExternalURL,
		Kinds:              []string{"http", "resource", "measure"},
		ResourceBufferSize: DefaultResourceBufferSize,
		FetchTimeout:       10 * time.Second,
		LogLevel:           "info",
		LogFormat:          logging.FormatJSON,
		Tracing:            TracingConfig{SampleRate: 1.0},
	}
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c SamplerConfig) Validate() error {
	var issues []string

	if msg := validateAbsoluteURL("target", c.Target); msg != "" {
		issues = append(issues, msg)
	}
	if c.Warmup < 0 {
		issues = append(issues, "warmup must be non-negative")
	}
	if c.Samples < 0 {
		issues = append(issues, "samples must be non-negative")
	}
	if c.Delay < 0 {
		issues = append(issues, "delay must be non-negative")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be non-negative")
	}
	if c.Retries < 0 {
		issues = append(issues, "retries must be non-negative")
	}
	if strings.TrimSpace(c.Out) == "" {
		issues = append(issues, "out directory is required")
	}
	if strings.ContainsAny(c.Label, `/\`) || c.Label == ".." {
		issues = append(issues, fmt.Sprintf("label %q must be a single path segment", c.Label))
	}
	if !strings.HasPrefix(c.TriggerPath, "/") {
		issues = append(issues, "trigger-path must start with /")
	}
	if !strings.HasPrefix(c.DrainPath, "/") {
		issues = append(issues, "drain-path must start with /")
	}
	issues = append(issues, validateLogging(c.LogLevel, c.LogFormat)...)
	issues = append(issues, validateTracing(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func (c TargetConfig) Validate() error {
	var issues []string

	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		issues = append(issues, fmt.Sprintf("addr %q must be host:port", c.Addr))
	}
	if msg := validateAbsoluteURL("external-url", c.ExternalURL); msg != "" {
		issues = append(issues, msg)
	}
	if len(c.Kinds) == 0 {
		issues = append(issues, "at least one entry kind is required")
	}
	if c.ResourceBufferSize <= 0 {
		issues = append(issues, "resource-buffer-size must be positive")
	}
	if c.FetchTimeout < 0 {
		issues = append(issues, "fetch-timeout must be non-negative")
	}
	issues = append(issues, validateLogging(c.LogLevel, c.LogFormat)...)
	issues = append(issues, validateTracing(c.Tracing)...)

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateAbsoluteURL(name, raw string) string {
	if strings.TrimSpace(raw) == "" {
		return fmt.Sprintf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Sprintf("%s %q must be an absolute URL", name, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("%s scheme %q is not supported", name, u.Scheme)
	}
	return ""
}

func validateLogging(level, format string) []string {
	var issues []string
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "debug", "info", "warn", "error":
	default:
		issues = append(issues, fmt.Sprintf("log level %q is not supported", level))
	}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", logging.FormatJSON, logging.FormatConsole:
	default:
		issues = append(issues, fmt.Sprintf("log format %q is not supported", format))
	}
	return issues
}

func validateTracing(t TracingConfig) []string {
	var issues []string
	switch strings.ToLower(t.Protocol) {
	case "", "grpc", "http":
	default:
		issues = append(issues, fmt.Sprintf("tracing protocol %q is not supported", t.Protocol))
	}
	if t.SampleRate < 0 || t.SampleRate > 1 {
		issues = append(issues, "tracing sample rate must be between 0.0 and 1.0")
	}
	return issues
}
