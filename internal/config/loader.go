package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// LoadSampler resolves the perf-sample configuration from defaults, an
// optional config file and command-line flags, in that order.
func LoadSampler(args []string) (*SamplerConfig, error) {
	cmd := newFlagCommand("perf-sample", configureSamplerFlags)
	configPath, err := parseArgs(cmd, args)
	if err != nil {
		return nil, err
	}
	settings, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := defaultSamplerConfig()
	cfg.ConfigFile = configPath
	if err := applySamplerSettings(cfg, settings); err != nil {
		return nil, err
	}
	if err := applySamplerFlags(cfg, cmd.Flags()); err != nil {
		return nil, err
	}
	cfg.Target = strings.TrimRight(strings.TrimSpace(cfg.Target), "/")
	return cfg, nil
}

// LoadTarget resolves the perf-target configuration. Precedence, lowest
// first: defaults, config file, environment (PORT, EXTERNAL_URL), flags.
func LoadTarget(args []string) (*TargetConfig, error) {
	cmd := newFlagCommand("perf-target", configureTargetFlags)
	configPath, err := parseArgs(cmd, args)
	if err != nil {
		return nil, err
	}
	settings, err := readConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := defaultTargetConfig()
	cfg.ConfigFile = configPath
	if err := applyTargetSettings(cfg, settings); err != nil {
		return nil, err
	}
	applyTargetEnv(cfg)
	if err := applyTargetFlags(cfg, cmd.Flags()); err != nil {
		return nil, err
	}
	cfg.Kinds = normalizeList(cfg.Kinds)
	cfg.IncludePaths = normalizeList(cfg.IncludePaths)
	return cfg, nil
}

func parseArgs(cmd *cobra.Command, args []string) (string, error) {
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return "", ErrHelpRequested
		}
		return "", err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return "", ErrHelpRequested
		}
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return "", fmt.Errorf("unexpected arguments: %s", strings.Join(rest, " "))
	}
	return flagSet.Lookup("config").Value.String(), nil
}

func readConfigFile(path string) (map[string]interface{}, error) {
	if path == "" {
		return nil, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return v.AllSettings(), nil
}

// applyTargetEnv reads PORT and EXTERNAL_URL. viper upper-cases the key
// when AutomaticEnv is on.
func applyTargetEnv(cfg *TargetConfig) {
	env := viper.New()
	env.AutomaticEnv()
	if port := strings.TrimSpace(env.GetString("port")); port != "" {
		host, _, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			host = ""
		}
		cfg.Addr = net.JoinHostPort(host, port)
	}
	if u := strings.TrimSpace(env.GetString("external_url")); u != "" {
		cfg.ExternalURL = u
	}
}

func applySamplerSettings(cfg *SamplerConfig, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "target"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("target: %w", err)
		}
		cfg.Target = val
	}
	if raw, ok := lookupSetting(settings, "warmup"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("warmup: %w", err)
		}
		cfg.Warmup = val
	}
	if raw, ok := lookupSetting(settings, "samples"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("samples: %w", err)
		}
		cfg.Samples = val
	}
	if raw, ok := lookupSetting(settings, "delayms", "delay_ms", "delay-ms"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("delayMs: %w", err)
		}
		cfg.Delay = millisDuration(val)
	}
	if raw, ok := lookupSetting(settings, "delay"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("delay: %w", err)
		}
		cfg.Delay = val
	}
	if raw, ok := lookupSetting(settings, "out"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("out: %w", err)
		}
		cfg.Out = val
	}
	if raw, ok := lookupSetting(settings, "label"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("label: %w", err)
		}
		cfg.Label = val
	}
	if raw, ok := lookupSetting(settings, "triggerpath", "trigger_path", "trigger-path"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("triggerPath: %w", err)
		}
		cfg.TriggerPath = val
	}
	if raw, ok := lookupSetting(settings, "drainpath", "drain_path", "drain-path"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("drainPath: %w", err)
		}
		cfg.DrainPath = val
	}
	if raw, ok := lookupSetting(settings, "timeout"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = val
	}
	if raw, ok := lookupSetting(settings, "retries"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("retries: %w", err)
		}
		cfg.Retries = val
	}
	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}
	if raw, ok := lookupSetting(settings, "jsonoutput", "json_output", "json-output"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("jsonOutput: %w", err)
		}
		cfg.JSONOutput = val
	}
	if err := applyLoggingSettings(&cfg.LogLevel, &cfg.LogFormat, settings); err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "s3"); ok {
		if err := applyS3Settings(&cfg.S3, raw); err != nil {
			return fmt.Errorf("s3: %w", err)
		}
	}
	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applyTracingSettings(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}
	return nil
}

func applyTargetSettings(cfg *TargetConfig, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "addr"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("addr: %w", err)
		}
		cfg.Addr = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "externalurl", "external_url", "external-url"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("externalUrl: %w", err)
		}
		cfg.ExternalURL = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "kinds"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("kinds: %w", err)
		}
		cfg.Kinds = val
	}
	if raw, ok := lookupSetting(settings, "recordmeasures", "record_measures", "record-measures"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("recordMeasures: %w", err)
		}
		cfg.RecordMeasures = val
	}
	if raw, ok := lookupSetting(settings, "includepaths", "include_paths", "include-paths"); ok {
		val, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("includePaths: %w", err)
		}
		cfg.IncludePaths = val
	}
	if raw, ok := lookupSetting(settings, "resourcebuffersize", "resource_buffer_size", "resource-buffer-size"); ok {
		val, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("resourceBufferSize: %w", err)
		}
		cfg.ResourceBufferSize = val
	}
	if raw, ok := lookupSetting(settings, "fetchtimeout", "fetch_timeout", "fetch-timeout"); ok {
		val, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("fetchTimeout: %w", err)
		}
		cfg.FetchTimeout = val
	}
	if err := applyLoggingSettings(&cfg.LogLevel, &cfg.LogFormat, settings); err != nil {
		return err
	}
	if raw, ok := lookupSetting(settings, "tracing"); ok {
		if err := applyTracingSettings(&cfg.Tracing, raw); err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
	}
	return nil
}

func applyLoggingSettings(level, format *string, settings map[string]interface{}) error {
	if raw, ok := lookupSetting(settings, "loglevel", "log_level", "log-level"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("logLevel: %w", err)
		}
		*level = val
	}
	if raw, ok := lookupSetting(settings, "logformat", "log_format", "log-format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("logFormat: %w", err)
		}
		*format = val
	}
	return nil
}

func applyS3Settings(cfg *S3Config, value interface{}) error {
	m, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	for key, dst := range map[string]*string{
		"bucket": &cfg.Bucket,
		"prefix": &cfg.Prefix,
		"region": &cfg.Region,
	} {
		if raw, ok := m[key]; ok {
			val, err := asString(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = strings.TrimSpace(val)
		}
	}
	return nil
}

func applyTracingSettings(cfg *TracingConfig, value interface{}) error {
	m, err := toStringKeyMap(value)
	if err != nil {
		return err
	}
	if raw, ok := lookupSetting(m, "endpoint"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("endpoint: %w", err)
		}
		cfg.Endpoint = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(m, "protocol"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("protocol: %w", err)
		}
		cfg.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if raw, ok := lookupSetting(m, "servicename", "service_name", "service-name"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("serviceName: %w", err)
		}
		cfg.ServiceName = val
	}
	if raw, ok := lookupSetting(m, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return fmt.Errorf("sampleRate: %w", err)
		}
		cfg.SampleRate = val
	}
	if raw, ok := lookupSetting(m, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return fmt.Errorf("insecure: %w", err)
		}
		cfg.Insecure = val
	}
	return nil
}

// normalizeList splits comma-joined items, trims them and drops empties.
func normalizeList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
