package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
)

// Config is the controller and agent configuration.
type Config struct {
	Version    string           `yaml:"version"`
	Projects   []ProjectConfig  `yaml:"projects"`
	Queue      QueueConfig      `yaml:"queue"`
	SplitLog   SplitLogConfig   `yaml:"split_log"`
	Transport  TransportConfig  `yaml:"transport"`
	Storage    StorageConfig    `yaml:"storage"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Janitor    JanitorConfig    `yaml:"janitor"`
}

// QueueConfig controls the build queue worker pool and retry policy.
type QueueConfig struct {
	Workers           int              `yaml:"workers"`
	MaxSize           int              `yaml:"max_size"`
	HistorySize       int              `yaml:"history_size"`
	MaxRetries        int              `yaml:"max_retries"`
	RetryBackoff      RetryBackoffMode `yaml:"retry_backoff"`
	RetryInitialDelay string           `yaml:"retry_initial_delay"`
	RetryMaxDelay     string           `yaml:"retry_max_delay"`
}

// SplitLogConfig controls per-module log capture.
type SplitLogConfig struct {
	SpillThreshold   int    `yaml:"spill_threshold"` // bytes kept in memory while no module claims output
	SpillDir         string `yaml:"spill_dir"`
	RecheckInterval  string `yaml:"recheck_interval"`
	MarkTimeout      string `yaml:"mark_timeout"`
	CompressSegments bool   `yaml:"compress_segments"`
	SegmentDir       string `yaml:"segment_dir"`
}

// TransportConfig describes the NATS connection shared by controller and agents.
type TransportConfig struct {
	NATSURL        string `yaml:"nats_url"`
	SubjectPrefix  string `yaml:"subject_prefix"`
	Agent          string `yaml:"agent"`
	RequestTimeout string `yaml:"request_timeout"`
}

// StorageConfig locates the build event database.
type StorageConfig struct {
	EventDB     string `yaml:"event_db"`
	HistorySize int    `yaml:"history_size"` // builds retained per project in memory
}

// MonitoringConfig represents metrics and logging configuration.
type MonitoringConfig struct {
	Metrics MonitoringMetrics `yaml:"metrics"`
	Logging MonitoringLogging `yaml:"logging"`
}

// MonitoringMetrics configures the Prometheus endpoint.
type MonitoringMetrics struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// MonitoringLogging represents logging configuration.
type MonitoringLogging struct {
	Level  LogLevel  `yaml:"level"`
	Format LogFormat `yaml:"format"`
}

// JanitorConfig controls the periodic sweep of stale spill files and segments.
type JanitorConfig struct {
	Interval string `yaml:"interval"`
	MaxAge   string `yaml:"max_age"`
}

// Load reads, expands, defaults and validates a configuration file.
func Load(configPath string) (*Config, error) {
	if err := loadEnvFile(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return nil, ferrors.NotFoundError("configuration file not found").
			WithContext("path", configPath).
			Build()
	}
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read config file").
			WithContext("path", configPath).
			Build()
	}
	return Parse(data)
}

// Parse decodes YAML configuration after ${VAR} expansion, applies defaults
// and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to unmarshal config").Build()
	}
	if cfg.Version != "" && cfg.Version != Version {
		return nil, ferrors.ConfigError(fmt.Sprintf("unsupported configuration version: %s (expected %s)", cfg.Version, Version)).Build()
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Version is the configuration format version this build understands.
const Version = "1.0"

// Init writes an example configuration file.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return ferrors.ValidationError("configuration file already exists (use --force to overwrite)").
			WithContext("path", configPath).
			Build()
	}

	example := Config{
		Version: Version,
		Projects: []ProjectConfig{
			{Name: "core", Kind: "module_set", BlockTriggerWhenBuilding: true, Modules: []ModuleConfig{
				{Name: "core-api", Command: []string{"make", "-C", "api"}},
				{Name: "core-impl", Command: []string{"make", "-C", "impl"}, Upstreams: []string{"core-api"}},
			}},
			{Name: "app", Upstreams: []string{"core"}, Command: []string{"make"}},
		},
		Transport: TransportConfig{NATSURL: "nats://127.0.0.1:4222", Agent: "agent-1"},
		Monitoring: MonitoringConfig{
			Metrics: MonitoringMetrics{Enabled: true},
			Logging: MonitoringLogging{Level: LogLevelInfo, Format: LogFormatText},
		},
	}
	if err := applyDefaults(&example); err != nil {
		return err
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("failed to marshal example config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryIO, "failed to write config file").
			WithContext("path", configPath).
			Build()
	}
	return nil
}

// RetryInitialDelayDuration parses queue.retry_initial_delay. Validation has
// already rejected malformed values, so parse errors fall back to zero.
func (q QueueConfig) RetryInitialDelayDuration() time.Duration {
	return mustDuration(q.RetryInitialDelay)
}

// RetryMaxDelayDuration parses queue.retry_max_delay.
func (q QueueConfig) RetryMaxDelayDuration() time.Duration {
	return mustDuration(q.RetryMaxDelay)
}

// RecheckIntervalDuration parses split_log.recheck_interval.
func (s SplitLogConfig) RecheckIntervalDuration() time.Duration {
	return mustDuration(s.RecheckInterval)
}

// MarkTimeoutDuration parses split_log.mark_timeout.
func (s SplitLogConfig) MarkTimeoutDuration() time.Duration {
	return mustDuration(s.MarkTimeout)
}

// RequestTimeoutDuration parses transport.request_timeout.
func (t TransportConfig) RequestTimeoutDuration() time.Duration {
	return mustDuration(t.RequestTimeout)
}

// IntervalDuration parses janitor.interval.
func (j JanitorConfig) IntervalDuration() time.Duration {
	return mustDuration(j.Interval)
}

// MaxAgeDuration parses janitor.max_age.
func (j JanitorConfig) MaxAgeDuration() time.Duration {
	return mustDuration(j.MaxAge)
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
