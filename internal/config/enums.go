package config

import (
	"log/slog"

	"git.home.luguber.info/inful/cascade/internal/foundation/normalization"
)

// LogLevel is monitoring.logging.level.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat is monitoring.logging.format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// RetryBackoffMode is queue.retry_backoff.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

var (
	logLevels = normalization.NewNormalizer(map[string]LogLevel{
		"debug":   LogLevelDebug,
		"info":    LogLevelInfo,
		"warn":    LogLevelWarn,
		"warning": LogLevelWarn,
		"error":   LogLevelError,
	}, LogLevelInfo)

	logFormats = normalization.NewNormalizer(map[string]LogFormat{
		"json": LogFormatJSON,
		"text": LogFormatText,
	}, LogFormatText)

	// Unknown modes normalize to "" so validation can reject them.
	retryBackoffs = normalization.NewNormalizer(map[string]RetryBackoffMode{
		"fixed":       RetryBackoffFixed,
		"linear":      RetryBackoffLinear,
		"exponential": RetryBackoffExponential,
	}, "")
)

// NormalizeLogLevel falls back to info.
func NormalizeLogLevel(raw string) LogLevel { return logLevels.Normalize(raw) }

// NormalizeLogFormat falls back to text.
func NormalizeLogFormat(raw string) LogFormat { return logFormats.Normalize(raw) }

func NormalizeRetryBackoff(raw string) RetryBackoffMode { return retryBackoffs.Normalize(raw) }

// SlogLevel maps the level onto slog, defaulting to info.
func (l LogLevel) SlogLevel() slog.Level {
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(l)); err != nil {
		return slog.LevelInfo
	}
	return lv
}
