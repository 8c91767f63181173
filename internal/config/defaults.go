package config

import (
	"os"
	"path/filepath"
)

// DefaultApplier applies defaults for one configuration section.
type DefaultApplier interface {
	ApplyDefaults(cfg *Config) error
	Domain() string
}

type queueDefaults struct{}

func (queueDefaults) Domain() string { return "queue" }

func (queueDefaults) ApplyDefaults(cfg *Config) error {
	q := &cfg.Queue
	if q.Workers <= 0 {
		q.Workers = 2
	}
	if q.MaxSize <= 0 {
		q.MaxSize = 100
	}
	if q.HistorySize <= 0 {
		q.HistorySize = 50
	}
	if q.MaxRetries < 0 {
		q.MaxRetries = 0
	}
	if q.RetryBackoff == "" {
		q.RetryBackoff = RetryBackoffLinear
	} else if m := NormalizeRetryBackoff(string(q.RetryBackoff)); m != "" {
		q.RetryBackoff = m
	}
	if q.RetryInitialDelay == "" {
		q.RetryInitialDelay = "1s"
	}
	if q.RetryMaxDelay == "" {
		q.RetryMaxDelay = "30s"
	}
	return nil
}

type splitLogDefaults struct{}

func (splitLogDefaults) Domain() string { return "split_log" }

func (splitLogDefaults) ApplyDefaults(cfg *Config) error {
	s := &cfg.SplitLog
	if s.SpillThreshold <= 0 {
		s.SpillThreshold = 64 * 1024
	}
	if s.SpillDir == "" {
		s.SpillDir = os.TempDir()
	}
	if s.RecheckInterval == "" {
		s.RecheckInterval = "1s"
	}
	if s.MarkTimeout == "" {
		s.MarkTimeout = "30s"
	}
	if s.SegmentDir == "" {
		s.SegmentDir = filepath.Join(".", "builds")
	}
	return nil
}

type transportDefaults struct{}

func (transportDefaults) Domain() string { return "transport" }

func (transportDefaults) ApplyDefaults(cfg *Config) error {
	t := &cfg.Transport
	if t.SubjectPrefix == "" {
		t.SubjectPrefix = "cascade"
	}
	if t.RequestTimeout == "" {
		t.RequestTimeout = "10s"
	}
	return nil
}

type storageDefaults struct{}

func (storageDefaults) Domain() string { return "storage" }

func (storageDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.Storage.EventDB == "" {
		cfg.Storage.EventDB = ":memory:"
	}
	if cfg.Storage.HistorySize <= 0 {
		cfg.Storage.HistorySize = 100
	}
	return nil
}

type monitoringDefaults struct{}

func (monitoringDefaults) Domain() string { return "monitoring" }

func (monitoringDefaults) ApplyDefaults(cfg *Config) error {
	m := &cfg.Monitoring
	if m.Metrics.Listen == "" {
		m.Metrics.Listen = ":9090"
	}
	if m.Metrics.Path == "" {
		m.Metrics.Path = "/metrics"
	}
	m.Logging.Level = NormalizeLogLevel(string(m.Logging.Level))
	m.Logging.Format = NormalizeLogFormat(string(m.Logging.Format))
	return nil
}

type janitorDefaults struct{}

func (janitorDefaults) Domain() string { return "janitor" }

func (janitorDefaults) ApplyDefaults(cfg *Config) error {
	if cfg.Janitor.Interval == "" {
		cfg.Janitor.Interval = "10m"
	}
	if cfg.Janitor.MaxAge == "" {
		cfg.Janitor.MaxAge = "1h"
	}
	return nil
}

func defaultAppliers() []DefaultApplier {
	return []DefaultApplier{
		queueDefaults{},
		splitLogDefaults{},
		transportDefaults{},
		storageDefaults{},
		monitoringDefaults{},
		janitorDefaults{},
	}
}

func applyDefaults(cfg *Config) error {
	if cfg.Version == "" {
		cfg.Version = Version
	}
	for _, a := range defaultAppliers() {
		if err := a.ApplyDefaults(cfg); err != nil {
			return err
		}
	}
	return nil
}
