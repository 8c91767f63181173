package config

import (
	"fmt"
	"strings"
	"time"

	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
	"git.home.luguber.info/inful/cascade/internal/graph"
)

// ValidateConfig checks a defaulted configuration.
func ValidateConfig(cfg *Config) error {
	v := &configurationValidator{config: cfg}
	return v.validate()
}

type configurationValidator struct {
	config *Config
}

func (cv *configurationValidator) validate() error {
	if err := cv.validateProjects(); err != nil {
		return err
	}
	if err := cv.validateQueue(); err != nil {
		return err
	}
	return cv.validateDurations()
}

// validateProjects builds the graph once so config errors and graph errors
// are reported the same way the daemon would hit them on reload.
func (cv *configurationValidator) validateProjects() error {
	projects, err := cv.config.BuildProjects()
	if err != nil {
		return err
	}
	g, err := graph.New(projects)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryValidation, "invalid project graph").Build()
	}
	if cycles := g.Cycles(); len(cycles) > 0 {
		return ferrors.ValidationError("dependency cycle between projects").
			WithContext("projects", strings.Join(cycles, ", ")).
			Build()
	}
	return nil
}

func (cv *configurationValidator) validateQueue() error {
	q := cv.config.Queue
	if NormalizeRetryBackoff(string(q.RetryBackoff)) == "" {
		return ferrors.ValidationError(fmt.Sprintf("invalid retry_backoff: %s", q.RetryBackoff)).Build()
	}
	return nil
}

func (cv *configurationValidator) validateDurations() error {
	c := cv.config
	durations := []struct {
		field string
		value string
	}{
		{"queue.retry_initial_delay", c.Queue.RetryInitialDelay},
		{"queue.retry_max_delay", c.Queue.RetryMaxDelay},
		{"split_log.recheck_interval", c.SplitLog.RecheckInterval},
		{"split_log.mark_timeout", c.SplitLog.MarkTimeout},
		{"transport.request_timeout", c.Transport.RequestTimeout},
		{"janitor.interval", c.Janitor.Interval},
		{"janitor.max_age", c.Janitor.MaxAge},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil || parsed <= 0 {
			return ferrors.ValidationError("invalid duration").
				WithContext("field", d.field).
				WithContext("value", d.value).
				Build()
		}
	}
	if c.Queue.RetryInitialDelayDuration() > c.Queue.RetryMaxDelayDuration() {
		return ferrors.ValidationError("queue.retry_initial_delay exceeds retry_max_delay").Build()
	}
	return nil
}
