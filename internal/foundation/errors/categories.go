package errors

// ErrorCategory groups errors by the subsystem that raised them. The category
// decides the default severity, retry strategy and CLI exit code.
type ErrorCategory string

const (
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"
	CategoryGraph      ErrorCategory = "graph"
	CategoryTrigger    ErrorCategory = "trigger"
	CategorySplitLog   ErrorCategory = "splitlog"
	CategoryIO         ErrorCategory = "io"
	CategoryTransport  ErrorCategory = "transport"
	CategoryBuild      ErrorCategory = "build"
	CategoryEventStore ErrorCategory = "eventstore"
	CategoryRuntime    ErrorCategory = "runtime"
	CategoryDaemon     ErrorCategory = "daemon"
	CategoryInternal   ErrorCategory = "internal"
)

type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"
	SeverityError   ErrorSeverity = "error"
	SeverityWarning ErrorSeverity = "warning"
	SeverityInfo    ErrorSeverity = "info"
)

type RetryStrategy string

const (
	RetryNever      RetryStrategy = "never"
	RetryImmediate  RetryStrategy = "immediate"
	RetryBackoff    RetryStrategy = "backoff"
	RetryUserAction RetryStrategy = "user"
)

type profile struct {
	severity ErrorSeverity
	retry    RetryStrategy
	exitCode int
}

// Lost log bytes are never tolerated, hence io is fatal while splitlog is not.
var profiles = map[ErrorCategory]profile{
	CategoryValidation: {SeverityFatal, RetryNever, 2},
	CategoryNotFound:   {SeverityError, RetryNever, 3},
	CategoryConfig:     {SeverityFatal, RetryNever, 7},
	CategoryGraph:      {SeverityFatal, RetryNever, 7},
	CategoryTransport:  {SeverityError, RetryBackoff, 8},
	CategoryInternal:   {SeverityFatal, RetryNever, 10},
	CategoryBuild:      {SeverityError, RetryNever, 11},
	CategorySplitLog:   {SeverityError, RetryNever, 11},
	CategoryIO:         {SeverityFatal, RetryNever, 11},
	CategoryEventStore: {SeverityError, RetryNever, 11},
	CategoryDaemon:     {SeverityFatal, RetryNever, 12},
	CategoryRuntime:    {SeverityFatal, RetryNever, 12},
	CategoryTrigger:    {SeverityError, RetryNever, 12},
}

func profileOf(c ErrorCategory) profile {
	if p, ok := profiles[c]; ok {
		return p
	}
	return profile{SeverityError, RetryNever, 1}
}

// ExitCode is the process exit code the CLI uses for errors of category c.
func (c ErrorCategory) ExitCode() int {
	return profileOf(c).exitCode
}

// ErrorContext holds structured key/value details attached to an error.
type ErrorContext map[string]any

// String returns the value stored under key if it is a string.
func (c ErrorContext) String(key string) (string, bool) {
	s, ok := c[key].(string)
	return s, ok
}
