package errors

import "maps"

// ErrorBuilder assembles a ClassifiedError. Severity and retry start from the
// category's defaults.
type ErrorBuilder struct {
	err ClassifiedError
}

func NewError(category ErrorCategory, message string) *ErrorBuilder {
	p := profileOf(category)
	return &ErrorBuilder{err: ClassifiedError{
		category: category,
		severity: p.severity,
		retry:    p.retry,
		message:  message,
	}}
}

// WrapError starts a builder whose error wraps err.
func WrapError(err error, category ErrorCategory, message string) *ErrorBuilder {
	return NewError(category, message).WithCause(err)
}

func (b *ErrorBuilder) WithCause(err error) *ErrorBuilder {
	b.err.cause = err
	return b
}

func (b *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	b.err.severity = severity
	return b
}

func (b *ErrorBuilder) WithRetry(strategy RetryStrategy) *ErrorBuilder {
	b.err.retry = strategy
	return b
}

func (b *ErrorBuilder) WithContext(key string, value any) *ErrorBuilder {
	if b.err.context == nil {
		b.err.context = make(ErrorContext)
	}
	b.err.context[key] = value
	return b
}

// Fatal marks the error as stopping the process.
func (b *ErrorBuilder) Fatal() *ErrorBuilder {
	return b.WithSeverity(SeverityFatal)
}

// Build returns the error. The builder may be reused afterwards.
func (b *ErrorBuilder) Build() *ClassifiedError {
	out := b.err
	out.context = maps.Clone(b.err.context)
	return &out
}

func ConfigError(message string) *ErrorBuilder     { return NewError(CategoryConfig, message) }
func ValidationError(message string) *ErrorBuilder { return NewError(CategoryValidation, message) }
func NotFoundError(message string) *ErrorBuilder   { return NewError(CategoryNotFound, message) }
func GraphError(message string) *ErrorBuilder      { return NewError(CategoryGraph, message) }
func SplitLogError(message string) *ErrorBuilder   { return NewError(CategorySplitLog, message) }
func IOError(message string) *ErrorBuilder         { return NewError(CategoryIO, message) }
func TransportError(message string) *ErrorBuilder  { return NewError(CategoryTransport, message) }
func BuildError(message string) *ErrorBuilder      { return NewError(CategoryBuild, message) }
func EventStoreError(message string) *ErrorBuilder { return NewError(CategoryEventStore, message) }
func RuntimeError(message string) *ErrorBuilder    { return NewError(CategoryRuntime, message) }
func DaemonError(message string) *ErrorBuilder     { return NewError(CategoryDaemon, message) }
func InternalError(message string) *ErrorBuilder   { return NewError(CategoryInternal, message) }
