package errors

import (
	stderrors "errors"
	"maps"
	"strings"
)

// ClassifiedError is an error tagged with a category, severity, retry
// strategy and context. Values are immutable; the With methods return copies.
type ClassifiedError struct {
	category ErrorCategory
	severity ErrorSeverity
	retry    RetryStrategy
	message  string
	cause    error
	context  ErrorContext
}

func (e *ClassifiedError) Error() string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(string(e.category))
	sb.WriteString(":")
	sb.WriteString(string(e.severity))
	sb.WriteString("] ")
	sb.WriteString(e.message)
	if e.cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.cause.Error())
	}
	return sb.String()
}

func (e *ClassifiedError) Unwrap() error { return e.cause }

func (e *ClassifiedError) Category() ErrorCategory      { return e.category }
func (e *ClassifiedError) Severity() ErrorSeverity      { return e.severity }
func (e *ClassifiedError) RetryStrategy() RetryStrategy { return e.retry }
func (e *ClassifiedError) Message() string              { return e.message }

// Context returns a copy of the attached details.
func (e *ClassifiedError) Context() ErrorContext { return maps.Clone(e.context) }

func (e *ClassifiedError) WithContext(key string, value any) *ClassifiedError {
	cp := *e
	cp.context = make(ErrorContext, len(e.context)+1)
	maps.Copy(cp.context, e.context)
	cp.context[key] = value
	return &cp
}

func (e *ClassifiedError) WithCause(cause error) *ClassifiedError {
	cp := *e
	cp.cause = cause
	return &cp
}

// Is matches on category and message, so package-level sentinels still match
// after WithContext or WithCause.
func (e *ClassifiedError) Is(target error) bool {
	other, ok := target.(*ClassifiedError)
	return ok && e.category == other.category && e.message == other.message
}

// IsTransient reports whether retrying the failed operation may succeed.
func (e *ClassifiedError) IsTransient() bool {
	return e.retry == RetryImmediate || e.retry == RetryBackoff
}

// AsClassified returns the first ClassifiedError in err's chain.
func AsClassified(err error) (*ClassifiedError, bool) {
	var ce *ClassifiedError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func HasCategory(err error, category ErrorCategory) bool {
	ce, ok := AsClassified(err)
	return ok && ce.category == category
}

func HasSeverity(err error, severity ErrorSeverity) bool {
	ce, ok := AsClassified(err)
	return ok && ce.severity == severity
}

func IsTransient(err error) bool {
	ce, ok := AsClassified(err)
	return ok && ce.IsTransient()
}
