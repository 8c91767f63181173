package errors

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// CLIErrorAdapter turns the error a command returned into a message on
// stderr, an optional log record and a process exit code.
type CLIErrorAdapter struct {
	verbose bool
	logger  *slog.Logger
}

func NewCLIErrorAdapter(verbose bool, logger *slog.Logger) *CLIErrorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLIErrorAdapter{verbose: verbose, logger: logger}
}

// ExitCodeFor maps err to a process exit code: 0 for nil, 1 for unclassified
// errors, otherwise the code of its category.
func (a *CLIErrorAdapter) ExitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	if ce, ok := AsClassified(err); ok {
		return ce.Category().ExitCode()
	}
	return 1
}

// FormatError hides internal errors unless verbose.
func (a *CLIErrorAdapter) FormatError(err error) string {
	switch {
	case err == nil:
		return ""
	case !a.verbose && HasCategory(err, CategoryInternal):
		return "Internal error occurred (use -v for details)"
	default:
		return "Error: " + err.Error()
	}
}

// Report writes the message for err to w and returns its exit code. Fatal and
// unclassified errors are also logged with their context; everything is when
// verbose.
func (a *CLIErrorAdapter) Report(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	ce, classified := AsClassified(err)
	switch {
	case !classified:
		a.logger.Error("Unclassified error", "error", err)
	case a.verbose || ce.Severity() == SeverityFatal:
		a.logger.LogAttrs(context.Background(), levelFor(ce.Severity()), ce.Message(), attrsOf(ce)...)
	}
	_, _ = fmt.Fprintln(w, a.FormatError(err))
	return a.ExitCodeFor(err)
}

func attrsOf(ce *ClassifiedError) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(ce.context)+2)
	attrs = append(attrs, slog.String("category", string(ce.category)))
	if ce.IsTransient() {
		attrs = append(attrs, slog.Bool("retryable", true))
	}
	for k, v := range ce.context {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

func levelFor(s ErrorSeverity) slog.Level {
	switch s {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
