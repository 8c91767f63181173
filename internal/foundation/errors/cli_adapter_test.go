package errors

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

type customError struct {
	msg string
}

func (e *customError) Error() string { return e.msg }

func TestCLIErrorAdapter_ExitCodeFor(t *testing.T) {
	adapter := NewCLIErrorAdapter(false, slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, 0},
		{"validation", ValidationError("bad flag").Build(), 2},
		{"not found", NotFoundError("no such build").Build(), 3},
		{"config", ConfigError("bad config").Build(), 7},
		{"graph", GraphError("cycle").Build(), 7},
		{"transport", TransportError("no responders").Build(), 8},
		{"splitlog", SplitLogError("mark timeout").Build(), 11},
		{"daemon", DaemonError("stopped").Build(), 12},
		{"unclassified", &customError{msg: "unknown error"}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := adapter.ExitCodeFor(tt.err); got != tt.expected {
				t.Errorf("ExitCodeFor() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCLIErrorAdapter_FormatError(t *testing.T) {
	quiet := NewCLIErrorAdapter(false, slog.Default())
	verbose := NewCLIErrorAdapter(true, slog.Default())

	internal := InternalError("invariant broken").Build()
	if got := quiet.FormatError(internal); !strings.Contains(got, "use -v") {
		t.Errorf("expected redacted internal error, got %q", got)
	}
	if got := verbose.FormatError(internal); !strings.Contains(got, "invariant broken") {
		t.Errorf("expected full internal error in verbose mode, got %q", got)
	}
	if got := quiet.FormatError(ConfigError("missing projects").Build()); !strings.Contains(got, "missing projects") {
		t.Errorf("expected config message to be shown, got %q", got)
	}
}

func TestCLIErrorAdapter_Report(t *testing.T) {
	var logs, out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	adapter := NewCLIErrorAdapter(false, logger)

	code := adapter.Report(&out, ConfigError("missing projects").WithContext("path", "cascade.yaml").Build())

	if code != 7 {
		t.Errorf("expected exit code 7, got %d", code)
	}
	if !strings.Contains(out.String(), "missing projects") {
		t.Errorf("expected message on output, got %q", out.String())
	}
	if !strings.Contains(logs.String(), "path=cascade.yaml") {
		t.Errorf("expected context in log, got %q", logs.String())
	}
}
