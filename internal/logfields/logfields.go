package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyJobID       = "job_id"
	KeyWorkerID    = "worker_id"
	KeyProject     = "project"
	KeyBuildNumber = "build_number"
	KeyDownstream  = "downstream"
	KeyUpstream    = "upstream"
	KeyRule        = "rule"
	KeyResult      = "result"
	KeyModule      = "module"
	KeyAgent       = "agent"
	KeyBuildID     = "build_id"
	KeyDurationMS  = "duration_ms"
	KeyError       = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func JobID(id string) slog.Attr        { return slog.String(KeyJobID, id) }
func WorkerID(id string) slog.Attr     { return slog.String(KeyWorkerID, id) }
func Project(name string) slog.Attr    { return slog.String(KeyProject, name) }
func BuildNumber(n int) slog.Attr      { return slog.Int(KeyBuildNumber, n) }
func Downstream(name string) slog.Attr { return slog.String(KeyDownstream, name) }
func Upstream(name string) slog.Attr   { return slog.String(KeyUpstream, name) }
func Rule(r string) slog.Attr          { return slog.String(KeyRule, r) }
func Result(r string) slog.Attr        { return slog.String(KeyResult, r) }
func Module(name string) slog.Attr     { return slog.String(KeyModule, name) }
func Agent(name string) slog.Attr      { return slog.String(KeyAgent, name) }
func BuildID(id string) slog.Attr      { return slog.String(KeyBuildID, id) }
func DurationMS(ms float64) slog.Attr  { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
