package metrics

import "time"

// SyncFailure labels why a split-log synchronization did not complete.
type SyncFailure string

const (
	SyncFailureCall     SyncFailure = "call"
	SyncFailureTimeout  SyncFailure = "timeout"
	SyncFailureCanceled SyncFailure = "canceled"
)

// Recorder defines observability hooks for trigger decisions, log
// synchronization and builds. NoopRecorder is the default when metrics are
// not configured.
type Recorder interface {
	IncTriggerDecision(rule string, triggered bool)
	ObserveSyncDuration(d time.Duration)
	IncSyncFailure(reason SyncFailure)
	AddSpilledBytes(n int)
	ObserveBuildDuration(project string, d time.Duration)
	IncBuildResult(result string)
	IncBuildRetry(project string)
	IncBuildRetryExhausted(project string)
	SetQueueDepth(n int)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) IncTriggerDecision(string, bool)            {}
func (NoopRecorder) ObserveSyncDuration(time.Duration)          {}
func (NoopRecorder) IncSyncFailure(SyncFailure)                 {}
func (NoopRecorder) AddSpilledBytes(int)                        {}
func (NoopRecorder) ObserveBuildDuration(string, time.Duration) {}
func (NoopRecorder) IncBuildResult(string)                      {}
func (NoopRecorder) IncBuildRetry(string)                       {}
func (NoopRecorder) IncBuildRetryExhausted(string)              {}
func (NoopRecorder) SetQueueDepth(int)                          {}
