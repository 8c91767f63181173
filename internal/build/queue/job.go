package queue

import (
	"context"
	"io"
	"slices"
	"time"

	"git.home.luguber.info/inful/cascade/internal/model"
)

// JobState tracks a job through the queue. A finished job is in one of the
// last three states, derived from its build result.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded" // SUCCESS or UNSTABLE
	JobFailed    JobState = "failed"
	JobAborted   JobState = "aborted"
)

func finishedState(result model.Result, err error) JobState {
	switch {
	case result == model.ResultAborted:
		return JobAborted
	case err != nil || result.IsWorseThan(model.ResultUnstable):
		return JobFailed
	default:
		return JobSucceeded
	}
}

// BuildJob is one queued or running build. Jobs for modules are queued
// against their module set.
type BuildJob struct {
	ID      string
	Project string
	// Causes accumulate while the job waits; duplicates fold into one entry.
	Causes []model.Cause
	State  JobState

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Duration    time.Duration
	Attempts    int
	Error       string

	// Build is assigned when a worker starts the job.
	Build   *model.Build
	Console io.Writer

	cancel context.CancelFunc
}

// snapshot is safe to hand out while the queue keeps mutating j.
func (j *BuildJob) snapshot() *BuildJob {
	cp := *j
	cp.Causes = slices.Clone(j.Causes)
	cp.Build = j.Build.Clone()
	cp.Console = nil
	cp.cancel = nil
	return &cp
}
