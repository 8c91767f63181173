package model

import "fmt"

// CauseKind describes why a build was scheduled.
type CauseKind string

const (
	CauseManual    CauseKind = "manual"
	CauseUpstream  CauseKind = "upstream"
	CauseScheduled CauseKind = "scheduled"
)

// Cause records why a build was enqueued.
type Cause struct {
	Kind            CauseKind `json:"kind" cbor:"kind"`
	UpstreamProject string    `json:"upstream_project,omitempty" cbor:"upstream_project,omitempty"`
	UpstreamBuild   int       `json:"upstream_build,omitempty" cbor:"upstream_build,omitempty"`
	Note            string    `json:"note,omitempty" cbor:"note,omitempty"`
}

// UpstreamCause builds the cause attached to downstream builds triggered by b.
func UpstreamCause(b *Build) Cause {
	return Cause{Kind: CauseUpstream, UpstreamProject: b.Project, UpstreamBuild: b.Number}
}

func (c Cause) String() string {
	switch c.Kind {
	case CauseUpstream:
		return fmt.Sprintf("Started by upstream project %q build number %d", c.UpstreamProject, c.UpstreamBuild)
	case CauseScheduled:
		return "Started by timer"
	default:
		if c.Note != "" {
			return "Started manually: " + c.Note
		}
		return "Started manually"
	}
}
