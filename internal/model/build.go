package model

import (
	"fmt"
	"maps"
	"time"
)

// Build is one execution of a project.
type Build struct {
	Project string
	Number  int
	// Result is nil while the build is running and immutable once set.
	Result *Result
	// Release marks builds that must not cascade ordinary downstream triggers.
	Release bool
	// UpstreamRelationship records, per upstream project, the build number consumed.
	UpstreamRelationship map[string]int
	Cause                Cause
	StartedAt            time.Time
	CompletedAt          time.Time
}

// ID returns the stable "<project>#<number>" identifier.
func (b *Build) ID() string {
	return BuildID(b.Project, b.Number)
}

// BuildID formats a build identifier.
func BuildID(project string, number int) string {
	return fmt.Sprintf("%s#%d", project, number)
}

// Terminal reports whether the build has a result.
func (b *Build) Terminal() bool {
	return b != nil && b.Result != nil
}

// UpstreamBuild returns the build number of upstream consumed by this build.
func (b *Build) UpstreamBuild(upstream string) (int, bool) {
	if b == nil || b.UpstreamRelationship == nil {
		return 0, false
	}
	n, ok := b.UpstreamRelationship[upstream]
	return n, ok
}

// IsSuccessful reports whether the build finished UNSTABLE or better.
func (b *Build) IsSuccessful() bool {
	return b.Terminal() && b.Result.IsBetterOrEqualTo(ResultUnstable)
}

// Clone returns a deep copy safe to hand to other goroutines.
func (b *Build) Clone() *Build {
	if b == nil {
		return nil
	}
	cp := *b
	if b.Result != nil {
		r := *b.Result
		cp.Result = &r
	}
	cp.UpstreamRelationship = maps.Clone(b.UpstreamRelationship)
	return &cp
}

func (b *Build) String() string {
	if b.Result == nil {
		return fmt.Sprintf("%s (running)", b.ID())
	}
	return fmt.Sprintf("%s (%s)", b.ID(), b.Result)
}
