// Package version holds build metadata stamped in with -ldflags, e.g.
//
//	go build -ldflags "-X git.home.luguber.info/inful/cascade/internal/version.Version=v0.3.0"
package version

import "fmt"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// String renders the metadata for --version and agent registration.
func String() string {
	if GitCommit == "unknown" {
		return Version
	}
	return fmt.Sprintf("%s (%s, built %s)", Version, GitCommit, BuildTime)
}
