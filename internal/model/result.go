// Package model holds the orchestrator's core data types: projects, builds, results and causes.
package model

import (
	"fmt"
	"strings"
)

// Result is the terminal outcome of a build, ordered by severity: a larger value is worse.
type Result int

const (
	ResultSuccess Result = iota
	ResultUnstable
	ResultFailure
	ResultNotBuilt
	ResultAborted
)

var resultNames = [...]string{
	ResultSuccess:  "SUCCESS",
	ResultUnstable: "UNSTABLE",
	ResultFailure:  "FAILURE",
	ResultNotBuilt: "NOT_BUILT",
	ResultAborted:  "ABORTED",
}

func (r Result) String() string {
	if r < ResultSuccess || r > ResultAborted {
		return fmt.Sprintf("Result(%d)", int(r))
	}
	return resultNames[r]
}

// IsWorseThan reports whether r is strictly more severe than other.
func (r Result) IsWorseThan(other Result) bool { return r > other }

// IsBetterOrEqualTo reports whether r is no more severe than other.
func (r Result) IsBetterOrEqualTo(other Result) bool { return r <= other }

// Combine returns the worse of the two results.
func (r Result) Combine(other Result) Result {
	if other > r {
		return other
	}
	return r
}

// ParseResult converts a result name (case-insensitive) back to a Result.
func ParseResult(raw string) (Result, error) {
	name := strings.ToUpper(strings.TrimSpace(raw))
	for i, n := range resultNames {
		if n == name {
			return Result(i), nil
		}
	}
	return ResultFailure, fmt.Errorf("unknown build result %q", raw)
}

// MarshalText encodes the result by name.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a result name.
func (r *Result) UnmarshalText(text []byte) error {
	parsed, err := ParseResult(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Ptr returns a pointer to a copy of r, convenient for Build.Result.
func (r Result) Ptr() *Result { return &r }
