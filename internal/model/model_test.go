package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResultOrdering(t *testing.T) {
	order := []Result{ResultSuccess, ResultUnstable, ResultFailure, ResultNotBuilt, ResultAborted}
	for i := 1; i < len(order); i++ {
		require.True(t, order[i].IsWorseThan(order[i-1]), "%s should be worse than %s", order[i], order[i-1])
		require.False(t, order[i-1].IsWorseThan(order[i]))
	}
	require.True(t, ResultUnstable.IsBetterOrEqualTo(ResultUnstable))
	require.Equal(t, ResultFailure, ResultUnstable.Combine(ResultFailure))
	require.Equal(t, ResultFailure, ResultFailure.Combine(ResultSuccess))
}

func TestParseResult(t *testing.T) {
	for _, r := range []Result{ResultSuccess, ResultUnstable, ResultFailure, ResultNotBuilt, ResultAborted} {
		parsed, err := ParseResult(r.String())
		require.NoError(t, err)
		require.Equal(t, r, parsed)
	}
	got, err := ParseResult(" unstable ")
	require.NoError(t, err)
	require.Equal(t, ResultUnstable, got)

	_, err = ParseResult("GREEN")
	require.Error(t, err)
}

func TestParseProjectKind(t *testing.T) {
	k, err := ParseProjectKind("module-set")
	require.NoError(t, err)
	require.Equal(t, KindModuleSet, k)

	k, err = ParseProjectKind("")
	require.NoError(t, err)
	require.Equal(t, KindStandalone, k)

	_, err = ParseProjectKind("freestyle")
	require.Error(t, err)

	require.False(t, KindExternal.Buildable())
	require.True(t, KindModule.Buildable())
}

func TestProjectRootName(t *testing.T) {
	module := Project{Name: "core-api", Kind: KindModule, Parent: "core"}
	require.Equal(t, "core", module.RootName())
	require.Equal(t, "core", Project{Name: "core", Kind: KindModuleSet}.RootName())
}

func TestBuildHelpers(t *testing.T) {
	running := &Build{Project: "lib", Number: 3}
	require.False(t, running.Terminal())
	require.False(t, running.IsSuccessful())
	require.Equal(t, "lib#3", running.ID())

	done := &Build{Project: "app", Number: 7, Result: ResultUnstable.Ptr(), UpstreamRelationship: map[string]int{"lib": 3}}
	require.True(t, done.IsSuccessful())
	n, ok := done.UpstreamBuild("lib")
	require.True(t, ok)
	require.Equal(t, 3, n)
	_, ok = done.UpstreamBuild("other")
	require.False(t, ok)

	cp := done.Clone()
	cp.UpstreamRelationship["lib"] = 9
	*cp.Result = ResultFailure
	require.Equal(t, 3, done.UpstreamRelationship["lib"])
	require.Equal(t, ResultUnstable, *done.Result)
}

func TestCauseString(t *testing.T) {
	b := &Build{Project: "lib", Number: 4}
	require.Equal(t, `Started by upstream project "lib" build number 4`, UpstreamCause(b).String())
	require.Equal(t, "Started manually", Cause{Kind: CauseManual}.String())
}
