package trigger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/cascade/internal/model"
)

// lib -> app
func simpleEngine(t *testing.T, store *memStore, active activeSet, appPolicy model.Policy) *Engine {
	t.Helper()
	g := mustGraph(t,
		model.Project{Name: "lib"},
		model.Project{Name: "app", Upstreams: []string{"lib"}, Policy: appPolicy},
	)
	return NewEngine(StaticGraph(g), store, active)
}

func TestResultGateRejectsEveryWorseResult(t *testing.T) {
	e := simpleEngine(t, newMemStore(), activeSet{}, model.Policy{})
	for _, r := range []model.Result{model.ResultUnstable, model.ResultFailure, model.ResultNotBuilt, model.ResultAborted} {
		t.Run(r.String(), func(t *testing.T) {
			d := e.Evaluate(t.Context(), finishedBuild("lib", 1, r), "app", nil)
			require.False(t, d.Trigger)
			require.Equal(t, RuleResult, d.Rule)
		})
	}
}

func TestNonTerminalBuildIsNotDecidable(t *testing.T) {
	e := simpleEngine(t, newMemStore(), activeSet{}, model.Policy{})

	running := &model.Build{Project: "lib", Number: 1}
	require.Equal(t, RuleNotTerminal, e.Evaluate(t.Context(), running, "app", nil).Rule)
	require.Equal(t, RuleNotTerminal, e.Evaluate(t.Context(), nil, "app", nil).Rule)
}

func TestUnknownDownstream(t *testing.T) {
	e := simpleEngine(t, newMemStore(), activeSet{}, model.Policy{})
	d := e.Evaluate(t.Context(), finishedBuild("lib", 1, model.ResultSuccess), "ghost", nil)
	require.False(t, d.Trigger)
	require.Equal(t, RuleUnknownProject, d.Rule)
}

// First build ever of the upstream with no downstream history triggers.
func TestFirstBuildTriggers(t *testing.T) {
	store := newMemStore()
	e := simpleEngine(t, store, activeSet{}, model.Policy{})

	lib1 := finishedBuild("lib", 1, model.ResultSuccess)
	store.add(lib1)

	d := e.Evaluate(t.Context(), lib1, "app", nil)
	require.True(t, d.Trigger)
	require.Equal(t, RuleApproved, d.Rule)
	require.True(t, e.ShouldTrigger(t.Context(), lib1, "app"))
}

func TestUnstableUpstreamDoesNotTrigger(t *testing.T) {
	store := newMemStore()
	e := simpleEngine(t, store, activeSet{}, model.Policy{})

	lib1 := finishedBuild("lib", 1, model.ResultUnstable)
	store.add(lib1)

	require.False(t, e.ShouldTrigger(t.Context(), lib1, "app"))
}

func TestMissingSuccessfulUpstream(t *testing.T) {
	build := func(ignore bool) (*Engine, *memStore) {
		store := newMemStore()
		g := mustGraph(t,
			model.Project{Name: "lib"},
			model.Project{Name: "util"},
			model.Project{Name: "app", Upstreams: []string{"lib", "util"}, Policy: model.Policy{IgnoreUnsuccessfulUpstreams: ignore}},
		)
		store.add(finishedBuild("util", 1, model.ResultFailure))
		return NewEngine(StaticGraph(g), store, activeSet{}), store
	}

	t.Run("blocks without ignore flag", func(t *testing.T) {
		e, store := build(false)
		lib := finishedBuild("lib", 3, model.ResultSuccess)
		store.add(lib)

		var console bytes.Buffer
		d := e.Evaluate(t.Context(), lib, "app", &console)
		require.False(t, d.Trigger)
		require.Equal(t, RuleMissingUpstream, d.Rule)
		require.Contains(t, console.String(), "util has no successful build")
	})

	t.Run("continues with ignore flag", func(t *testing.T) {
		e, store := build(true)
		lib := finishedBuild("lib", 3, model.ResultSuccess)
		store.add(lib)

		d := e.Evaluate(t.Context(), lib, "app", nil)
		require.True(t, d.Trigger)
		require.Equal(t, RuleApproved, d.Rule)
		require.Len(t, d.Messages, 1)
	})
}

func TestExternalUpstreamIsNotConsulted(t *testing.T) {
	store := newMemStore()
	g := mustGraph(t,
		model.Project{Name: "lib"},
		model.Project{Name: "vendor", Kind: model.KindExternal},
		model.Project{Name: "app", Upstreams: []string{"lib", "vendor"}},
	)
	e := NewEngine(StaticGraph(g), store, activeSet{})

	lib := finishedBuild("lib", 1, model.ResultSuccess)
	store.add(lib)
	require.True(t, e.ShouldTrigger(t.Context(), lib, "app"))
}

func TestUpstreamBuildingDefers(t *testing.T) {
	for _, block := range []bool{true, false} {
		t.Run(map[bool]string{true: "blocking root", false: "non-blocking root"}[block], func(t *testing.T) {
			store := newMemStore()
			g := mustGraph(t,
				model.Project{Name: "base"},
				model.Project{Name: "lib", Upstreams: []string{"base"}},
				model.Project{Name: "util"},
				model.Project{Name: "app", Upstreams: []string{"lib", "util"}, Policy: model.Policy{BlockTriggerWhenBuilding: block}},
			)
			e := NewEngine(StaticGraph(g), store, activeSet{"base": {}})
			store.add(finishedBuild("util", 1, model.ResultSuccess))

			var console bytes.Buffer
			d := e.Evaluate(t.Context(), finishedBuild("util", 1, model.ResultSuccess), "app", &console)
			require.False(t, d.Trigger)
			require.Equal(t, RuleUpstreamBuilding, d.Rule)
			if block {
				assert.Contains(t, console.String(), "Not triggering app")
			} else {
				assert.Contains(t, console.String(), "Deferring app")
			}
		})
	}
}

func TestFinishedProjectBuildingAgainDoesNotBlock(t *testing.T) {
	store := newMemStore()
	e := simpleEngine(t, store, activeSet{"lib": {}}, model.Policy{BlockTriggerWhenBuilding: true})

	lib := finishedBuild("lib", 1, model.ResultSuccess)
	store.add(lib)
	require.True(t, e.ShouldTrigger(t.Context(), lib, "app"))
}

// core-util <- core-api <- app, with core-util and core-api modules of core.
// While core runs, the queue reports every one of its modules as building.
func TestModuleFinishingInsideRunningSetIgnoresSiblings(t *testing.T) {
	store := newMemStore()
	g := mustGraph(t,
		model.Project{Name: "core", Kind: model.KindModuleSet},
		model.Project{Name: "core-util", Kind: model.KindModule, Parent: "core"},
		model.Project{Name: "core-api", Kind: model.KindModule, Parent: "core", Upstreams: []string{"core-util"}},
		model.Project{Name: "app", Upstreams: []string{"core-api"}},
		model.Project{Name: "other"},
		model.Project{Name: "web", Upstreams: []string{"core-api", "other"}},
	)
	running := activeSet{"core": {}, "core-util": {}, "core-api": {}}
	e := NewEngine(StaticGraph(g), store, running)

	api := finishedBuild("core-api", 1, model.ResultSuccess)
	store.add(api)

	d := e.Evaluate(t.Context(), api, "app", nil)
	require.True(t, d.Trigger, "messages: %v", d.Messages)
	require.Equal(t, RuleApproved, d.Rule)

	// An upstream outside the set still defers.
	running["other"] = struct{}{}
	d = e.Evaluate(t.Context(), api, "web", nil)
	require.False(t, d.Trigger)
	require.Equal(t, RuleUpstreamBuilding, d.Rule)
	require.Contains(t, d.Messages[0], "other")
}

func TestModuleRootPolicyDecidesBlockingMessage(t *testing.T) {
	store := newMemStore()
	g := mustGraph(t,
		model.Project{Name: "base"},
		model.Project{Name: "lib"},
		model.Project{Name: "core", Kind: model.KindModuleSet, Policy: model.Policy{BlockTriggerWhenBuilding: true}},
		model.Project{Name: "core-api", Kind: model.KindModule, Parent: "core", Upstreams: []string{"lib", "base"}},
	)
	e := NewEngine(StaticGraph(g), store, activeSet{"base": {}})
	lib := finishedBuild("lib", 2, model.ResultSuccess)
	store.add(lib)

	d := e.Evaluate(t.Context(), lib, "core-api", nil)
	require.Equal(t, RuleUpstreamBuilding, d.Rule)
	require.Contains(t, d.Messages[0], "Not triggering core-api")
}

func TestReleaseBuildDoesNotCascade(t *testing.T) {
	store := newMemStore()
	e := simpleEngine(t, store, activeSet{}, model.Policy{})

	lib := finishedBuild("lib", 1, model.ResultSuccess)
	lib.Release = true
	store.add(lib)

	d := e.Evaluate(t.Context(), lib, "app", nil)
	require.False(t, d.Trigger)
	require.Equal(t, RuleRelease, d.Rule)
}

// lib -> api -> app and lib -> app: app waits for api.
func TestConvergenceLeavesCandidateToSibling(t *testing.T) {
	store := newMemStore()
	g := mustGraph(t,
		model.Project{Name: "lib"},
		model.Project{Name: "api", Upstreams: []string{"lib"}},
		model.Project{Name: "app", Upstreams: []string{"api", "lib"}},
	)
	e := NewEngine(StaticGraph(g), store, activeSet{})

	lib := finishedBuild("lib", 1, model.ResultSuccess)
	store.add(lib)

	d := e.Evaluate(t.Context(), lib, "app", nil)
	require.False(t, d.Trigger)
	require.Equal(t, RuleConvergence, d.Rule)
	require.Contains(t, d.Messages[0], "through api")

	require.True(t, e.ShouldTrigger(t.Context(), lib, "api"))

	api := withUpstreams(finishedBuild("api", 1, model.ResultSuccess), map[string]int{"lib": 1})
	store.add(api)
	require.True(t, e.ShouldTrigger(t.Context(), api, "app"))
}

func TestBackwardsUpstreamNumberIsDiagnosticOnly(t *testing.T) {
	store := newMemStore()
	e := simpleEngine(t, store, activeSet{}, model.Policy{})

	store.add(withUpstreams(finishedBuild("app", 4, model.ResultSuccess), map[string]int{"lib": 9}))
	lib := finishedBuild("lib", 3, model.ResultSuccess)
	store.add(lib)

	require.True(t, e.ShouldTrigger(t.Context(), lib, "app"))
}

func TestStoreErrorDegradesToFalse(t *testing.T) {
	store := newMemStore()
	g := mustGraph(t,
		model.Project{Name: "lib"},
		model.Project{Name: "util"},
		model.Project{Name: "app", Upstreams: []string{"lib", "util"}},
	)
	e := NewEngine(StaticGraph(g), store, activeSet{})
	store.err = errors.New("disk on fire")

	d := e.Evaluate(t.Context(), finishedBuild("lib", 1, model.ResultSuccess), "app", nil)
	require.False(t, d.Trigger)
	require.Equal(t, RuleStoreError, d.Rule)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	store := newMemStore()
	rec := &countingRecorder{}
	g := mustGraph(t,
		model.Project{Name: "lib"},
		model.Project{Name: "util"},
		model.Project{Name: "app", Upstreams: []string{"lib", "util"}},
	)
	e := NewEngine(StaticGraph(g), store, activeSet{}, WithRecorder(rec))
	store.add(finishedBuild("util", 5, model.ResultSuccess))
	store.add(withUpstreams(finishedBuild("app", 2, model.ResultSuccess), map[string]int{"lib": 1, "util": 5}))
	lib := finishedBuild("lib", 2, model.ResultSuccess)
	store.add(lib)

	first := e.Evaluate(t.Context(), lib, "app", nil)
	second := e.Evaluate(t.Context(), lib, "app", nil)
	require.Equal(t, first, second)
	require.True(t, first.Trigger)
	require.Equal(t, 2, rec.decisions[string(RuleApproved)])
}
