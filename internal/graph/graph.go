// Package graph builds the project dependency graph and answers reachability queries.
//
// A Graph is immutable once built. Holder publishes the current snapshot so that
// readers (the trigger engine, the build queue) always see one consistent graph while
// a configuration reload swaps in a new one.
package graph

import (
	"slices"
	"sync/atomic"

	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
	"git.home.luguber.info/inful/cascade/internal/model"
	"git.home.luguber.info/inful/cascade/internal/util/sets"
)

// Graph is an immutable dependency graph over projects. Edges point from an
// upstream (producer) to a downstream (consumer).
type Graph struct {
	projects   map[string]model.Project
	upstream   map[string][]string
	downstream map[string][]string
	members    map[string][]string
}

// New builds a graph from project declarations. Every declared upstream must exist.
func New(projects []model.Project) (*Graph, error) {
	g := &Graph{
		projects:   make(map[string]model.Project, len(projects)),
		upstream:   make(map[string][]string, len(projects)),
		downstream: make(map[string][]string, len(projects)),
		members:    make(map[string][]string),
	}
	for _, p := range projects {
		if p.Name == "" {
			return nil, ferrors.GraphError("project name is required").Build()
		}
		if _, dup := g.projects[p.Name]; dup {
			return nil, ferrors.GraphError("duplicate project").WithContext("project", p.Name).Build()
		}
		g.projects[p.Name] = p
	}

	for _, p := range projects {
		if p.Kind == model.KindModule {
			parent, ok := g.projects[p.Parent]
			if !ok || parent.Kind != model.KindModuleSet {
				return nil, ferrors.GraphError("module parent is not a module set").
					WithContext("project", p.Name).
					WithContext("parent", p.Parent).
					Build()
			}
			g.members[p.Parent] = append(g.members[p.Parent], p.Name)
		}
		seen := sets.New[string]()
		for _, up := range p.Upstreams {
			if _, ok := g.projects[up]; !ok {
				return nil, ferrors.GraphError("unknown upstream project").
					WithContext("project", p.Name).
					WithContext("upstream", up).
					Build()
			}
			if up == p.Name || !seen.Add(up) {
				continue
			}
			g.upstream[p.Name] = append(g.upstream[p.Name], up)
			g.downstream[up] = append(g.downstream[up], p.Name)
		}
	}

	for _, m := range []map[string][]string{g.upstream, g.downstream, g.members} {
		for k := range m {
			slices.Sort(m[k])
		}
	}
	return g, nil
}

// Project looks up a project by name.
func (g *Graph) Project(name string) (model.Project, bool) {
	p, ok := g.projects[name]
	return p, ok
}

// Root returns the project whose policy governs name: its module set for
// modules, itself otherwise.
func (g *Graph) Root(name string) (model.Project, bool) {
	p, ok := g.projects[name]
	if !ok {
		return model.Project{}, false
	}
	if root, ok := g.projects[p.RootName()]; ok {
		return root, true
	}
	return p, true
}

// Projects returns all projects sorted by name.
func (g *Graph) Projects() []model.Project {
	names := make([]string, 0, len(g.projects))
	for n := range g.projects {
		names = append(names, n)
	}
	slices.Sort(names)
	return g.lookup(names)
}

// Members returns the modules of a module set in name order.
func (g *Graph) Members(moduleSet string) []model.Project {
	return g.lookup(g.members[moduleSet])
}

// BuildOrder returns the modules of a module set so that every module comes
// after the members it depends on. Ties are broken by name.
func (g *Graph) BuildOrder(moduleSet string) []model.Project {
	names := g.members[moduleSet]
	inSet := sets.New(names...)
	pending := make(map[string]int, len(names))
	for _, n := range names {
		for _, up := range g.upstream[n] {
			if inSet.Has(up) {
				pending[n]++
			}
		}
	}

	order := make([]string, 0, len(names))
	done := sets.New[string]()
	for len(order) < len(names) {
		progressed := false
		for _, n := range names {
			if done.Has(n) || pending[n] > 0 {
				continue
			}
			done.Add(n)
			order = append(order, n)
			progressed = true
			for _, down := range g.downstream[n] {
				if inSet.Has(down) {
					pending[down]--
				}
			}
			break
		}
		if !progressed {
			// cycle among members; configuration validation rejects these
			for _, n := range names {
				if !done.Has(n) {
					done.Add(n)
					order = append(order, n)
				}
			}
		}
	}
	return g.lookup(order)
}

// ImmediateUpstream returns the direct build inputs of name.
func (g *Graph) ImmediateUpstream(name string) []model.Project {
	return g.lookup(g.upstream[name])
}

// ImmediateDownstream returns the direct consumers of name.
func (g *Graph) ImmediateDownstream(name string) []model.Project {
	return g.lookup(g.downstream[name])
}

// TransitiveUpstream returns every project reachable from name by following
// upstream edges. name itself is included only when it sits on a cycle.
func (g *Graph) TransitiveUpstream(name string) sets.Set[string] {
	return g.reach(name, g.upstream)
}

// TransitiveDownstream returns every project reachable from name by following
// downstream edges.
func (g *Graph) TransitiveDownstream(name string) sets.Set[string] {
	return g.reach(name, g.downstream)
}

// Cycles returns, for each project that can reach itself, its name. The result
// is sorted and empty for acyclic graphs.
func (g *Graph) Cycles() []string {
	var out []string
	for name := range g.projects {
		if g.TransitiveUpstream(name).Has(name) {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

func (g *Graph) reach(start string, edges map[string][]string) sets.Set[string] {
	visited := sets.New[string]()
	queue := slices.Clone(edges[start])
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if !visited.Add(next) {
			continue
		}
		queue = append(queue, edges[next]...)
	}
	return visited
}

func (g *Graph) lookup(names []string) []model.Project {
	out := make([]model.Project, 0, len(names))
	for _, n := range names {
		out = append(out, g.projects[n])
	}
	return out
}

// Holder publishes the current graph snapshot.
type Holder struct {
	current atomic.Pointer[Graph]
}

// NewHolder returns a holder serving g.
func NewHolder(g *Graph) *Holder {
	h := &Holder{}
	h.current.Store(g)
	return h
}

// Snapshot returns the graph current at the time of the call.
func (h *Holder) Snapshot() *Graph {
	return h.current.Load()
}

// Swap installs a new graph and returns the previous one.
func (h *Holder) Swap(g *Graph) *Graph {
	return h.current.Swap(g)
}
