package model

import (
	"fmt"

	"git.home.luguber.info/inful/cascade/internal/foundation/normalization"
)

// ProjectKind is a closed capability tag describing how a project participates
// in the dependency graph.
type ProjectKind int

const (
	// KindStandalone is a single-module project.
	KindStandalone ProjectKind = iota
	// KindModuleSet is a multi-module project; it is a graph node of its own.
	KindModuleSet
	// KindModule is one member of a module set.
	KindModule
	// KindExternal participates in the graph but is managed by some other system;
	// its builds are never consulted when deciding downstream triggers.
	KindExternal
)

var kindNames = map[ProjectKind]string{
	KindStandalone: "standalone",
	KindModuleSet:  "module_set",
	KindModule:     "module",
	KindExternal:   "external",
}

func (k ProjectKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("ProjectKind(%d)", int(k))
}

// Buildable reports whether the project is a buildable dependency of the kind
// whose build history the trigger engine inspects.
func (k ProjectKind) Buildable() bool {
	return k != KindExternal
}

var kindNormalizer = normalization.NewNormalizer(map[string]ProjectKind{
	"standalone": KindStandalone,
	"module_set": KindModuleSet,
	"moduleset":  KindModuleSet,
	"module":     KindModule,
	"external":   KindExternal,
}, KindStandalone)

// ParseProjectKind converts a config value to a ProjectKind. Empty means standalone.
func ParseProjectKind(raw string) (ProjectKind, error) {
	k, err := kindNormalizer.NormalizeWithError(raw)
	if err != nil {
		return KindStandalone, fmt.Errorf("unknown project kind: %w", err)
	}
	return k, nil
}

// Policy holds the per-project flags read by the trigger engine.
type Policy struct {
	// IgnoreUnsuccessfulUpstreams lets a downstream trigger even when one of its
	// upstreams has never produced a usable build.
	IgnoreUnsuccessfulUpstreams bool `json:"ignore_unsuccessful_upstreams" yaml:"ignore_unsuccessful_upstreams"`
	// BlockTriggerWhenBuilding is read from the root project of a candidate.
	BlockTriggerWhenBuilding bool `json:"block_trigger_when_building" yaml:"block_trigger_when_building"`
}

// Project is a named buildable unit.
type Project struct {
	Name string
	Kind ProjectKind
	// Parent names the owning module set for KindModule projects.
	Parent string
	// Upstreams are the declared build inputs, by project name.
	Upstreams []string
	Policy    Policy
	// Command is the step the agent runs for this project (modules and standalone projects).
	Command []string
}

// RootName returns the name of the project that owns p's policy for
// "block while building" purposes: the module set for modules, p itself otherwise.
func (p Project) RootName() string {
	if p.Kind == KindModule && p.Parent != "" {
		return p.Parent
	}
	return p.Name
}
