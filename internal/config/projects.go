package config

import (
	"slices"

	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
	"git.home.luguber.info/inful/cascade/internal/model"
)

// ProjectConfig declares one project. Module sets list their modules inline.
type ProjectConfig struct {
	Name                        string         `yaml:"name"`
	Kind                        string         `yaml:"kind,omitempty"`
	Upstreams                   []string       `yaml:"upstreams,omitempty"`
	IgnoreUnsuccessfulUpstreams bool           `yaml:"ignore_unsuccessful_upstreams,omitempty"`
	BlockTriggerWhenBuilding    bool           `yaml:"block_trigger_when_building,omitempty"`
	Command                     []string       `yaml:"command,omitempty"`
	Modules                     []ModuleConfig `yaml:"modules,omitempty"`
}

// ModuleConfig declares a member of a module set.
type ModuleConfig struct {
	Name      string   `yaml:"name"`
	Upstreams []string `yaml:"upstreams,omitempty"`
	Command   []string `yaml:"command,omitempty"`
}

// BuildProjects flattens the declarations into graph nodes. Modules inherit
// their module set's policy.
func (c *Config) BuildProjects() ([]model.Project, error) {
	var out []model.Project
	for _, pc := range c.Projects {
		kind, err := model.ParseProjectKind(pc.Kind)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryValidation, "invalid project kind").
				WithContext("project", pc.Name).
				Build()
		}
		if len(pc.Modules) > 0 && kind == model.KindStandalone && pc.Kind == "" {
			kind = model.KindModuleSet
		}
		if len(pc.Modules) > 0 && kind != model.KindModuleSet {
			return nil, ferrors.ValidationError("only module sets may declare modules").
				WithContext("project", pc.Name).
				WithContext("kind", kind.String()).
				Build()
		}
		policy := model.Policy{
			IgnoreUnsuccessfulUpstreams: pc.IgnoreUnsuccessfulUpstreams,
			BlockTriggerWhenBuilding:    pc.BlockTriggerWhenBuilding,
		}
		out = append(out, model.Project{
			Name:      pc.Name,
			Kind:      kind,
			Upstreams: slices.Clone(pc.Upstreams),
			Policy:    policy,
			Command:   slices.Clone(pc.Command),
		})
		for _, mc := range pc.Modules {
			out = append(out, model.Project{
				Name:      mc.Name,
				Kind:      model.KindModule,
				Parent:    pc.Name,
				Upstreams: slices.Clone(mc.Upstreams),
				Policy:    policy,
				Command:   slices.Clone(mc.Command),
			})
		}
	}
	return out, nil
}
