package commands

import (
	"fmt"
	"io"
	"strings"

	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
	"git.home.luguber.info/inful/cascade/internal/model"
	"git.home.luguber.info/inful/cascade/internal/util/sets"
)

// GraphCmd implements the 'graph' command.
type GraphCmd struct {
	Project string `required:"" help:"Project to describe"`
}

func (c *GraphCmd) Run(g *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gr, err := loadGraph(cfg)
	if err != nil {
		return err
	}
	p, ok := gr.Project(c.Project)
	if !ok {
		return ferrors.NotFoundError("unknown project").WithContext("project", c.Project).Build()
	}

	out := g.out()
	fmt.Fprintf(out, "%s (%s)\n", p.Name, p.Kind)
	if p.Parent != "" {
		fmt.Fprintf(out, "  module of:            %s\n", p.Parent)
	}
	if p.Kind == model.KindModuleSet {
		line(out, "modules", projectNames(gr.BuildOrder(p.Name)))
	}
	line(out, "upstream", projectNames(gr.ImmediateUpstream(p.Name)))
	line(out, "transitive upstream", sets.Sorted(gr.TransitiveUpstream(p.Name)))
	line(out, "downstream", projectNames(gr.ImmediateDownstream(p.Name)))
	line(out, "transitive downstream", sets.Sorted(gr.TransitiveDownstream(p.Name)))
	return nil
}

func line(w io.Writer, label string, names []string) {
	value := "-"
	if len(names) > 0 {
		value = strings.Join(names, ", ")
	}
	fmt.Fprintf(w, "  %-21s %s\n", label+":", value)
}

func projectNames(ps []model.Project) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.Name)
	}
	return out
}
