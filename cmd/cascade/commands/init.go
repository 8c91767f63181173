package commands

import (
	"fmt"

	"git.home.luguber.info/inful/cascade/internal/config"
)

// InitCmd writes a starter configuration.
type InitCmd struct {
	Force bool `help:"Replace an existing configuration file"`
}

func (i *InitCmd) Run(g *Global, root *CLI) error {
	if err := config.Init(root.Config, i.Force); err != nil {
		return err
	}
	_, err := fmt.Fprintf(g.out(), "Wrote example configuration to %s\n", root.Config)
	return err
}
