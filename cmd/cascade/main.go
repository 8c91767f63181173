package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/cascade/cmd/cascade/commands"
	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
	"git.home.luguber.info/inful/cascade/internal/version"
)

func main() {
	cli := &commands.CLI{}
	ctx := kong.Parse(cli,
		kong.Name("cascade"),
		kong.Description("Upstream/downstream build orchestration with per-module log capture"),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
	)
	if err := ctx.Run(&commands.Global{Stdout: os.Stdout}, cli); err != nil {
		adapter := ferrors.NewCLIErrorAdapter(cli.Verbose, slog.Default())
		os.Exit(adapter.Report(os.Stderr, err))
	}
}
