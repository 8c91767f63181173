package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/cascade/internal/daemon"
)

// ControllerCmd runs the build controller in the foreground.
type ControllerCmd struct {
	NoWatch bool `name:"no-watch" help:"Do not reload the project graph when the config file changes"`
}

func (c *ControllerCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	watchPath := root.Config
	if c.NoWatch {
		watchPath = ""
	}
	d, err := daemon.New(cfg, watchPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// After the first signal a second one kills the process.
	context.AfterFunc(ctx, stop)

	// Start returns once the daemon has stopped.
	if err := d.Start(ctx); err != nil {
		return err
	}
	slog.Info("Controller exited")
	return nil
}
