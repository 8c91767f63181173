package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/cascade/internal/config"
	"git.home.luguber.info/inful/cascade/internal/graph"
)

// Global is shared state handed to every subcommand.
type Global struct {
	Stdout io.Writer
}

func (g *Global) out() io.Writer {
	if g == nil || g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}

// CLI definition & global flags.
type CLI struct {
	Config    string           `short:"c" help:"Configuration file path" default:"cascade.yaml" type:"path"`
	Verbose   bool             `short:"v" help:"Enable verbose logging"`
	LogFormat string           `name:"log-format" help:"Log output format (text or json); defaults to monitoring.logging.format"`
	Version   kong.VersionFlag `name:"version" help:"Show version and exit"`

	Controller ControllerCmd `cmd:"" help:"Run the build controller"`
	Agent      AgentCmd      `cmd:"" help:"Run a build agent serving the NATS control channel"`
	Evaluate   EvaluateCmd   `cmd:"" help:"Dry-run the trigger decision for one upstream build and downstream"`
	Graph      GraphCmd      `cmd:"" help:"Show the upstreams and downstreams of a project"`
	Init       InitCmd       `cmd:"" help:"Write an example configuration file"`
}

// AfterApply runs after flag parsing; it installs a provisional handler so
// config loading is logged.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply() error {
	level := slog.LevelInfo
	if c.Verbose {
		level = slog.LevelDebug
	}
	setupLogging(level, config.NormalizeLogFormat(c.LogFormat))
	return nil
}

// loadConfig reads the configuration and reapplies logging from its
// monitoring section. Command-line flags win.
func (c *CLI) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	level := cfg.Monitoring.Logging.Level.SlogLevel()
	if c.Verbose {
		level = slog.LevelDebug
	}
	format := cfg.Monitoring.Logging.Format
	if c.LogFormat != "" {
		format = config.NormalizeLogFormat(c.LogFormat)
	}
	setupLogging(level, format)
	return cfg, nil
}

func setupLogging(level slog.Level, format config.LogFormat) {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if format == config.LogFormatJSON {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func loadGraph(cfg *config.Config) (*graph.Graph, error) {
	projects, err := cfg.BuildProjects()
	if err != nil {
		return nil, err
	}
	return graph.New(projects)
}
