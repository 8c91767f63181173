package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"git.home.luguber.info/inful/cascade/internal/agent"
	ferrors "git.home.luguber.info/inful/cascade/internal/foundation/errors"
	"git.home.luguber.info/inful/cascade/internal/logfields"
	"git.home.luguber.info/inful/cascade/internal/transport"
)

// AgentCmd implements the 'agent' command.
type AgentCmd struct {
	Name    string `help:"Agent name; defaults to transport.agent, then the hostname"`
	WorkDir string `name:"workdir" short:"w" help:"Working directory for build commands" type:"path"`
}

func (a *AgentCmd) Run(_ *Global, root *CLI) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Transport.NATSURL == "" {
		return ferrors.ConfigError("transport.nats_url is required to run an agent").Build()
	}

	name := a.agentName(cfg.Transport.Agent)
	nc, err := transport.Connect(cfg.Transport.NATSURL, "cascade-agent-"+name)
	if err != nil {
		return err
	}
	defer nc.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("Starting agent", logfields.Agent(name), "workdir", a.WorkDir)
	ag := agent.New(name, agent.ExecRunner{Dir: a.WorkDir})
	if err := ag.ServeNATS(ctx, nc, cfg.Transport); err != nil {
		return err
	}
	slog.Info("Agent stopped", logfields.Agent(name))
	return nil
}

func (a *AgentCmd) agentName(configured string) string {
	switch {
	case a.Name != "":
		return a.Name
	case configured != "":
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "agent"
}
