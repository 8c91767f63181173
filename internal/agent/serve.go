package agent

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/cascade/internal/config"
	"git.home.luguber.info/inful/cascade/internal/logfields"
	"git.home.luguber.info/inful/cascade/internal/transport"
	"git.home.luguber.info/inful/cascade/internal/version"
)

const heartbeatInterval = 15 * time.Second

// ServeNATS answers run and mark requests for the agent named in cfg until
// ctx is done. Presence is kept in the agent registry when JetStream is
// available.
func (a *Agent) ServeNATS(ctx context.Context, nc *nats.Conn, cfg config.TransportConfig) error {
	subjects := transport.Subjects{Prefix: cfg.SubjectPrefix}
	server, err := transport.Serve(ctx, nc, subjects, a.name, a)
	if err != nil {
		return err
	}

	regCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeoutDuration())
	registry, err := transport.OpenRegistry(regCtx, nc, subjects)
	cancel()
	if err != nil {
		slog.Warn("Agent registry unavailable; running unregistered", logfields.Agent(a.name), logfields.Error(err))
	} else {
		host, _ := os.Hostname()
		info := transport.AgentInfo{Name: a.name, Hostname: host, Version: version.String(), StartedAt: time.Now()}
		go registry.Heartbeat(ctx, info, heartbeatInterval, a.Running)
	}

	<-ctx.Done()
	slog.Info("Agent shutting down", logfields.Agent(a.name))
	return server.Close()
}
