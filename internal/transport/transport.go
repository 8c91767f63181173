// Package transport carries builds between the controller and its agents:
// run and mark requests, module-boundary callbacks, and the raw output
// stream. NATS is the wire; Loopback runs everything in-process.
package transport

import (
	"context"
	"io"

	"git.home.luguber.info/inful/cascade/internal/splitlog"
)

// ModuleHandler answers module-boundary callbacks on the controller. The agent
// waits for it to return before continuing the build.
type ModuleHandler func(ctx context.Context, ev ModuleEvent) error

// ControllerLink is the agent's way back to the controller during a run.
type ControllerLink interface {
	Module(ctx context.Context, ev ModuleEvent) error
}

// AgentHandler is the agent-side implementation of the protocol.
type AgentHandler interface {
	// Run builds req, writing all output to out, and reports the outcome.
	Run(ctx context.Context, req RunRequest, out io.Writer, ctl ControllerLink) DoneMessage
	// Mark prints req.Marker on the output of the running build req.BuildID.
	Mark(ctx context.Context, req MarkRequest) error
}

// Session is the controller's handle on one remote build. Marks requested
// through Call appear in the build's output stream.
type Session interface {
	splitlog.Caller
	// Wait blocks until the build is done and all of its output was delivered.
	Wait(ctx context.Context) (DoneMessage, error)
	Close() error
}

// Launcher starts builds on an agent.
type Launcher interface {
	Launch(ctx context.Context, req RunRequest, out io.Writer, onModule ModuleHandler) (Session, error)
}
