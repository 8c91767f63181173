package transport

import (
	"context"
	"io"

	"git.home.luguber.info/inful/cascade/internal/splitlog"
)

// Loopback runs an AgentHandler in-process. Marks are written straight into
// the build's output by the handler.
type Loopback struct {
	handler AgentHandler
}

// NewLoopback returns a Launcher serving builds with handler.
func NewLoopback(handler AgentHandler) *Loopback {
	return &Loopback{handler: handler}
}

// Launch starts req in a new goroutine.
func (l *Loopback) Launch(ctx context.Context, req RunRequest, out io.Writer, onModule ModuleHandler) (Session, error) {
	runCtx, cancel := context.WithCancel(ctx)
	s := &loopbackSession{
		handler: l.handler,
		buildID: req.BuildID,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		s.result = l.handler.Run(runCtx, req, out, loopbackLink(onModule))
	}()
	return s, nil
}

type loopbackLink ModuleHandler

func (f loopbackLink) Module(ctx context.Context, ev ModuleEvent) error {
	if f == nil {
		return nil
	}
	return f(ctx, ev)
}

type loopbackSession struct {
	handler AgentHandler
	buildID string
	cancel  context.CancelFunc
	done    chan struct{}
	result  DoneMessage
}

func (s *loopbackSession) Call(ctx context.Context, fn splitlog.RemoteFunc) splitlog.Future {
	return splitlog.Resolved(s.handler.Mark(ctx, MarkRequest{BuildID: s.buildID, Marker: fn.Marker}))
}

func (s *loopbackSession) Wait(ctx context.Context) (DoneMessage, error) {
	select {
	case <-s.done:
		return s.result, nil
	case <-ctx.Done():
		return DoneMessage{}, ctx.Err()
	}
}

func (s *loopbackSession) Close() error {
	s.cancel()
	return nil
}
