package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/cascade/internal/logfields"
)

// moduleCallbackTimeout bounds a module-boundary callback, which includes a
// full log synchronization on the controller.
const moduleCallbackTimeout = 5 * time.Minute

// Server binds an AgentHandler to the agent's NATS subjects.
type Server struct {
	nc       *nats.Conn
	subjects Subjects
	agent    string
	handler  AgentHandler

	ctx    context.Context
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup
}

// Serve subscribes to the run and mark subjects of agent.
func Serve(ctx context.Context, nc *nats.Conn, subjects Subjects, agent string, handler AgentHandler) (*Server, error) {
	sctx, cancel := context.WithCancel(ctx)
	s := &Server{
		nc:       nc,
		subjects: subjects,
		agent:    agent,
		handler:  handler,
		ctx:      sctx,
		cancel:   cancel,
	}

	for subject, h := range map[string]nats.MsgHandler{
		subjects.Run(agent):  s.handleRun,
		subjects.Mark(agent): s.handleMark,
	} {
		sub, err := nc.Subscribe(subject, h)
		if err != nil {
			_ = s.Close()
			return nil, ErrSubscribe.WithCause(err).WithContext("subject", subject)
		}
		s.subs = append(s.subs, sub)
	}
	if err := nc.Flush(); err != nil {
		_ = s.Close()
		return nil, ErrSubscribe.WithCause(err)
	}
	slog.Info("Agent listening", logfields.Agent(agent), "prefix", subjects.prefix())
	return s, nil
}

func (s *Server) handleRun(msg *nats.Msg) {
	var req RunRequest
	if err := Unmarshal(msg.Data, &req); err != nil {
		respond(msg, errorReply(ErrDecode.WithCause(err)))
		return
	}
	respond(msg, Reply{})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		out := NewOutputWriter(s.nc, s.subjects.Output(req.BuildID))
		link := natsLink{nc: s.nc, subject: s.subjects.Module(req.BuildID)}

		done := s.handler.Run(s.ctx, req, out, link)
		done.BuildID = req.BuildID
		done.Chunks = out.Chunks()

		data, err := Marshal(done)
		if err != nil {
			slog.Error("Cannot encode done message", logfields.BuildID(req.BuildID), logfields.Error(err))
			return
		}
		if err := s.nc.Publish(s.subjects.Done(req.BuildID), data); err != nil {
			slog.Error("Cannot publish done message", logfields.BuildID(req.BuildID), logfields.Error(err))
		}
	}()
}

func (s *Server) handleMark(msg *nats.Msg) {
	var req MarkRequest
	if err := Unmarshal(msg.Data, &req); err != nil {
		respond(msg, errorReply(ErrDecode.WithCause(err)))
		return
	}
	respond(msg, errorReply(s.handler.Mark(s.ctx, req)))
}

// Close stops accepting requests and waits for running builds to report.
func (s *Server) Close() error {
	var first error
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil && first == nil {
			first = err
		}
	}
	s.cancel()
	s.wg.Wait()
	return first
}

type natsLink struct {
	nc      *nats.Conn
	subject string
}

func (l natsLink) Module(ctx context.Context, ev ModuleEvent) error {
	return request(ctx, l.nc, l.subject, ev, moduleCallbackTimeout)
}
