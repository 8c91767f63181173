package transport

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/cascade/internal/config"
	"git.home.luguber.info/inful/cascade/internal/logfields"
	"git.home.luguber.info/inful/cascade/internal/splitlog"
)

const defaultRequestTimeout = 10 * time.Second

// Connect opens a NATS connection that keeps reconnecting.
func Connect(url, name string) (*nats.Conn, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATS disconnected", logfields.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, ErrConnectFailed.WithCause(err).WithContext("url", url)
	}
	return nc, nil
}

// request sends v to subject and decodes the Reply.
func request(ctx context.Context, nc *nats.Conn, subject string, v any, timeout time.Duration) error {
	data, err := Marshal(v)
	if err != nil {
		return ErrEncode.WithCause(err)
	}
	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	msg, err := nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return ErrRequestFailed.WithCause(err).WithContext("subject", subject)
	}
	var reply Reply
	if err := Unmarshal(msg.Data, &reply); err != nil {
		return ErrDecode.WithCause(err).WithContext("subject", subject)
	}
	return replyError(reply)
}

func respond(msg *nats.Msg, r Reply) {
	data, err := Marshal(r)
	if err != nil {
		slog.Error("Cannot encode reply", "subject", msg.Subject, logfields.Error(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("Cannot send reply", "subject", msg.Subject, logfields.Error(err))
	}
}

// Client is the controller side of the NATS transport for one agent.
type Client struct {
	nc       *nats.Conn
	subjects Subjects
	agent    string
	timeout  time.Duration
}

// NewClient returns a Launcher that runs builds on cfg.Agent.
func NewClient(nc *nats.Conn, cfg config.TransportConfig) *Client {
	timeout := cfg.RequestTimeoutDuration()
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		nc:       nc,
		subjects: Subjects{Prefix: cfg.SubjectPrefix},
		agent:    cfg.Agent,
		timeout:  timeout,
	}
}

// Launch subscribes to the build's subjects, then asks the agent to run it.
func (c *Client) Launch(ctx context.Context, req RunRequest, out io.Writer, onModule ModuleHandler) (Session, error) {
	s := &natsSession{
		client:  c,
		buildID: req.BuildID,
		reader:  NewStreamReader(out),
		done:    make(chan DoneMessage, 1),
	}
	if err := s.reader.Subscribe(c.nc, c.subjects.Output(req.BuildID)); err != nil {
		return nil, err
	}

	moduleSub, err := c.nc.Subscribe(c.subjects.Module(req.BuildID), func(msg *nats.Msg) {
		var ev ModuleEvent
		if err := Unmarshal(msg.Data, &ev); err != nil {
			respond(msg, errorReply(ErrDecode.WithCause(err)))
			return
		}
		var herr error
		if onModule != nil {
			herr = onModule(ctx, ev)
		}
		respond(msg, errorReply(herr))
	})
	if err != nil {
		_ = s.Close()
		return nil, ErrSubscribe.WithCause(err)
	}
	s.subs = append(s.subs, moduleSub)

	doneSub, err := c.nc.Subscribe(c.subjects.Done(req.BuildID), func(msg *nats.Msg) {
		var done DoneMessage
		if err := Unmarshal(msg.Data, &done); err != nil {
			slog.Error("Cannot decode done message", logfields.BuildID(req.BuildID), logfields.Error(err))
			return
		}
		select {
		case s.done <- done:
		default:
		}
	})
	if err != nil {
		_ = s.Close()
		return nil, ErrSubscribe.WithCause(err)
	}
	s.subs = append(s.subs, doneSub)

	if err := c.nc.FlushWithContext(ctx); err != nil {
		_ = s.Close()
		return nil, ErrRequestFailed.WithCause(err)
	}
	if err := request(ctx, c.nc, c.subjects.Run(c.agent), req, c.timeout); err != nil {
		_ = s.Close()
		return nil, err
	}
	slog.Debug("Launched remote build", logfields.BuildID(req.BuildID), logfields.Agent(c.agent))
	return s, nil
}

type natsSession struct {
	client  *Client
	buildID string
	reader  *StreamReader
	subs    []*nats.Subscription
	done    chan DoneMessage

	closeOnce sync.Once
}

func (s *natsSession) Call(ctx context.Context, fn splitlog.RemoteFunc) splitlog.Future {
	ch := make(chan error, 1)
	go func() {
		c := s.client
		ch <- request(ctx, c.nc, c.subjects.Mark(c.agent), MarkRequest{BuildID: s.buildID, Marker: fn.Marker}, c.timeout)
	}()
	return ch
}

func (s *natsSession) Wait(ctx context.Context) (DoneMessage, error) {
	var done DoneMessage
	select {
	case done = <-s.done:
	case <-ctx.Done():
		return DoneMessage{}, ctx.Err()
	}
	if err := s.reader.WaitFor(ctx, done.Chunks); err != nil {
		return done, err
	}
	return done, nil
}

func (s *natsSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.reader.Close()
		for _, sub := range s.subs {
			if uerr := sub.Unsubscribe(); uerr != nil && err == nil {
				err = uerr
			}
		}
	})
	return err
}
