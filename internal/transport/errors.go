package transport

import (
	"git.home.luguber.info/inful/cascade/internal/foundation/errors"
)

// Sentinel errors for transport operations. Request failures are retryable;
// a build whose agent went away can be started again.
var (
	ErrConnectFailed  = errors.TransportError("failed to connect to NATS").Build()
	ErrRequestFailed  = errors.TransportError("request to agent failed").Build()
	ErrSubscribe      = errors.TransportError("failed to subscribe").Build()
	ErrPublishFailed  = errors.TransportError("failed to publish").Build()
	ErrRemote         = errors.NewError(errors.CategoryTransport, "agent reported an error").Build()
	ErrEncode         = errors.NewError(errors.CategoryTransport, "failed to encode message").Build()
	ErrDecode         = errors.NewError(errors.CategoryTransport, "failed to decode message").Build()
	ErrOutputGap      = errors.NewError(errors.CategoryTransport, "output chunk lost").Build()
	ErrUnknownBuild   = errors.NotFoundError("no such running build").Build()
	ErrSessionClosed  = errors.NewError(errors.CategoryTransport, "session closed").Build()
	ErrRegistryFailed = errors.TransportError("agent registry operation failed").Build()
)

// replyError turns a reply into an error.
func replyError(r Reply) error {
	if r.Error == "" {
		return nil
	}
	return ErrRemote.WithContext("remote", r.Error)
}

func errorReply(err error) Reply {
	if err == nil {
		return Reply{}
	}
	return Reply{Error: err.Error()}
}
