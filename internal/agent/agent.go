// Package agent runs builds on behalf of the controller. Each build's output
// is one ordered stream, and module boundaries are reported back to the
// controller before module output starts.
package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"git.home.luguber.info/inful/cascade/internal/logfields"
	"git.home.luguber.info/inful/cascade/internal/model"
	"git.home.luguber.info/inful/cascade/internal/transport"
)

// Agent implements transport.AgentHandler.
type Agent struct {
	name   string
	runner StepRunner

	mu      sync.Mutex
	streams map[string]*Stream
}

// New returns an agent running steps with runner.
func New(name string, runner StepRunner) *Agent {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Agent{name: name, runner: runner, streams: make(map[string]*Stream)}
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Running is the number of builds in progress.
func (a *Agent) Running() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.streams)
}

// Mark prints the marker on the output of a running build.
func (a *Agent) Mark(_ context.Context, req transport.MarkRequest) error {
	a.mu.Lock()
	s, ok := a.streams[req.BuildID]
	a.mu.Unlock()
	if !ok {
		return transport.ErrUnknownBuild.WithContext("build_id", req.BuildID)
	}
	return s.Mark(req.Marker)
}

// Run executes req. Without modules the project command runs once. With
// modules each runs in order between a starting and a finished callback;
// after a failure the remaining modules are reported NOT_BUILT.
func (a *Agent) Run(ctx context.Context, req transport.RunRequest, out io.Writer, ctl transport.ControllerLink) transport.DoneMessage {
	stream := NewStream(out)
	a.mu.Lock()
	a.streams[req.BuildID] = stream
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.streams, req.BuildID)
		a.mu.Unlock()
		stream.Close()
	}()

	slog.Info("Build started on agent", logfields.Agent(a.name), logfields.BuildID(req.BuildID), "modules", len(req.Modules))
	done := transport.DoneMessage{BuildID: req.BuildID, Result: model.ResultSuccess}

	if len(req.Modules) == 0 {
		res, err := a.runner.Run(ctx, Step{Project: req.Project, Number: req.Number, Command: req.Command}, stream)
		done.Result = res
		if err != nil {
			done.Error = err.Error()
			done.Result = res.Combine(model.ResultFailure)
		}
		return a.finish(done)
	}

	failed := false
	for _, m := range req.Modules {
		if failed || ctx.Err() != nil {
			res := model.ResultNotBuilt
			if ctx.Err() != nil {
				res = model.ResultAborted
			}
			done.Result = done.Result.Combine(res)
			if err := a.notify(ctx, ctl, req.BuildID, m.Name, transport.ModuleFinished, &res); err != nil {
				done.Error = err.Error()
				done.Result = done.Result.Combine(model.ResultFailure)
				return a.finish(done)
			}
			continue
		}

		if err := a.notify(ctx, ctl, req.BuildID, m.Name, transport.ModuleStarting, nil); err != nil {
			done.Error = err.Error()
			done.Result = done.Result.Combine(model.ResultFailure)
			return a.finish(done)
		}
		res, err := a.runner.Run(ctx, Step{Project: req.Project, Number: req.Number, Module: m.Name, Command: m.Command}, stream)
		if err != nil {
			fmt.Fprintf(stream, "cascade: module %s: %v\n", m.Name, err)
			res = res.Combine(model.ResultFailure)
		}
		done.Result = done.Result.Combine(res)
		if res.IsWorseThan(model.ResultUnstable) {
			failed = true
		}
		if err := a.notify(ctx, ctl, req.BuildID, m.Name, transport.ModuleFinished, &res); err != nil {
			done.Error = err.Error()
			done.Result = done.Result.Combine(model.ResultFailure)
			return a.finish(done)
		}
	}
	return a.finish(done)
}

func (a *Agent) notify(ctx context.Context, ctl transport.ControllerLink, buildID, module string, phase transport.ModulePhase, res *model.Result) error {
	err := ctl.Module(ctx, transport.ModuleEvent{BuildID: buildID, Module: module, Phase: phase, Result: res})
	if err != nil {
		slog.Error("Module callback failed",
			logfields.Agent(a.name),
			logfields.BuildID(buildID),
			logfields.Module(module),
			"phase", string(phase),
			logfields.Error(err))
	}
	return err
}

func (a *Agent) finish(done transport.DoneMessage) transport.DoneMessage {
	slog.Info("Build finished on agent",
		logfields.Agent(a.name),
		logfields.BuildID(done.BuildID),
		logfields.Result(done.Result.String()))
	return done
}
