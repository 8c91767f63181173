package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"git.home.luguber.info/inful/cascade/internal/model"
)

// Step is one command of a build.
type Step struct {
	Project string
	Number  int
	Module  string
	Command []string
}

// StepRunner executes steps.
type StepRunner interface {
	Run(ctx context.Context, step Step, out io.Writer) (model.Result, error)
}

// ExecRunner runs steps as child processes in Dir.
type ExecRunner struct {
	Dir string
	Env []string
}

// Run executes step.Command with stdout and stderr on out. A non-zero exit is
// a FAILURE, not an error; errors are reserved for steps that could not run.
func (r ExecRunner) Run(ctx context.Context, step Step, out io.Writer) (model.Result, error) {
	if len(step.Command) == 0 {
		return model.ResultSuccess, nil
	}
	cmd := exec.CommandContext(ctx, step.Command[0], step.Command[1:]...)
	cmd.Dir = r.Dir
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Env = append(os.Environ(), r.Env...)
	cmd.Env = append(cmd.Env,
		"CASCADE_PROJECT="+step.Project,
		fmt.Sprintf("CASCADE_BUILD_NUMBER=%d", step.Number),
		"CASCADE_MODULE="+step.Module,
	)

	err := cmd.Run()
	if ctx.Err() != nil {
		return model.ResultAborted, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return model.ResultFailure, nil
	}
	if err != nil {
		return model.ResultFailure, fmt.Errorf("run %q: %w", step.Command[0], err)
	}
	return model.ResultSuccess, nil
}
