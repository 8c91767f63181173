package transport

import (
	"git.home.luguber.info/inful/cascade/internal/model"
)

// ModuleStep is one module of a run, executed in order.
type ModuleStep struct {
	Name    string   `cbor:"name"`
	Command []string `cbor:"command,omitempty"`
}

// RunRequest asks an agent to build a project.
type RunRequest struct {
	BuildID string       `cbor:"build_id"`
	Project string       `cbor:"project"`
	Number  int          `cbor:"number"`
	Command []string     `cbor:"command,omitempty"`
	Modules []ModuleStep `cbor:"modules,omitempty"`
}

// MarkRequest asks an agent to print Marker on the output of a running build.
type MarkRequest struct {
	BuildID string `cbor:"build_id"`
	Marker  []byte `cbor:"marker"`
}

// ModulePhase tells which side of a module a boundary event is on.
type ModulePhase string

const (
	ModuleStarting ModulePhase = "starting"
	ModuleFinished ModulePhase = "finished"
)

// ModuleEvent is the synchronous agent-to-controller callback at a module
// boundary. The agent does not write module output until it is answered.
type ModuleEvent struct {
	BuildID string        `cbor:"build_id"`
	Module  string        `cbor:"module"`
	Phase   ModulePhase   `cbor:"phase"`
	Result  *model.Result `cbor:"result,omitempty"`
}

// DoneMessage reports the end of a run. Chunks is the number of output
// chunks published, so the reader knows when it has seen all output.
type DoneMessage struct {
	BuildID string       `cbor:"build_id"`
	Result  model.Result `cbor:"result"`
	Error   string       `cbor:"error,omitempty"`
	Chunks  uint64       `cbor:"chunks"`
}

// Reply acknowledges a request. A non-empty Error reports failure.
type Reply struct {
	Error string `cbor:"error,omitempty"`
}
