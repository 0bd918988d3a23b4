// Package agent resolves and runs agents: statically registered behavior
// units, and dynamic agents compiled at first use from trusted textual
// definitions inside a capability-restricted yaegi sandbox.
package agent

import (
	"context"
	"errors"

	"deskd/internal/types"
)

// Agent is one behavior unit an execution plan can invoke.
type Agent interface {
	// Name is the registry key.
	Name() string

	// Describe returns a one-line description for listings and planning.
	Describe() string

	// Execute runs the agent. The chain context carries the results of all
	// prior steps of the current plan; agents must not retain it.
	Execute(ctx context.Context, input string, chain types.ChainContext) (types.ResponseEnvelope, error)
}

// Sentinel errors for resolution and loading.
var (
	ErrAgentNotFound     = errors.New("agent: not found")
	ErrCapabilityDenied  = errors.New("agent: declared capability outside sandbox grant")
	ErrForbiddenImport   = errors.New("agent: forbidden import in body")
	ErrBadBody           = errors.New("agent: body does not define the required function")
	ErrAlreadyRegistered = errors.New("agent: already registered")
)

// Capability names a narrow permission a dynamic agent may be granted.
type Capability string

const (
	// CapClock grants wall-clock reads.
	CapClock Capability = "clock"
	// CapPath grants path manipulation helpers.
	CapPath Capability = "path"
	// CapFSRead grants read-only file access.
	CapFSRead Capability = "fs_read"
	// CapStore grants read access to the memory store.
	CapStore Capability = "store"
)
