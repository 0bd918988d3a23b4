package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"deskd/internal/store"
	"deskd/internal/types"
)

// Sandbox compiles trusted textual agent definitions into callable units
// with yaegi. Interpretation instead of go build keeps loading free of
// toolchain availability, and the interpreter boundary is where the
// capability grant is enforced: agents get exactly the symbols their
// declared capabilities map to, nothing ambient.
//
// Body contract: the execute body must define
//
//	func Execute(inputJSON string) (string, error)
//
// and the optional bootstrap body must define
//
//	func Bootstrap(configJSON string) error
//
// Capability helpers are imported as `deskd/caps`.
type Sandbox struct {
	granted map[Capability]bool
	store   *store.Store

	// stdlib packages agent bodies may import. Everything with ambient
	// authority (os, os/exec, net, syscall, unsafe) stays out; those
	// concerns go through the capability grant.
	allowedImports map[string]bool
}

// NewSandbox builds a sandbox whose grant allow-list comes from config.
func NewSandbox(allowedCapabilities []string, st *store.Store) *Sandbox {
	granted := make(map[Capability]bool, len(allowedCapabilities))
	for _, c := range allowedCapabilities {
		granted[Capability(c)] = true
	}
	return &Sandbox{
		granted: granted,
		store:   st,
		allowedImports: map[string]bool{
			"strings":         true,
			"strconv":         true,
			"fmt":             true,
			"math":            true,
			"regexp":          true,
			"encoding/json":   true,
			"encoding/base64": true,
			"time":            true,
			"sort":            true,
			"bytes":           true,
			"errors":          true,
			"unicode":         true,
			"deskd/caps":      true,
		},
	}
}

// Granted reports whether a capability is inside the sandbox allow-list.
func (s *Sandbox) Granted(c Capability) bool { return s.granted[c] }

// Compile validates and compiles a definition into a DynamicAgent. The
// capability subset check runs before any body is evaluated, so a
// definition asking for more than the grant fails at load, not at use.
func (s *Sandbox) Compile(def types.AgentDefinition) (*DynamicAgent, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	declared := make([]Capability, 0, len(def.Capabilities))
	for _, raw := range def.Capabilities {
		c := Capability(raw)
		if !s.granted[c] {
			return nil, fmt.Errorf("%w: agent %q wants %q", ErrCapabilityDenied, def.Name, raw)
		}
		declared = append(declared, c)
	}

	for _, body := range []string{def.BootstrapBody, def.ExecuteBody} {
		if err := s.validateImports(body); err != nil {
			return nil, fmt.Errorf("agent %q: %w", def.Name, err)
		}
	}

	calls := &callContext{}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("load stdlib symbols: %w", err)
	}
	if err := i.Use(s.capabilityExports(declared, calls)); err != nil {
		return nil, fmt.Errorf("load capability symbols: %w", err)
	}

	if _, err := i.Eval(wrapBody(def.ExecuteBody)); err != nil {
		return nil, fmt.Errorf("agent %q execute body: %w", def.Name, err)
	}
	executeVal, err := i.Eval("body.Execute")
	if err != nil {
		return nil, fmt.Errorf("%w: agent %q missing Execute", ErrBadBody, def.Name)
	}
	executeFn, ok := executeVal.Interface().(func(string) (string, error))
	if !ok {
		return nil, fmt.Errorf("%w: agent %q Execute must be func(string) (string, error)", ErrBadBody, def.Name)
	}

	var bootstrapFn func(string) error
	if strings.TrimSpace(def.BootstrapBody) != "" {
		if _, err := i.Eval(wrapBody(def.BootstrapBody)); err != nil {
			return nil, fmt.Errorf("agent %q bootstrap body: %w", def.Name, err)
		}
		bootstrapVal, err := i.Eval("body.Bootstrap")
		if err != nil {
			return nil, fmt.Errorf("%w: agent %q missing Bootstrap", ErrBadBody, def.Name)
		}
		bootstrapFn, ok = bootstrapVal.Interface().(func(string) error)
		if !ok {
			return nil, fmt.Errorf("%w: agent %q Bootstrap must be func(string) error", ErrBadBody, def.Name)
		}
	}

	return &DynamicAgent{
		def:       def,
		execute:   executeFn,
		bootstrap: bootstrapFn,
		calls:     calls,
	}, nil
}

// callContext carries the context of the in-flight Execute so capability
// closures observe the step deadline. A plan invokes an agent sequentially,
// so one slot per compiled instance suffices.
type callContext struct {
	mu  sync.Mutex
	ctx context.Context
}

func (c *callContext) set(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
}

func (c *callContext) clear() { c.set(nil) }

func (c *callContext) current() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

// validateImports textually extracts the body's imports and rejects any
// outside the allow-list.
func (s *Sandbox) validateImports(body string) error {
	var forbidden []string
	inBlock := false
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "import ("):
			inBlock = true
		case inBlock && strings.HasPrefix(trimmed, ")"):
			inBlock = false
		case inBlock:
			if pkg := strings.Trim(trimmed, `"`); pkg != "" && !s.allowedImports[pkg] {
				forbidden = append(forbidden, pkg)
			}
		case strings.HasPrefix(trimmed, "import "):
			pkg := strings.Trim(strings.TrimPrefix(trimmed, "import "), `"`)
			if pkg != "" && !s.allowedImports[pkg] {
				forbidden = append(forbidden, pkg)
			}
		}
	}
	if len(forbidden) > 0 {
		return fmt.Errorf("%w: %v", ErrForbiddenImport, forbidden)
	}
	return nil
}

// wrapBody puts a body into the well-known interpreter package.
func wrapBody(body string) string {
	if strings.Contains(body, "package body") {
		return body
	}
	return "package body\n\n" + body
}

// capabilityExports builds the symbol set for the declared capabilities.
// This is the whole dependency surface of a dynamic agent: the loader
// injects it, the agent never resolves anything by name.
func (s *Sandbox) capabilityExports(declared []Capability, calls *callContext) interp.Exports {
	symbols := make(map[string]reflect.Value)
	for _, c := range declared {
		switch c {
		case CapClock:
			symbols["Now"] = reflect.ValueOf(func() string {
				return time.Now().Format(time.RFC3339)
			})
		case CapPath:
			symbols["PathJoin"] = reflect.ValueOf(filepath.Join)
			symbols["PathBase"] = reflect.ValueOf(filepath.Base)
			symbols["PathExt"] = reflect.ValueOf(filepath.Ext)
		case CapFSRead:
			symbols["ReadFile"] = reflect.ValueOf(func(path string) (string, error) {
				data, err := os.ReadFile(path)
				return string(data), err
			})
		case CapStore:
			symbols["SearchMemory"] = reflect.ValueOf(s.searchMemoryFn(calls))
		}
	}
	return interp.Exports{"deskd/caps/caps": symbols}
}

// searchMemoryFn is the store capability: substring search rendered as JSON,
// run under the context of the invoking Execute.
func (s *Sandbox) searchMemoryFn(calls *callContext) func(string, int) (string, error) {
	return func(query string, limit int) (string, error) {
		if s.store == nil {
			return "", fmt.Errorf("store capability unavailable")
		}
		records, err := s.store.SearchText(calls.current(), query, limit, 0)
		if err != nil {
			return "", err
		}
		raw, err := json.Marshal(records)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}

// DynamicAgent is one compiled instance of an AgentDefinition.
type DynamicAgent struct {
	def       types.AgentDefinition
	execute   func(string) (string, error)
	bootstrap func(string) error
	calls     *callContext

	mu     sync.Mutex
	booted bool
}

// Name implements Agent.
func (a *DynamicAgent) Name() string { return a.def.Name }

// Describe implements Agent.
func (a *DynamicAgent) Describe() string { return a.def.Description }

// Bootstrap runs the bootstrap body exactly once for this instance. A
// failure leaves the instance un-booted so a fresh load can retry.
func (a *DynamicAgent) Bootstrap(configJSON string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.booted {
		return nil
	}
	if a.bootstrap != nil {
		if err := a.bootstrap(configJSON); err != nil {
			return fmt.Errorf("bootstrap %s: %w", a.def.Name, err)
		}
	}
	a.booted = true
	return nil
}

// dynamicInput is the JSON shape handed to Execute bodies.
type dynamicInput struct {
	Input string             `json:"input"`
	Chain types.ChainContext `json:"chain"`
}

// Execute implements Agent. The body runs in its own goroutine so the
// context deadline holds even if the interpreted code never checks it.
func (a *DynamicAgent) Execute(ctx context.Context, input string, chain types.ChainContext) (types.ResponseEnvelope, error) {
	payload, err := json.Marshal(dynamicInput{Input: input, Chain: chain})
	if err != nil {
		return types.EmptyEnvelope(), fmt.Errorf("marshal input: %w", err)
	}

	type outcome struct {
		result string
		err    error
	}
	a.calls.set(ctx)
	done := make(chan outcome, 1)
	go func() {
		defer a.calls.clear()
		result, err := a.execute(string(payload))
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return types.EmptyEnvelope(), fmt.Errorf("agent %s: %w", a.def.Name, out.err)
		}
		return envelopeFromOutput(out.result), nil
	case <-ctx.Done():
		return types.EmptyEnvelope(), fmt.Errorf("agent %s timed out: %w", a.def.Name, ctx.Err())
	}
}

// envelopeFromOutput interprets body output: a JSON object becomes a
// structured envelope, anything else is text.
func envelopeFromOutput(out string) types.ResponseEnvelope {
	trimmed := strings.TrimSpace(out)
	if trimmed == "" {
		return types.EmptyEnvelope()
	}
	if strings.HasPrefix(trimmed, "{") {
		var data map[string]any
		if err := json.Unmarshal([]byte(trimmed), &data); err == nil {
			return types.StructuredEnvelope(data)
		}
	}
	return types.TextEnvelope(trimmed)
}
