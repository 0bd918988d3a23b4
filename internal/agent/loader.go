package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"deskd/internal/logging"
	"deskd/internal/types"
)

// Loader resolves agents by name. Resolution order: static registry,
// compiled-instance cache, then a fresh compile from the trusted
// definitions directory. Compiled instances are reused read-only; the
// singleflight group keeps first compilation at-most-once per name.
type Loader struct {
	registry       *Registry
	sandbox        *Sandbox
	cache          *lru.Cache[string, *DynamicAgent]
	group          singleflight.Group
	dir            string
	compileTimeout time.Duration
	log            *zap.Logger
}

// NewLoader builds a loader over the registry, sandbox, and definitions
// directory. A positive compileTimeout bounds compile plus bootstrap of one
// definition; zero disables the bound.
func NewLoader(registry *Registry, sandbox *Sandbox, definitionsDir string, cacheSize int, compileTimeout time.Duration) (*Loader, error) {
	if cacheSize <= 0 {
		cacheSize = 32
	}
	cache, err := lru.New[string, *DynamicAgent](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create agent cache: %w", err)
	}
	return &Loader{
		registry:       registry,
		sandbox:        sandbox,
		cache:          cache,
		dir:            definitionsDir,
		compileTimeout: compileTimeout,
		log:            logging.Named("agents"),
	}, nil
}

// Resolve returns the agent for name, compiling a dynamic definition on
// first use. A load failure fails only this resolution; the cache and
// other agents are untouched.
func (l *Loader) Resolve(ctx context.Context, name string) (Agent, error) {
	if a := l.registry.Get(name); a != nil {
		return a, nil
	}

	if cached, ok := l.cache.Get(name); ok {
		return cached, nil
	}

	result, err, _ := l.group.Do(name, func() (any, error) {
		// A racing resolver may have finished while we queued.
		if cached, ok := l.cache.Get(name); ok {
			return cached, nil
		}
		return l.compileFromDisk(name)
	})
	if err != nil {
		return nil, err
	}
	return result.(*DynamicAgent), nil
}

// compileFromDisk loads the definition, compiles it, and bootstraps the
// instance. Only a fully bootstrapped instance is cached, so a bootstrap
// failure makes the next invocation retry a fresh load.
func (l *Loader) compileFromDisk(name string) (*DynamicAgent, error) {
	def, err := l.readDefinition(name)
	if err != nil {
		return nil, err
	}

	compiled, err := l.compileBounded(*def)
	if err != nil {
		return nil, err
	}

	l.cache.Add(name, compiled)
	l.log.Info("dynamic agent loaded", zap.String("agent", name),
		zap.Strings("capabilities", def.Capabilities))
	return compiled, nil
}

// compileBounded runs compile plus bootstrap under the compile timeout. The
// interpreter has no preemption point, so a runaway body keeps its goroutine;
// the loader just stops waiting for it.
func (l *Loader) compileBounded(def types.AgentDefinition) (*DynamicAgent, error) {
	if l.compileTimeout <= 0 {
		return l.compileAndBoot(def)
	}

	type outcome struct {
		agent *DynamicAgent
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		a, err := l.compileAndBoot(def)
		done <- outcome{a, err}
	}()

	select {
	case out := <-done:
		return out.agent, out.err
	case <-time.After(l.compileTimeout):
		l.log.Warn("dynamic agent load timed out", zap.String("agent", def.Name),
			zap.Duration("timeout", l.compileTimeout))
		return nil, fmt.Errorf("agent %q load exceeded %s", def.Name, l.compileTimeout)
	}
}

func (l *Loader) compileAndBoot(def types.AgentDefinition) (*DynamicAgent, error) {
	compiled, err := l.sandbox.Compile(def)
	if err != nil {
		l.log.Warn("dynamic agent compile failed", zap.String("agent", def.Name), zap.Error(err))
		return nil, err
	}

	configJSON, err := bootstrapConfig(def)
	if err != nil {
		return nil, err
	}
	if err := compiled.Bootstrap(configJSON); err != nil {
		l.log.Warn("dynamic agent bootstrap failed", zap.String("agent", def.Name), zap.Error(err))
		return nil, err
	}
	return compiled, nil
}

// readDefinition finds and parses name.yaml (or .yml) in the definitions
// directory.
func (l *Loader) readDefinition(name string) (*types.AgentDefinition, error) {
	if l.dir == "" {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	var data []byte
	var err error
	for _, ext := range []string{".yaml", ".yml"} {
		data, err = os.ReadFile(filepath.Join(l.dir, name+ext))
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}

	var def types.AgentDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("agent %q definition malformed: %w", name, err)
	}
	if def.Name != name {
		return nil, fmt.Errorf("agent definition name %q does not match file %q", def.Name, name)
	}
	return &def, nil
}

// bootstrapConfig renders the definition's input schema as the bootstrap
// config payload.
func bootstrapConfig(def types.AgentDefinition) (string, error) {
	cfg := map[string]any{
		"name":   def.Name,
		"schema": def.InputSchema,
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal bootstrap config: %w", err)
	}
	return string(raw), nil
}

// Evict drops a compiled instance, forcing the next resolution to reload.
// Used by the definitions watcher.
func (l *Loader) Evict(name string) {
	if l.cache.Remove(name) {
		l.log.Info("dynamic agent evicted", zap.String("agent", name))
	}
}

// Known lists static names plus currently cached dynamic names.
func (l *Loader) Known() []string {
	names := l.registry.Names()
	names = append(names, l.cache.Keys()...)
	return names
}
