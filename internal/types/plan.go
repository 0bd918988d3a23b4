package types

import (
	"fmt"
	"time"
)

// FailureStrategy controls how a plan reacts to a failing step.
type FailureStrategy string

const (
	// FailFast aborts the plan at the first failing step. No result exists
	// for any step past the failure.
	FailFast FailureStrategy = "fail_fast"

	// ContinueOnError records the failure and keeps executing, yielding
	// exactly one result per planned step.
	ContinueOnError FailureStrategy = "continue_on_error"
)

// AgentInvocation is one plan step: an agent name and its input text.
type AgentInvocation struct {
	AgentName string `json:"agent"`
	Input     string `json:"input"`
}

// ExecutionPlan is an ordered list of agent invocations with a fixed failure
// strategy.
type ExecutionPlan struct {
	Steps     []AgentInvocation `json:"steps"`
	OnFailure FailureStrategy   `json:"on_failure"`
}

// Validate checks the plan shape before execution.
func (p ExecutionPlan) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}
	switch p.OnFailure {
	case FailFast, ContinueOnError:
	default:
		return fmt.Errorf("unknown failure strategy %q", p.OnFailure)
	}
	for i, step := range p.Steps {
		if step.AgentName == "" {
			return fmt.Errorf("step %d has no agent name", i)
		}
	}
	return nil
}

// StepResult records one executed plan step.
type StepResult struct {
	Agent     string           `json:"agent"`
	Success   bool             `json:"success"`
	Result    ResponseEnvelope `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// ChainContext is the accumulated state threaded through one plan execution.
// It is a value type: each step observes the results of all prior steps and
// the orchestrator derives the next context with With, so nothing is shared
// across concurrent requests.
type ChainContext struct {
	Utterance string       `json:"utterance"`
	Intent    Intent       `json:"intent"`
	Steps     []StepResult `json:"steps,omitempty"`
}

// With returns a new context extended with one step result. The receiver is
// unchanged.
func (c ChainContext) With(r StepResult) ChainContext {
	steps := make([]StepResult, len(c.Steps)+1)
	copy(steps, c.Steps)
	steps[len(c.Steps)] = r
	return ChainContext{Utterance: c.Utterance, Intent: c.Intent, Steps: steps}
}

// Output returns the most recent result produced by the named agent.
func (c ChainContext) Output(agent string) (ResponseEnvelope, bool) {
	for i := len(c.Steps) - 1; i >= 0; i-- {
		if c.Steps[i].Agent == agent && c.Steps[i].Success {
			return c.Steps[i].Result, true
		}
	}
	return ResponseEnvelope{}, false
}

// AskMetadata summarizes one orchestrator run.
type AskMetadata struct {
	ExecutionTimeMs int64    `json:"execution_time_ms"`
	AgentsUsed      []string `json:"agents_used"`
}

// AskResult is the orchestrator's aggregate outcome for one request.
type AskResult struct {
	Success  bool             `json:"success"`
	Intent   Intent           `json:"intent"`
	Plan     ExecutionPlan    `json:"plan"`
	Result   ResponseEnvelope `json:"result"`
	Steps    []StepResult     `json:"steps,omitempty"`
	Metadata AskMetadata      `json:"metadata"`
}
