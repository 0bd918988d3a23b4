// Package orchestrator turns a routing decision into an execution plan and
// runs the plan's agent chain sequentially, accumulating results in a chain
// context. The orchestrator never picks behavior itself; it only acquires a
// plan and follows it.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"deskd/internal/agent"
	"deskd/internal/config"
	"deskd/internal/logging"
	"deskd/internal/store"
	"deskd/internal/types"
)

// Orchestrator executes agent chains for routed utterances.
type Orchestrator struct {
	loader *agent.Loader
	store  *store.Store
	cfg    config.OrchestratorConfig
	log    *zap.Logger
}

// New builds an orchestrator over the agent loader and interaction store.
func New(loader *agent.Loader, st *store.Store, cfg config.OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		loader: loader,
		store:  st,
		cfg:    cfg,
		log:    logging.Named("orchestrator"),
	}
}

// Ask acquires a plan for the decision and executes it. It always returns a
// usable AskResult; a failed run carries Success=false, the recorded steps,
// and a fallback response. The run is persisted either way.
func (o *Orchestrator) Ask(ctx context.Context, utterance string, decision types.RoutingDecision) types.AskResult {
	start := time.Now()

	plan := o.acquirePlan(ctx, utterance, decision)
	result := o.execute(ctx, utterance, decision.PrimaryIntent, plan)
	result.Metadata.ExecutionTimeMs = time.Since(start).Milliseconds()

	if err := o.store.LogInteraction(ctx, &store.Interaction{
		Utterance:  utterance,
		Intent:     decision.PrimaryIntent,
		Plan:       plan,
		Result:     result,
		Success:    result.Success,
		DurationMs: result.Metadata.ExecutionTimeMs,
	}); err != nil {
		o.log.Warn("interaction log failed", zap.Error(err))
	}
	return result
}

// acquirePlan picks direct or planner-driven planning. A confident decision
// maps straight to its intent agent; anything below the threshold goes
// through the planner, degrading to the direct plan when planning fails.
func (o *Orchestrator) acquirePlan(ctx context.Context, utterance string, decision types.RoutingDecision) types.ExecutionPlan {
	direct := directPlan(utterance, decision.PrimaryIntent)

	if decision.Confidence >= o.cfg.DirectPlanThreshold {
		return direct
	}

	planned, err := o.planWithModel(ctx, utterance, decision.PrimaryIntent)
	if err != nil {
		o.log.Warn("planner unavailable, using direct plan",
			zap.String("intent", string(decision.PrimaryIntent)), zap.Error(err))
		return direct
	}
	return planned
}

// directPlan is the one-step plan invoking the agent named after the intent.
// Memory writes abort on failure; everything else tolerates partial results.
func directPlan(utterance string, intent types.Intent) types.ExecutionPlan {
	onFailure := types.ContinueOnError
	switch intent {
	case types.IntentMemoryStore, types.IntentMemoryUpdate, types.IntentMemoryDelete:
		onFailure = types.FailFast
	}
	return types.ExecutionPlan{
		Steps:     []types.AgentInvocation{{AgentName: string(intent), Input: utterance}},
		OnFailure: onFailure,
	}
}

// planWithModel runs the planner agent and parses its step list.
func (o *Orchestrator) planWithModel(ctx context.Context, utterance string, intent types.Intent) (types.ExecutionPlan, error) {
	planner, err := o.loader.Resolve(ctx, "planner")
	if err != nil {
		return types.ExecutionPlan{}, err
	}

	chain := types.ChainContext{Utterance: utterance, Intent: intent}
	envelope, err := planner.Execute(ctx, utterance, chain)
	if err != nil {
		return types.ExecutionPlan{}, err
	}

	steps, err := parsePlannedSteps(envelope.Normalize())
	if err != nil {
		return types.ExecutionPlan{}, err
	}

	plan := types.ExecutionPlan{Steps: steps, OnFailure: types.ContinueOnError}
	if err := plan.Validate(); err != nil {
		return types.ExecutionPlan{}, err
	}
	return plan, nil
}

// parsePlannedSteps extracts the JSON array from planner output, tolerating
// surrounding prose or code fences.
func parsePlannedSteps(raw string) ([]types.AgentInvocation, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("planner output has no step array")
	}

	var steps []types.AgentInvocation
	if err := json.Unmarshal([]byte(raw[start:end+1]), &steps); err != nil {
		return nil, fmt.Errorf("parse planner steps: %w", err)
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("planner produced an empty plan")
	}
	return steps, nil
}

// execute runs the plan's steps in order under the plan's failure strategy.
func (o *Orchestrator) execute(ctx context.Context, utterance string, intent types.Intent, plan types.ExecutionPlan) types.AskResult {
	chain := types.ChainContext{Utterance: utterance, Intent: intent}
	agentsUsed := make([]string, 0, len(plan.Steps))
	aborted := false

	for _, step := range plan.Steps {
		result := o.runStep(ctx, step, chain)
		chain = chain.With(result)
		agentsUsed = append(agentsUsed, step.AgentName)

		if !result.Success && plan.OnFailure == types.FailFast {
			aborted = true
			break
		}
	}

	final, succeeded := finalEnvelope(chain.Steps)
	success := succeeded && !aborted

	res := types.AskResult{
		Success: success,
		Intent:  intent,
		Plan:    plan,
		Result:  final,
		Steps:   chain.Steps,
		Metadata: types.AskMetadata{
			AgentsUsed: agentsUsed,
		},
	}
	if !success && res.Result.IsEmpty() {
		res.Result = types.TextEnvelope("I couldn't complete that request.")
	}
	return res
}

// runStep resolves and invokes one agent under the step timeout. Resolution
// and execution failures both become recorded failed steps.
func (o *Orchestrator) runStep(ctx context.Context, step types.AgentInvocation, chain types.ChainContext) types.StepResult {
	result := types.StepResult{
		Agent:     step.AgentName,
		Timestamp: time.Now().UTC(),
	}

	a, err := o.loader.Resolve(ctx, step.AgentName)
	if err != nil {
		result.Error = err.Error()
		o.log.Warn("agent resolution failed", zap.String("agent", step.AgentName), zap.Error(err))
		return result
	}

	stepCtx := ctx
	if o.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, o.cfg.StepTimeout)
		defer cancel()
	}

	envelope, err := a.Execute(stepCtx, step.Input, chain)
	if err != nil {
		result.Error = err.Error()
		o.log.Warn("agent step failed", zap.String("agent", step.AgentName), zap.Error(err))
		return result
	}

	result.Success = true
	result.Result = envelope
	return result
}

// finalEnvelope picks the response for the run: the last successful
// non-empty step result. The second return reports whether any step
// succeeded at all.
func finalEnvelope(steps []types.StepResult) (types.ResponseEnvelope, bool) {
	any := false
	for _, s := range steps {
		if s.Success {
			any = true
		}
	}
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Success && !steps[i].Result.IsEmpty() {
			return steps[i].Result, any
		}
	}
	return types.EmptyEnvelope(), any
}
