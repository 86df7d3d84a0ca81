package zenagent

import (
	"context"
	"time"

	"github.com/zenagent/zenagent/internal/agent"
	"github.com/zenagent/zenagent/internal/events"
	"github.com/zenagent/zenagent/internal/hook"
	"github.com/zenagent/zenagent/internal/resilience"
	"github.com/zenagent/zenagent/internal/tool"
)

// Run statuses, matching spec.md §7's terminal-event taxonomy
// ({status ∈ {done, failed, vetoed, stopped, overflow}}).
const (
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusVetoed   = "vetoed"
	StatusStopped  = "stopped"
	StatusOverflow = "overflow"
)

// RunResult is the outcome of one ZenAgentConfig run: every configured
// milestone walked to completion (or the run's veto/step-budget/
// cancellation point).
type RunResult struct {
	Status      string
	StepCount   int
	Solution    string
	TotalTokens int64
	Cost        float64
}

var statusFromGoal = map[string]string{
	agent.StatusDone:     StatusDone,
	agent.StatusFailed:   StatusFailed,
	agent.StatusVetoed:   StatusVetoed,
	agent.StatusStopped:  StatusStopped,
	agent.StatusOverflow: StatusOverflow,
}

// Run drives cfg.Goal through the full §4.7 agent loop: OBSERVE →
// COMPUTE_DELTA → EVALUATE → DECIDE (optionally through the §4.8 Awakening
// pipeline) → ACT → LEARN, walking every configured milestone in order with
// a Context Reset between them, until the last milestone's Delta reports
// isComplete, a veto budget is exceeded, the step budget is exhausted, or
// ctx is cancelled.
func Run(ctx context.Context, cfg *ZenAgentConfig) (*RunResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := tool.NewRegistry()
	for _, t := range cfg.Tools {
		registry.Register(t)
	}

	bus := events.NewBus()
	if cfg.OnEvent != nil {
		onEvent := cfg.OnEvent
		bus.On(func(e events.Event) { onEvent(e.Name, e.Payload) })
	}

	runner := agent.NewGoalRunner(agent.GoalRunnerConfig{
		LLM:          cfg.LLM,
		Tools:        registry,
		Hooks:        hook.NewBus(0),
		Events:       bus,
		Karma:        cfg.KarmaMemoryDB,
		Failures:     cfg.FailureDB,
		Breakers:     resilience.NewManager(5, 30*time.Second),
		WorkspaceDir: cfg.WorkspaceDir,
		MaxSteps:     cfg.MaxSteps,
		MaxVetoes:    cfg.MaxVetoes,
	})

	state, goalResult := runner.Run(ctx, cfg.Goal, cfg.Milestones)

	status, ok := statusFromGoal[goalResult.Status]
	if !ok {
		status = StatusFailed
	}

	result := &RunResult{
		Status:      status,
		StepCount:   goalResult.StepCount,
		Solution:    goalResult.Solution,
		TotalTokens: goalResult.Usage.TotalTokens,
		Cost:        EstimateCost(cfg.CostTable, cfg.LLM.GetName(), goalResult.Usage.TotalTokens),
	}

	if cfg.Snapshot != nil {
		cfg.Snapshot(state)
	}

	return result, nil
}
