package agent

import (
	"github.com/zenagent/zenagent/internal/daemon"
	"github.com/zenagent/zenagent/internal/events"
	"github.com/zenagent/zenagent/internal/failurestore"
	"github.com/zenagent/zenagent/internal/hook"
	"github.com/zenagent/zenagent/internal/karmastore"
	"github.com/zenagent/zenagent/internal/llm"
	"github.com/zenagent/zenagent/internal/prajna"
	"github.com/zenagent/zenagent/internal/resilience"
	"github.com/zenagent/zenagent/internal/tool"
)

// Milestone is a named progress checkpoint a GoalRunner walks in order (§3).
// Reaching one (delta.isComplete while it is the current milestone) triggers
// a Context Reset and advances CurrentMilestoneIndex.
type Milestone struct {
	ID          string
	Description string
	Resources   []string
}

// Action is the tool invocation DECIDE produces (§3): "what to do next", as
// opposed to Decision (internal/agent's ReAct-loop equivalent), which also
// carries "think"/"answer" routing the goal loop does not need — an empty
// ToolName means DECIDE chose to stop acting and the run terminates.
type Action struct {
	ToolName   string
	Parameters map[string]any
	Rationale  string
}

// Usage accumulates token counts across a run. No adapter in internal/llm
// surfaces real prompt/completion counts (§4.6's Open Question), so the
// goal loop synthesizes them with the same estimateTokens heuristic
// CostGuard/ContextGuard already rely on.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Add folds n more prompt/completion tokens into the running total.
func (u *Usage) Add(prompt, completion int64) {
	u.PromptTokens += prompt
	u.CompletionTokens += completion
	u.TotalTokens += prompt + completion
}

// Terminal statuses, matching spec.md §7's taxonomy exactly.
const (
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusVetoed   = "vetoed"
	StatusStopped  = "stopped"
	StatusOverflow = "overflow"
)

// GoalState is the Run state of §3/§4.7: the DFA-owned record of one
// goal-driven run, exclusively owned by the agent loop (callers read it
// through GoalResult once Run returns, not while it is in flight).
type GoalState struct {
	Goal                  string
	Milestones            []Milestone
	CurrentMilestoneIndex int
	StepCount             int
	MaxSteps              int

	Delta Delta

	ChatHistory []llm.Message // truncated to one system message on Context Reset
	Failures    []string      // carried-forward proverbs, survives Context Reset

	Usage  Usage
	Cost   float64
	Status string

	StepHistory         []StepRecord
	LoopDetectionStreak int
	TanhaCounts         map[string]int // "toolName:errorSignature" -> consecutive count

	ConsecutiveFailures int    // for §4.8 causal analysis gating (>= 2)
	LastFailureKarmaID  string // most recent karma entry from a failing step, for causal chaining

	LastToolName  string
	LastToolError string

	VetoCount int // cumulative vetoes observed via AfterDelta, checked against GoalRunnerConfig.MaxVetoes

	Solution string

	// Stopped is set by a caller (e.g. a signal handler) to request a
	// graceful stop() (§5): the loop checks it at the top of every step.
	Stopped bool
}

// Checkpoint implements daemon.InFlightProvider so Shutdown can drain this
// run's progress before exiting (§4.14).
func (s *GoalState) Checkpoint() (daemon.Checkpoint, bool) {
	if s == nil || s.StepCount == 0 {
		return daemon.Checkpoint{}, false
	}
	steps := make([]string, 0, len(s.StepHistory))
	for _, step := range s.StepHistory {
		steps = append(steps, step.Type+":"+step.ToolName)
	}
	return daemon.Checkpoint{TaskID: s.Goal, Steps: steps}, true
}

// GoalRunnerConfig wires the dependencies one GoalRunner needs: the LLM
// adapter, tool registry, and the optional long-term stores that gate
// §4.8's Awakening pipeline and §4.4/§4.5's failure/karma learning.
type GoalRunnerConfig struct {
	LLM      llm.LLMProvider
	Tools    *tool.Registry
	Hooks    *hook.Bus
	Events   *events.Bus
	Karma    *karmastore.Store // nil disables the Awakening pipeline (§4.8 gating)
	Failures *failurestore.Store
	Memory   *prajna.Store
	Breakers *resilience.Manager

	WorkspaceDir string
	MaxSteps     int

	// MaxVetoes terminates the run (StatusVetoed) once GoalState.VetoCount
	// reaches it; 0 = unlimited. Enforced by GoalRunner itself rather than
	// hook.Bus's own maxVetoes cutoff (which trips one veto later than its
	// constructor argument, per its off-by-one "exceeds" contract) so
	// spec.md §8 S2's literal "maxVetoes=2 terminates after the 2nd veto"
	// holds exactly.
	MaxVetoes int

	// OnStateReady, if set, is called once with the freshly constructed
	// GoalState before the loop's first step — the only point a caller can
	// get a handle on in-flight state to satisfy daemon.InFlightProvider,
	// since Run itself does not return until the run terminates.
	OnStateReady func(*GoalState)
}

// GoalRunner drives the §4.7 per-step state machine: OBSERVE → COMPUTE_DELTA
// → EVALUATE → DECIDE (optionally through the §4.8 Awakening pipeline) →
// ACT → LEARN, walking GoalRunnerConfig's milestones in order.
type GoalRunner struct {
	cfg GoalRunnerConfig
}

// NewGoalRunner constructs a GoalRunner, defaulting an unset hook bus to an
// unlimited-veto one and an unset event bus to a no-op (nil) bus.
func NewGoalRunner(cfg GoalRunnerConfig) *GoalRunner {
	if cfg.Hooks == nil {
		cfg.Hooks = hook.NewBus(0)
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = MaxAgentSteps
	}
	return &GoalRunner{cfg: cfg}
}
