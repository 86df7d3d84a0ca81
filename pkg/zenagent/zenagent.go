// Package zenagent is the public facade for the zen agent runtime (§6
// external interfaces): it exposes ZenAgentConfig, the LLM adapter and Tool
// contracts, and typed constructors for the daemon, as the single
// consumption point for out-of-scope collaborators — chat bindings, a CLI,
// vendor HTTP serialization, config-file loading — that should not need to
// reach into internal/.
package zenagent

import (
	"fmt"
	"log"

	"github.com/zenagent/zenagent/internal/agent"
	"github.com/zenagent/zenagent/internal/failurestore"
	"github.com/zenagent/zenagent/internal/karmastore"
	"github.com/zenagent/zenagent/internal/llm"
	"github.com/zenagent/zenagent/internal/skillstore"
	"github.com/zenagent/zenagent/internal/tool"
)

// LLMProvider re-exports the internal LLM adapter contract (§4.6) so
// callers outside this module never need to import internal/llm directly.
type LLMProvider = llm.LLMProvider

// Tool re-exports the internal tool contract (§4.2 row E).
type Tool = tool.Tool

// Milestone is a named progress checkpoint a run walks in order; reaching
// one triggers a Context Reset (§4 milestone advance / Context Reset
// policy). Resources are free-form hints (file paths, URLs, prior
// artifacts) the LLM may consult while working toward it. Aliases
// internal/agent's authoritative definition so the facade and the agent
// loop share one type.
type Milestone = agent.Milestone

// CostEntry is a single model's per-million-token pricing, keyed by model
// name in ZenAgentConfig.CostTable.
type CostEntry struct {
	PromptPerMillion     float64
	CompletionPerMillion float64
}

// ZenAgentConfig is the external configuration surface spec.md §6 names
// exactly: goal and llm are required; everything else has a documented
// default.
type ZenAgentConfig struct {
	// Goal is the natural-language objective the run pursues. Required.
	Goal string

	// LLM is the completion/chat/embed adapter the loop calls. Required.
	LLM LLMProvider

	// Tools are registered into a fresh internal.tool.Registry for this
	// run. Default: empty (an LLM with no tools can still "think" and
	// answer directly).
	Tools []Tool

	// Milestones is the ordered list of checkpoints the run walks.
	// Default: a single milestone derived from Goal (DefaultMilestones).
	Milestones []Milestone

	// MaxSteps bounds the decision loop. Default: 30.
	MaxSteps int

	// SkillDB, FailureDB, KarmaMemoryDB are optional long-term stores; nil
	// disables the corresponding feature (no skill reuse / failure
	// avoidance / karma reinforcement).
	SkillDB       *skillstore.Store
	FailureDB     *failurestore.Store
	KarmaMemoryDB *karmastore.Store

	// Logger receives the same [Component]-prefixed lines the rest of the
	// runtime writes via the standard log package. nil = use log.Default().
	Logger *log.Logger

	// Snapshot, if set, is invoked once after the run with the final
	// internal agent state (an opaque any; callers that need structured
	// access should read RunResult instead — this hook exists for
	// diagnostics/persistence side-channels spec.md names but does not
	// otherwise constrain).
	Snapshot func(state any)

	// CostTable prices usage per model name, for RunResult.Cost. A model
	// absent from the table yields Cost=0.
	CostTable map[string]CostEntry

	// WorkspaceDir roots any file/shell tools passed in Tools. Default:
	// the process's current working directory.
	WorkspaceDir string

	// ThinkingMode is "native" or "app". Default: "native".
	ThinkingMode string

	// ToolCallMode is "auto", "fc", or "yaml". Default: "auto".
	ToolCallMode string

	// DisableToolAcquisition disables internal/tool/acquire's dynamic MCP
	// tool acquisition regardless of any acquisition directory present on
	// disk, per spec.md §9's "MUST be disableable by config" requirement.
	DisableToolAcquisition bool

	// MaxVetoes terminates the run (StatusVetoed) once a plugin's AfterDelta
	// hook has vetoed this many steps. Default: 0 (unlimited).
	MaxVetoes int

	// OnEvent, if set, receives every event.md §6 event the run emits
	// (agent:start, delta:computed, milestone:reached, awakening:stage,
	// tanha:loop:detected, ...) in emission order. nil = events are
	// computed but not observable by the caller.
	OnEvent func(name string, payload any)
}

// Validate checks the required fields and normalizes defaults in place.
// Mirrors the teacher's Config.Validate() convention: fail fast at
// construction time with a descriptive error, not deep inside a run.
func (c *ZenAgentConfig) Validate() error {
	if c.Goal == "" {
		return fmt.Errorf("zenagent: Goal is required")
	}
	if c.LLM == nil {
		return fmt.Errorf("zenagent: LLM is required")
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 30
	}
	if c.ThinkingMode == "" {
		c.ThinkingMode = "native"
	}
	if c.ToolCallMode == "" {
		c.ToolCallMode = "auto"
	}
	if len(c.Milestones) == 0 {
		c.Milestones = DefaultMilestones(c.Goal)
	}
	return nil
}

// DefaultMilestones derives the single-milestone default spec.md §6
// names ("milestones ... default a single derived milestone") when a
// caller supplies none.
func DefaultMilestones(goal string) []Milestone {
	return []Milestone{{ID: "goal", Description: goal}}
}

// EstimateCost prices a token count against cfg.CostTable for the given
// model. The agent loop's CostGuard tracks only a combined prompt+completion
// total (internal/agent has no per-call usage breakdown to attribute
// separately), so this blends both rates evenly rather than pretending to
// split them. Returns 0 if the model has no pricing entry.
func EstimateCost(costTable map[string]CostEntry, model string, totalTokens int64) float64 {
	entry, ok := costTable[model]
	if !ok {
		return 0
	}
	blendedPerMillion := (entry.PromptPerMillion + entry.CompletionPerMillion) / 2
	return float64(totalTokens) / 1_000_000 * blendedPerMillion
}
