package agent

import (
	"context"
	"log"
	"os"
	"strconv"

	"github.com/zenagent/zenagent/internal/hook"
	"github.com/zenagent/zenagent/internal/llm"
	"github.com/zenagent/zenagent/internal/plan"
	"github.com/zenagent/zenagent/internal/prajna"
	"github.com/zenagent/zenagent/internal/resilience"
	"github.com/zenagent/zenagent/internal/tool"
	"github.com/zenagent/zenagent/internal/walkthrough"
)

// AgentState is the shared state for the agent decision loop.
// NOT goroutine-safe: all fields must be accessed from a single goroutine.
// The current Flow.Run implementation guarantees single-goroutine access.
// If parallel node execution is introduced in the future, add sync.Mutex protection.
type AgentState struct {
	Problem      string         // User's original question
	WorkspaceDir string         // Working directory for file/shell tools
	StepHistory  []StepRecord   // Execution records for all steps
	ToolRegistry *tool.Registry // Available tools

	Solution string // Final answer

	ThinkingMode        string // "native" or "app" — controls DecideNode prompt options
	ToolCallMode        string // "auto", "fc", or "yaml" — may be raw unresolved value
	ContextWindowTokens int    // model context window in tokens; 0 = use safe fallback
	ConversationHistory string // formatted conversation prefix, populated by Handler layer

	// Runtime environment info — injected by AgentHandler from AgentHandlerOptions.
	OSName    string // e.g. "Windows", "Linux", "macOS"
	ShellCmd  string // e.g. "cmd.exe /c", "sh -c"
	ModelName string // e.g. "gemini-2.5-pro"

	// Transient field: DecideNode writes, ToolNode/ThinkNode reads.
	// Solves node-to-node state passing.
	LastDecision *Decision `json:"-"`

	// Guardrail fields
	LoopDetectionStreak int                             `json:"-"` // consecutive loop detections without self-correction
	CostGuard           *CostGuard                      `json:"-"` // nil = disabled; enforces token/duration limits
	pendingCompact      bool                            // single-goroutine: set by Post (from Decision.ContextStatus), consumed in Post
	OnContextOverflow   func(ctx context.Context) error `json:"-"` // injected by AgentHandler

	// MetaToolGuard: suppresses update_plan/walkthrough tools after repeated or
	// failed use, steering the LLM back toward task-advancing tools.
	SuppressMetaTools   bool   `json:"-"`
	MetaToolRedirectMsg string `json:"-"`

	// Walkthrough: per-session running memo of what the agent has done.
	WalkthroughStore *walkthrough.Store `json:"-"`
	WalkthroughSID   string             `json:"-"`

	// Plan: per-session step-by-step execution plan, updated via the
	// update_plan tool or via plan-sideband markers in Decision.Reason.
	PlanStore *plan.PlanStore `json:"-"`
	PlanSID   string          `json:"-"`

	// ReadCache: deduplicates repeated read-only tool calls within a run.
	ReadCache *ReadCache `json:"-"`

	// SSE callbacks
	OnStepComplete func(StepRecord)          `json:"-"`
	OnStreamChunk  func(chunk string)        `json:"-"` // LLM streaming token callback
	OnPlanUpdate   func(steps []plan.PlanStep) `json:"-"`

	// Resilience: per-tool circuit breakers. nil = disabled (no breaker checks).
	CircuitBreakers *resilience.Manager `json:"-"`

	// Hooks: plugin lifecycle bus. nil = no plugins attached.
	Hooks *hook.Bus `json:"-"`

	// Memory: hierarchical (working/episodic/semantic) long-term memory.
	// nil = disabled (no retrieval, no Remember calls).
	Memory *prajna.Store `json:"-"`
}

// StepRecord records a single step execution.
type StepRecord struct {
	StepNumber int    `json:"step_number"`
	Type       string `json:"type"`                   // "decide", "tool", "think", "answer"
	Action     string `json:"action"`                 // Decision action
	ToolName   string `json:"tool_name"`              // Tool name (when type=tool)
	Input      string `json:"input"`                  // Input content
	Output     string `json:"output"`                 // Output result
	ToolCallID string `json:"tool_call_id,omitempty"` // FC only: correlates with model's tool call
	IsError    bool   `json:"is_error,omitempty"`     // true when tool returned an error
	DurationMs int64  `json:"duration_ms,omitempty"`  // wall-clock execution time (type=tool only)
}

// MaxAgentSteps prevents infinite decision loops.
// Configurable via AGENT_MAX_STEPS env var (default: 40, min: 5, max: 200).
var MaxAgentSteps = loadMaxSteps()

// loadMaxSteps reads AGENT_MAX_STEPS from the environment.
// Extracted as a standalone function to allow direct unit testing.
func loadMaxSteps() int {
	const defaultSteps = 40
	v := os.Getenv("AGENT_MAX_STEPS")
	if v == "" {
		return defaultSteps
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 5 || n > 200 {
		log.Printf("[Config] WARNING: invalid AGENT_MAX_STEPS=%q (must be 5-200), using default %d", v, defaultSteps)
		return defaultSteps
	}
	return n
}

// ── DecideNode generic types ──
// BaseNode[AgentState, DecidePrep, Decision]

// DecidePrep is the prepared data for LLM decision-making.
type DecidePrep struct {
	Problem             string
	WorkspaceDir        string               // Working directory context for LLM
	StepSummary         string               // Summary of previous steps
	ToolsPrompt         string               // Available tools description (YAML path)
	ToolDefinitions     []llm.ToolDefinition // Tool definitions (FC path)
	StepCount           int                  // Current step count (for forced termination)
	ThinkingMode        string               // "native" or "app"
	ToolCallMode        string               // "auto", "fc", or "yaml" — may be raw unresolved value
	ConversationHistory string               // formatted conversation prefix from previous turns
	ToolingSummary      string               // Phase 1: auto-generated tool summary from Registry
	RuntimeLine         string               // Phase 1: compact runtime info line
	HasMCPIntent        bool                 // Phase 2: whether Problem mentions MCP/skill keywords
	ContextWindowTokens int                  // Phase 2: model context window for token budget guard
	LoopDetected        DetectionResult      // LoopDetector: repetitive pattern detection result
	CostGuard           *CostGuard           // pointer shared with state for Exec to record tokens
	SystemPromptEst     int                  // estimated system prompt tokens (computed in Prep)
	WalkthroughText     string               // rendered walkthrough memo, "" if none
	PlanText            string               // rendered execution plan, "" if none
	ExplorationDetected ExplorationResult    // ExplorationDetector: info-gathering budget check
	MemoryText          string               // rendered top-k long-term-memory retrieval, "" if none

	// Plugin hooks (§4.10): prompt fragments contributed by BeforeDecide, and
	// a non-empty VetoReason when AfterDelta vetoed this step — Exec returns
	// an immediate answer instead of calling the LLM.
	ExtraPromptFragments []string
	VetoReason           string
	VetoTerminal         bool // true when the veto exceeded maxVetoes and the run must end
}

// Decision is the LLM's decision output.
// In YAML mode: parsed from YAML text. In FC mode: extracted from tool_calls.
// ToolParams uses map[string]any; converted to json.RawMessage before calling Tool.Execute().
type Decision struct {
	Action        string         `yaml:"action"`      // "tool", "think", "answer"
	Reason        string         `yaml:"reason"`      // Reasoning for this decision
	ToolName      string         `yaml:"tool_name"`   // Required when action=tool
	ToolParams    map[string]any `yaml:"tool_params"` // YAML-friendly, json.Marshal before tool call
	Thinking      string         `yaml:"thinking"`    // Used when action=think
	Answer        string         `yaml:"answer"`      // Used when action=answer
	ToolCallID    string         `yaml:"-"`           // FC only: tool call ID for result correlation
	ContextStatus ContextStatus  `yaml:"-"`           // set by Exec when context window is filling up
	PlanStep      string         `yaml:"plan_step"`   // optional: sideband plan-step-id update
	PlanStatus    string         `yaml:"plan_status"` // optional: sideband plan-status update, paired with PlanStep
}

// ── ToolNode generic types ──
// BaseNode[AgentState, ToolPrep, ToolExecResult]

// ToolPrep is prepared by reading LastDecision and converting ToolParams.
type ToolPrep struct {
	ToolName     string
	Args         []byte     // json.RawMessage from json.Marshal(Decision.ToolParams)
	ToolCallID   string     // FC only: correlates tool result with the model's tool call
	ResolvedTool tool.Tool  // resolved in Prep from state.ToolRegistry; nil = not found
	ReadCache    *ReadCache // shared with state; nil = caching disabled

	// Set in Prep when the circuit breaker refuses the call or a plugin's
	// BeforeAction hook errors; Exec short-circuits without calling the tool.
	Skipped    bool
	SkipReason string
}

// ToolExecResult is the result of executing a tool.
type ToolExecResult struct {
	ToolName   string
	Output     string
	Error      string
	ToolCallID string // FC only: passed through for multi-turn conversation history
	DurationMs int64  // wall-clock execution time
}

// ── ThinkNode generic types ──
// BaseNode[AgentState, ThinkPrep, ThinkResult]

// ThinkPrep provides context for reasoning.
type ThinkPrep struct {
	Problem string
	Context string // Accumulated context from steps
}

// ThinkResult holds the reasoning output.
type ThinkResult struct {
	Thinking string
}

// ── AnswerNode generic types ──
// BaseNode[AgentState, AnswerPrep, AnswerResult]

// AnswerPrep aggregates all context for final answer generation.
type AnswerPrep struct {
	Problem     string
	FullContext string             // Complete context from all steps
	HasToolUse  bool               // Whether any tool was used (skip shortcut if true)
	StreamChunk func(chunk string) `json:"-"` // Optional streaming callback
}

// AnswerResult holds the final answer.
type AnswerResult struct {
	Answer string
}

// hasToolSteps checks if any step in the history is a tool execution.
func hasToolSteps(state *AgentState) bool {
	for _, s := range state.StepHistory {
		if s.Type == "tool" {
			return true
		}
	}
	return false
}
