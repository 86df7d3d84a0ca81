package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zenagent/zenagent/internal/core"
	"github.com/zenagent/zenagent/internal/hook"
	"github.com/zenagent/zenagent/internal/llm"
	"github.com/zenagent/zenagent/internal/plan"
	"github.com/zenagent/zenagent/internal/prajna"
	"github.com/zenagent/zenagent/internal/prompt"
	"github.com/zenagent/zenagent/internal/tool"
)

// metaToolHardLimit is the number of consecutive meta-tool calls (update_plan,
// walkthrough) that forces an answer regardless of what the LLM decides.
const metaToolHardLimit = 4

// metaToolSoftLimit is the number of consecutive meta-tool calls that triggers
// a redirect message and proactive suppression on the following turn, while
// still allowing the current call through.
const metaToolSoftLimit = 2

// DecideNode implements BaseNode[AgentState, DecidePrep, Decision].
// It acts as the central router in the ReAct loop.
type DecideNode struct {
	llmProvider llm.LLMProvider
	loader      *prompt.PromptLoader
}

func NewDecideNode(provider llm.LLMProvider, loader *prompt.PromptLoader) *DecideNode {
	return &DecideNode{llmProvider: provider, loader: loader}
}

// Prep reads the current AgentState and builds context for LLM decision.
func (n *DecideNode) Prep(state *AgentState) []DecidePrep {
	// Proactive MetaToolGuard: if the last tool call was a meta-tool and it
	// errored, suppress meta-tools before the LLM sees the tool list again.
	if last := lastToolStep(state.StepHistory); last != nil && metaTools[last.ToolName] && last.IsError {
		state.SuppressMetaTools = true
	}

	stepSummary := buildStepSummary(state.StepHistory, state.ContextWindowTokens)

	// Only compute what's needed for the selected tool-call mode.
	var toolsPrompt string
	var toolDefs []llm.ToolDefinition
	switch state.ToolCallMode {
	case "fc":
		toolDefs = state.ToolRegistry.GenerateToolDefinitions()
	case "yaml":
		toolsPrompt = state.ToolRegistry.GenerateToolsPrompt()
	default: // "auto" — might need either
		toolsPrompt = state.ToolRegistry.GenerateToolsPrompt()
		toolDefs = state.ToolRegistry.GenerateToolDefinitions()
	}

	if state.SuppressMetaTools {
		if toolDefs != nil {
			toolDefs = filterOutMetaToolDefs(toolDefs)
		}
		if toolsPrompt != "" {
			toolsPrompt = generateToolsPromptExcluding(state.ToolRegistry, metaTools)
		}
	}

	// Phase 1: compute tool summary and runtime line at Prep time
	toolingSummary := buildToolingSection(state.ToolRegistry)
	runtimeLine := buildRuntimeLine(state)

	// Phase 2: detect MCP intent for conditional guide loading
	hasMCPIntent := containsMCPKeywords(state.Problem)

	var walkthroughText string
	if state.WalkthroughStore != nil && state.WalkthroughSID != "" {
		walkthroughText = state.WalkthroughStore.Render(state.WalkthroughSID)
	}

	var planText string
	if state.PlanStore != nil && state.PlanSID != "" {
		planText = renderPlanText(state.PlanStore.Get(state.PlanSID))
	}

	loopDetected := (&LoopDetector{}).Check(state.StepHistory)

	// Tanha-loop notification (§4.7/§4.10): checked independently of which
	// rule wins the prompt-injection Check() above (same_tool_freq also
	// matches 3 identical failing calls, and takes priority there) — the
	// ethics plugin specifically watches for the "same tool, same failure,
	// repeatedly" pattern, so it is tested directly rather than inferred
	// from the dispatched rule. Fires once per streak, not on every
	// repeated Prep call while the same run of failures persists, so a
	// thrashing tool's circuit breaker trips exactly once.
	tanha := (&LoopDetector{}).checkConsecutiveErrors(filterNonMetaToolSteps(state.StepHistory))
	if tanha.Detected && tanha.ToolName != "" {
		if state.LoopDetectionStreak == 0 && state.Hooks != nil {
			pattern := tanha.ToolName
			if tanha.ErrorSnippet != "" {
				pattern += ":" + tanha.ErrorSnippet
			}
			state.Hooks.OnEvolution(hookCtx, "tanha:loop:detected", map[string]any{
				"toolName": tanha.ToolName,
				"pattern":  pattern,
				"count":    loopConsecErrorLimit,
			})
		}
		state.LoopDetectionStreak++
	} else {
		state.LoopDetectionStreak = 0
	}

	var memoryText string
	if state.Memory != nil {
		hits, err := state.Memory.Retrieve(hookCtx, state.Problem, 5, time.Now().UnixMilli())
		if err != nil {
			log.Printf("[Decide] memory retrieve failed: %v", err)
		} else {
			memoryText = renderMemoryText(hits)
		}
	}

	// Plugin hooks: AfterDelta may veto this step before DECIDE runs; a
	// surviving step collects BeforeDecide prompt fragments.
	var vetoReason string
	var vetoTerminal bool
	var extraFragments []string
	if state.Hooks != nil {
		delta := hook.Delta{"stepCount": len(state.StepHistory)}
		if last := lastToolStep(state.StepHistory); last != nil {
			delta["lastToolName"] = last.ToolName
			delta["lastToolError"] = last.IsError
		}
		v, err := state.Hooks.AfterDelta(hookCtx, delta)
		switch {
		case errors.Is(err, hook.ErrTooManyVetoes):
			vetoReason = "too many plugin vetoes"
			vetoTerminal = true
		case err != nil:
			log.Printf("[Decide] AfterDelta hook error: %v", err)
		case v.Vetoed:
			vetoReason = v.Reason
		}

		if vetoReason == "" {
			frags, err := state.Hooks.BeforeDecide(hookCtx, state)
			if err != nil {
				log.Printf("[Decide] BeforeDecide hook error: %v", err)
			} else {
				extraFragments = frags
			}
		}
	}

	return []DecidePrep{{
		Problem:             state.Problem,
		WorkspaceDir:        state.WorkspaceDir,
		StepSummary:         stepSummary,
		ToolsPrompt:         toolsPrompt,
		ToolDefinitions:     toolDefs,
		StepCount:           len(state.StepHistory),
		ThinkingMode:        state.ThinkingMode,
		ToolCallMode:        state.ToolCallMode,
		ConversationHistory: state.ConversationHistory,
		ToolingSummary:      toolingSummary,
		RuntimeLine:         runtimeLine,
		HasMCPIntent:        hasMCPIntent,
		ContextWindowTokens: state.ContextWindowTokens,
		LoopDetected:        loopDetected,
		WalkthroughText:      walkthroughText,
		PlanText:             planText,
		MemoryText:           memoryText,
		ExplorationDetected:  (&ExplorationDetector{}).Check(state.StepHistory, MaxAgentSteps),
		ExtraPromptFragments: extraFragments,
		VetoReason:           vetoReason,
		VetoTerminal:         vetoTerminal,
	}}
}

// Exec calls LLM to decide the next action.
// Routes to FC or YAML path based on ToolCallMode:
//   - "fc":   forced FC, failure returns error (no downgrade)
//   - "auto": detect capability, FC with auto-downgrade to YAML on failure
//   - "yaml": forced YAML (original behavior)
func (n *DecideNode) Exec(ctx context.Context, prep DecidePrep) (Decision, error) {
	if prep.VetoReason != "" {
		log.Printf("[Decide] Step vetoed by plugin hook: %s", prep.VetoReason)
		return Decision{
			Action: "answer",
			Reason: fmt.Sprintf("vetoed: %s", prep.VetoReason),
			Answer: fmt.Sprintf("Stopping: %s", prep.VetoReason),
		}, nil
	}

	switch prep.ToolCallMode {
	case "fc":
		// Forced FC mode — no fallback
		log.Printf("[Decide] Using FC path (forced)")
		return n.execWithFC(ctx, prep)

	case "auto":
		// Auto mode — use FC if supported, with YAML fallback
		if n.llmProvider.IsToolCallingEnabled() {
			log.Printf("[Decide] Using FC path (auto-detected)")
			decision, err := n.execWithFC(ctx, prep)
			if err != nil {
				log.Printf("[Decide] FC path failed, auto-downgrade to YAML: %v", err)
				return n.execWithYAML(ctx, prep)
			}
			return decision, nil
		}
		log.Printf("[Decide] Model does not support FC, using YAML path")
		return n.execWithYAML(ctx, prep)

	default: // explicit "yaml" or any unrecognised value
		if prep.ToolCallMode != "yaml" {
			log.Printf("[Decide] WARNING: unrecognised ToolCallMode %q, falling back to YAML", prep.ToolCallMode)
		}
		log.Printf("[Decide] Using YAML path")
		return n.execWithYAML(ctx, prep)
	}
}

// execWithFC uses Function Calling to get structured tool calls from the model.
func (n *DecideNode) execWithFC(ctx context.Context, prep DecidePrep) (Decision, error) {
	prompt := buildDecidePromptFC(prep)

	resp, err := n.llmProvider.CallLLMWithTools(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: n.buildSystemPrompt("fc", prep)},
		{Role: llm.RoleUser, Content: prompt},
	}, prep.ToolDefinitions)
	if err != nil {
		return Decision{}, fmt.Errorf("FC call failed: %w", err)
	}

	// Model returned tool calls → extract as Decision
	if len(resp.ToolCalls) > 0 {
		tc := resp.ToolCalls[0] // Use first tool call
		if len(resp.ToolCalls) > 1 {
			log.Printf("[Decide] WARNING: FC returned %d tool calls, only first executed (parallel FC not yet supported)", len(resp.ToolCalls))
		}
		// Validate tool name against known definitions (cheap, before JSON parse)
		if len(prep.ToolDefinitions) > 0 {
			found := false
			for _, td := range prep.ToolDefinitions {
				if td.Name == tc.Name {
					found = true
					break
				}
			}
			if !found {
				return Decision{}, fmt.Errorf("FC returned unknown tool %q (not in %d registered tools)", tc.Name, len(prep.ToolDefinitions))
			}
		}

		var params map[string]any
		if err := json.Unmarshal(tc.Arguments, &params); err != nil {
			return Decision{}, fmt.Errorf("invalid tool params from FC: %w", err)
		}

		reason := strings.TrimSpace(resp.Content)
		if reason == "" {
			reason = fmt.Sprintf("FC: call %s", tc.Name)
		} else {
			reason = truncate(reason, 200)
		}

		return Decision{
			Action:     "tool",
			Reason:     reason,
			ToolName:   tc.Name,
			ToolParams: params,
			ToolCallID: tc.ID,
		}, nil
	}

	// Model returned text — check for native FC token format before treating as answer.
	// Some models (e.g. Kimi-K2.5) embed tool calls in Content using special tokens
	// instead of the standard tool_calls field, so we parse them here.
	if content := strings.TrimSpace(resp.Content); len(content) > 0 {
		if strings.Contains(content, "<|tool_calls_section_begin|>") {
			if decision, ok := parseNativeFCContent(content, prep.ToolDefinitions); ok {
				log.Printf("[Decide] Parsed native FC tokens → action=tool name=%s", decision.ToolName)
				return decision, nil
			}
			// Native tokens present but unparseable — trigger auto-downgrade to YAML
			return Decision{}, fmt.Errorf("FC returned unparseable native token format")
		}
		return Decision{Action: "answer", Answer: content}, nil
	}

	// Empty response — neither tool calls nor content
	return Decision{}, fmt.Errorf("FC returned empty response (no tool_calls, no content)")
}

// execWithYAML uses the original YAML text parsing to extract decisions.
func (n *DecideNode) execWithYAML(ctx context.Context, prep DecidePrep) (Decision, error) {
	userPrompt := buildDecidePrompt(prep)

	resp, err := n.llmProvider.CallLLM(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: n.buildSystemPrompt(prep.ThinkingMode, prep)},
		{Role: llm.RoleUser, Content: userPrompt},
	})
	if err != nil {
		return Decision{}, fmt.Errorf("decide LLM call failed: %w", err)
	}

	decision, err := parseDecision(resp.Content)
	if err != nil {
		content := strings.TrimSpace(resp.Content)

		// Model returned native FC tokens (e.g. K2.5's <|tool_calls_section_begin|>)
		// Strip the FC tokens and use the natural language portion as answer
		if strings.Contains(content, "<|tool_calls_section_begin|>") {
			parts := strings.SplitN(content, "<|tool_calls_section_begin|>", 2)
			cleaned := strings.TrimSpace(parts[0])
			if len(cleaned) > 0 {
				log.Printf("[Decide] Stripped native FC tokens, using text as answer: %s", truncate(cleaned, 80))
				return Decision{Action: "answer", Answer: cleaned}, nil
			}
			log.Printf("[Decide] Native FC tokens with no text content, falling back")
			return Decision{}, fmt.Errorf("parse decision failed: model returned native FC tokens without text")
		}

		// If LLM returned natural language instead of YAML, treat it as a direct answer
		if len(content) > 0 && !strings.HasPrefix(content, "```") {
			log.Printf("[Decide] YAML parse failed, treating as direct answer: %s", truncate(content, 80))
			return Decision{Action: "answer", Answer: content}, nil
		}
		return Decision{}, fmt.Errorf("parse decision failed: %w", err)
	}

	return decision, nil
}

// Post writes the decision to state and routes to the next node.
func (n *DecideNode) Post(state *AgentState, prep []DecidePrep, results ...Decision) core.Action {
	if len(results) == 0 {
		return core.ActionAnswer // Fallback
	}

	decision := results[0]

	// Write transient field for downstream nodes
	state.LastDecision = &decision

	// Record step
	step := StepRecord{
		StepNumber: len(state.StepHistory) + 1,
		Type:       "decide",
		Action:     decision.Action,
		Input:      decision.Reason,
	}
	state.StepHistory = append(state.StepHistory, step)

	if state.OnStepComplete != nil {
		state.OnStepComplete(step)
	}

	log.Printf("[Decide] Step %d: action=%s reason=%s", step.StepNumber, decision.Action, decision.Reason)

	// Force termination if too many steps
	if len(state.StepHistory) >= MaxAgentSteps {
		log.Printf("[Decide] Max steps reached (%d), forcing answer", MaxAgentSteps)
		return core.ActionAnswer
	}

	n.handlePlanSideband(state, decision)

	switch decision.Action {
	case "tool":
		if len(prep) > 0 && prep[0].LoopDetected.Detected {
			if decision.ToolName == prep[0].LoopDetected.ToolName {
				log.Printf("[LoopDetector] Hard override: %s → answer (%s)", decision.ToolName, prep[0].LoopDetected.Rule)
				return core.ActionAnswer
			}
			// LLM switched tools — self-correction, drop the warning streak.
			log.Printf("[LoopDetector] Self-correction: %s → %s, resetting streak", prep[0].LoopDetected.ToolName, decision.ToolName)
			state.LoopDetectionStreak = 0
		}
		return n.applyMetaToolGuard(state, decision)
	case "think":
		// In native mode, model handles thinking internally.
		// If LLM still returns "think", force it to answer instead.
		if state.ThinkingMode == "native" {
			log.Printf("[Decide] Native mode: converting stray 'think' to 'answer'")
			return core.ActionAnswer
		}
		return core.ActionThink
	case "answer":
		return core.ActionAnswer
	default:
		log.Printf("[Decide] Unknown action %q, defaulting to answer", decision.Action)
		return core.ActionAnswer
	}
}

// ExecFallback returns a safe decision on failure.
func (n *DecideNode) ExecFallback(err error) Decision {
	log.Printf("[Decide] ExecFallback triggered: %v", err)
	return Decision{
		Action: "answer",
		Reason: fmt.Sprintf("Decision failed: %v", err),
		Answer: "Sorry, something went wrong while processing this. Please try again shortly.",
	}
}

// applyMetaToolGuard enforces the meta-tool (update_plan, walkthrough) usage
// limits. A non-meta tool always restores normal operation. Meta-tools are
// capped: metaToolSoftLimit consecutive calls trigger a redirect message and
// proactive suppression on the next turn; metaToolHardLimit forces an answer.
func (n *DecideNode) applyMetaToolGuard(state *AgentState, decision Decision) core.Action {
	if !metaTools[decision.ToolName] {
		state.SuppressMetaTools = false
		state.MetaToolRedirectMsg = ""
		return core.ActionTool
	}

	trailing := countTrailingMetaTools(state.StepHistory)
	if trailing >= metaToolHardLimit {
		log.Printf("[MetaToolGuard] Hard limit (%d) reached, forcing answer", metaToolHardLimit)
		return core.ActionAnswer
	}
	if trailing >= metaToolSoftLimit {
		state.SuppressMetaTools = true
		state.MetaToolRedirectMsg = buildMetaToolRedirectMsg(state.ToolRegistry)
		log.Printf("[MetaToolGuard] Soft limit (%d) reached, redirecting", metaToolSoftLimit)
	}
	return core.ActionTool
}

// fallbackRedirectTools are example real tool names to suggest when no
// registry is available to enumerate actual non-meta tools from.
var fallbackRedirectTools = []string{"file_read", "shell_exec"}

// buildMetaToolRedirectMsg builds a nudge telling the LLM to use a real tool
// instead of repeated plan/walkthrough bookkeeping.
func buildMetaToolRedirectMsg(reg *tool.Registry) string {
	names := fallbackRedirectTools
	if reg != nil {
		var real []string
		for _, t := range reg.List() {
			if !metaTools[t.Name()] {
				real = append(real, t.Name())
			}
		}
		if len(real) > 0 {
			names = real
		}
	}
	return fmt.Sprintf("Repeated plan/memo bookkeeping detected — advance the task with a real tool instead (e.g. %s).", strings.Join(names, ", "))
}

// handlePlanSideband applies a plan-step status transition carried either in
// the Decision's dedicated YAML fields or embedded as a sideband marker in
// Reason (FC mode has no dedicated field to carry it).
func (n *DecideNode) handlePlanSideband(state *AgentState, decision Decision) {
	if state.PlanStore == nil || state.PlanSID == "" {
		return
	}

	step, status := decision.PlanStep, decision.PlanStatus
	if step == "" || status == "" {
		step, status = parsePlanSideband(decision.Reason)
	}
	if step == "" || status == "" {
		return
	}

	if !state.PlanStore.Update(state.PlanSID, step, status, "") {
		return
	}
	if state.OnPlanUpdate != nil {
		state.OnPlanUpdate(state.PlanStore.Get(state.PlanSID))
	}
}

// renderMemoryText formats top-k hierarchical-memory retrieval results into
// a short block for the decide prompt, mirroring walkthrough.Store.Render's
// style. Returns "" when there is nothing relevant enough to show.
func renderMemoryText(hits []prajna.Retrieved) string {
	var lines []string
	for _, h := range hits {
		if h.Score <= 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s", h.Layer, h.Entry.Content))
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Relevant memory\n" + strings.Join(lines, "\n") + "\n"
}

// renderPlanText formats a plan's steps into a short block for the decide
// prompt, mirroring walkthrough.Store.Render's style.
func renderPlanText(steps []plan.PlanStep) string {
	if len(steps) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Plan\n")
	for _, s := range steps {
		marker := "[ ]"
		switch s.Status {
		case "in_progress":
			marker = "[~]"
		case "done":
			marker = "[x]"
		case "error":
			marker = "[!]"
		case "skipped":
			marker = "[-]"
		}
		sb.WriteString(fmt.Sprintf("- %s %s: %s\n", marker, s.ID, s.Title))
	}
	return sb.String()
}
