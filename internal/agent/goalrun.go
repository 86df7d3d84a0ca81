package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/zenagent/zenagent/internal/events"
	"github.com/zenagent/zenagent/internal/failurestore"
	"github.com/zenagent/zenagent/internal/hook"
	"github.com/zenagent/zenagent/internal/karmastore"
	"github.com/zenagent/zenagent/internal/llm"
	"github.com/zenagent/zenagent/internal/tool"
)

// tanhaStreakLimit is the consecutive-failure count for the SAME
// "toolName:errorSignature" pattern that trips a tanha-loop (§4.7); mirrors
// loopConsecErrorLimit's threshold in the ReAct loop's LoopDetector.
const tanhaStreakLimit = 3

// GoalResult is the terminal outcome of one GoalRunner.Run call across the
// full ordered milestone list, matching spec.md §7's terminal-event shape.
type GoalResult struct {
	Status    string
	StepCount int
	Solution  string
	Usage     Usage
	Cost      float64
}

// Run walks cfg.Milestones in order through the §4.7 DFA, performing a
// Context Reset between milestones, until either every milestone is
// reached (StatusDone), the step budget is exhausted (StatusOverflow), a
// veto terminates the run (StatusVetoed), the caller cancels ctx or sets
// state.Stopped (StatusStopped), or an unrecoverable error occurs
// (StatusFailed).
func (r *GoalRunner) Run(ctx context.Context, goal string, milestones []Milestone) (*GoalState, *GoalResult) {
	state := &GoalState{
		Goal:        goal,
		Milestones:  milestones,
		MaxSteps:    r.cfg.MaxSteps,
		TanhaCounts: make(map[string]int),
	}
	state.ChatHistory = []llm.Message{{Role: llm.RoleSystem, Content: r.renderSystemMessage(state)}}

	if r.cfg.OnStateReady != nil {
		r.cfg.OnStateReady(state)
	}

	r.cfg.Events.Emit(events.AgentStart, map[string]any{"goal": goal})

	state.Status = r.loop(ctx, state)

	switch state.Status {
	case StatusStopped:
		r.cfg.Events.Emit(events.AgentStopped, map[string]any{"stepCount": state.StepCount})
	default:
		r.cfg.Events.Emit(events.AgentComplete, map[string]any{
			"cost":  state.Cost,
			"usage": state.Usage,
		})
	}

	return state, &GoalResult{
		Status:    state.Status,
		StepCount: state.StepCount,
		Solution:  state.Solution,
		Usage:     state.Usage,
		Cost:      state.Cost,
	}
}

// loop runs the milestone-walking outer loop and returns the terminal
// status. One pass of the body is one §4.7 step.
func (r *GoalRunner) loop(ctx context.Context, state *GoalState) string {
	for state.CurrentMilestoneIndex < len(state.Milestones) {
		if err := ctx.Err(); err != nil {
			return StatusStopped
		}
		if state.Stopped {
			return StatusStopped
		}
		if state.StepCount >= state.MaxSteps {
			return StatusOverflow
		}

		status, advance := r.step(ctx, state)
		if status != "" {
			return status
		}
		if advance {
			continue // Context Reset already applied inside step(); re-check milestone index
		}
	}
	return StatusDone
}

// step runs one OBSERVE → COMPUTE_DELTA → EVALUATE → DECIDE → ACT → LEARN
// cycle. It returns a non-empty terminal status to stop the run, or
// advance=true when a milestone was just reached (the caller re-enters the
// loop to pick up the next milestone or terminate on StatusDone).
func (r *GoalRunner) step(ctx context.Context, state *GoalState) (status string, advance bool) {
	r.cfg.Events.Emit(events.StepStart, map[string]any{"n": state.StepCount})

	if err := r.cfg.Hooks.BeforeObserve(ctx, state); err != nil {
		log.Printf("[GoalLoop] BeforeObserve: %v", err)
	}

	// OBSERVE + COMPUTE_DELTA
	prompt := r.buildDeltaPrompt(state)
	raw, usage, err := r.complete(ctx, prompt)
	state.Usage.Add(usage.PromptTokens, usage.CompletionTokens)
	if err != nil {
		log.Printf("[GoalLoop] complete() failed during COMPUTE_DELTA: %v", err)
		return StatusFailed, false
	}
	delta, err := ParseDelta(raw)
	if err != nil {
		log.Printf("[GoalLoop] could not parse Delta (%v); treating step as no progress", err)
		delta = Delta{Description: "unparseable assessment", Progress: state.Delta.Progress}
	}
	state.Delta = delta
	r.cfg.Events.Emit(events.DeltaComputed, map[string]any{"delta": delta})
	if delta.SufferingDelta != nil || delta.EgoNoise != nil {
		r.cfg.Events.Emit(events.DukkhaEvaluated, map[string]any{
			"sufferingDelta": delta.SufferingDelta,
			"egoNoise":       delta.EgoNoise,
		})
	}

	// EVALUATE
	veto, err := r.cfg.Hooks.AfterDelta(ctx, delta.asHookDelta(state.StepCount, state.LastToolName, state.LastToolError))
	if err != nil && !errors.Is(err, hook.ErrTooManyVetoes) {
		log.Printf("[GoalLoop] AfterDelta hook error: %v", err)
		return StatusFailed, false
	}
	if veto.Vetoed {
		state.VetoCount++
		log.Printf("[GoalLoop] step vetoed (%d): %s", state.VetoCount, veto.Reason)
		state.StepHistory = append(state.StepHistory, StepRecord{
			StepNumber: len(state.StepHistory) + 1,
			Type:       "veto",
			Output:     veto.Reason,
		})
		if r.cfg.MaxVetoes > 0 && state.VetoCount >= r.cfg.MaxVetoes {
			return StatusVetoed, false
		}
		return "", false // RECORD_VETO → next step, same milestone, no ACT
	}

	if delta.IsComplete {
		milestone := state.Milestones[state.CurrentMilestoneIndex]
		r.cfg.Events.Emit(events.MilestoneReached, map[string]any{"milestoneId": milestone.ID})
		state.CurrentMilestoneIndex++
		state.Solution = delta.Description
		if state.CurrentMilestoneIndex >= len(state.Milestones) {
			return "", false // outer loop sees index >= len and returns StatusDone
		}
		r.contextReset(state, milestone)
		return "", true
	}

	// DECIDE (optionally through the Awakening pipeline)
	action, decideUsage, err := r.decide(ctx, state)
	state.Usage.Add(decideUsage.PromptTokens, decideUsage.CompletionTokens)
	if err != nil {
		log.Printf("[GoalLoop] DECIDE failed: %v", err)
		return StatusFailed, false
	}
	if action.ToolName == "" {
		state.Solution = action.Rationale
		return StatusDone, false // §4.7: DECIDE producing no tool call terminates the run
	}

	// ACT
	r.act(ctx, state, action)

	// LEARN
	r.learn(ctx, state)

	state.StepCount++
	return "", false
}

// contextReset truncates ChatHistory to a single system message rebuilt
// from {goal, remaining milestones, carried-forward failures} and clears
// the failure store's current-session sub-list (§4.7's Context Reset
// policy). Skills/karma/hierarchical memory are untouched.
func (r *GoalRunner) contextReset(state *GoalState, reached Milestone) {
	if r.cfg.Failures != nil {
		for _, f := range r.cfg.Failures.ExportCurrent() {
			state.Failures = appendUnique(state.Failures, f.Proverb)
		}
		r.cfg.Failures.ClearCurrentSession()
	}
	state.ChatHistory = []llm.Message{{Role: llm.RoleSystem, Content: r.renderSystemMessage(state)}}
	r.cfg.Events.Emit(events.ContextReset, map[string]any{"milestoneId": reached.ID})
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

// renderSystemMessage rebuilds the single system message a Context Reset
// collapses history to.
func (r *GoalRunner) renderSystemMessage(state *GoalState) string {
	var sb strings.Builder
	sb.WriteString("Goal: ")
	sb.WriteString(state.Goal)
	sb.WriteString("\n\nRemaining milestones:\n")
	for i := state.CurrentMilestoneIndex; i < len(state.Milestones); i++ {
		m := state.Milestones[i]
		sb.WriteString(fmt.Sprintf("- [%s] %s\n", m.ID, m.Description))
	}
	if len(state.Failures) > 0 {
		sb.WriteString("\nLessons carried forward from earlier milestones:\n")
		for _, f := range state.Failures {
			sb.WriteString("- " + f + "\n")
		}
	}
	return sb.String()
}

// buildDeltaPrompt asks complete() for a single Delta JSON object assessing
// progress toward the current milestone given ChatHistory so far.
func (r *GoalRunner) buildDeltaPrompt(state *GoalState) string {
	var sb strings.Builder
	sb.WriteString(r.renderSystemMessage(state))
	sb.WriteString("\n\nConversation so far:\n")
	for _, m := range state.ChatHistory {
		if m.Role == llm.RoleSystem {
			continue
		}
		sb.WriteString(fmt.Sprintf("[%s] %s\n", m.Role, m.Content))
	}
	sb.WriteString("\nAssess progress toward the current milestone. Respond with ONLY a JSON object:\n")
	sb.WriteString(`{"description": "...", "progress": 0.0, "gaps": ["..."], "isComplete": false, "sufferingDelta": 0.0, "egoNoise": 0.0}`)
	return sb.String()
}

// complete implements spec.md §4.6's complete(prompt) -> string on top of
// llm.LLMProvider.CallLLM: no adapter exposes a dedicated single-shot
// completion call, so a single user-role message stands in for it, as
// documented in DESIGN.md.
func (r *GoalRunner) complete(ctx context.Context, prompt string) (string, Usage, error) {
	resp, err := r.cfg.LLM.CallLLM(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		return "", Usage{}, err
	}
	u := Usage{PromptTokens: int64(estimateTokens(prompt)), CompletionTokens: int64(estimateTokens(resp.Content))}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
	return resp.Content, u, nil
}

// decide runs DECIDE: when a karma store is configured, the Awakening
// pipeline (§4.8) narrows the candidate hypotheses before the final tool
// selection; otherwise this calls chat() directly.
func (r *GoalRunner) decide(ctx context.Context, state *GoalState) (Action, Usage, error) {
	if r.cfg.Karma != nil {
		if action, usage, handled, err := r.runAwakeningPipeline(ctx, state); handled {
			return action, usage, err
		}
	}
	return r.chat(ctx, state)
}

// chat implements spec.md §4.6's chat(messages, {tools?}) -> {content,
// toolCalls?}: Function Calling when the provider supports it, otherwise a
// YAML tool-call convention identical in shape to the ReAct loop's
// Decision (reused here via parseDecision rather than re-implementing
// YAML extraction).
func (r *GoalRunner) chat(ctx context.Context, state *GoalState) (Action, Usage, error) {
	return r.chatRestricted(ctx, state, nil)
}

// chatRestricted is chat() with an optional allow-list of tool names (used
// by the Awakening pipeline's equanimity stage to restrict selection to
// the mindfulness-filtered candidates).
func (r *GoalRunner) chatRestricted(ctx context.Context, state *GoalState, allow []string) (Action, Usage, error) {
	messages := append(append([]llm.Message{}, state.ChatHistory...), llm.Message{
		Role:    llm.RoleUser,
		Content: r.buildDecidePrompt(state, allow),
	})

	if r.cfg.LLM.IsToolCallingEnabled() {
		resp, err := r.cfg.LLM.CallLLMWithTools(ctx, messages, r.toolDefinitions(allow))
		if err != nil {
			return Action{}, Usage{}, err
		}
		u := usageFor(messages, resp.Content)
		if len(resp.ToolCalls) > 0 {
			tc := resp.ToolCalls[0]
			var params map[string]any
			_ = json.Unmarshal(tc.Arguments, &params)
			return Action{ToolName: tc.Name, Parameters: params, Rationale: resp.Content}, u, nil
		}
		return Action{Rationale: resp.Content}, u, nil
	}

	resp, err := r.cfg.LLM.CallLLM(ctx, messages)
	if err != nil {
		return Action{}, Usage{}, err
	}
	u := usageFor(messages, resp.Content)
	decision, err := parseDecision(resp.Content)
	if err != nil || decision.Action != "tool" {
		answer := resp.Content
		if err == nil {
			answer = decision.Answer
		}
		return Action{Rationale: answer}, u, nil
	}
	return Action{ToolName: decision.ToolName, Parameters: decision.ToolParams, Rationale: decision.Reason}, u, nil
}

func usageFor(messages []llm.Message, completion string) Usage {
	var promptChars strings.Builder
	for _, m := range messages {
		promptChars.WriteString(m.Content)
	}
	p := int64(estimateTokens(promptChars.String()))
	c := int64(estimateTokens(completion))
	return Usage{PromptTokens: p, CompletionTokens: c, TotalTokens: p + c}
}

func (r *GoalRunner) toolDefinitions(allow []string) []llm.ToolDefinition {
	if r.cfg.Tools == nil {
		return nil
	}
	all := r.cfg.Tools.GenerateToolDefinitions()
	if allow == nil {
		return all
	}
	set := make(map[string]bool, len(allow))
	for _, name := range allow {
		set[name] = true
	}
	filtered := make([]llm.ToolDefinition, 0, len(all))
	for _, d := range all {
		if set[d.Name] {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

func (r *GoalRunner) buildDecidePrompt(state *GoalState, allow []string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Latest assessment: %s (progress=%.2f)\n", state.Delta.Description, state.Delta.Progress))
	if len(state.Delta.Gaps) > 0 {
		sb.WriteString("Gaps: " + strings.Join(state.Delta.Gaps, "; ") + "\n")
	}
	if frags, err := r.cfg.Hooks.BeforeDecide(hookCtx, state); err == nil {
		for _, f := range frags {
			sb.WriteString(f + "\n")
		}
	}
	if key := tanhaInstructionFor(state); key != "" {
		sb.WriteString("A prior approach kept failing the same way (" + key + "); try a materially different approach.\n")
	}
	if r.cfg.Tools != nil {
		if allow == nil {
			sb.WriteString(r.cfg.Tools.GenerateToolsPrompt())
		} else {
			sb.WriteString("Choose only among these tools: " + strings.Join(allow, ", ") + "\n")
		}
	}
	sb.WriteString("\nRespond in YAML:\naction: tool | answer\ntool_name: ...\ntool_params: {...}\nreason: ...\nanswer: ...\n")
	return sb.String()
}

// tanhaInstructionFor returns the pattern key to surface in the next DECIDE
// prompt when any tanha counter is at or past the streak limit.
func tanhaInstructionFor(state *GoalState) string {
	for key, n := range state.TanhaCounts {
		if n >= tanhaStreakLimit {
			return key
		}
	}
	return ""
}

// act runs ACT: beforeAction/afterAction hooks around tool.Execute,
// circuit-breaker accounting, and tanha-loop detection identical in shape
// to the ReAct loop's (decide.go's checkConsecutiveErrors pattern, adapted
// to a per-(tool,error) counter rather than a single most-recent-N window
// since the goal loop's steps are far sparser).
func (r *GoalRunner) act(ctx context.Context, state *GoalState, action Action) {
	start := time.Now()
	state.LastToolName = action.ToolName
	state.LastToolError = ""

	if r.cfg.Breakers != nil {
		if err := r.cfg.Breakers.For(action.ToolName).Check(time.Now()); err != nil {
			r.recordActionFailure(state, action, err.Error(), time.Since(start))
			return
		}
	}
	if err := r.cfg.Hooks.BeforeAction(ctx, action.ToolName, action.Parameters); err != nil {
		r.recordActionFailure(state, action, err.Error(), time.Since(start))
		return
	}

	t, ok := r.toolFor(action.ToolName)
	if !ok {
		r.recordActionFailure(state, action, fmt.Sprintf("tool %q not found", action.ToolName), time.Since(start))
		return
	}

	args, _ := json.Marshal(action.Parameters)
	result, execErr := t.Execute(ctx, args)
	elapsed := time.Since(start)

	if execErr != nil || !result.Success {
		msg := result.Error
		if execErr != nil {
			msg = execErr.Error()
		}
		r.recordActionFailure(state, action, msg, elapsed)
		return
	}

	output := formatToolOutput(result.Output)
	state.StepHistory = append(state.StepHistory, StepRecord{
		StepNumber: len(state.StepHistory) + 1,
		Type:       "tool",
		ToolName:   action.ToolName,
		Input:      string(args),
		Output:     output,
		DurationMs: elapsed.Milliseconds(),
	})
	state.ChatHistory = append(state.ChatHistory,
		llm.Message{Role: llm.RoleAssistant, Content: fmt.Sprintf("called %s: %s", action.ToolName, action.Rationale)},
		llm.Message{Role: llm.RoleTool, Name: action.ToolName, Content: output},
	)
	r.clearTanhaFor(state, action.ToolName)
	state.ConsecutiveFailures = 0

	if r.cfg.Breakers != nil {
		r.cfg.Breakers.For(action.ToolName).RecordSuccess()
	}
	r.cfg.Hooks.AfterAction(ctx, action.ToolName, result, nil)
	r.cfg.Events.Emit(events.ActionComplete, map[string]any{"action": action, "result": result, "step": state.StepCount})
	r.maybeArtifact(state, action, result)
}

func (r *GoalRunner) recordActionFailure(state *GoalState, action Action, errMsg string, elapsed time.Duration) {
	state.LastToolError = errMsg
	args, _ := json.Marshal(action.Parameters)
	state.StepHistory = append(state.StepHistory, StepRecord{
		StepNumber: len(state.StepHistory) + 1,
		Type:       "tool",
		ToolName:   action.ToolName,
		Input:      string(args),
		Output:     "error: " + errMsg,
		IsError:    true,
		DurationMs: elapsed.Milliseconds(),
	})
	state.ChatHistory = append(state.ChatHistory,
		llm.Message{Role: llm.RoleTool, Name: action.ToolName, Content: "error: " + errMsg})

	state.ConsecutiveFailures++
	if r.cfg.Breakers != nil {
		r.cfg.Breakers.For(action.ToolName).RecordFailure(time.Now())
	}
	r.cfg.Hooks.AfterAction(hookCtx, action.ToolName, nil, fmt.Errorf("%s", errMsg))

	pattern := action.ToolName + ":" + errorKeyword("error: "+errMsg)
	state.TanhaCounts[pattern]++
	// Fire exactly once per streak (on the step the count first reaches the
	// limit), but leave the counter at/above the limit rather than zeroing
	// it — tanhaInstructionFor reads it on the very next DECIDE call, and a
	// reset here would make that next prompt miss the warning it exists to
	// carry. clearTanhaFor resets it once the tool actually succeeds.
	if state.TanhaCounts[pattern] == tanhaStreakLimit {
		r.cfg.Hooks.OnEvolution(hookCtx, "tanha:loop:detected", map[string]any{
			"toolName": action.ToolName,
			"pattern":  pattern,
			"count":    state.TanhaCounts[pattern],
		})
		r.cfg.Events.Emit(events.TanhaLoop, map[string]any{"pattern": pattern, "count": state.TanhaCounts[pattern]})
		state.LoopDetectionStreak++
	}
}

func (r *GoalRunner) clearTanhaFor(state *GoalState, toolName string) {
	for key := range state.TanhaCounts {
		if strings.HasPrefix(key, toolName+":") {
			delete(state.TanhaCounts, key)
		}
	}
}

func (r *GoalRunner) toolFor(name string) (tool.Tool, bool) {
	if r.cfg.Tools == nil {
		return nil, false
	}
	return r.cfg.Tools.Get(name)
}

// maybeArtifact emits artifact:created when a file-producing tool
// (file_write or equivalent) just ran successfully — spec.md §6 names the
// event but leaves "which tools produce artifacts" to the implementation;
// a tool whose parameters carry a "path" field is treated as one.
func (r *GoalRunner) maybeArtifact(state *GoalState, action Action, result tool.Result) {
	path, _ := action.Parameters["path"].(string)
	if path == "" {
		return
	}
	r.cfg.Events.Emit(events.ArtifactCreated, map[string]any{
		"toolName":    action.ToolName,
		"step":        state.StepCount,
		"filePath":    path,
		"description": action.Rationale,
	})
}

// learn implements LEARN: on the most recent ACT failure, derive a
// universally-framed proverb and store Failure + Karma entries (§4.4/§4.5),
// then — once two consecutive steps have failed — run causal analysis
// linking them (§4.8).
func (r *GoalRunner) learn(ctx context.Context, state *GoalState) {
	last := lastStepRecord(state.StepHistory)
	if last == nil || !last.IsError {
		return
	}

	proverb := deriveProverb(last.ToolName, last.Output)
	condition := fmt.Sprintf("attempting %s with %s", last.ToolName, truncate(last.Input, 160))

	if r.cfg.Failures != nil {
		entry := &failurestore.FailureEntry{Proverb: proverb, Condition: condition}
		if err := r.cfg.Failures.Save(ctx, entry); err != nil {
			log.Printf("[GoalLoop] failure store save: %v", err)
		} else {
			r.cfg.Events.Emit(events.FailureRecorded, map[string]any{"proverb": proverb, "condition": condition})
		}
	}

	if r.cfg.Karma != nil {
		karmaEntry := &karmastore.KarmaEntry{
			Proverb:   proverb,
			Condition: condition,
			KarmaType: karmastore.KarmaUnskillful,
			Source:    last.ToolName,
			LastSeen:  time.Now().UnixMilli(),
		}
		id, err := r.cfg.Karma.Save(ctx, karmaEntry)
		if err != nil {
			log.Printf("[GoalLoop] karma store save: %v", err)
		} else {
			r.cfg.Events.Emit(events.KarmaStored, map[string]any{
				"karmaId":     id,
				"karmaType":   karmastore.KarmaUnskillful,
				"causalChain": karmaEntry.CausalChain,
			})
			r.maybeAnalyzeCausalLink(ctx, state, id)
			state.LastFailureKarmaID = id
		}
	}
}

// maybeAnalyzeCausalLink runs a causal-analysis complete() call once two
// consecutive steps have failed, linking the new karma entry back to the
// previous one when the LLM judges them causally related (§4.8).
func (r *GoalRunner) maybeAnalyzeCausalLink(ctx context.Context, state *GoalState, newKarmaID string) {
	if state.ConsecutiveFailures < 2 || state.LastFailureKarmaID == "" || state.LastFailureKarmaID == newKarmaID {
		return
	}
	prompt := fmt.Sprintf(
		"Earlier failure karma %q and the new failure karma %q happened in the same run. "+
			`Respond with ONLY JSON: {"isCausal": bool, "strength": 0.0, "reasoning": "..."}`,
		state.LastFailureKarmaID, newKarmaID)
	raw, usage, err := r.complete(ctx, prompt)
	state.Usage.Add(usage.PromptTokens, usage.CompletionTokens)
	if err != nil {
		log.Printf("[GoalLoop] causal analysis complete() failed: %v", err)
		return
	}
	var verdict struct {
		IsCausal  bool    `json:"isCausal"`
		Strength  float64 `json:"strength"`
		Reasoning string  `json:"reasoning"`
	}
	jsonStr, jerr := extractJSONObject(raw)
	if jerr != nil || json.Unmarshal([]byte(jsonStr), &verdict) != nil || !verdict.IsCausal {
		return
	}
	entry, ok := r.cfg.Karma.Get(newKarmaID)
	if !ok {
		return
	}
	if err := r.cfg.Karma.LinkCausal(ctx, entry, state.LastFailureKarmaID); err != nil {
		log.Printf("[GoalLoop] karma causal chain update failed: %v", err)
		return
	}
	r.cfg.Events.Emit(events.CausalAnalyzed, map[string]any{"links": entry.CausalChain})
}

func lastStepRecord(steps []StepRecord) *StepRecord {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Type == "tool" {
			return &steps[i]
		}
	}
	return nil
}

// deriveProverb turns a specific tool failure into universally-framed
// wisdom, per failurestore's doc comment. No LLM call is spent on this —
// the template keeps LEARN cheap and deterministic, which matters since it
// runs on every failing step.
func deriveProverb(toolName, output string) string {
	reason := errorKeyword(output)
	if reason == "" {
		reason = "an unexpected condition"
	}
	return fmt.Sprintf("when %s fails on %s, pause and reconsider the approach before retrying", toolName, reason)
}
