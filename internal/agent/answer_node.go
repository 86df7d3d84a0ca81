package agent

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zenagent/zenagent/internal/core"
	"github.com/zenagent/zenagent/internal/llm"
	"github.com/zenagent/zenagent/internal/prompt"
)

// directAnswerMaxRunes is the maximum rune length for answers that pass
// through without an extra LLM synthesis call.
const directAnswerMaxRunes = 500

// AnswerNodeImpl implements BaseNode[AgentState, AnswerPrep, AnswerResult].
// It generates the final answer from all accumulated context.
type AnswerNodeImpl struct {
	llmProvider llm.LLMProvider
	loader      *prompt.PromptLoader
}

func NewAnswerNode(provider llm.LLMProvider, loader *prompt.PromptLoader) *AnswerNodeImpl {
	return &AnswerNodeImpl{llmProvider: provider, loader: loader}
}

// Prep aggregates all step context for answer generation.
func (n *AnswerNodeImpl) Prep(state *AgentState) []AnswerPrep {
	fullContext := buildFullContext(state)
	hasTools := hasToolSteps(state)

	// Simple direct answer: no tools used, LLM gave a direct response
	// Pass it through cleanly without a "[draft]" wrapper
	if state.LastDecision != nil && state.LastDecision.Answer != "" && !hasTools {
		return []AnswerPrep{{
			Problem:     state.Problem,
			FullContext: state.LastDecision.Answer,
			HasToolUse:  false,
			StreamChunk: state.OnStreamChunk,
		}}
	}

	// Tool-based answer: include draft answer as hint alongside full tool context
	if state.LastDecision != nil && state.LastDecision.Answer != "" {
		fullContext = fmt.Sprintf("[draft]:\n%s\n\n%s", state.LastDecision.Answer, fullContext)
	}

	return []AnswerPrep{{
		Problem:     state.Problem,
		FullContext: fullContext,
		HasToolUse:  hasTools,
		StreamChunk: state.OnStreamChunk,
	}}
}

// Exec calls LLM to synthesize the final answer.
func (n *AnswerNodeImpl) Exec(ctx context.Context, prep AnswerPrep) (AnswerResult, error) {
	// Short direct answers without tool use can skip the synthesis LLM call
	if utf8.RuneCountInString(prep.FullContext) < directAnswerMaxRunes && !prep.HasToolUse {
		return AnswerResult{Answer: prep.FullContext}, nil
	}

	userPrompt := fmt.Sprintf("User question: %s\n\nHere is the information and analysis gathered:\n%s\n\nSynthesize the above and give a concise, clear final answer:", prep.Problem, prep.FullContext)

	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: n.buildSystemPrompt()},
		{Role: llm.RoleUser, Content: userPrompt},
	}

	// Use streaming when callback is available
	if prep.StreamChunk != nil {
		resp, err := n.llmProvider.CallLLMStream(ctx, msgs, llm.StreamCallback(prep.StreamChunk))
		if err != nil {
			return AnswerResult{}, fmt.Errorf("answer LLM stream call failed: %w", err)
		}
		return AnswerResult{Answer: resp.Content}, nil
	}

	// Fallback to synchronous call
	resp, err := n.llmProvider.CallLLM(ctx, msgs)
	if err != nil {
		return AnswerResult{}, fmt.Errorf("answer LLM call failed: %w", err)
	}

	return AnswerResult{Answer: resp.Content}, nil
}

// ExecFallback returns an error answer.
func (n *AnswerNodeImpl) ExecFallback(err error) AnswerResult {
	return AnswerResult{Answer: fmt.Sprintf("Sorry, an error occurred while generating the answer: %v", err)}
}

// Post writes the solution to AgentState and ends the flow.
func (n *AnswerNodeImpl) Post(state *AgentState, prep []AnswerPrep, results ...AnswerResult) core.Action {
	if len(results) > 0 {
		state.Solution = results[0].Answer
	}

	step := StepRecord{
		StepNumber: len(state.StepHistory) + 1,
		Type:       "answer",
		Output:     state.Solution,
	}
	state.StepHistory = append(state.StepHistory, step)

	if state.OnStepComplete != nil {
		state.OnStepComplete(step)
	}

	if state.Memory != nil && state.Solution != "" {
		content := fmt.Sprintf("Q: %s\nA: %s", state.Problem, state.Solution)
		if _, err := state.Memory.Remember(hookCtx, content, 0.6, time.Now().UnixMilli()); err != nil {
			log.Printf("[AnswerNode] memory remember failed: %v", err)
		}
	}

	log.Printf("[AnswerNode] Final answer generated: %s", truncate(state.Solution, 100))

	return core.ActionEnd
}

// buildSystemPrompt assembles the answer L2 style rules and optional L3 user rules.
func (n *AnswerNodeImpl) buildSystemPrompt() string {
	const answerL1Default = "You are an efficient assistant. Answer the user's question directly based on the information gathered.\nAnswer directly from the available information; do not add prefixes like \"here is the answer\"."

	if n.loader == nil {
		return answerL1Default
	}

	var sb strings.Builder

	// L2 persona: agent identity (loaded first to establish character)
	if persona := n.loader.LoadSoul(); persona != "" {
		sb.WriteString(persona)
		sb.WriteString("\n\n")
	} else {
		// Fallback identity when no persona file
		sb.WriteString("You are an efficient assistant. Answer the user's question directly based on the information gathered.\n\n")
	}

	// L2: answer style rules
	if style := n.loader.Load("answer_style.md"); style != "" {
		sb.WriteString(style)
	}

	// L3: user custom rules
	if rules := n.loader.LoadUserRules(); rules != "" {
		sb.WriteString("\n\n## User custom rules\n")
		sb.WriteString(rules)
	}

	return sb.String()
}

// buildFullContext creates a comprehensive context from all steps.
func buildFullContext(state *AgentState) string {
	var sb strings.Builder
	for _, s := range state.StepHistory {
		switch s.Type {
		case "tool":
			sb.WriteString(fmt.Sprintf("[tool %s result]:\n%s\n\n", s.ToolName, s.Output))
		case "think":
			sb.WriteString(fmt.Sprintf("[reasoning]:\n%s\n\n", s.Output))
		case "decide":
			// Only include tool-routing decisions, skip "answer" decisions
			// to avoid leaking internal reasoning into the final output
			if s.Input != "" && s.Action != "answer" {
				sb.WriteString(fmt.Sprintf("[decision -> %s]: %s\n", s.Action, s.Input))
			}
		}
	}
	return sb.String()
}
