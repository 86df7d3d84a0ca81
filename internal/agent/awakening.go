package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/zenagent/zenagent/internal/events"
)

// runAwakeningPipeline implements §4.8: three staged complete() calls that
// narrow DECIDE's candidate hypotheses before the final tool selection,
// gated on a configured karma store (it retrieves karma-wisdom to seed
// investigation). handled is always true: when investigation or
// mindfulness yields nothing usable, the pipeline falls back to a plain
// chat() call itself and returns that action.
func (r *GoalRunner) runAwakeningPipeline(ctx context.Context, state *GoalState) (action Action, usage Usage, handled bool, err error) {
	candidates, u1, ok := r.investigate(ctx, state)
	usage.Add(u1.PromptTokens, u1.CompletionTokens)
	if !ok {
		r.cfg.Events.Emit(events.AwakeningStage, map[string]any{"stage": "fallback"})
		act, u, derr := r.chat(ctx, state)
		usage.Add(u.PromptTokens, u.CompletionTokens)
		return act, usage, true, derr
	}
	r.cfg.Events.Emit(events.AwakeningStage, map[string]any{"stage": "investigation"})

	filtered, u2, ok := r.mindfulness(ctx, state, candidates)
	usage.Add(u2.PromptTokens, u2.CompletionTokens)
	if !ok || len(filtered) == 0 {
		r.cfg.Events.Emit(events.AwakeningStage, map[string]any{"stage": "fallback"})
		act, u, derr := r.chat(ctx, state)
		usage.Add(u.PromptTokens, u.CompletionTokens)
		return act, usage, true, derr
	}
	r.cfg.Events.Emit(events.AwakeningStage, map[string]any{"stage": "mindfulness"})

	confidence := equanimityConfidence(state.Delta, filtered, candidates)
	r.cfg.Events.Emit(events.AwakeningStage, map[string]any{"stage": "equanimity", "confidence": confidence})

	act, u3, derr := r.chatRestricted(ctx, state, filtered)
	usage.Add(u3.PromptTokens, u3.CompletionTokens)
	return act, usage, true, derr
}

// investigate asks complete() for candidate tool names worth trying next,
// informed by retrieved karma wisdom relevant to the current gaps.
func (r *GoalRunner) investigate(ctx context.Context, state *GoalState) ([]string, Usage, bool) {
	var wisdom string
	if r.cfg.Karma != nil {
		query := state.Delta.Description
		if len(state.Delta.Gaps) > 0 {
			query = strings.Join(state.Delta.Gaps, "; ")
		}
		if hits, err := r.cfg.Karma.Retrieve(ctx, query, 5); err == nil {
			var sb strings.Builder
			for _, h := range hits {
				sb.WriteString(fmt.Sprintf("- %s (%s)\n", h.Item.Proverb, h.Item.Condition))
			}
			wisdom = sb.String()
		}
	}

	prompt := fmt.Sprintf(
		"Current gaps toward the milestone: %s\n\nRelevant accumulated wisdom:\n%s\n"+
			`List candidate tool names worth trying next. Respond with ONLY JSON: {"candidates": ["toolName", ...]}`,
		strings.Join(state.Delta.Gaps, "; "), wisdom)

	raw, usage, err := r.complete(ctx, prompt)
	if err != nil {
		log.Printf("[Awakening] investigation complete() failed: %v", err)
		return nil, usage, false
	}
	var parsed struct {
		Candidates []string `json:"candidates"`
	}
	jsonStr, jerr := extractJSONObject(raw)
	if jerr != nil || json.Unmarshal([]byte(jsonStr), &parsed) != nil || len(parsed.Candidates) == 0 {
		return nil, usage, false
	}
	return parsed.Candidates, usage, true
}

// mindfulness filters out ego-driven (craving/aversion) hypotheses — those
// chasing a tool merely because it already "worked" or avoiding one purely
// because it recently failed, rather than because it actually fits the
// remaining gaps.
func (r *GoalRunner) mindfulness(ctx context.Context, state *GoalState, candidates []string) ([]string, Usage, bool) {
	prompt := fmt.Sprintf(
		"Candidates: %s\nGaps: %s\n"+
			"Remove any candidate chosen out of habit or avoidance rather than genuine fit for the remaining gaps. "+
			`Respond with ONLY JSON: {"filtered": ["toolName", ...], "removed": ["toolName", ...], "reasoning": "..."}`,
		strings.Join(candidates, ", "), strings.Join(state.Delta.Gaps, "; "))

	raw, usage, err := r.complete(ctx, prompt)
	if err != nil {
		log.Printf("[Awakening] mindfulness complete() failed: %v", err)
		return nil, usage, false
	}
	var parsed struct {
		Filtered  []string `json:"filtered"`
		Removed   []string `json:"removed"`
		Reasoning string   `json:"reasoning"`
	}
	jsonStr, jerr := extractJSONObject(raw)
	if jerr != nil || json.Unmarshal([]byte(jsonStr), &parsed) != nil {
		return nil, usage, false
	}
	return parsed.Filtered, usage, true
}

// equanimityConfidence is a deterministic confidence score for the
// equanimity stage's awakening:stage{confidence} payload: how much of the
// original candidate set survived mindfulness filtering, scaled by current
// progress. No further LLM call is spent on this stage — mindfulness
// already did the judgment work; equanimity's role is accepting the
// filtered result calmly and proceeding, not re-litigating it.
func equanimityConfidence(delta Delta, filtered, original []string) float64 {
	if len(original) == 0 {
		return 0
	}
	survival := float64(len(filtered)) / float64(len(original))
	return clampUnit((survival + delta.Progress) / 2)
}
