package thinking

import "fmt"

// buildPrompt constructs the full LLM prompt for the current thought step.
func buildPrompt(prep PrepData) string {
	instructionBase := fmt.Sprintf(`Your task is to generate the next thinking step (thought %d).

Important principles:
- **Answer simple questions quickly:** for greetings, small talk, common-knowledge questions, give the conclusion directly in the first step; don't over-decompose.
- **Only use multi-step reasoning for genuinely complex problems:** e.g. mathematical derivations, multi-step analysis, logic that needs verification.
- **Avoid over-decomposition:** don't create sub-steps for simple content. The plan should not exceed 5 total steps (excluding the conclusion).
- **Close out decisively:** once there is enough information to reach a conclusion, execute the "Conclusion" step immediately instead of adding more steps.

Instructions:
1. **Evaluate the previous thought:** if this isn't the first step, briefly evaluate thought %d at the start of current_thinking (one sentence is enough).
2. **Execute a step:** execute the first step in the plan whose status is Pending.
3. **Maintain the plan structure:** produce an updated planning list. Each item has the keys: description, status ("Pending"/"Done"/"Verification Needed"), and optionally result or mark.
4. **Update step status:** mark executed steps "Done" and add a result.
5. **Refine the plan:** only add sub_steps when a step is genuinely too complex to finish in one pass.
6. **Conclusion step:** the plan must include a final step with description: "Conclusion". When executed, its result field gives the natural-language answer shown to the user.
7. **Language:** respond in the same language as the user's question.
8. **Termination condition:** only set next_thought_needed to false when executing the "Conclusion" step.`,
		prep.CurrentThoughtNo,
		prep.CurrentThoughtNo-1,
	)

	var instructionContext string
	if prep.IsFirstThought {
		instructionContext = `
**This is the first thinking step.** First judge the question's complexity:
- **Simple questions** (greetings, common knowledge, single-answer): create a 2-step plan directly [answer key points -> conclusion], complete the answer in this step, mark the conclusion Done, and set next_thought_needed: false.
- **Complex questions** (multi-step reasoning, needs verification): create a 3-5 step plan and execute the first step.`
	} else {
		instructionContext = fmt.Sprintf(`
**Previous plan (simplified view):**
%s

Briefly evaluate thought %d, then execute the next Pending step. If all analysis is already complete, execute the "Conclusion" step directly.`,
			prep.LastPlanText, prep.CurrentThoughtNo-1)
	}

	instructionFormat := `
Output the response strictly in the following YAML structure:
` + "```yaml" + `
current_thinking: |
  # the current step's thought process (concise and clear)
planning:
  - description: "step description"
    status: "Done"
    result: "brief result"
  - description: "Conclusion"
    status: "Pending"
next_thought_needed: true
` + "```"

	return fmt.Sprintf(`You are an efficient AI assistant. Adapt your thinking depth to the question's complexity: resolve simple questions in 1-2 steps, and reserve multi-step reasoning for complex questions. Manage the plan using a YAML dict structure.

Question: %s

Previous thoughts:
%s
--------------------
%s
%s
%s`,
		prep.Problem,
		prep.ThoughtsText,
		instructionBase,
		instructionContext,
		instructionFormat,
	)
}
