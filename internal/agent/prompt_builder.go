package agent

import (
	"fmt"
	"log"
	"strings"
)

// ── Prompt construction ──

// buildSystemPrompt assembles the three-layer system prompt:
//   - L1: hardcoded tool-call protocol and constraints (varies by mode)
//   - L2: project behaviour rules from prompts/*.md (decision principles, answer style)
//   - L3: user custom rules from rules.md (language, domain, style preferences)
//
// mode is one of "fc", "native", or anything else (app mode).
func (n *DecideNode) buildSystemPrompt(mode string, prep DecidePrep) string {
	var sb strings.Builder

	// #1 Soul: agent identity (loaded first to establish character)
	if n.loader != nil {
		if persona := n.loader.LoadSoul(); persona != "" {
			sb.WriteString(persona)
			sb.WriteString("\n\n")
		}
	}

	// #2 User Rules: placed early for high LLM attention (above L1 protocol)
	if n.loader != nil {
		if rules := n.loader.LoadUserRules(); rules != "" {
			sb.WriteString("## User custom rules\n")
			sb.WriteString(rules)
			sb.WriteString("\n\n")
		}
	}

	// #3 L1: hardcoded tool-call protocol (cannot be overridden)
	sb.WriteString(decideL1Constraint(mode))

	// #4 Runtime Info: compact single line (Phase 1)
	if prep.RuntimeLine != "" {
		sb.WriteString("\n\n")
		sb.WriteString(prep.RuntimeLine)
	}

	// #5 Tooling Section: auto-generated tool summary (Phase 1)
	if prep.ToolingSummary != "" {
		sb.WriteString("\n\n")
		sb.WriteString(prep.ToolingSummary)
	}

	// #6 Knowledge Dictionary + L2 behaviour rules
	if n.loader != nil {
		if knowledge := n.loader.Load("knowledge.md"); knowledge != "" {
			sb.WriteString("\n\n")
			sb.WriteString(knowledge)
		}
	}

	// #7 Behavior Components
	if n.loader != nil {
		if common := n.loader.Load("decide_common.md"); common != "" {
			sb.WriteString("\n\n")
			sb.WriteString(common)
		}
		if style := n.loader.Load("answer_style.md"); style != "" {
			sb.WriteString("\n\n")
			sb.WriteString(style)
		}
		if ruleGuide := n.loader.Load("rule_guide.md"); ruleGuide != "" {
			sb.WriteString("\n\n")
			sb.WriteString(ruleGuide)
		}
		// think_guide.md — guides DecideNode on when to choose "think" action.
		// Only loaded in app mode where "think" is a valid action choice.
		// Native/FC modes handle thinking internally, loading this would confuse the LLM.
		if mode != "native" && mode != "fc" {
			if thinkGuide := n.loader.Load("think_guide.md"); thinkGuide != "" {
				sb.WriteString("\n\n")
				sb.WriteString(thinkGuide)
			}
		}
		// Phase 2: MCP/skill creation guides — conditionally loaded based on Intent detection.
		// Only loaded when user's Problem mentions MCP/skill/custom-tool keywords.
		if prep.HasMCPIntent {
			if mcpGuide := n.loader.Load("mcp_server_guide.md"); mcpGuide != "" {
				sb.WriteString("\n\n")
				sb.WriteString(mcpGuide)
			}
			if skillDocGuide := n.loader.Load("skill_doc_guide.md"); skillDocGuide != "" {
				sb.WriteString("\n\n")
				sb.WriteString(skillDocGuide)
			}
		}
	}

	// Plugin hooks: BeforeDecide-contributed fragments, concatenated in
	// registration order.
	for _, frag := range prep.ExtraPromptFragments {
		if frag == "" {
			continue
		}
		sb.WriteString("\n\n")
		sb.WriteString(frag)
	}

	result := sb.String()

	// Phase 2: Token Budget Guard — temporary character truncation.
	// If context window is known, cap system prompt at 25% of total token budget.
	// This is a safety net; Phase 3 will replace with component-level removal.
	//
	// Rune-safe: use []rune slicing to avoid cutting in the middle of a
	// multi-byte UTF-8 character (e.g. CJK text is 3 bytes/char).
	if prep.ContextWindowTokens > 0 {
		maxChars := prep.ContextWindowTokens * charsPerToken * 25 / 100
		runes := []rune(result)
		if len(runes) > maxChars {
			log.Printf("[Decide] Token budget guard: system prompt %d chars exceeds %d limit, truncating", len(runes), maxChars)
			result = string(runes[:maxChars])
		}
	}

	return result
}

// decideL1Constraint returns the hardcoded L1 system prompt fragment for DecideNode.
// These constraints define the tool-call protocol and cannot be overridden by L2/L3.
func decideL1Constraint(mode string) string {
	switch mode {
	case "fc":
		return decideL1FC
	case "native":
		return decideL1Native
	default: // "app" mode (extended thinking)
		return decideL1App
	}
}

// L1 constraints — hardcoded, not file-overridable.
// Only the tool-call protocol and action set differ between modes;
// decision strategy and answer format are intentionally kept in L2 files.

const decideL1Native = `You are an intelligent assistant. Based on the user's question and the current context, decide the next action.

You may choose one of two actions:
1. tool — call a tool to gather information or perform an operation
2. answer — answer the user's question directly

## Core behavior rules
- **No repetition**: do not repeat a tool+parameter call that already appears among completed steps
- **Plan first**: for multi-step tasks, briefly outline the execution plan in your first reply
- **Finish promptly**: once the task is done, reply with text immediately; skip unnecessary verification
- **Batch operations**: prefer combining shell commands when they can be combined into one call`

const decideL1App = `You are an intelligent assistant. Based on the user's question and the current context, decide the next action.

You may choose one of three actions:
1. tool — call a tool to gather information or perform an operation
2. think — perform deep reasoning analysis
3. answer — answer the user's question directly

## Core behavior rules
- **No repetition**: do not repeat a tool+parameter call that already appears among completed steps
- **Plan first**: for multi-step tasks, briefly outline the execution plan in your first reply
- **Finish promptly**: once the task is done, reply with text immediately; skip unnecessary verification
- **Batch operations**: prefer combining shell commands when they can be combined into one call`

const decideL1FC = `You are an intelligent assistant. Based on the user's question and the current context, decide the next action.

You have two choices:
1. call a tool — invoke the appropriate tool via function calling
2. answer directly — if you already have enough information or the question is simple, reply with text directly

## Core behavior rules
- **No repetition**: do not repeat a tool+parameter call that already appears among completed steps
- **Plan first**: for multi-step tasks, briefly outline the execution plan in your first reply
- **Finish promptly**: once the task is done, reply with text immediately; skip unnecessary verification
- **Batch operations**: prefer combining shell commands when they can be combined into one call`

// buildDecidePromptFC builds the user prompt for FC mode (no YAML template).
func buildDecidePromptFC(prep DecidePrep) string {
	var sb strings.Builder

	if prep.ConversationHistory != "" {
		sb.WriteString(prep.ConversationHistory)
		sb.WriteString("\n[Current question]\n")
	}
	sb.WriteString(fmt.Sprintf("User question: %s\n\n", prep.Problem))
	if prep.WorkspaceDir != "" {
		sb.WriteString(fmt.Sprintf("Current working directory: %s\nFile tool paths are relative to this directory. Use \".\" for the current directory.\n\n", prep.WorkspaceDir))
	}

	if prep.WalkthroughText != "" {
		sb.WriteString(prep.WalkthroughText)
		sb.WriteString("\n")
	}

	if prep.PlanText != "" {
		sb.WriteString(prep.PlanText)
		sb.WriteString("\n")
	}

	if prep.MemoryText != "" {
		sb.WriteString(prep.MemoryText)
		sb.WriteString("\n")
	}

	if prep.StepSummary != "" {
		sb.WriteString(fmt.Sprintf("Completed steps:\n%s\n\n", prep.StepSummary))
	}

	// When task is long, remind LLM of available tool names
	if prep.StepCount > 3 && len(prep.ToolDefinitions) > 0 {
		sb.WriteString("Available tools: ")
		for i, td := range prep.ToolDefinitions {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(td.Name)
		}
		sb.WriteString("\n\n")
	}

	// Add urgency when step budget is running low
	remaining := MaxAgentSteps - prep.StepCount
	if remaining <= 5 && prep.StepCount > 0 {
		sb.WriteString(fmt.Sprintf("Remaining step budget: %d. Give an answer using the information already gathered as soon as possible.\n\n", remaining))
	}

	sb.WriteString("Respond either by calling a tool or with a direct text reply.")

	// LoopDetector: inject warning into FC prompt
	if prep.LoopDetected.Detected {
		sb.WriteString(fmt.Sprintf(
			"\n\nRepeated action pattern detected (%s). Avoid repeating this action; advance the task a different way.\n",
			prep.LoopDetected.Description,
		))
	}

	// ExplorationDetector: inject warning into FC prompt
	if prep.ExplorationDetected.Detected {
		sb.WriteString(fmt.Sprintf(
			"\nExploration phase has exceeded its budget (%s). Start acting on the information already gathered immediately instead of reading more files.\n",
			prep.ExplorationDetected.Description,
		))
	}

	return sb.String()
}

func buildDecidePrompt(prep DecidePrep) string {
	var sb strings.Builder

	if prep.ConversationHistory != "" {
		sb.WriteString(prep.ConversationHistory)
		sb.WriteString("\n[Current question]\n")
	}
	sb.WriteString(fmt.Sprintf("User question: %s\n\n", prep.Problem))
	if prep.WorkspaceDir != "" {
		sb.WriteString(fmt.Sprintf("Current working directory: %s\nFile tool paths are relative to this directory. Use \".\" for the current directory.\n\n", prep.WorkspaceDir))
	}
	sb.WriteString(prep.ToolsPrompt)
	sb.WriteString("\n")

	if prep.WalkthroughText != "" {
		sb.WriteString("\n")
		sb.WriteString(prep.WalkthroughText)
		sb.WriteString("\n")
	}

	if prep.PlanText != "" {
		sb.WriteString("\n")
		sb.WriteString(prep.PlanText)
		sb.WriteString("\n")
	}

	if prep.MemoryText != "" {
		sb.WriteString("\n")
		sb.WriteString(prep.MemoryText)
		sb.WriteString("\n")
	}

	if prep.StepSummary != "" {
		sb.WriteString(fmt.Sprintf("Completed steps:\n%s\n\n", prep.StepSummary))
	}

	// Add urgency when step budget is running low
	remaining := MaxAgentSteps - prep.StepCount
	if remaining <= 5 && prep.StepCount > 0 {
		sb.WriteString(fmt.Sprintf("Remaining step budget: %d. Give an answer using the information already gathered as soon as possible.\n\n", remaining))
	}

	// LoopDetector: inject warning into YAML prompt
	if prep.LoopDetected.Detected {
		sb.WriteString(fmt.Sprintf(
			"Repeated action pattern detected (%s). Avoid repeating this action; advance the task a different way.\n\n",
			prep.LoopDetected.Description,
		))
	}

	// ExplorationDetector: inject warning into YAML prompt
	if prep.ExplorationDetected.Detected {
		sb.WriteString(fmt.Sprintf(
			"Exploration phase has exceeded its budget (%s). Start acting on the information already gathered immediately instead of reading more files.\n\n",
			prep.ExplorationDetected.Description,
		))
	}

	// Dynamic YAML template based on thinking mode
	if prep.ThinkingMode == "native" {
		sb.WriteString(`Reply with your decision strictly in YAML format:
` + "```yaml" + `
action: "tool"  # or "answer"
reason: "what this step concretely does (don't repeat what you already said)"
tool_name: "tool name"    # required when action=tool
tool_params:              # required when action=tool
  param1: "value1"
answer: |                 # when action=answer
  final answer...
` + "```")
	} else {
		sb.WriteString(`Reply with your decision strictly in YAML format:
` + "```yaml" + `
action: "tool"  # or "think" or "answer"
reason: "what this step concretely does (don't repeat what you already said)"
tool_name: "tool name"    # required when action=tool
tool_params:              # required when action=tool
  param1: "value1"
thinking: |               # when action=think
  reasoning content...
answer: |                 # when action=answer
  final answer...
` + "```")
	}

	return sb.String()
}

// charsPerToken is the approximate character-to-token ratio for mixed CJK/English content.
// CJK text averages ~1.5 chars/token; ASCII text averages ~4 chars/token.
// 2 is a conservative middle ground that avoids underestimating token cost.
const charsPerToken = 2
