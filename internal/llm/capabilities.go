package llm

import "strings"

// ThinkingCapability describes a model's native thinking support.
type ThinkingCapability struct {
	SupportsNativeThinking bool   // Whether the model supports native thinking
	ReasoningEffortParam   string // API parameter name ("reasoning_effort" for OpenAI-compat)
}

// DetectThinkingCapability determines if a model supports native thinking
// based on model name patterns and a known model list.
//
// Detection strategy (priority order):
//  1. Known model list — exact prefix matches for confirmed models
//  2. Keyword matching — model name contains thinking-related keywords
//  3. Default — assume no native thinking support
func DetectThinkingCapability(modelName string) ThinkingCapability {
	baseName := stripProviderPrefix(modelName)

	knownThinkingModels := []string{
		"deepseek-reasoner",
		"deepseek-r1",
		"deepseek-r2",
		"o1-mini",
		"o1-preview",
		"o1",
		"o3-mini",
		"o3",
		"o4-mini",
		"claude-sonnet-4-5", // Claude with extended thinking
		"claude-3-7-sonnet", // Claude 3.7 Sonnet extended thinking
		"glm-5",             // Zhipu GLM-5 with deep thinking (reasoning_content)
	}
	for _, known := range knownThinkingModels {
		if strings.HasPrefix(baseName, known) {
			return ThinkingCapability{SupportsNativeThinking: true, ReasoningEffortParam: "reasoning_effort"}
		}
	}

	thinkingKeywords := []string{"-r1", "-r2", "reasoner", "thinking", "-o1", "-o3", "-o4"}
	for _, kw := range thinkingKeywords {
		if strings.Contains(baseName, kw) {
			return ThinkingCapability{SupportsNativeThinking: true, ReasoningEffortParam: "reasoning_effort"}
		}
	}

	return ThinkingCapability{SupportsNativeThinking: false}
}

// DetectToolCallingCapability reports whether a model is known to support
// OpenAI-style Function Calling. Detection checks a known-no-FC prefix list
// only (there is no keyword fallback); any other non-empty model name
// defaults to true since FC is the common case among OpenAI-compatible chat
// models — the exceptions are older/base completion models that never
// learned the tool_calls convention. An empty model name returns false.
func DetectToolCallingCapability(modelName string) bool {
	baseName := stripProviderPrefix(modelName)
	if baseName == "" {
		return false
	}

	knownNoFC := []string{
		"text-davinci",
		"gpt-3.5-turbo-instruct",
		"babbage",
		"ada",
		"curie",
	}
	for _, known := range knownNoFC {
		if strings.HasPrefix(baseName, known) {
			return false
		}
	}

	return true
}

// GetContextWindow returns the known context window (in tokens) for a model
// name, or 0 when the model is unrecognized (callers should fall back to a
// conservative default rather than treat 0 as a real window size).
func GetContextWindow(modelName string) int {
	baseName := stripProviderPrefix(modelName)

	type entry struct {
		prefix string
		tokens int
	}
	known := []entry{
		{"gpt-4o", 128_000},
		{"gpt-4.1", 1_000_000},
		{"gpt-4-turbo", 128_000},
		{"gpt-4", 8_192},
		{"gpt-3.5-turbo", 16_385},
		{"o1", 200_000},
		{"o3", 200_000},
		{"o4-mini", 200_000},
		{"claude-sonnet-4-5", 1_000_000},
		{"claude-3-7-sonnet", 200_000},
		{"claude-3-5-sonnet", 200_000},
		{"deepseek-r1", 64_000},
		{"deepseek-reasoner", 64_000},
		{"deepseek-chat", 64_000},
		{"qwen-2.5", 128_000},
		{"glm-5", 128_000},
		{"glm-4", 128_000},
	}
	for _, e := range known {
		if strings.HasPrefix(baseName, e.prefix) {
			return e.tokens
		}
	}
	return 0
}

// stripProviderPrefix normalizes a model name for matching: lowercases it
// and drops a leading "provider/" path segment some gateways prepend
// (e.g. "Pro/deepseek-ai/DeepSeek-R1").
func stripProviderPrefix(modelName string) string {
	lower := strings.ToLower(modelName)
	parts := strings.Split(lower, "/")
	return parts[len(parts)-1]
}
