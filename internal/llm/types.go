// Package llm defines the uniform LLM adapter contract consumed by the
// agent loop (§4.6). Vendor-specific HTTP serialization lives in adapter
// subpackages (e.g. internal/llm/openai); this package only declares the
// shape every adapter must expose.
package llm

import (
	"context"
	"encoding/json"
)

// Role constants for Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents one turn of a chat conversation. ToolCallID/Name are
// only meaningful on a RoleTool message (the result of executing a prior
// assistant tool call); ToolCalls is only meaningful on a RoleAssistant
// message returned from CallLLMWithTools.
type Message struct {
	Role             string     `json:"role"`
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	Name             string     `json:"name,omitempty"`
	ToolCallID       string     `json:"tool_call_id,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is one function call the model asked to make. Arguments is the
// raw JSON object the model produced; callers unmarshal it against the
// tool's own parameter type.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition describes one callable tool offered to the model in the
// Function Calling path. Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// StreamCallback is invoked for each chunk of streamed text.
type StreamCallback func(chunk string)

// LLMProvider defines the interface every adapter implements. An adapter
// that cannot do Function Calling still implements CallLLMWithTools (by
// degrading to a plain CallLLM or returning an error); IsToolCallingEnabled
// reports which, so DecideNode's "auto" mode knows whether to try FC at all
// before falling back to the YAML tool-call convention.
type LLMProvider interface {
	CallLLM(ctx context.Context, messages []Message) (Message, error)
	CallLLMStream(ctx context.Context, messages []Message, onChunk StreamCallback) (Message, error)
	CallLLMWithTools(ctx context.Context, messages []Message, tools []ToolDefinition) (Message, error)
	IsToolCallingEnabled() bool
	GetName() string
}
