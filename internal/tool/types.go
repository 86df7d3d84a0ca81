package tool

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Tool is the unified interface for all tools — native built-ins, synthesized
// blueprints, and acquired external (MCP) tools alike (§6).
type Tool interface {
	// Name returns the tool identifier (LLM uses this name to invoke the tool).
	// Must be unique within an agent's registry.
	Name() string

	// Description returns a natural-language description for LLM prompt injection.
	Description() string

	// InputSchema returns a standard JSON Schema defining the tool's parameters.
	InputSchema() json.RawMessage

	// Execute runs the tool with JSON-encoded arguments.
	Execute(ctx context.Context, args json.RawMessage) (Result, error)

	// Init initializes tool resources (e.g. MCP client connections).
	// Native tools may return nil.
	Init(ctx context.Context) error

	// Close releases tool resources.
	Close() error
}

// Result encapsulates a tool execution outcome.
type Result struct {
	Success bool   `json:"success"`
	Output  any    `json:"output,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SchemaParam describes a single parameter for the BuildSchema helper.
type SchemaParam struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // "string", "integer", "boolean", "number"
	Description string   `json:"description"`
	Required    bool     `json:"-"`
	Enum        []string `json:"enum,omitempty"`
}

// BuildSchema generates a standard JSON Schema object from a list of
// SchemaParams. This helper lets simple built-in tools avoid hand-writing
// JSON strings.
func BuildSchema(params ...SchemaParam) json.RawMessage {
	properties := make(map[string]any)
	var required []string

	for _, p := range params {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	data, _ := json.Marshal(schema)
	return data
}

// SchemaFor generates a JSON Schema by reflecting over a Go struct's fields
// and `jsonschema`/`json` tags, via invopop/jsonschema. Used by the richer
// built-ins this spec adds (scheduler/trigger introspection tools) where a
// typed params struct is more maintainable than a hand-built property list.
func SchemaFor[T any]() json.RawMessage {
	reflector := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	var zero T
	schema := reflector.Reflect(zero)
	data, _ := json.Marshal(schema)
	return data
}
