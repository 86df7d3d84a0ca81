package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zenagent/zenagent/internal/plan"
	"github.com/zenagent/zenagent/internal/tool"
)

// UpdatePlanTool manages structured execution plans for agent tasks.
// Each request gets its own instance (via NewUpdatePlanTool) to avoid data races
// on the sessionID and callback fields.
type UpdatePlanTool struct {
	store     *plan.PlanStore
	sessionID string
	onUpdate  func(steps []plan.PlanStep)
}

// NewUpdatePlanTool creates a per-request instance with session context and SSE callback.
func NewUpdatePlanTool(store *plan.PlanStore, sessionID string, onUpdate func([]plan.PlanStep)) *UpdatePlanTool {
	return &UpdatePlanTool{store: store, sessionID: sessionID, onUpdate: onUpdate}
}

func (t *UpdatePlanTool) Name() string { return "update_plan" }
func (t *UpdatePlanTool) Description() string {
	return "Manage structured execution plans. set: set the complete plan; update: update a single step's status. Multi-step tasks (>=3 steps) should set the plan before executing it."
}

// InputSchema returns hand-crafted JSON Schema because BuildSchema doesn't support
// array types with item definitions needed for the steps parameter.
func (t *UpdatePlanTool) InputSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"operation": {
				"type": "string",
				"enum": ["set", "update"],
				"description": "operation type: set sets the complete plan, update updates a single step's status"
			},
			"steps": {
				"type": "array",
				"description": "step list (required when operation=set)",
				"items": {
					"type": "object",
					"properties": {
						"id":    {"type": "string", "description": "unique step ID"},
						"title": {"type": "string", "description": "step description"}
					},
					"required": ["id", "title"]
				}
			},
			"step_id": {"type": "string", "description": "step ID (required when operation=update)"},
			"status":  {"type": "string", "enum": ["pending","in_progress","done","error","skipped"], "description": "new status (required when operation=update)"},
			"detail":  {"type": "string", "description": "optional note or error message"}
		},
		"required": ["operation"]
	}`)
}

func (t *UpdatePlanTool) Init(_ context.Context) error { return nil }
func (t *UpdatePlanTool) Close() error                 { return nil }

// validStatuses mirrors the JSON Schema enum for runtime validation.
// LLMs may hallucinate invalid status values (e.g. "completed" instead of "done").
var validStatuses = map[string]bool{
	"pending": true, "in_progress": true, "done": true,
	"error": true, "skipped": true,
}

type updatePlanArgs struct {
	Operation string          `json:"operation"`
	Steps     []plan.PlanStep `json:"steps"`
	StepID    string          `json:"step_id"`
	Status    string          `json:"status"`
	Detail    string          `json:"detail"`
}

func (t *UpdatePlanTool) Execute(_ context.Context, args json.RawMessage) (tool.Result, error) {
	var a updatePlanArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return tool.Result{Error: fmt.Sprintf("failed to parse arguments: %v", err)}, nil
	}

	switch a.Operation {
	case "set":
		if len(a.Steps) == 0 {
			return tool.Result{Error: "operation \"set\" requires a non-empty steps list"}, nil
		}
		// Dedup: if the new plan is identical to the current plan, return a warning
		// instead of positive feedback. This prevents the LLM from getting stuck in
		// a loop of repeatedly setting the same plan.
		if current := t.store.Get(t.sessionID); plansEqual(current, a.Steps) {
			return tool.Result{Output: "plan unchanged (identical to the current plan). Proceed directly to executing the task steps instead of setting the plan again."}, nil
		}
		t.store.Set(t.sessionID, a.Steps)
		t.notifyUpdate()
		return tool.Result{Output: fmt.Sprintf("plan set, %d steps total", len(a.Steps))}, nil

	case "update":
		if a.StepID == "" || a.Status == "" {
			return tool.Result{Error: "operation \"update\" requires step_id and status"}, nil
		}
		if !validStatuses[a.Status] {
			return tool.Result{Error: fmt.Sprintf("invalid status %q, supported values: pending/in_progress/done/error/skipped", a.Status)}, nil
		}
		// Dedup: if step already has the requested status, return an ERROR
		// (not Output) to strongly signal the LLM to stop calling update_plan.
		// In FC mode, LLMs treat errors more seriously than successful outputs.
		// The error lists available action tools to give the LLM a clear next step.
		if current := t.findStepStatus(a.StepID); current == a.Status {
			return tool.Result{Error: fmt.Sprintf(
				"step %s is already in status %s, calling update_plan again is not allowed. "+
					"Call an actual tool to carry out this step instead, e.g.: file_read, file_write, file_list, shell_exec, web_search, mcp_server_add.",
				a.StepID, a.Status)}, nil
		}
		if t.store.Update(t.sessionID, a.StepID, a.Status, a.Detail) {
			t.notifyUpdate()
			return tool.Result{Output: fmt.Sprintf("step %s -> %s", a.StepID, a.Status)}, nil
		}
		// Exact match failed — try fuzzy matching (prefix/suffix)
		if corrected := t.fuzzyMatchStepID(a.StepID); corrected != "" {
			if t.store.Update(t.sessionID, corrected, a.Status, a.Detail) {
				t.notifyUpdate()
				return tool.Result{Output: fmt.Sprintf("step %s -> %s (auto-corrected: %q -> %q)", corrected, a.Status, a.StepID, corrected)}, nil
			}
		}
		// No match — return error with valid IDs for self-correction
		ids := t.validStepIDs()
		return tool.Result{Error: fmt.Sprintf("step %q does not exist, current plan step IDs: [%s]", a.StepID, strings.Join(ids, ", "))}, nil

	default:
		return tool.Result{Error: fmt.Sprintf("unknown operation %q, supported: set/update", a.Operation)}, nil
	}
}

func (t *UpdatePlanTool) notifyUpdate() {
	if t.onUpdate != nil {
		t.onUpdate(t.store.Get(t.sessionID))
	}
}

// fuzzyMatchStepID attempts prefix-based correction for mistyped step IDs.
// Returns the corrected ID if exactly one candidate matches, empty string otherwise.
// Examples: "check_conflict" → "check_conflicts", "create_serv" → "create_server"
// (only when no other step ID starts with "create_serv").
func (t *UpdatePlanTool) fuzzyMatchStepID(input string) string {
	steps := t.store.Get(t.sessionID)
	if steps == nil {
		return ""
	}
	var candidates []string
	for _, s := range steps {
		// Either the input is a prefix of a valid ID, or a valid ID is a prefix of the input
		if strings.HasPrefix(s.ID, input) || strings.HasPrefix(input, s.ID) {
			candidates = append(candidates, s.ID)
		}
	}
	if len(candidates) == 1 {
		return candidates[0]
	}
	return ""
}

// validStepIDs returns all step IDs in the current plan for error messages.
func (t *UpdatePlanTool) validStepIDs() []string {
	steps := t.store.Get(t.sessionID)
	ids := make([]string, len(steps))
	for i, s := range steps {
		ids[i] = s.ID
	}
	return ids
}

// plansEqual returns true if two plan step slices have the same IDs and titles
// (ignoring status/detail, which change during execution).
// Used to detect duplicate set operations where the LLM re-sends the same plan.
func plansEqual(a, b []plan.PlanStep) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Title != b[i].Title {
			return false
		}
	}
	return true
}

// findStepStatus returns the current status of a step by ID.
// Returns "" if the step or session is not found.
func (t *UpdatePlanTool) findStepStatus(stepID string) string {
	steps := t.store.Get(t.sessionID)
	for _, s := range steps {
		if s.ID == stepID {
			return s.Status
		}
	}
	return ""
}
