package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Delta is the per-step progress assessment of §3/§4.7: COMPUTE_DELTA asks
// the LLM's complete() operation for one of these every step, and EVALUATE
// decides whether to advance the milestone, veto, or continue DECIDE/ACT
// from it.
type Delta struct {
	Description    string   `json:"description"`
	Progress       float64  `json:"progress"`       // [0,1]
	Gaps           []string `json:"gaps,omitempty"` // what's still missing
	IsComplete     bool     `json:"isComplete"`
	SufferingDelta *float64 `json:"sufferingDelta,omitempty"` // [0,1], optional (§4.13 dukkha evaluation)
	EgoNoise       *float64 `json:"egoNoise,omitempty"`       // [0,1], optional (§4.8 mindfulness input)
}

// clampUnit forces a value into [0,1] — a misbehaving LLM response is
// clamped rather than rejected outright, since COMPUTE_DELTA has no retry
// budget of its own.
func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ParseDelta decodes a Delta out of raw LLM.complete() output. The model is
// asked for a single JSON object but routinely wraps it in a ```json fence
// or prose; this extracts the first balanced JSON object it can find,
// mirroring the Decision YAML-extraction leniency in decide_helpers.go.
func ParseDelta(raw string) (Delta, error) {
	jsonStr, err := extractJSONObject(raw)
	if err != nil {
		return Delta{}, fmt.Errorf("agent: parse delta: %w", err)
	}

	var d Delta
	if err := json.Unmarshal([]byte(jsonStr), &d); err != nil {
		return Delta{}, fmt.Errorf("agent: parse delta: %w", err)
	}
	d.Progress = clampUnit(d.Progress)
	if d.SufferingDelta != nil {
		v := clampUnit(*d.SufferingDelta)
		d.SufferingDelta = &v
	}
	if d.EgoNoise != nil {
		v := clampUnit(*d.EgoNoise)
		d.EgoNoise = &v
	}
	return d, nil
}

// extractJSONObject pulls a ```json fenced block if present, otherwise
// scans for the first top-level {...} object in the text.
func extractJSONObject(content string) (string, error) {
	if idx := strings.Index(content, "```json"); idx >= 0 {
		rest := content[idx+7:]
		if end := strings.Index(rest, "```"); end >= 0 {
			return strings.TrimSpace(rest[:end]), nil
		}
	}
	if idx := strings.Index(content, "```"); idx >= 0 {
		rest := content[idx+3:]
		if end := strings.Index(rest, "```"); end >= 0 {
			candidate := strings.TrimSpace(rest[:end])
			if strings.HasPrefix(candidate, "{") {
				return candidate, nil
			}
		}
	}

	start := strings.Index(content, "{")
	if start < 0 {
		return "", fmt.Errorf("no JSON object found in %q", truncateForError(content))
	}
	depth := 0
	for i := start; i < len(content); i++ {
		switch content[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return content[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unbalanced JSON object in %q", truncateForError(content))
}

func truncateForError(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// asHookDelta flattens a Delta plus loop bookkeeping into the map hook.Bus
// already dispatches through AfterDelta. The hook package stays decoupled
// from internal/agent's concrete Delta type; plugins read fields by name.
func (d Delta) asHookDelta(stepCount int, lastToolName, lastToolError string) map[string]any {
	m := map[string]any{
		"description":   d.Description,
		"progress":      d.Progress,
		"gaps":          d.Gaps,
		"isComplete":    d.IsComplete,
		"stepCount":     stepCount,
		"lastToolName":  lastToolName,
		"lastToolError": lastToolError,
	}
	if d.SufferingDelta != nil {
		m["sufferingDelta"] = *d.SufferingDelta
	}
	if d.EgoNoise != nil {
		m["egoNoise"] = *d.EgoNoise
	}
	return m
}
