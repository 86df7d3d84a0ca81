// Package synth implements synthesized tool blueprints (§9 design note:
// "Dynamic tool bodies"): a tool whose implementation is a short expression
// string, evaluated in a restricted host rather than a general-purpose
// scripting runtime. A static denylist pre-check rejects forbidden
// identifiers before the first call; execution is bounded by a per-call
// wall-clock timeout (default 5s, per spec.md's synthesized-tool timeout).
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zenagent/zenagent/internal/tool"
)

// defaultTimeout is the per-call wall-clock bound for synthesized tools,
// per spec.md's "default 5s synthesized, 10s external" timeout note.
const defaultTimeout = 5 * time.Second

// Blueprint is the persisted shape of a synthesized tool, matching
// spec.md's `<blueprintDir>/<toolName>.json` format exactly:
// {name, description, parameters, implementation, confidence, reason}.
type Blueprint struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Parameters     json.RawMessage `json:"parameters"` // JSON Schema for inputs
	Implementation string          `json:"implementation"`
	Confidence     float64         `json:"confidence"`
	Reason         string          `json:"reason"`
}

// Tool wraps a Blueprint as a tool.Tool, evaluating Implementation via the
// restricted expression evaluator on every call.
type Tool struct {
	bp      Blueprint
	program *program
	timeout time.Duration
}

// New compiles a Blueprint into a runnable Tool. Compilation runs the
// denylist pre-check once, at registration time, so a malicious or
// malformed implementation is rejected before ever being invoked.
func New(bp Blueprint, timeout time.Duration) (*Tool, error) {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	prog, err := compile(bp.Implementation)
	if err != nil {
		return nil, fmt.Errorf("synth: compile %q: %w", bp.Name, err)
	}
	return &Tool{bp: bp, program: prog, timeout: timeout}, nil
}

func (t *Tool) Name() string        { return t.bp.Name }
func (t *Tool) Description() string { return t.bp.Description }
func (t *Tool) InputSchema() json.RawMessage {
	if len(t.bp.Parameters) == 0 {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return t.bp.Parameters
}
func (t *Tool) Init(ctx context.Context) error { return nil }
func (t *Tool) Close() error                   { return nil }

// Execute decodes args as the params map the expression sees, runs the
// compiled program under a bounded context, and returns its result.
func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (tool.Result, error) {
	var params map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return tool.Result{Success: false, Error: fmt.Sprintf("invalid params: %v", err)}, nil
		}
	}
	if params == nil {
		params = map[string]any{}
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("synth: panic evaluating %q: %v", t.bp.Name, r)
			}
		}()
		v, err := t.program.eval(params)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- v
	}()

	select {
	case <-runCtx.Done():
		return tool.Result{Success: false, Error: fmt.Sprintf("synthesized tool %q timed out after %s", t.bp.Name, t.timeout)}, nil
	case err := <-errCh:
		return tool.Result{Success: false, Error: err.Error()}, nil
	case v := <-resultCh:
		return tool.Result{Success: true, Output: v}, nil
	}
}

var _ tool.Tool = (*Tool)(nil)
