package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/zenagent/zenagent/internal/core"
	"github.com/zenagent/zenagent/internal/hook"
	"github.com/zenagent/zenagent/internal/llm"
	"github.com/zenagent/zenagent/internal/resilience"
	"github.com/zenagent/zenagent/internal/tool"
)

// ── test doubles: scripted LLM provider and simple tools ──

// scriptedProvider returns its canned responses in order, regardless of
// which CallLLM* method is invoked — the flow under test always drives
// DecideNode/AnswerNode one call at a time, so a single shared queue mirrors
// the run's real call order.
type scriptedProvider struct {
	responses []string
	idx       int
}

func (p *scriptedProvider) next() llm.Message {
	if p.idx >= len(p.responses) {
		return llm.Message{Role: llm.RoleAssistant, Content: "action: answer\nanswer: \"out of script\""}
	}
	c := p.responses[p.idx]
	p.idx++
	return llm.Message{Role: llm.RoleAssistant, Content: c}
}

func (p *scriptedProvider) CallLLM(_ context.Context, _ []llm.Message) (llm.Message, error) {
	return p.next(), nil
}

func (p *scriptedProvider) CallLLMStream(_ context.Context, _ []llm.Message, _ llm.StreamCallback) (llm.Message, error) {
	return p.next(), nil
}

func (p *scriptedProvider) CallLLMWithTools(_ context.Context, _ []llm.Message, _ []llm.ToolDefinition) (llm.Message, error) {
	return p.next(), nil
}

func (p *scriptedProvider) IsToolCallingEnabled() bool { return false }
func (p *scriptedProvider) GetName() string            { return "scripted" }

// fakeTool is a minimal tool.Tool whose Execute is supplied by the test.
type fakeTool struct {
	name    string
	execute func(args json.RawMessage) (tool.Result, error)
}

func (t *fakeTool) Name() string                { return t.name }
func (t *fakeTool) Description() string         { return t.name }
func (t *fakeTool) InputSchema() json.RawMessage { return json.RawMessage(`{}`) }
func (t *fakeTool) Init(context.Context) error   { return nil }
func (t *fakeTool) Close() error                 { return nil }
func (t *fakeTool) Execute(_ context.Context, args json.RawMessage) (tool.Result, error) {
	return t.execute(args)
}

func newFlowState(registry *tool.Registry) *AgentState {
	return &AgentState{
		Problem:      "what is in a.txt?",
		WorkspaceDir: "/tmp",
		ToolRegistry: registry,
		ThinkingMode: "native",
		ToolCallMode: "yaml",
	}
}

// ── happy path — two tool calls then a synthesized answer ──

func TestFlow_HappyPath_TwoToolsThenAnswer(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(&fakeTool{name: "file_read", execute: func(json.RawMessage) (tool.Result, error) {
		return tool.Result{Success: true, Output: "file contents: hello"}, nil
	}})
	registry.Register(&fakeTool{name: "file_write", execute: func(json.RawMessage) (tool.Result, error) {
		return tool.Result{Success: true, Output: "wrote 12 bytes"}, nil
	}})

	provider := &scriptedProvider{responses: []string{
		"action: tool\ntool_name: file_read\ntool_params:\n  path: a.txt\nreason: read the file",
		"action: tool\ntool_name: file_write\ntool_params:\n  path: b.txt\nreason: write a copy",
		"action: answer\nanswer: \"draft: hello\"",
		"The file contains: hello",
	}}

	flow := BuildAgentFlow(provider, registry, "native", nil)
	state := newFlowState(registry)

	action := flow.Run(context.Background(), state)

	if action != core.ActionEnd {
		t.Fatalf("expected ActionEnd, got %q", action)
	}
	if state.Solution != "The file contains: hello" {
		t.Errorf("Solution = %q", state.Solution)
	}

	var toolSteps, decideSteps, answerSteps int
	for _, s := range state.StepHistory {
		switch s.Type {
		case "tool":
			toolSteps++
		case "decide":
			decideSteps++
		case "answer":
			answerSteps++
		}
	}
	if toolSteps != 2 {
		t.Errorf("expected 2 tool steps, got %d (%+v)", toolSteps, state.StepHistory)
	}
	if decideSteps != 3 {
		t.Errorf("expected 3 decide steps, got %d", decideSteps)
	}
	if answerSteps != 1 {
		t.Errorf("expected 1 answer step, got %d", answerSteps)
	}
}

// ── a plugin veto stops the run before any tool runs ──

// vetoingPlugin vetoes the very first AfterDelta dispatch (stepCount == 0)
// and lets everything else through.
type vetoingPlugin struct {
	hook.BasePlugin
	reason string
}

func (p *vetoingPlugin) Name() string { return "vetoer" }

func (p *vetoingPlugin) AfterDelta(_ context.Context, delta hook.Delta) (hook.VetoResult, error) {
	if n, _ := delta["stepCount"].(int); n == 0 {
		return hook.VetoResult{Vetoed: true, Reason: p.reason}, nil
	}
	return hook.VetoResult{}, nil
}

func TestFlow_PluginVeto_StopsBeforeAnyToolRuns(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(&fakeTool{name: "file_read", execute: func(json.RawMessage) (tool.Result, error) {
		t.Fatal("tool should never run once the step was vetoed")
		return tool.Result{}, nil
	}})

	// A veto turns into an immediate answer decision without ever calling
	// the LLM; provider.idx staying at 0 after Run confirms that.
	provider := &scriptedProvider{}

	bus := hook.NewBus(2)
	if err := bus.Register(nil, &vetoingPlugin{reason: "safety hold"}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	flow := BuildAgentFlow(provider, registry, "native", nil)
	state := newFlowState(registry)
	state.Hooks = bus

	action := flow.Run(context.Background(), state)

	if action != core.ActionEnd {
		t.Fatalf("expected ActionEnd, got %q", action)
	}
	for _, s := range state.StepHistory {
		if s.Type == "tool" {
			t.Fatalf("expected no tool steps after veto, got %+v", state.StepHistory)
		}
	}
	if state.Solution == "" {
		t.Fatal("expected a non-empty Solution carrying the veto reason")
	}
	if provider.idx != 0 {
		t.Errorf("expected the LLM to never be called once vetoed, got %d calls", provider.idx)
	}
}

// ── a tool failing repeatedly trips its circuit breaker via the tanha-loop hook ──

func TestFlow_TanhaLoop_TripsCircuitBreaker(t *testing.T) {
	registry := tool.NewRegistry()
	registry.Register(&fakeTool{name: "flaky", execute: func(json.RawMessage) (tool.Result, error) {
		return tool.Result{Success: false, Error: "timeout contacting upstream"}, nil
	}})

	provider := &scriptedProvider{responses: []string{
		"action: tool\ntool_name: flaky\ntool_params:\n  arg: x\nreason: try it",
		"action: tool\ntool_name: flaky\ntool_params:\n  arg: x\nreason: try again",
		"action: tool\ntool_name: flaky\ntool_params:\n  arg: x\nreason: once more",
		"action: answer\nanswer: \"draft: giving up\"",
		"Unable to complete the request; the flaky tool kept timing out.",
	}}

	// A high failureThreshold isolates the effect under test: only the
	// ethics plugin's direct Trip() should open the breaker here, not the
	// ordinary RecordFailure accounting.
	breakers := resilience.NewManager(100, time.Minute)
	bus := hook.NewBus(0)
	if err := bus.Register(nil, hook.NewEthicsPlugin(breakers)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	flow := BuildAgentFlow(provider, registry, "native", nil)
	state := newFlowState(registry)
	state.CircuitBreakers = breakers
	state.Hooks = bus

	action := flow.Run(context.Background(), state)

	if action != core.ActionEnd {
		t.Fatalf("expected ActionEnd, got %q", action)
	}
	if got := breakers.For("flaky").Current(); got != resilience.StateOpen {
		t.Errorf("expected flaky breaker OPEN after tanha loop, got %s", got)
	}
	if state.LoopDetectionStreak == 0 {
		t.Error("expected LoopDetectionStreak to be non-zero after repeated failures")
	}
}
