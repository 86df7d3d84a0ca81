// Package hook implements the plugin hook bus of §4.10: an ordered set of
// lifecycle callbacks that observers attach to the agent loop without the
// loop knowing anything about their concerns (ethics guards, metrics,
// custom tool registration, ...).
package hook

import (
	"context"
)

// Delta is the minimal observation passed to AfterDelta/BeforeDecide hooks:
// whatever the loop computed between OBSERVE and DECIDE. The loop owns the
// concrete shape; plugins read it by field name they know to expect.
type Delta map[string]any

// VetoResult is returned by AfterDelta. A Vetoed result aborts the current
// step before DECIDE runs.
type VetoResult struct {
	Vetoed bool
	Reason string
}

// Agent is the minimal surface a plugin needs from the host loop at install
// time — currently just tool registration, per §4.10's "plugins MAY
// register new tools via the agent's addTool".
type Agent interface {
	AddTool(name string, tool any) error
}

// Plugin is the full lifecycle interface. Embed BasePlugin to get no-op
// defaults for methods a plugin doesn't care about.
type Plugin interface {
	Name() string
	Install(agent Agent) error
	BeforeObserve(ctx context.Context, state any) error
	AfterDelta(ctx context.Context, delta Delta) (VetoResult, error)
	BeforeDecide(ctx context.Context, state any) ([]string, error)
	BeforeAction(ctx context.Context, toolName string, params map[string]any) error
	AfterAction(ctx context.Context, toolName string, result any, err error)
	OnError(ctx context.Context, stage string, err error)
	OnEvolution(ctx context.Context, event string, detail any)
}

// BasePlugin is an embeddable no-op implementation of Plugin. Concrete
// plugins embed it and override only the lifecycle points they use.
type BasePlugin struct{}

func (BasePlugin) Name() string                    { return "base" }
func (BasePlugin) Install(agent Agent) error        { return nil }
func (BasePlugin) BeforeObserve(ctx context.Context, state any) error { return nil }
func (BasePlugin) AfterDelta(ctx context.Context, delta Delta) (VetoResult, error) {
	return VetoResult{}, nil
}
func (BasePlugin) BeforeDecide(ctx context.Context, state any) ([]string, error) { return nil, nil }
func (BasePlugin) BeforeAction(ctx context.Context, toolName string, params map[string]any) error {
	return nil
}
func (BasePlugin) AfterAction(ctx context.Context, toolName string, result any, err error) {}
func (BasePlugin) OnError(ctx context.Context, stage string, err error)                     {}
func (BasePlugin) OnEvolution(ctx context.Context, event string, detail any)                {}

var _ Plugin = BasePlugin{}
