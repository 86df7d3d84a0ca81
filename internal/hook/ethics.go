package hook

import (
	"context"
	"log"
	"time"

	"github.com/zenagent/zenagent/internal/resilience"
)

// EthicsPlugin is the built-in plugin referenced by §4.7's tanha-loop
// detection note ("Ethics-like plugins may observe this event and trip
// circuit breakers"). It watches for tanha:loop:detected evolution events
// and forces the named tool's circuit breaker open, so the loop stops
// retrying a tool that is thrashing on the same error.
type EthicsPlugin struct {
	BasePlugin
	breakers *resilience.Manager
}

// NewEthicsPlugin wires an EthicsPlugin to the breaker manager the agent
// loop already uses for ordinary tool-failure accounting.
func NewEthicsPlugin(breakers *resilience.Manager) *EthicsPlugin {
	return &EthicsPlugin{breakers: breakers}
}

func (p *EthicsPlugin) Name() string { return "ethics" }

// OnEvolution trips the breaker for the offending tool on tanha:loop:detected.
// Detail is expected to carry {toolName, pattern, count} as produced by the
// loop's Tanha-loop detector; a type mismatch is logged and ignored rather
// than propagated (per the fire-and-forget contract of OnEvolution).
func (p *EthicsPlugin) OnEvolution(ctx context.Context, event string, detail any) {
	if event != "tanha:loop:detected" || p.breakers == nil {
		return
	}
	m, ok := detail.(map[string]any)
	if !ok {
		log.Printf("[Hook] ethics: unrecognized tanha:loop:detected payload %T", detail)
		return
	}
	toolName, _ := m["toolName"].(string)
	if toolName == "" {
		return
	}
	p.breakers.For(toolName).Trip(time.Now())
	log.Printf("[Hook] ethics: tripping circuit breaker for %q after repeated tanha loop", toolName)
}

var _ Plugin = (*EthicsPlugin)(nil)
