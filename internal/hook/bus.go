package hook

import (
	"context"
	"fmt"
	"log"
)

// ErrTooManyVetoes is returned by AfterDelta once the cumulative veto count
// across the run exceeds maxVetoes.
var ErrTooManyVetoes = fmt.Errorf("hook: maximum veto count exceeded")

// Bus dispatches the ordered lifecycle hooks of §4.10 to every registered
// plugin, in registration order. It is not safe for concurrent Register
// calls racing dispatch calls; Register during setup, dispatch during the
// single-threaded agent loop.
type Bus struct {
	plugins   []Plugin
	maxVetoes int
	vetoCount int
}

// NewBus creates a Bus that terminates the run once vetoCount exceeds
// maxVetoes. maxVetoes <= 0 means unlimited.
func NewBus(maxVetoes int) *Bus {
	return &Bus{maxVetoes: maxVetoes}
}

// Register attaches a plugin and calls its Install hook immediately.
func (b *Bus) Register(agent Agent, p Plugin) error {
	if err := p.Install(agent); err != nil {
		return fmt.Errorf("hook: install %q: %w", p.Name(), err)
	}
	b.plugins = append(b.plugins, p)
	return nil
}

// VetoCount returns the cumulative number of AfterDelta vetoes observed so far.
func (b *Bus) VetoCount() int {
	return b.vetoCount
}

// BeforeObserve fires BeforeObserve on every plugin. The first error aborts
// dispatch and is returned to the caller (unlike the fire-and-forget hooks).
func (b *Bus) BeforeObserve(ctx context.Context, state any) error {
	for _, p := range b.plugins {
		if err := p.BeforeObserve(ctx, state); err != nil {
			return fmt.Errorf("hook: %s.BeforeObserve: %w", p.Name(), err)
		}
	}
	return nil
}

// AfterDelta fires AfterDelta on every plugin in order. The first plugin to
// return Vetoed=true aborts dispatch immediately and increments the veto
// counter; once the counter exceeds maxVetoes, ErrTooManyVetoes is returned
// instead of the veto reason, signalling the caller to terminate the run.
func (b *Bus) AfterDelta(ctx context.Context, delta Delta) (VetoResult, error) {
	for _, p := range b.plugins {
		v, err := p.AfterDelta(ctx, delta)
		if err != nil {
			return VetoResult{}, fmt.Errorf("hook: %s.AfterDelta: %w", p.Name(), err)
		}
		if v.Vetoed {
			b.vetoCount++
			if b.maxVetoes > 0 && b.vetoCount > b.maxVetoes {
				return v, ErrTooManyVetoes
			}
			return v, nil
		}
	}
	return VetoResult{}, nil
}

// BeforeDecide collects extra prompt fragments from every plugin, in
// registration order, concatenating each plugin's contribution in turn.
func (b *Bus) BeforeDecide(ctx context.Context, state any) ([]string, error) {
	var fragments []string
	for _, p := range b.plugins {
		frags, err := p.BeforeDecide(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("hook: %s.BeforeDecide: %w", p.Name(), err)
		}
		fragments = append(fragments, frags...)
	}
	return fragments, nil
}

// BeforeAction fires BeforeAction on every plugin. The first error is routed
// through OnError on all plugins and returned to the caller, which must skip
// the action and count it as a tool failure for circuit-breaker accounting.
func (b *Bus) BeforeAction(ctx context.Context, toolName string, params map[string]any) error {
	for _, p := range b.plugins {
		if err := p.BeforeAction(ctx, toolName, params); err != nil {
			wrapped := fmt.Errorf("hook: %s.BeforeAction(%s): %w", p.Name(), toolName, err)
			b.OnError(ctx, "beforeAction", wrapped)
			return wrapped
		}
	}
	return nil
}

// AfterAction fires AfterAction on every plugin, fire-and-forget: a panic or
// the callback's own concern is never allowed to interrupt the loop.
func (b *Bus) AfterAction(ctx context.Context, toolName string, result any, err error) {
	for _, p := range b.plugins {
		b.safeCall(p.Name(), "AfterAction", func() {
			p.AfterAction(ctx, toolName, result, err)
		})
	}
}

// OnError fires OnError on every plugin, fire-and-forget.
func (b *Bus) OnError(ctx context.Context, stage string, err error) {
	for _, p := range b.plugins {
		b.safeCall(p.Name(), "OnError", func() {
			p.OnError(ctx, stage, err)
		})
	}
}

// OnEvolution fires OnEvolution on every plugin, fire-and-forget.
func (b *Bus) OnEvolution(ctx context.Context, event string, detail any) {
	for _, p := range b.plugins {
		b.safeCall(p.Name(), "OnEvolution", func() {
			p.OnEvolution(ctx, event, detail)
		})
	}
}

// safeCall recovers a panic from a fire-and-forget hook, logging it instead
// of propagating — per §4.10, exceptions in these three hooks are "logged
// and swallowed".
func (b *Bus) safeCall(pluginName, hookName string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Hook] %s.%s panicked: %v", pluginName, hookName, r)
		}
	}()
	fn()
}
