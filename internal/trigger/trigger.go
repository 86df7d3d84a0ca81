// Package trigger implements the three trigger sources of §4.13: interval,
// cron, and event. Rather than one goroutine-per-trigger, sources are
// polled through Manager.Check(now), which the daemon calls at >= 1 Hz (as
// spec.md §4.13 already mandates for cron) — this keeps every trigger
// deterministic and testable without real timers, and removing a trigger is
// just deleting it from the map, which trivially "stops its timers" since
// none are ever started.
package trigger

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind identifies a trigger source type.
type Kind string

const (
	KindInterval Kind = "interval"
	KindCron     Kind = "cron"
	KindEvent    Kind = "event"
)

// TriggerDef is one configured trigger.
type TriggerDef struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Kind    Kind   `json:"kind"`
	Enabled bool   `json:"enabled"`
	Goal    string `json:"goal"` // the task goal enqueued when this trigger fires

	// Interval-specific.
	PeriodMS int64 `json:"periodMs,omitempty"`

	// Cron-specific: standard 5-field (minute hour day month weekday).
	Spec string `json:"spec,omitempty"`

	// Event-specific.
	EventName string `json:"eventName,omitempty"`

	schedule    cron.Schedule // parsed from Spec, nil for non-cron kinds
	lastFired   time.Time     // interval: last fire time; cron: start of last matching minute
	initialized bool
}

// Fire is one pending activation returned by Manager.Check/Manager.FireEvent.
type Fire struct {
	TriggerID string
	Goal      string
}

// Manager owns the set of configured triggers and the pending queue of
// named events waiting to be matched against event-kind triggers.
type Manager struct {
	mu          sync.Mutex
	triggers    map[string]*TriggerDef
	pendingEvts []namedEvent
}

type namedEvent struct {
	name    string
	payload any
}

// NewManager creates an empty trigger manager.
func NewManager() *Manager {
	return &Manager{triggers: make(map[string]*TriggerDef)}
}

// Add registers a trigger. Cron specs are parsed eagerly so a malformed spec
// is rejected at registration time rather than at first Check.
func (m *Manager) Add(t *TriggerDef) error {
	if t.Kind == KindCron {
		sched, err := cron.ParseStandard(t.Spec)
		if err != nil {
			return fmt.Errorf("trigger: parse cron spec %q: %w", t.Spec, err)
		}
		t.schedule = sched
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers[t.ID] = t
	return nil
}

// Remove deletes a trigger. Per §4.13, removing a trigger stops its timers —
// trivially true here since Check only ever considers registered triggers.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.triggers, id)
}

// Get returns a trigger by id.
func (m *Manager) Get(id string) (*TriggerDef, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.triggers[id]
	return t, ok
}

// SetEnabled toggles a trigger without removing its configuration.
func (m *Manager) SetEnabled(id string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.triggers[id]; ok {
		t.Enabled = enabled
	}
}

// FireEvent enqueues a named event for matching against event-kind triggers
// on the next Check call.
func (m *Manager) FireEvent(name string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pendingEvts = append(m.pendingEvts, namedEvent{name: name, payload: payload})
}

// Check evaluates every enabled trigger against now and returns the set that
// fired. Interval triggers never catch up missed ticks: a trigger due for
// multiple elapsed periods still fires once and its lastFired resets to now.
// Cron triggers fire exactly once per transition into a matching minute.
// Event triggers fire once per queued FireEvent call whose name matches.
func (m *Manager) Check(now time.Time) []Fire {
	m.mu.Lock()
	defer m.mu.Unlock()

	var fires []Fire

	for _, t := range m.triggers {
		if !t.Enabled {
			continue
		}
		switch t.Kind {
		case KindInterval:
			if m.intervalDue(t, now) {
				fires = append(fires, Fire{TriggerID: t.ID, Goal: t.Goal})
			}
		case KindCron:
			if m.cronDue(t, now) {
				fires = append(fires, Fire{TriggerID: t.ID, Goal: t.Goal})
			}
		case KindEvent:
			for _, evt := range m.pendingEvts {
				if evt.name == t.EventName {
					fires = append(fires, Fire{TriggerID: t.ID, Goal: t.Goal})
				}
			}
		}
	}
	m.pendingEvts = nil

	return fires
}

func (m *Manager) intervalDue(t *TriggerDef, now time.Time) bool {
	if !t.initialized {
		t.lastFired = now
		t.initialized = true
		return false
	}
	period := time.Duration(t.PeriodMS) * time.Millisecond
	if period <= 0 {
		return false
	}
	if now.Sub(t.lastFired) >= period {
		t.lastFired = now
		return true
	}
	return false
}

func (m *Manager) cronDue(t *TriggerDef, now time.Time) bool {
	if t.schedule == nil {
		return false
	}
	minute := now.Truncate(time.Minute)
	if !t.initialized {
		t.lastFired = minute
		t.initialized = true
		return false
	}
	if minute.Equal(t.lastFired) {
		return false // already fired for this minute
	}
	next := t.schedule.Next(t.lastFired)
	if !next.After(minute) {
		t.lastFired = minute
		return true
	}
	return false
}

// List returns all registered triggers, unordered.
func (m *Manager) List() []*TriggerDef {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*TriggerDef, 0, len(m.triggers))
	for _, t := range m.triggers {
		out = append(out, t)
	}
	return out
}
