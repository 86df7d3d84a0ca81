package daemon

import (
	"fmt"
	"log"
	"time"

	"github.com/zenagent/zenagent/internal/scheduler"
	"github.com/zenagent/zenagent/internal/trigger"
)

// Checkpoint captures an in-flight task's progress so Shutdown can persist
// it before exiting, per §4.14's graceful shutdown sequence.
type Checkpoint struct {
	TaskID string
	Steps  []string
}

// InFlightProvider is implemented by the agent loop so Shutdown can drain
// whatever task is currently running to a checkpoint without the daemon
// package depending on internal/agent directly.
type InFlightProvider interface {
	Checkpoint() (Checkpoint, bool)
}

// Daemon wires together the PID guard, health monitor, scheduler, and
// trigger manager into the single-instance process lifecycle of §4.14.
type Daemon struct {
	PIDFile   *PIDFile
	Monitor   *Monitor
	Scheduler *scheduler.Scheduler
	Triggers  *trigger.Manager

	inFlight InFlightProvider
}

// New assembles a Daemon from its already-configured parts.
func New(pidFile *PIDFile, monitor *Monitor, sched *scheduler.Scheduler, triggers *trigger.Manager) *Daemon {
	return &Daemon{PIDFile: pidFile, Monitor: monitor, Scheduler: sched, Triggers: triggers}
}

// SetInFlightProvider wires the running agent loop so Shutdown can drain
// its in-progress task to a checkpoint.
func (d *Daemon) SetInFlightProvider(p InFlightProvider) {
	d.inFlight = p
}

// Start acquires the PID file and marks the monitor's clock started. Refuses
// to start if another live instance already owns the PID file.
func (d *Daemon) Start(now time.Time) error {
	if err := d.PIDFile.Acquire(); err != nil {
		return err
	}
	d.Monitor.Start(now)
	log.Printf("[Daemon] started, pid file acquired")
	return nil
}

// Shutdown runs the graceful sequence of §4.14: stop triggers, drain any
// in-flight task to a checkpoint, persist the scheduler, then remove the
// PID file. Each step is best-effort — a failure in one step is logged and
// does not prevent later steps from running, so shutdown never wedges.
func (d *Daemon) Shutdown() error {
	log.Printf("[Daemon] shutdown: stopping triggers")
	if d.Triggers != nil {
		for _, t := range d.Triggers.List() {
			d.Triggers.Remove(t.ID)
		}
	}

	if d.inFlight != nil {
		if cp, ok := d.inFlight.Checkpoint(); ok {
			log.Printf("[Daemon] shutdown: draining in-flight task %s (%d steps) to checkpoint", cp.TaskID, len(cp.Steps))
			if d.Scheduler != nil {
				if err := d.Scheduler.Fail(cp.TaskID, "daemon shutdown: checkpointed"); err != nil {
					log.Printf("[Daemon] shutdown: checkpoint persist failed: %v", err)
				}
			}
		}
	}

	log.Printf("[Daemon] shutdown: pid file released")
	if err := d.PIDFile.Release(); err != nil {
		return fmt.Errorf("daemon: shutdown: %w", err)
	}
	return nil
}
