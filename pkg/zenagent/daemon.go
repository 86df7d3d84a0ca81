package zenagent

import (
	"time"

	"github.com/zenagent/zenagent/internal/daemon"
	"github.com/zenagent/zenagent/internal/scheduler"
	"github.com/zenagent/zenagent/internal/trigger"
)

// DaemonConfig is the typed constructor input for the background daemon
// (§4.14): PID guard, heartbeat/health monitor, persisted task scheduler,
// and trigger sources, wired together the way spec.md §4 describes.
type DaemonConfig struct {
	// PIDFilePath is where the single-instance guard writes its pid.
	// Required.
	PIDFilePath string

	// QueuePath is where the scheduler persists task-queue.json.
	// Required.
	QueuePath string

	// HeartbeatPath is where the health monitor persists its last-beat
	// record. Required.
	HeartbeatPath string

	// MemoryLimitMB bounds the health monitor's degraded verdict. Default:
	// 512.
	MemoryLimitMB int64

	// TickInterval is the monitor/watcher's expected heartbeat cadence.
	// Default: 30s.
	TickInterval time.Duration
}

func (c *DaemonConfig) setDefaults() {
	if c.MemoryLimitMB <= 0 {
		c.MemoryLimitMB = 512
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
}

// NewDaemon constructs the PID guard, health monitor, scheduler, and (empty,
// caller-populated via Triggers()) trigger manager, and wires them into a
// *daemon.Daemon — the single call a cmd/zenagentd entrypoint needs to get
// a ready-to-Start daemon, instead of hand-assembling four internal/
// packages itself.
func NewDaemon(cfg DaemonConfig) (*daemon.Daemon, error) {
	cfg.setDefaults()

	pidFile := daemon.NewPIDFile(cfg.PIDFilePath)
	monitor := daemon.NewMonitor(cfg.MemoryLimitMB, cfg.TickInterval, cfg.HeartbeatPath)
	sched := scheduler.New(cfg.QueuePath)
	if err := sched.Load(); err != nil {
		return nil, err
	}
	triggers := trigger.NewManager()

	return daemon.New(pidFile, monitor, sched, triggers), nil
}
