package zenagent

import (
	"path/filepath"
	"testing"
	"time"
)

func TestNewDaemon_AppliesDefaultsAndConstructs(t *testing.T) {
	dir := t.TempDir()
	cfg := DaemonConfig{
		PIDFilePath:   filepath.Join(dir, "zenagent.pid"),
		QueuePath:     filepath.Join(dir, "task-queue.json"),
		HeartbeatPath: filepath.Join(dir, "heartbeat.json"),
	}

	d, err := NewDaemon(cfg)
	if err != nil {
		t.Fatalf("NewDaemon returned error: %v", err)
	}
	if d == nil {
		t.Fatal("NewDaemon returned nil daemon")
	}
}

func TestDaemonConfig_SetDefaults(t *testing.T) {
	cfg := DaemonConfig{}
	cfg.setDefaults()
	if cfg.MemoryLimitMB != 512 {
		t.Errorf("MemoryLimitMB = %d, want 512", cfg.MemoryLimitMB)
	}
	if cfg.TickInterval != 30*time.Second {
		t.Errorf("TickInterval = %v, want 30s", cfg.TickInterval)
	}
}
