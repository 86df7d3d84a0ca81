package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/zenagent/zenagent/internal/scheduler"
	"github.com/zenagent/zenagent/internal/trigger"
)

type fakeInFlight struct {
	cp Checkpoint
	ok bool
}

func (f fakeInFlight) Checkpoint() (Checkpoint, bool) { return f.cp, f.ok }

func TestDaemon_ShutdownSequence(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "daemon.pid")

	sched := scheduler.New(filepath.Join(dir, "scheduler.json"))
	id, _ := sched.Enqueue("goal", 1, 100, nil)
	task, _, _ := sched.Dequeue()
	if task.ID != id {
		t.Fatalf("setup: expected dequeued task id to match")
	}

	triggers := trigger.NewManager()
	triggers.Add(&trigger.TriggerDef{ID: "t1", Kind: trigger.KindInterval, Enabled: true, PeriodMS: 1000})

	d := New(NewPIDFile(pidPath), NewMonitor(1000, time.Second, ""), sched, triggers)
	if err := d.Start(time.Now()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d.SetInFlightProvider(fakeInFlight{cp: Checkpoint{TaskID: task.ID, Steps: []string{"step1"}}, ok: true})

	if err := d.Shutdown(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(triggers.List()) != 0 {
		t.Errorf("expected triggers stopped/removed on shutdown, got %d remaining", len(triggers.List()))
	}

	hist := sched.History()
	if len(hist) != 1 || hist[0].Status != scheduler.StatusFailed {
		t.Fatalf("expected in-flight task checkpointed to failed history, got %+v", hist)
	}

	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Errorf("expected pid file removed after shutdown, stat err=%v", err)
	}
}

func TestDaemon_StartRefusesWhenAlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "daemon.pid")
	os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644)

	d := New(NewPIDFile(pidPath), NewMonitor(0, time.Second, ""), nil, nil)
	err := d.Start(time.Now())
	if err == nil {
		t.Fatal("expected Start to refuse when pid file is held by a live process")
	}
}
