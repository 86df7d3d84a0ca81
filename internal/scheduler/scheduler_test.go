package scheduler

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnqueue_IdempotentByGoal(t *testing.T) {
	s := New("")
	id1, err := s.Enqueue("build the thing", 5, 100, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := s.Enqueue("build the thing", 1, 200, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Errorf("expected duplicate goal to be dropped, got distinct ids %s != %s", id1, id2)
	}
	if len(s.Pending()) != 1 {
		t.Errorf("expected exactly one pending task, got %d", len(s.Pending()))
	}
}

func TestDequeue_OrdersByAscendingPriorityThenCreatedAt(t *testing.T) {
	s := New("")
	s.Enqueue("low priority", 10, 100, nil)
	s.Enqueue("high priority", 1, 200, nil)
	s.Enqueue("same priority earlier", 1, 50, nil)

	first, ok, err := s.Dequeue()
	if err != nil || !ok {
		t.Fatalf("dequeue failed: ok=%v err=%v", ok, err)
	}
	if first.Goal != "same priority earlier" {
		t.Errorf("expected tie-break by earliest createdAt, got %q", first.Goal)
	}

	second, ok, _ := s.Dequeue()
	if !ok || second.Goal != "high priority" {
		t.Errorf("expected 'high priority' next, got %q", second.Goal)
	}

	third, ok, _ := s.Dequeue()
	if !ok || third.Goal != "low priority" {
		t.Errorf("expected 'low priority' last, got %q", third.Goal)
	}
}

func TestDequeue_EmptyQueueReturnsFalse(t *testing.T) {
	s := New("")
	_, ok, err := s.Dequeue()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected ok=false on empty queue")
	}
}

func TestComplete_MovesToHistoryAndFreesGoal(t *testing.T) {
	s := New("")
	id, _ := s.Enqueue("goal", 1, 100, nil)
	task, _, _ := s.Dequeue()

	if err := s.Complete(task.ID, []string{"step1", "step2"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hist := s.History()
	if len(hist) != 1 || hist[0].ID != id || hist[0].Status != StatusDone {
		t.Fatalf("expected one done history entry, got %+v", hist)
	}
	if len(hist[0].Steps) != 2 {
		t.Errorf("expected steps recorded, got %v", hist[0].Steps)
	}

	// re-enqueuing the same goal should now succeed (not idempotent-blocked).
	newID, err := s.Enqueue("goal", 1, 500, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if newID == id {
		t.Error("expected a fresh task id after the original completed")
	}
}

func TestFail_RecordsErrorInHistory(t *testing.T) {
	s := New("")
	s.Enqueue("goal", 1, 100, nil)
	task, _, _ := s.Dequeue()

	if err := s.Fail(task.ID, "boom"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hist := s.History()
	if hist[0].Status != StatusFailed || hist[0].Error != "boom" {
		t.Fatalf("expected failed history entry with error, got %+v", hist[0])
	}
}

func TestPrioritize_ReordersPendingQueue(t *testing.T) {
	s := New("")
	s.Enqueue("first", 1, 100, nil)
	idSecond, _ := s.Enqueue("second", 10, 200, nil)

	if err := s.Prioritize(idSecond, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, _, _ := s.Dequeue()
	if first.Goal != "second" {
		t.Errorf("expected reprioritized task to dequeue first, got %q", first.Goal)
	}
}

func TestLoad_CrashRecoveryResetsRunningToPending(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scheduler.json")

	s1 := New(path)
	s1.Enqueue("goal", 1, 100, nil)
	s1.Dequeue() // now running, persisted

	s2 := New(path)
	if err := s2.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pending := s2.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected the running task reset to pending, got %d pending", len(pending))
	}
	if pending[0].Status != StatusPending {
		t.Errorf("expected status reset to pending, got %s", pending[0].Status)
	}
}

func TestLoad_MissingFileIsSilent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err := s.Load(); err != nil {
		t.Fatalf("expected nil error for missing file, got %v", err)
	}
}

func TestPersist_AtomicRenameLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scheduler.json")
	s := New(path)
	s.Enqueue("goal", 1, 100, nil)

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("expected no leftover .tmp file, stat err=%v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected persisted file to exist: %v", err)
	}
}
