package failurestore

import (
	"context"
	"testing"
)

func TestSave_TracksCurrentSession(t *testing.T) {
	s := New("", nil)
	ctx := context.Background()

	s.Save(ctx, &FailureEntry{ID: "1", Proverb: "measure twice", Condition: "before cutting"})
	s.Save(ctx, &FailureEntry{ID: "2", Proverb: "don't rush", Condition: "under pressure"})

	current := s.ExportCurrent()
	if len(current) != 2 {
		t.Fatalf("expected 2 current-session entries, got %d", len(current))
	}

	s.ClearCurrentSession()
	if len(s.ExportCurrent()) != 0 {
		t.Error("expected current session to be empty after clear")
	}
	// persisted store is unaffected by clearing the session view
	if len(s.List()) != 2 {
		t.Errorf("expected persisted list to retain 2 entries, got %d", len(s.List()))
	}
}

func TestSave_DefaultsSeverity(t *testing.T) {
	s := New("", nil)
	e := &FailureEntry{ID: "1", Proverb: "p", Condition: "c"}
	s.Save(context.Background(), e)
	if e.Severity != SeverityMedium {
		t.Errorf("expected default severity MED, got %q", e.Severity)
	}
}
