package karmastore

import (
	"context"
	"testing"
)

func TestSave_MergesOnDuplicateProverb(t *testing.T) {
	s := New("", nil)
	ctx := context.Background()

	id1, err := s.Save(ctx, &KarmaEntry{Proverb: "haste makes waste", Condition: "rushed edits", TransferWeight: 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := s.Save(ctx, &KarmaEntry{Proverb: "haste makes waste", Condition: "rushed edits again", TransferWeight: 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected merge into same id, got %q and %q", id1, id2)
	}

	e, ok := s.Get(id1)
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if e.Occurrences != 2 {
		t.Errorf("occurrences = %d, want 2", e.Occurrences)
	}
	if e.TransferWeight != 0.6 {
		t.Errorf("transferWeight = %v, want 0.6", e.TransferWeight)
	}
	if len(s.List()) != 1 {
		t.Errorf("expected exactly one entry after merge, got %d", len(s.List()))
	}
}

func TestSave_CapsTransferWeightAtOne(t *testing.T) {
	s := New("", nil)
	ctx := context.Background()

	id, _ := s.Save(ctx, &KarmaEntry{Proverb: "p", TransferWeight: 0.95})
	s.Save(ctx, &KarmaEntry{Proverb: "p", TransferWeight: 0.95})

	e, _ := s.Get(id)
	if e.TransferWeight != 1.0 {
		t.Errorf("transferWeight = %v, want 1.0 (capped)", e.TransferWeight)
	}
}

func TestApplyImpermanence_DecaysAndEvicts(t *testing.T) {
	s := New("", nil)
	ctx := context.Background()

	s.Save(ctx, &KarmaEntry{Proverb: "survives", TransferWeight: 0.5})
	s.Save(ctx, &KarmaEntry{Proverb: "evicted", TransferWeight: 0.2})

	if err := s.ApplyImpermanence(ctx, 0.3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	remaining := s.List()
	if len(remaining) != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", len(remaining))
	}
	if remaining[0].Proverb != "survives" {
		t.Errorf("unexpected survivor: %q", remaining[0].Proverb)
	}
	if remaining[0].TransferWeight != 0.2 {
		t.Errorf("transferWeight = %v, want 0.2 (0.5 - 0.3)", remaining[0].TransferWeight)
	}
	for _, e := range remaining {
		if e.TransferWeight <= 0 {
			t.Errorf("surviving entry %q has non-positive weight %v", e.Proverb, e.TransferWeight)
		}
	}
}

func TestTraceCausalChain_OrderedAndUnknownRoot(t *testing.T) {
	s := New("", nil)
	ctx := context.Background()

	rootID, _ := s.Save(ctx, &KarmaEntry{ID: "root", Proverb: "root proverb", TransferWeight: 0.5})
	effect1ID, _ := s.Save(ctx, &KarmaEntry{ID: "effect1", Proverb: "effect1 proverb", TransferWeight: 0.5, CausalChain: []string{rootID}})
	s.Save(ctx, &KarmaEntry{ID: "effect2", Proverb: "effect2 proverb", TransferWeight: 0.5, CausalChain: []string{rootID, effect1ID}})

	chain := s.TraceCausalChain("effect2")
	if len(chain) != 2 {
		t.Fatalf("expected chain length 2, got %d", len(chain))
	}
	if chain[0].ID != "root" || chain[1].ID != "effect1" {
		t.Errorf("unexpected chain order: %v, %v", chain[0].ID, chain[1].ID)
	}

	if chain := s.TraceCausalChain("unknown"); chain != nil {
		t.Errorf("expected nil chain for unknown root, got %v", chain)
	}
}

func TestTraceCausalChain_SkipsSelfReference(t *testing.T) {
	s := New("", nil)
	ctx := context.Background()
	s.Save(ctx, &KarmaEntry{ID: "loop", Proverb: "loopy", TransferWeight: 0.5, CausalChain: []string{"loop"}})

	chain := s.TraceCausalChain("loop")
	if len(chain) != 0 {
		t.Errorf("expected self-reference to be skipped, got %d entries", len(chain))
	}
}

func TestHabitualPatterns(t *testing.T) {
	s := New("", nil)
	ctx := context.Background()
	s.Save(ctx, &KarmaEntry{Proverb: "a", TransferWeight: 0.5})
	s.Save(ctx, &KarmaEntry{Proverb: "a", TransferWeight: 0.5}) // occurrences = 2
	s.Save(ctx, &KarmaEntry{Proverb: "b", TransferWeight: 0.5}) // occurrences = 1

	patterns := s.HabitualPatterns(2)
	if len(patterns) != 1 || patterns[0].Proverb != "a" {
		t.Errorf("expected only %q to qualify, got %v", "a", patterns)
	}
}
