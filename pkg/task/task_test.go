package task

import (
	"math/rand"
	"testing"

	"github.com/alvtron/pbtgo/pkg/checkpoint"
)

func TestLookupKnownTasks(t *testing.T) {
	for _, name := range []string{"mnist", "fraud"} {
		tk, err := Lookup(name)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
		if tk.Name != name {
			t.Fatalf("tk.Name = %q, want %q", tk.Name, name)
		}
	}
}

func TestLookupUnknownTask(t *testing.T) {
	if _, err := Lookup("does-not-exist"); err == nil {
		t.Fatal("expected error for unregistered task")
	}
}

func TestSearchSpaceBuildsExpectedGroups(t *testing.T) {
	tk, err := Lookup("mnist")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	rng := rand.New(rand.NewSource(1))
	hs, err := tk.SearchSpace(rng)
	if err != nil {
		t.Fatalf("SearchSpace: %v", err)
	}
	if hs.Len() != 8 {
		t.Fatalf("hs.Len() = %d, want 8", hs.Len())
	}
	if _, err := hs.Get("optimizer_params/lr"); err != nil {
		t.Fatalf("expected optimizer_params/lr to exist: %v", err)
	}
}

func TestSimulatedTrainingReducesLossOverSteps(t *testing.T) {
	tk, err := Lookup("mnist")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	rng := rand.New(rand.NewSource(2))
	hs, err := tk.SearchSpace(rng)
	if err != nil {
		t.Fatalf("SearchSpace: %v", err)
	}
	c := checkpoint.New(0, hs)

	first, err := tk.Evaluator(c, "cpu")
	if err != nil {
		t.Fatalf("Evaluator: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := tk.Trainer(c, 1000, "cpu"); err != nil {
			t.Fatalf("Trainer: %v", err)
		}
	}
	second, err := tk.Evaluator(c, "cpu")
	if err != nil {
		t.Fatalf("Evaluator: %v", err)
	}
	if second >= first {
		t.Fatalf("loss did not improve with training: before=%v after=%v", first, second)
	}
}
