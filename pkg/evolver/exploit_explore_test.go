package evolver

import (
	"math/rand"
	"testing"

	"github.com/alvtron/pbtgo/pkg/checkpoint"
)

func TestNewExploitAndExploreRejectsBadFactor(t *testing.T) {
	if _, err := NewExploitAndExplore(lowerIsBetter, 0, 0.8, 1.2, false); err == nil {
		t.Fatal("expected error for exploit_factor = 0")
	}
	if _, err := NewExploitAndExplore(lowerIsBetter, 1, 0.8, 1.2, false); err == nil {
		t.Fatal("expected error for exploit_factor = 1")
	}
	if _, err := NewExploitAndExplore(lowerIsBetter, 0.2, 1.2, 0.8, false); err == nil {
		t.Fatal("expected error when explore low > high")
	}
}

func TestExploitAndExplorePreservesPopulationSize(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	prototype := buildPrototype(t)
	ev, err := NewExploitAndExplore(lowerIsBetter, 0.2, 0.8, 1.2, false)
	if err != nil {
		t.Fatalf("NewExploitAndExplore: %v", err)
	}

	pop := scoredPopulation(t, prototype, rng, 10, []float64{0.9, 0.1, 0.5, 0.95, 0.2, 0.8, 0.05, 0.7, 0.6, 0.85})
	next, err := ev.OnGeneration(pop, nil, 0, 0, rng)
	if err != nil {
		t.Fatalf("OnGeneration: %v", err)
	}
	if len(next) != len(pop) {
		t.Fatalf("len(next) = %d, want %d", len(next), len(pop))
	}
}

func TestExploitAndExploreBottomMembersInheritFromTop(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	prototype := buildPrototype(t)
	ev, err := NewExploitAndExplore(lowerIsBetter, 0.2, 1.0, 1.0, false)
	if err != nil {
		t.Fatalf("NewExploitAndExplore: %v", err)
	}

	// Member 9 is by far the worst; it must exploit one of the best.
	pop := scoredPopulation(t, prototype, rng, 10, []float64{0.5, 0.1, 0.5, 0.5, 0.2, 0.5, 0.05, 0.5, 0.5, 100.0})
	next, err := ev.OnGeneration(pop, nil, 0, 0, rng)
	if err != nil {
		t.Fatalf("OnGeneration: %v", err)
	}

	var worst *checkpoint.Checkpoint
	for _, m := range next {
		if m.ID == 9 {
			worst = m
		}
	}
	if worst == nil {
		t.Fatal("member 9 missing from next population")
	}
	if worst.ParentID == nil {
		t.Fatal("exploited member should have a ParentID set")
	}
	if *worst.ParentID != 1 && *worst.ParentID != 6 {
		t.Fatalf("member 9 exploited from unexpected donor %d", *worst.ParentID)
	}
}

func TestExploitAndExploreTopMembersPassThrough(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	prototype := buildPrototype(t)
	ev, err := NewExploitAndExplore(lowerIsBetter, 0.2, 0.8, 1.2, false)
	if err != nil {
		t.Fatalf("NewExploitAndExplore: %v", err)
	}

	pop := scoredPopulation(t, prototype, rng, 10, []float64{0.5, 0.1, 0.5, 0.5, 0.2, 0.5, 0.05, 0.5, 0.5, 0.9})
	next, err := ev.OnGeneration(pop, nil, 0, 0, rng)
	if err != nil {
		t.Fatalf("OnGeneration: %v", err)
	}
	for _, m := range next {
		if m.ID == 6 && m.ParentID != nil {
			t.Fatal("best-ranked member should pass through without a ParentID")
		}
	}
}
