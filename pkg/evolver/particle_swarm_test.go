package evolver

import (
	"math/rand"
	"testing"

	"github.com/alvtron/pbtgo/pkg/checkpoint"
)

func TestParticleSwarmInitializeSeedsZeroVelocity(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	prototype := buildPrototype(t)
	ps := NewParticleSwarm(lowerIsBetter, 0.7, 1.5, 1.5)

	pop, err := ps.Initialize(6, prototype, rng)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if len(pop) != 6 {
		t.Fatalf("len(pop) = %d, want 6", len(pop))
	}
	for i := range pop {
		state := ps.states[i]
		if state == nil {
			t.Fatalf("missing particle state for member %d", i)
		}
		for _, v := range state.velocity {
			if v != 0 {
				t.Fatalf("initial velocity must be zero, got %v", v)
			}
		}
	}
}

func TestParticleSwarmUpdatesPersonalBest(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	prototype := buildPrototype(t)
	ps := NewParticleSwarm(lowerIsBetter, 0.7, 1.5, 1.5)

	pop, err := ps.Initialize(4, prototype, rng)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	for i, m := range pop {
		m.RecordLoss(checkpoint.SplitEval, "loss", float64(i)+1.0)
	}
	if _, err := ps.OnGeneration(pop, nil, 0, 0, rng); err != nil {
		t.Fatalf("OnGeneration: %v", err)
	}
	for i := range pop {
		state := ps.states[i]
		if !state.haveBest {
			t.Fatalf("member %d should have a personal best after one generation", i)
		}
		if state.bestScore != float64(i)+1.0 {
			t.Fatalf("member %d bestScore = %v, want %v", i, state.bestScore, float64(i)+1.0)
		}
	}
}

func TestParticleSwarmPreservesPopulationSize(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	prototype := buildPrototype(t)
	ps := NewParticleSwarm(lowerIsBetter, 0.7, 1.5, 1.5)

	pop, err := ps.Initialize(8, prototype, rng)
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	for i, m := range pop {
		m.RecordLoss(checkpoint.SplitEval, "loss", float64(8-i))
	}
	next, err := ps.OnGeneration(pop, nil, 0, 0, rng)
	if err != nil {
		t.Fatalf("OnGeneration: %v", err)
	}
	if len(next) != len(pop) {
		t.Fatalf("len(next) = %d, want %d", len(next), len(pop))
	}
}
