package evolver

import (
	"math/rand"
	"testing"

	"github.com/alvtron/pbtgo/pkg/checkpoint"
	"github.com/alvtron/pbtgo/pkg/hyperparam"
)

func buildPrototype(t *testing.T) *checkpoint.Checkpoint {
	t.Helper()
	hs := hyperparam.New()
	lr, err := hyperparam.NewContinuousValue(1e-6, 1e-2, 1e-3, "clip")
	if err != nil {
		t.Fatalf("NewContinuousValue: %v", err)
	}
	dropout, err := hyperparam.NewContinuousValue(0, 1, 0.5, "clip")
	if err != nil {
		t.Fatalf("NewContinuousValue: %v", err)
	}
	if err := hs.AddGroup("optimizer_params", []string{"lr"}, map[string]*hyperparam.Hyperparameter{"lr": lr}); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	if err := hs.AddGroup("model_params", []string{"dropout"}, map[string]*hyperparam.Hyperparameter{"dropout": dropout}); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	return checkpoint.New(0, hs)
}

func scoredPopulation(t *testing.T, prototype *checkpoint.Checkpoint, rng *rand.Rand, n int, scores []float64) Population {
	t.Helper()
	pop := make(Population, n)
	for i := 0; i < n; i++ {
		pop[i] = cloneWithSampledHyperparameters(i, prototype, rng)
		pop[i].RecordLoss(checkpoint.SplitEval, "loss", scores[i])
	}
	return pop
}

var lowerIsBetter = Metric{Split: checkpoint.SplitEval, Name: "loss", Higher: false}

func TestRankOrdersLowerIsBetter(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	prototype := buildPrototype(t)
	pop := scoredPopulation(t, prototype, rng, 4, []float64{0.4, 0.1, 0.9, 0.2})

	ranked, err := rank(pop, lowerIsBetter)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	want := []int{1, 3, 0, 2}
	for i, id := range want {
		if ranked[i].member.ID != id {
			t.Fatalf("ranked[%d].ID = %d, want %d", i, ranked[i].member.ID, id)
		}
	}
}

func TestRankFailsWithoutEvalLoss(t *testing.T) {
	prototype := buildPrototype(t)
	pop := Population{checkpoint.New(0, prototype.Hyperparameters.Clone())}
	if _, err := rank(pop, lowerIsBetter); err == nil {
		t.Fatal("expected error ranking a member with no recorded eval loss")
	}
}
