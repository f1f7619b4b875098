package evolver

import (
	"fmt"
	"math/rand"

	"github.com/alvtron/pbtgo/pkg/checkpoint"
	"github.com/alvtron/pbtgo/pkg/hyperparam"
)

// DifferentialEvolution implements DE/rand/1/bin: for each target
// member, a mutant is formed from three other distinct members'
// normalized coordinates, crossed over with the target to form a
// trial, and the trial replaces the target only if it scores strictly
// better once evaluated (a tie keeps the target).
type DifferentialEvolution struct {
	Metric Metric

	// F is the mutation scale applied to the differential vector.
	F float64

	// Cr is the crossover rate: the probability a given coordinate is
	// taken from the mutant rather than the target.
	Cr float64
}

// NewDifferentialEvolution validates F and Cr against the ranges the
// algorithm assumes.
func NewDifferentialEvolution(metric Metric, f, cr float64) (*DifferentialEvolution, error) {
	if f < 0 || f > 2 {
		return nil, fmt.Errorf("evolver: F must be in [0,2], got %v", f)
	}
	if cr < 0 || cr > 1 {
		return nil, fmt.Errorf("evolver: Cr must be in [0,1], got %v", cr)
	}
	return &DifferentialEvolution{Metric: metric, F: f, Cr: cr}, nil
}

// Initialize seeds populationSize members sharing prototype's search
// space, each with an independently sampled starting coordinate.
func (d *DifferentialEvolution) Initialize(populationSize int, prototype *checkpoint.Checkpoint, rng *rand.Rand) (Population, error) {
	if populationSize < 4 {
		return nil, fmt.Errorf("evolver: differential evolution requires at least 4 members, got %d", populationSize)
	}
	pop := make(Population, populationSize)
	for i := range pop {
		pop[i] = cloneWithSampledHyperparameters(i, prototype, rng)
	}
	return pop, nil
}

// OnGeneration forms and evaluates one trial per target member,
// keeping whichever of trial/target has the better score. Acceptance
// is monotone: a member's score this generation is never worse than
// its score entering it.
func (d *DifferentialEvolution) OnGeneration(pop Population, evaluate EvaluateFunc, generation, step int, rng *rand.Rand) (Population, error) {
	if evaluate == nil {
		return nil, fmt.Errorf("evolver: differential evolution requires an evaluate function")
	}
	n := len(pop)
	if n < 4 {
		return nil, fmt.Errorf("evolver: differential evolution requires at least 4 members, got %d", n)
	}

	next := make(Population, n)
	for i, target := range pop {
		a, b, c := distinctTriple(n, i, rng)
		trial, err := d.makeTrial(target, pop[a], pop[b], pop[c], rng)
		if err != nil {
			return nil, err
		}

		trialScore, err := evaluate(trial)
		if err != nil {
			return nil, err
		}
		targetScore, err := d.Metric.value(target)
		if err != nil {
			return nil, err
		}

		if d.Metric.better(trialScore, targetScore) {
			trial.RecordLoss(d.Metric.Split, d.Metric.Name, trialScore)
			next[i] = trial
		} else {
			next[i] = target
		}
	}
	return next, nil
}

// makeTrial builds the DE/rand/1/bin candidate: mutant v = a + F*(b-c)
// in normalized space (constraint re-applied per coordinate), crossed
// with target under Cr, forcing at least one coordinate from v so the
// trial never degenerates to a pure copy of target. The trial inherits
// target's weights/optimizer state; only its hyperparameters change.
func (d *DifferentialEvolution) makeTrial(target, a, b, c *checkpoint.Checkpoint, rng *rand.Rand) (*checkpoint.Checkpoint, error) {
	trial := target.Clone(target.ID)
	trial.Loss = map[checkpoint.Split]map[string]float64{}
	trial.ParentID = nil

	xs := target.Hyperparameters.All()
	as, bs, cs := a.Hyperparameters.All(), b.Hyperparameters.All(), c.Hyperparameters.All()
	ts := trial.Hyperparameters.All()

	forced := rng.Intn(len(xs))
	for j := range xs {
		mutant, err := mutate(as[j], bs[j], cs[j], d.F)
		if err != nil {
			return nil, err
		}
		var setErr error
		if j == forced || rng.Float64() < d.Cr {
			setErr = ts[j].SetNormalized(mutant.Normalized())
		} else {
			setErr = ts[j].SetNormalized(xs[j].Normalized())
		}
		if setErr != nil {
			return nil, setErr
		}
	}
	return trial, nil
}

// mutate computes a + F*(b-c) in normalized space for one coordinate.
// The constraint is applied to the mutant only, so a negative b-c is
// kept rather than clipped before it is scaled.
func mutate(a, b, c *hyperparam.Hyperparameter, f float64) (*hyperparam.Hyperparameter, error) {
	if !a.EqualSearchSpace(b) || !a.EqualSearchSpace(c) {
		return nil, fmt.Errorf("%w: mutation operands have unequal search spaces", hyperparam.ErrIncompatibleSpace)
	}
	mutant := a.Clone()
	if err := mutant.SetNormalized(a.Normalized() + f*(b.Normalized()-c.Normalized())); err != nil {
		return nil, err
	}
	return mutant, nil
}

// distinctTriple draws three distinct indices, all different from
// exclude, uniformly without replacement.
func distinctTriple(n, exclude int, rng *rand.Rand) (a, b, c int) {
	pick := func(taken map[int]bool) int {
		for {
			i := rng.Intn(n)
			if i != exclude && !taken[i] {
				return i
			}
		}
	}
	taken := map[int]bool{}
	a = pick(taken)
	taken[a] = true
	b = pick(taken)
	taken[b] = true
	c = pick(taken)
	return a, b, c
}
