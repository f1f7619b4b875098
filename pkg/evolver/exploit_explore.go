package evolver

import (
	"fmt"
	"math/rand"

	"github.com/alvtron/pbtgo/pkg/checkpoint"
	"github.com/alvtron/pbtgo/pkg/hyperparam"
)

// ExploitAndExplore implements truncation selection: the bottom
// exploit-fraction of the ranked population copies weights, optimizer
// state and hyperparameters from a uniformly sampled member in the top
// exploit-fraction, then perturbs every hyperparameter's normalized
// coordinate by a random multiplier. The remainder of the population
// passes through unchanged.
type ExploitAndExplore struct {
	Metric Metric

	// ExploitFactor is the truncation ratio applied to both ends of the
	// ranking: members in the bottom ExploitFactor fraction exploit a
	// member from the top ExploitFactor fraction.
	ExploitFactor float64

	// ExploreLow and ExploreHigh bound the uniform multiplier applied to
	// each perturbed hyperparameter's normalized coordinate.
	ExploreLow, ExploreHigh float64

	// RandomWalk perturbs with a symmetric additive walk instead of a
	// multiplicative draw from [ExploreLow, ExploreHigh].
	RandomWalk bool
}

// NewExploitAndExplore validates its parameters against the open
// interval and range constraints the algorithm assumes.
func NewExploitAndExplore(metric Metric, exploitFactor, exploreLow, exploreHigh float64, randomWalk bool) (*ExploitAndExplore, error) {
	if exploitFactor <= 0 || exploitFactor >= 1 {
		return nil, fmt.Errorf("evolver: exploit_factor must be in (0,1), got %v", exploitFactor)
	}
	if exploreLow > exploreHigh {
		return nil, fmt.Errorf("evolver: explore_factors low (%v) > high (%v)", exploreLow, exploreHigh)
	}
	return &ExploitAndExplore{
		Metric:        metric,
		ExploitFactor: exploitFactor,
		ExploreLow:    exploreLow,
		ExploreHigh:   exploreHigh,
		RandomWalk:    randomWalk,
	}, nil
}

// Initialize seeds populationSize members sharing prototype's search
// space, each with an independently sampled starting coordinate.
func (e *ExploitAndExplore) Initialize(populationSize int, prototype *checkpoint.Checkpoint, rng *rand.Rand) (Population, error) {
	pop := make(Population, populationSize)
	for i := range pop {
		pop[i] = cloneWithSampledHyperparameters(i, prototype, rng)
	}
	return pop, nil
}

// OnGeneration ranks pop by Metric, then for every member in the
// bottom ExploitFactor fraction: copies a uniformly sampled member from
// the top ExploitFactor fraction (weights, optimizer state via
// StateRef, and hyperparameters) and perturbs the copy's
// hyperparameters. evaluate is never called: the algorithm commits to
// its mutation without re-scoring the candidate.
func (e *ExploitAndExplore) OnGeneration(pop Population, evaluate EvaluateFunc, generation, step int, rng *rand.Rand) (Population, error) {
	ranked, err := rank(pop, e.Metric)
	if err != nil {
		return nil, err
	}

	n := len(ranked)
	cut := int(float64(n) * e.ExploitFactor)
	if cut < 1 {
		cut = 1
	}
	if cut > n/2 {
		cut = n / 2
	}
	top := ranked[:cut]
	bottom := ranked[n-cut:]

	next := make(Population, n)
	for i, r := range ranked {
		next[i] = r.member
	}

	bottomSet := make(map[int]bool, len(bottom))
	for _, r := range bottom {
		bottomSet[r.member.ID] = true
	}

	for i, m := range next {
		if !bottomSet[m.ID] {
			continue
		}
		donor := top[rng.Intn(len(top))].member
		exploited := donor.Clone(m.ID)
		if err := e.explore(exploited.Hyperparameters, rng); err != nil {
			return nil, err
		}
		next[i] = exploited
	}

	return next, nil
}

// explore perturbs every hyperparameter's normalized coordinate in
// place, re-applying its constraint via SetNormalized.
func (e *ExploitAndExplore) explore(hp *hyperparam.Hyperparameters, rng *rand.Rand) error {
	for _, h := range hp.All() {
		coord := h.Normalized()
		if e.RandomWalk {
			// Symmetric walk: step is +/- (high-low)/2 around 0.
			step := (rng.Float64()*2 - 1) * (e.ExploreHigh - e.ExploreLow) / 2
			coord += step
		} else {
			factor := e.ExploreLow + rng.Float64()*(e.ExploreHigh-e.ExploreLow)
			coord *= factor
		}
		if err := h.SetNormalized(coord); err != nil {
			return err
		}
	}
	return nil
}
