// Package evolver implements the Evolver family: pluggable population
// update strategies a Controller invokes once per generation. Each
// evolver owns its own notion of fitness comparison and may call back
// into a fitness evaluation function zero or more times while deciding
// the next Population.
package evolver

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/alvtron/pbtgo/pkg/checkpoint"
)

// ErrMissingEvalLoss is returned when an evolver is asked to rank a
// member that has not yet recorded an eval-split loss.
var ErrMissingEvalLoss = errors.New("evolver: member has no eval loss recorded")

// Population is the set of members an Evolver ranks and mutates each
// generation, addressed by member id.
type Population []*checkpoint.Checkpoint

// EvaluateFunc re-evaluates a trial member's fitness, used by evolvers
// that must score a mutated candidate before deciding whether to keep
// it (Differential Evolution) rather than mutating blindly (Exploit
// and Explore). It returns the evaluated eval-split loss.
type EvaluateFunc func(trial *checkpoint.Checkpoint) (float64, error)

// Evolver is the shared contract every population-update strategy
// implements.
type Evolver interface {
	// Initialize seeds a fresh Population of populationSize members,
	// each cloning prototype's hyperparameter search space but drawing
	// its own random coordinate.
	Initialize(populationSize int, prototype *checkpoint.Checkpoint, rng *rand.Rand) (Population, error)

	// OnGeneration computes the next Population from the current one.
	// evaluate may be called zero or more times for algorithms that
	// score trial candidates before committing to them.
	OnGeneration(pop Population, evaluate EvaluateFunc, generation, step int, rng *rand.Rand) (Population, error)
}

// Metric and Split name the loss entry every evolver ranks members on.
// Evolvers are metric-agnostic; the Controller configures which split
// and metric key to compare.
type Metric struct {
	Split  checkpoint.Split
	Name   string
	Higher bool // true if a higher value is a better score
}

func (m Metric) value(c *checkpoint.Checkpoint) (float64, error) {
	v, ok := c.Metric(m.Split, m.Name)
	if !ok {
		return 0, fmt.Errorf("%w: member %d, split %q, metric %q", ErrMissingEvalLoss, c.ID, m.Split, m.Name)
	}
	return v, nil
}

// better reports whether a's score beats b's score under this metric.
func (m Metric) better(a, b float64) bool {
	if m.Higher {
		return a > b
	}
	return a < b
}

// rankedMember pairs a checkpoint with its resolved score for a single
// ranking pass.
type rankedMember struct {
	member *checkpoint.Checkpoint
	score  float64
}

// rank sorts pop best-first under metric, breaking ties by ascending
// member id for determinism across runs.
func rank(pop Population, metric Metric) ([]rankedMember, error) {
	ranked := make([]rankedMember, 0, len(pop))
	for _, m := range pop {
		score, err := metric.value(m)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, rankedMember{member: m, score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score == ranked[j].score {
			return ranked[i].member.ID < ranked[j].member.ID
		}
		return metric.better(ranked[i].score, ranked[j].score)
	})
	return ranked, nil
}

// cloneWithSampledHyperparameters builds one fresh population member:
// a copy of prototype's search space with every coordinate redrawn.
func cloneWithSampledHyperparameters(id int, prototype *checkpoint.Checkpoint, rng *rand.Rand) *checkpoint.Checkpoint {
	hp := prototype.Hyperparameters.Clone()
	for _, h := range hp.All() {
		h.SampleUniform(rng)
	}
	c := checkpoint.New(id, hp)
	return c
}
