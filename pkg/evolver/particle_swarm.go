package evolver

import (
	"math/rand"

	"github.com/alvtron/pbtgo/pkg/checkpoint"
	"github.com/alvtron/pbtgo/pkg/hyperparam"
	"gonum.org/v1/gonum/floats"
)

// particleState tracks the velocity and personal-best a member carries
// across generations, addressed by member id since a ParticleSwarm
// instance outlives any single Population value.
type particleState struct {
	velocity   []float64
	bestCoords []float64
	bestScore  float64
	haveBest   bool
}

// ParticleSwarm updates every member's hyperparameter coordinates as a
// particle in normalized space: velocity blends inertia, pull toward
// the particle's own best position, and pull toward the swarm's best.
type ParticleSwarm struct {
	Metric Metric

	// Inertia, Cognition and Social are the w, c1, c2 weights in the
	// velocity update.
	Inertia, Cognition, Social float64

	states map[int]*particleState
}

// NewParticleSwarm builds a ParticleSwarm with the given update
// weights.
func NewParticleSwarm(metric Metric, inertia, cognition, social float64) *ParticleSwarm {
	return &ParticleSwarm{
		Metric:    metric,
		Inertia:   inertia,
		Cognition: cognition,
		Social:    social,
		states:    make(map[int]*particleState),
	}
}

// Initialize seeds populationSize members sharing prototype's search
// space and a zero initial velocity per particle.
func (p *ParticleSwarm) Initialize(populationSize int, prototype *checkpoint.Checkpoint, rng *rand.Rand) (Population, error) {
	pop := make(Population, populationSize)
	for i := range pop {
		pop[i] = cloneWithSampledHyperparameters(i, prototype, rng)
		p.states[i] = &particleState{velocity: make([]float64, prototype.Hyperparameters.Len())}
	}
	return pop, nil
}

// OnGeneration recomputes the global best from the current Population,
// then for every member: updates its personal best if it improved,
// updates velocity from inertia/cognition/social pull vectors, and
// moves the member by its new velocity with the constraint re-applied
// per coordinate. evaluate is never called: every member was already
// scored by the caller's training step before this is invoked.
func (p *ParticleSwarm) OnGeneration(pop Population, evaluate EvaluateFunc, generation, step int, rng *rand.Rand) (Population, error) {
	ranked, err := rank(pop, p.Metric)
	if err != nil {
		return nil, err
	}
	globalCoords := coordsOf(ranked[0].member.Hyperparameters.All())

	next := make(Population, len(pop))
	for i, m := range pop {
		score, err := p.Metric.value(m)
		if err != nil {
			return nil, err
		}
		state, ok := p.states[m.ID]
		if !ok {
			state = &particleState{velocity: make([]float64, m.Hyperparameters.Len())}
			p.states[m.ID] = state
		}

		coords := coordsOf(m.Hyperparameters.All())
		if !state.haveBest || p.Metric.better(score, state.bestScore) {
			state.bestScore = score
			state.bestCoords = append([]float64(nil), coords...)
			state.haveBest = true
		}

		personalPull := make([]float64, len(coords))
		floats.SubTo(personalPull, state.bestCoords, coords)
		socialPull := make([]float64, len(coords))
		floats.SubTo(socialPull, globalCoords, coords)

		updated := m.Hyperparameters.Clone()
		hps := updated.All()
		for j, h := range hps {
			r1, r2 := rng.Float64(), rng.Float64()
			v := p.Inertia*state.velocity[j] + p.Cognition*r1*personalPull[j] + p.Social*r2*socialPull[j]
			state.velocity[j] = v
			if err := h.SetNormalized(coords[j] + v); err != nil {
				return nil, err
			}
		}

		moved := m.Clone(m.ID)
		moved.ParentID = nil
		moved.Hyperparameters = updated
		next[i] = moved
	}
	return next, nil
}

func coordsOf(hps []*hyperparam.Hyperparameter) []float64 {
	out := make([]float64, len(hps))
	for i, h := range hps {
		out[i] = h.Normalized()
	}
	return out
}
