// Package controller drives the population based training generation
// loop: dispatch every member for training and evaluation through the
// Worker Pool, hand the survivors to an Evolver, persist the result,
// and check whether the run has met its end criteria.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"

	"github.com/alvtron/pbtgo/pkg/checkpoint"
	"github.com/alvtron/pbtgo/pkg/concurrency"
	"github.com/alvtron/pbtgo/pkg/evolver"
	"github.com/alvtron/pbtgo/pkg/persistence"
	"github.com/alvtron/pbtgo/pkg/task"
)

// State names a point in the per-generation state machine a Controller
// moves through: Idle -> Dispatched -> Collecting -> Evolving ->
// Persisted -> (Idle | Terminated).
type State int

const (
	StateIdle State = iota
	StateDispatched
	StateCollecting
	StateEvolving
	StatePersisted
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDispatched:
		return "dispatched"
	case StateCollecting:
		return "collecting"
	case StateEvolving:
		return "evolving"
	case StatePersisted:
		return "persisted"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MetricsSink receives observability callbacks as a run progresses.
// Callers that don't need custom observability can pass nil to get
// log-line defaults.
type MetricsSink interface {
	OnState(state State, generation int)
	OnGeneration(generation int, population evolver.Population, best *checkpoint.Checkpoint)
	OnTerminated(reason string, generation, steps int)
}

// logSink is the default MetricsSink: a line per generation, plus a
// line per state transition when verbose is set.
type logSink struct {
	verbose bool
}

func (l logSink) OnState(state State, generation int) {
	if !l.verbose {
		return
	}
	log.Printf("controller: generation %d -> %s", generation, state)
}

func (logSink) OnGeneration(generation int, population evolver.Population, best *checkpoint.Checkpoint) {
	if best == nil {
		log.Printf("controller: generation %d complete, population=%d, no member has a recorded eval metric", generation, len(population))
		return
	}
	log.Printf("controller: generation %d complete, population=%d, best member=%d", generation, len(population), best.ID)
}

func (logSink) OnTerminated(reason string, generation, steps int) {
	log.Printf("controller: terminated at generation %d (steps=%d): %s", generation, steps, reason)
}

// Config wires every dependency a Controller needs. All fields are
// required unless noted.
type Config struct {
	Task    *task.Task
	Evolver evolver.Evolver
	Pool    *concurrency.WorkerPool
	Store   *persistence.Store

	PopulationSize int
	StepSize       int
	MaxSteps       int
	MaxGenerations int
	ScoreTarget    float64
	MetricSplit    checkpoint.Split
	MetricName     string
	HigherIsBetter bool

	// Sink is optional; a logging default is used when nil.
	Sink MetricsSink

	// Verbose controls the default sink's state-transition log lines.
	// Ignored when Sink is set explicitly.
	Verbose bool

	// Rng seeds every RNG-dependent operation; a default source is used
	// when nil.
	Rng *rand.Rand
}

// Controller runs the generation loop described by Config until an end
// criterion is met or its context is canceled.
type Controller struct {
	cfg    Config
	metric evolver.Metric
	sink   MetricsSink
	rng    *rand.Rand

	state      State
	generation int
	steps      int
}

// New validates cfg and returns a ready-to-run Controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Task == nil {
		return nil, fmt.Errorf("controller: task must not be nil")
	}
	if cfg.Evolver == nil {
		return nil, fmt.Errorf("controller: evolver must not be nil")
	}
	if cfg.Pool == nil {
		return nil, fmt.Errorf("controller: pool must not be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("controller: store must not be nil")
	}
	if cfg.PopulationSize < 1 {
		return nil, fmt.Errorf("controller: population size must be >= 1")
	}
	if cfg.StepSize < 1 {
		return nil, fmt.Errorf("controller: step size must be >= 1")
	}
	if cfg.MaxSteps < 1 && cfg.MaxGenerations < 1 {
		return nil, fmt.Errorf("controller: at least one of max steps or max generations must be set")
	}

	sink := cfg.Sink
	if sink == nil {
		sink = logSink{verbose: cfg.Verbose}
	}
	rng := cfg.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	return &Controller{
		cfg:  cfg,
		sink: sink,
		rng:  rng,
		metric: evolver.Metric{
			Split:  cfg.MetricSplit,
			Name:   cfg.MetricName,
			Higher: cfg.HigherIsBetter,
		},
		state: StateIdle,
	}, nil
}

// State reports the controller's current point in the state machine.
func (ctl *Controller) State() State { return ctl.state }

// Generation reports the number of generations completed so far.
func (ctl *Controller) Generation() int { return ctl.generation }

// Steps reports the cumulative number of training steps completed so far.
func (ctl *Controller) Steps() int { return ctl.steps }

func (ctl *Controller) setState(s State) {
	ctl.state = s
	ctl.sink.OnState(s, ctl.generation)
}

// Run drives generations until an end criterion is met or ctx is
// canceled, returning the reason the run stopped (nil error on a clean
// end-criterion termination).
func (ctl *Controller) Run(ctx context.Context) error {
	prototypeSpace, err := ctl.cfg.Task.SearchSpace(ctl.rng)
	if err != nil {
		return fmt.Errorf("controller: building prototype search space: %w", err)
	}
	prototype := checkpoint.New(-1, prototypeSpace)

	pop, err := ctl.cfg.Evolver.Initialize(ctl.cfg.PopulationSize, prototype, ctl.rng)
	if err != nil {
		return fmt.Errorf("controller: initializing population: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pop, err = ctl.runGeneration(pop)
		if err != nil {
			ctl.setState(StateTerminated)
			return err
		}
		ctl.generation++

		best := bestMember(pop, ctl.metric)
		ctl.sink.OnGeneration(ctl.generation, pop, best)

		if done, reason := ctl.endCriteriaMet(pop, best); done {
			ctl.setState(StateTerminated)
			ctl.sink.OnTerminated(reason, ctl.generation, ctl.steps)
			return nil
		}

		ctl.setState(StateIdle)
	}
}

// runGeneration executes one full Idle->Persisted cycle and returns
// the survived, evolved population.
func (ctl *Controller) runGeneration(pop evolver.Population) (evolver.Population, error) {
	ctl.setState(StateDispatched)
	trials := make([]concurrency.TrialFunc, len(pop))
	for i, member := range pop {
		trials[i] = ctl.makeTrial(member)
	}

	values, failures, err := ctl.cfg.Pool.Imap(trials)
	for _, f := range failures {
		log.Printf("controller: generation %d: trial failed: %v", ctl.generation, f.Error())
	}
	if err != nil {
		if errors.Is(err, concurrency.ErrAllWorkersFailed) {
			return nil, fmt.Errorf("controller: %w", err)
		}
		var partial *concurrency.PartialFailureError
		if !errors.As(err, &partial) {
			return nil, err
		}
		log.Printf("controller: generation %d: %v, continuing with survivors", ctl.generation, partial)
	}

	ctl.setState(StateCollecting)
	survived := make(evolver.Population, 0, len(values))
	for _, v := range values {
		member, ok := v.(*checkpoint.Checkpoint)
		if !ok || member == nil {
			continue
		}
		survived = append(survived, member)
	}
	if len(survived) == 0 {
		return nil, fmt.Errorf("controller: generation %d: no member survived training", ctl.generation)
	}

	ctl.setState(StateEvolving)
	evaluate := ctl.makeEvaluate()
	evolved, err := ctl.cfg.Evolver.OnGeneration(survived, evaluate, ctl.generation, ctl.steps, ctl.rng)
	if err != nil {
		return nil, fmt.Errorf("controller: generation %d: evolver: %w", ctl.generation, err)
	}

	ctl.setState(StatePersisted)
	for _, member := range evolved {
		if err := ctl.cfg.Store.SaveEntry(member); err != nil {
			return nil, fmt.Errorf("controller: generation %d: persisting member %d: %w", ctl.generation, member.ID, err)
		}
	}

	ctl.steps += ctl.cfg.StepSize
	return evolved, nil
}

// makeTrial binds one member to a TrialFunc the Worker Pool can run:
// resume any durable state at least as far along as what's in memory, train for one
// step interval, then evaluate.
func (ctl *Controller) makeTrial(member *checkpoint.Checkpoint) concurrency.TrialFunc {
	return func(rng *rand.Rand, device string) (any, error) {
		if err := ctl.resumeState(member); err != nil {
			return nil, fmt.Errorf("member %d: resuming state: %w", member.ID, err)
		}
		if err := ctl.cfg.Task.Trainer(member, ctl.cfg.StepSize, device); err != nil {
			return nil, fmt.Errorf("member %d: training: %w", member.ID, err)
		}
		score, err := ctl.cfg.Task.Evaluator(member, device)
		if err != nil {
			return nil, fmt.Errorf("member %d: evaluating: %w", member.ID, err)
		}
		member.RecordLoss(ctl.metric.Split, ctl.metric.Name, score)
		return member, nil
	}
}

// resumeState loads the most recently persisted checkpoint for
// member.ID and adopts it in place of the in-memory state when it is
// at least as far along, tolerating a missing entry as long as the
// member has not yet completed its first training interval; any later
// miss is logged and training continues from the in-memory state.
func (ctl *Controller) resumeState(member *checkpoint.Checkpoint) error {
	persisted, err := ctl.cfg.Store.Latest(member.ID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			if member.Steps < ctl.cfg.StepSize {
				return nil
			}
			log.Printf("controller: member %d: no persisted state found at step %d, continuing from in-memory state", member.ID, member.Steps)
			return nil
		}
		return err
	}
	if persisted.Steps >= member.Steps {
		*member = *persisted
	}
	return nil
}

// makeEvaluate builds the EvaluateFunc an Evolver may call to score a
// candidate it has synthesized (Differential Evolution's trial
// members); it runs the same train-then-evaluate cycle a dispatched
// trial would, without going back through the Worker Pool.
func (ctl *Controller) makeEvaluate() evolver.EvaluateFunc {
	devices := ctl.cfg.Pool.Stats()["devices"].([]string)
	device := "cpu"
	if len(devices) > 0 {
		device = devices[0]
	}
	return func(trial *checkpoint.Checkpoint) (float64, error) {
		if err := ctl.cfg.Task.Trainer(trial, ctl.cfg.StepSize, device); err != nil {
			return 0, err
		}
		score, err := ctl.cfg.Task.Evaluator(trial, device)
		if err != nil {
			return 0, err
		}
		return score, nil
	}
}

// endCriteriaMet checks the three end criteria a run terminates on:
// cumulative steps, generation count, or a member reaching the score
// target.
func (ctl *Controller) endCriteriaMet(pop evolver.Population, best *checkpoint.Checkpoint) (bool, string) {
	if ctl.cfg.MaxSteps > 0 && ctl.steps >= ctl.cfg.MaxSteps {
		return true, fmt.Sprintf("steps %d reached max_steps %d", ctl.steps, ctl.cfg.MaxSteps)
	}
	if ctl.cfg.MaxGenerations > 0 && ctl.generation >= ctl.cfg.MaxGenerations {
		return true, fmt.Sprintf("generation %d reached max_generations %d", ctl.generation, ctl.cfg.MaxGenerations)
	}
	if best == nil {
		return false, ""
	}
	score, ok := best.Metric(ctl.metric.Split, ctl.metric.Name)
	if !ok {
		return false, ""
	}
	if ctl.metric.Higher && score >= ctl.cfg.ScoreTarget {
		return true, fmt.Sprintf("best score %v reached score_target %v", score, ctl.cfg.ScoreTarget)
	}
	if !ctl.metric.Higher && score <= ctl.cfg.ScoreTarget {
		return true, fmt.Sprintf("best score %v reached score_target %v", score, ctl.cfg.ScoreTarget)
	}
	return false, ""
}

// bestMember returns the population's best-ranked member by metric, or
// nil if no member has a recorded value for it.
func bestMember(pop evolver.Population, metric evolver.Metric) *checkpoint.Checkpoint {
	var best *checkpoint.Checkpoint
	var bestScore float64
	for _, m := range pop {
		score, ok := m.Metric(metric.Split, metric.Name)
		if !ok {
			continue
		}
		if best == nil {
			best, bestScore = m, score
			continue
		}
		if (metric.Higher && score > bestScore) || (!metric.Higher && score < bestScore) {
			best, bestScore = m, score
		}
	}
	return best
}
