// Package checkpoint defines the per-member record the Controller,
// Evolver family and Checkpoint Database all operate on.
package checkpoint

import (
	"fmt"

	"github.com/alvtron/pbtgo/pkg/hyperparam"
)

// Split names which data split a loss entry was computed on. Kept as
// three distinct values rather than collapsed into train/eval (the
// separate evaluator and tester callables each write a
// different split).
type Split string

const (
	SplitTrain Split = "train"
	SplitEval  Split = "eval"
	SplitTest  Split = "test"
)

// Checkpoint is one member's state at a point in training: its id,
// position in the schedule, current hyperparameters, loss history per
// split, and a handle to its persisted model/optimizer state.
type Checkpoint struct {
	ID         int
	Generation int
	Steps      int
	Epochs     int

	Hyperparameters *hyperparam.Hyperparameters

	// Loss maps split -> metric name -> value. A split key is only
	// present once a Trainer/Evaluator has written to it.
	Loss map[Split]map[string]float64

	// StateRef is an opaque handle resolved by the injected
	// StateReader/StateWriter pair (pkg/persistence); it never dictates
	// a tensor format.
	StateRef string

	// ParentID is set when this member's state and hyperparameters were
	// copied from another member by an Evolver's exploit step.
	ParentID *int
}

// New returns a fresh Checkpoint at generation 0, step 0, with no loss
// history yet recorded.
func New(id int, hp *hyperparam.Hyperparameters) *Checkpoint {
	return &Checkpoint{
		ID:              id,
		Hyperparameters: hp,
		Loss:            make(map[Split]map[string]float64),
	}
}

// RecordLoss stores a metric value for the given split, creating the
// split's metric map on first use.
func (c *Checkpoint) RecordLoss(split Split, metric string, value float64) {
	m, ok := c.Loss[split]
	if !ok {
		m = make(map[string]float64)
		c.Loss[split] = m
	}
	m[metric] = value
}

// Metric returns a previously recorded metric value, or ok=false if the
// split or metric was never written.
func (c *Checkpoint) Metric(split Split, metric string) (float64, bool) {
	m, ok := c.Loss[split]
	if !ok {
		return 0, false
	}
	v, ok := m[metric]
	return v, ok
}

// HasEvalLoss reports whether loss['eval'] is present, the precondition
// an Evolver requires before it may rank or mutate this member.
func (c *Checkpoint) HasEvalLoss() bool {
	m, ok := c.Loss[SplitEval]
	return ok && len(m) > 0
}

// Clone returns a deep copy suitable for an exploit step: a new
// Checkpoint with its own Hyperparameters and loss maps, its ParentID
// set to the source member's id.
func (c *Checkpoint) Clone(newID int) *Checkpoint {
	clone := &Checkpoint{
		ID:              newID,
		Generation:      c.Generation,
		Steps:           c.Steps,
		Epochs:          c.Epochs,
		Hyperparameters: c.Hyperparameters.Clone(),
		Loss:            make(map[Split]map[string]float64, len(c.Loss)),
		StateRef:        c.StateRef,
	}
	for split, metrics := range c.Loss {
		cm := make(map[string]float64, len(metrics))
		for k, v := range metrics {
			cm[k] = v
		}
		clone.Loss[split] = cm
	}
	parent := c.ID
	clone.ParentID = &parent
	return clone
}

// Validate checks the invariants a Checkpoint must satisfy before the
// Database accepts it: non-negative counters and a non-nil
// Hyperparameters collection.
func (c *Checkpoint) Validate() error {
	if c.Hyperparameters == nil {
		return fmt.Errorf("checkpoint %d: hyperparameters must not be nil", c.ID)
	}
	if c.Steps < 0 || c.Generation < 0 || c.Epochs < 0 {
		return fmt.Errorf("checkpoint %d: counters must be non-negative (steps=%d generation=%d epochs=%d)",
			c.ID, c.Steps, c.Generation, c.Epochs)
	}
	return nil
}
