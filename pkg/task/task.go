// Package task defines the pluggable training objective a Controller
// drives: a named hyperparameter search space plus the Trainer and
// Evaluator callables invoked once per generation for every member.
package task

import (
	"fmt"
	"math/rand"

	"github.com/alvtron/pbtgo/pkg/checkpoint"
	"github.com/alvtron/pbtgo/pkg/hyperparam"
)

// Trainer advances a member by stepSize steps on device, mutating its
// Steps/Epochs counters and writing loss['train'] entries as it goes.
type Trainer func(c *checkpoint.Checkpoint, stepSize int, device string) error

// Evaluator scores a member on its held-out split, returning the value
// written to loss['eval'].
type Evaluator func(c *checkpoint.Checkpoint, device string) (float64, error)

// Task names a search space paired with the Trainer/Evaluator that
// operate over it.
type Task struct {
	Name           string
	HigherIsBetter bool
	SearchSpace    func(rng *rand.Rand) (*hyperparam.Hyperparameters, error)
	Trainer        Trainer
	Evaluator      Evaluator
}

// registry holds every Task known at startup, keyed by name.
var registry = map[string]*Task{}

func register(t *Task) {
	registry[t.Name] = t
}

// ErrUnknownTask is returned by Lookup for an unregistered task name.
var ErrUnknownTask = fmt.Errorf("task: unknown task")

// Lookup returns the registered Task by name.
func Lookup(name string) (*Task, error) {
	t, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return t, nil
}

// Names returns every registered task name.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}
