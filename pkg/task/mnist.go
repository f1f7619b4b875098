package task

import (
	"math/rand"

	"github.com/alvtron/pbtgo/pkg/hyperparam"
)

func init() {
	register(&Task{
		Name:           "mnist",
		HigherIsBetter: false,
		SearchSpace:    mnistSearchSpace,
		Trainer:        simulatedTrainer,
		Evaluator:      simulatedEvaluator,
	})
}

// mnistSearchSpace mirrors the digit-classifier hyperparameter space:
// five model regularization parameters plus a three-parameter SGD
// optimizer group.
func mnistSearchSpace(rng *rand.Rand) (*hyperparam.Hyperparameters, error) {
	hs := hyperparam.New()

	modelNames := []string{"dropout_rate_1", "dropout_rate_2", "prelu_alpha_1", "prelu_alpha_2", "prelu_alpha_3"}
	model := make(map[string]*hyperparam.Hyperparameter, len(modelNames))
	for _, name := range modelNames {
		hp, err := hyperparam.NewContinuous(0.0, 1.0, "clip", rng)
		if err != nil {
			return nil, err
		}
		model[name] = hp
	}
	if err := hs.AddGroup("model_params", modelNames, model); err != nil {
		return nil, err
	}

	lr, err := hyperparam.NewContinuous(1e-6, 1e-2, "clip", rng)
	if err != nil {
		return nil, err
	}
	momentum, err := hyperparam.NewContinuous(1e-1, 1e0, "clip", rng)
	if err != nil {
		return nil, err
	}
	nesterov, err := hyperparam.NewDiscrete([]any{false, true}, "clip", rng)
	if err != nil {
		return nil, err
	}
	optimizerNames := []string{"lr", "momentum", "nesterov"}
	optimizer := map[string]*hyperparam.Hyperparameter{
		"lr":       lr,
		"momentum": momentum,
		"nesterov": nesterov,
	}
	if err := hs.AddGroup("optimizer_params", optimizerNames, optimizer); err != nil {
		return nil, err
	}

	return hs, nil
}
