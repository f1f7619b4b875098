package checkpoint

import (
	"testing"

	"github.com/alvtron/pbtgo/pkg/hyperparam"
)

func buildHP(t *testing.T) *hyperparam.Hyperparameters {
	t.Helper()
	hs := hyperparam.New()
	lr, err := hyperparam.NewContinuousValue(1e-6, 1e-2, 1e-3, "clip")
	if err != nil {
		t.Fatalf("NewContinuousValue: %v", err)
	}
	if err := hs.AddGroup("optimizer_params", []string{"lr"}, map[string]*hyperparam.Hyperparameter{"lr": lr}); err != nil {
		t.Fatalf("AddGroup: %v", err)
	}
	return hs
}

func TestRecordAndReadLoss(t *testing.T) {
	c := New(1, buildHP(t))
	if c.HasEvalLoss() {
		t.Fatal("fresh checkpoint must not report eval loss")
	}
	c.RecordLoss(SplitTrain, "cross_entropy", 0.8)
	c.RecordLoss(SplitEval, "cross_entropy", 0.6)
	if !c.HasEvalLoss() {
		t.Fatal("expected HasEvalLoss true after recording eval loss")
	}
	got, ok := c.Metric(SplitEval, "cross_entropy")
	if !ok || got != 0.6 {
		t.Fatalf("Metric(eval) = (%v,%v), want (0.6,true)", got, ok)
	}
	if _, ok := c.Metric(SplitTest, "cross_entropy"); ok {
		t.Fatal("test split must not be populated")
	}
}

func TestCloneSetsParentIDAndIsIndependent(t *testing.T) {
	parent := New(1, buildHP(t))
	parent.RecordLoss(SplitEval, "loss", 0.5)
	parent.Steps = 10

	child := parent.Clone(2)
	if child.ParentID == nil || *child.ParentID != 1 {
		t.Fatalf("child.ParentID = %v, want pointer to 1", child.ParentID)
	}
	if child.ID != 2 {
		t.Fatalf("child.ID = %d, want 2", child.ID)
	}
	child.RecordLoss(SplitEval, "loss", 0.1)
	if got, _ := parent.Metric(SplitEval, "loss"); got != 0.5 {
		t.Fatalf("mutating child leaked into parent: parent loss = %v", got)
	}
}

func TestValidateRejectsNilHyperparameters(t *testing.T) {
	c := &Checkpoint{ID: 1}
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for nil Hyperparameters")
	}
}

func TestValidateRejectsNegativeCounters(t *testing.T) {
	c := New(1, buildHP(t))
	c.Steps = -1
	if err := c.Validate(); err == nil {
		t.Fatal("expected error for negative Steps")
	}
}
