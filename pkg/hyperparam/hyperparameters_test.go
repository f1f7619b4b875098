package hyperparam

import "testing"

func buildTestGroups(t *testing.T) *Hyperparameters {
	t.Helper()
	hs := New()
	lr, _ := NewContinuousValue(1e-6, 1e-2, 1e-3, "clip")
	momentum, _ := NewContinuousValue(0.1, 1.0, 0.9, "clip")
	if err := hs.AddGroup("optimizer_params", []string{"lr", "momentum"}, map[string]*Hyperparameter{
		"lr": lr, "momentum": momentum,
	}); err != nil {
		t.Fatalf("AddGroup optimizer_params: %v", err)
	}
	dropout, _ := NewContinuousValue(0.0, 1.0, 0.5, "clip")
	if err := hs.AddGroup("model_params", []string{"dropout_rate"}, map[string]*Hyperparameter{
		"dropout_rate": dropout,
	}); err != nil {
		t.Fatalf("AddGroup model_params: %v", err)
	}
	return hs
}

func TestHyperparametersLenAndOrder(t *testing.T) {
	hs := buildTestGroups(t)
	if hs.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", hs.Len())
	}
	wantKeys := []string{"optimizer_params/lr", "optimizer_params/momentum", "model_params/dropout_rate"}
	keys := hs.Keys()
	if len(keys) != len(wantKeys) {
		t.Fatalf("Keys() = %v, want %v", keys, wantKeys)
	}
	for i, k := range wantKeys {
		if keys[i] != k {
			t.Fatalf("Keys()[%d] = %q, want %q", i, keys[i], k)
		}
	}
}

func TestHyperparametersGetSet(t *testing.T) {
	hs := buildTestGroups(t)
	if _, err := hs.Get("optimizer_params/lr"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	replacement, _ := NewContinuousValue(1e-6, 1e-2, 1e-4, "clip")
	if err := hs.Set("optimizer_params/lr", replacement); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, _ := hs.Get("optimizer_params/lr")
	if got != replacement {
		t.Fatal("Set did not replace stored hyperparameter")
	}
}

func TestHyperparametersGetMissingKey(t *testing.T) {
	hs := buildTestGroups(t)
	if _, err := hs.Get("nonexistent_group/x"); err == nil {
		t.Fatal("expected error for missing group")
	}
	if _, err := hs.Get("optimizer_params/nonexistent"); err == nil {
		t.Fatal("expected error for missing parameter")
	}
	if _, err := hs.Get("malformed-key-no-slash"); err == nil {
		t.Fatal("expected error for malformed key")
	}
}

func TestHyperparametersAtIndex(t *testing.T) {
	hs := buildTestGroups(t)
	hp, err := hs.At(2)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	if hp != hs.All()[2] {
		t.Fatal("At(2) did not return the third flat hyperparameter")
	}
	if _, err := hs.At(99); err == nil {
		t.Fatal("expected out-of-range error")
	}
}

func TestHyperparametersEqualSearchSpace(t *testing.T) {
	a := buildTestGroups(t)
	b := buildTestGroups(t)
	if !a.EqualSearchSpace(b) {
		t.Fatal("identically-built collections should share search space")
	}
	dropout2, _ := NewContinuousValue(0.0, 0.5, 0.1, "clip")
	if err := b.Set("model_params/dropout_rate", dropout2); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if a.EqualSearchSpace(b) {
		t.Fatal("differing bounds must not be EqualSearchSpace")
	}
}

func TestHyperparametersClone(t *testing.T) {
	hs := buildTestGroups(t)
	clone := hs.Clone()
	lr, _ := clone.Get("optimizer_params/lr")
	if err := lr.SetValue(5e-3); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	originalLR, _ := hs.Get("optimizer_params/lr")
	if originalLR.Value().(float64) == lr.Value().(float64) {
		t.Fatal("clone mutation leaked into original collection")
	}
}

func TestAddGroupRejectsDuplicateOrMissingKey(t *testing.T) {
	hs := buildTestGroups(t)
	lr, _ := NewContinuousValue(0, 1, 0.5, "clip")
	if err := hs.AddGroup("optimizer_params", []string{"lr"}, map[string]*Hyperparameter{"lr": lr}); err == nil {
		t.Fatal("expected error re-registering existing group")
	}
	if err := hs.AddGroup("extra", []string{"missing"}, map[string]*Hyperparameter{}); err == nil {
		t.Fatal("expected error for name absent from params map")
	}
}
