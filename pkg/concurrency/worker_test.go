package concurrency

import (
	"errors"
	"math/rand"
	"testing"
)

func TestWorkerSubmitReturnsValue(t *testing.T) {
	w := NewWorker(0, "cpu")
	defer w.Stop()

	res := w.Submit(func(rng *rand.Rand, device string) (any, error) {
		return device, nil
	})
	if res.Fail != nil {
		t.Fatalf("unexpected failure: %v", res.Fail)
	}
	if res.Value != "cpu" {
		t.Fatalf("Value = %v, want cpu", res.Value)
	}
}

func TestWorkerSubmitCapturesError(t *testing.T) {
	w := NewWorker(1, "cpu")
	defer w.Stop()

	want := errors.New("boom")
	res := w.Submit(func(rng *rand.Rand, device string) (any, error) {
		return nil, want
	})
	if res.Fail == nil {
		t.Fatal("expected FailMessage")
	}
	if res.Fail.WorkerUID != 1 {
		t.Fatalf("Fail.WorkerUID = %d, want 1", res.Fail.WorkerUID)
	}
}

func TestWorkerSubmitCapturesPanic(t *testing.T) {
	w := NewWorker(2, "gpu:0")
	defer w.Stop()

	res := w.Submit(func(rng *rand.Rand, device string) (any, error) {
		panic("trial exploded")
	})
	if res.Fail == nil {
		t.Fatal("expected FailMessage from panic recovery")
	}
}

func TestWorkerRNGReproducibleBySeed(t *testing.T) {
	a := NewWorker(7, "cpu")
	b := NewWorker(7, "cpu")
	defer a.Stop()
	defer b.Stop()

	var seqA, seqB []float64
	a.Submit(func(rng *rand.Rand, device string) (any, error) {
		for i := 0; i < 5; i++ {
			seqA = append(seqA, rng.Float64())
		}
		return nil, nil
	})
	b.Submit(func(rng *rand.Rand, device string) (any, error) {
		for i := 0; i < 5; i++ {
			seqB = append(seqB, rng.Float64())
		}
		return nil, nil
	})
	for i := range seqA {
		if seqA[i] != seqB[i] {
			t.Fatalf("workers with identical uid diverged at %d: %v vs %v", i, seqA[i], seqB[i])
		}
	}
}

func TestWorkerStopDrainsQueuedTrial(t *testing.T) {
	w := NewWorker(0, "cpu")
	done := make(chan struct{})
	trial := &Trial{
		Fn: func(rng *rand.Rand, device string) (any, error) {
			close(done)
			return nil, nil
		},
		Return: make(chan Result, 1),
	}
	w.SubmitAsync(trial)
	w.Stop()
	select {
	case <-done:
	default:
		t.Fatal("queued trial was not drained before shutdown")
	}
}
