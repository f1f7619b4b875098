package concurrency

import (
	"errors"
	"math/rand"
	"testing"
)

func TestNewWorkerPoolRequiresEnoughJobs(t *testing.T) {
	if _, err := NewWorkerPool(1, []string{"cpu", "gpu:0"}); err == nil {
		t.Fatal("expected error when n_jobs < len(devices)")
	}
}

func TestImapReturnsAllResultsWhenNoFailures(t *testing.T) {
	pool, err := NewWorkerPool(3, []string{"cpu"})
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}
	defer pool.Shutdown()

	items := make([]TrialFunc, 6)
	for i := range items {
		i := i
		items[i] = func(rng *rand.Rand, device string) (any, error) {
			return i * i, nil
		}
	}

	values, failures, err := pool.Imap(items)
	if err != nil {
		t.Fatalf("Imap: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("failures = %v, want none", failures)
	}
	if len(values) != len(items) {
		t.Fatalf("len(values) = %d, want %d", len(values), len(items))
	}
}

func TestImapRecordsPartialFailureAsNarrowError(t *testing.T) {
	pool, err := NewWorkerPool(3, []string{"cpu"})
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}
	defer pool.Shutdown()

	items := make([]TrialFunc, 3)
	for i := range items {
		i := i
		items[i] = func(rng *rand.Rand, device string) (any, error) {
			if i == 1 {
				return nil, errors.New("member 1 diverged")
			}
			return i, nil
		}
	}

	values, failures, err := pool.Imap(items)
	var partial *PartialFailureError
	if !errors.As(err, &partial) {
		t.Fatalf("Imap err = %v, want *PartialFailureError", err)
	}
	if partial.FailedCount != 1 {
		t.Fatalf("FailedCount = %d, want 1", partial.FailedCount)
	}
	if errors.Is(err, ErrAllWorkersFailed) {
		t.Fatal("a partial failure must not satisfy ErrAllWorkersFailed")
	}
	if len(failures) != 1 {
		t.Fatalf("len(failures) = %d, want 1", len(failures))
	}
	if len(values) != 2 {
		t.Fatalf("len(values) = %d, want 2", len(values))
	}
}

func TestImapReturnsAllWorkersFailed(t *testing.T) {
	pool, err := NewWorkerPool(2, []string{"cpu"})
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}
	defer pool.Shutdown()

	items := make([]TrialFunc, 2)
	for i := range items {
		items[i] = func(rng *rand.Rand, device string) (any, error) {
			return nil, errors.New("every worker dies")
		}
	}

	_, failures, err := pool.Imap(items)
	if !errors.Is(err, ErrAllWorkersFailed) {
		t.Fatalf("err = %v, want ErrAllWorkersFailed", err)
	}
	if len(failures) != 2 {
		t.Fatalf("len(failures) = %d, want 2", len(failures))
	}
}

func TestRespawnPreservesUIDAndDevice(t *testing.T) {
	pool, err := NewWorkerPool(2, []string{"cpu", "gpu:0"})
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}
	defer pool.Shutdown()

	items := []TrialFunc{
		func(rng *rand.Rand, device string) (any, error) { return nil, errors.New("boom") },
		func(rng *rand.Rand, device string) (any, error) { return "ok", nil },
	}
	var partial *PartialFailureError
	if _, _, err := pool.Imap(items); !errors.As(err, &partial) {
		t.Fatalf("Imap err = %v, want *PartialFailureError", err)
	}

	pool.mu.Lock()
	uids := make(map[int]string)
	for _, w := range pool.workers {
		uids[w.UID()] = w.Device()
	}
	pool.mu.Unlock()

	if uids[0] != "cpu" || uids[1] != "gpu:0" {
		t.Fatalf("respawned workers lost identity: %v", uids)
	}
}

func TestShutdownStopsAllWorkers(t *testing.T) {
	pool, err := NewWorkerPool(2, []string{"cpu"})
	if err != nil {
		t.Fatalf("NewWorkerPool: %v", err)
	}
	pool.Shutdown()

	res := pool.workers[0].Submit(func(rng *rand.Rand, device string) (any, error) {
		return nil, nil
	})
	if res.Fail == nil {
		t.Fatal("expected submit to a stopped worker to fail")
	}
}
