package concurrency

import (
	"errors"
	"fmt"
	"sync"

	"github.com/sony/gobreaker"
)

// ErrAllWorkersFailed is terminal: every worker failed in the same
// Imap round and the pool's respawn breaker has tripped open, so
// there is no healthy worker left to retry with. The Controller
// aborts the run with an error exit code on this.
var ErrAllWorkersFailed = errors.New("concurrency: all workers failed")

// errWorkerFailed is the sentinel fed to the respawn breaker for every
// failed-worker replacement, so the breaker's failure count reflects
// real trial failures rather than an operation that can never fail.
var errWorkerFailed = errors.New("concurrency: worker slot failed")

// PartialFailureError reports that some, but not all, of an Imap
// call's trials failed. The surviving values and the per-trial
// FailMessages are returned alongside it; callers that only care about
// the terminal case should check for ErrAllWorkersFailed instead.
type PartialFailureError struct {
	FailedCount int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("concurrency: %d trial(s) failed", e.FailedCount)
}

// WorkerPool fans trials out across a fixed number of workers bound
// round-robin over devices, tolerating slow and crashed workers and
// respawning failed ones between rounds (grounded on
// a pool/imap fan-out loop).
type WorkerPool struct {
	mu      sync.Mutex
	workers []*Worker
	cursor  int
	devices []string

	breaker *gobreaker.CircuitBreaker
}

// NewWorkerPool creates nJobs workers cycling over devices in order
// (uid 0 -> devices[0], uid 1 -> devices[1 % len(devices)], ...),
// cycling workers the way a round-robin itertools binding would. nJobs must be at
// least len(devices) so every device gets at least one worker.
func NewWorkerPool(nJobs int, devices []string) (*WorkerPool, error) {
	if len(devices) == 0 {
		devices = []string{"cpu"}
	}
	if nJobs < len(devices) {
		return nil, fmt.Errorf("concurrency: n_jobs (%d) must be >= number of devices (%d)", nJobs, len(devices))
	}

	p := &WorkerPool{devices: devices}
	for uid := 0; uid < nJobs; uid++ {
		p.workers = append(p.workers, NewWorker(uid, devices[uid%len(devices)]))
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "worker-respawn",
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(len(p.workers))
		},
	})

	return p, nil
}

func (p *WorkerPool) nextWorker() *Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	w := p.workers[p.cursor%len(p.workers)]
	p.cursor++
	return w
}

type imapMessage struct {
	index  int
	worker *Worker
	result Result
}

// Imap submits one trial per item, round-robin across workers, and
// returns every value that succeeded plus a FailMessage for every
// trial that didn't. The returned values slice has exactly len(items)
// entries when nothing failed, and fewer otherwise. A partial failure
// (some, but not every, worker failed this round) returns the
// surviving values and failures alongside a *PartialFailureError, not
// a nil error; only the terminal case, every worker failing in the
// same round with the respawn breaker tripped open, returns
// ErrAllWorkersFailed. Workers that failed are always attempted for
// respawn with the same uid/device before Imap returns, unless the
// breaker is already open for that attempt.
func (p *WorkerPool) Imap(items []TrialFunc) (values []any, failures []FailMessage, err error) {
	n := len(items)
	messages := make(chan imapMessage, n)

	for i, fn := range items {
		w := p.nextWorker()
		trial := &Trial{Fn: fn, Return: make(chan Result, 1)}
		go func(i int, w *Worker, trial *Trial) {
			w.SubmitAsync(trial)
			messages <- imapMessage{index: i, worker: w, result: <-trial.Return}
		}(i, w, trial)
	}

	failedWorkers := make(map[int]*Worker)
	values = make([]any, 0, n)
	for i := 0; i < n; i++ {
		msg := <-messages
		if msg.result.Fail != nil {
			failures = append(failures, *msg.result.Fail)
			failedWorkers[msg.result.Fail.WorkerUID] = msg.worker
			continue
		}
		values = append(values, msg.result.Value)
	}

	p.respawn(failedWorkers)

	allFailed := len(failedWorkers) == len(p.workers)
	if allFailed && p.breaker.State() == gobreaker.StateOpen {
		return values, failures, ErrAllWorkersFailed
	}
	if len(failures) > 0 {
		return values, failures, &PartialFailureError{FailedCount: len(failures)}
	}
	return values, failures, nil
}

// ApplyAsync submits a single trial and returns a channel its Result
// will arrive on, for callers that want to fire one job without
// waiting on a whole generation's worth of Imap.
func (p *WorkerPool) ApplyAsync(fn TrialFunc) <-chan Result {
	w := p.nextWorker()
	trial := &Trial{Fn: fn, Return: make(chan Result, 1)}
	out := make(chan Result, 1)
	go func() {
		w.SubmitAsync(trial)
		res := <-trial.Return
		if res.Fail != nil {
			p.respawn(map[int]*Worker{res.Fail.WorkerUID: w})
		}
		out <- res
	}()
	return out
}

// respawn replaces each failed worker with a fresh Worker of the same
// uid/device (stable identity across respawns). Every replacement is
// run through the breaker fed errWorkerFailed, so ConsecutiveFailures
// tracks real trial failures instead of an operation that always
// succeeds; once enough slots have failed the breaker trips open and
// further replacements are skipped, leaving those slots dead rather
// than endlessly respawned.
func (p *WorkerPool) respawn(failed map[int]*Worker) {
	for uid, w := range failed {
		if w == nil {
			continue
		}
		device := w.Device()
		w.Stop()
		_, _ = p.breaker.Execute(func() (any, error) {
			p.mu.Lock()
			for i, existing := range p.workers {
				if existing.UID() == uid {
					p.workers[i] = NewWorker(uid, device)
					break
				}
			}
			p.mu.Unlock()
			return nil, errWorkerFailed
		})
	}
}

// Shutdown stops every worker in the pool.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	workers := append([]*Worker(nil), p.workers...)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
}

// Stats reports pool composition for diagnostics/logging.
func (p *WorkerPool) Stats() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{
		"n_jobs":  len(p.workers),
		"devices": p.devices,
	}
}
