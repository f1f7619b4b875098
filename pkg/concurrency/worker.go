// Package concurrency implements the Worker Pool: a fixed set of
// workers bound round-robin over devices that fan out fitness
// evaluation (train -> evaluate) with fault tolerance, grounded on the
// channel-per-worker dispatch loop and fan-out/respawn contract.
package concurrency

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

// TrialFunc is the fitness-evaluation closure a Worker runs: typically
// the closure pkg/controller's makeTrial builds for one Checkpoint. It
// receives the worker's own RNG (seeded from its uid) and
// device binding.
type TrialFunc func(rng *rand.Rand, device string) (any, error)

// Trial pairs a TrialFunc with the channel its Result is delivered on.
type Trial struct {
	Fn     TrialFunc
	Return chan Result
}

// Result is what a Worker sends back for a Trial: a value on success,
// or a FailMessage on error/panic, never both.
type Result struct {
	Value any
	Fail  *FailMessage
}

// FailMessage reports a worker's trial failure without killing the
// pool: the sender's identity plus the underlying error. A failing or
// panicking trial yields a FailMessage instead of taking the pool down;
// the pool then stops that worker and respawns it.
type FailMessage struct {
	WorkerUID int
	Device    string
	Err       error
}

func (f *FailMessage) Error() string {
	return fmt.Sprintf("worker %d (%s): %v", f.WorkerUID, f.Device, f.Err)
}

// Worker runs Trials sequentially off its own receive channel. Its
// uid and device are its stable identity: a respawned replacement
// reuses both, so indexing, RNG seed, and device binding survive a
// crash. The replacement gets a fresh receive channel; the failed
// worker's channel is drained when it is stopped.
type Worker struct {
	uid    int
	device string
	rng    *rand.Rand

	receive chan *Trial
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorker starts a worker bound to device, seeding its RNG from uid
// so a run's trial sequence is reproducible across restarts.
func NewWorker(uid int, device string) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		uid:     uid,
		device:  device,
		rng:     rand.New(rand.NewSource(int64(uid))),
		receive: make(chan *Trial, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case trial := <-w.receive:
			if trial == nil {
				return
			}
			w.execute(trial)
		}
	}
}

func (w *Worker) execute(trial *Trial) {
	defer func() {
		if r := recover(); r != nil {
			trial.Return <- Result{Fail: &FailMessage{WorkerUID: w.uid, Device: w.device, Err: fmt.Errorf("panic: %v", r)}}
		}
	}()
	value, err := trial.Fn(w.rng, w.device)
	if err != nil {
		trial.Return <- Result{Fail: &FailMessage{WorkerUID: w.uid, Device: w.device, Err: err}}
		return
	}
	trial.Return <- Result{Value: value}
}

// drain processes any remaining queued trials before shutdown,
// rather than dropping queued work
// silently.
func (w *Worker) drain() {
	for {
		select {
		case trial := <-w.receive:
			if trial == nil {
				return
			}
			w.execute(trial)
		default:
			return
		}
	}
}

// Submit hands the worker one Trial and blocks for its Result.
func (w *Worker) Submit(fn TrialFunc) Result {
	trial := &Trial{Fn: fn, Return: make(chan Result, 1)}
	w.SubmitAsync(trial)
	return <-trial.Return
}

// SubmitAsync hands the worker a pre-built Trial without blocking for
// its result; the caller reads trial.Return itself. This is what
// WorkerPool.Imap uses to fan work out across workers concurrently.
// A worker that has already been stopped fails the trial at once.
func (w *Worker) SubmitAsync(trial *Trial) {
	if w.ctx.Err() != nil {
		trial.Return <- Result{Fail: &FailMessage{WorkerUID: w.uid, Device: w.device, Err: context.Canceled}}
		return
	}
	select {
	case w.receive <- trial:
	case <-w.ctx.Done():
		trial.Return <- Result{Fail: &FailMessage{WorkerUID: w.uid, Device: w.device, Err: context.Canceled}}
	}
}

// Stop cancels the worker's context and waits for its loop to exit.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
}

// UID returns the worker's stable identity.
func (w *Worker) UID() int { return w.uid }

// Device returns the device this worker is bound to.
func (w *Worker) Device() string { return w.device }
