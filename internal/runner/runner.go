// Package runner implements C3: the stream runner that drives one
// inference request on one borrowed worker and bridges its token sequence
// to the orchestrator as an asynchronous, cancellable chunk sequence.
// Grounded on the state-machine described in spec.md §4.3 and on the
// 60-second receive deadline / cancel-vs-timeout distinction in
// _examples/original_source/src/assistant/assistant_runner.py's
// _stream_from_queue.
package runner

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/meshchat/meshchat-service/internal/chatmodel"
	"github.com/meshchat/meshchat-service/internal/worker"
)

// State is one point in the runner's Idle -> Running -> terminal lifecycle.
type State int32

const (
	Idle State = iota
	Running
	Completed
	Errored
	Cancelled
)

// ReceiveDeadline bounds how long the runner waits for the next item from
// the worker's outbound queue before treating the stream as timed out.
const ReceiveDeadline = 60 * time.Second

// ErrTimeout is surfaced when the receive deadline fires and the stream was
// not cancelled.
var ErrTimeout = errors.New("runner: no chunk received within the receive deadline")

// Event is one item delivered to the orchestrator: either a chunk, or the
// single terminal event marking how the stream ended.
type Event struct {
	Chunk      *chatmodel.Chunk
	Terminal   bool
	FinalState State
	Err        error
}

// Runner drives one stream on one borrowed worker.
type Runner struct {
	w          *worker.Worker
	cancelFlag atomic.Bool
	state      atomic.Int32
	deadline   time.Duration
}

func New(w *worker.Worker) *Runner {
	return &Runner{w: w, deadline: ReceiveDeadline}
}

// NewWithDeadline builds a Runner with a non-default receive deadline, for
// tests that exercise the timeout path without waiting out the real
// 60-second window.
func NewWithDeadline(w *worker.Worker, deadline time.Duration) *Runner {
	return &Runner{w: w, deadline: deadline}
}

// State reports the runner's current state.
func (r *Runner) State() State {
	return State(r.state.Load())
}

// Start submits the request to the worker and returns the event sequence.
// The returned channel is closed after exactly one Terminal event.
func (r *Runner) Start(history []chatmodel.Chunk) (<-chan Event, error) {
	workerEvents, err := r.w.Run(history)
	if err != nil {
		return nil, err
	}

	r.state.Store(int32(Running))
	out := make(chan Event, 8)
	go r.consume(workerEvents, out)
	return out, nil
}

// Stop sets the cancellation flag, which the runner consults when the
// receive deadline fires (a silent worker then ends as Cancelled rather than
// timed out), and asks the worker process to stop producing further chunks. It
// is safe to call multiple times and after the stream has already
// terminated.
func (r *Runner) Stop() {
	r.cancelFlag.Store(true)
	_ = r.w.Cancel()
}

func (r *Runner) consume(workerEvents <-chan worker.Event, out chan<- Event) {
	defer close(out)

	timer := time.NewTimer(r.deadline)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(r.deadline)

		select {
		case ev, ok := <-workerEvents:
			if !ok {
				r.terminate(out, Errored, fmt.Errorf("runner: worker %d closed output without a terminator", r.w.PID()))
				return
			}
			if ev.Err != nil {
				r.terminate(out, Errored, ev.Err)
				return
			}
			if ev.Done {
				r.terminate(out, Completed, nil)
				return
			}
			out <- Event{Chunk: ev.Chunk}

		case <-timer.C:
			if r.cancelFlag.Load() {
				r.terminate(out, Cancelled, nil)
				return
			}
			_ = r.w.Cancel()
			r.terminate(out, Errored, ErrTimeout)
			return
		}
	}
}

func (r *Runner) terminate(out chan<- Event, state State, err error) {
	r.state.Store(int32(state))
	out <- Event{Terminal: true, FinalState: state, Err: err}
}
