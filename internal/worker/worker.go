package worker

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/meshchat/meshchat-service/internal/chatmodel"
)

// Event is one item read off a worker's outbound queue: a chunk, a fatal
// error, or the terminator. An error the worker reports itself is followed
// by Done; a read failure or an unexpected end of output is the last event
// and is not followed by Done.
type Event struct {
	Chunk *chatmodel.Chunk
	Err   error
	Done  bool
}

// Worker wraps one inference OS process. It is owned exclusively by the
// pool: either sitting free, or loaned to exactly one stream.
type Worker struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdinMu sync.Mutex
	stdout  *bufio.Scanner
	pid     int
	alive   atomic.Bool
}

// Spawn starts the worker subprocess at binaryPath with the given
// environment appended to the current process's environment. It returns
// as soon as the process has started and does not wait for it to be ready;
// no model is loaded here.
func Spawn(binaryPath string, env []string) (*Worker, error) {
	return SpawnArgs(binaryPath, nil, env)
}

// SpawnArgs is Spawn with explicit process arguments, for test doubles that
// stand in for the meshworker binary (which itself takes none).
func SpawnArgs(binaryPath string, args []string, env []string) (*Worker, error) {
	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker: stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("worker: start %s: %w", binaryPath, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	w := &Worker{cmd: cmd, stdin: stdin, stdout: scanner, pid: cmd.Process.Pid}
	w.alive.Store(true)
	return w, nil
}

// PID returns the worker subprocess's OS process id.
func (w *Worker) PID() int { return w.pid }

// Alive reports whether the worker's outbound queue is still usable. Once
// false, the pool must not loan this worker again.
func (w *Worker) Alive() bool { return w.alive.Load() }

// Run submits one inference request and returns the channel the caller
// reads chunks from, in the exact order the worker produced them. The
// channel is closed after the terminator event.
func (w *Worker) Run(history []chatmodel.Chunk) (<-chan Event, error) {
	if err := w.send(Control{Type: ControlRequest, History: history}); err != nil {
		return nil, fmt.Errorf("worker %d: submit request: %w", w.pid, err)
	}

	events := make(chan Event, 8)
	go w.pump(events)
	return events, nil
}

// Cancel sets the worker's cancellation flag for the in-flight request by
// writing a control message across the process boundary. It does not wait
// for the worker to drain.
func (w *Worker) Cancel() error {
	return w.send(Control{Type: ControlCancel})
}

func (w *Worker) send(c Control) error {
	w.stdinMu.Lock()
	defer w.stdinMu.Unlock()

	b, err := json.Marshal(c)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.stdin.Write(b)
	return err
}

func (w *Worker) pump(events chan<- Event) {
	defer close(events)

	for w.stdout.Scan() {
		var msg Wire
		if err := json.Unmarshal(w.stdout.Bytes(), &msg); err != nil {
			continue
		}
		switch msg.Type {
		case WireChunk:
			events <- Event{Chunk: msg.Chunk}
		case WireError:
			events <- Event{Err: fmt.Errorf("worker %d: %s", w.pid, msg.Error)}
		case WireEOS:
			events <- Event{Done: true}
			return
		}
	}

	if err := w.stdout.Err(); err != nil {
		w.alive.Store(false)
		events <- Event{Err: fmt.Errorf("worker %d: reading output: %w", w.pid, err)}
		return
	}

	// Scanner hit EOF without ever seeing a terminator: the subprocess
	// died mid-stream.
	w.alive.Store(false)
	events <- Event{Err: fmt.Errorf("worker %d: output closed unexpectedly", w.pid)}
}

// Close terminates the worker process. Used by the pool at shutdown and
// after a dead worker is detected; it does not wait for in-flight work to
// drain.
func (w *Worker) Close() error {
	w.alive.Store(false)
	_ = w.stdin.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	return w.cmd.Wait()
}
