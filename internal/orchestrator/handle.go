package orchestrator

import (
	"sync"
	"sync/atomic"

	"github.com/meshchat/meshchat-service/internal/runner"
)

// handle is the server-side state for one inference (spec.md §3's "stream
// handle"): created at create_message time, removed from the registry when
// the subscribed stream terminates. Exactly one subscriber is expected.
type handle struct {
	id                  string
	chatID              string
	assistantMessageID  string
	isRunning           atomic.Bool
	subscribed          atomic.Bool

	mu     sync.Mutex
	runner *runner.Runner // set once subscription starts
}

func newHandle(id, chatID, assistantMessageID string) *handle {
	h := &handle{id: id, chatID: chatID, assistantMessageID: assistantMessageID}
	h.isRunning.Store(true)
	return h
}

// startSubscription claims the single subscriber slot. Returns false if a
// subscriber already claimed it.
func (h *handle) startSubscription() bool {
	return h.subscribed.CompareAndSwap(false, true)
}

func (h *handle) setRunner(r *runner.Runner) {
	h.mu.Lock()
	h.runner = r
	h.mu.Unlock()
}

// stop sets is_running false and, if a runner is attached, asks it to stop
// too. Idempotent and safe after the stream has already terminated.
func (h *handle) stop() {
	h.isRunning.Store(false)
	h.mu.Lock()
	r := h.runner
	h.mu.Unlock()
	if r != nil {
		r.Stop()
	}
}
