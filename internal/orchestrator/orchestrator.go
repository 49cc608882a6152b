// Package orchestrator implements C5: the stream orchestrator, the service
// layer owning stream handles and tying together the worker pool (C2), the
// stream runner (C3), the mesh parser (C4), and persistence (C7), emitting
// SSE events (C6) in the order spec.md §4.5 requires.
//
// Grounded on _examples/original_source/src/services/message.py's
// MessageService (create_message/create_stream/stop_generation/shutdown),
// re-architected per spec.md §9 away from module-level singletons into an
// explicitly constructed value threaded through the HTTP layer, following
// the teacher's internal/streaming/manager.go session-registry idiom.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshchat/meshchat-service/internal/chatmodel"
	"github.com/meshchat/meshchat-service/internal/logger"
	"github.com/meshchat/meshchat-service/internal/meshparser"
	"github.com/meshchat/meshchat-service/internal/repository"
	"github.com/meshchat/meshchat-service/internal/runner"
	"github.com/meshchat/meshchat-service/internal/sse"
	"github.com/meshchat/meshchat-service/internal/workerpool"
)

// historyDepth is how many prior messages feed a new request. The source
// feeds only the latest user turn (spec.md §9's flagged open question);
// this spec preserves that behavior verbatim rather than widen it.
const historyDepth = 1

type Orchestrator struct {
	pool     *workerpool.Pool
	messages *repository.MessageRepository
	blobs    *repository.BlobRepository
	log      *logger.Logger

	mu      sync.Mutex
	handles map[string]*handle
}

func New(pool *workerpool.Pool, messages *repository.MessageRepository, blobs *repository.BlobRepository, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		pool:     pool,
		messages: messages,
		blobs:    blobs,
		log:      log,
		handles:  make(map[string]*handle),
	}
}

// CreateMessage persists the user message, mints a fresh stream id and an
// assistant-message id, registers a handle, and returns the stream id and
// the persisted user message. It does not start inference.
func (o *Orchestrator) CreateMessage(ctx context.Context, chatID string, role chatmodel.Role, content string) (string, *chatmodel.Message, error) {
	msg, err := o.messages.Create(ctx, chatID, role, content)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidRole) {
			return "", nil, &CoreError{Kind: KindInvalidRole, Msg: err.Error(), Err: err}
		}
		return "", nil, &CoreError{Kind: KindPersistenceFailure, Msg: "create message", Err: err}
	}

	streamID := uuid.NewString()
	h := newHandle(streamID, chatID, uuid.NewString())

	o.mu.Lock()
	o.handles[streamID] = h
	o.mu.Unlock()

	return streamID, msg, nil
}

// Subscribe validates the handle, then drives the stream to completion,
// returning a channel of SSE events. The channel is closed after the
// terminal `done` event.
func (o *Orchestrator) Subscribe(ctx context.Context, chatID, streamID string) (<-chan sse.Event, error) {
	h, err := o.lookup(chatID, streamID)
	if err != nil {
		return nil, err
	}
	if !h.startSubscription() {
		return nil, newAlreadySubscribed(streamID)
	}

	events := make(chan sse.Event, 8)
	go o.drive(ctx, h, events)
	return events, nil
}

// Stop sets the handle's is_running flag false. Idempotent; does not
// remove the handle, since the subscriber loop driving the stream performs
// that cleanup itself.
func (o *Orchestrator) Stop(chatID, streamID string) error {
	h, err := o.lookup(chatID, streamID)
	if err != nil {
		return err
	}
	h.stop()
	return nil
}

func (o *Orchestrator) lookup(chatID, streamID string) (*handle, error) {
	o.mu.Lock()
	h, ok := o.handles[streamID]
	o.mu.Unlock()
	if !ok || h.chatID != chatID {
		return nil, newNotFound("stream " + streamID)
	}
	return h, nil
}

// Shutdown stops every live handle, as Stop does, and then shuts the pool
// down, which terminates only the workers that are free at that moment. It
// does not wait for live streams: each one ends through the normal
// cancellation path and still emits obj_content and done, and workers
// loaned to them keep running until their streams release them.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	live := make([]*handle, 0, len(o.handles))
	for _, h := range o.handles {
		live = append(live, h)
	}
	o.mu.Unlock()

	for _, h := range live {
		h.stop()
	}
	o.pool.Shutdown()
}

// drive runs the full subscribe lifecycle for one handle: acquire a
// worker, start the runner, forward chunks, finalize, persist, and always
// emit obj_content/done before closing events.
func (o *Orchestrator) drive(ctx context.Context, h *handle, events chan<- sse.Event) {
	defer close(events)
	defer o.forget(h.id)

	start := time.Now()
	streamsActive.Inc()
	defer func() {
		streamsActive.Dec()
		streamDuration.Observe(time.Since(start).Seconds())
	}()

	log := o.log.WithContext(logger.WithStreamID(logger.WithChatID(ctx, h.chatID), h.id))

	history, err := o.messages.LastN(ctx, h.chatID, historyDepth)
	if err != nil {
		o.finish(events, nil, nil, nil, fmt.Errorf("fetch history: %w", err))
		return
	}

	w, busyErr := o.pool.TryAcquire()
	if busyErr != nil {
		o.finish(events, nil, nil, nil, fmt.Errorf("acquire worker: %w", busyErr))
		return
	}
	if w == nil {
		events <- sse.Event{Name: "busy", Data: ""}
		w, busyErr = o.pool.Acquire(ctx)
		if busyErr != nil {
			o.finish(events, nil, nil, nil, fmt.Errorf("acquire worker: %w", busyErr))
			return
		}
	}

	r := runner.New(w)
	h.setRunner(r)

	runnerEvents, err := r.Start(toChunks(history))
	if err != nil {
		o.pool.Release(w)
		o.finish(events, nil, nil, nil, fmt.Errorf("start runner: %w", err))
		return
	}

	parser := meshparser.New()
	var tokens []string
	var loopErr error

runLoop:
	for ev := range runnerEvents {
		if ev.Terminal {
			loopErr = ev.Err
			break runLoop
		}

		if ev.Chunk.Content == chatmodel.EOS {
			drain(runnerEvents)
			break runLoop
		}

		tokens = append(tokens, ev.Chunk.Content)
		parser.ProcessToken(ev.Chunk.Content)
		// Unnamed/default event, per spec.md's "data is the default event
		// name" — original_source's yield ServerSentEvent(data=chunk) omits
		// event= the same way, so EventSource.onmessage receives it.
		events <- sse.Event{Name: "", Data: ev.Chunk}

		if !h.isRunning.Load() {
			r.Stop()
			drain(runnerEvents)
			break runLoop
		}
	}

	o.pool.Release(w)

	records := parser.Finalize()
	extracted := meshparser.Extract(tokens, records)

	o.finish(events, &extracted, records, func() error {
		return o.persist(ctx, h, extracted)
	}, loopErr)

	if loopErr != nil {
		log.Error("stream terminated with error", "error", loopErr)
	}
}

// drain discards remaining events so the runner's consume goroutine never
// blocks trying to send after the orchestrator stopped reading — the
// orchestrator does not wait for the worker to finish draining.
func drain(events <-chan runner.Event) {
	go func() {
		for range events {
		}
	}()
}

func (o *Orchestrator) persist(ctx context.Context, h *handle, extracted meshparser.Extracted) error {
	assistantMsg, err := o.messages.CreateWithID(ctx, h.assistantMessageID, h.chatID, chatmodel.RoleAssistant, extracted.MessageContent)
	if err != nil {
		return err
	}
	for _, content := range extracted.ObjContents {
		if _, err := o.blobs.Save(ctx, assistantMsg.ID, []byte(content)); err != nil {
			return err
		}
	}
	return nil
}

// finish runs the finally-stage policy of spec.md §4.5: persist (if a
// persist function is given), emit error (if loopErr or persistence
// failed), then always emit obj_content and done.
func (o *Orchestrator) finish(events chan<- sse.Event, extracted *meshparser.Extracted, records []chatmodel.OutputIndexes, persist func() error, loopErr error) {
	var persistErr error
	if persist != nil {
		persistErr = persist()
	}

	if loopErr != nil {
		events <- sse.Event{Name: "error", Data: loopErr.Error()}
	} else if persistErr != nil {
		events <- sse.Event{Name: "error", Data: persistErr.Error()}
	}

	if records == nil {
		records = []chatmodel.OutputIndexes{}
	}
	events <- sse.Event{Name: "obj_content", Data: records}
	events <- sse.Event{Name: "done", Data: ""}
}

func (o *Orchestrator) forget(streamID string) {
	o.mu.Lock()
	delete(o.handles, streamID)
	o.mu.Unlock()
}

func toChunks(messages []chatmodel.Message) []chatmodel.Chunk {
	chunks := make([]chatmodel.Chunk, len(messages))
	for i, m := range messages {
		chunks[i] = chatmodel.Chunk{Role: m.Role, Content: m.Content}
	}
	return chunks
}
