// Package sse implements C6: turning a typed event into the SSE wire
// format. Grounded on _examples/original_source/src/routers/sse_streamer.py's
// async_sse_stream, which builds exactly this two-line record.
package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
)

// Event is one server-sent event. Name is omitted from the wire format
// when empty, matching the `data` default event name in spec.md §4.6.
type Event struct {
	Name string
	Data any
}

// Write renders one event as `event: <name>\ndata: <json>\n\n` (the event
// line omitted when Name is empty) and flushes it immediately — the
// orchestrator does no buffering of its own.
func Write(w *bufio.Writer, e Event) error {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("sse: marshal event %q: %w", e.Name, err)
	}

	if e.Name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", e.Name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return err
	}
	return w.Flush()
}
