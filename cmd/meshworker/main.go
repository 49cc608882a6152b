// Command meshworker is the C1 inference worker: one OS process that builds
// the configured assistant implementation once at start and serves a
// line-delimited JSON protocol over stdin/stdout to the parent orchestrator
// process. With the llama implementation no model is held in this process:
// each request starts a new llama-cli process, which loads the model file
// for that request only. It is never invoked directly by an operator;
// internal/worker.Spawn launches it.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/meshchat/meshchat-service/internal/assistant"
	"github.com/meshchat/meshchat-service/internal/chatmodel"
	"github.com/meshchat/meshchat-service/internal/config"
	"github.com/meshchat/meshchat-service/internal/worker"
)

func main() {
	completer, err := assistant.NewFromConfig(
		config.AssistantImplementation(envOrDefault("MESHWORKER_IMPLEMENTATION", "obj")),
		os.Getenv("MESHWORKER_MODEL_PATH"),
		os.Getenv("MESHWORKER_LORA_PATH"),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "meshworker: %v\n", err)
		os.Exit(1)
	}

	writer := bufio.NewWriter(os.Stdout)
	enc := json.NewEncoder(writer)

	controlCh := make(chan worker.Control, 8)
	go readControl(os.Stdin, controlCh)

	for msg := range controlCh {
		if msg.Type != worker.ControlRequest {
			continue
		}
		runOneRequest(completer, msg.History, controlCh, enc, writer)
	}
}

func readControl(r *os.File, out chan<- worker.Control) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var msg worker.Control
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		out <- msg
	}
}

func runOneRequest(completer assistant.ChatCompleter, history []chatmodel.Chunk, controlCh <-chan worker.Control, enc *json.Encoder, w *bufio.Writer) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := make(chan chatmodel.Chunk)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for chunk := range out {
			c := chunk
			_ = enc.Encode(worker.Wire{Type: worker.WireChunk, Chunk: &c})
			_ = w.Flush()
		}
	}()

	resultCh := make(chan error, 1)
	go func() {
		defer close(out)
		resultCh <- completer.Generate(ctx, history, out)
	}()

	cancelWatch := make(chan struct{})
	stopWatch := make(chan struct{})
	go func() {
		for {
			select {
			case <-stopWatch:
				return
			case msg, ok := <-controlCh:
				if !ok || msg.Type == worker.ControlCancel {
					close(cancelWatch)
					return
				}
			}
		}
	}()

	var err error
	select {
	case err = <-resultCh:
		close(stopWatch)
	case <-cancelWatch:
		cancel()
		err = <-resultCh
	}
	<-pumpDone

	if err != nil && !errors.Is(err, context.Canceled) {
		_ = enc.Encode(worker.Wire{Type: worker.WireError, Error: err.Error()})
		_ = w.Flush()
	}
	_ = enc.Encode(worker.Wire{Type: worker.WireEOS})
	_ = w.Flush()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
