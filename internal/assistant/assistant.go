// Package assistant implements the capability the inference worker process
// hosts: given chat history, produce a lazy sequence of {role, content}
// chunks. This is the Go re-architecture of the source's structurally-typed
// ChatCompleter protocol (spec.md §9, "protocol as capability") with four
// concrete bodies selected by assistant.implementation, grounded on
// _examples/original_source/src/assistant/chat_assistant.py and llama.py.
package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/meshchat/meshchat-service/internal/chatmodel"
	"github.com/meshchat/meshchat-service/internal/config"
)

// ChatCompleter produces chat completion chunks for one request. Generate
// pushes chunks to out as they are produced, polling ctx.Done between
// chunks so the caller can cooperatively stop generation. It always pushes
// a final chunk with content chatmodel.EOS (or returns an error) before
// returning.
type ChatCompleter interface {
	Generate(ctx context.Context, history []chatmodel.Chunk, out chan<- chatmodel.Chunk) error
}

// NewFromConfig builds the ChatCompleter named by implementation.
func NewFromConfig(implementation config.AssistantImplementation, modelPath, loraPath string) (ChatCompleter, error) {
	switch implementation {
	case config.ImplementationLlama:
		return NewLlamaAssistant(modelPath, loraPath)
	case config.ImplementationLlamaMock:
		return NewLlamaMockAssistant(), nil
	case config.ImplementationMock:
		return NewMockAssistant(), nil
	case config.ImplementationObjMock:
		return NewObjAssistant(), nil
	default:
		return nil, fmt.Errorf("assistant: unknown implementation %q", implementation)
	}
}

// emit sends content as a chunk, attaching role only the first time it is
// called for a given response, mirroring the source's
// "if role in delta: role = delta['role']; continue" / content-only
// afterward behavior.
func emit(ctx context.Context, out chan<- chatmodel.Chunk, role chatmodel.Role, content string, roleSent *bool) error {
	chunk := chatmodel.Chunk{Content: content}
	if !*roleSent {
		chunk.Role = role
		*roleSent = true
	}
	select {
	case out <- chunk:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func sendEOS(ctx context.Context, out chan<- chatmodel.Chunk) {
	select {
	case out <- chatmodel.Chunk{Content: chatmodel.EOS}:
	case <-ctx.Done():
	}
}

// splitWords tokenizes like the source mocks do: words with trailing spaces
// attached. Runs of whitespace collapse to one space and leading/trailing
// whitespace is dropped, so re-joining tokens reproduces the original string
// exactly only when its words are separated by single spaces.
func splitWords(s string) []string {
	fields := strings.Fields(s)
	tokens := make([]string, 0, len(fields))
	for i, f := range fields {
		if i < len(fields)-1 {
			tokens = append(tokens, f+" ")
		} else {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
