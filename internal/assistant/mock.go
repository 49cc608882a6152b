package assistant

import (
	"context"
	"time"

	"github.com/meshchat/meshchat-service/internal/chatmodel"
)

// MockAssistant is a minimal, prose-only completer for tests and local
// development, analogous to the source's MockChatAssistant.
type MockAssistant struct {
	tokenDelay time.Duration
}

func NewMockAssistant() *MockAssistant {
	return &MockAssistant{tokenDelay: 10 * time.Millisecond}
}

func (a *MockAssistant) Generate(ctx context.Context, history []chatmodel.Chunk, out chan<- chatmodel.Chunk) error {
	reply := "this is a mock response"
	if len(history) > 0 {
		reply = "echo: " + history[len(history)-1].Content
	}

	roleSent := false
	for _, tok := range splitWords(reply) {
		if err := emit(ctx, out, chatmodel.RoleAssistant, tok, &roleSent); err != nil {
			return err
		}
		if !sleepOrDone(ctx, a.tokenDelay) {
			return ctx.Err()
		}
	}
	sendEOS(ctx, out)
	return nil
}
