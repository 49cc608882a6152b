package assistant

import (
	"context"
	"time"

	"github.com/meshchat/meshchat-service/internal/chatmodel"
)

// LlamaMockAssistant reproduces the source's LlamaMock.create_chat_completion
// streaming body: a fixed greeting split into word tokens, one second
// apart, with the role attached to the first token only.
type LlamaMockAssistant struct {
	tokenDelay time.Duration
}

func NewLlamaMockAssistant() *LlamaMockAssistant {
	return &LlamaMockAssistant{tokenDelay: time.Second}
}

func (a *LlamaMockAssistant) Generate(ctx context.Context, _ []chatmodel.Chunk, out chan<- chatmodel.Chunk) error {
	roleSent := false
	for _, tok := range splitWords("Hello! How can I help you today?") {
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
