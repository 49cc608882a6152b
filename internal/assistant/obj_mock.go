package assistant

import (
	"context"
	"time"

	"github.com/meshchat/meshchat-service/internal/chatmodel"
)

// ObjAssistant reproduces the source's ObjChatAssistant: a hardcoded fenced
// OBJ block wrapped in a little prose, emitted token-by-token with a short
// delay. It exists so the pipeline's mesh parsing can be exercised
// end-to-end (worker process -> runner -> parser -> persistence) without a
// real model.
type ObjAssistant struct {
	tokenDelay time.Duration
}

func NewObjAssistant() *ObjAssistant {
	return &ObjAssistant{tokenDelay: 10 * time.Millisecond}
}

// objTokens is the fixture stream: leading prose, a fenced OBJ block
// describing a single triangle, trailing prose. Kept as literal tokens
// (not split at emit time) so the fence/newline boundaries are exact.
var objTokens = []string{
	"here ", "is", " ", "your ", "obj", " ", "model:", "\n",
	"```", "obj", "\n",
	"v", " ", "0", " ", "0", " ", "0", "\n",
	"v", " ", "1", " ", "0", " ", "0", "\n",
	"v", " ", "0", " ", "1", " ", "0", "\n",
	"f", " ", "1", " ", "2", " ", "3", "\n",
	"```", "\n",
	"done", "?",
}

func (a *ObjAssistant) Generate(ctx context.Context, _ []chatmodel.Chunk, out chan<- chatmodel.Chunk) error {
	roleSent := false
	for _, tok := range objTokens {
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
