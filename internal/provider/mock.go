package provider

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"polychat/internal/models"
)

// DefaultMockDelay separates tokens of a mock stream.
const DefaultMockDelay = 50 * time.Millisecond

// MockText is the echo answer produced when a vendor has no credential.
func MockText(id string, req models.ChatRequest) string {
	quoted, ok := req.LastUserContent()
	if !ok && len(req.Messages) > 0 {
		quoted = req.Messages[len(req.Messages)-1].Content
	}
	return fmt.Sprintf("[%s-mock] You said: '%s'", id, quoted)
}

// MockStream emits MockText token by token. Every token except the last
// keeps a trailing space so the concatenation reproduces the text.
func MockStream(ctx context.Context, id string, req models.ChatRequest, delay time.Duration) iter.Seq[models.Event] {
	return func(yield func(models.Event) bool) {
		out := NewEmitter(yield)
		words := strings.Fields(MockText(id, req))
		for i, word := range words {
			if i > 0 && !pause(ctx, delay) {
				return
			}
			if i < len(words)-1 {
				word += " "
			}
			if !out.Content(word) {
				return
			}
		}
		out.Done()
	}
}

func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
