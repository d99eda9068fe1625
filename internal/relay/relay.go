// Package relay forwards a normalized adapter stream to a caller while
// mirroring the answer text for persistence.
package relay

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"polychat/internal/models"
)

// Sink delivers frames to the caller.
type Sink interface {
	Send(ev models.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev models.Event) error

func (f SinkFunc) Send(ev models.Event) error {
	return f(ev)
}

// Run announces conversationID, then forwards events to sink. Banners are
// dropped, content is accumulated, and once the done event has been
// delivered onComplete receives the trimmed answer if it is not empty.
//
// A sequence that ends without done while ctx is live is closed with a
// synthesized done. When ctx is cancelled or the sink fails nothing is
// persisted and the error is returned.
func Run(ctx context.Context, conversationID string, events iter.Seq[models.Event], sink Sink, onComplete func(text string)) error {
	if err := sink.Send(models.Meta(conversationID)); err != nil {
		return fmt.Errorf("send meta: %w", err)
	}

	var answer strings.Builder
	finish := func() error {
		if err := sink.Send(models.Done()); err != nil {
			return fmt.Errorf("send done: %w", err)
		}
		if text := strings.TrimSpace(answer.String()); text != "" && onComplete != nil {
			onComplete(text)
		}
		return nil
	}

	for ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch ev.Kind {
		case models.EventDone:
			return finish()
		case models.EventContent:
			if ev.IsBanner() {
				continue
			}
			answer.WriteString(ev.Text)
			if err := sink.Send(ev); err != nil {
				return fmt.Errorf("send content: %w", err)
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return finish()
}
