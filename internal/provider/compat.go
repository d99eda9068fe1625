package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"polychat/internal/models"
)

// CompatMessage is one turn of an OpenAI-compatible chat payload.
type CompatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompatMessages drops blank turns and converts the rest.
func CompatMessages(messages []models.Message) []CompatMessage {
	msgs := models.NonEmptyMessages(messages)
	out := make([]CompatMessage, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, CompatMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}

// CompatChunk is one streamed or whole OpenAI-compatible completion body.
type CompatChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta   CompatMessage `json:"delta"`
		Message CompatMessage `json:"message"`
	} `json:"choices"`
}

// Text returns the first choice's delta content, falling back to the full
// message content some upstreams send even when streaming.
func (c CompatChunk) Text() string {
	if len(c.Choices) == 0 {
		return ""
	}
	if c.Choices[0].Delta.Content != "" {
		return c.Choices[0].Delta.Content
	}
	return c.Choices[0].Message.Content
}

// StreamCompat posts payload to url and relays the OpenAI-compatible SSE
// answer through out. onChunk, if set, observes every decoded chunk before
// its text is emitted.
func StreamCompat(ctx context.Context, client *http.Client, url string, headers map[string]string, payload any, out *Emitter, onChunk func(CompatChunk) bool) error {
	resp, err := Do(ctx, client, http.MethodPost, url, MergeHeaders(map[string]string{"Accept": "text/event-stream"}, headers), payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	events := NewSSEReader(resp.Body)
	for {
		data, err := events.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read event stream: %w", err)
		}
		if IsDone(data) {
			return nil
		}

		var chunk CompatChunk
		if err := DecodeChunk(data, &chunk); err != nil {
			continue
		}
		if onChunk != nil && !onChunk(chunk) {
			return context.Canceled
		}
		if !out.Content(chunk.Text()) {
			return context.Canceled
		}
	}
}
