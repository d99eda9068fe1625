// Package providertest holds helpers for exercising adapter streams in tests.
package providertest

import (
	"context"
	"iter"
	"net/http"
	"strings"

	"polychat/internal/models"
	"polychat/internal/provider"
	"polychat/internal/retry"
)

// Options returns adapter options with no backoff and no mock delay.
func Options(client *http.Client) provider.Options {
	return provider.Options{
		Client: client,
		Policy: retry.Policy{MaxAttempts: 3, Multiplier: 2},
	}
}

// Collect drains seq.
func Collect(seq iter.Seq[models.Event]) []models.Event {
	var out []models.Event
	for ev := range seq {
		out = append(out, ev)
	}
	return out
}

// Text concatenates the content events of events.
func Text(events []models.Event) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Kind == models.EventContent {
			b.WriteString(ev.Text)
		}
	}
	return b.String()
}

// Stream collects p.Stream for req under a background context.
func Stream(p provider.Provider, req models.ChatRequest) []models.Event {
	return Collect(p.Stream(context.Background(), req))
}

// DoneCount counts the done events in events.
func DoneCount(events []models.Event) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == models.EventDone {
			n++
		}
	}
	return n
}

// UserRequest builds a single-turn request for model.
func UserRequest(model, content string) models.ChatRequest {
	return models.ChatRequest{
		Model:       model,
		Messages:    []models.Message{{Role: models.RoleUser, Content: content}},
		Temperature: models.DefaultTemperature,
		MaxTokens:   models.DefaultMaxTokens,
	}
}
