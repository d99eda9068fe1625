package models

import (
	"encoding/json"
	"strings"
)

// Message roles accepted from callers.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 512
)

// Message represents a single conversational message in the unified schema.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the provider-agnostic representation of one chat turn.
type ChatRequest struct {
	ConversationID string
	Model          string
	Messages       []Message
	Temperature    float64
	MaxTokens      int
}

// LastUserContent returns the content of the newest user message, if any.
func (r ChatRequest) LastUserContent() (string, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content, true
		}
	}
	return "", false
}

// NonEmptyMessages returns the messages whose content is not blank, in order.
func NonEmptyMessages(messages []Message) []Message {
	out := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// ModelInfo describes one model offered by a provider catalog.
type ModelInfo struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextLength int    `json:"context_length"`
}

// EventKind discriminates the normalized stream vocabulary.
type EventKind int

const (
	EventContent EventKind = iota + 1
	EventDone
	EventMeta
)

func (k EventKind) String() string {
	switch k {
	case EventContent:
		return "content"
	case EventDone:
		return "done"
	case EventMeta:
		return "meta"
	default:
		return "unknown"
	}
}

// Event is a single normalized stream event. Adapters only ever produce
// content and done events; meta is added by the relay.
type Event struct {
	Kind           EventKind
	Text           string
	ConversationID string
}

// Content builds a content delta event.
func Content(text string) Event {
	return Event{Kind: EventContent, Text: text}
}

// Done builds the terminal event.
func Done() Event {
	return Event{Kind: EventDone}
}

// Meta builds the conversation announcement event.
func Meta(conversationID string) Event {
	return Event{Kind: EventMeta, ConversationID: conversationID}
}

// BannerPrefix starts the aggregator notice that names the concrete model
// used upstream. Banners are side-channel text, never conversation content.
const BannerPrefix = "[model:"

// Banner formats the aggregator notice for modelID.
func Banner(modelID string) string {
	return "[model: " + modelID + "]\n"
}

// IsBanner reports whether e is an aggregator notice.
func (e Event) IsBanner() bool {
	return e.Kind == EventContent && strings.HasPrefix(e.Text, BannerPrefix)
}

type metaFrame struct {
	Meta struct {
		ConversationID string `json:"conversationId"`
	} `json:"meta"`
}

type contentFrame struct {
	Content string `json:"content"`
}

type doneFrame struct {
	Done bool `json:"done"`
}

// MarshalJSON renders the event in its caller-facing frame shape.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventMeta:
		var frame metaFrame
		frame.Meta.ConversationID = e.ConversationID
		return json.Marshal(frame)
	case EventDone:
		return json.Marshal(doneFrame{Done: true})
	default:
		return json.Marshal(contentFrame{Content: e.Text})
	}
}
