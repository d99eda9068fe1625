package translator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"polychat/internal/models"
)

var (
	errEmptyModel            = errors.New("model must be provided")
	errEmptyMessages         = errors.New("at least one message is required")
	errInvalidRole           = errors.New("role must be one of user, assistant or system")
	errInvalidMaxTokens      = errors.New("maxTokens must be at least 1")
	errInvalidConversationID = errors.New("conversationId must be a string or a number")
)

var allowedRoles = map[string]struct{}{
	models.RoleSystem:    {},
	models.RoleUser:      {},
	models.RoleAssistant: {},
}

// ChatMessage is one inbound conversation turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatStreamRequest is the body of POST /api/v1/chat/stream.
type ChatStreamRequest struct {
	ConversationID string
	Model          string
	Messages       []ChatMessage
	Temperature    *float64
	MaxTokens      *int
}

// UnmarshalJSON implements custom parsing to enforce validation.
func (r *ChatStreamRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		ConversationID json.RawMessage `json:"conversationId"`
		Model          string          `json:"model"`
		Messages       []ChatMessage   `json:"messages"`
		Temperature    *float64        `json:"temperature"`
		MaxTokens      *int            `json:"maxTokens"`
		MaxTokensSnake *int            `json:"max_tokens"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	conversationID, err := parseConversationID(raw.ConversationID)
	if err != nil {
		return err
	}

	r.ConversationID = conversationID
	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = raw.Messages
	r.Temperature = raw.Temperature
	r.MaxTokens = raw.MaxTokens
	if r.MaxTokens == nil {
		r.MaxTokens = raw.MaxTokensSnake
	}

	return r.validate()
}

func (r *ChatStreamRequest) validate() error {
	if r.Model == "" {
		return errEmptyModel
	}
	if len(r.Messages) == 0 {
		return errEmptyMessages
	}
	for i, msg := range r.Messages {
		if _, ok := allowedRoles[msg.Role]; !ok {
			return fmt.Errorf("messages[%d]: %w", i, errInvalidRole)
		}
	}
	if r.MaxTokens != nil && *r.MaxTokens < 1 {
		return errInvalidMaxTokens
	}
	return nil
}

func parseConversationID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", errInvalidConversationID
}

// ToUnified converts the request into the provider-agnostic representation,
// applying default sampling parameters.
func (r ChatStreamRequest) ToUnified() models.ChatRequest {
	req := models.ChatRequest{
		ConversationID: r.ConversationID,
		Model:          r.Model,
		Messages:       make([]models.Message, 0, len(r.Messages)),
		Temperature:    models.DefaultTemperature,
		MaxTokens:      models.DefaultMaxTokens,
	}
	for _, msg := range r.Messages {
		req.Messages = append(req.Messages, models.Message{Role: msg.Role, Content: msg.Content})
	}
	if r.Temperature != nil {
		req.Temperature = *r.Temperature
	}
	if r.MaxTokens != nil {
		req.MaxTokens = *r.MaxTokens
	}
	return req
}
