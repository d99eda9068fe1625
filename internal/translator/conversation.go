package translator

import (
	"errors"
	"strings"
	"unicode/utf8"

	"polychat/internal/store"
)

// MaxTitleLength bounds conversation titles supplied by callers.
const MaxTitleLength = 200

var errInvalidTitle = errors.New("title must be between 1 and 200 characters")

// RenameRequest is the body of PATCH /api/v1/conversations/:id.
type RenameRequest struct {
	Title string `json:"title"`
}

// NormalizeTitle trims title and enforces its length. An empty title
// becomes fallback when fallback is not empty.
func NormalizeTitle(title, fallback string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = fallback
	}
	if n := utf8.RuneCountInString(title); n < 1 || n > MaxTitleLength {
		return "", errInvalidTitle
	}
	return title, nil
}

// DeleteResponse acknowledges a deleted conversation.
type DeleteResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// Deleted builds the acknowledgement for id.
func Deleted(id string) DeleteResponse {
	return DeleteResponse{Status: "deleted", ID: id}
}

// ConversationList returns list, never nil, so it encodes as an array.
func ConversationList(list []store.Conversation) []store.Conversation {
	if list == nil {
		return []store.Conversation{}
	}
	return list
}

// MessageList returns list, never nil, so it encodes as an array.
func MessageList(list []store.Message) []store.Message {
	if list == nil {
		return []store.Message{}
	}
	return list
}
