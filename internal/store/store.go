// Package store defines conversation and message persistence.
package store

import (
	"context"
	"errors"
	"sort"
	"time"
)

// ErrNotFound is returned for missing conversations and for conversations
// owned by someone else.
var ErrNotFound = errors.New("conversation not found")

// DefaultTitle names conversations started without a user message.
const DefaultTitle = "New Conversation"

// Conversation is one chat thread owned by a single owner.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one persisted turn.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Store persists conversations and their messages. Implementations are safe
// for concurrent use.
type Store interface {
	CreateConversation(ctx context.Context, ownerID, title string) (Conversation, error)
	GetConversation(ctx context.Context, ownerID, id string) (Conversation, error)
	// ListConversations returns the owner's conversations, most recently
	// updated first.
	ListConversations(ctx context.Context, ownerID string) ([]Conversation, error)
	RenameConversation(ctx context.Context, ownerID, id, title string) (Conversation, error)
	// DeleteConversation removes the conversation and its messages.
	DeleteConversation(ctx context.Context, ownerID, id string) error
	TouchConversation(ctx context.Context, id string, ts time.Time) error
	AppendMessage(ctx context.Context, conversationID, role, content string) (Message, error)
	// ListMessages returns the conversation's messages, newest first.
	ListMessages(ctx context.Context, ownerID, conversationID string) ([]Message, error)
	Close() error
}

// Clock supplies timestamps to store implementations.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time {
	return time.Now().UTC()
}

// SortConversations orders list by UpdatedAt descending, newest created and
// then id breaking ties.
func SortConversations(list []Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
