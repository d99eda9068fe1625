// Package memory keeps conversations in process memory.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"polychat/internal/store"
)

// Store is a mutex-guarded in-memory store. Data is lost on restart.
type Store struct {
	mu            sync.RWMutex
	now           store.Clock
	conversations map[string]store.Conversation
	messages      map[string][]store.Message
}

// New creates an empty store. A nil clock means store.SystemClock.
func New(now store.Clock) *Store {
	if now == nil {
		now = store.SystemClock
	}
	return &Store{
		now:           now,
		conversations: make(map[string]store.Conversation),
		messages:      make(map[string][]store.Message),
	}
}

func (s *Store) CreateConversation(ctx context.Context, ownerID, title string) (store.Conversation, error) {
	ts := s.now()
	conv := store.Conversation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: ts,
		UpdatedAt: ts,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conv.ID] = conv
	return conv, nil
}

func (s *Store) GetConversation(ctx context.Context, ownerID, id string) (store.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owned(ownerID, id)
}

func (s *Store) ListConversations(ctx context.Context, ownerID string) ([]store.Conversation, error) {
	s.mu.RLock()
	out := make([]store.Conversation, 0)
	for _, conv := range s.conversations {
		if conv.OwnerID == ownerID {
			out = append(out, conv)
		}
	}
	s.mu.RUnlock()

	store.SortConversations(out)
	return out, nil
}

func (s *Store) RenameConversation(ctx context.Context, ownerID, id, title string) (store.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.owned(ownerID, id)
	if err != nil {
		return store.Conversation{}, err
	}
	conv.Title = title
	conv.UpdatedAt = s.now()
	s.conversations[id] = conv
	return conv, nil
}

func (s *Store) DeleteConversation(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.owned(ownerID, id); err != nil {
		return err
	}
	delete(s.conversations, id)
	delete(s.messages, id)
	return nil
}

func (s *Store) TouchConversation(ctx context.Context, id string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return fmt.Errorf("touch %s: %w", id, store.ErrNotFound)
	}
	conv.UpdatedAt = ts
	s.conversations[id] = conv
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) (store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conversationID]; !ok {
		return store.Message{}, fmt.Errorf("append to %s: %w", conversationID, store.ErrNotFound)
	}
	msg := store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      s.now(),
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, ownerID, conversationID string) ([]store.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.owned(ownerID, conversationID); err != nil {
		return nil, err
	}
	stored := s.messages[conversationID]
	out := make([]store.Message, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i])
	}
	return out, nil
}

func (s *Store) Close() error {
	return nil
}

func (s *Store) owned(ownerID, id string) (store.Conversation, error) {
	conv, ok := s.conversations[id]
	if !ok || conv.OwnerID != ownerID {
		return store.Conversation{}, store.ErrNotFound
	}
	return conv, nil
}
