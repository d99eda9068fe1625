// Package storetest is a behavioural suite shared by every store backend.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"polychat/internal/store"
)

// Factory opens a fresh, empty store that stamps records with now.
type Factory func(t *testing.T, now store.Clock) store.Store

// StepClock returns a clock that advances by one second per call.
func StepClock(start time.Time) store.Clock {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

// Run exercises open against the store contract.
func Run(t *testing.T, open Factory) {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("CreateAndGet", func(t *testing.T) {
		s := open(t, StepClock(start))
		ctx := context.Background()

		conv, err := s.CreateConversation(ctx, "alice", "Hello")
		require.NoError(t, err)
		require.NotEmpty(t, conv.ID)
		require.Equal(t, "alice", conv.OwnerID)
		require.Equal(t, conv.CreatedAt, conv.UpdatedAt)

		got, err := s.GetConversation(ctx, "alice", conv.ID)
		require.NoError(t, err)
		require.Equal(t, conv.ID, got.ID)
		require.Equal(t, "Hello", got.Title)
		require.True(t, conv.CreatedAt.Equal(got.CreatedAt))

		_, err = s.GetConversation(ctx, "bob", conv.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.GetConversation(ctx, "alice", "missing")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("ListNewestFirstPerOwner", func(t *testing.T) {
		s := open(t, StepClock(start))
		ctx := context.Background()

		first, err := s.CreateConversation(ctx, "alice", "first")
		require.NoError(t, err)
		second, err := s.CreateConversation(ctx, "alice", "second")
		require.NoError(t, err)
		_, err = s.CreateConversation(ctx, "bob", "other")
		require.NoError(t, err)

		list, err := s.ListConversations(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, []string{second.ID, first.ID}, ids(list))

		require.NoError(t, s.TouchConversation(ctx, first.ID, start.Add(time.Hour)))
		list, err = s.ListConversations(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, []string{first.ID, second.ID}, ids(list))

		empty, err := s.ListConversations(ctx, "nobody")
		require.NoError(t, err)
		require.NotNil(t, empty)
		require.Empty(t, empty)
	})

	t.Run("RenameAndDelete", func(t *testing.T) {
		s := open(t, StepClock(start))
		ctx := context.Background()

		conv, err := s.CreateConversation(ctx, "alice", "old")
		require.NoError(t, err)
		_, err = s.AppendMessage(ctx, conv.ID, "user", "hi")
		require.NoError(t, err)

		_, err = s.RenameConversation(ctx, "bob", conv.ID, "stolen")
		require.ErrorIs(t, err, store.ErrNotFound)

		renamed, err := s.RenameConversation(ctx, "alice", conv.ID, "new")
		require.NoError(t, err)
		require.Equal(t, "new", renamed.Title)
		require.True(t, renamed.UpdatedAt.After(conv.UpdatedAt))

		require.ErrorIs(t, s.DeleteConversation(ctx, "bob", conv.ID), store.ErrNotFound)
		require.NoError(t, s.DeleteConversation(ctx, "alice", conv.ID))

		_, err = s.GetConversation(ctx, "alice", conv.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.ListMessages(ctx, "alice", conv.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorIs(t, s.DeleteConversation(ctx, "alice", conv.ID), store.ErrNotFound)
	})

	t.Run("MessagesNewestFirst", func(t *testing.T) {
		s := open(t, StepClock(start))
		ctx := context.Background()

		conv, err := s.CreateConversation(ctx, "alice", "chat")
		require.NoError(t, err)

		for _, m := range []struct{ role, content string }{
			{"user", "one"}, {"assistant", "two"}, {"user", "three"},
		} {
			msg, err := s.AppendMessage(ctx, conv.ID, m.role, m.content)
			require.NoError(t, err)
			require.Equal(t, conv.ID, msg.ConversationID)
			require.NotEmpty(t, msg.ID)
		}

		list, err := s.ListMessages(ctx, "alice", conv.ID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		require.Equal(t, []string{"three", "two", "one"}, []string{list[0].Content, list[1].Content, list[2].Content})
		require.Equal(t, "assistant", list[1].Role)

		_, err = s.ListMessages(ctx, "bob", conv.ID)
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.AppendMessage(ctx, "missing", "user", "x")
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorIs(t, s.TouchConversation(ctx, "missing", start), store.ErrNotFound)
	})
}

func ids(list []store.Conversation) []string {
	out := make([]string, 0, len(list))
	for _, c := range list {
		out = append(out, c.ID)
	}
	return out
}
