// Package chat runs one chat turn: it resolves the conversation, stores the
// user message, streams the routed adapter to the caller and persists the
// assistant reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"polychat/internal/models"
	"polychat/internal/relay"
	"polychat/internal/router"
	"polychat/internal/store"
)

const (
	// TitleLength bounds titles derived from the first user message.
	TitleLength = 40

	defaultPersistTimeout = 10 * time.Second
)

// ErrConversationNotFound is returned before streaming when the requested
// conversation does not exist for the owner.
var ErrConversationNotFound = errors.New("conversation not found")

// Service orchestrates chat turns. It is safe for concurrent use.
type Service struct {
	router         *router.Router
	store          store.Store
	now            store.Clock
	persistTimeout time.Duration
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the clock used to touch conversations.
func WithClock(now store.Clock) Option {
	return func(s *Service) { s.now = now }
}

// WithPersistTimeout bounds the write of the assistant reply.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Service) { s.persistTimeout = d }
}

// NewService creates a Service.
func NewService(rt *router.Router, st store.Store, opts ...Option) (*Service, error) {
	if rt == nil {
		return nil, errors.New("router must not be nil")
	}
	if st == nil {
		return nil, errors.New("store must not be nil")
	}
	s := &Service{
		router:         rt,
		store:          st,
		now:            store.SystemClock,
		persistTimeout: defaultPersistTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Turn is a prepared chat turn. Stream must be called at most once.
type Turn struct {
	svc          *Service
	req          models.ChatRequest
	conversation store.Conversation
}

// ConversationID names the conversation the turn belongs to.
func (t *Turn) ConversationID() string {
	return t.conversation.ID
}

// Prepare resolves or creates the conversation and stores the triggering
// user message. Errors returned here happen before any frame is written.
func (s *Service) Prepare(ctx context.Context, ownerID string, req models.ChatRequest) (*Turn, error) {
	conv, err := s.resolveConversation(ctx, ownerID, req)
	if err != nil {
		return nil, err
	}

	if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == models.RoleUser {
		if _, err := s.store.AppendMessage(ctx, conv.ID, models.RoleUser, req.Messages[n-1].Content); err != nil {
			return nil, fmt.Errorf("store user message: %w", err)
		}
	}

	req.ConversationID = conv.ID
	return &Turn{svc: s, req: req, conversation: conv}, nil
}

func (s *Service) resolveConversation(ctx context.Context, ownerID string, req models.ChatRequest) (store.Conversation, error) {
	if req.ConversationID != "" {
		conv, err := s.store.GetConversation(ctx, ownerID, req.ConversationID)
		if errors.Is(err, store.ErrNotFound) {
			return store.Conversation{}, ErrConversationNotFound
		}
		if err != nil {
			return store.Conversation{}, fmt.Errorf("load conversation: %w", err)
		}
		return conv, nil
	}

	conv, err := s.store.CreateConversation(ctx, ownerID, Title(req))
	if err != nil {
		return store.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	slog.Info("conversation created", "conversation_id", conv.ID, "owner", ownerID)
	return conv, nil
}

// Stream relays the routed adapter's events to sink and persists the reply
// once the done frame has been delivered.
func (t *Turn) Stream(ctx context.Context, sink relay.Sink) error {
	p := t.svc.router.Resolve(t.req.Model)
	slog.Info("chat stream start",
		"model", t.req.Model,
		"provider", p.ID(),
		"messages", len(t.req.Messages),
		"conversation_id", t.conversation.ID,
	)

	err := relay.Run(ctx, t.conversation.ID, p.Stream(ctx, t.req), sink, func(text string) {
		t.svc.persistReply(ctx, t.conversation.ID, text)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("chat stream cancelled", "conversation_id", t.conversation.ID)
		} else {
			slog.Warn("chat stream aborted", "conversation_id", t.conversation.ID, "err", err)
		}
		return err
	}
	return nil
}

func (s *Service) persistReply(parent context.Context, conversationID, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.persistTimeout)
	defer cancel()

	if _, err := s.store.AppendMessage(ctx, conversationID, models.RoleAssistant, text); err != nil {
		slog.Error("persist assistant message failed", "conversation_id", conversationID, "err", err)
		return
	}
	if err := s.store.TouchConversation(ctx, conversationID, s.now()); err != nil {
		slog.Error("touch conversation failed", "conversation_id", conversationID, "err", err)
	}
}

// Title derives a conversation title from the newest user message.
func Title(req models.ChatRequest) string {
	content, ok := req.LastUserContent()
	content = strings.TrimSpace(content)
	if !ok || content == "" {
		return store.DefaultTitle
	}
	runes := []rune(content)
	if len(runes) > TitleLength {
		runes = runes[:TitleLength]
	}
	return strings.TrimSpace(string(runes))
}
