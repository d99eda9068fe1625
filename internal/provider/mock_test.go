package provider

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"polychat/internal/models"
)

func TestMockStreamReconstructsText(t *testing.T) {
	req := models.ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
	}

	events := collect(MockStream(context.Background(), "openai", req, 0))

	var b strings.Builder
	for _, ev := range events[:len(events)-1] {
		require.Equal(t, models.EventContent, ev.Kind)
		b.WriteString(ev.Text)
	}
	require.Equal(t, "[openai-mock] You said: 'hello'", b.String())
	require.Len(t, events, 5)
	require.Equal(t, models.Done(), events[len(events)-1])
	require.Equal(t, "[openai-mock] ", events[0].Text)
	require.Equal(t, "'hello'", events[3].Text)
}

func TestMockTextQuotesLastUserMessage(t *testing.T) {
	req := models.ChatRequest{Messages: []models.Message{
		{Role: models.RoleUser, Content: "first"},
		{Role: models.RoleAssistant, Content: "reply"},
		{Role: models.RoleUser, Content: "second"},
		{Role: models.RoleAssistant, Content: ""},
	}}

	require.Equal(t, "[gemini-mock] You said: 'second'", MockText("gemini", req))
}

func TestMockStreamHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := models.ChatRequest{Messages: []models.Message{{Role: models.RoleUser, Content: "a b c"}}}

	events := collect(MockStream(ctx, "deepseek", req, DefaultMockDelay))

	require.Len(t, events, 1)
	require.Equal(t, models.EventContent, events[0].Kind)
}
