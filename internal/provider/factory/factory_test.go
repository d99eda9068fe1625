package factory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"polychat/internal/config"
	"polychat/internal/models"
)

func TestNewRegistryRegistersEveryAdapter(t *testing.T) {
	reg, err := NewRegistry(config.Default())
	require.NoError(t, err)
	require.Equal(t, config.ProviderIDs, reg.IDs())
}

func TestAdaptersMockWithoutCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Mock.TokenDelay = 0
	reg, err := NewRegistry(cfg)
	require.NoError(t, err)

	for _, p := range reg.Providers() {
		var text string
		done := 0
		req := models.ChatRequest{Model: "m", Messages: []models.Message{{Role: models.RoleUser, Content: "ping"}}}
		for ev := range p.Stream(context.Background(), req) {
			switch ev.Kind {
			case models.EventContent:
				text += ev.Text
			case models.EventDone:
				done++
			}
		}
		require.Equal(t, "["+p.ID()+"-mock] You said: 'ping'", text)
		require.Equal(t, 1, done)
	}
}

func TestOptionsFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Retry.MaxAttempts = 5
	cfg.Retry.InitialBackoff = 10 * time.Millisecond

	opts := Options(cfg)
	require.Equal(t, 5, opts.Policy.MaxAttempts)
	require.Equal(t, 10*time.Millisecond, opts.Policy.InitialBackoff)
	require.Zero(t, opts.Client.Timeout)
}
