package provider

import (
	"net/http"
	"time"

	"polychat/internal/config"
	"polychat/internal/models"
	"polychat/internal/retry"
)

// Options carries the runtime settings every adapter shares.
type Options struct {
	Client    *http.Client
	Policy    retry.Policy
	MockDelay time.Duration
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	if o.Policy.MaxAttempts < 1 {
		o.Policy = retry.Default()
	}
	if o.MockDelay < 0 {
		o.MockDelay = 0
	}
	return o
}

// StaticCatalog converts configured model entries into catalog records.
// Entries without a display name fall back to their id.
func StaticCatalog(entries []config.ModelConfig) []models.ModelInfo {
	out := make([]models.ModelInfo, 0, len(entries))
	for _, m := range entries {
		name := m.Name
		if name == "" {
			name = m.ID
		}
		out = append(out, models.ModelInfo{ID: m.ID, Name: name, ContextLength: m.ContextLength})
	}
	return out
}

// CopyCatalog returns a defensive copy of list.
func CopyCatalog(list []models.ModelInfo) []models.ModelInfo {
	out := make([]models.ModelInfo, len(list))
	copy(out, list)
	return out
}
