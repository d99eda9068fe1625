// Package logging installs the process-wide slog logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"

	"polychat/internal/config"
)

const redacted = "[REDACTED]"

var secretPattern = regexp.MustCompile(`sk-[A-Za-z0-9_\-]{8,}|AIza[0-9A-Za-z_\-]{20,}`)

// Redact masks API-key shaped substrings of s.
func Redact(s string) string {
	return secretPattern.ReplaceAllString(s, redacted)
}

// New builds a text or JSON logger that redacts secrets from the message
// and from every string or error attribute.
func New(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: redactAttr,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(handler), nil
}

// Setup installs New's logger as the slog default.
func Setup(cfg config.LoggingConfig, w io.Writer) error {
	logger, err := New(cfg, w)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		if s := a.Value.String(); secretPattern.MatchString(s) {
			return slog.String(a.Key, Redact(s))
		}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok {
			if s := err.Error(); secretPattern.MatchString(s) {
				return slog.String(a.Key, Redact(s))
			}
		}
	}
	return a
}
