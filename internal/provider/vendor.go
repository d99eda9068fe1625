package provider

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"polychat/internal/models"
	"polychat/internal/retry"
)

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream responded with status %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Call is a single attempt against an upstream vendor. It emits content
// through out and returns nil once the vendor signalled the end of the
// answer. It must not emit the done event itself.
type Call func(ctx context.Context, out *Emitter) error

// Vendor carries the per-vendor pieces shared by every adapter stream: the
// retry policy and the wording of the final diagnostic.
type Vendor struct {
	// ID is the registry key, used in generic diagnostics ("[openai] ...").
	ID string
	// Policy governs attempts and backoff.
	Policy retry.Policy
	// Statuses maps HTTP status codes to branded guidance text.
	Statuses map[int]string
	// IncludeBody appends the raw vendor body to generic diagnostics.
	IncludeBody bool
}

// Run turns call into a normalized event sequence. Failed attempts are
// retried under the policy; when the budget is exhausted a diagnostic
// content event is emitted. Unless the consumer stops early or ctx is
// cancelled the sequence always ends with exactly one done event.
func (v Vendor) Run(ctx context.Context, call Call) iter.Seq[models.Event] {
	return func(yield func(models.Event) bool) {
		out := NewEmitter(yield)

		policy := v.Policy
		policy.OnRetry = func(attempt int, wait time.Duration, err error) {
			slog.Warn("upstream attempt failed",
				"provider", v.ID,
				"attempt", attempt,
				"backoff_ms", wait.Milliseconds(),
				"err", err,
			)
		}

		attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
			err := call(ctx, out)
			if err == nil {
				return nil
			}
			// Replaying a partially delivered answer would duplicate text.
			if out.Stopped() || out.Emitted() {
				return retry.Permanent(err)
			}
			return err
		})

		if out.Stopped() || ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("upstream request failed", "provider", v.ID, "attempts", attempts, "err", err)
			out.Content(v.Diagnostic(attempts, err))
		}
		out.Done()
	}
}

// Diagnostic renders the user-facing message for a failed upstream call.
func (v Vendor) Diagnostic(attempts int, err error) string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if msg, ok := v.Statuses[statusErr.StatusCode]; ok {
			return msg
		}
	}

	noun := "attempts"
	if attempts == 1 {
		noun = "attempt"
	}
	msg := fmt.Sprintf("[%s] request failed after %d %s: %v", v.ID, attempts, noun, err)
	if v.IncludeBody && statusErr != nil && strings.TrimSpace(statusErr.Body) != "" {
		msg += "\nProvider response: " + strings.TrimSpace(statusErr.Body)
	}
	return msg
}
