package provider

import (
	"polychat/internal/models"
)

// Emitter wraps the consumer callback of a stream and records what has
// already been delivered. It never calls yield again once the consumer has
// stopped or a done event has been sent.
type Emitter struct {
	yield   func(models.Event) bool
	emitted bool
	stopped bool
	done    bool
}

// NewEmitter wraps yield.
func NewEmitter(yield func(models.Event) bool) *Emitter {
	return &Emitter{yield: yield}
}

// Content emits a text delta. Empty text is ignored. It reports whether the
// consumer still wants events.
func (e *Emitter) Content(text string) bool {
	if e.stopped || e.done {
		return false
	}
	if text == "" {
		return true
	}
	e.emitted = true
	return e.send(models.Content(text))
}

// Banner emits the aggregator notice naming the model that served the
// request. Banners do not count as answer content.
func (e *Emitter) Banner(modelID string) bool {
	if e.stopped || e.done {
		return false
	}
	return e.send(models.Content(models.Banner(modelID)))
}

// Done emits the terminal event once.
func (e *Emitter) Done() {
	if e.stopped || e.done {
		return
	}
	e.done = true
	e.send(models.Done())
}

// Emitted reports whether any answer content has been delivered.
func (e *Emitter) Emitted() bool {
	return e.emitted
}

// Stopped reports whether the consumer abandoned the stream.
func (e *Emitter) Stopped() bool {
	return e.stopped
}

func (e *Emitter) send(ev models.Event) bool {
	if !e.yield(ev) {
		e.stopped = true
		return false
	}
	return true
}
