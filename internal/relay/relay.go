// Package relay turns a model response stream into an ordered sequence of
// UI transport events with exactly-once persistence of the final text.
//
// Event order per cycle: at most one clear-or-create, zero or more chunks,
// then exactly one terminal event (complete or error). Nothing is emitted
// or persisted after the terminal event.
package relay

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/agenticlabs/workspace/internal/domain"
)

// Relay delivers one cycle's output. Each relay owns its accumulation
// buffer and target identifier, so concurrent cycles cannot interleave.
type Relay struct {
	transport domain.Transport
	log       domain.ChatLog
	logger    *slog.Logger
	sessionID string
	targetID  string

	mu       sync.Mutex
	buf      strings.Builder
	started  bool
	terminal bool
}

// New creates a relay for one cycle. If targetID is empty, a fresh bubble
// identifier is synthesized and the transport will be asked to create the
// element before any content is emitted.
func New(transport domain.Transport, log domain.ChatLog, logger *slog.Logger, sessionID, targetID string) *Relay {
	return &Relay{
		transport: transport,
		log:       log,
		logger:    logger,
		sessionID: sessionID,
		targetID:  targetID,
	}
}

// TargetID returns the UI element this relay renders into. Empty until
// Begin when no target was supplied.
func (r *Relay) TargetID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.targetID
}

// Begin emits the opening transport event: clearing the prior content of a
// supplied target, or creating a fresh bubble for a synthesized one.
// newBubble forces creation even without content to anchor progress
// markers (pipeline mode).
func (r *Relay) Begin(newBubble bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started || r.terminal {
		return
	}
	r.started = true

	if r.targetID != "" {
		r.transport.ClearBubble(r.targetID)
		return
	}
	if newBubble {
		r.targetID = "bot-" + uuid.NewString()
		r.transport.CreateBubble(r.targetID)
	}
}

// Write forwards one fragment to the transport and accumulates it for
// persistence. Fragments arriving after the terminal event are dropped.
func (r *Relay) Write(text string) {
	if text == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminal {
		return
	}
	r.buf.WriteString(text)
	r.transport.Chunk(text, r.targetID)
}

// Notify emits a progress marker without accumulating it: markers render
// but are not part of the persisted text.
func (r *Relay) Notify(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.terminal {
		return
	}
	r.transport.Chunk(text, r.targetID)
}

// Complete persists the accumulated text as one bot message, then emits
// the terminal completion event. Persistence happens exactly once; a
// persistence failure becomes the terminal error event instead, and is
// not retried.
func (r *Relay) Complete(ctx context.Context) error {
	r.mu.Lock()
	if r.terminal {
		r.mu.Unlock()
		return nil
	}
	r.terminal = true
	text := r.buf.String()
	r.mu.Unlock()

	if err := r.log.Append(ctx, r.sessionID, domain.RoleBot, text); err != nil {
		r.logger.Error("failed to persist response",
			slog.String("session", r.sessionID),
			slog.String("error", err.Error()))
		r.transport.Error(err.Error())
		return err
	}

	r.transport.Complete()
	return nil
}

// Fail emits the terminal error event. Nothing is persisted; partial
// output stays out of the chat log.
func (r *Relay) Fail(message string) {
	r.mu.Lock()
	if r.terminal {
		r.mu.Unlock()
		return
	}
	r.terminal = true
	r.mu.Unlock()

	r.transport.Error(message)
}

// Text returns the accumulated text so far.
func (r *Relay) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.String()
}
