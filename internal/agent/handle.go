// Package agent builds model invocation handles: a provider bound to fixed
// role instructions, optional conversation memory, and optional retrieval
// augmentation. The composition is opaque to callers; they just invoke.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/agenticlabs/workspace/internal/domain"
	"github.com/agenticlabs/workspace/internal/tokens"
)

const defaultTopK = 5

// Handle is a pre-configured capability for invoking one model role.
type Handle struct {
	provider     domain.Provider
	model        string
	instructions string

	memory    domain.ChatLog // nil disables history injection
	sessionID string
	budget    int // token budget for injected history
	counter   *tokens.Counter

	retriever domain.Retriever // nil disables retrieval augmentation
	topK      int
}

// Option configures a handle.
type Option func(*Handle)

// WithMemory enables conversation memory: prior turns of the session are
// replayed into the prompt, newest first within the token budget.
func WithMemory(log domain.ChatLog, sessionID string, budget int) Option {
	return func(h *Handle) {
		h.memory = log
		h.sessionID = sessionID
		h.budget = budget
	}
}

// WithRetrieval enables retrieval augmentation: fragments matching the
// prompt are injected into the system context.
func WithRetrieval(r domain.Retriever) Option {
	return func(h *Handle) {
		h.retriever = r
	}
}

// WithTopK sets how many fragments retrieval injects.
func WithTopK(k int) Option {
	return func(h *Handle) {
		h.topK = k
	}
}

// New creates a handle for a provider, model, and role instructions.
func New(provider domain.Provider, model, instructions string, opts ...Option) *Handle {
	h := &Handle{
		provider:     provider,
		model:        model,
		instructions: instructions,
		counter:      tokens.NewCounter(),
		topK:         defaultTopK,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ProviderName reports which provider backs this handle.
func (h *Handle) ProviderName() string {
	return h.provider.Name()
}

// Invoke runs a blocking request and returns the full response text.
func (h *Handle) Invoke(ctx context.Context, prompt string) (string, error) {
	req, err := h.buildRequest(ctx, prompt)
	if err != nil {
		return "", err
	}
	return h.provider.Complete(ctx, req)
}

// Stream runs a streaming request. The returned channel carries content
// fragments in production order and is closed when the stream ends.
func (h *Handle) Stream(ctx context.Context, prompt string) (<-chan domain.Event, error) {
	req, err := h.buildRequest(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return h.provider.Stream(ctx, req)
}

func (h *Handle) buildRequest(ctx context.Context, prompt string) (*domain.ChatRequest, error) {
	system := h.instructions

	if h.retriever != nil {
		frags, err := h.retriever.Query(ctx, prompt, h.topK)
		if err != nil {
			return nil, fmt.Errorf("retrieval query failed: %w", err)
		}
		if len(frags) > 0 {
			system += "\n\n" + formatFragments(frags)
		}
	}

	var msgs []domain.Message
	if h.memory != nil {
		history, err := h.memory.History(ctx, h.sessionID)
		if err != nil {
			return nil, fmt.Errorf("history load failed: %w", err)
		}
		// The current submission is persisted before invocation; don't
		// replay it as history on top of the prompt itself.
		if n := len(history); n > 0 && history[n-1].Role == domain.RoleUser && history[n-1].Content == prompt {
			history = history[:n-1]
		}
		msgs = h.trimHistory(history)
	}
	msgs = append(msgs, domain.Message{Role: "user", Content: prompt})

	return &domain.ChatRequest{
		Model:    h.model,
		System:   system,
		Messages: msgs,
	}, nil
}

// trimHistory converts chat log rows to provider messages, keeping the
// newest turns that fit the token budget.
func (h *Handle) trimHistory(history []domain.ChatMessage) []domain.Message {
	if len(history) == 0 || h.budget <= 0 {
		return nil
	}

	spent := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := h.counter.Count(history[i].Content)
		if spent+cost > h.budget {
			break
		}
		spent += cost
		start = i
	}

	msgs := make([]domain.Message, 0, len(history)-start)
	for _, m := range history[start:] {
		role := "user"
		if m.Role == domain.RoleBot {
			role = "assistant"
		}
		msgs = append(msgs, domain.Message{Role: role, Content: m.Content})
	}
	return msgs
}

func formatFragments(frags []domain.Fragment) string {
	var sb strings.Builder
	sb.WriteString("Relevant excerpts from the user's uploaded documents:")
	for _, f := range frags {
		sb.WriteString("\n\n")
		if f.Source != "" {
			fmt.Fprintf(&sb, "[%s]\n", f.Source)
		}
		sb.WriteString(f.Text)
	}
	return sb.String()
}
