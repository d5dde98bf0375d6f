package domain

import "context"

// Provider defines the interface for LLM providers.
type Provider interface {
	Name() string

	// Complete handles unary requests (non-streaming).
	Complete(ctx context.Context, req *ChatRequest) (string, error)

	// Stream returns a channel of events.
	// The channel MUST be closed by the provider when done.
	Stream(ctx context.Context, req *ChatRequest) (<-chan Event, error)
}

// ChatLog is the append-only persistent message store.
type ChatLog interface {
	Append(ctx context.Context, sessionID string, role Role, content string) error
	History(ctx context.Context, sessionID string) ([]ChatMessage, error)
	Clear(ctx context.Context, sessionID string) error
	Sessions(ctx context.Context) ([]SessionInfo, error)
}

// Retriever is the document retrieval backend consumed by agent handles.
type Retriever interface {
	Query(ctx context.Context, text string, k int) ([]Fragment, error)
}

// Transport delivers UI events to the renderer. Implementations must be
// safe for concurrent use: multiple cycles may emit at once.
type Transport interface {
	CreateBubble(targetID string)
	ClearBubble(targetID string)
	Chunk(text, targetID string)
	Complete()
	Error(message string)
}
