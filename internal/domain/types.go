// Package domain holds the core types and ports of the workspace backend.
package domain

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// Request is one user submission. TargetID names an existing UI bubble to
// continue in place; empty means a fresh response. SessionID groups messages
// in the chat log and may be empty for the default session.
type Request struct {
	UserText  string `json:"user_text"`
	TargetID  string `json:"target_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// StageOutput is one labeled emission of a pipeline cycle.
type StageOutput struct {
	Label   string `json:"label"`
	Content string `json:"content"`
}

// ChatMessage is one persisted row of the chat log. Append-only.
type ChatMessage struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionInfo is a derived view over the chat log, computed on read.
type SessionInfo struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	LastActive time.Time `json:"last_active"`
}

// Message is one turn of a provider conversation payload.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the canonical payload sent to a provider.
type ChatRequest struct {
	Model    string
	System   string
	Messages []Message
}

// Event is one element of a provider stream. The provider closes the
// channel after the final event. Err, when set, terminates the stream.
type Event struct {
	ContentDelta string
	Err          error
}

// Fragment is one retrieved document excerpt with its relevance score.
type Fragment struct {
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
}

// File is an uploaded document: a name and its raw bytes.
type File struct {
	Name string
	Data []byte
}

// IndexStats describes the retrieval index.
type IndexStats struct {
	TotalChunks int    `json:"total_chunks"`
	Status      string `json:"status"` // active, empty, or error
}
