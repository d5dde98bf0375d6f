package domain

import "fmt"

// ConfigurationError means the active provider has no credential. It is
// surfaced before any cycle worker is spawned and nothing is persisted.
type ConfigurationError struct {
	Provider string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("no API key configured for provider %s", e.Provider)
}

// UserMessage is the text rendered inline in place of a response.
func (e *ConfigurationError) UserMessage() string {
	return fmt.Sprintf("Please set your %s API Key first.", titleCase(e.Provider))
}

// InvocationError wraps a provider failure during a cycle. It becomes a
// terminal Failed transport event; nothing is persisted for the cycle.
type InvocationError struct {
	Provider string
	Stage    string // empty outside pipeline mode
	Err      error
}

func (e *InvocationError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s invocation failed at stage %s: %v", e.Provider, e.Stage, e.Err)
	}
	return fmt.Sprintf("%s invocation failed: %v", e.Provider, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// IngestionError reports the files that failed during an ingest batch.
// Per-file failures are isolated; the batch succeeds if any chunk landed.
type IngestionError struct {
	Failed []string
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion failed for %d file(s): %v", len(e.Failed), e.Failed)
}

// StorageError wraps a persistence failure. Fatal for that write, never retried.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func titleCase(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
