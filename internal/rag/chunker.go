// Package rag provides the document retrieval backend: recursive text
// chunking and an in-memory similarity index over uploaded documents.
package rag

import (
	"strings"
	"unicode/utf8"
)

// ChunkerConfig configures the text chunker.
type ChunkerConfig struct {
	ChunkSize    int // target chunk size in characters (default 1000)
	ChunkOverlap int // overlap between chunks (default 200)
}

// DefaultChunkerConfig returns the defaults used for uploaded documents.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
	}
}

// Chunk holds a single chunk of text with its position and source.
type Chunk struct {
	Text   string
	Index  int // 0-based chunk index within the source
	Source string
}

// ChunkText splits text into overlapping chunks using recursive splitting:
// separators are tried in priority order, segments merged up to the target
// size, and the tail of each chunk carried into the next as overlap.
func ChunkText(text string, config ChunkerConfig) []Chunk {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 0
	}

	if utf8.RuneCountInString(text) <= config.ChunkSize {
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return []Chunk{{Text: text, Index: 0}}
	}

	separators := []string{"\n\n", "\n", ". ", " ", ""}
	chunks := recursiveSplit(text, separators, config.ChunkSize, config.ChunkOverlap)
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

func recursiveSplit(text string, separators []string, chunkSize, overlap int) []Chunk {
	if utf8.RuneCountInString(text) <= chunkSize {
		return []Chunk{{Text: text}}
	}

	// Find the first separator that produces segments
	var segments []string
	var usedSep string
	for _, sep := range separators {
		if sep == "" {
			segments = splitByRunes(text, chunkSize)
			usedSep = ""
			break
		}
		parts := strings.Split(text, sep)
		if len(parts) > 1 {
			segments = parts
			usedSep = sep
			break
		}
	}

	if len(segments) == 0 {
		return []Chunk{{Text: text}}
	}

	// Merge segments into chunks of target size
	var chunks []Chunk
	var current strings.Builder
	for _, seg := range segments {
		candidate := current.String()
		if candidate != "" {
			candidate += usedSep
		}
		candidate += seg

		if utf8.RuneCountInString(candidate) > chunkSize && current.Len() > 0 {
			chunks = append(chunks, Chunk{Text: current.String()})

			// Keep the tail of the flushed chunk as overlap
			tail := overlapTail(current.String(), overlap)
			current.Reset()
			if tail != "" {
				current.WriteString(tail)
				current.WriteString(usedSep)
			}
			current.WriteString(seg)
		} else {
			if current.Len() > 0 {
				current.WriteString(usedSep)
			}
			current.WriteString(seg)
		}
	}
	if current.Len() > 0 {
		chunks = append(chunks, Chunk{Text: current.String()})
	}

	return chunks
}

// overlapTail returns the last n runes of s.
func overlapTail(s string, n int) string {
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[len(runes)-n:])
}

// splitByRunes splits text into segments of n runes each.
func splitByRunes(text string, n int) []string {
	runes := []rune(text)
	var segments []string
	for i := 0; i < len(runes); i += n {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, string(runes[i:end]))
	}
	return segments
}
