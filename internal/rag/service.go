package rag

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/agenticlabs/workspace/internal/domain"
)

// textExtensions are the accepted upload types. Content is decoded as
// UTF-8 text; format parsing beyond that is delegated to whatever produced
// the upload. Files outside this set, or with undecodable bytes, are
// skipped with a per-file warning rather than failing the batch.
var textExtensions = map[string]struct{}{
	".pdf":  {},
	".txt":  {},
	".md":   {},
	".csv":  {},
	".py":   {},
	".js":   {},
	".json": {},
	".go":   {},
}

// Service is the document retrieval backend: it chunks and indexes
// uploaded content and answers similarity queries. It also tracks the set
// of uploaded filenames for UI display.
type Service struct {
	index   *Index
	chunker ChunkerConfig
	logger  *slog.Logger

	mu    sync.Mutex
	files map[string]struct{}
}

// NewService creates a retrieval service.
func NewService(chunker ChunkerConfig, logger *slog.Logger) *Service {
	return &Service{
		index:   NewIndex(),
		chunker: chunker,
		logger:  logger,
		files:   make(map[string]struct{}),
	}
}

// IngestFiles chunks and indexes a batch of uploaded files. Per-file
// failures are isolated: one unreadable file does not abort the batch.
// Returns true iff at least one chunk was indexed.
func (s *Service) IngestFiles(ctx context.Context, files []domain.File) (bool, error) {
	var all []Chunk
	var failed []string

	for _, f := range files {
		text, ok := s.readText(f)
		if !ok {
			failed = append(failed, f.Name)
			continue
		}

		chunks := ChunkText(text, s.chunker)
		for i := range chunks {
			chunks[i].Source = f.Name
		}
		if len(chunks) == 0 {
			s.logger.Warn("file produced no chunks", slog.String("file", f.Name))
			continue
		}
		all = append(all, chunks...)

		s.mu.Lock()
		s.files[f.Name] = struct{}{}
		s.mu.Unlock()
	}

	if len(all) == 0 {
		if len(failed) > 0 {
			return false, &domain.IngestionError{Failed: failed}
		}
		return false, nil
	}

	s.index.Add(all)
	s.logger.Info("ingested document chunks",
		slog.Int("chunks", len(all)),
		slog.Int("files", len(files)),
		slog.Int("failed", len(failed)))
	return true, nil
}

// IngestText chunks and indexes raw text under a source label.
func (s *Service) IngestText(ctx context.Context, text, sourceLabel string) (bool, error) {
	chunks := ChunkText(text, s.chunker)
	if len(chunks) == 0 {
		return false, nil
	}
	for i := range chunks {
		chunks[i].Source = sourceLabel
	}
	s.index.Add(chunks)

	s.mu.Lock()
	s.files[sourceLabel] = struct{}{}
	s.mu.Unlock()

	return true, nil
}

// Query returns the k most similar indexed fragments.
func (s *Service) Query(ctx context.Context, text string, k int) ([]domain.Fragment, error) {
	return s.index.Search(text, k), nil
}

// Clear drops the whole index and the tracked filename set. Idempotent:
// clearing an empty index succeeds.
func (s *Service) Clear() error {
	s.index.Clear()

	s.mu.Lock()
	s.files = make(map[string]struct{})
	s.mu.Unlock()

	s.logger.Info("retrieval index cleared")
	return nil
}

// Stats reports the index size and status.
func (s *Service) Stats() domain.IndexStats {
	n := s.index.Len()
	status := "active"
	if n == 0 {
		status = "empty"
	}
	return domain.IndexStats{TotalChunks: n, Status: status}
}

// Filenames returns the tracked uploaded filenames, sorted.
func (s *Service) Filenames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// readText decodes a file's bytes as text. Unsupported or non-UTF-8
// content is skipped with a warning.
func (s *Service) readText(f domain.File) (string, bool) {
	ext := strings.ToLower(filepath.Ext(f.Name))
	if _, ok := textExtensions[ext]; !ok {
		s.logger.Warn("unsupported file type", slog.String("file", f.Name))
		return "", false
	}
	if !utf8.Valid(f.Data) {
		s.logger.Warn("file is not valid UTF-8 text", slog.String("file", f.Name))
		return "", false
	}
	return string(f.Data), true
}
