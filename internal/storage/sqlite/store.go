// Package sqlite is the file-backed chat log: an append-only message store
// keyed by session.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agenticlabs/workspace/internal/domain"
)

// titleLimit is the maximum length of a derived session title.
const titleLimit = 30

// Store is a SQLite implementation of the ChatLog interface.
type Store struct {
	db *sql.DB
}

var _ domain.ChatLog = (*Store)(nil)

// New opens (or creates) the chat log database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

// Append inserts one message. Each call is a self-contained transaction,
// safe under concurrent cycles.
func (s *Store) Append(ctx context.Context, sessionID string, role domain.Role, content string) error {
	query := `INSERT INTO messages (session_id, role, content) VALUES (?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query, nullable(sessionID), string(role), content)
	if err != nil {
		return &domain.StorageError{Op: "append", Err: err}
	}
	return nil
}

// History returns a session's messages ordered by insertion.
func (s *Store) History(ctx context.Context, sessionID string) ([]domain.ChatMessage, error) {
	query := `SELECT id, session_id, role, content, timestamp
	          FROM messages WHERE session_id IS ?
	          ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, nullable(sessionID))
	if err != nil {
		return nil, &domain.StorageError{Op: "history", Err: err}
	}
	defer rows.Close()

	var messages []domain.ChatMessage
	for rows.Next() {
		var msg domain.ChatMessage
		var sid sql.NullString
		var role string
		if err := rows.Scan(&msg.ID, &sid, &role, &msg.Content, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.SessionID = sid.String
		msg.Role = domain.Role(role)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

// Clear deletes all rows for a session.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id IS ?`, nullable(sessionID))
	if err != nil {
		return &domain.StorageError{Op: "clear", Err: err}
	}
	return nil
}

// Sessions lists the distinct sessions with derived titles and activity
// times. Titles come from the first user message, truncated; sessions with
// no user message are titled "New Chat".
func (s *Store) Sessions(ctx context.Context) ([]domain.SessionInfo, error) {
	query := `SELECT COALESCE(session_id, ''),
	                 COALESCE((SELECT m2.content FROM messages m2
	                           WHERE m2.session_id IS m.session_id AND m2.role = 'user'
	                           ORDER BY m2.id ASC LIMIT 1), ''),
	                 MAX(timestamp)
	          FROM messages m
	          GROUP BY session_id
	          ORDER BY MAX(timestamp) DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &domain.StorageError{Op: "sessions", Err: err}
	}
	defer rows.Close()

	var sessions []domain.SessionInfo
	for rows.Next() {
		var info domain.SessionInfo
		var firstUser, lastActive string
		if err := rows.Scan(&info.ID, &firstUser, &lastActive); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		info.Title = deriveTitle(firstUser)
		info.LastActive = parseTimestamp(lastActive)
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// deriveTitle truncates the first user message to the title limit,
// appending an ellipsis when cut.
func deriveTitle(firstUser string) string {
	if firstUser == "" {
		return "New Chat"
	}
	runes := []rune(firstUser)
	if len(runes) <= titleLimit {
		return firstUser
	}
	return string(runes[:titleLimit]) + "..."
}

// parseTimestamp handles the formats SQLite emits for aggregate
// expressions, where the driver returns text instead of time.Time.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// nullable maps the empty session id to NULL, per the schema.
func nullable(sessionID string) sql.NullString {
	return sql.NullString{String: sessionID, Valid: sessionID != ""}
}
