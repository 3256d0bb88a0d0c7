// Package statestore persists task-loop conversation state in SQLite.
//
// Each conversation is stored as a JSON snapshot of a taskloop.VolatileMemory,
// so a CLI session can be resumed across processes.
package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/martinemde/selfinstruct/taskloop"
)

// Conversation describes a stored conversation.
type Conversation struct {
	ID        string
	InTask    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SQLiteStore keeps conversation snapshots in a SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// Open opens or creates the database at path. The special path ":memory:"
// opens a private in-memory database.
func Open(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		in_task INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	return nil
}

// Path returns the database path.
func (s *SQLiteStore) Path() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load returns the memory stored for id. Unknown ids yield an empty memory.
func (s *SQLiteStore) Load(ctx context.Context, id string) (*taskloop.VolatileMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state string
	err := s.db.QueryRowContext(ctx, "SELECT state FROM conversations WHERE id = ?", id).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		log.Ctx(ctx).Debug().Str("conversation", id).Msg("starting new conversation")
		return taskloop.NewVolatileMemory(nil), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", id, err)
	}

	var values map[string]any
	if err := json.Unmarshal([]byte(state), &values); err != nil {
		return nil, fmt.Errorf("conversation %s has corrupt state: %w", id, err)
	}
	return taskloop.NewVolatileMemory(values), nil
}

// Save writes a snapshot of memory under id, replacing any previous state.
func (s *SQLiteStore) Save(ctx context.Context, id string, memory *taskloop.VolatileMemory) error {
	state, err := json.Marshal(memory.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to encode conversation %s: %w", id, err)
	}
	inTask, _ := memory.Get(taskloop.InTaskKey).(bool)
	now := time.Now().UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, state, in_task, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		 state = excluded.state,
		 in_task = excluded.in_task,
		 updated_at = excluded.updated_at`,
		id, string(state), inTask, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", id, err)
	}
	return nil
}

// Delete removes the conversation. Deleting an unknown id is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "DELETE FROM conversations WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete conversation %s: %w", id, err)
	}
	return nil
}

// List returns stored conversations, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, in_task, created_at, updated_at FROM conversations ORDER BY updated_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var c Conversation
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.InTask, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to read conversation: %w", err)
		}
		c.CreatedAt = time.UnixMilli(created)
		c.UpdatedAt = time.UnixMilli(updated)
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}
