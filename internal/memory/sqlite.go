package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps insight sets in a local SQLite database
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the database at path.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one connection keeps ":memory:" a single database and serialises writes
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS user_memories (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		memories TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func (s *SQLiteStore) FindByUser(ctx context.Context, userID string) (*Record, error) {
	var rec Record
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, memories FROM user_memories WHERE user_id = ?`, userID,
	).Scan(&rec.ID, &rec.UserID, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &rec.Memories); err != nil {
		return nil, fmt.Errorf("decode memories: %w", err)
	}
	if rec.Memories == nil {
		rec.Memories = []string{}
	}
	return &rec, nil
}

func (s *SQLiteStore) Insert(ctx context.Context, userID string) (*Record, error) {
	rec := &Record{ID: uuid.New().String(), UserID: userID, Memories: []string{}}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_memories (id, user_id, memories) VALUES (?, ?, '[]')`, rec.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("insert memories: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Update(ctx context.Context, userID string, memories []string) error {
	data, err := json.Marshal(memories)
	if err != nil {
		return fmt.Errorf("encode memories: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE user_memories SET memories = ?, updated_at = CURRENT_TIMESTAMP WHERE user_id = ?`,
		string(data), userID)
	if err != nil {
		return fmt.Errorf("update memories: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
