package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tribu-digital/campaignbot/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable Store backend, for deployments that want
// conversation history to survive process restarts.
type SQLiteStore struct {
	db     *sql.DB
	policy Policy
	// Serializes appends; the sqlite driver returns SQLITE_BUSY under
	// concurrent writers even in WAL mode.
	writeMu sync.Mutex
}

// NewSQLite creates a SQLite-backed session store.
func NewSQLite(dbPath string, policy Policy) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode for better read concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, policy: policy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		last_active INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_active ON sessions(last_active);

	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
		query TEXT NOT NULL,
		answer TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// GetOrCreate returns a snapshot of the session, inserting it when unseen.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, sessionID string) (*domain.Session, error) {
	now := time.Now()
	s.writeMu.Lock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, created_at, last_active) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, now.Unix(), now.Unix())
	s.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT created_at, last_active FROM sessions WHERE session_id = ?`, sessionID)
	var createdAt, lastActive int64
	if err := row.Scan(&createdAt, &lastActive); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	turns, err := s.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &domain.Session{
		ID:         sessionID,
		Turns:      turns,
		CreatedAt:  time.Unix(createdAt, 0),
		LastActive: time.Unix(lastActive, 0),
	}, nil
}

// Append inserts one turn transactionally and bumps last_active.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, turn domain.Turn) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_active = ? WHERE session_id = ?`,
		turn.Timestamp.Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if affected == 0 {
		return ErrSessionNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, query, answer, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, turn.Query, turn.Answer, turn.Timestamp.Unix()); err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}

	if cap := s.policy.MaxHistoryTurns; cap > 0 {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM turns WHERE session_id = ? AND id NOT IN (
				SELECT id FROM turns WHERE session_id = ? ORDER BY id DESC LIMIT ?
			)`,
			sessionID, sessionID, cap); err != nil {
			return fmt.Errorf("trim history: %w", err)
		}
	}

	return tx.Commit()
}

// History returns the session's turns in insertion order.
func (s *SQLiteStore) History(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT query, answer, created_at FROM turns WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var createdAt int64
		if err := rows.Scan(&t.Query, &t.Answer, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Timestamp = time.Unix(createdAt, 0)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// EvictExpired deletes idle sessions and enforces the session cap.
func (s *SQLiteStore) EvictExpired(ctx context.Context, now time.Time) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	evicted := 0
	if s.policy.IdleTimeout > 0 {
		cutoff := now.Add(-s.policy.IdleTimeout).Unix()
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM turns WHERE session_id IN (SELECT session_id FROM sessions WHERE last_active < ?)`,
			cutoff); err != nil {
			return 0, fmt.Errorf("evict turns: %w", err)
		}
		res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_active < ?`, cutoff)
		if err != nil {
			return 0, fmt.Errorf("evict sessions: %w", err)
		}
		n, _ := res.RowsAffected()
		evicted += int(n)
	}

	if max := s.policy.MaxSessions; max > 0 {
		// Turns go first: the pooled connections do not share a foreign_keys
		// pragma, so the cascade cannot be relied on. Leaving them behind
		// would resurrect the conversation when the same id reappears.
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM turns WHERE session_id IN (
				SELECT session_id FROM sessions WHERE session_id NOT IN (
					SELECT session_id FROM sessions ORDER BY last_active DESC LIMIT ?
				)
			)`, max); err != nil {
			return 0, fmt.Errorf("evict capped turns: %w", err)
		}
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM sessions WHERE session_id NOT IN (
				SELECT session_id FROM sessions ORDER BY last_active DESC LIMIT ?
			)`, max)
		if err != nil {
			return 0, fmt.Errorf("enforce session cap: %w", err)
		}
		n, _ := res.RowsAffected()
		evicted += int(n)
	}

	if evicted > 0 {
		slog.Info("Evicted sessions", "count", evicted)
	}
	return evicted, nil
}

// Len returns the number of live sessions.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }
