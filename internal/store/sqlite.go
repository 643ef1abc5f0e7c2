package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/intakeflow/internal/domain"
	"github.com/ashureev/intakeflow/internal/resilience"
	"github.com/ashureev/intakeflow/internal/shared"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	retry  resilience.Policy
	logger *slog.Logger
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithRetry sets how many times and how quickly SQLITE_BUSY writes are retried.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(s *SQLiteStore) {
		s.retry.MaxAttempts = maxAttempts
		s.retry.Backoff = resilience.Exponential(baseDelay, 2*time.Second, 0)
	}
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLiteStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string, opts ...Option) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL mode lets the sweeper and turn writes overlap.
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: slog.Default(),
		retry: resilience.Policy{
			MaxAttempts: 3,
			Backoff:     resilience.Exponential(100*time.Millisecond, 2*time.Second, 0),
			Retryable:   shared.IsSQLiteConflictError,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.retry.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Debug("sqlite write hit a lock, retrying", "attempt", attempt, "delay", delay, "error", err)
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS interview_sessions (
		session_id TEXT PRIMARY KEY,
		active_phase TEXT NOT NULL,
		turn_count INTEGER NOT NULL DEFAULT 0,
		completion_percent INTEGER NOT NULL DEFAULT 0,
		is_complete INTEGER NOT NULL DEFAULT 0,
		state_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_interview_sessions_updated ON interview_sessions(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// UpsertSession creates or replaces a session snapshot. The first write's
// created_at is preserved.
func (s *SQLiteStore) UpsertSession(ctx context.Context, state domain.ConversationState) error {
	if state.SessionID == "" {
		return errors.New("upsert session: empty session id")
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}

	query := `
	INSERT INTO interview_sessions (
		session_id, active_phase, turn_count, completion_percent, is_complete,
		state_json, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		active_phase = excluded.active_phase,
		turn_count = excluded.turn_count,
		completion_percent = excluded.completion_percent,
		is_complete = MAX(interview_sessions.is_complete, excluded.is_complete),
		state_json = excluded.state_json,
		updated_at = excluded.updated_at`

	createdAt := state.Metadata.StartedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return s.exec(ctx, "upsert session", query,
		state.SessionID, state.ActivePhase, state.TurnCount, state.CompletionPercent,
		boolInt(state.IsComplete), string(payload), createdAt.Unix(), time.Now().Unix(),
	)
}

// GetSession retrieves the snapshot for sessionID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.ConversationState, error) {
	query := `SELECT state_json FROM interview_sessions WHERE session_id = ?`

	var payload string
	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	var state domain.ConversationState
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}
	return &state, nil
}

// DeleteSession removes a snapshot.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	return s.exec(ctx, "delete session", `DELETE FROM interview_sessions WHERE session_id = ?`, sessionID)
}

// CleanupExpiredSessions removes sessions older than TTL.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := time.Now().Add(-ttl).Unix()
	query := `DELETE FROM interview_sessions WHERE updated_at < ?`

	return resilience.Do(ctx, s.retry, func(ctx context.Context) (int64, error) {
		result, err := s.db.ExecContext(ctx, query, threshold)
		if err != nil {
			return 0, fmt.Errorf("cleanup expired sessions: %w", err)
		}
		return result.RowsAffected()
	})
}

// exec runs a write, retrying SQLITE_BUSY and "database is locked" failures.
func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) error {
	_, err := resilience.Do(ctx, s.retry, func(ctx context.Context) (struct{}, error) {
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return struct{}{}, fmt.Errorf("%s: %w", op, err)
		}
		return struct{}{}, nil
	})
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
