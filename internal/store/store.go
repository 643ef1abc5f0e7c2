// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/intakeflow/internal/domain"
)

// Repository persists conversation snapshots. The client owns the live state;
// snapshots exist for recovery and for the downstream analysis.
type Repository interface {
	// UpsertSession creates or replaces the snapshot for state.SessionID.
	UpsertSession(ctx context.Context, state domain.ConversationState) error

	// GetSession returns the latest snapshot, or nil when none exists.
	GetSession(ctx context.Context, sessionID string) (*domain.ConversationState, error)

	// DeleteSession removes a snapshot.
	DeleteSession(ctx context.Context, sessionID string) error

	// CleanupExpiredSessions removes snapshots not updated within ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
