// Package session provides conversation history storage with idle and
// capacity based eviction.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/tribu-digital/campaignbot/internal/domain"
)

// ErrSessionNotFound is returned by Append when the session does not exist.
// Given orchestrator discipline (GetOrCreate before Append in the same
// request) this indicates an internal inconsistency, typically a concurrent
// eviction.
var ErrSessionNotFound = errors.New("session: not found")

// Store persists per-session conversation history.
type Store interface {
	// GetOrCreate returns a snapshot of the session, creating an empty one
	// for an unseen id. It never fails on the memory backend.
	GetOrCreate(ctx context.Context, sessionID string) (*domain.Session, error)

	// Append adds one turn to the session's history, serialized per session.
	Append(ctx context.Context, sessionID string, turn domain.Turn) error

	// History returns a snapshot of the session's turns in insertion order.
	History(ctx context.Context, sessionID string) ([]domain.Turn, error)

	// EvictExpired removes sessions idle longer than the configured timeout
	// and returns how many were evicted. Safe to call concurrently with
	// reads and writes on other sessions.
	EvictExpired(ctx context.Context, now time.Time) (int, error)

	// Len returns the number of live sessions.
	Len(ctx context.Context) (int, error)

	// Close releases backend resources.
	Close() error
}

// Policy holds the retention knobs shared by all backends.
type Policy struct {
	// IdleTimeout evicts sessions whose last activity is older than this.
	IdleTimeout time.Duration
	// MaxSessions caps live sessions; the least-recently-active session is
	// evicted when the cap is exceeded.
	MaxSessions int
	// MaxHistoryTurns bounds per-session retention; oldest turns beyond the
	// cap are dropped on append. Zero means unbounded.
	MaxHistoryTurns int
}
