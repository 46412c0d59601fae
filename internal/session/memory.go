package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tribu-digital/campaignbot/internal/domain"
)

// MemoryStore is the in-process Store backend. Reads take a shared lock on
// the session map; appends serialize on a per-session mutex so concurrent
// requests for one session cannot corrupt its history while requests for
// different sessions proceed fully in parallel.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memSession
	policy   Policy
	now      func() time.Time
}

type memSession struct {
	mu         sync.Mutex
	turns      []domain.Turn
	createdAt  time.Time
	lastActive time.Time
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore(policy Policy) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memSession),
		policy:   policy,
		now:      time.Now,
	}
}

// GetOrCreate returns a snapshot of the named session, creating it lazily.
func (s *MemoryStore) GetOrCreate(_ context.Context, sessionID string) (*domain.Session, error) {
	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		entry, ok = s.sessions[sessionID]
		if !ok {
			now := s.now()
			entry = &memSession{createdAt: now, lastActive: now}
			s.sessions[sessionID] = entry
			s.enforceCapLocked(sessionID)
		}
		s.mu.Unlock()
	}

	return entry.snapshot(sessionID), nil
}

// Append adds one turn, serializing on the session's own lock.
func (s *MemoryStore) Append(_ context.Context, sessionID string, turn domain.Turn) error {
	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.turns = append(entry.turns, turn)
	if cap := s.policy.MaxHistoryTurns; cap > 0 && len(entry.turns) > cap {
		entry.turns = entry.turns[len(entry.turns)-cap:]
	}
	entry.lastActive = s.now()
	return nil
}

// History returns a copy of the session's turns in insertion order.
func (s *MemoryStore) History(_ context.Context, sessionID string) ([]domain.Turn, error) {
	s.mu.RLock()
	entry, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry.snapshot(sessionID).Turns, nil
}

// EvictExpired removes sessions idle longer than the policy's IdleTimeout.
func (s *MemoryStore) EvictExpired(_ context.Context, now time.Time) (int, error) {
	if s.policy.IdleTimeout <= 0 {
		return 0, nil
	}
	cutoff := now.Add(-s.policy.IdleTimeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, entry := range s.sessions {
		entry.mu.Lock()
		idle := entry.lastActive.Before(cutoff)
		entry.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Info("Evicted idle sessions", "count", evicted)
	}
	return evicted, nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

// Close is a no-op for the memory backend.
func (s *MemoryStore) Close() error { return nil }

// enforceCapLocked drops least-recently-active sessions while over the cap,
// sparing the just-created one. Caller holds the write lock.
func (s *MemoryStore) enforceCapLocked(justCreated string) {
	max := s.policy.MaxSessions
	if max <= 0 {
		return
	}
	for len(s.sessions) > max {
		var oldestID string
		var oldest time.Time
		for id, entry := range s.sessions {
			if id == justCreated {
				continue
			}
			entry.mu.Lock()
			last := entry.lastActive
			entry.mu.Unlock()
			if oldestID == "" || last.Before(oldest) {
				oldestID, oldest = id, last
			}
		}
		if oldestID == "" {
			return
		}
		delete(s.sessions, oldestID)
		slog.Info("Evicted session over capacity", "session_id", oldestID)
	}
}

func (e *memSession) snapshot(id string) *domain.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	turns := make([]domain.Turn, len(e.turns))
	copy(turns, e.turns)
	return &domain.Session{
		ID:         id,
		Turns:      turns,
		CreatedAt:  e.createdAt,
		LastActive: e.lastActive,
	}
}
