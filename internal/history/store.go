package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrSessionNotFound is returned for lookups of a session id that was never
// created (or was purged).
var ErrSessionNotFound = errors.New("session not found")

// Store persists sessions and their turns. Implementations must keep turns
// of a session ordered by sequence index; they are not required to be safe
// for concurrent writers on the same session, the Manager serializes those.
type Store interface {
	// EnsureSession creates the session row if absent. Reports whether it
	// was created by this call.
	EnsureSession(ctx context.Context, id string, now time.Time) (bool, error)
	// AppendTurn stores a new turn. The caller assigns the sequence index.
	AppendTurn(ctx context.Context, t Turn) error
	// DeleteTurn removes one turn by sequence index.
	DeleteTurn(ctx context.Context, sessionID string, seq int64) error
	// Turns returns all retained turns of a session, oldest first.
	Turns(ctx context.Context, sessionID string) ([]Turn, error)
	// UpdateSession refreshes the running token count and activity stamp.
	UpdateSession(ctx context.Context, id string, tokens int, lastActivity time.Time) error
	// Session returns one session header or ErrSessionNotFound.
	Session(ctx context.Context, id string) (*Session, error)
	// Sessions lists all sessions, most recently active first, with turn
	// counts and the first user message for title derivation.
	Sessions(ctx context.Context) ([]SessionInfo, error)
	// DeleteIdleSessions removes sessions (and their turns) whose last
	// activity is before cutoff. Returns how many sessions were removed.
	DeleteIdleSessions(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// MemoryStore is an in-process Store used in tests and as a fallback when
// SQLite cannot be opened.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	turns    map[string][]Turn
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		turns:    make(map[string][]Turn),
	}
}

func (s *MemoryStore) EnsureSession(_ context.Context, id string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		return false, nil
	}
	s.sessions[id] = &Session{ID: id, CreatedAt: now, LastActivity: now}
	return true, nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, t Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[t.SessionID]; !ok {
		return ErrSessionNotFound
	}
	s.turns[t.SessionID] = append(s.turns[t.SessionID], t)
	return nil
}

func (s *MemoryStore) DeleteTurn(_ context.Context, sessionID string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.turns[sessionID]
	for i, t := range turns {
		if t.Seq == seq {
			s.turns[sessionID] = append(turns[:i:i], turns[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) Turns(_ context.Context, sessionID string) ([]Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := s.turns[sessionID]
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *MemoryStore) UpdateSession(_ context.Context, id string, tokens int, lastActivity time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	sess.TokenCount = tokens
	sess.LastActivity = lastActivity
	return nil
}

func (s *MemoryStore) Session(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) Sessions(_ context.Context) ([]SessionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for id, sess := range s.sessions {
		info := SessionInfo{Session: *sess, TurnCount: len(s.turns[id])}
		for _, t := range s.turns[id] {
			if t.Role == RoleUser {
				info.FirstUser = t.Content
				break
			}
		}
		info.Title = TitleFromUtterance(info.FirstUser)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity.After(out[j].LastActivity)
	})
	return out, nil
}

func (s *MemoryStore) DeleteIdleSessions(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, sess := range s.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.turns, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error { return nil }
