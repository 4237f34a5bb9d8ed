package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"argochat/internal/logger"
)

// TruncationMarker is appended to message content cut down to the
// per-message token cap.
const TruncationMarker = "... [truncated]"

// Budgets bound how much history a session retains.
type Budgets struct {
	MaxSessionTokens int
	MaxMessageTokens int
	MaxTurns         int
}

// Manager is the only way the rest of the system touches conversation
// state. It serializes writers per session, assigns monotonic sequence
// indexes, enforces token budgets, and evicts oldest non-system turns
// under pressure.
type Manager struct {
	store  Store
	budget Budgets
	count  TokenCounter

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager wires a Manager over a Store. A nil counter falls back to
// EstimateTokens.
func NewManager(store Store, b Budgets, counter TokenCounter) *Manager {
	if counter == nil {
		counter = EstimateTokens
	}
	return &Manager{
		store:  store,
		budget: b,
		count:  counter,
		locks:  make(map[string]*sync.Mutex),
	}
}

// sessionLock returns the mutex guarding one session id, creating it on
// first use. The map itself is guarded by m.mu; session locks are never
// removed so a lock value stays valid for the process lifetime.
func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// EnsureSession creates the session if it does not exist yet and reports
// whether this call created it.
func (m *Manager) EnsureSession(ctx context.Context, sessionID string) (bool, error) {
	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()
	return m.store.EnsureSession(ctx, sessionID, time.Now().UTC())
}

// Append stores a new turn at the next sequence index and applies budget
// pressure: the message itself is truncated to the per-message cap, then
// oldest non-system turns are evicted until the session cap and turn count
// hold again. The turn being appended and system turns are never evicted.
func (m *Manager) Append(ctx context.Context, sessionID string, role Role, content string, payload json.RawMessage) (SessionView, error) {
	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	now := time.Now().UTC()
	if _, err := m.store.EnsureSession(ctx, sessionID, now); err != nil {
		return SessionView{}, err
	}

	content, truncated := m.truncate(content)

	turns, err := m.store.Turns(ctx, sessionID)
	if err != nil {
		return SessionView{}, err
	}
	var seq int64 = 1
	if n := len(turns); n > 0 {
		seq = turns[n-1].Seq + 1
	}

	t := Turn{
		SessionID: sessionID,
		Seq:       seq,
		Role:      role,
		Content:   content,
		Payload:   payload,
		Tokens:    m.count(content),
		Truncated: truncated,
		CreatedAt: now,
	}
	if err := m.store.AppendTurn(ctx, t); err != nil {
		return SessionView{}, err
	}

	retained := append(turns, t)
	total := 0
	for _, rt := range retained {
		total += rt.Tokens
	}

	for m.overBudget(total, len(retained)) {
		idx, ok := oldestEvictable(retained)
		if !ok {
			break
		}
		victim := retained[idx]
		if err := m.store.DeleteTurn(ctx, sessionID, victim.Seq); err != nil {
			return SessionView{}, err
		}
		logger.L.Debug("evicted turn under budget pressure",
			"session_id", sessionID, "seq", victim.Seq, "tokens", victim.Tokens)
		total -= victim.Tokens
		retained = append(retained[:idx], retained[idx+1:]...)
	}

	if err := m.store.UpdateSession(ctx, sessionID, total, now); err != nil {
		return SessionView{}, err
	}

	return SessionView{
		SessionID:  sessionID,
		TokenCount: total,
		TurnCount:  len(retained),
		LastSeq:    seq,
	}, nil
}

func (m *Manager) overBudget(totalTokens, turnCount int) bool {
	if m.budget.MaxSessionTokens > 0 && totalTokens > m.budget.MaxSessionTokens {
		return true
	}
	if m.budget.MaxTurns > 0 && turnCount > m.budget.MaxTurns {
		return true
	}
	return false
}

// oldestEvictable picks the first turn, in chronological order, that is
// neither a system turn nor the newest turn.
func oldestEvictable(turns []Turn) (int, bool) {
	for i := 0; i < len(turns)-1; i++ {
		if turns[i].Role != RoleSystem {
			return i, true
		}
	}
	return 0, false
}

// truncate cuts content down to roughly the per-message token cap, at a
// rune boundary, and appends the truncation marker.
func (m *Manager) truncate(content string) (string, bool) {
	max := m.budget.MaxMessageTokens
	if max <= 0 || m.count(content) <= max {
		return content, false
	}
	cut := max * 4
	if cut >= len(content) {
		cut = len(content) - 1
	}
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + TruncationMarker, true
}

// Context returns the session's turns oldest first. With budgetTokens > 0
// it keeps the newest turns that fit the budget, always including the
// leading system turn; with budgetTokens <= 0 it returns everything
// retained.
func (m *Manager) Context(ctx context.Context, sessionID string, budgetTokens int) ([]Turn, error) {
	l := m.sessionLock(sessionID)
	l.Lock()
	defer l.Unlock()

	turns, err := m.store.Turns(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if budgetTokens <= 0 || len(turns) == 0 {
		return turns, nil
	}

	var system *Turn
	rest := make([]Turn, 0, len(turns))
	for i := range turns {
		if system == nil && turns[i].Role == RoleSystem {
			system = &turns[i]
			continue
		}
		rest = append(rest, turns[i])
	}

	remaining := budgetTokens
	if system != nil {
		remaining -= system.Tokens
	}

	// walk newest first, keep what fits, then restore chronological order
	picked := make([]Turn, 0, len(rest))
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i].Tokens > remaining {
			break
		}
		picked = append(picked, rest[i])
		remaining -= rest[i].Tokens
	}
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}

	out := make([]Turn, 0, len(picked)+1)
	if system != nil {
		out = append(out, *system)
	}
	out = append(out, picked...)
	return out, nil
}

// Session returns the stored header for one session.
func (m *Manager) Session(ctx context.Context, sessionID string) (*Session, error) {
	return m.store.Session(ctx, sessionID)
}

// Sessions lists all sessions, most recently active first.
func (m *Manager) Sessions(ctx context.Context) ([]SessionInfo, error) {
	return m.store.Sessions(ctx)
}

// PurgeIdle removes sessions idle since before cutoff.
func (m *Manager) PurgeIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := m.store.DeleteIdleSessions(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge idle sessions: %w", err)
	}
	return n, nil
}
