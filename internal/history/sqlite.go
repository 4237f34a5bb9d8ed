package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore persists sessions in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the session database at path and prepares
// the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id            TEXT PRIMARY KEY,
		created_at    DATETIME NOT NULL,
		last_activity DATETIME NOT NULL,
		token_count   INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS turns (
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq        INTEGER NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		payload    TEXT,
		tokens     INTEGER NOT NULL,
		truncated  INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_turns_session_role ON turns(session_id, role, seq);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init session schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) EnsureSession(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, last_activity) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`, id, now.UTC(), now.UTC())
	if err != nil {
		return false, fmt.Errorf("ensure session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure session %s: %w", id, err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) AppendTurn(ctx context.Context, t Turn) error {
	var payload any
	if len(t.Payload) > 0 {
		payload = string(t.Payload)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (session_id, seq, role, content, payload, tokens, truncated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.Seq, string(t.Role), t.Content, payload, t.Tokens, t.Truncated, t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("append turn %d to session %s: %w", t.Seq, t.SessionID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteTurn(ctx context.Context, sessionID string, seq int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE session_id = ? AND seq = ?`, sessionID, seq); err != nil {
		return fmt.Errorf("delete turn %d from session %s: %w", seq, sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, seq, role, content, payload, tokens, truncated, created_at
		 FROM turns WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		var role string
		var payload sql.NullString
		if err := rows.Scan(&t.SessionID, &t.Seq, &role, &t.Content, &payload, &t.Tokens, &t.Truncated, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Role = Role(role)
		if payload.Valid && payload.String != "" {
			t.Payload = []byte(payload.String)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list turns for session %s: %w", sessionID, err)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, tokens int, lastActivity time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET token_count = ?, last_activity = ? WHERE id = ?`,
		tokens, lastActivity.UTC(), id)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) Session(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, last_activity, token_count FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.CreatedAt, &sess.LastActivity, &sess.TokenCount)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *SQLiteStore) Sessions(ctx context.Context) ([]SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.created_at, s.last_activity, s.token_count,
		        (SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id),
		        COALESCE((SELECT content FROM turns t WHERE t.session_id = s.id AND t.role = 'user' ORDER BY t.seq ASC LIMIT 1), '')
		 FROM sessions s ORDER BY s.last_activity DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		var info SessionInfo
		if err := rows.Scan(&info.ID, &info.CreatedAt, &info.LastActivity, &info.TokenCount, &info.TurnCount, &info.FirstUser); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		info.Title = TitleFromUtterance(info.FirstUser)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteIdleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM turns WHERE session_id IN (SELECT id FROM sessions WHERE last_activity < ?)`,
		cutoff.UTC()); err != nil {
		return 0, fmt.Errorf("delete idle turns: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM sessions WHERE last_activity < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("delete idle sessions: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
