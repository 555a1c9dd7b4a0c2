package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/supportchat/internal/domain"
)

// SQLiteConversationStore implements ConversationStore backed by SQLite.
// The messages table's autoincrement key is the message Seq.
type SQLiteConversationStore struct {
	db *DB
}

// NewSQLiteConversationStore creates a conversation store using the given database.
func NewSQLiteConversationStore(db *DB) *SQLiteConversationStore {
	return &SQLiteConversationStore{db: db}
}

const sessionColumns = `id, agent_id, status, created_at, last_activity_at, last_read_seq`

func scanSession(row interface{ Scan(...any) error }) (domain.Session, error) {
	var sess domain.Session
	var status, createdAt, lastActivity string
	err := row.Scan(&sess.ID, &sess.AgentID, &status, &createdAt, &lastActivity, &sess.LastReadSeq)
	if err != nil {
		return sess, err
	}
	sess.Status = domain.SessionStatus(status)
	sess.CreatedAt = parseTime(createdAt)
	sess.LastActivityAt = parseTime(lastActivity)
	return sess, nil
}

func notFound(id string) error {
	return fmt.Errorf("session %q: %w", id, domain.ErrNotFound)
}

// CreateSession inserts the session unless one with the same ID exists.
func (s *SQLiteConversationStore) CreateSession(ctx context.Context, sess domain.Session) (*domain.Session, bool, error) {
	ts := now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = ts
	}
	if sess.LastActivityAt.IsZero() {
		sess.LastActivityAt = sess.CreatedAt
	}
	if sess.Status == "" {
		sess.Status = domain.SessionActive
	}

	res, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, 0)
		 ON CONFLICT(id) DO NOTHING`,
		sess.ID, sess.AgentID, string(sess.Status),
		formatTime(sess.CreatedAt), formatTime(sess.LastActivityAt),
	)
	if err != nil {
		return nil, false, fmt.Errorf("creating session %q: %w", sess.ID, err)
	}
	n, _ := res.RowsAffected()

	stored, err := s.GetSession(ctx, sess.ID)
	if err != nil {
		return nil, false, err
	}
	return stored, n > 0, nil
}

// GetSession returns a session or domain.ErrNotFound.
func (s *SQLiteConversationStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	sess, err := scanSession(s.db.sql.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %q: %w", id, err)
	}
	return &sess, nil
}

// ListSessions returns sessions with the most recent activity first.
func (s *SQLiteConversationStore) ListSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY last_activity_at DESC, created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SQLiteConversationStore) updateSession(ctx context.Context, id, stmt string, args ...any) error {
	res, err := s.db.sql.ExecContext(ctx, stmt, append(args, id)...)
	if err != nil {
		return fmt.Errorf("updating session %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

// Touch sets the last-activity timestamp.
func (s *SQLiteConversationStore) Touch(ctx context.Context, id string, at time.Time) error {
	return s.updateSession(ctx, id,
		`UPDATE sessions SET last_activity_at = ? WHERE id = ?`, formatTime(at))
}

// SetStatus changes the lifecycle status.
func (s *SQLiteConversationStore) SetStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	return s.updateSession(ctx, id,
		`UPDATE sessions SET status = ? WHERE id = ?`, string(status))
}

// DeleteSession removes a session and its messages.
func (s *SQLiteConversationStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting messages of %q: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("deleting session %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		tx.Rollback()
		return notFound(id)
	}
	return tx.Commit()
}

// AppendMessage inserts m and returns it with Seq and CreatedAt assigned.
func (s *SQLiteConversationStore) AppendMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	if m.Kind == "" {
		m.Kind = domain.KindText
	}

	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return m, fmt.Errorf("begin append: %w", err)
	}
	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, m.SessionID).Scan(&exists)
	if err != nil {
		tx.Rollback()
		return m, fmt.Errorf("checking session %q: %w", m.SessionID, err)
	}
	if exists == 0 {
		tx.Rollback()
		return m, notFound(m.SessionID)
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, kind, content, media_url, duration_seconds, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.SessionID, string(m.Role), string(m.Kind), m.Content, m.MediaURL,
		m.DurationSeconds, string(m.Source), formatTime(m.CreatedAt),
	)
	if err != nil {
		tx.Rollback()
		return m, fmt.Errorf("appending message to %q: %w", m.SessionID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		tx.Rollback()
		return m, fmt.Errorf("reading message seq: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return m, fmt.Errorf("commit append: %w", err)
	}
	m.Seq = seq
	return m, nil
}

// RecentMessages returns the last n messages oldest-first.
func (s *SQLiteConversationStore) RecentMessages(ctx context.Context, sessionID string, n int) ([]domain.Message, error) {
	const cols = `seq, session_id, role, kind, content, media_url, duration_seconds, source, created_at`
	var (
		rows *sql.Rows
		err  error
	)
	if n > 0 {
		rows, err = s.db.sql.QueryContext(ctx,
			`SELECT `+cols+` FROM (
			   SELECT `+cols+` FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?
			 ) ORDER BY seq ASC`, sessionID, n)
	} else {
		rows, err = s.db.sql.QueryContext(ctx,
			`SELECT `+cols+` FROM messages WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading messages of %q: %w", sessionID, err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var role, kind, source, createdAt string
		if err := rows.Scan(&m.Seq, &m.SessionID, &role, &kind, &m.Content, &m.MediaURL,
			&m.DurationSeconds, &source, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Role = domain.Role(role)
		m.Kind = domain.Kind(kind)
		m.Source = domain.Source(source)
		m.CreatedAt = parseTime(createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkRead moves the read marker to the newest message of the session.
func (s *SQLiteConversationStore) MarkRead(ctx context.Context, sessionID string) error {
	return s.updateSession(ctx, sessionID,
		`UPDATE sessions SET last_read_seq =
		   (SELECT COALESCE(MAX(seq), 0) FROM messages WHERE session_id = sessions.id)
		 WHERE id = ?`)
}

// UnreadCount counts visitor messages after the read marker.
func (s *SQLiteConversationStore) UnreadCount(ctx context.Context, sessionID string) (int, error) {
	var lastRead int64
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT last_read_seq FROM sessions WHERE id = ?`, sessionID).Scan(&lastRead)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound(sessionID)
	}
	if err != nil {
		return 0, fmt.Errorf("loading read marker of %q: %w", sessionID, err)
	}

	var count int
	err = s.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ? AND role = ? AND seq > ?`,
		sessionID, string(domain.RoleUser), lastRead).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting unread of %q: %w", sessionID, err)
	}
	return count, nil
}
