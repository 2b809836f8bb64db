package store

import (
	"database/sql"
	"fmt"
	"slices"

	"github.com/pavelanni/tutor/internal/model"
)

const sessionColumns = `id, student_id, name, created_at, last_activity, message_count, archived`

func scanSession(row rowScanner) (*model.Session, error) {
	var sess model.Session
	var archived int
	err := row.Scan(&sess.ID, &sess.StudentID, &sess.Name, &sess.CreatedAt,
		&sess.LastActivity, &sess.MessageCount, &archived)
	if err != nil {
		return nil, err
	}
	sess.Archived = archived != 0
	return &sess, nil
}

// CreateSession starts a chat session for a student.
func (s *Store) CreateSession(studentID, name string) (*model.Session, error) {
	now := s.now()
	sess := &model.Session{
		ID:           newID("sess", now),
		StudentID:    studentID,
		Name:         name,
		CreatedAt:    now,
		LastActivity: now,
	}
	_, err := s.db.Exec(
		`INSERT INTO chat_sessions (id, student_id, name, created_at, last_activity) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, studentID, name, now.UTC(), now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetSession returns a session by id, or ErrNotFound.
func (s *Store) GetSession(id string) (*model.Session, error) {
	sess, err := scanSession(s.db.QueryRow(`SELECT `+sessionColumns+` FROM chat_sessions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return sess, err
}

// ListSessions returns the student's sessions, most recently active first.
func (s *Store) ListSessions(studentID string, includeArchived bool) ([]model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE student_id = ?`
	if !includeArchived {
		query += ` AND archived = 0`
	}
	query += ` ORDER BY last_activity DESC, rowid DESC`
	rows, err := s.db.Query(query, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// RenameSession changes a session's display name.
func (s *Store) RenameSession(id, name string) error {
	return s.updateSession(`UPDATE chat_sessions SET name = ? WHERE id = ?`, name, id)
}

// SetSessionArchived archives or restores a session.
func (s *Store) SetSessionArchived(id string, archived bool) error {
	return s.updateSession(`UPDATE chat_sessions SET archived = ? WHERE id = ?`, boolToInt(archived), id)
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM chat_messages WHERE session_id = ?`, id); err != nil {
		return err
	}
	res, err := tx.Exec(`DELETE FROM chat_sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *Store) updateSession(query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddMessage appends a message to a session and bumps its activity time.
func (s *Store) AddMessage(sessionID string, role model.Role, content string) (*model.ChatMessage, error) {
	now := s.now()
	msg := &model.ChatMessage{
		ID:        newID("msg", now),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`UPDATE chat_sessions SET last_activity = ?, message_count = message_count + 1 WHERE id = ?`,
		now.UTC(), sessionID,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}

	_, err = tx.Exec(
		`INSERT INTO chat_messages (id, session_id, seq, role, content, created_at)
		 VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM chat_messages WHERE session_id = ?), ?, ?, ?)`,
		msg.ID, sessionID, sessionID, role, content, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, tx.Commit()
}

// RecentMessages returns up to limit of the session's latest messages in
// chronological order. A limit of zero or less returns the whole history.
func (s *Store) RecentMessages(sessionID string, limit int) ([]model.ChatMessage, error) {
	query := `SELECT id, session_id, role, content, created_at FROM chat_messages
		WHERE session_id = ? ORDER BY seq DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}
