package store

import (
	"database/sql"
	"errors"
	"time"
)

func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, ended_at, working_dir, status, agent_count, event_count, last_activity_at
		FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

func (s *Store) ListSessions() ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, ended_at, working_dir, status, agent_count, event_count, last_activity_at
		FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) InsertSession(sess *Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, started_at, ended_at, working_dir, status, agent_count, event_count, last_activity_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.StartedAt.UTC(), nil, sess.WorkingDir, string(sess.Status),
		sess.AgentCount, sess.EventCount, sess.LastActivityAt.UTC())
	return err
}

// UpdateSessionStatus sets the session status. A non-nil endedAt records
// the terminal time; passing nil clears it (re-activation).
func (s *Store) UpdateSessionStatus(id string, status SessionStatus, endedAt *time.Time) error {
	var ended any
	if endedAt != nil {
		ended = endedAt.UTC()
	}
	_, err := s.db.Exec(`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`,
		string(status), ended, id)
	return err
}

func (s *Store) IncrementSessionEventCount(id string, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET event_count = event_count + 1, last_activity_at = ? WHERE id = ?`,
		at.UTC(), id)
	return err
}

func (s *Store) UpdateSessionAgentCount(id string, count int) error {
	_, err := s.db.Exec(`UPDATE sessions SET agent_count = ? WHERE id = ?`, count, id)
	return err
}

// StaleActiveSessions returns active sessions whose last activity is older
// than cutoff. Used by the periodic sweep.
func (s *Store) StaleActiveSessions(cutoff time.Time) ([]*Session, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, ended_at, working_dir, status, agent_count, event_count, last_activity_at
		FROM sessions WHERE status = 'active' AND last_activity_at < ?`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) CountSessions() (total, active int, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'active' THEN 1 ELSE 0 END), 0) FROM sessions`).
		Scan(&total, &active)
	return total, active, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var status string
	var endedAt sql.NullTime
	err := row.Scan(&sess.ID, &sess.StartedAt, &endedAt, &sess.WorkingDir, &status,
		&sess.AgentCount, &sess.EventCount, &sess.LastActivityAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess.Status = SessionStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}
