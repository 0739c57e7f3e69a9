package store

import (
	"database/sql"
	"errors"
	"time"
)

func (s *Store) GetAgent(id, sessionID string) (*Agent, error) {
	row := s.db.QueryRow(`
		SELECT id, session_id, name, type, status, first_seen_at, last_activity_at, tool_call_count, error_count
		FROM agents WHERE id = ? AND session_id = ?`, id, sessionID)
	return scanAgent(row)
}

func (s *Store) AgentsBySession(sessionID string) ([]*Agent, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, name, type, status, first_seen_at, last_activity_at, tool_call_count, error_count
		FROM agents WHERE session_id = ? ORDER BY first_seen_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *Store) InsertAgent(a *Agent) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO agents
		(id, session_id, name, type, status, first_seen_at, last_activity_at, tool_call_count, error_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.Name, a.Type, string(a.Status),
		a.FirstSeenAt.UTC(), a.LastActivityAt.UTC(), a.ToolCallCount, a.ErrorCount)
	return err
}

func (s *Store) UpdateAgentStatus(id, sessionID string, status AgentStatus, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE agents SET status = ?, last_activity_at = ? WHERE id = ? AND session_id = ?`,
		string(status), at.UTC(), id, sessionID)
	return err
}

// UpdateAgentName renames an agent retroactively, used when a pending
// spawn name resolves after the agent row already exists.
func (s *Store) UpdateAgentName(id, sessionID, name string) error {
	_, err := s.db.Exec(`UPDATE agents SET name = ? WHERE id = ? AND session_id = ?`,
		name, id, sessionID)
	return err
}

func (s *Store) IncrementAgentToolCalls(id, sessionID string, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE agents SET tool_call_count = tool_call_count + 1, last_activity_at = ?
		WHERE id = ? AND session_id = ?`, at.UTC(), id, sessionID)
	return err
}

func (s *Store) IncrementAgentErrors(id, sessionID string, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE agents SET error_count = error_count + 1, last_activity_at = ?
		WHERE id = ? AND session_id = ?`, at.UTC(), id, sessionID)
	return err
}

func (s *Store) CountAgentsBySession(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM agents WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var status string
	err := row.Scan(&a.ID, &a.SessionID, &a.Name, &a.Type, &status,
		&a.FirstSeenAt, &a.LastActivityAt, &a.ToolCallCount, &a.ErrorCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	a.Status = AgentStatus(status)
	return &a, nil
}
