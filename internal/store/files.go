package store

// UpsertFileChange records a file access, keeping the first-seen time and
// advancing last-seen on repeat access. change_type is created, modified,
// or read.
func (s *Store) UpsertFileChange(fc *FileChange) error {
	_, err := s.db.Exec(`
		INSERT INTO file_changes (file_path, session_id, agent_id, change_type, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path, session_id) DO UPDATE SET
			agent_id = excluded.agent_id,
			change_type = excluded.change_type,
			last_seen_at = excluded.last_seen_at`,
		fc.FilePath, fc.SessionID, fc.AgentID, fc.ChangeType,
		fc.FirstSeenAt.UTC(), fc.LastSeenAt.UTC())
	return err
}

func (s *Store) FileChangesBySession(sessionID string) ([]*FileChange, error) {
	rows, err := s.db.Query(`
		SELECT file_path, session_id, agent_id, change_type, first_seen_at, last_seen_at
		FROM file_changes WHERE session_id = ? ORDER BY last_seen_at DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []*FileChange
	for rows.Next() {
		var fc FileChange
		err := rows.Scan(&fc.FilePath, &fc.SessionID, &fc.AgentID, &fc.ChangeType,
			&fc.FirstSeenAt, &fc.LastSeenAt)
		if err != nil {
			return nil, err
		}
		changes = append(changes, &fc)
	}
	return changes, rows.Err()
}

// CountEvents returns total persisted events, for /api/stats.
func (s *Store) CountEvents() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM events`).Scan(&n)
	return n, err
}
