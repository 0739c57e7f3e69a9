package store

import (
	"database/sql"
	"errors"
	"time"
)

func (s *Store) InsertGroup(g *SessionGroup) error {
	_, err := s.db.Exec(`
		INSERT INTO session_groups (id, name, main_session_id, created_at)
		VALUES (?, ?, ?, ?)`,
		g.ID, g.Name, g.MainSessionID, g.CreatedAt.UTC())
	return err
}

func (s *Store) GetGroup(id string) (*SessionGroup, error) {
	row := s.db.QueryRow(`
		SELECT id, name, main_session_id, created_at FROM session_groups WHERE id = ?`, id)
	return scanGroup(row)
}

func (s *Store) ListGroups() ([]*SessionGroup, error) {
	rows, err := s.db.Query(`
		SELECT id, name, main_session_id, created_at FROM session_groups ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var groups []*SessionGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *Store) UpdateGroupName(id, name string) error {
	_, err := s.db.Exec(`UPDATE session_groups SET name = ? WHERE id = ?`, name, id)
	return err
}

// ActiveGroup returns the most recently created group that still has at
// least one non-terminal member session, or nil when none exists.
func (s *Store) ActiveGroup() (*SessionGroup, error) {
	row := s.db.QueryRow(`
		SELECT g.id, g.name, g.main_session_id, g.created_at
		FROM session_groups g
		WHERE EXISTS (
			SELECT 1 FROM session_group_members m
			JOIN sessions sess ON sess.id = m.session_id
			WHERE m.group_id = g.id AND sess.status = 'active')
		ORDER BY g.created_at DESC LIMIT 1`)
	return scanGroup(row)
}

// GroupForSession resolves the group a session belongs to, or nil.
func (s *Store) GroupForSession(sessionID string) (*SessionGroup, error) {
	row := s.db.QueryRow(`
		SELECT g.id, g.name, g.main_session_id, g.created_at
		FROM session_groups g
		JOIN session_group_members m ON m.group_id = g.id
		WHERE m.session_id = ?`, sessionID)
	return scanGroup(row)
}

func (s *Store) AddGroupMember(m *GroupMember) error {
	_, err := s.db.Exec(`
		INSERT INTO session_group_members (group_id, session_id, agent_name, agent_type, joined_at)
		VALUES (?, ?, ?, ?, ?)`,
		m.GroupID, m.SessionID, nullIfEmpty(m.AgentName), nullIfEmpty(m.AgentType), m.JoinedAt.UTC())
	return err
}

func (s *Store) GroupMembers(groupID string) ([]*GroupMember, error) {
	rows, err := s.db.Query(`
		SELECT group_id, session_id, agent_name, agent_type, joined_at
		FROM session_group_members WHERE group_id = ? ORDER BY joined_at`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*GroupMember
	for rows.Next() {
		var m GroupMember
		var name, typ sql.NullString
		if err := rows.Scan(&m.GroupID, &m.SessionID, &name, &typ, &m.JoinedAt); err != nil {
			return nil, err
		}
		m.AgentName = name.String
		m.AgentType = typ.String
		members = append(members, &m)
	}
	return members, rows.Err()
}

// SessionIDsInGroup is the membership lookup used by the fan-out layer to
// resolve group filters.
func (s *Store) SessionIDsInGroup(groupID string) []string {
	rows, err := s.db.Query(`
		SELECT session_id FROM session_group_members WHERE group_id = ?`, groupID)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return ids
		}
		ids = append(ids, id)
	}
	return ids
}

// LatestMemberJoin returns the most recent member join time for a group,
// falling back to the group's creation time when it has no members. The
// column is selected directly rather than through MAX() so the driver's
// DATETIME conversion applies to the scanned value.
func (s *Store) LatestMemberJoin(groupID string) (time.Time, error) {
	var joined time.Time
	err := s.db.QueryRow(`
		SELECT joined_at FROM session_group_members
		WHERE group_id = ? ORDER BY joined_at DESC LIMIT 1`, groupID).Scan(&joined)
	if err == nil {
		return joined, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, err
	}
	g, err := s.GetGroup(groupID)
	if err != nil || g == nil {
		return time.Time{}, err
	}
	return g.CreatedAt, nil
}

// GroupMemberStatuses returns the session status of every member, for
// group-completion checks.
func (s *Store) GroupMemberStatuses(groupID string) ([]SessionStatus, error) {
	rows, err := s.db.Query(`
		SELECT sess.status
		FROM session_group_members m
		JOIN sessions sess ON sess.id = m.session_id
		WHERE m.group_id = ?`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []SessionStatus
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, err
		}
		statuses = append(statuses, SessionStatus(st))
	}
	return statuses, rows.Err()
}

func scanGroup(row rowScanner) (*SessionGroup, error) {
	var g SessionGroup
	err := row.Scan(&g.ID, &g.Name, &g.MainSessionID, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}
