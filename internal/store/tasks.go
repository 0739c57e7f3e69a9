package store

import (
	"database/sql"
	"errors"
	"time"
)

func (s *Store) InsertProject(p *Project) error {
	_, err := s.db.Exec(`INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)`,
		p.ID, p.Name, p.CreatedAt.UTC())
	return err
}

func (s *Store) GetProject(id string) (*Project, error) {
	row := s.db.QueryRow(`SELECT id, name, created_at FROM projects WHERE id = ?`, id)
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProjects() ([]*Project, error) {
	rows, err := s.db.Query(`SELECT id, name, created_at FROM projects ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

func (s *Store) InsertWorkItem(w *WorkItem) error {
	_, err := s.db.Exec(`
		INSERT INTO work_items (id, project_id, title, status, assigned_agent, external_id, manual_edit, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.ProjectID, w.Title, string(w.Status),
		nullIfEmpty(w.AssignedAgent), nullIfEmpty(w.ExternalID), w.ManualEdit, w.UpdatedAt.UTC())
	return err
}

func (s *Store) GetWorkItem(id string) (*WorkItem, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, title, status, assigned_agent, external_id, manual_edit, updated_at
		FROM work_items WHERE id = ?`, id)
	return scanWorkItem(row)
}

func (s *Store) WorkItemsByProject(projectID string) ([]*WorkItem, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, title, status, assigned_agent, external_id, manual_edit, updated_at
		FROM work_items WHERE project_id = ? ORDER BY rowid`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// UnlinkedWorkItems returns every work item across all projects that has
// no external correlation id yet, in first-encountered (insertion) order.
// Fuzzy matching scans these as candidates.
func (s *Store) UnlinkedWorkItems() ([]*WorkItem, error) {
	rows, err := s.db.Query(`
		SELECT id, project_id, title, status, assigned_agent, external_id, manual_edit, updated_at
		FROM work_items WHERE external_id IS NULL ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}

// WorkItemByExternalID finds the single work item owning an external
// correlation id, or nil.
func (s *Store) WorkItemByExternalID(externalID string) (*WorkItem, error) {
	row := s.db.QueryRow(`
		SELECT id, project_id, title, status, assigned_agent, external_id, manual_edit, updated_at
		FROM work_items WHERE external_id = ?`, externalID)
	return scanWorkItem(row)
}

func (s *Store) LinkWorkItem(id, externalID string, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE work_items SET external_id = ?, updated_at = ? WHERE id = ?`,
		externalID, at.UTC(), id)
	return err
}

func (s *Store) UpdateWorkItemStatus(id string, status WorkItemStatus, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE work_items SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), at.UTC(), id)
	return err
}

func (s *Store) AssignWorkItem(id, agent string, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE work_items SET assigned_agent = ?, updated_at = ? WHERE id = ?`,
		agent, at.UTC(), id)
	return err
}

// MarkWorkItemManualEdit applies an exogenous (human) edit. Manually
// edited items keep their status against later correlation updates.
func (s *Store) MarkWorkItemManualEdit(id string, status WorkItemStatus, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE work_items SET status = ?, manual_edit = 1, updated_at = ? WHERE id = ?`,
		string(status), at.UTC(), id)
	return err
}

func (s *Store) InsertActivity(a *CorrelationActivity) error {
	_, err := s.db.Exec(`
		INSERT INTO correlation_activity
		(id, work_item_id, event_id, session_id, agent_id, activity_type, confidence, timestamp, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.WorkItemID, a.EventID, a.SessionID, a.AgentID, a.ActivityType,
		a.Confidence, a.Timestamp.UTC(), nullIfEmpty(a.Details))
	return err
}

func (s *Store) ActivityByWorkItem(workItemID string) ([]*CorrelationActivity, error) {
	rows, err := s.db.Query(`
		SELECT id, work_item_id, event_id, session_id, agent_id, activity_type, confidence, timestamp, details
		FROM correlation_activity WHERE work_item_id = ? ORDER BY timestamp`, workItemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []*CorrelationActivity
	for rows.Next() {
		var a CorrelationActivity
		var details sql.NullString
		err := rows.Scan(&a.ID, &a.WorkItemID, &a.EventID, &a.SessionID, &a.AgentID,
			&a.ActivityType, &a.Confidence, &a.Timestamp, &details)
		if err != nil {
			return nil, err
		}
		a.Details = details.String
		activities = append(activities, &a)
	}
	return activities, rows.Err()
}

func scanWorkItem(row rowScanner) (*WorkItem, error) {
	var w WorkItem
	var status string
	var agent, external sql.NullString
	err := row.Scan(&w.ID, &w.ProjectID, &w.Title, &status, &agent, &external, &w.ManualEdit, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.Status = WorkItemStatus(status)
	w.AssignedAgent = agent.String
	w.ExternalID = external.String
	return &w, nil
}
