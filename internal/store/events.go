package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/agent-observatory/backend/internal/event"
)

// InsertEvent writes ev to the event log. Re-delivered events are detected
// by id and reported via inserted=false so the caller can skip counter
// updates and downstream side effects.
func (s *Store) InsertEvent(ev event.Event) (inserted bool, err error) {
	var metadata any
	if ev.Metadata != nil {
		data, err := json.Marshal(ev.Metadata)
		if err == nil {
			metadata = string(data)
		}
	}

	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO events
		(id, session_id, agent_id, timestamp, hook_type, category, tool, file_path, input, output, error, duration_ms, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.AgentID, ev.Timestamp.UTC(), string(ev.Hook), ev.Category.String(),
		nullIfEmpty(ev.Tool), nullIfEmpty(ev.FilePath), nullIfEmpty(ev.Input), nullIfEmpty(ev.Output),
		nullIfEmpty(ev.Error), nullIfZero(ev.DurationMS), metadata)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// EventFilter narrows EventsBySession. A zero filter returns the most
// recent 100 events.
type EventFilter struct {
	Category string
	Limit    int
	Offset   int
}

func (s *Store) EventsBySession(sessionID string, filter EventFilter) ([]event.Event, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, session_id, agent_id, timestamp, hook_type, category, tool, file_path, input, output, error, duration_ms, metadata
		FROM events WHERE session_id = ?`
	args := []any{sessionID}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, filter.Category)
	}
	query += ` ORDER BY timestamp DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (event.Event, error) {
	var ev event.Event
	var ts time.Time
	var hook, category string
	var tool, filePath, input, output, errText, metadata sql.NullString
	var duration sql.NullInt64

	err := rows.Scan(&ev.ID, &ev.SessionID, &ev.AgentID, &ts, &hook, &category,
		&tool, &filePath, &input, &output, &errText, &duration, &metadata)
	if err != nil {
		return event.Event{}, err
	}

	ev.Timestamp = ts
	ev.Hook = event.HookType(hook)
	if c, ok := event.ParseCategory(category); ok {
		ev.Category = c
	}
	ev.Tool = tool.String
	ev.FilePath = filePath.String
	ev.Input = input.String
	ev.Output = output.String
	ev.Error = errText.String
	ev.DurationMS = duration.Int64
	if metadata.Valid {
		var meta map[string]any
		if err := json.Unmarshal([]byte(metadata.String), &meta); err == nil {
			ev.Metadata = meta
		}
	}
	return ev, nil
}

type ToolCount struct {
	Tool  string `json:"tool"`
	Count int    `json:"count"`
}

func (s *Store) ToolBreakdown(sessionID string) ([]ToolCount, error) {
	rows, err := s.db.Query(`
		SELECT tool, COUNT(*) FROM events
		WHERE session_id = ? AND tool IS NOT NULL
		GROUP BY tool ORDER BY COUNT(*) DESC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []ToolCount
	for rows.Next() {
		var tc ToolCount
		if err := rows.Scan(&tc.Tool, &tc.Count); err != nil {
			return nil, err
		}
		counts = append(counts, tc)
	}
	return counts, rows.Err()
}

type AgentBreakdown struct {
	AgentID string `json:"agentId"`
	Events  int    `json:"events"`
	Errors  int    `json:"errors"`
}

func (s *Store) AgentBreakdownBySession(sessionID string) ([]AgentBreakdown, error) {
	rows, err := s.db.Query(`
		SELECT agent_id, COUNT(*), SUM(CASE WHEN category = 'error' THEN 1 ELSE 0 END)
		FROM events WHERE session_id = ?
		GROUP BY agent_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var breakdown []AgentBreakdown
	for rows.Next() {
		var ab AgentBreakdown
		if err := rows.Scan(&ab.AgentID, &ab.Events, &ab.Errors); err != nil {
			return nil, err
		}
		breakdown = append(breakdown, ab)
	}
	return breakdown, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
