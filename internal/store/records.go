package store

import "time"

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// Terminal reports whether the status ends a session's timeline. Terminal
// sessions may still re-activate when a new event arrives for their id.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionError
}

type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentIdle      AgentStatus = "idle"
	AgentError     AgentStatus = "error"
	AgentCompleted AgentStatus = "completed"
	AgentShutdown  AgentStatus = "shutdown"
)

type WorkItemStatus string

const (
	WorkPlanned    WorkItemStatus = "planned"
	WorkInProgress WorkItemStatus = "in_progress"
	WorkCompleted  WorkItemStatus = "completed"
	WorkBlocked    WorkItemStatus = "blocked"
)

// Session is one continuous unit of agent work, created on the first event
// that references an unknown session id.
type Session struct {
	ID             string        `json:"id"`
	StartedAt      time.Time     `json:"startedAt"`
	EndedAt        *time.Time    `json:"endedAt,omitempty"`
	WorkingDir     string        `json:"workingDirectory"`
	Status         SessionStatus `json:"status"`
	AgentCount     int           `json:"agentCount"`
	EventCount     int           `json:"eventCount"`
	LastActivityAt time.Time     `json:"lastActivityAt"`
}

// Agent is one logical actor within a session, owned by exactly one session.
type Agent struct {
	ID             string      `json:"id"`
	SessionID      string      `json:"sessionId"`
	Name           string      `json:"name"`
	Type           string      `json:"type"`
	Status         AgentStatus `json:"status"`
	FirstSeenAt    time.Time   `json:"firstSeenAt"`
	LastActivityAt time.Time   `json:"lastActivityAt"`
	ToolCallCount  int         `json:"toolCallCount"`
	ErrorCount     int         `json:"errorCount"`
}

// SessionGroup clusters sessions believed to belong to one multi-agent
// team. A session belongs to at most one group.
type SessionGroup struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	MainSessionID string    `json:"mainSessionId"`
	CreatedAt     time.Time `json:"createdAt"`
}

type GroupMember struct {
	GroupID   string    `json:"groupId"`
	SessionID string    `json:"sessionId"`
	AgentName string    `json:"agentName,omitempty"`
	AgentType string    `json:"agentType,omitempty"`
	JoinedAt  time.Time `json:"joinedAt"`
}

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// WorkItem is an externally seeded unit of planned work. Live tool-call
// activity is correlated against it; its external id, once set, uniquely
// identifies the tool-call stream that owns it.
type WorkItem struct {
	ID            string         `json:"id"`
	ProjectID     string         `json:"projectId"`
	Title         string         `json:"title"`
	Status        WorkItemStatus `json:"status"`
	AssignedAgent string         `json:"assignedAgent,omitempty"`
	ExternalID    string         `json:"externalId,omitempty"`
	ManualEdit    bool           `json:"manualEdit"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// CorrelationActivity is an append-only audit record linking an event to a
// work item with a confidence score.
type CorrelationActivity struct {
	ID           string    `json:"id"`
	WorkItemID   string    `json:"workItemId"`
	EventID      string    `json:"eventId"`
	SessionID    string    `json:"sessionId"`
	AgentID      string    `json:"agentId"`
	ActivityType string    `json:"activityType"`
	Confidence   float64   `json:"confidence"`
	Timestamp    time.Time `json:"timestamp"`
	Details      string    `json:"details,omitempty"`
}

type FileChange struct {
	FilePath    string    `json:"filePath"`
	SessionID   string    `json:"sessionId"`
	AgentID     string    `json:"agentId"`
	ChangeType  string    `json:"changeType"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}
