package ws

import "time"

type MessageType string

const (
	MsgConnected        MessageType = "connected"
	MsgHeartbeat        MessageType = "heartbeat"
	MsgAgentEvent       MessageType = "agent_event"
	MsgAgentStatus      MessageType = "agent_status"
	MsgSessionStatus    MessageType = "session_status"
	MsgAgentCreated     MessageType = "agent_created"
	MsgTaskStatus       MessageType = "task_status_changed"
	MsgTaskAssigned     MessageType = "task_assigned"
	MsgCorrelationMatch MessageType = "correlation_match"
	MsgGroupCreated     MessageType = "session_group_created"
	MsgGroupMemberAdded MessageType = "session_group_member_added"
	MsgGroupCompleted   MessageType = "session_group_completed"
)

type StreamMessage struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

type ConnectedPayload struct {
	ClientID  string    `json:"clientId"`
	Timestamp time.Time `json:"timestamp"`
}

type HeartbeatPayload struct {
	Timestamp   time.Time `json:"timestamp"`
	Connections int       `json:"connections"`
}

type AgentStatusPayload struct {
	AgentID   string `json:"agent"`
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type SessionStatusPayload struct {
	SessionID string `json:"session"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

type AgentCreatedPayload struct {
	AgentID   string    `json:"agent"`
	SessionID string    `json:"sessionId"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type GroupCreatedPayload struct {
	GroupID       string    `json:"groupId"`
	Name          string    `json:"name"`
	MainSessionID string    `json:"mainSessionId"`
	Timestamp     time.Time `json:"timestamp"`
}

type GroupMemberAddedPayload struct {
	GroupID   string    `json:"groupId"`
	SessionID string    `json:"sessionId"`
	AgentName string    `json:"agentName,omitempty"`
	AgentType string    `json:"agentType,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type GroupCompletedPayload struct {
	GroupID     string    `json:"groupId"`
	MemberCount int       `json:"memberCount"`
	Timestamp   time.Time `json:"timestamp"`
}

type CorrelationMatchPayload struct {
	EventID    string  `json:"eventId"`
	WorkItemID string  `json:"workItemId"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

type TaskStatusPayload struct {
	WorkItemID string `json:"workItemId"`
	ProjectID  string `json:"projectId"`
	Status     string `json:"status"`
}

type TaskAssignedPayload struct {
	WorkItemID string `json:"workItemId"`
	ProjectID  string `json:"projectId"`
	Agent      string `json:"agent"`
}
