package event

import (
	"encoding/json"
	"time"
)

// HookType identifies which agent-runtime hook emitted an event. Values
// match the wire names sent by hook installations.
type HookType string

const (
	HookPreToolUse         HookType = "PreToolUse"
	HookPostToolUse        HookType = "PostToolUse"
	HookNotification       HookType = "Notification"
	HookStop               HookType = "Stop"
	HookSubagentStop       HookType = "SubagentStop"
	HookPreCompact         HookType = "PreCompact"
	HookPostCompact        HookType = "PostCompact"
	HookPreToolUseRejected HookType = "PreToolUseRejected"
	HookToolError          HookType = "ToolError"
	HookSessionStart       HookType = "SessionStart"
	HookSessionEnd         HookType = "SessionEnd"
	HookUserPromptSubmit   HookType = "UserPromptSubmit"
)

type Category int

const (
	ToolCall Category = iota
	FileChange
	Command
	Message
	Lifecycle
	Error
	Compact
	Notification
)

var categoryNames = map[Category]string{
	ToolCall:     "tool_call",
	FileChange:   "file_change",
	Command:      "command",
	Message:      "message",
	Lifecycle:    "lifecycle",
	Error:        "error",
	Compact:      "compact",
	Notification: "notification",
}

var categoryFromName = map[string]Category{
	"tool_call":    ToolCall,
	"file_change":  FileChange,
	"command":      Command,
	"message":      Message,
	"lifecycle":    Lifecycle,
	"error":        Error,
	"compact":      Compact,
	"notification": Notification,
}

func (c Category) String() string {
	if s, ok := categoryNames[c]; ok {
		return s
	}
	return "unknown"
}

func (c Category) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Category) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if v, ok := categoryFromName[s]; ok {
		*c = v
	}
	return nil
}

// ParseCategory maps a category name back to its enum value. Unknown names
// report ok=false.
func ParseCategory(s string) (Category, bool) {
	c, ok := categoryFromName[s]
	return c, ok
}

// Event is one immutable fact about agent activity, fully typed by the
// normalizer. Events are written once and never mutated.
type Event struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"sessionId"`
	AgentID    string         `json:"agentId"`
	Timestamp  time.Time      `json:"timestamp"`
	Hook       HookType       `json:"hookType"`
	Category   Category       `json:"category"`
	Tool       string         `json:"tool,omitempty"`
	FilePath   string         `json:"filePath,omitempty"`
	Input      string         `json:"input,omitempty"`
	Output     string         `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMS int64          `json:"duration,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Envelope is the raw ingress shape accepted from hook emitters. Missing
// session/agent identifiers default to "default"/"main". Emitters that
// retry delivery may set an explicit id; the persistence layer dedups on
// it so re-delivery never double-counts.
type Envelope struct {
	ID        string         `json:"id,omitempty"`
	Hook      HookType       `json:"hook"`
	Timestamp string         `json:"timestamp,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Tool      string         `json:"tool,omitempty"`
	Input     any            `json:"input,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}
