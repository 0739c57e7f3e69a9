package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Normalizer classifies raw envelopes into fully-typed events. It has no
// side effects: the output depends only on the envelope, the configured
// truncation bounds, and the clock (used when the envelope omits a
// timestamp).
type Normalizer struct {
	maxInput  int
	maxOutput int
	now       func() time.Time
}

func NewNormalizer(maxInput, maxOutput int) *Normalizer {
	return &Normalizer{
		maxInput:  maxInput,
		maxOutput: maxOutput,
		now:       time.Now,
	}
}

func (n *Normalizer) Normalize(env Envelope) Event {
	sessionID := env.SessionID
	if sessionID == "" {
		sessionID = "default"
	}
	agentID := env.AgentID
	if agentID == "" {
		agentID = "main"
	}

	tool := extractTool(env)

	var input any
	if v, ok := env.Data["tool_input"]; ok {
		input = v
	} else if env.Input != nil {
		input = env.Input
	} else if env.Data != nil {
		input = env.Data
	}

	var output any
	if v, ok := env.Data["tool_output"]; ok {
		output = v
	} else if v, ok := env.Data["output"]; ok {
		output = v
	}

	id := env.ID
	if id == "" {
		id = uuid.NewString()
	}

	ev := Event{
		ID:         id,
		SessionID:  sessionID,
		AgentID:    agentID,
		Timestamp:  n.timestamp(env.Timestamp),
		Hook:       env.Hook,
		Category:   Categorize(env.Hook, tool),
		Tool:       tool,
		FilePath:   extractFilePath(env.Data, env.Input),
		Input:      truncate(input, n.maxInput),
		Output:     truncate(output, n.maxOutput),
		Error:      stringField(env.Data, "error_message", "error"),
		DurationMS: durationField(env.Data),
		Metadata:   env.Data,
	}
	enrichMessage(&ev)
	return ev
}

// enrichMessage parses recipient/content/type out of SendMessage tool
// input into well-known metadata keys so observers need not re-parse
// free-form payloads.
func enrichMessage(ev *Event) {
	if ev.Tool != ToolSendMsg || ev.Metadata == nil {
		return
	}
	input := ev.Metadata
	if ti, ok := ev.Metadata["tool_input"].(map[string]any); ok {
		input = ti
	}
	for _, keys := range [][2]string{
		{"_parsed_recipient", "recipient"},
		{"_parsed_recipient", "target_agent_id"},
		{"_parsed_msg_type", "type"},
	} {
		if _, done := ev.Metadata[keys[0]]; done {
			continue
		}
		if v, ok := input[keys[1]].(string); ok {
			ev.Metadata[keys[0]] = v
		}
	}
	for _, key := range []string{"content", "message"} {
		if v, ok := input[key].(string); ok {
			if len(v) > 100 {
				v = v[:100]
			}
			ev.Metadata["_parsed_content"] = v
			break
		}
	}
}

func (n *Normalizer) timestamp(raw string) time.Time {
	if raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			return ts
		}
	}
	return n.now().UTC()
}

// Categorize assigns the event category by fixed precedence: hook type
// first, then tool set membership, falling back to tool_call.
func Categorize(hook HookType, tool string) Category {
	switch hook {
	case HookNotification:
		return Notification
	case HookPreCompact, HookPostCompact:
		return Compact
	case HookStop, HookSubagentStop, HookSessionStart, HookSessionEnd, HookUserPromptSubmit:
		return Lifecycle
	case HookToolError, HookPreToolUseRejected:
		return Error
	}

	switch {
	case fileChangeTools[tool]:
		return FileChange
	case commandTools[tool]:
		return Command
	case messageTools[tool]:
		return Message
	}

	return ToolCall
}

func extractTool(env Envelope) string {
	if env.Tool != "" {
		return env.Tool
	}
	if name, ok := env.Data["tool_name"].(string); ok {
		return name
	}
	return ""
}

// extractFilePath looks for a path in, in order: the data object's
// tool_input sub-object (or data itself), then the free-form input. The
// first file_path/path/filePath key wins.
func extractFilePath(data map[string]any, input any) string {
	sources := []map[string]any{data}
	if m, ok := input.(map[string]any); ok {
		sources = append(sources, m)
	}

	for _, src := range sources {
		if src == nil {
			continue
		}
		toolInput := src
		if ti, ok := src["tool_input"].(map[string]any); ok {
			toolInput = ti
		}
		for _, key := range []string{"file_path", "path", "filePath"} {
			if p, ok := toolInput[key].(string); ok {
				return p
			}
		}
	}

	return ""
}

func stringField(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := data[key].(string); ok {
			return v
		}
	}
	return ""
}

func durationField(data map[string]any) int64 {
	for _, key := range []string{"duration_ms", "duration"} {
		switch v := data[key].(type) {
		case float64:
			return int64(v)
		case int:
			return int64(v)
		case int64:
			return v
		}
	}
	return 0
}

// truncate renders val as text bounded to maxLen bytes, appending a
// marker when cut. Non-string values are rendered as JSON. The bound is
// intentionally lossy: it caps storage and transfer size.
func truncate(val any, maxLen int) string {
	if val == nil {
		return ""
	}
	s, ok := val.(string)
	if !ok {
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		s = string(data)
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
