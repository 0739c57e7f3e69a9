package event

// Tool name sets used for category derivation and file tracking. A tool
// belongs to at most one of the category sets.

var fileChangeTools = map[string]bool{
	"Write":        true,
	"Edit":         true,
	"MultiEdit":    true,
	"NotebookEdit": true,
}

var fileReadTools = map[string]bool{
	"Read":         true,
	"Glob":         true,
	"Grep":         true,
	"NotebookRead": true,
}

var commandTools = map[string]bool{
	"Bash":       true,
	"BashOutput": true,
	"KillShell":  true,
}

var messageTools = map[string]bool{
	"SendMessage":      true,
	"BroadcastMessage": true,
}

// IsFileReadTool reports whether tool only reads files. Read-tool events
// with a file path are tracked as "read" file accesses, not file changes.
func IsFileReadTool(tool string) bool {
	return fileReadTools[tool]
}

// Tool names with dedicated pipeline semantics.
const (
	ToolTask       = "Task"
	ToolTaskCreate = "TaskCreate"
	ToolTaskUpdate = "TaskUpdate"
	ToolTeamCreate = "TeamCreate"
	ToolSendMsg    = "SendMessage"
	ToolWrite      = "Write"
)
