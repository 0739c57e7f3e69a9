package mock

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/agent-observatory/backend/internal/event"
)

// Ingestor is the pipeline entry point the generator feeds.
type Ingestor interface {
	Ingest(env event.Envelope) (event.Event, error)
}

// Generator drives the pipeline with scripted synthetic sessions so the
// full stream surface can be exercised without real hook installations.
type Generator struct {
	ingestor Ingestor
	sessions []*mockSession
}

type mockSession struct {
	id         string
	workDir    string
	agentType  string
	script     []scriptStep
	stepIdx    int
	startDelay int // ticks before the session emits its first event
	done       bool
}

// scriptStep is one envelope to emit, with optional repetition.
type scriptStep struct {
	hook    event.HookType
	tool    string
	data    map[string]any
	repeats int
}

var editTools = []string{"Read", "Grep", "Edit", "Write", "Bash"}

var mockFiles = []string{
	"/home/user/myproject/main.go",
	"/home/user/myproject/server.go",
	"/home/user/myproject/internal/api/routes.go",
	"/home/user/myproject/internal/db/schema.sql",
}

func NewGenerator(ingestor Ingestor) *Generator {
	return &Generator{ingestor: ingestor}
}

func (g *Generator) Start(ctx context.Context) {
	g.sessions = []*mockSession{
		{
			id:        "mock-team-lead",
			workDir:   "/home/user/myproject",
			agentType: "team-lead",
			script: []scriptStep{
				{hook: event.HookSessionStart, data: map[string]any{"agent_type": "team-lead"}},
				{hook: event.HookPostToolUse, tool: "TeamCreate",
					data: map[string]any{"tool_input": map[string]any{"team_name": "refactor-squad"}}},
				{hook: event.HookPostToolUse, tool: "TaskCreate",
					data: map[string]any{"tool_input": map[string]any{"subject": "Refactor auth module", "taskId": "task-auth-1"}}},
				{hook: event.HookPostToolUse, tool: "Task",
					data: map[string]any{"tool_input": map[string]any{"name": "auth-worker", "subagent_type": "coder"}}},
				{hook: event.HookPostToolUse, repeats: 6},
				{hook: event.HookPostToolUse, tool: "TaskUpdate",
					data: map[string]any{"tool_input": map[string]any{"taskId": "task-auth-1", "status": "in_progress", "owner": "auth-worker"}}},
				{hook: event.HookPostToolUse, repeats: 8},
				{hook: event.HookSubagentStop},
				{hook: event.HookPostToolUse, tool: "TaskUpdate",
					data: map[string]any{"tool_input": map[string]any{"taskId": "task-auth-1", "status": "completed"}}},
				{hook: event.HookStop},
			},
		},
		{
			id:         "mock-auth-worker",
			workDir:    "/home/user/myproject",
			agentType:  "coder",
			startDelay: 10,
			script: []scriptStep{
				{hook: event.HookSessionStart, data: map[string]any{"agent_type": "coder"}},
				{hook: event.HookPostToolUse, repeats: 12},
				{hook: event.HookToolError,
					data: map[string]any{"tool_name": "Bash", "error_message": "exit status 1: tests failed"}},
				{hook: event.HookPostToolUse, repeats: 5},
				{hook: event.HookStop},
			},
		},
		{
			id:         "mock-solo-session",
			workDir:    "/home/user/webapp",
			agentType:  "general-purpose",
			startDelay: 40,
			script: []scriptStep{
				{hook: event.HookSessionStart},
				{hook: event.HookUserPromptSubmit, data: map[string]any{"prompt": "add pagination to the list view"}},
				{hook: event.HookPostToolUse, repeats: 10},
				{hook: event.HookNotification, data: map[string]any{"message": "waiting for permission"}},
				{hook: event.HookPostToolUse, repeats: 4},
				{hook: event.HookPreCompact},
				{hook: event.HookPostCompact},
				{hook: event.HookStop},
			},
		},
	}

	go g.run(ctx)
}

func (g *Generator) run(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick++
			for _, ms := range g.sessions {
				if ms.done || tick < ms.startDelay {
					continue
				}
				g.advance(ms)
			}
		}
	}
}

// advance emits the session's next scripted envelope. Repeated tool
// steps synthesize a random read/edit cycle.
func (g *Generator) advance(ms *mockSession) {
	if ms.stepIdx >= len(ms.script) {
		ms.done = true
		return
	}
	step := &ms.script[ms.stepIdx]

	env := event.Envelope{
		Hook:      step.hook,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: ms.id,
		Tool:      step.tool,
		Data:      step.data,
	}
	if env.Data == nil {
		env.Data = map[string]any{}
	}
	if _, ok := env.Data["working_directory"]; !ok {
		env.Data["working_directory"] = ms.workDir
	}

	if step.hook == event.HookPostToolUse && step.tool == "" {
		tool := editTools[rand.Intn(len(editTools))]
		env.Tool = tool
		env.Data["tool_name"] = tool
		env.Data["duration_ms"] = float64(50 + rand.Intn(900))
		if tool != "Bash" {
			env.Data["tool_input"] = map[string]any{
				"file_path": mockFiles[rand.Intn(len(mockFiles))],
			}
		} else {
			env.Data["tool_input"] = map[string]any{
				"command": fmt.Sprintf("go test ./... # run %d", ms.stepIdx),
			}
		}
	}

	if _, err := g.ingestor.Ingest(env); err != nil {
		log.Printf("mock: ingest: %v", err)
	}

	if step.repeats > 0 {
		step.repeats--
		return
	}
	ms.stepIdx++
}
