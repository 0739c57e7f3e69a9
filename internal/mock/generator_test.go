package mock

import (
	"context"
	"testing"
	"time"

	"github.com/agent-observatory/backend/internal/event"
)

type recordingIngestor struct {
	envelopes []event.Envelope
}

func (r *recordingIngestor) Ingest(env event.Envelope) (event.Event, error) {
	r.envelopes = append(r.envelopes, env)
	return event.Event{}, nil
}

func TestGeneratorScriptsRunToCompletion(t *testing.T) {
	rec := &recordingIngestor{}
	g := NewGenerator(rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // keep the ticker goroutine from racing the direct drive below
	g.Start(ctx)

	for i := 0; i < 500; i++ {
		done := true
		for _, ms := range g.sessions {
			if !ms.done {
				done = false
				g.advance(ms)
			}
		}
		if done {
			break
		}
	}

	for _, ms := range g.sessions {
		if !ms.done {
			t.Errorf("session %s never finished its script", ms.id)
		}
	}
	if len(rec.envelopes) == 0 {
		t.Fatal("no envelopes emitted")
	}

	perSession := map[string][]event.Envelope{}
	for _, env := range rec.envelopes {
		perSession[env.SessionID] = append(perSession[env.SessionID], env)
	}

	for id, envs := range perSession {
		if envs[0].Hook != event.HookSessionStart {
			t.Errorf("session %s first hook = %s, want SessionStart", id, envs[0].Hook)
		}
		if last := envs[len(envs)-1].Hook; last != event.HookStop {
			t.Errorf("session %s last hook = %s, want Stop", id, last)
		}
		for _, env := range envs {
			if env.Timestamp == "" {
				t.Fatalf("session %s emitted envelope without timestamp", id)
			}
			if _, err := time.Parse(time.RFC3339Nano, env.Timestamp); err != nil {
				t.Fatalf("bad timestamp %q: %v", env.Timestamp, err)
			}
			if wd, _ := env.Data["working_directory"].(string); wd == "" {
				t.Fatalf("session %s envelope missing working directory", id)
			}
		}
	}
}

func TestGeneratorSynthesizesToolCalls(t *testing.T) {
	rec := &recordingIngestor{}
	g := NewGenerator(rec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g.Start(ctx)

	ms := g.sessions[0]
	for i := 0; i < 200 && !ms.done; i++ {
		g.advance(ms)
	}

	var toolCalls int
	for _, env := range rec.envelopes {
		if env.Hook == event.HookPostToolUse && env.Tool != "" && env.Tool != "TeamCreate" &&
			env.Tool != "TaskCreate" && env.Tool != "TaskUpdate" && env.Tool != "Task" {
			toolCalls++
			if env.Data["tool_name"] != env.Tool {
				t.Errorf("tool_name %v does not match tool %s", env.Data["tool_name"], env.Tool)
			}
		}
	}
	if toolCalls == 0 {
		t.Error("no synthesized tool calls emitted")
	}
}
