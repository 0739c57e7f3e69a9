package stats

import (
	"testing"

	"github.com/agent-observatory/backend/internal/event"
	"github.com/agent-observatory/backend/internal/store"
)

func TestRecordEventCounters(t *testing.T) {
	tests := []struct {
		name          string
		events        []event.Event
		wantCategory  map[string]int64
		wantToolCalls map[string]int64
	}{
		{
			name: "categories accumulate",
			events: []event.Event{
				{Category: event.ToolCall, Hook: event.HookPostToolUse, Tool: "Bash"},
				{Category: event.ToolCall, Hook: event.HookPostToolUse, Tool: "Bash"},
				{Category: event.FileChange, Hook: event.HookPostToolUse, Tool: "Write"},
				{Category: event.Lifecycle, Hook: event.HookSessionStart},
			},
			wantCategory:  map[string]int64{"tool_call": 2, "file_change": 1, "lifecycle": 1},
			wantToolCalls: map[string]int64{"Bash": 2, "Write": 1},
		},
		{
			name: "pre-tool-use does not count as a call",
			events: []event.Event{
				{Category: event.ToolCall, Hook: event.HookPreToolUse, Tool: "Bash"},
			},
			wantCategory:  map[string]int64{"tool_call": 1},
			wantToolCalls: map[string]int64{},
		},
		{
			name: "toolless events counted by category only",
			events: []event.Event{
				{Category: event.Error, Hook: event.HookToolError},
			},
			wantCategory:  map[string]int64{"error": 1},
			wantToolCalls: map[string]int64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCollector()
			for _, ev := range tt.events {
				c.RecordEvent(ev)
			}
			snap := c.Snapshot(StoreCounts{})

			for cat, want := range tt.wantCategory {
				if got := snap.EventsByCategory[cat]; got != want {
					t.Errorf("category %s = %d, want %d", cat, got, want)
				}
			}
			if len(snap.EventsByCategory) != len(tt.wantCategory) {
				t.Errorf("category map = %v, want %v", snap.EventsByCategory, tt.wantCategory)
			}
			if len(snap.ToolCalls) != len(tt.wantToolCalls) {
				t.Errorf("tool calls = %v, want %v", snap.ToolCalls, tt.wantToolCalls)
			}
			for tool, want := range tt.wantToolCalls {
				if got := snap.ToolCalls[tool]; got != want {
					t.Errorf("tool %s = %d, want %d", tool, got, want)
				}
			}
		})
	}
}

func TestSessionAndCorrelationCounters(t *testing.T) {
	c := NewCollector()

	c.RecordSessionTerminal(store.SessionCompleted)
	c.RecordSessionTerminal(store.SessionCompleted)
	c.RecordSessionTerminal(store.SessionError)
	c.RecordSessionTerminal(store.SessionActive) // not terminal, ignored
	c.RecordCorrelationMatch()

	snap := c.Snapshot(StoreCounts{})
	if snap.SessionsCompleted != 2 {
		t.Errorf("sessions completed = %d, want 2", snap.SessionsCompleted)
	}
	if snap.SessionsErrored != 1 {
		t.Errorf("sessions errored = %d, want 1", snap.SessionsErrored)
	}
	if snap.CorrelationMatches != 1 {
		t.Errorf("correlation matches = %d, want 1", snap.CorrelationMatches)
	}
}

func TestSnapshotCarriesStoreCountsAndCopiesMaps(t *testing.T) {
	c := NewCollector()
	c.RecordEvent(event.Event{Category: event.ToolCall, Hook: event.HookPostToolUse, Tool: "Bash"})

	counts := StoreCounts{Sessions: 5, ActiveSessions: 2, Events: 40, Subscribers: 3}
	snap := c.Snapshot(counts)
	if snap.Store != counts {
		t.Errorf("store counts = %+v, want %+v", snap.Store, counts)
	}
	if snap.UptimeSeconds < 0 {
		t.Errorf("uptime = %d, want non-negative", snap.UptimeSeconds)
	}

	// Mutating a snapshot must not leak back into the collector.
	snap.ToolCalls["Bash"] = 99
	snap.EventsByCategory["tool_call"] = 99
	again := c.Snapshot(counts)
	if again.ToolCalls["Bash"] != 1 || again.EventsByCategory["tool_call"] != 1 {
		t.Errorf("snapshot shares state with collector: %+v", again)
	}
}
