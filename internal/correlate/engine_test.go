package correlate

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/agent-observatory/backend/internal/event"
	"github.com/agent-observatory/backend/internal/store"
	"github.com/agent-observatory/backend/internal/ws"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	e := NewEngine(st, ws.NewHub(time.Hour))
	e.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return e, st
}

func seedWorkItem(t *testing.T, st *store.Store, id, title string) {
	t.Helper()
	err := st.InsertWorkItem(&store.WorkItem{
		ID:        id,
		ProjectID: "proj-1",
		Title:     title,
		Status:    store.WorkPlanned,
		UpdatedAt: time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("seed work item: %v", err)
	}
}

func taskEvent(tool string, input map[string]any) event.Event {
	return event.Event{
		ID:        "evt-1",
		SessionID: "sess-1",
		AgentID:   "main",
		Hook:      event.HookPostToolUse,
		Tool:      tool,
		Metadata:  map[string]any{"tool_input": input},
	}
}

func TestCorrelateCreateLinksBestMatch(t *testing.T) {
	e, st := newTestEngine(t)
	seedWorkItem(t, st, "item-1", "Write deployment docs")
	seedWorkItem(t, st, "item-2", "Implement login form")

	matches := 0
	e.OnMatch(func() { matches++ })

	e.Correlate(taskEvent(event.ToolTaskCreate, map[string]any{
		"subject": "Implement the login form UI",
		"taskId":  "ext-42",
	}))

	item, err := st.GetWorkItem("item-2")
	if err != nil {
		t.Fatal(err)
	}
	if item.ExternalID != "ext-42" {
		t.Errorf("external id = %q, want ext-42", item.ExternalID)
	}
	if matches != 1 {
		t.Errorf("match callback fired %d times, want 1", matches)
	}

	other, _ := st.GetWorkItem("item-1")
	if other.ExternalID != "" {
		t.Errorf("non-matching item got linked: %q", other.ExternalID)
	}

	activities, err := st.ActivityByWorkItem("item-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(activities) != 1 || activities[0].ActivityType != "task_created" {
		t.Fatalf("activities = %+v, want one task_created", activities)
	}
	if activities[0].Confidence < 0.6 {
		t.Errorf("confidence = %v, want >= 0.6", activities[0].Confidence)
	}
}

func TestCorrelateCreateBelowThreshold(t *testing.T) {
	e, st := newTestEngine(t)
	seedWorkItem(t, st, "item-1", "Write deployment docs")

	e.Correlate(taskEvent(event.ToolTaskCreate, map[string]any{
		"subject": "Fix bug in parser",
	}))

	item, _ := st.GetWorkItem("item-1")
	if item.ExternalID != "" {
		t.Errorf("below-threshold subject got linked: %q", item.ExternalID)
	}
}

func TestCorrelateCreateTieKeepsFirst(t *testing.T) {
	e, st := newTestEngine(t)
	seedWorkItem(t, st, "item-a", "Refactor auth module")
	seedWorkItem(t, st, "item-b", "Refactor auth module")

	e.Correlate(taskEvent(event.ToolTaskCreate, map[string]any{
		"subject": "Refactor auth module",
	}))

	first, _ := st.GetWorkItem("item-a")
	second, _ := st.GetWorkItem("item-b")
	if first.ExternalID == "" {
		t.Error("first-seeded item not linked on tie")
	}
	if second.ExternalID != "" {
		t.Error("second item linked despite tie rule")
	}
}

func TestCorrelateCreateFallsBackToEventID(t *testing.T) {
	e, st := newTestEngine(t)
	seedWorkItem(t, st, "item-1", "Add pagination")

	e.Correlate(taskEvent(event.ToolTaskCreate, map[string]any{
		"subject": "Add pagination",
	}))

	item, _ := st.GetWorkItem("item-1")
	if item.ExternalID != "evt-1" {
		t.Errorf("external id = %q, want event id fallback", item.ExternalID)
	}
}

func TestCorrelateUpdateStatusAndOwner(t *testing.T) {
	e, st := newTestEngine(t)
	seedWorkItem(t, st, "item-1", "Refactor auth module")
	if err := st.LinkWorkItem("item-1", "ext-7", time.Now()); err != nil {
		t.Fatal(err)
	}

	e.Correlate(taskEvent(event.ToolTaskUpdate, map[string]any{
		"taskId": "ext-7",
		"status": "in_progress",
		"owner":  "auth-worker",
	}))

	item, _ := st.GetWorkItem("item-1")
	if item.Status != store.WorkInProgress {
		t.Errorf("status = %s, want in_progress", item.Status)
	}
	if item.AssignedAgent != "auth-worker" {
		t.Errorf("assigned agent = %q, want auth-worker", item.AssignedAgent)
	}

	e.Correlate(taskEvent(event.ToolTaskUpdate, map[string]any{
		"taskId": "ext-7",
		"status": "completed",
	}))

	item, _ = st.GetWorkItem("item-1")
	if item.Status != store.WorkCompleted {
		t.Errorf("status = %s, want completed", item.Status)
	}

	activities, _ := st.ActivityByWorkItem("item-1")
	if len(activities) != 2 {
		t.Fatalf("activity count = %d, want 2", len(activities))
	}
	if activities[0].ActivityType != "task_started" || activities[1].ActivityType != "task_completed" {
		t.Errorf("activity types = %s, %s", activities[0].ActivityType, activities[1].ActivityType)
	}
}

func TestCorrelateUpdateManualEditProtected(t *testing.T) {
	e, st := newTestEngine(t)
	seedWorkItem(t, st, "item-1", "Refactor auth module")
	if err := st.LinkWorkItem("item-1", "ext-7", time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := st.MarkWorkItemManualEdit("item-1", store.WorkBlocked, time.Now()); err != nil {
		t.Fatal(err)
	}

	e.Correlate(taskEvent(event.ToolTaskUpdate, map[string]any{
		"taskId": "ext-7",
		"status": "completed",
		"owner":  "someone",
	}))

	item, _ := st.GetWorkItem("item-1")
	if item.Status != store.WorkBlocked {
		t.Errorf("manual status overwritten: %s", item.Status)
	}
	if item.AssignedAgent != "" {
		t.Errorf("manual item got assigned: %q", item.AssignedAgent)
	}

	// The audit trail still records the observed update.
	activities, _ := st.ActivityByWorkItem("item-1")
	if len(activities) != 1 {
		t.Fatalf("activity count = %d, want 1", len(activities))
	}
}

func TestCorrelateUpdateUnknownExternalID(t *testing.T) {
	e, st := newTestEngine(t)
	seedWorkItem(t, st, "item-1", "Refactor auth module")

	e.Correlate(taskEvent(event.ToolTaskUpdate, map[string]any{
		"taskId": "nope",
		"status": "completed",
	}))

	item, _ := st.GetWorkItem("item-1")
	if item.Status != store.WorkPlanned {
		t.Errorf("status changed on unknown external id: %s", item.Status)
	}
}

func TestCorrelateIgnoresOtherTools(t *testing.T) {
	e, st := newTestEngine(t)
	seedWorkItem(t, st, "item-1", "Implement login form")

	e.Correlate(taskEvent("Bash", map[string]any{"subject": "Implement login form"}))
	e.Correlate(event.Event{ID: "x", Tool: event.ToolTaskCreate}) // nil metadata

	item, _ := st.GetWorkItem("item-1")
	if item.ExternalID != "" {
		t.Errorf("non-task tool triggered correlation: %q", item.ExternalID)
	}
}
