package correlate

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/agent-observatory/backend/internal/event"
	"github.com/agent-observatory/backend/internal/store"
	"github.com/agent-observatory/backend/internal/ws"
)

// Acceptance threshold for fuzzy title matching. Candidates scoring below
// this are never linked.
const matchThreshold = 0.6

// Engine links ad-hoc task tool calls to externally seeded work items.
// Correlation is best-effort enrichment: every failure is swallowed so
// event persistence is never aborted.
type Engine struct {
	store *store.Store
	hub   *ws.Hub
	now   func() time.Time

	onMatch func()
}

func NewEngine(st *store.Store, hub *ws.Hub) *Engine {
	return &Engine{store: st, hub: hub, now: time.Now}
}

// OnMatch registers a callback invoked once per successful correlation,
// used for aggregate stats.
func (e *Engine) OnMatch(fn func()) {
	e.onMatch = fn
}

func (e *Engine) Correlate(ev event.Event) {
	if ev.Tool != event.ToolTaskCreate && ev.Tool != event.ToolTaskUpdate {
		return
	}
	if ev.Metadata == nil {
		return
	}

	input := toolInput(ev.Metadata)

	switch ev.Tool {
	case event.ToolTaskCreate:
		e.handleCreate(ev, input)
	case event.ToolTaskUpdate:
		e.handleUpdate(ev, input)
	}
}

// handleCreate fuzzy-matches the created task's subject against every
// not-yet-linked work item and links the best candidate at or above the
// acceptance threshold.
func (e *Engine) handleCreate(ev event.Event, input map[string]any) {
	subject, _ := input["subject"].(string)
	if subject == "" {
		return
	}

	items, err := e.store.UnlinkedWorkItems()
	if err != nil {
		log.Printf("correlation: list work items: %v", err)
		return
	}

	var best *store.WorkItem
	bestScore := 0.0
	for _, item := range items {
		// Strict greater-than keeps the first-encountered item on ties.
		if score := Score(subject, item.Title); score >= matchThreshold && score > bestScore {
			best = item
			bestScore = score
		}
	}
	if best == nil {
		return
	}

	externalID := externalIDFromInput(input)
	if externalID == "" {
		externalID = ev.ID
	}

	now := e.now().UTC()
	if err := e.store.LinkWorkItem(best.ID, externalID, now); err != nil {
		log.Printf("correlation: link work item: %v", err)
		return
	}

	e.recordActivity(ev, best.ID, "task_created", bestScore,
		fmt.Sprintf("Matched with TaskCreate: %q (confidence: %.0f%%)", subject, bestScore*100))

	e.hub.Broadcast(ws.MsgCorrelationMatch, ws.CorrelationMatchPayload{
		EventID:    ev.ID,
		WorkItemID: best.ID,
		Confidence: bestScore,
		Reason:     fmt.Sprintf("TaskCreate subject fuzzy match: %q", subject),
	}, "")
	if e.onMatch != nil {
		e.onMatch()
	}
}

// handleUpdate resolves the work item owning the tool call's external id.
// This path is deterministic: only an exact external-id match ever
// mutates a work item.
func (e *Engine) handleUpdate(ev event.Event, input map[string]any) {
	externalID := externalIDFromInput(input)
	if externalID == "" {
		return
	}

	item, err := e.store.WorkItemByExternalID(externalID)
	if err != nil {
		log.Printf("correlation: lookup work item: %v", err)
		return
	}
	if item == nil {
		return
	}

	status, _ := input["status"].(string)
	owner, _ := input["owner"].(string)
	now := e.now().UTC()

	// Exogenous human edits win over live correlation.
	if !item.ManualEdit {
		switch status {
		case "in_progress":
			if err := e.store.UpdateWorkItemStatus(item.ID, store.WorkInProgress, now); err == nil {
				e.hub.Broadcast(ws.MsgTaskStatus, ws.TaskStatusPayload{
					WorkItemID: item.ID, ProjectID: item.ProjectID, Status: "in_progress",
				}, "")
			}
		case "completed":
			if err := e.store.UpdateWorkItemStatus(item.ID, store.WorkCompleted, now); err == nil {
				e.hub.Broadcast(ws.MsgTaskStatus, ws.TaskStatusPayload{
					WorkItemID: item.ID, ProjectID: item.ProjectID, Status: "completed",
				}, "")
			}
		}
		if owner != "" {
			if err := e.store.AssignWorkItem(item.ID, owner, now); err == nil {
				e.hub.Broadcast(ws.MsgTaskAssigned, ws.TaskAssignedPayload{
					WorkItemID: item.ID, ProjectID: item.ProjectID, Agent: owner,
				}, "")
			}
		}
	}

	activityType := "manual_update"
	switch {
	case status == "completed":
		activityType = "task_completed"
	case status == "in_progress":
		activityType = "task_started"
	case owner != "":
		activityType = "agent_assigned"
	}

	e.recordActivity(ev, item.ID, activityType, 1.0,
		fmt.Sprintf("TaskUpdate: status=%s, owner=%s", orUnchanged(status), orUnchanged(owner)))

	e.hub.Broadcast(ws.MsgCorrelationMatch, ws.CorrelationMatchPayload{
		EventID:    ev.ID,
		WorkItemID: item.ID,
		Confidence: 1.0,
		Reason:     "TaskUpdate external id exact match",
	}, "")
	if e.onMatch != nil {
		e.onMatch()
	}
}

func (e *Engine) recordActivity(ev event.Event, workItemID, activityType string, confidence float64, details string) {
	err := e.store.InsertActivity(&store.CorrelationActivity{
		ID:           uuid.NewString(),
		WorkItemID:   workItemID,
		EventID:      ev.ID,
		SessionID:    ev.SessionID,
		AgentID:      ev.AgentID,
		ActivityType: activityType,
		Confidence:   confidence,
		Timestamp:    e.now().UTC(),
		Details:      details,
	})
	if err != nil {
		log.Printf("correlation: record activity: %v", err)
	}
}

// toolInput unwraps the tool_input sub-object when present, falling back
// to the metadata map itself.
func toolInput(meta map[string]any) map[string]any {
	if ti, ok := meta["tool_input"].(map[string]any); ok {
		return ti
	}
	return meta
}

func externalIDFromInput(input map[string]any) string {
	for _, key := range []string{"taskId", "task_id", "id"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func orUnchanged(s string) string {
	if s == "" {
		return "unchanged"
	}
	return s
}
