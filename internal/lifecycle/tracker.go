package lifecycle

import (
	"encoding/json"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/agent-observatory/backend/internal/config"
	"github.com/agent-observatory/backend/internal/correlate"
	"github.com/agent-observatory/backend/internal/event"
	"github.com/agent-observatory/backend/internal/stats"
	"github.com/agent-observatory/backend/internal/store"
	"github.com/agent-observatory/backend/internal/ws"
)

// Tracker owns the ingestion pipeline. It normalizes one envelope at a
// time, applies session and agent lifecycle transitions, then grouping,
// correlation, and broadcast. All mutations serialize on one mutex,
// the periodic stale sweep included, so no event is ever partially
// applied and concurrently observed.
type Tracker struct {
	mu        sync.Mutex
	store     *store.Store
	hub       *ws.Hub
	norm      *event.Normalizer
	engine    *correlate.Engine
	collector *stats.Collector
	cfg       config.PipelineConfig
	now       func() time.Time

	// pendingNames queues agent names extracted from Task tool spawns,
	// consumed when the spawned worker's own session appears.
	pendingNames []string

	// spawnQueues holds per-session FIFO queues of virtual subagent ids
	// awaiting their SubagentStop.
	spawnQueues map[string][]string
}

func NewTracker(st *store.Store, hub *ws.Hub, engine *correlate.Engine, collector *stats.Collector, cfg config.PipelineConfig) *Tracker {
	t := &Tracker{
		store:       st,
		hub:         hub,
		norm:        event.NewNormalizer(cfg.MaxInputLen, cfg.MaxOutputLen),
		engine:      engine,
		collector:   collector,
		cfg:         cfg,
		now:         time.Now,
		spawnQueues: make(map[string][]string),
	}
	if engine != nil && collector != nil {
		engine.OnMatch(collector.RecordCorrelationMatch)
	}
	return t
}

// Ingest processes one inbound envelope to completion: classification,
// persistence, lifecycle update, grouping, correlation, broadcast. A
// re-delivered event id is persisted-once and produces no side effects.
func (t *Tracker) Ingest(env event.Envelope) (event.Event, error) {
	ev := t.norm.Normalize(env)

	t.mu.Lock()
	defer t.mu.Unlock()

	inserted, err := t.store.InsertEvent(ev)
	if err != nil {
		return ev, err
	}
	if !inserted {
		return ev, nil
	}

	if t.collector != nil {
		t.collector.RecordEvent(ev)
	}

	t.apply(ev)

	t.publishGroup(ws.MsgAgentEvent, ev, ev.SessionID)

	// Correlation is best-effort enrichment; it never aborts ingestion.
	if t.engine != nil {
		t.engine.Correlate(ev)
	}

	return ev, nil
}

func (t *Tracker) apply(ev event.Event) {
	now := t.now().UTC()

	isNew := t.ensureSession(ev, now)
	t.applyGrouping(ev, isNew)

	if err := t.store.IncrementSessionEventCount(ev.SessionID, ev.Timestamp); err != nil {
		log.Printf("lifecycle: event count: %v", err)
	}

	t.ensureAgent(ev)

	switch ev.Hook {
	case event.HookPostToolUse:
		if err := t.store.IncrementAgentToolCalls(ev.AgentID, ev.SessionID, now); err != nil {
			log.Printf("lifecycle: tool count: %v", err)
		}
		t.setAgentStatus(ev.AgentID, ev.SessionID, store.AgentActive, now, true)
	case event.HookPreToolUse:
		// Activity touch only; no status announcement.
		t.setAgentStatus(ev.AgentID, ev.SessionID, store.AgentActive, now, false)
	}

	if ev.Category == event.Error {
		if err := t.store.IncrementAgentErrors(ev.AgentID, ev.SessionID, now); err != nil {
			log.Printf("lifecycle: error count: %v", err)
		}
		t.setAgentStatus(ev.AgentID, ev.SessionID, store.AgentError, now, true)
	}

	switch ev.Hook {
	case event.HookStop, event.HookSessionEnd:
		t.handleStop(ev, now)
	case event.HookSubagentStop:
		t.handleSubagentStop(ev, now)
	}

	if ev.Tool == event.ToolTask && ev.Hook == event.HookPostToolUse && ev.Metadata != nil {
		t.handleTaskSpawn(ev, now)
	}

	t.trackFileChange(ev)
}

// ensureSession creates the session on first contact and re-activates a
// terminal session when a new event arrives for its id (context resets).
// Re-activation also re-activates the session's primary agent.
func (t *Tracker) ensureSession(ev event.Event, now time.Time) (isNew bool) {
	sess, err := t.store.GetSession(ev.SessionID)
	if err != nil {
		log.Printf("lifecycle: get session: %v", err)
		return false
	}

	if sess == nil {
		workDir := metaString(ev.Metadata, "working_directory")
		if workDir == "" {
			workDir, _ = os.Getwd()
		}
		err := t.store.InsertSession(&store.Session{
			ID:             ev.SessionID,
			StartedAt:      ev.Timestamp,
			WorkingDir:     workDir,
			Status:         store.SessionActive,
			LastActivityAt: ev.Timestamp,
		})
		if err != nil {
			log.Printf("lifecycle: insert session: %v", err)
			return false
		}
		return true
	}

	if sess.Status.Terminal() {
		t.setSessionStatus(sess, store.SessionActive, "", now)
		t.setAgentStatus("main", ev.SessionID, store.AgentActive, now, false)
	}

	return false
}

// ensureAgent creates the agent row on the first event for an unseen
// (agent, session) pair, resolving the display name by priority:
// session-start agent type, explicit agent name, pending spawn name,
// raw agent id.
func (t *Tracker) ensureAgent(ev event.Event) {
	existing, err := t.store.GetAgent(ev.AgentID, ev.SessionID)
	if err != nil {
		log.Printf("lifecycle: get agent: %v", err)
		return
	}
	if existing != nil {
		return
	}

	agentType := metaString(ev.Metadata, "agent_type")
	name := ""
	if ev.Hook == event.HookSessionStart && agentType != "" {
		name = agentType
	}
	if name == "" {
		name = metaString(ev.Metadata, "agent_name")
	}
	if name == "" {
		name = t.dequeuePendingName(ev.SessionID)
	}
	if name == "" {
		name = t.groupMemberName(ev.SessionID)
	}
	if name == "" {
		name = ev.AgentID
	}
	if agentType == "" {
		agentType = "general-purpose"
	}

	err = t.store.InsertAgent(&store.Agent{
		ID:             ev.AgentID,
		SessionID:      ev.SessionID,
		Name:           name,
		Type:           agentType,
		Status:         store.AgentActive,
		FirstSeenAt:    ev.Timestamp,
		LastActivityAt: ev.Timestamp,
	})
	if err != nil {
		log.Printf("lifecycle: insert agent: %v", err)
		return
	}

	t.refreshAgentCount(ev.SessionID)

	t.publishGroup(ws.MsgAgentCreated, ws.AgentCreatedPayload{
		AgentID:   ev.AgentID,
		SessionID: ev.SessionID,
		Name:      name,
		Type:      agentType,
		Status:    string(store.AgentActive),
		Timestamp: ev.Timestamp,
	}, ev.SessionID)
}

// handleStop completes the emitting agent; when no agent in the session
// remains active, the session completes with it.
func (t *Tracker) handleStop(ev event.Event, now time.Time) {
	t.setAgentStatus(ev.AgentID, ev.SessionID, store.AgentCompleted, now, true)

	agents, err := t.store.AgentsBySession(ev.SessionID)
	if err != nil {
		log.Printf("lifecycle: list agents: %v", err)
		return
	}
	for _, a := range agents {
		if a.Status == store.AgentActive {
			return
		}
	}

	sess, err := t.store.GetSession(ev.SessionID)
	if err != nil || sess == nil {
		return
	}
	t.setSessionStatus(sess, store.SessionCompleted, "", now)
}

// handleSubagentStop shuts down the oldest pending virtual subagent for
// the session. The event's own agent id is untouched: SubagentStop means
// a subagent stopped, not the emitter.
func (t *Tracker) handleSubagentStop(ev event.Event, now time.Time) {
	queue := t.spawnQueues[ev.SessionID]
	if len(queue) == 0 {
		return
	}
	subagentID := queue[0]
	t.spawnQueues[ev.SessionID] = queue[1:]

	t.setAgentStatus(subagentID, ev.SessionID, store.AgentShutdown, now, true)
}

// handleTaskSpawn creates a virtual subagent when a Task tool call is
// observed, queueing its id for SubagentStop correlation and its name
// for a possibly-incoming worker session.
func (t *Tracker) handleTaskSpawn(ev event.Event, now time.Time) {
	input := toolInputMap(ev.Metadata)
	if input == nil {
		return
	}

	name, _ := input["name"].(string)
	if name == "" {
		if desc, ok := input["description"].(string); ok && desc != "" {
			name = desc
			if len(name) > 30 {
				name = name[:30]
			}
		}
	}
	if name == "" {
		name = "subagent"
	}
	agentType, _ := input["subagent_type"].(string)
	if agentType == "" {
		agentType = "general-purpose"
	}
	agentID := "subagent-" + slugify(name)

	existing, err := t.store.GetAgent(agentID, ev.SessionID)
	if err != nil {
		log.Printf("lifecycle: get subagent: %v", err)
		return
	}
	if existing == nil {
		err := t.store.InsertAgent(&store.Agent{
			ID:             agentID,
			SessionID:      ev.SessionID,
			Name:           name,
			Type:           agentType,
			Status:         store.AgentActive,
			FirstSeenAt:    ev.Timestamp,
			LastActivityAt: ev.Timestamp,
		})
		if err != nil {
			log.Printf("lifecycle: insert subagent: %v", err)
			return
		}
		t.refreshAgentCount(ev.SessionID)
		t.publishGroup(ws.MsgAgentCreated, ws.AgentCreatedPayload{
			AgentID:   agentID,
			SessionID: ev.SessionID,
			Name:      name,
			Type:      agentType,
			Status:    string(store.AgentActive),
			Timestamp: ev.Timestamp,
		}, ev.SessionID)
	} else {
		// Re-used subagent name: reactivate.
		t.setAgentStatus(agentID, ev.SessionID, store.AgentActive, now, true)
	}

	if name != "subagent" {
		t.pendingNames = append(t.pendingNames, name)
	}
	t.spawnQueues[ev.SessionID] = append(t.spawnQueues[ev.SessionID], agentID)
}

func (t *Tracker) trackFileChange(ev event.Event) {
	if ev.FilePath == "" {
		return
	}

	var changeType string
	switch {
	case ev.Category == event.FileChange:
		changeType = "modified"
		if ev.Tool == event.ToolWrite {
			changeType = "created"
		}
	case event.IsFileReadTool(ev.Tool):
		changeType = "read"
	default:
		return
	}

	err := t.store.UpsertFileChange(&store.FileChange{
		FilePath:    ev.FilePath,
		SessionID:   ev.SessionID,
		AgentID:     ev.AgentID,
		ChangeType:  changeType,
		FirstSeenAt: ev.Timestamp,
		LastSeenAt:  ev.Timestamp,
	})
	if err != nil {
		log.Printf("lifecycle: file change: %v", err)
	}
}

// setAgentStatus applies a transition-table-checked status change. When
// announce is set, the change is published even if the status is
// unchanged (tool activity re-announces active).
func (t *Tracker) setAgentStatus(agentID, sessionID string, to store.AgentStatus, at time.Time, announce bool) {
	a, err := t.store.GetAgent(agentID, sessionID)
	if err != nil {
		log.Printf("lifecycle: get agent: %v", err)
		return
	}
	if a == nil {
		return
	}
	if !agentTransitionOK(a.Status, to) {
		log.Printf("lifecycle: illegal agent transition %s -> %s for %s", a.Status, to, agentID)
		return
	}
	if err := t.store.UpdateAgentStatus(agentID, sessionID, to, at); err != nil {
		log.Printf("lifecycle: agent status: %v", err)
		return
	}
	if announce {
		t.publishGroup(ws.MsgAgentStatus, ws.AgentStatusPayload{
			AgentID:   agentID,
			SessionID: sessionID,
			Status:    string(to),
		}, sessionID)
	}
}

// setSessionStatus applies a transition-table-checked session status
// change, publishes it (replicated across the session's group), and
// checks for group completion on terminal transitions.
func (t *Tracker) setSessionStatus(sess *store.Session, to store.SessionStatus, reason string, at time.Time) {
	if sess.Status == to {
		return
	}
	if !sessionTransitionOK(sess.Status, to) {
		log.Printf("lifecycle: illegal session transition %s -> %s for %s", sess.Status, to, sess.ID)
		return
	}

	var endedAt *time.Time
	if to.Terminal() {
		endedAt = &at
	}
	if err := t.store.UpdateSessionStatus(sess.ID, to, endedAt); err != nil {
		log.Printf("lifecycle: session status: %v", err)
		return
	}

	t.publishGroup(ws.MsgSessionStatus, ws.SessionStatusPayload{
		SessionID: sess.ID,
		Status:    string(to),
		Reason:    reason,
	}, sess.ID)

	if to.Terminal() {
		if t.collector != nil {
			t.collector.RecordSessionTerminal(to)
		}
		t.checkGroupCompletion(sess.ID, at)
	}
}

func (t *Tracker) refreshAgentCount(sessionID string) {
	count, err := t.store.CountAgentsBySession(sessionID)
	if err != nil {
		log.Printf("lifecycle: agent count: %v", err)
		return
	}
	if err := t.store.UpdateSessionAgentCount(sessionID, count); err != nil {
		log.Printf("lifecycle: agent count: %v", err)
	}
}

// dequeuePendingName consumes the oldest pending spawn name, but only
// for sessions that have been grouped: an ungrouped session cannot have
// come from a Task spawn we observed.
func (t *Tracker) dequeuePendingName(sessionID string) string {
	if len(t.pendingNames) == 0 {
		return ""
	}
	g, err := t.store.GroupForSession(sessionID)
	if err != nil || g == nil {
		return ""
	}
	name := t.pendingNames[0]
	t.pendingNames = t.pendingNames[1:]
	return name
}

// groupMemberName returns the agent name recorded on the session's
// group membership, if any. Grouping may have claimed a spawn name for
// the session before its agent row existed.
func (t *Tracker) groupMemberName(sessionID string) string {
	g, err := t.store.GroupForSession(sessionID)
	if err != nil || g == nil {
		return ""
	}
	members, err := t.store.GroupMembers(g.ID)
	if err != nil {
		return ""
	}
	for _, m := range members {
		if m.SessionID == sessionID {
			return m.AgentName
		}
	}
	return ""
}

// publishGroup publishes a message scoped to the origin session and
// replicates it to every other session in the origin's group, so
// observers watching any group member see a unified timeline.
func (t *Tracker) publishGroup(msgType ws.MessageType, payload any, origin string) {
	t.hub.Broadcast(msgType, payload, origin)

	g, err := t.store.GroupForSession(origin)
	if err != nil || g == nil {
		return
	}
	for _, sid := range t.store.SessionIDsInGroup(g.ID) {
		if sid != origin {
			t.hub.Broadcast(msgType, payload, sid)
		}
	}
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}

// toolInputMap unwraps tool_input, which arrives either as an object or
// as a JSON-encoded string depending on the emitting runtime.
func toolInputMap(meta map[string]any) map[string]any {
	raw, ok := meta["tool_input"]
	if !ok {
		return meta
	}
	switch v := raw.(type) {
	case map[string]any:
		return v
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(v), &m); err == nil {
			return m
		}
	}
	return nil
}

func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
