package lifecycle

import (
	"log"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/agent-observatory/backend/internal/event"
	"github.com/agent-observatory/backend/internal/store"
	"github.com/agent-observatory/backend/internal/ws"
)

// applyGrouping assigns the event's session to a group. TeamCreate is
// handled first because it carries an explicit team name and applies
// even to already-grouped sessions (it renames a placeholder group).
// Otherwise membership is decided once, on the session's first sighting
// or its SessionStart, and never revisited.
func (t *Tracker) applyGrouping(ev event.Event, isNew bool) {
	if ev.Tool == event.ToolTeamCreate && ev.Hook == event.HookPostToolUse {
		if t.handleTeamCreate(ev) {
			return
		}
	}

	g, err := t.store.GroupForSession(ev.SessionID)
	if err != nil {
		log.Printf("lifecycle: group lookup: %v", err)
		return
	}
	if g != nil {
		return
	}

	switch {
	case ev.Hook == event.HookSessionStart:
		t.groupOnSessionStart(ev)
	case isNew:
		t.groupOnFirstSighting(ev)
	}
}

// handleTeamCreate names a team explicitly. If the session already sits
// in a group with a placeholder name, the group is renamed; otherwise a
// new group is created around the session. Returns false when the call
// carried no usable name, so normal grouping still applies.
func (t *Tracker) handleTeamCreate(ev event.Event) bool {
	input := toolInputMap(ev.Metadata)
	teamName := ""
	if input != nil {
		for _, key := range []string{"team_name", "teamName", "name"} {
			if v, ok := input[key].(string); ok && v != "" {
				teamName = v
				break
			}
		}
	}
	if teamName == "" {
		return false
	}

	g, err := t.store.GroupForSession(ev.SessionID)
	if err != nil {
		log.Printf("lifecycle: group lookup: %v", err)
		return true
	}

	if g != nil {
		if isPlaceholderName(g.Name) {
			if err := t.store.UpdateGroupName(g.ID, teamName); err != nil {
				log.Printf("lifecycle: rename group: %v", err)
			}
		}
		return true
	}

	t.createGroup(ev, teamName)
	return true
}

// groupOnSessionStart joins the active group when one exists, claiming a
// pending spawn name for the member record (and retroactively for the
// session's primary agent). Without an active group the session founds
// its own, named after its working directory.
func (t *Tracker) groupOnSessionStart(ev event.Event) {
	active, err := t.store.ActiveGroup()
	if err != nil {
		log.Printf("lifecycle: active group: %v", err)
		return
	}

	if active != nil && active.MainSessionID != ev.SessionID {
		name := ""
		if len(t.pendingNames) > 0 {
			name = t.pendingNames[0]
			t.pendingNames = t.pendingNames[1:]
		}
		agentType := metaString(ev.Metadata, "agent_type")
		if name == "" {
			// No queued spawn name; fall back to what the event declares
			// about itself.
			name = metaString(ev.Metadata, "agent_name")
		}
		if name == "" {
			name = agentType
		}
		t.joinGroup(active, ev, name, agentType)
		if name != "" {
			if err := t.store.UpdateAgentName(ev.AgentID, ev.SessionID, name); err != nil {
				log.Printf("lifecycle: agent name: %v", err)
			}
		}
		return
	}

	name := "team"
	if wd := metaString(ev.Metadata, "working_directory"); wd != "" {
		name = filepath.Base(wd)
	}
	t.createGroup(ev, name)
}

// groupOnFirstSighting clusters a brand-new session into the active
// group when its first event lands within the grouping window of the
// group's latest join, otherwise starts a fresh group.
func (t *Tracker) groupOnFirstSighting(ev event.Event) {
	active, err := t.store.ActiveGroup()
	if err != nil {
		log.Printf("lifecycle: active group: %v", err)
		return
	}

	if active != nil {
		latest, err := t.store.LatestMemberJoin(active.ID)
		if err == nil && ev.Timestamp.Sub(latest) < t.cfg.GroupWindow {
			t.joinGroup(active, ev, metaString(ev.Metadata, "agent_name"), metaString(ev.Metadata, "agent_type"))
			return
		}
	}

	t.createGroup(ev, "session")
}

func (t *Tracker) createGroup(ev event.Event, name string) {
	g := &store.SessionGroup{
		ID:            uuid.NewString(),
		Name:          name,
		MainSessionID: ev.SessionID,
		CreatedAt:     ev.Timestamp,
	}
	if err := t.store.InsertGroup(g); err != nil {
		log.Printf("lifecycle: insert group: %v", err)
		return
	}
	err := t.store.AddGroupMember(&store.GroupMember{
		GroupID:   g.ID,
		SessionID: ev.SessionID,
		AgentName: "main",
		JoinedAt:  ev.Timestamp,
	})
	if err != nil {
		log.Printf("lifecycle: add member: %v", err)
		return
	}

	t.hub.Broadcast(ws.MsgGroupCreated, ws.GroupCreatedPayload{
		GroupID:       g.ID,
		Name:          g.Name,
		MainSessionID: g.MainSessionID,
		Timestamp:     ev.Timestamp,
	}, ev.SessionID)
}

func (t *Tracker) joinGroup(g *store.SessionGroup, ev event.Event, agentName, agentType string) {
	err := t.store.AddGroupMember(&store.GroupMember{
		GroupID:   g.ID,
		SessionID: ev.SessionID,
		AgentName: agentName,
		AgentType: agentType,
		JoinedAt:  ev.Timestamp,
	})
	if err != nil {
		log.Printf("lifecycle: add member: %v", err)
		return
	}

	payload := ws.GroupMemberAddedPayload{
		GroupID:   g.ID,
		SessionID: ev.SessionID,
		AgentName: agentName,
		AgentType: agentType,
		Timestamp: ev.Timestamp,
	}
	for _, sid := range t.store.SessionIDsInGroup(g.ID) {
		t.hub.Broadcast(ws.MsgGroupMemberAdded, payload, sid)
	}
}

// checkGroupCompletion announces group completion when every member
// session has reached a terminal status.
func (t *Tracker) checkGroupCompletion(sessionID string, at time.Time) {
	g, err := t.store.GroupForSession(sessionID)
	if err != nil || g == nil {
		return
	}

	statuses, err := t.store.GroupMemberStatuses(g.ID)
	if err != nil {
		log.Printf("lifecycle: member statuses: %v", err)
		return
	}
	if len(statuses) == 0 {
		return
	}
	for _, st := range statuses {
		if !st.Terminal() {
			return
		}
	}

	payload := ws.GroupCompletedPayload{
		GroupID:     g.ID,
		MemberCount: len(statuses),
		Timestamp:   at,
	}
	for _, sid := range t.store.SessionIDsInGroup(g.ID) {
		t.hub.Broadcast(ws.MsgGroupCompleted, payload, sid)
	}
}

// isPlaceholderName reports whether a group name was auto-derived and
// may be replaced by an explicit team name.
func isPlaceholderName(name string) bool {
	switch name {
	case "", "session", "team":
		return true
	}
	return false
}
