package ws

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agent-observatory/backend/internal/config"
	"github.com/agent-observatory/backend/internal/event"
	"github.com/agent-observatory/backend/internal/stats"
	"github.com/agent-observatory/backend/internal/store"
)

// Ingestor accepts one normalized-envelope ingestion at a time. The
// lifecycle tracker implements it.
type Ingestor interface {
	Ingest(env event.Envelope) (event.Event, error)
}

type Server struct {
	cfg       *config.Config
	store     *store.Store
	hub       *Hub
	ingestor  Ingestor
	collector *stats.Collector
}

func NewServer(cfg *config.Config, st *store.Store, hub *Hub, ingestor Ingestor, collector *stats.Collector) *Server {
	return &Server{
		cfg:       cfg,
		store:     st,
		hub:       hub,
		ingestor:  ingestor,
		collector: collector,
	}
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleSessionRoutes)
	mux.HandleFunc("/api/groups", s.handleGroups)
	mux.HandleFunc("/api/groups/", s.handleGroupRoutes)
	mux.HandleFunc("/api/projects", s.handleProjects)
	mux.HandleFunc("/api/projects/", s.handleProjectRoutes)
}

// handleEvents is the ingress: one JSON envelope per call. The response
// is success unless the envelope is structurally invalid.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var env event.Envelope
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&env); err != nil {
		http.Error(w, "invalid event envelope", http.StatusBadRequest)
		return
	}
	if env.Hook == "" {
		http.Error(w, "missing hook type", http.StatusBadRequest)
		return
	}

	ev, err := s.ingestor.Ingest(env)
	if err != nil {
		log.Printf("ingest error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(ev)
}

// handleWS upgrades the subscription stream. Query parameters session_id
// and group_id select an optional delivery filter.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: checkOrigin}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	sessionFilter := r.URL.Query().Get("session_id")
	groupFilter := r.URL.Query().Get("group_id")
	c := s.hub.AddClient(conn, sessionFilter, groupFilter)

	go func() {
		defer s.hub.RemoveClient(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().UTC(),
		"connections": s.hub.ClientCount(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	total, active, err := s.store.CountSessions()
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	events, err := s.store.CountEvents()
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, s.collector.Snapshot(stats.StoreCounts{
		Sessions:       total,
		ActiveSessions: active,
		Events:         events,
		Subscribers:    s.hub.ClientCount(),
	}))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions()
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, sessions)
}

// handleSessionRoutes parses /api/sessions/{id}[/events|/agents|/stats|/files].
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(path, "/", 2)

	sessionID, err := url.PathUnescape(parts[0])
	if err != nil || sessionID == "" {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	sess, err := s.store.GetSession(sessionID)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if sess == nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	if len(parts) == 1 {
		writeJSON(w, sess)
		return
	}

	switch parts[1] {
	case "events":
		s.handleSessionEvents(w, r, sessionID)
	case "agents":
		agents, err := s.store.AgentsBySession(sessionID)
		if err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, agents)
	case "stats":
		s.handleSessionStats(w, sess)
	case "files":
		changes, err := s.store.FileChangesBySession(sessionID)
		if err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, changes)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request, sessionID string) {
	q := r.URL.Query()
	filter := store.EventFilter{Category: q.Get("category")}
	filter.Limit = atoiDefault(q.Get("limit"), 0)
	filter.Offset = atoiDefault(q.Get("offset"), 0)

	events, err := s.store.EventsBySession(sessionID, filter)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, events)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, sess *store.Session) {
	end := time.Now()
	if sess.EndedAt != nil {
		end = *sess.EndedAt
	}

	tools, err := s.store.ToolBreakdown(sess.ID)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	agents, err := s.store.AgentBreakdownBySession(sess.ID)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	changes, err := s.store.FileChangesBySession(sess.ID)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var created, modified, read int
	for _, fc := range changes {
		switch fc.ChangeType {
		case "created":
			created++
		case "modified":
			modified++
		case "read":
			read++
		}
	}

	writeJSON(w, map[string]any{
		"sessionId":       sess.ID,
		"durationSeconds": int(end.Sub(sess.StartedAt).Seconds()),
		"eventCount":      sess.EventCount,
		"tools":           tools,
		"agents":          agents,
		"filesCreated":    created,
		"filesModified":   modified,
		"filesRead":       read,
	})
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.store.ListGroups()
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, groups)
}

// handleGroupRoutes parses /api/groups/{id}[/members].
func (s *Server) handleGroupRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/groups/")
	parts := strings.SplitN(path, "/", 2)

	group, err := s.store.GetGroup(parts[0])
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if group == nil {
		http.Error(w, "group not found", http.StatusNotFound)
		return
	}

	if len(parts) == 1 {
		writeJSON(w, group)
		return
	}
	if parts[1] != "members" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	members, err := s.store.GroupMembers(group.ID)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, members)
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		projects, err := s.store.ListProjects()
		if err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, projects)
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			http.Error(w, "invalid project", http.StatusBadRequest)
			return
		}
		p := &store.Project{ID: uuid.NewString(), Name: req.Name, CreatedAt: time.Now().UTC()}
		if err := s.store.InsertProject(p); err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, p)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleProjectRoutes parses /api/projects/{id}/tasks[/{taskId}[/activity]].
func (s *Server) handleProjectRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[1] != "tasks" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	project, err := s.store.GetProject(parts[0])
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if project == nil {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 2:
		s.handleProjectTasks(w, r, project)
	case len(parts) == 3:
		s.handleTask(w, r, parts[2])
	case len(parts) == 4 && parts[3] == "activity":
		s.handleTaskActivity(w, parts[2])
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (s *Server) handleProjectTasks(w http.ResponseWriter, r *http.Request, project *store.Project) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.store.WorkItemsByProject(project.ID)
		if err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		summary := map[store.WorkItemStatus]int{}
		for _, item := range items {
			summary[item.Status]++
		}
		writeJSON(w, map[string]any{"tasks": items, "summary": summary})
	case http.MethodPost:
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
			http.Error(w, "invalid task", http.StatusBadRequest)
			return
		}
		item := &store.WorkItem{
			ID:        uuid.NewString(),
			ProjectID: project.ID,
			Title:     req.Title,
			Status:    store.WorkPlanned,
			UpdatedAt: time.Now().UTC(),
		}
		if err := s.store.InsertWorkItem(item); err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, item)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTask serves a single work item and accepts exogenous human edits.
// A PATCH here marks the item manually edited so later correlation
// activity cannot silently overwrite the human's decision.
func (s *Server) handleTask(w http.ResponseWriter, r *http.Request, taskID string) {
	item, err := s.store.GetWorkItem(taskID)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if item == nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, item)
	case http.MethodPatch:
		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		status := store.WorkItemStatus(req.Status)
		switch status {
		case store.WorkPlanned, store.WorkInProgress, store.WorkCompleted, store.WorkBlocked:
		default:
			http.Error(w, "invalid status", http.StatusBadRequest)
			return
		}
		if err := s.store.MarkWorkItemManualEdit(item.ID, status, time.Now().UTC()); err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		s.hub.Broadcast(MsgTaskStatus, TaskStatusPayload{
			WorkItemID: item.ID,
			ProjectID:  item.ProjectID,
			Status:     string(status),
		}, "")
		item.Status = status
		item.ManualEdit = true
		writeJSON(w, item)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleTaskActivity(w http.ResponseWriter, taskID string) {
	activities, err := s.store.ActivityByWorkItem(taskID)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, activities)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}
	return false
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
