package stats

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/agent-observatory/backend/internal/event"
	"github.com/agent-observatory/backend/internal/store"
)

// Collector accumulates in-process aggregate counters for /api/stats.
// The pipeline records into it synchronously; reads take a snapshot.
type Collector struct {
	mu                 sync.Mutex
	startedAt          time.Time
	eventsByCategory   map[string]int64
	toolCalls          map[string]int64
	sessionsCompleted  int64
	sessionsErrored    int64
	correlationMatches int64

	proc *process.Process
}

type StoreCounts struct {
	Sessions       int `json:"sessions"`
	ActiveSessions int `json:"activeSessions"`
	Events         int `json:"events"`
	Subscribers    int `json:"subscribers"`
}

type Snapshot struct {
	UptimeSeconds      int64            `json:"uptimeSeconds"`
	Store              StoreCounts      `json:"store"`
	EventsByCategory   map[string]int64 `json:"eventsByCategory"`
	ToolCalls          map[string]int64 `json:"toolCalls"`
	SessionsCompleted  int64            `json:"sessionsCompleted"`
	SessionsErrored    int64            `json:"sessionsErrored"`
	CorrelationMatches int64            `json:"correlationMatches"`
	ProcessRSSBytes    uint64           `json:"processRssBytes,omitempty"`
	ProcessCPUPercent  float64          `json:"processCpuPercent,omitempty"`
}

func NewCollector() *Collector {
	c := &Collector{
		startedAt:        time.Now(),
		eventsByCategory: make(map[string]int64),
		toolCalls:        make(map[string]int64),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = proc
	}
	return c
}

func (c *Collector) RecordEvent(ev event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventsByCategory[ev.Category.String()]++
	if ev.Tool != "" && ev.Hook == event.HookPostToolUse {
		c.toolCalls[ev.Tool]++
	}
}

func (c *Collector) RecordSessionTerminal(status store.SessionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch status {
	case store.SessionCompleted:
		c.sessionsCompleted++
	case store.SessionError:
		c.sessionsErrored++
	}
}

func (c *Collector) RecordCorrelationMatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.correlationMatches++
}

func (c *Collector) Snapshot(counts StoreCounts) Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		UptimeSeconds:      int64(time.Since(c.startedAt).Seconds()),
		Store:              counts,
		EventsByCategory:   make(map[string]int64, len(c.eventsByCategory)),
		ToolCalls:          make(map[string]int64, len(c.toolCalls)),
		SessionsCompleted:  c.sessionsCompleted,
		SessionsErrored:    c.sessionsErrored,
		CorrelationMatches: c.correlationMatches,
	}
	for k, v := range c.eventsByCategory {
		snap.EventsByCategory[k] = v
	}
	for k, v := range c.toolCalls {
		snap.ToolCalls[k] = v
	}
	c.mu.Unlock()

	if c.proc != nil {
		if mem, err := c.proc.MemoryInfo(); err == nil && mem != nil {
			snap.ProcessRSSBytes = mem.RSS
		}
		if cpu, err := c.proc.CPUPercent(); err == nil {
			snap.ProcessCPUPercent = cpu
		}
	}
	return snap
}
