package lifecycle

import "github.com/agent-observatory/backend/internal/store"

// Explicit transition tables for the session and agent state machines.
// Anything not enumerated here is an illegal transition and is skipped
// (and logged) rather than applied.
//
// Sessions: (none) -> active -> {completed, error}; terminal states may
// re-activate when a new event arrives for the session id.
var sessionTransitions = map[store.SessionStatus]map[store.SessionStatus]bool{
	store.SessionActive: {
		store.SessionCompleted: true,
		store.SessionError:     true,
	},
	store.SessionCompleted: {store.SessionActive: true},
	store.SessionError:     {store.SessionActive: true},
}

// Agents: (none) -> active <-> {idle, error} -> {completed, shutdown}.
// completed/shutdown re-activate when a stopped agent (or a re-used
// virtual subagent name) produces new activity.
var agentTransitions = map[store.AgentStatus]map[store.AgentStatus]bool{
	store.AgentActive: {
		store.AgentIdle:      true,
		store.AgentError:     true,
		store.AgentCompleted: true,
		store.AgentShutdown:  true,
	},
	store.AgentIdle: {
		store.AgentActive:    true,
		store.AgentError:     true,
		store.AgentCompleted: true,
		store.AgentShutdown:  true,
	},
	store.AgentError: {
		store.AgentActive:    true,
		store.AgentCompleted: true,
		store.AgentShutdown:  true,
	},
	store.AgentCompleted: {store.AgentActive: true},
	store.AgentShutdown:  {store.AgentActive: true},
}

func sessionTransitionOK(from, to store.SessionStatus) bool {
	return from == to || sessionTransitions[from][to]
}

func agentTransitionOK(from, to store.AgentStatus) bool {
	return from == to || agentTransitions[from][to]
}
