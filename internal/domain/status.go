// Status state machines for chats and agent presence. Pure logic, no I/O:
// the services gate close and transfer on the chat transition table before
// touching the store; the claim path is enforced by a guarded UPDATE instead,
// since its legality check must be atomic with the write.
package domain

// ChatStatus is the lifecycle state of a chat.
type ChatStatus string

// Chat lifecycle states.
const (
	ChatWaiting     ChatStatus = "waiting"
	ChatActive      ChatStatus = "active"
	ChatTransferred ChatStatus = "transferred"
	ChatClosed      ChatStatus = "closed"
)

// AgentStatus is an agent's advisory presence flag. It is reconciled against
// the authoritative active-chat count by the assignment engine; it is never
// an independent source of truth for eligibility.
type AgentStatus string

// Agent presence states.
const (
	AgentAvailable AgentStatus = "available"
	AgentBusy      AgentStatus = "busy"
	AgentOffline   AgentStatus = "offline"
)

// chatTransitions enumerates the legal chat status transitions.
// Closed is terminal.
var chatTransitions = map[ChatStatus]map[ChatStatus]bool{
	ChatWaiting: {
		ChatActive:      true, // claimed or auto-assigned
		ChatWaiting:     true, // transfer of an unassigned chat re-queues it
		ChatTransferred: true,
		ChatClosed:      true, // customer abandoned before assignment
	},
	ChatActive: {
		ChatWaiting:     true, // transfer releases the agent
		ChatTransferred: true,
		ChatClosed:      true,
	},
	ChatTransferred: {
		ChatWaiting: true,
		ChatActive:  true,
		ChatClosed:  true,
	},
	ChatClosed: {},
}

// Valid reports whether s is a known chat status.
func (s ChatStatus) Valid() bool {
	switch s {
	case ChatWaiting, ChatActive, ChatTransferred, ChatClosed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s ChatStatus) Terminal() bool { return s == ChatClosed }

// CanTransition reports whether a chat may move from s to next.
func (s ChatStatus) CanTransition(next ChatStatus) bool {
	return chatTransitions[s][next]
}

// Valid reports whether s is a known agent presence value. Presence carries
// no transition table: any known value may replace any other (a direct claim
// flips even an offline agent to busy), so validity is the only gate.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentAvailable, AgentBusy, AgentOffline:
		return true
	}
	return false
}

// AssignmentConsistent reports whether a live chat's status and assigned
// agent pointer agree: an agent is set iff the chat is active. Closed chats
// are out of scope; the store keeps their last assignment for history.
func AssignmentConsistent(status ChatStatus, assignedAgentID *string) bool {
	if status.Terminal() {
		return true
	}
	if status == ChatActive {
		return assignedAgentID != nil && *assignedAgentID != ""
	}
	return assignedAgentID == nil
}
