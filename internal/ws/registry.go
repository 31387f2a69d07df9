// Package ws implements the real-time boundary. This file is the connection
// registry: process-local maps from chats, agents, and departments to live
// connections, with best-effort delivery and self-healing cleanup.
//
// The registry is a cache of presence, never authoritative: it holds no
// durable state and is rebuilt from scratch when the process restarts. It is
// constructed once at startup and passed to the engine and orchestrator as an
// explicit dependency.
package ws

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// wsChatConns gauges live participant connections across all chats.
	wsChatConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "livechat",
		Name:      "ws_chat_connections",
		Help:      "Current number of live chat participant connections.",
	})

	// wsAgentConns gauges live agent dashboard connections.
	wsAgentConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "livechat",
		Name:      "ws_agent_connections",
		Help:      "Current number of live agent dashboard connections.",
	})
)

func init() {
	prometheus.MustRegister(wsChatConns, wsAgentConns)
}

// Registry tracks live connections:
//
//   - chat id → set of participant connections (the chat's fan-out group)
//   - agent id → at most one dashboard connection
//   - department id → set of agent ids marked locally available
//
// Delivery is best-effort: a connection that fails a send is treated as dead
// and removed as a side effect of the broadcast, so there is no separate
// heartbeat mechanism. The availability sets are pure local bookkeeping and
// do not affect claim eligibility, which the engine always re-derives from
// the store.
//
// All methods are safe for concurrent use. The registry never touches the
// store.
type Registry struct {
	mu        sync.Mutex
	chats     map[string]map[*Client]struct{}
	agents    map[string]*Client
	available map[string]map[string]struct{}
	log       zerolog.Logger
}

// NewRegistry constructs an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		chats:     make(map[string]map[*Client]struct{}),
		agents:    make(map[string]*Client),
		available: make(map[string]map[string]struct{}),
		log:       log.With().Str("component", "ws-registry").Logger(),
	}
}

// ConnectToChat registers a participant connection in a chat's fan-out
// group. Registering the same connection twice is a no-op.
func (r *Registry) ConnectToChat(chatID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	group, ok := r.chats[chatID]
	if !ok {
		group = make(map[*Client]struct{})
		r.chats[chatID] = group
	}
	if _, dup := group[c]; dup {
		return
	}
	group[c] = struct{}{}
	wsChatConns.Inc()
	r.log.Debug().Str("chat_id", chatID).Str("conn_id", c.ID).Msg("participant connected")
}

// ConnectAgent registers an agent's dashboard connection. A prior connection
// for the same agent is closed and replaced: each agent has at most one.
func (r *Registry) ConnectAgent(agentID string, c *Client) {
	r.mu.Lock()
	prev := r.agents[agentID]
	if prev == c {
		r.mu.Unlock()
		return
	}
	r.agents[agentID] = c
	if prev == nil {
		wsAgentConns.Inc()
	}
	r.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	r.log.Debug().Str("agent_id", agentID).Str("conn_id", c.ID).Msg("agent connected")
}

// DisconnectFromChat removes a participant connection from a chat's group.
// When the group becomes empty its entry is dropped entirely.
func (r *Registry) DisconnectFromChat(chatID string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeFromChatLocked(chatID, c)
}

func (r *Registry) removeFromChatLocked(chatID string, c *Client) {
	group, ok := r.chats[chatID]
	if !ok {
		return
	}
	if _, member := group[c]; !member {
		return
	}
	delete(group, c)
	wsChatConns.Dec()
	if len(group) == 0 {
		delete(r.chats, chatID)
	}
}

// DisconnectAgent removes an agent's dashboard connection and clears the
// agent from every local availability set.
func (r *Registry) DisconnectAgent(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnectAgentLocked(agentID)
}

func (r *Registry) disconnectAgentLocked(agentID string) {
	if _, ok := r.agents[agentID]; !ok {
		return
	}
	delete(r.agents, agentID)
	wsAgentConns.Dec()
	for dept, set := range r.available {
		delete(set, agentID)
		if len(set) == 0 {
			delete(r.available, dept)
		}
	}
}

// MarkAvailable records an agent as locally available in a department.
// Local bookkeeping only; claim eligibility is re-derived from the store.
func (r *Registry) MarkAvailable(agentID, departmentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.available[departmentID]
	if !ok {
		set = make(map[string]struct{})
		r.available[departmentID] = set
	}
	set[agentID] = struct{}{}
}

// MarkBusy removes an agent from a department's local availability set.
func (r *Registry) MarkBusy(agentID, departmentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.available[departmentID]
	if !ok {
		return
	}
	delete(set, agentID)
	if len(set) == 0 {
		delete(r.available, departmentID)
	}
}

// AvailableAgents returns a snapshot of the agent ids locally marked
// available in a department.
func (r *Registry) AvailableAgents(departmentID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.available[departmentID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// ChatGroupSize returns the number of live connections in a chat's group.
func (r *Registry) ChatGroupSize(chatID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chats[chatID])
}

// BroadcastToChat delivers one frame to every connection in a chat's group,
// in registration order per connection. Connections that fail to receive are
// closed and removed from the group as a side effect.
func (r *Registry) BroadcastToChat(chatID string, evt Event) {
	r.mu.Lock()
	group := r.chats[chatID]
	conns := make([]*Client, 0, len(group))
	for c := range group {
		conns = append(conns, c)
	}
	r.mu.Unlock()

	var dead []*Client
	for _, c := range conns {
		if err := c.Send(evt); err != nil {
			r.log.Warn().Err(err).
				Str("chat_id", chatID).
				Str("conn_id", c.ID).
				Str("event", string(evt.Kind())).
				Msg("broadcast failed, dropping connection")
			dead = append(dead, c)
		}
	}
	if len(dead) == 0 {
		return
	}

	r.mu.Lock()
	for _, c := range dead {
		r.removeFromChatLocked(chatID, c)
	}
	r.mu.Unlock()
	for _, c := range dead {
		_ = c.Close()
	}
}

// NotifyAgent delivers one frame to an agent's dashboard connection. On
// failure the agent is disconnected. Agents without a live connection are
// skipped silently: delivery is best-effort.
func (r *Registry) NotifyAgent(agentID string, evt Event) {
	r.mu.Lock()
	c := r.agents[agentID]
	r.mu.Unlock()
	if c == nil {
		return
	}
	if err := c.Send(evt); err != nil {
		r.log.Warn().Err(err).
			Str("agent_id", agentID).
			Str("event", string(evt.Kind())).
			Msg("agent notify failed, disconnecting")
		r.DisconnectAgent(agentID)
		_ = c.Close()
	}
}

// NotifyDepartmentAgents delivers one frame to every agent locally marked
// available in a department.
func (r *Registry) NotifyDepartmentAgents(departmentID string, evt Event) {
	for _, id := range r.AvailableAgents(departmentID) {
		r.NotifyAgent(id, evt)
	}
}

// Drain closes every live connection and clears all maps. Called once at
// process shutdown; the registry is unusable afterwards only in the sense
// that it is empty, new registrations still work during tests.
func (r *Registry) Drain() {
	r.mu.Lock()
	var conns []*Client
	for chatID, group := range r.chats {
		for c := range group {
			conns = append(conns, c)
		}
		delete(r.chats, chatID)
	}
	for agentID, c := range r.agents {
		conns = append(conns, c)
		delete(r.agents, agentID)
	}
	for dept := range r.available {
		delete(r.available, dept)
	}
	wsChatConns.Set(0)
	wsAgentConns.Set(0)
	r.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	r.log.Info().Int("connections", len(conns)).Msg("registry drained")
}
