// Package ws implements the real-time boundary: the connection registry, the
// per-socket client wrapper, and the wire protocol spoken over WebSockets.
//
// This file defines the protocol. Every frame on the wire is a tagged JSON
// object whose "type" field discriminates the payload; each kind gets its own
// struct per direction, so handlers and the engine never pass untyped maps.
package ws

import "time"

// EventType discriminates outbound frames.
type EventType string

// Outbound frame kinds. The first group is delivered on a chat's fan-out
// group, the second on an agent's dashboard connection.
const (
	EventConnected     EventType = "connected"
	EventUserJoined    EventType = "user_joined"
	EventUserLeft      EventType = "user_left"
	EventMessage       EventType = "message"
	EventTyping        EventType = "typing"
	EventAgentAssigned EventType = "agent_assigned"
	EventChatClosed    EventType = "chat_closed"
	EventQueueStatus   EventType = "queue_status"
	EventSystemMessage EventType = "system_message"

	EventNewAssignment      EventType = "new_assignment"
	EventIncomingAssignment EventType = "incoming_assignment"
	EventStatusUpdated      EventType = "status_updated"
)

// Inbound frame kinds.
const (
	InboundMessage      = "message"
	InboundTyping       = "typing"
	InboundStatusUpdate = "status_update"
)

// Event is implemented by every outbound frame. Kind returns the value of
// the frame's type tag.
type Event interface {
	Kind() EventType
}

// Connected confirms a successful registration on either channel. Exactly
// one of ChatID/AgentID is set, matching the endpoint the client dialed.
type Connected struct {
	Type    EventType `json:"type"`
	ChatID  string    `json:"chat_id,omitempty"`
	AgentID string    `json:"agent_id,omitempty"`
	Message string    `json:"message"`
}

func (e Connected) Kind() EventType { return e.Type }

// NewChatConnected builds the confirmation frame for a chat participant.
func NewChatConnected(chatID string) Connected {
	return Connected{Type: EventConnected, ChatID: chatID, Message: "Connected to chat"}
}

// NewAgentConnected builds the confirmation frame for an agent dashboard.
func NewAgentConnected(agentID string) Connected {
	return Connected{Type: EventConnected, AgentID: agentID, Message: "Connected to agent dashboard"}
}

// UserJoined announces a new participant to a chat's fan-out group.
type UserJoined struct {
	Type       EventType `json:"type"`
	ChatID     string    `json:"chat_id"`
	SenderName string    `json:"sender_name"`
}

func (e UserJoined) Kind() EventType { return e.Type }

// NewUserJoined builds a user_joined frame.
func NewUserJoined(chatID, senderName string) UserJoined {
	return UserJoined{Type: EventUserJoined, ChatID: chatID, SenderName: senderName}
}

// UserLeft announces a departed participant to a chat's fan-out group.
type UserLeft struct {
	Type       EventType `json:"type"`
	ChatID     string    `json:"chat_id"`
	SenderName string    `json:"sender_name"`
}

func (e UserLeft) Kind() EventType { return e.Type }

// NewUserLeft builds a user_left frame.
func NewUserLeft(chatID, senderName string) UserLeft {
	return UserLeft{Type: EventUserLeft, ChatID: chatID, SenderName: senderName}
}

// ChatMessage carries one transcript message to a chat's fan-out group.
type ChatMessage struct {
	Type            EventType `json:"type"`
	MessageID       string    `json:"message_id,omitempty"`
	ChatID          string    `json:"chat_id"`
	SenderID        *string   `json:"sender_id,omitempty"`
	SenderName      string    `json:"sender_name"`
	Content         string    `json:"content"`
	IsSystemMessage bool      `json:"is_system_message"`
	CreatedAt       time.Time `json:"created_at"`
}

func (e ChatMessage) Kind() EventType { return e.Type }

// NewChatMessage builds a message frame.
func NewChatMessage(messageID, chatID string, senderID *string, senderName, content string, system bool, createdAt time.Time) ChatMessage {
	return ChatMessage{
		Type:            EventMessage,
		MessageID:       messageID,
		ChatID:          chatID,
		SenderID:        senderID,
		SenderName:      senderName,
		Content:         content,
		IsSystemMessage: system,
		CreatedAt:       createdAt,
	}
}

// Typing relays a typing indicator to a chat's fan-out group.
type Typing struct {
	Type       EventType `json:"type"`
	ChatID     string    `json:"chat_id"`
	SenderName string    `json:"sender_name"`
	IsTyping   bool      `json:"is_typing"`
}

func (e Typing) Kind() EventType { return e.Type }

// NewTyping builds a typing frame.
func NewTyping(chatID, senderName string, isTyping bool) Typing {
	return Typing{Type: EventTyping, ChatID: chatID, SenderName: senderName, IsTyping: isTyping}
}

// AgentAssigned tells a chat's participants that an agent joined.
type AgentAssigned struct {
	Type      EventType `json:"type"`
	ChatID    string    `json:"chat_id"`
	AgentName string    `json:"agent_name"`
	Message   string    `json:"message"`
}

func (e AgentAssigned) Kind() EventType { return e.Type }

// NewAgentAssigned builds an agent_assigned frame.
func NewAgentAssigned(chatID, agentName string) AgentAssigned {
	return AgentAssigned{
		Type:      EventAgentAssigned,
		ChatID:    chatID,
		AgentName: agentName,
		Message:   agentName + " has joined the chat.",
	}
}

// ChatClosed tells a chat's participants the conversation ended.
type ChatClosed struct {
	Type    EventType `json:"type"`
	ChatID  string    `json:"chat_id"`
	Message string    `json:"message"`
}

func (e ChatClosed) Kind() EventType { return e.Type }

// NewChatClosed builds a chat_closed frame.
func NewChatClosed(chatID string) ChatClosed {
	return ChatClosed{Type: EventChatClosed, ChatID: chatID, Message: "Chat session has been closed"}
}

// QueueStatus reports a waiting chat's FIFO position and wait estimate.
type QueueStatus struct {
	Type                 EventType `json:"type"`
	ChatID               string    `json:"chat_id"`
	Position             int       `json:"position"`
	EstimatedWaitMinutes int       `json:"estimated_wait_minutes"`
	Message              string    `json:"message"`
}

func (e QueueStatus) Kind() EventType { return e.Type }

// SystemMessage carries an operational notice (transfer and similar) to a
// chat's fan-out group.
type SystemMessage struct {
	Type            EventType `json:"type"`
	ChatID          string    `json:"chat_id"`
	Content         string    `json:"content"`
	IsSystemMessage bool      `json:"is_system_message"`
}

func (e SystemMessage) Kind() EventType { return e.Type }

// NewSystemMessage builds a system_message frame.
func NewSystemMessage(chatID, content string) SystemMessage {
	return SystemMessage{Type: EventSystemMessage, ChatID: chatID, Content: content, IsSystemMessage: true}
}

// NewAssignment tells an agent's dashboard that a chat was assigned to them.
type NewAssignment struct {
	Type          EventType `json:"type"`
	ChatID        string    `json:"chat_id"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
}

func (e NewAssignment) Kind() EventType { return e.Type }

// NewNewAssignment builds a new_assignment frame.
func NewNewAssignment(chatID, customerName, customerEmail string) NewAssignment {
	return NewAssignment{Type: EventNewAssignment, ChatID: chatID, CustomerName: customerName, CustomerEmail: customerEmail}
}

// IncomingAssignment offers an agent the oldest waiting chat after they close
// one. The window is advisory and client-enforced; the server also re-checks
// after it lapses (see services.Assignment).
type IncomingAssignment struct {
	Type           EventType `json:"type"`
	ChatID         string    `json:"chat_id"`
	CustomerName   string    `json:"customer_name"`
	CustomerEmail  string    `json:"customer_email"`
	TimeoutSeconds int       `json:"timeout_seconds"`
	Message        string    `json:"message"`
}

func (e IncomingAssignment) Kind() EventType { return e.Type }

// StatusUpdated acknowledges an agent's presence change.
type StatusUpdated struct {
	Type   EventType `json:"type"`
	Status string    `json:"status"`
}

func (e StatusUpdated) Kind() EventType { return e.Type }

// NewStatusUpdated builds a status_updated frame.
func NewStatusUpdated(status string) StatusUpdated {
	return StatusUpdated{Type: EventStatusUpdated, Status: status}
}

// ChatInbound is a frame received on the participant channel.
type ChatInbound struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	IsTyping  *bool  `json:"is_typing,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// AgentInbound is a frame received on the dashboard channel.
type AgentInbound struct {
	Type   string `json:"type"`
	Status string `json:"status,omitempty"`
}
