// Package domain defines the persistence models for departments, agents,
// chats, and messages. These types are mapped with GORM and form the core
// data layer of the live support routing backend.
package domain

import (
	"time"
)

// Department groups agents and receives customer chats. Exactly one active
// department carries the customer-care flag and acts as the default landing
// department for chats created without an explicit destination.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Name: unique human-readable department name.
//   - IsActive: inactive departments accept no new chats or transfers.
//   - IsCustomerCare: marks the default landing department.
type Department struct {
	ID             string    `json:"id"               gorm:"type:char(36);primaryKey"`
	Name           string    `json:"name"             gorm:"type:varchar(100);not null;uniqueIndex"`
	Description    string    `json:"description"      gorm:"type:text"`
	IsActive       bool      `json:"is_active"        gorm:"not null;default:true"`
	IsCustomerCare bool      `json:"is_customer_care" gorm:"not null;default:false"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName returns the database table name for Department.
func (Department) TableName() string { return "departments" }

// Agent is a human operator who handles customer chats for one department.
//
// Status is advisory presence only: true claim eligibility is always
// re-derived from the live chat-to-agent mapping (see services.Assignment),
// because presence can be stale relative to the store.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Username / Email: unique operator identity.
//   - DepartmentID: the department whose queue this agent serves.
//   - IsActive: deactivated agents never receive assignments.
//   - Status: presence flag (available/busy/offline).
type Agent struct {
	ID           string      `json:"id"            gorm:"type:char(36);primaryKey"`
	Username     string      `json:"username"      gorm:"type:varchar(50);not null;uniqueIndex"`
	Email        string      `json:"email"         gorm:"type:varchar(100);not null;uniqueIndex"`
	FullName     string      `json:"full_name"     gorm:"type:varchar(100)"`
	DepartmentID string      `json:"department_id" gorm:"type:char(36);not null;index"`
	IsActive     bool        `json:"is_active"     gorm:"not null;default:true"`
	Status       AgentStatus `json:"status"        gorm:"type:varchar(16);not null;default:'available';check:status IN ('available','busy','offline')"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`

	// Department the agent belongs to.
	Department Department `json:"-" gorm:"foreignKey:DepartmentID;references:ID"`
}

// TableName returns the database table name for Agent.
func (Agent) TableName() string { return "agents" }

// DisplayName returns the agent's full name, falling back to the username.
func (a Agent) DisplayName() string {
	if a.FullName != "" {
		return a.FullName
	}
	return a.Username
}

// Chat is a single customer support conversation.
//
// Invariants:
//   - AssignedAgentID is non-nil iff Status == ChatActive.
//   - An agent is the assigned agent of at most one active chat at a time.
//   - ChatClosed is terminal: no further status mutation.
//
// A chat is created waiting with no agent, may cycle waiting→active across
// transfers, and ends closed. TransferredFrom is a self-referential
// breadcrumb set when the chat is moved to another department: the same row
// is reused, not cloned.
type Chat struct {
	ID              string     `json:"id"                gorm:"type:char(36);primaryKey"`
	CustomerName    string     `json:"customer_name"     gorm:"type:varchar(100);not null"`
	CustomerEmail   string     `json:"customer_email"    gorm:"type:varchar(100);not null;index"`
	DepartmentID    string     `json:"department_id"     gorm:"type:char(36);not null;index:idx_dept_status,priority:1"`
	AssignedAgentID *string    `json:"assigned_agent_id" gorm:"type:char(36);index"`
	Status          ChatStatus `json:"status"            gorm:"type:varchar(16);not null;default:'waiting';index:idx_dept_status,priority:2;check:status IN ('waiting','active','transferred','closed')"`
	TransferredFrom *string    `json:"transferred_from"  gorm:"type:char(36)"`
	CreatedAt       time.Time  `json:"created_at"        gorm:"index"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ClosedAt        *time.Time `json:"closed_at"`

	// Department currently handling the chat. May point to a department
	// deactivated after a historical transfer; that is permitted.
	Department Department `json:"-" gorm:"foreignKey:DepartmentID;references:ID"`
	// AssignedAgent is set only while the chat is active.
	AssignedAgent *Agent `json:"-" gorm:"foreignKey:AssignedAgentID;references:ID"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// Message is a single utterance within a chat, authored by the customer, the
// assigned agent, or the system (transfer notices and similar).
type Message struct {
	ID              string    `json:"id"                gorm:"type:char(36);primaryKey"`
	ChatID          string    `json:"chat_id"           gorm:"type:char(36);not null;index:idx_chat_msgs,priority:1"`
	SenderID        *string   `json:"sender_id"         gorm:"type:char(36)"` // nil for customer and system messages
	SenderName      string    `json:"sender_name"       gorm:"type:varchar(100);not null"`
	Content         string    `json:"content"           gorm:"type:text;not null"`
	IsSystemMessage bool      `json:"is_system_message" gorm:"not null;default:false"`
	CreatedAt       time.Time `json:"created_at"        gorm:"index:idx_chat_msgs,priority:2"`

	// Chat is the parent conversation. Messages are cascade-deleted if
	// their chat is removed.
	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
