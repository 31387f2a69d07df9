// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// Idempotency records the outcome of a previously processed chat-creation
// request, keyed by (customer_email, department_id, key). It lets a customer
// widget retry POST /chats after a network failure without opening a second
// chat: the originally created chat is returned instead.
type Idempotency struct {
	ID            string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	CustomerEmail string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_email_dept_key,priority:1"`
	DepartmentID  string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_email_dept_key,priority:2"`
	Key           string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_email_dept_key,priority:3"`
	ChatID        string    `gorm:"type:TEXT NOT NULL"`
	Status        int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt     time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt     time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
