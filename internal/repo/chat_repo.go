// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Chat model,
// including the store primitives the assignment engine depends on.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition. The one deliberate exception is
// ClaimWaitingChat, which encodes the race-free claim as a single guarded
// UPDATE so that two concurrent claimants resolve deterministically.
//
// Error semantics:
//   - When a chat is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/supporthub/livechat-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ChatFilter narrows ListChatsPage results. Zero-valued fields are ignored.
type ChatFilter struct {
	Status       domain.ChatStatus
	DepartmentID string
	AgentID      string
}

// CreateChat inserts a new waiting Chat row with no assigned agent.
// The chat ID is a randomly generated UUID and CreatedAt is set to UTC.
func CreateChat(ctx context.Context, db *gorm.DB, customerName, customerEmail, departmentID string) (*domain.Chat, error) {
	c := &domain.Chat{
		ID:            uuid.NewString(),
		CustomerName:  customerName,
		CustomerEmail: customerEmail,
		DepartmentID:  departmentID,
		Status:        domain.ChatWaiting,
		CreatedAt:     time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetChat fetches a single chat by ID. If the record does not exist, it
// returns ErrNotFound. On other DB errors, the raw error is returned.
func GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error) {
	var c domain.Chat
	err := db.WithContext(ctx).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CountChats returns the total number of chats matching the filter.
func CountChats(ctx context.Context, db *gorm.DB, f ChatFilter) (int64, error) {
	var total int64
	err := applyChatFilter(db.WithContext(ctx).Model(&domain.Chat{}), f).
		Count(&total).Error
	return total, err
}

// ListChatsPage returns a paginated slice of chats matching the filter,
// ordered by creation time descending (most recent first). Use CountChats to
// obtain the total for pagination metadata.
func ListChatsPage(ctx context.Context, db *gorm.DB, f ChatFilter, offset, limit int) ([]domain.Chat, error) {
	var out []domain.Chat
	err := applyChatFilter(db.WithContext(ctx), f).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

func applyChatFilter(q *gorm.DB, f ChatFilter) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.DepartmentID != "" {
		q = q.Where("department_id = ?", f.DepartmentID)
	}
	if f.AgentID != "" {
		q = q.Where("assigned_agent_id = ?", f.AgentID)
	}
	return q
}

// ClaimWaitingChat atomically assigns a waiting chat to an agent. It is the
// claim primitive behind the one-active-chat-per-agent protocol: the UPDATE
// is guarded on status='waiting', so of N concurrent claimants exactly one
// flips the row to active and the rest see zero rows affected.
//
// It returns the number of rows affected (0 or 1). It never blocks waiting
// for another transaction; SQLite's busy timeout aside, a lost race surfaces
// immediately as 0.
func ClaimWaitingChat(ctx context.Context, db *gorm.DB, chatID, agentID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ? AND status = ?", chatID, domain.ChatWaiting).
		Updates(map[string]any{
			"assigned_agent_id": agentID,
			"status":            domain.ChatActive,
			"updated_at":        time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// CountActiveChatsForAgent returns how many chats the agent currently holds
// in active status. The assignment engine treats this count, not the agent's
// presence flag, as the source of truth for eligibility.
func CountActiveChatsForAgent(ctx context.Context, db *gorm.DB, agentID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("assigned_agent_id = ? AND status = ?", agentID, domain.ChatActive).
		Count(&n).Error
	return n, err
}

// CountWaitingAheadOf returns the number of waiting chats in the same
// department created strictly before the given chat, breaking creation-time
// ties by ascending id so the queue order is total.
func CountWaitingAheadOf(ctx context.Context, db *gorm.DB, chat *domain.Chat) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("department_id = ? AND status = ?", chat.DepartmentID, domain.ChatWaiting).
		Where("created_at < ? OR (created_at = ? AND id < ?)", chat.CreatedAt, chat.CreatedAt, chat.ID).
		Count(&n).Error
	return n, err
}

// NextWaitingChat returns the oldest waiting chat in a department (FIFO by
// creation time, then id), or ErrNotFound when the queue is empty.
func NextWaitingChat(ctx context.Context, db *gorm.DB, departmentID string) (*domain.Chat, error) {
	var c domain.Chat
	err := db.WithContext(ctx).
		Where("department_id = ? AND status = ?", departmentID, domain.ChatWaiting).
		Order("created_at asc").
		Order("id asc").
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// MarkChatWaiting clears the chat's assignment after a failed auto-assign or
// a transfer, re-queueing it. The caller is responsible for not invoking this
// on a closed chat.
func MarkChatWaiting(ctx context.Context, db *gorm.DB, chatID string) error {
	return db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", chatID).
		Updates(map[string]any{
			"assigned_agent_id": nil,
			"status":            domain.ChatWaiting,
			"updated_at":        time.Now().UTC(),
		}).Error
}

// TransferChat rewrites the chat row into its target department: the same
// row is reused, the assignment is cleared, the status returns to waiting,
// and transferred_from records the pre-transfer chat id as a breadcrumb.
// Returns ErrNotFound if the chat row no longer exists.
func TransferChat(ctx context.Context, db *gorm.DB, chatID, targetDepartmentID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ?", chatID).
		Updates(map[string]any{
			"department_id":     targetDepartmentID,
			"assigned_agent_id": nil,
			"status":            domain.ChatWaiting,
			"transferred_from":  chatID,
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CloseChat marks the chat closed and stamps closed_at. The guard on status
// makes closing idempotent-hostile on purpose: closing an already-closed chat
// affects zero rows and returns ErrNotFound, preserving terminal-state
// immutability.
func CloseChat(ctx context.Context, db *gorm.DB, chatID string, closedAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Chat{}).
		Where("id = ? AND status <> ?", chatID, domain.ChatClosed).
		Updates(map[string]any{
			"status":     domain.ChatClosed,
			"closed_at":  closedAt,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
