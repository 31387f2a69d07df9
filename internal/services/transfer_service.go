// Package services implements the routing core. This file is the transfer
// orchestrator: moving a chat to another department, releasing its agent,
// and re-entering the assignment pipeline there.
package services

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/supporthub/livechat-backend/internal/domain"
	"github.com/supporthub/livechat-backend/internal/events"
	"github.com/supporthub/livechat-backend/internal/repo"
	"github.com/supporthub/livechat-backend/internal/ws"
)

// TransferStore is the store contract the orchestrator requires.
type TransferStore interface {
	// GetChat fetches a chat by ID.
	GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error)

	// GetDepartment fetches a department regardless of active flag.
	GetDepartment(ctx context.Context, db *gorm.DB, id string) (*domain.Department, error)

	// GetActiveDepartment fetches a department only when it is active.
	GetActiveDepartment(ctx context.Context, db *gorm.DB, id string) (*domain.Department, error)

	// TransferChat rewrites the chat row into the target department.
	TransferChat(ctx context.Context, db *gorm.DB, chatID, targetDepartmentID string) error

	// UpdateAgentStatus sets an agent's presence flag.
	UpdateAgentStatus(ctx context.Context, db *gorm.DB, agentID string, status domain.AgentStatus) error
}

// Transfer moves chats between departments. The row mutation and the agent
// release commit first; the system-message broadcast is fire-and-forget.
type Transfer struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Store is the repository contract used by this service.
	Store TransferStore
	// Assignment re-runs auto-assignment in the target department.
	Assignment *Assignment
	// Notifier fans the transfer notice out to the chat's group.
	Notifier Notifier
	// Events receives the phase-two lifecycle event.
	Events events.Publisher
}

// NewTransfer constructs the orchestrator.
func NewTransfer(db *gorm.DB, store TransferStore, a *Assignment, n Notifier, pub events.Publisher) *Transfer {
	return &Transfer{DB: db, Store: store, Assignment: a, Notifier: n, Events: pub}
}

// Move transfers a chat to targetDepartmentID. The target must exist and be
// active (ErrDepartmentNotFound otherwise); the chat must not be closed. The
// same chat row is reused: department rewritten, assignment cleared, status
// back to waiting, transferred_from recording the breadcrumb. A previously
// assigned agent returns to available. The chat then re-enters AutoAssign in
// its new department, and finally the fan-out group receives a system
// message naming both departments plus the optional reason.
func (t *Transfer) Move(ctx context.Context, chatID, targetDepartmentID, reason string) (*domain.Chat, error) {
	target, err := t.Store.GetActiveDepartment(ctx, t.DB, targetDepartmentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrDepartmentNotFound
		}
		return nil, err
	}

	chat, err := t.Store.GetChat(ctx, t.DB, chatID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	// A transfer re-queues the chat, so the move is legal exactly when the
	// chat may still return to waiting.
	if !chat.Status.CanTransition(domain.ChatWaiting) {
		return nil, ErrChatClosed
	}

	oldDeptName := "Unknown"
	if dept, err := t.Store.GetDepartment(ctx, t.DB, chat.DepartmentID); err == nil {
		oldDeptName = dept.Name
	}
	oldAgentID := chat.AssignedAgentID

	// Phase one: rewrite the row and release the agent atomically.
	err = t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := t.Store.TransferChat(ctx, tx, chatID, target.ID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrChatNotFound
			}
			return err
		}
		if oldAgentID != nil {
			if err := t.Store.UpdateAgentStatus(ctx, tx, *oldAgentID, domain.AgentAvailable); err != nil &&
				!errors.Is(err, repo.ErrNotFound) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	moved, err := t.Assignment.AutoAssign(ctx, chatID)
	if err != nil {
		return nil, err
	}

	// Phase two: fire-and-forget notice.
	notice := fmt.Sprintf("Chat transferred from %s to %s.", oldDeptName, target.Name)
	if reason != "" {
		notice += " Reason: " + reason
	}
	t.Notifier.BroadcastToChat(chatID, ws.NewSystemMessage(chatID, notice))
	t.Events.Publish(ctx, events.TopicChatLifecycle, "chat_transferred", chatID, map[string]string{
		"from_department": oldDeptName,
		"to_department":   target.Name,
		"reason":          reason,
	})

	return moved, nil
}
