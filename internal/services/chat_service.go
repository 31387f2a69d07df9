// Package services implements the routing core. This file is the chat
// lifecycle service: intake (create + auto-assign), lookup and listing, and
// the close workflow that feeds the freed agent back into the engine.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/supporthub/livechat-backend/internal/domain"
	"github.com/supporthub/livechat-backend/internal/events"
	"github.com/supporthub/livechat-backend/internal/repo"
	"github.com/supporthub/livechat-backend/internal/ws"
)

// ChatStore is the store contract the lifecycle service requires.
type ChatStore interface {
	// CreateChat inserts a new waiting chat.
	CreateChat(ctx context.Context, db *gorm.DB, customerName, customerEmail, departmentID string) (*domain.Chat, error)

	// GetChat fetches a chat by ID.
	GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error)

	// CountChats returns the number of chats matching the filter.
	CountChats(ctx context.Context, db *gorm.DB, f repo.ChatFilter) (int64, error)

	// ListChatsPage returns a page of chats matching the filter.
	ListChatsPage(ctx context.Context, db *gorm.DB, f repo.ChatFilter, offset, limit int) ([]domain.Chat, error)

	// CloseChat marks a chat closed; ErrNotFound when already closed.
	CloseChat(ctx context.Context, db *gorm.DB, chatID string, closedAt time.Time) error

	// GetActiveDepartment validates an explicit intake department.
	GetActiveDepartment(ctx context.Context, db *gorm.DB, id string) (*domain.Department, error)

	// GetCustomerCareDepartment resolves the default landing department.
	GetCustomerCareDepartment(ctx context.Context, db *gorm.DB) (*domain.Department, error)
}

// ChatService owns chat intake and closing. It delegates all pairing
// decisions to the assignment engine.
type ChatService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Store is the repository contract used by this service.
	Store ChatStore
	// Assignment pairs the new or freed-up chats with agents.
	Assignment *Assignment
	// Notifier fans close notices out to the chat's group.
	Notifier Notifier
	// Events receives phase-two lifecycle events.
	Events events.Publisher
}

// NewChatService constructs the lifecycle service.
func NewChatService(db *gorm.DB, store ChatStore, a *Assignment, n Notifier, pub events.Publisher) *ChatService {
	return &ChatService{DB: db, Store: store, Assignment: a, Notifier: n, Events: pub}
}

// Create opens a new chat for a customer and immediately runs auto-
// assignment. An empty departmentID lands the chat in the customer-care
// department; an explicit one must name an active department.
func (s *ChatService) Create(ctx context.Context, customerName, customerEmail, departmentID string) (*domain.Chat, error) {
	customerName = strings.TrimSpace(customerName)
	customerEmail = strings.TrimSpace(customerEmail)

	if departmentID == "" {
		care, err := s.Store.GetCustomerCareDepartment(ctx, s.DB)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrNoCustomerCare
			}
			return nil, err
		}
		departmentID = care.ID
	} else {
		if _, err := s.Store.GetActiveDepartment(ctx, s.DB, departmentID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrDepartmentNotFound
			}
			return nil, err
		}
	}

	chat, err := s.Store.CreateChat(ctx, s.DB, customerName, customerEmail, departmentID)
	if err != nil {
		return nil, err
	}
	s.Events.Publish(ctx, events.TopicChatLifecycle, "chat_created", chat.ID, map[string]string{
		"department_id": departmentID,
	})

	return s.Assignment.AutoAssign(ctx, chat.ID)
}

// Get fetches a chat by ID.
func (s *ChatService) Get(ctx context.Context, id string) (*domain.Chat, error) {
	chat, err := s.Store.GetChat(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return chat, nil
}

// ListPage returns a page of chats matching the filter and the total count.
// It applies defaults for invalid page/pageSize.
func (s *ChatService) ListPage(ctx context.Context, f repo.ChatFilter, page, pageSize int) ([]domain.Chat, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Store.CountChats(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Chat{}, 0, nil
	}

	items, err := s.Store.ListChatsPage(ctx, s.DB, f, offset, pageSize)
	return items, total, err
}

// Close ends a chat. The status flips to the terminal closed state, the
// fan-out group is told, and the freed agent (if any) is handed to
// HandleChatClose so the department queue keeps draining. Closing a chat
// twice returns ErrChatClosed.
func (s *ChatService) Close(ctx context.Context, id string) (*domain.Chat, error) {
	chat, err := s.Store.GetChat(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	if !chat.Status.CanTransition(domain.ChatClosed) {
		return nil, ErrChatClosed
	}

	agentID := chat.AssignedAgentID
	departmentID := chat.DepartmentID

	if err := s.Store.CloseChat(ctx, s.DB, id, time.Now().UTC()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			// Lost a close race: someone else closed it first.
			return nil, ErrChatClosed
		}
		return nil, err
	}

	s.Notifier.BroadcastToChat(id, ws.NewChatClosed(id))
	s.Events.Publish(ctx, events.TopicChatLifecycle, "chat_closed", id, nil)

	if agentID != nil {
		// Follow-up assignment is best-effort: the close already committed.
		if _, err := s.Assignment.HandleChatClose(ctx, *agentID, departmentID); err != nil {
			log.Warn().Err(err).
				Str("chat_id", id).
				Str("agent_id", *agentID).
				Msg("post-close assignment failed")
		}
	}

	return s.Store.GetChat(ctx, s.DB, id)
}
