// Package services implements the routing core. This file is the transcript
// service: appending messages to a chat and replaying them in order. Each
// appended message is committed first, then fanned out to the chat's live
// connections and onto the event stream.
package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/supporthub/livechat-backend/internal/domain"
	"github.com/supporthub/livechat-backend/internal/events"
	"github.com/supporthub/livechat-backend/internal/repo"
	"github.com/supporthub/livechat-backend/internal/search"
	"github.com/supporthub/livechat-backend/internal/ws"
)

// MessageStore is the store contract the transcript service requires.
type MessageStore interface {
	// GetChat fetches a chat by ID.
	GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error)

	// CreateMessage appends one message to a chat transcript.
	CreateMessage(ctx context.Context, db *gorm.DB, chatID string, senderID *string, senderName, content string, system bool) (*domain.Message, error)

	// CountMessages returns the transcript length.
	CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error)

	// ListMessagesPage returns a transcript page in chronological order.
	ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error)
}

// MessageService appends to and reads chat transcripts.
type MessageService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Store is the repository contract used by this service.
	Store MessageStore
	// Notifier fans new messages out to the chat's group.
	Notifier Notifier
	// Events receives the message copy for downstream consumers.
	Events events.Publisher

	// MaxContentRunes caps message length by rune count; 0 disables the cap.
	MaxContentRunes int
}

// NewMessageService constructs the transcript service with a sane length cap.
func NewMessageService(db *gorm.DB, store MessageStore, n Notifier, pub events.Publisher) *MessageService {
	return &MessageService{
		DB:              db,
		Store:           store,
		Notifier:        n,
		Events:          pub,
		MaxContentRunes: 4000,
	}
}

// Post appends a message to the chat's transcript, broadcasts it to the
// chat's live connections, and mirrors it onto the event stream. senderID is
// nil for customer messages. Returns ErrChatNotFound for unknown chats,
// ErrChatClosed for terminal ones, and ErrEmptyContent for blank content.
func (s *MessageService) Post(ctx context.Context, chatID string, senderID *string, senderName, content string) (*domain.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if s.MaxContentRunes > 0 {
		runes := []rune(content)
		if len(runes) > s.MaxContentRunes {
			content = string(runes[:s.MaxContentRunes])
		}
	}

	chat, err := s.Store.GetChat(ctx, s.DB, chatID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	if chat.Status.Terminal() {
		return nil, ErrChatClosed
	}

	msg, err := s.Store.CreateMessage(ctx, s.DB, chatID, senderID, senderName, content, false)
	if err != nil {
		return nil, err
	}

	frame := ws.NewChatMessage(msg.ID, chatID, senderID, senderName, content, false, msg.CreatedAt)
	s.Notifier.BroadcastToChat(chatID, frame)
	s.Events.Publish(ctx, events.TopicChatMessages, "message", chatID, frame)

	return msg, nil
}

// ListPage returns a page of the chat's transcript and the total count.
// Returns ErrChatNotFound for unknown chats.
func (s *MessageService) ListPage(ctx context.Context, chatID string, page, pageSize int) ([]domain.Message, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	if _, err := s.Store.GetChat(ctx, s.DB, chatID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, ErrChatNotFound
		}
		return nil, 0, err
	}

	total, err := s.Store.CountMessages(ctx, s.DB, chatID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := s.Store.ListMessagesPage(ctx, s.DB, chatID, (page-1)*pageSize, pageSize)
	return items, total, err
}

// searchWindow caps how much of a transcript gets indexed per search call.
const searchWindow = 500

// Search ranks the chat's transcript against the query and returns up to k
// matches. The index is built per call from the oldest searchWindow messages;
// system messages rank like any other. Returns ErrChatNotFound for unknown
// chats.
func (s *MessageService) Search(ctx context.Context, chatID, query string, k int) ([]search.Result, error) {
	if _, err := s.Store.GetChat(ctx, s.DB, chatID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}

	msgs, err := s.Store.ListMessagesPage(ctx, s.DB, chatID, 0, searchWindow)
	if err != nil {
		return nil, err
	}
	docs := make([]search.Document, 0, len(msgs))
	for i := range msgs {
		docs = append(docs, search.Document{ID: msgs[i].ID, Text: msgs[i].Content})
	}
	return search.NewIndex(docs).TopK(query, k), nil
}
