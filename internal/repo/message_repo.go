// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model (chat transcripts).
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/supporthub/livechat-backend/internal/domain"
)

// CreateMessage appends a message to a chat transcript. senderID is nil for
// customer and system messages.
func CreateMessage(ctx context.Context, db *gorm.DB, chatID string, senderID *string, senderName, content string, system bool) (*domain.Message, error) {
	m := &domain.Message{
		ID:              uuid.NewString(),
		ChatID:          chatID,
		SenderID:        senderID,
		SenderName:      senderName,
		Content:         content,
		IsSystemMessage: system,
		CreatedAt:       time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// CountMessages returns the number of messages in a chat.
func CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("chat_id = ?", chatID).
		Count(&total).Error
	return total, err
}

// ListMessagesPage returns a page of a chat's transcript in chronological
// order. The caller computes offset and limit.
func ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at asc").
		Order("id asc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
