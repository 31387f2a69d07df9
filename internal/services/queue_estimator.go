// Package services implements the routing core. This file is the queue
// estimator: FIFO position and wait-time arithmetic over live store state.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/supporthub/livechat-backend/internal/domain"
	"github.com/supporthub/livechat-backend/internal/repo"
)

// AverageChatDurationMinutes is the fixed per-chat duration used for wait
// estimates. Deliberately a constant, not a learned value.
const AverageChatDurationMinutes = 5

// QueueStore is the store contract the estimator requires.
type QueueStore interface {
	// GetChat fetches a chat by ID.
	GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error)

	// CountWaitingAheadOf counts waiting chats of the same department
	// created before the given chat, ties broken by ascending id.
	CountWaitingAheadOf(ctx context.Context, db *gorm.DB, chat *domain.Chat) (int64, error)

	// CountAgentsByStatus counts a department's active agents carrying the
	// given presence flag.
	CountAgentsByStatus(ctx context.Context, db *gorm.DB, departmentID string, status domain.AgentStatus) (int64, error)
}

// QueueInfo is a snapshot of a chat's place in its department queue.
type QueueInfo struct {
	ChatID               string            `json:"chat_id"`
	Position             int               `json:"position"`
	EstimatedWaitMinutes int               `json:"estimated_wait_minutes"`
	Status               domain.ChatStatus `json:"status"`
	AgentsAvailable      int               `json:"agents_available"`
	AgentsBusy           int               `json:"agents_busy"`
}

// Queue computes FIFO positions and wait estimates for waiting chats.
type Queue struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Store is the repository contract used by this service.
	Store QueueStore
}

// NewQueue constructs a Queue estimator.
func NewQueue(db *gorm.DB, store QueueStore) *Queue {
	return &Queue{DB: db, Store: store}
}

// Position returns the chat's 1-based FIFO rank among the waiting chats of
// its department. Chats that are not waiting have no position and report 0.
func (q *Queue) Position(ctx context.Context, chat *domain.Chat) (int, error) {
	if chat.Status != domain.ChatWaiting {
		return 0, nil
	}
	ahead, err := q.Store.CountWaitingAheadOf(ctx, q.DB, chat)
	if err != nil {
		return 0, err
	}
	return int(ahead) + 1, nil
}

// EstimateWaitMinutes converts a queue position and an available-agent count
// into a wait estimate. With agents available the queue drains in parallel;
// with none it degrades to a serial estimate.
func EstimateWaitMinutes(position, availableAgents int) int {
	if position <= 0 {
		return 0
	}
	if availableAgents > 0 {
		return (position / max(availableAgents, 1)) * AverageChatDurationMinutes
	}
	return position * AverageChatDurationMinutes
}

// Stats returns how many of a department's active agents are available and
// how many are busy.
func (q *Queue) Stats(ctx context.Context, departmentID string) (available, busy int, err error) {
	a, err := q.Store.CountAgentsByStatus(ctx, q.DB, departmentID, domain.AgentAvailable)
	if err != nil {
		return 0, 0, err
	}
	b, err := q.Store.CountAgentsByStatus(ctx, q.DB, departmentID, domain.AgentBusy)
	if err != nil {
		return 0, 0, err
	}
	return int(a), int(b), nil
}

// Status assembles the full queue snapshot for a chat: position, estimate,
// and department agent counts. Returns ErrChatNotFound for unknown chats.
func (q *Queue) Status(ctx context.Context, chatID string) (*QueueInfo, error) {
	chat, err := q.Store.GetChat(ctx, q.DB, chatID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}

	pos, err := q.Position(ctx, chat)
	if err != nil {
		return nil, err
	}
	available, busy, err := q.Stats(ctx, chat.DepartmentID)
	if err != nil {
		return nil, err
	}

	return &QueueInfo{
		ChatID:               chat.ID,
		Position:             pos,
		EstimatedWaitMinutes: EstimateWaitMinutes(pos, available),
		Status:               chat.Status,
		AgentsAvailable:      available,
		AgentsBusy:           busy,
	}, nil
}
