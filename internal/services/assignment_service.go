// Package services implements the routing core. This file is the assignment
// engine: eligibility scanning, the race-free claim protocol, auto-assignment,
// and the close/decline follow-ups.
//
// The engine works in two explicit phases. Phase one is transactional: chat
// and agent rows are mutated inside a store transaction that either commits
// fully or rolls back. Phase two is notification: best-effort fan-out over
// the connection registry and the event stream, whose failures are logged
// and never roll back phase one.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/supporthub/livechat-backend/internal/domain"
	"github.com/supporthub/livechat-backend/internal/events"
	"github.com/supporthub/livechat-backend/internal/repo"
	"github.com/supporthub/livechat-backend/internal/ws"
)

// AssignmentStore is the store contract the engine requires. All methods
// accept a *gorm.DB handle so they compose into a single transaction.
type AssignmentStore interface {
	QueueStore

	// GetAgent fetches an agent by ID.
	GetAgent(ctx context.Context, db *gorm.DB, id string) (*domain.Agent, error)

	// ListEligibleAgents returns a department's active, available agents
	// in ascending id order.
	ListEligibleAgents(ctx context.Context, db *gorm.DB, departmentID string) ([]domain.Agent, error)

	// CountActiveChatsForAgent returns the agent's live active-chat count.
	CountActiveChatsForAgent(ctx context.Context, db *gorm.DB, agentID string) (int64, error)

	// ClaimWaitingChat atomically flips a waiting chat to active for the
	// agent; reports rows affected (0 on a lost race).
	ClaimWaitingChat(ctx context.Context, db *gorm.DB, chatID, agentID string) (int64, error)

	// UpdateAgentStatus sets an agent's presence flag.
	UpdateAgentStatus(ctx context.Context, db *gorm.DB, agentID string, status domain.AgentStatus) error

	// NextWaitingChat returns the oldest waiting chat of a department.
	NextWaitingChat(ctx context.Context, db *gorm.DB, departmentID string) (*domain.Chat, error)
}

// Notifier is the registry contract the engine uses for phase-two fan-out.
// Implemented by *ws.Registry.
type Notifier interface {
	BroadcastToChat(chatID string, evt ws.Event)
	NotifyAgent(agentID string, evt ws.Event)
}

// Assignment pairs waiting chats with eligible agents and owns the
// one-active-chat-per-agent invariant. All entry points are safe for
// concurrent use; the chat row is the sole lock boundary between racing
// claims.
type Assignment struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Store is the repository contract used by this service.
	Store AssignmentStore
	// Notifier fans events out to live connections.
	Notifier Notifier
	// Events receives phase-two lifecycle events.
	Events events.Publisher
	// Queue estimates positions for chats left waiting.
	Queue *Queue

	// AcceptWindow is the advisory acceptance window offered with an
	// incoming assignment. After it lapses the engine re-checks the chat
	// and re-runs auto-assignment; zero disables the server-side re-check.
	AcceptWindow time.Duration
}

// NewAssignment constructs the engine with the standard 10-second accept
// window.
func NewAssignment(db *gorm.DB, store AssignmentStore, n Notifier, pub events.Publisher, q *Queue) *Assignment {
	return &Assignment{
		DB:           db,
		Store:        store,
		Notifier:     n,
		Events:       pub,
		Queue:        q,
		AcceptWindow: 10 * time.Second,
	}
}

// FindEligibleAgent scans a department's active, available agents in
// ascending id order and returns the first one with zero active chats, or
// nil when none qualifies.
//
// The active-chat re-check is load-bearing: the presence flag alone is
// necessary but not sufficient, because presence can be stale. Eligibility
// is always re-derived from the store's live chat-to-agent mapping.
func (s *Assignment) FindEligibleAgent(ctx context.Context, departmentID string) (*domain.Agent, error) {
	agents, err := s.Store.ListEligibleAgents(ctx, s.DB, departmentID)
	if err != nil {
		return nil, err
	}
	for i := range agents {
		n, err := s.Store.CountActiveChatsForAgent(ctx, s.DB, agents[i].ID)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return &agents[i], nil
		}
	}
	return nil, nil
}

// Claim lets an agent take ownership of a waiting chat. Of any number of
// concurrent claims on the same chat exactly one succeeds; every loser gets
// ErrChatUnavailable without blocking. An agent already holding an active
// chat is rejected with ErrAgentBusy before the claim is attempted.
//
// On success the chat is active and assigned, the agent's presence is busy,
// and both parties have been notified (best-effort).
func (s *Assignment) Claim(ctx context.Context, chatID, agentID string) (*domain.Chat, error) {
	var (
		chat  *domain.Chat
		agent *domain.Agent
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.Store.CountActiveChatsForAgent(ctx, tx, agentID)
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrAgentBusy
		}

		rows, err := s.Store.ClaimWaitingChat(ctx, tx, chatID, agentID)
		if err != nil {
			return err
		}
		if rows == 0 {
			// Lost the race, or the chat is gone or no longer waiting.
			if _, getErr := s.Store.GetChat(ctx, tx, chatID); errors.Is(getErr, repo.ErrNotFound) {
				return ErrChatNotFound
			}
			return ErrChatUnavailable
		}

		agent, err = s.Store.GetAgent(ctx, tx, agentID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrAgentNotFound
			}
			return err
		}
		if err := s.Store.UpdateAgentStatus(ctx, tx, agentID, domain.AgentBusy); err != nil {
			return err
		}

		chat, err = s.Store.GetChat(ctx, tx, chatID)
		return err
	})
	if err != nil {
		return nil, claimError(err)
	}

	s.notifyAssigned(ctx, chat, agent)
	return chat, nil
}

// claimError keeps the claim contract: service sentinels pass through, any
// other transaction failure rolled back the claim and surfaces as a
// conflict, never as a partial success.
func claimError(err error) error {
	switch {
	case errors.Is(err, ErrAgentBusy),
		errors.Is(err, ErrChatNotFound),
		errors.Is(err, ErrAgentNotFound),
		errors.Is(err, ErrChatUnavailable):
		return err
	default:
		log.Error().Err(err).Msg("claim transaction failed")
		return ErrChatUnavailable
	}
}

// AutoAssign tries to pair a chat with an eligible agent. Idempotent: a chat
// that already has an assigned agent (or is closed) is returned unchanged.
// When no agent qualifies the chat stays waiting and its fan-out group
// receives a queue_status frame with the current position and estimate.
func (s *Assignment) AutoAssign(ctx context.Context, chatID string) (*domain.Chat, error) {
	chat, err := s.Store.GetChat(ctx, s.DB, chatID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	if !domain.AssignmentConsistent(chat.Status, chat.AssignedAgentID) {
		log.Warn().
			Str("chat_id", chat.ID).
			Str("status", string(chat.Status)).
			Msg("chat row violates the agent-iff-active invariant")
	}
	if chat.AssignedAgentID != nil || chat.Status.Terminal() {
		return chat, nil
	}

	agent, err := s.FindEligibleAgent(ctx, chat.DepartmentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return s.leaveWaiting(ctx, chat)
	}

	claimed, err := s.Claim(ctx, chat.ID, agent.ID)
	if err == nil {
		return claimed, nil
	}
	if errors.Is(err, ErrChatUnavailable) || errors.Is(err, ErrAgentBusy) {
		// The chosen agent was snatched by a concurrent claim, or the chat
		// was. Re-read and report the surviving state.
		return s.Store.GetChat(ctx, s.DB, chat.ID)
	}
	return nil, err
}

// leaveWaiting reports the queue position to the chat's participants after a
// failed auto-assign. The chat row is already waiting; only phase two runs.
func (s *Assignment) leaveWaiting(ctx context.Context, chat *domain.Chat) (*domain.Chat, error) {
	pos, err := s.Queue.Position(ctx, chat)
	if err != nil {
		return nil, err
	}
	available, _, err := s.Queue.Stats(ctx, chat.DepartmentID)
	if err != nil {
		return nil, err
	}
	wait := EstimateWaitMinutes(pos, available)

	s.Notifier.BroadcastToChat(chat.ID, ws.QueueStatus{
		Type:                 ws.EventQueueStatus,
		ChatID:               chat.ID,
		Position:             pos,
		EstimatedWaitMinutes: wait,
		Message:              queueMessage(pos, wait),
	})
	return chat, nil
}

// HandleChatClose runs after a chat closes and its agent is freed. With a
// waiting chat in the department the agent is kept busy and offered the
// oldest one inside the accept window; with an empty queue the agent returns
// to available. The offer is advisory: acceptance goes through Claim and can
// lose to a concurrent claim like any other.
func (s *Assignment) HandleChatClose(ctx context.Context, agentID, departmentID string) (*domain.Chat, error) {
	if _, err := s.Store.GetAgent(ctx, s.DB, agentID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}

	next, err := s.Store.NextWaitingChat(ctx, s.DB, departmentID)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		// Empty queue: the agent is released.
		if err := s.Store.UpdateAgentStatus(ctx, s.DB, agentID, domain.AgentAvailable); err != nil {
			return nil, err
		}
		return nil, nil
	}

	// Keep the agent busy until they accept (busy again) or decline
	// (offline); the offer itself does not assign.
	if err := s.Store.UpdateAgentStatus(ctx, s.DB, agentID, domain.AgentBusy); err != nil {
		return nil, err
	}

	seconds := int(s.AcceptWindow / time.Second)
	s.Notifier.NotifyAgent(agentID, ws.IncomingAssignment{
		Type:           ws.EventIncomingAssignment,
		ChatID:         next.ID,
		CustomerName:   next.CustomerName,
		CustomerEmail:  next.CustomerEmail,
		TimeoutSeconds: seconds,
		Message:        incomingMessage(next.CustomerName, seconds),
	})
	s.scheduleRecheck(next.ID)
	return next, nil
}

// scheduleRecheck re-runs auto-assignment once the accept window lapses, so
// an ignored offer does not strand the chat. AutoAssign is idempotent, so a
// chat accepted in the meantime is left untouched.
func (s *Assignment) scheduleRecheck(chatID string) {
	if s.AcceptWindow <= 0 {
		return
	}
	time.AfterFunc(s.AcceptWindow, func() {
		if _, err := s.AutoAssign(context.Background(), chatID); err != nil && !errors.Is(err, ErrChatNotFound) {
			log.Warn().Err(err).Str("chat_id", chatID).Msg("accept-window recheck failed")
		}
	})
}

// Agent fetches an agent's profile. Returns ErrAgentNotFound for unknown ids.
func (s *Assignment) Agent(ctx context.Context, agentID string) (*domain.Agent, error) {
	agent, err := s.Store.GetAgent(ctx, s.DB, agentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	return agent, nil
}

// SetAgentStatus updates an agent's presence flag. Going available pulls the
// department's oldest waiting chat back through auto-assignment, so a queue
// that built up while everyone was busy starts draining immediately.
func (s *Assignment) SetAgentStatus(ctx context.Context, agentID string, status domain.AgentStatus) (*domain.Agent, error) {
	if !status.Valid() {
		return nil, ErrInvalidTransition
	}
	agent, err := s.Store.GetAgent(ctx, s.DB, agentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	if err := s.Store.UpdateAgentStatus(ctx, s.DB, agentID, status); err != nil {
		return nil, err
	}
	agent.Status = status

	if status == domain.AgentAvailable {
		next, err := s.Store.NextWaitingChat(ctx, s.DB, agent.DepartmentID)
		if err == nil {
			if _, err := s.AutoAssign(ctx, next.ID); err != nil {
				log.Warn().Err(err).Str("chat_id", next.ID).Msg("post-presence assignment failed")
			}
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}
	return agent, nil
}

// Decline handles an agent turning down an incoming assignment. Declining is
// treated as going off-shift: the agent's presence is set offline, and the
// chat is offered to the rest of the department through AutoAssign.
func (s *Assignment) Decline(ctx context.Context, chatID, agentID string) error {
	if err := s.Store.UpdateAgentStatus(ctx, s.DB, agentID, domain.AgentOffline); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrAgentNotFound
		}
		return err
	}
	if _, err := s.AutoAssign(ctx, chatID); err != nil && !errors.Is(err, ErrChatNotFound) {
		return err
	}
	return nil
}

// queueMessage renders the customer-facing queue notice.
func queueMessage(position, waitMinutes int) string {
	return fmt.Sprintf("All agents are currently busy. You are #%d in queue. Estimated wait: %d minutes.", position, waitMinutes)
}

// incomingMessage renders the agent-facing offer notice.
func incomingMessage(customerName string, seconds int) string {
	return fmt.Sprintf("New customer waiting: %s. Accept within %d seconds or change your status.", customerName, seconds)
}

// notifyAssigned is phase two of a successful claim: the agent's dashboard
// gets the assignment payload, the chat's group learns the agent joined, and
// the lifecycle event is published. Failures are the notifier's problem.
func (s *Assignment) notifyAssigned(ctx context.Context, chat *domain.Chat, agent *domain.Agent) {
	s.Notifier.NotifyAgent(agent.ID, ws.NewNewAssignment(chat.ID, chat.CustomerName, chat.CustomerEmail))
	s.Notifier.BroadcastToChat(chat.ID, ws.NewAgentAssigned(chat.ID, agent.DisplayName()))
	s.Events.Publish(ctx, events.TopicChatLifecycle, "agent_assigned", chat.ID, map[string]string{
		"agent_id":   agent.ID,
		"agent_name": agent.DisplayName(),
	})
}
