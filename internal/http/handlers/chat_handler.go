// Chat HTTP handlers.
//
// This file exposes REST endpoints for chat resources:
//   - POST /chats                          (open a chat, auto-assign)
//   - GET  /chats                          (list, filtered + paginated, ETag support)
//   - GET  /chats/{id}                     (fetch one)
//   - GET  /chats/{id}/queue-status        (queue position + wait estimate)
//   - PUT  /chats/{id}/claim               (agent claims a waiting chat)
//   - PUT  /chats/{id}/accept-assignment   (same contract as claim)
//   - PUT  /chats/{id}/decline-assignment  (agent declines an offer)
//   - PUT  /chats/{id}/close               (close, free the agent)
//   - PUT  /chats/{id}/transfer            (move to another department)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/supporthub/livechat-backend/internal/domain"
	"github.com/supporthub/livechat-backend/internal/repo"
	"github.com/supporthub/livechat-backend/internal/services"
	"github.com/supporthub/livechat-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ChatService defines chat lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ChatService interface {
	// Create opens a chat for a customer; empty departmentID lands it in
	// the customer-care department.
	Create(ctx context.Context, customerName, customerEmail, departmentID string) (*domain.Chat, error)
	// Get returns a chat by id.
	Get(ctx context.Context, id string) (*domain.Chat, error)
	// ListPage returns a page of chats matching the filter and the total count.
	ListPage(ctx context.Context, f repo.ChatFilter, page, pageSize int) ([]domain.Chat, int64, error)
	// Close closes a chat and frees its agent.
	Close(ctx context.Context, id string) (*domain.Chat, error)
}

// AssignmentService defines the chat/agent pairing operations consumed by
// HTTP handlers.
type AssignmentService interface {
	// Claim atomically assigns a waiting chat to agentID.
	Claim(ctx context.Context, chatID, agentID string) (*domain.Chat, error)
	// Decline records that agentID will not take the offered chat.
	Decline(ctx context.Context, chatID, agentID string) error
}

// QueueService reports a chat's place in its department queue.
type QueueService interface {
	Status(ctx context.Context, chatID string) (*services.QueueInfo, error)
}

// TransferService moves chats between departments.
type TransferService interface {
	Move(ctx context.Context, chatID, targetDepartmentID, reason string) (*domain.Chat, error)
}

// IdempotencyStore replays and records chat creations retried with the same
// Idempotency-Key. Lookup returns the record for a live (customer_email,
// department_id, key) tuple, or an error when there is none.
type IdempotencyStore interface {
	Lookup(ctx context.Context, customerEmail, departmentID, key string, now time.Time) (*domain.Idempotency, error)
	Record(ctx context.Context, customerEmail, departmentID, key, chatID string, status int, ttl time.Duration) error
}

// ChatStatsFunc reports the match count and newest update time for a chat
// filter. It backs the weak ETag on list responses.
type ChatStatsFunc func(ctx context.Context, f repo.ChatFilter) (int64, *time.Time, error)

//
// Handler wiring
//

// Handlers groups HTTP endpoints for chats, messages, queueing, and
// assignment. It depends on abstract service interfaces to keep transport
// concerns separate from business logic.
type Handlers struct {
	chatSvc     ChatService
	msgSvc      MessageService
	assignSvc   AssignmentService
	queueSvc    QueueService
	transferSvc TransferService

	// Idempotency enables safe-retry replays on chat creation. Nil disables
	// replay; creates then always open a fresh chat.
	Idempotency IdempotencyStore

	// ChatStats backs the conditional list response (weak ETag). Nil skips
	// the ETag pre-check.
	ChatStats ChatStatsFunc
}

// New constructs and returns a Handlers instance bound to the given services.
func New(chatSvc ChatService, msgSvc MessageService, assignSvc AssignmentService, queueSvc QueueService, transferSvc TransferService) *Handlers {
	return &Handlers{
		chatSvc:     chatSvc,
		msgSvc:      msgSvc,
		assignSvc:   assignSvc,
		queueSvc:    queueSvc,
		transferSvc: transferSvc,
	}
}

//
// DTOs
//

// CreateChatRequest is the JSON payload for opening a chat.
type CreateChatRequest struct {
	// CustomerName is the display name shown to agents (1-255 chars).
	CustomerName string `json:"customer_name" binding:"required,min=1,max=255" example:"Ada Lovelace"`
	// CustomerEmail is used for transcripts and idempotent retries.
	CustomerEmail string `json:"customer_email" binding:"required,email" example:"ada@example.com"`
	// DepartmentID optionally routes the chat; defaults to customer care.
	DepartmentID string `json:"department_id" example:"dept-billing"`
}

// ClaimChatRequest identifies the agent claiming or accepting a chat.
type ClaimChatRequest struct {
	AgentID string `json:"agent_id" binding:"required,min=1" example:"agent-42"`
}

// DeclineAssignmentRequest identifies the agent declining an offered chat.
type DeclineAssignmentRequest struct {
	AgentID string `json:"agent_id" binding:"required,min=1" example:"agent-42"`
}

// TransferChatRequest is the JSON payload for moving a chat to another
// department.
type TransferChatRequest struct {
	// DepartmentID is the target department; it must exist and be active.
	DepartmentID string `json:"department_id" binding:"required,min=1" example:"dept-tech"`
	// Reason is an optional note shown to the chat participants.
	Reason string `json:"reason" example:"needs engineering"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListChatsResponse wraps a page of chats and pagination information.
type ListChatsResponse struct {
	Chats      []domain.Chat `json:"chats"`
	Pagination Pagination    `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// chatFilter builds a repo.ChatFilter from the list query parameters.
// Returns ok=false when the status value is not a known chat status.
func chatFilter(c *gin.Context) (f repo.ChatFilter, ok bool) {
	if s := strings.TrimSpace(c.Query("status")); s != "" {
		st := domain.ChatStatus(s)
		if !st.Valid() {
			return f, false
		}
		f.Status = st
	}
	f.DepartmentID = strings.TrimSpace(c.Query("department_id"))
	f.AgentID = strings.TrimSpace(c.Query("agent_id"))
	return f, true
}

// idempotencyKey reads the Idempotency-Key header, if any.
func idempotencyKey(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader("Idempotency-Key"))
}

//
// Handlers
//

// CreateChat godoc
// @ID          createChat
// @Summary     Open a new chat
// @Description Opens a chat for a customer and immediately attempts auto-assignment.
// @Description An omitted department_id routes the chat to the customer-care department.
// @Description Supports idempotency via the Idempotency-Key header (same key → same chat).
// @Tags        Chats
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.CreateChatRequest  true  "Create chat payload"
//
// @Success     201  {object}  domain.Chat
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Department not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /chats [post]
func (h *Handlers) CreateChat(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "customer_name and a valid customer_email are required")
		return
	}
	email := strings.TrimSpace(req.CustomerEmail)
	deptID := strings.TrimSpace(req.DepartmentID)

	// Idempotency replay path: return the originally created chat.
	idemKey := idempotencyKey(c)
	if idemKey != "" && h.Idempotency != nil {
		if rec, err := h.Idempotency.Lookup(ctx, email, deptID, idemKey, time.Now().UTC()); err == nil && rec != nil {
			if prev, err2 := h.chatSvc.Get(ctx, rec.ChatID); err2 == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, rec.Status, prev)
				return
			}
		}
	}

	ch, err := h.chatSvc.Create(ctx, req.CustomerName, email, deptID)
	if err != nil {
		switch err {
		case services.ErrDepartmentNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "department not found or not active")
		case services.ErrNoCustomerCare:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, "customer care department not configured")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}

	// Idempotency store path, best effort.
	if idemKey != "" && h.Idempotency != nil {
		_ = h.Idempotency.Record(ctx, email, deptID, idemKey, ch.ID, http.StatusCreated, 24*time.Hour)
	}

	ok(c, http.StatusCreated, ch)
}

// ListChats godoc
// @ID          listChats
// @Summary     List chats (filtered, paginated)
// @Description Returns a page of chats, optionally filtered by status, department, or
// @Description assigned agent. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Chats
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       status         query   string  false "Filter by status"            Enums(waiting, active, transferred, closed)
// @Param       department_id  query   string  false "Filter by department"
// @Param       agent_id       query   string  false "Filter by assigned agent"
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListChatsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	ctx := c.Request.Context()

	f, okf := chatFilter(c)
	if !okf {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status value")
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if h.ChatStats != nil {
		count, maxTS, err := h.ChatStats(ctx, f)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"chats:%s:%s:%s:%d:%d"`, f.Status, f.DepartmentID, f.AgentID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.chatSvc.ListPage(ctx, f, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp := ListChatsResponse{
		Chats: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	ok(c, http.StatusOK, resp)
}

// GetChat godoc
// @ID          getChat
// @Summary     Fetch a chat
// @Description Returns a single chat by id.
// @Tags        Chats
// @Produce     json
//
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Chat
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id} [get]
func (h *Handlers) GetChat(c *gin.Context) {
	chatID := c.Param("id")
	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}

	ch, err := h.chatSvc.Get(c.Request.Context(), chatID)
	if err != nil {
		switch err {
		case services.ErrChatNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, ch)
}

// QueueStatus godoc
// @ID          queueStatus
// @Summary     Queue position and wait estimate
// @Description Returns the chat's FIFO position in its department queue, the estimated
// @Description wait in minutes, and the department's agent availability snapshot.
// @Tags        Chats
// @Produce     json
//
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
//
// @Success     200  {object} services.QueueInfo
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/queue-status [get]
func (h *Handlers) QueueStatus(c *gin.Context) {
	chatID := c.Param("id")
	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}

	info, err := h.queueSvc.Status(c.Request.Context(), chatID)
	if err != nil {
		switch err {
		case services.ErrChatNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, info)
}

// ClaimChat godoc
// @ID          claimChat
// @Summary     Claim a waiting chat
// @Description Atomically assigns the chat to the given agent. Exactly one claimant
// @Description wins; losers receive 409 with code chat_unavailable. An agent that
// @Description already has an active chat receives 409 with code agent_busy.
// @Tags        Assignment
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Chat ID (UUID)"  format(uuid)
// @Param       body  body  handlers.ClaimChatRequest  true  "Claiming agent"
//
// @Success     200  {object} domain.Chat
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat or agent not found"
// @Failure     409  {object} handlers.ErrorResponse "Lost race or agent busy"
// @Router      /chats/{id}/claim [put]
func (h *Handlers) ClaimChat(c *gin.Context) {
	chatID := c.Param("id")
	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}

	var req ClaimChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "agent_id required")
		return
	}

	ch, err := h.assignSvc.Claim(c.Request.Context(), chatID, req.AgentID)
	if err != nil {
		switch err {
		case services.ErrChatNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		case services.ErrAgentNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "agent not found")
		case services.ErrAgentBusy:
			fail(c, http.StatusConflict, ErrCodeAgentBusy, "agent already has an active chat")
		case services.ErrChatUnavailable:
			fail(c, http.StatusConflict, ErrCodeChatUnavailable, "chat already claimed or not available")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, ch)
}

// DeclineAssignment godoc
// @ID          declineAssignment
// @Summary     Decline an offered chat
// @Description Marks the agent offline and re-routes the chat to the next eligible agent.
// @Tags        Assignment
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Chat ID (UUID)"  format(uuid)
// @Param       body  body  handlers.DeclineAssignmentRequest  true  "Declining agent"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Agent not found"
// @Router      /chats/{id}/decline-assignment [put]
func (h *Handlers) DeclineAssignment(c *gin.Context) {
	chatID := c.Param("id")
	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}

	var req DeclineAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "agent_id required")
		return
	}

	if err := h.assignSvc.Decline(c.Request.Context(), chatID, req.AgentID); err != nil {
		switch err {
		case services.ErrAgentNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "agent not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	noContent(c)
}

// CloseChat godoc
// @ID          closeChat
// @Summary     Close a chat
// @Description Closes the chat, frees its agent, and offers the agent the next
// @Description waiting chat in the department, if any.
// @Tags        Chats
// @Produce     json
//
// @Param       id  path  string  true  "Chat ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Chat
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     409  {object} handlers.ErrorResponse "Chat already closed"
// @Router      /chats/{id}/close [put]
func (h *Handlers) CloseChat(c *gin.Context) {
	chatID := c.Param("id")
	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}

	ch, err := h.chatSvc.Close(c.Request.Context(), chatID)
	if err != nil {
		switch err {
		case services.ErrChatNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		case services.ErrChatClosed:
			fail(c, http.StatusConflict, ErrCodeChatClosed, "chat is already closed")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, ch)
}

// TransferChat godoc
// @ID          transferChat
// @Summary     Transfer a chat to another department
// @Description Releases the current agent, re-queues the chat in the target
// @Description department, and attempts auto-assignment there.
// @Tags        Chats
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Chat ID (UUID)"  format(uuid)
// @Param       body  body  handlers.TransferChatRequest  true  "Target department and optional reason"
//
// @Success     200  {object} domain.Chat
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat or department not found"
// @Failure     409  {object} handlers.ErrorResponse "Chat already closed"
// @Router      /chats/{id}/transfer [put]
func (h *Handlers) TransferChat(c *gin.Context) {
	chatID := c.Param("id")
	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}

	var req TransferChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "department_id required")
		return
	}

	ch, err := h.transferSvc.Move(c.Request.Context(), chatID, req.DepartmentID, strings.TrimSpace(req.Reason))
	if err != nil {
		switch err {
		case services.ErrChatNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		case services.ErrDepartmentNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "department not found or not active")
		case services.ErrChatClosed:
			fail(c, http.StatusConflict, ErrCodeChatClosed, "chat is closed")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, ch)
}
