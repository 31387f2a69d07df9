// Message HTTP handlers.
//
// This file exposes REST endpoints for chat transcripts:
//   - POST /chats/{id}/messages          (append a message and broadcast it)
//   - GET  /chats/{id}/messages          (list paginated messages for a chat)
//   - GET  /chats/{id}/messages/search   (rank transcript messages against a query)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (including newline and length constraints)
//   - delegate to application services (MessageService)
//   - implement conditional responses (ETag)
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/supporthub/livechat-backend/internal/domain"
	"github.com/supporthub/livechat-backend/internal/repo"
	"github.com/supporthub/livechat-backend/internal/search"
	"github.com/supporthub/livechat-backend/internal/services"
	"github.com/supporthub/livechat-backend/internal/utils"
)

//
// Service contract
//

// MessageService defines transcript operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type MessageService interface {
	// Post appends a message to the chat and fans it out to live connections.
	// senderID is nil for customer messages.
	Post(ctx context.Context, chatID string, senderID *string, senderName, content string) (*domain.Message, error)
	// ListPage returns a page of messages within a chat and the total count.
	ListPage(ctx context.Context, chatID string, page, pageSize int) ([]domain.Message, int64, error)
	// Search ranks transcript messages against the query, best first.
	Search(ctx context.Context, chatID, query string, k int) ([]search.Result, error)
}

//
// DTOs
//

// PostMessageRequest is the JSON payload for appending a chat message.
//
// Content is normalized by the handler (line endings and excessive blank
// lines) before being passed to the service layer. The service also enforces
// a maximum rune count, which can be configured in MessageService.
type PostMessageRequest struct {
	// SenderName is the display name attached to the message.
	SenderName string `json:"sender_name" binding:"required,min=1,max=255" example:"Ada Lovelace"`
	// SenderID identifies an agent sender; omit for customer messages.
	SenderID string `json:"sender_id" example:"agent-42"`
	// Content is the message body. It must be non-empty.
	Content string `json:"content" binding:"required,min=1" example:"My invoice shows a double charge."`
}

// PostMessageResponse is the JSON envelope for a newly appended message.
type PostMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// ListMessagesResponse contains a page of chat messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// SearchMessagesResponse contains transcript matches ranked best first.
type SearchMessagesResponse struct {
	ChatID  string          `json:"chat_id"`
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// discoverMaxContentRunes inspects the concrete MessageService for a
// configured content-length limit. If unavailable, it returns a conservative
// fallback.
func discoverMaxContentRunes(msgSvc MessageService) int {
	const fallback = 4000
	if ms, ok := msgSvc.(*services.MessageService); ok {
		if ms.MaxContentRunes > 0 {
			return ms.MaxContentRunes
		}
	}
	return fallback
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message into a chat
// @Description Appends a message to the chat transcript and broadcasts it to all
// @Description live connections on the chat. Closed chats reject new messages.
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Chat ID (UUID)"  format(uuid)
// @Param       body  body  handlers.PostMessageRequest  true  "Message payload"
//
// @Success     201  {object}  handlers.PostMessageResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Chat not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Chat is closed"
// @Router      /chats/{id}/messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")

	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "sender_name and content required")
		return
	}

	// Sanitize + early size cap to fail fast at the edge.
	content := sanitizeContent(req.Content)
	maxRunes := discoverMaxContentRunes(h.msgSvc)
	if maxRunes > 0 && utf8.RuneCountInString(content) > maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("content too long: max %d runes", maxRunes))
		return
	}
	if content == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	var senderID *string
	if sid := strings.TrimSpace(req.SenderID); sid != "" {
		senderID = &sid
	}

	m, err := h.msgSvc.Post(ctx, chatID, senderID, strings.TrimSpace(req.SenderName), content)
	if err != nil {
		switch err {
		case services.ErrChatNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		case services.ErrChatClosed:
			fail(c, http.StatusConflict, ErrCodeChatClosed, "chat is closed")
		case services.ErrEmptyContent:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	ok(c, http.StatusCreated, PostMessageResponse{Message: m})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a chat
// @Description Returns a paginated transcript page for the given chat, oldest first.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Messages
// @Produce     json
//
// @Param       id             path   string  true  "Chat ID (UUID)"  format(uuid)
// @Param       If-None-Match  header string  false "Return 304 if ETag matches"
// @Param       page           query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query  int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")

	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.MessagesStats(ctx, db, chatID)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, chatID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.msgSvc.ListPage(ctx, chatID, page, pageSize)
	if err != nil {
		switch err {
		case services.ErrChatNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// SearchMessages godoc
// @ID          searchMessages
// @Summary     Search a chat transcript
// @Description Ranks the chat's messages against the query by token overlap and
// @Description returns the best matches. Intended for agents scanning long chats.
// @Tags        Messages
// @Produce     json
//
// @Param       id  path   string  true   "Chat ID (UUID)"  format(uuid)
// @Param       q   query  string  true   "Search query"
// @Param       k   query  int     false  "Max results"  minimum(1) maximum(50) default(5)
//
// @Success     200  {object} handlers.SearchMessagesResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Router      /chats/{id}/messages/search [get]
func (h *Handlers) SearchMessages(c *gin.Context) {
	ctx := c.Request.Context()
	chatID := c.Param("id")

	if _, err := uuid.Parse(chatID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "chat id must be a UUID")
		return
	}

	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "q required")
		return
	}
	k := utils.AtoiDefault(c.Query("k"), 5)
	if k < 1 {
		k = 5
	}
	if k > 50 {
		k = 50
	}

	results, err := h.msgSvc.Search(ctx, chatID, query, k)
	if err != nil {
		switch err {
		case services.ErrChatNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "chat not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}
	if results == nil {
		results = []search.Result{}
	}

	ok(c, http.StatusOK, SearchMessagesResponse{ChatID: chatID, Query: query, Results: results})
}
