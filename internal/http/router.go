// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/supporthub/livechat-backend/internal/config"
	"github.com/supporthub/livechat-backend/internal/domain"
	"github.com/supporthub/livechat-backend/internal/events"
	"github.com/supporthub/livechat-backend/internal/http/handlers"
	"github.com/supporthub/livechat-backend/internal/http/middleware"
	"github.com/supporthub/livechat-backend/internal/repo"
	"github.com/supporthub/livechat-backend/internal/services"
	"github.com/supporthub/livechat-backend/internal/ws"
)

// storeShim adapts the repository free functions to the store interfaces the
// services expect. This keeps services decoupled from the concrete repo
// package while reusing existing functions. One shim satisfies every store
// contract (chat, assignment, queue, message, transfer) because the method
// sets overlap heavily.
type storeShim struct{}

// CreateChat proxies repo.CreateChat.
func (storeShim) CreateChat(ctx context.Context, db *gorm.DB, customerName, customerEmail, departmentID string) (*domain.Chat, error) {
	return repo.CreateChat(ctx, db, customerName, customerEmail, departmentID)
}

// GetChat proxies repo.GetChat.
func (storeShim) GetChat(ctx context.Context, db *gorm.DB, id string) (*domain.Chat, error) {
	return repo.GetChat(ctx, db, id)
}

// CountChats proxies repo.CountChats (pagination support).
func (storeShim) CountChats(ctx context.Context, db *gorm.DB, f repo.ChatFilter) (int64, error) {
	return repo.CountChats(ctx, db, f)
}

// ListChatsPage proxies repo.ListChatsPage (pagination support).
func (storeShim) ListChatsPage(ctx context.Context, db *gorm.DB, f repo.ChatFilter, offset, limit int) ([]domain.Chat, error) {
	return repo.ListChatsPage(ctx, db, f, offset, limit)
}

// CloseChat proxies repo.CloseChat.
func (storeShim) CloseChat(ctx context.Context, db *gorm.DB, chatID string, closedAt time.Time) error {
	return repo.CloseChat(ctx, db, chatID, closedAt)
}

// GetDepartment proxies repo.GetDepartment.
func (storeShim) GetDepartment(ctx context.Context, db *gorm.DB, id string) (*domain.Department, error) {
	return repo.GetDepartment(ctx, db, id)
}

// GetActiveDepartment proxies repo.GetActiveDepartment.
func (storeShim) GetActiveDepartment(ctx context.Context, db *gorm.DB, id string) (*domain.Department, error) {
	return repo.GetActiveDepartment(ctx, db, id)
}

// GetCustomerCareDepartment proxies repo.GetCustomerCareDepartment.
func (storeShim) GetCustomerCareDepartment(ctx context.Context, db *gorm.DB) (*domain.Department, error) {
	return repo.GetCustomerCareDepartment(ctx, db)
}

// GetAgent proxies repo.GetAgent.
func (storeShim) GetAgent(ctx context.Context, db *gorm.DB, id string) (*domain.Agent, error) {
	return repo.GetAgent(ctx, db, id)
}

// ListEligibleAgents proxies repo.ListEligibleAgents.
func (storeShim) ListEligibleAgents(ctx context.Context, db *gorm.DB, departmentID string) ([]domain.Agent, error) {
	return repo.ListEligibleAgents(ctx, db, departmentID)
}

// CountActiveChatsForAgent proxies repo.CountActiveChatsForAgent.
func (storeShim) CountActiveChatsForAgent(ctx context.Context, db *gorm.DB, agentID string) (int64, error) {
	return repo.CountActiveChatsForAgent(ctx, db, agentID)
}

// ClaimWaitingChat proxies repo.ClaimWaitingChat.
func (storeShim) ClaimWaitingChat(ctx context.Context, db *gorm.DB, chatID, agentID string) (int64, error) {
	return repo.ClaimWaitingChat(ctx, db, chatID, agentID)
}

// UpdateAgentStatus proxies repo.UpdateAgentStatus.
func (storeShim) UpdateAgentStatus(ctx context.Context, db *gorm.DB, agentID string, status domain.AgentStatus) error {
	return repo.UpdateAgentStatus(ctx, db, agentID, status)
}

// NextWaitingChat proxies repo.NextWaitingChat.
func (storeShim) NextWaitingChat(ctx context.Context, db *gorm.DB, departmentID string) (*domain.Chat, error) {
	return repo.NextWaitingChat(ctx, db, departmentID)
}

// CountWaitingAheadOf proxies repo.CountWaitingAheadOf (queue estimation).
func (storeShim) CountWaitingAheadOf(ctx context.Context, db *gorm.DB, chat *domain.Chat) (int64, error) {
	return repo.CountWaitingAheadOf(ctx, db, chat)
}

// CountAgentsByStatus proxies repo.CountAgentsByStatus (queue estimation).
func (storeShim) CountAgentsByStatus(ctx context.Context, db *gorm.DB, departmentID string, status domain.AgentStatus) (int64, error) {
	return repo.CountAgentsByStatus(ctx, db, departmentID, status)
}

// TransferChat proxies repo.TransferChat.
func (storeShim) TransferChat(ctx context.Context, db *gorm.DB, chatID, targetDepartmentID string) error {
	return repo.TransferChat(ctx, db, chatID, targetDepartmentID)
}

// CreateMessage proxies repo.CreateMessage.
func (storeShim) CreateMessage(ctx context.Context, db *gorm.DB, chatID string, senderID *string, senderName, content string, system bool) (*domain.Message, error) {
	return repo.CreateMessage(ctx, db, chatID, senderID, senderName, content, system)
}

// CountMessages proxies repo.CountMessages (pagination support).
func (storeShim) CountMessages(ctx context.Context, db *gorm.DB, chatID string) (int64, error) {
	return repo.CountMessages(ctx, db, chatID)
}

// ListMessagesPage proxies repo.ListMessagesPage (pagination support).
func (storeShim) ListMessagesPage(ctx context.Context, db *gorm.DB, chatID string, offset, limit int) ([]domain.Message, error) {
	return repo.ListMessagesPage(ctx, db, chatID, offset, limit)
}

// idemStore adapts the repo idempotency functions to the handlers'
// IdempotencyStore dependency.
type idemStore struct{ db *gorm.DB }

func (s idemStore) Lookup(ctx context.Context, customerEmail, departmentID, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, s.db, customerEmail, departmentID, key, now)
}

func (s idemStore) Record(ctx context.Context, customerEmail, departmentID, key, chatID string, status int, ttl time.Duration) error {
	_, err := repo.CreateIdempotency(ctx, s.db, customerEmail, departmentID, key, chatID, status, ttl)
	return err
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), idempotency and rate
// limiting, CORS and security headers, health and metrics endpoints, and then
// mounts the versioned public API under /api/v* plus the WebSocket endpoints
// at the engine root.
//
// The connection registry and event publisher are injected because main owns
// their lifecycles (Drain on shutdown, Close on the Kafka writer).
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Idempotency validator (before rate limiter to allow bypass on replay)
//  8. Rate limiter (per agent/IP, bypass on replay)
//  9. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, reg *ws.Registry, pub events.Publisher, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-API-Key", // project-specific sensitive header example
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Idempotency validation (before rate limiting). The lookup here is
	// key-scoped and advisory; the authoritative tuple-scoped replay runs
	// in the create handler after the body is bound.
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{
			MaxLen: 200,
		},
		func(ctx context.Context, key string, now time.Time) (bool, error) {
			return repo.HasIdempotencyKey(ctx, db, key, now)
		},
	))

	// 8) Token-bucket rate limiter per agent/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByAgentOrIP())
	r.Use(rl.Handler())

	// 9) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderAgentID, middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderAgentID, middleware.HeaderIdempotencyKey},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Dependency injection: services ← repo/db/registry/events
	store := storeShim{}
	queue := services.NewQueue(db, store)
	assign := services.NewAssignment(db, store, reg, pub, queue)
	if cfg.AcceptWindow > 0 {
		assign.AcceptWindow = cfg.AcceptWindow
	}
	chatSvc := services.NewChatService(db, store, assign, reg, pub)
	msgSvc := services.NewMessageService(db, store, reg, pub)
	transferSvc := services.NewTransfer(db, store, assign, reg, pub)

	h := handlers.New(chatSvc, msgSvc, assign, queue, transferSvc)
	h.Idempotency = idemStore{db}
	h.ChatStats = func(ctx context.Context, f repo.ChatFilter) (int64, *time.Time, error) {
		return repo.ChatsStats(ctx, db, f)
	}

	// Public API
	apiBase := cfg.APIBasePath // e.g. "/api/v1"
	api := groupWithPrefix(r, apiBase)
	// Compress API responses only; /metrics and the WebSocket upgrade stay raw.
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		// Chats
		api.POST("/chats", h.CreateChat)
		api.GET("/chats", h.ListChats)
		api.GET("/chats/:id", h.GetChat)
		api.GET("/chats/:id/queue-status", h.QueueStatus)
		api.PUT("/chats/:id/close", h.CloseChat)
		api.PUT("/chats/:id/transfer", h.TransferChat)

		// Assignment
		api.PUT("/chats/:id/claim", h.ClaimChat)
		api.PUT("/chats/:id/accept-assignment", h.ClaimChat)
		api.PUT("/chats/:id/decline-assignment", h.DeclineAssignment)

		// Messages
		api.GET("/chats/:id/messages", h.ListMessages)
		api.POST("/chats/:id/messages", h.PostMessage)
		api.GET("/chats/:id/messages/search", h.SearchMessages)
	}

	// WebSocket endpoints (customer/chat channel, agent dashboard channel)
	wsH := ws.NewHandler(reg, chatSvc, msgSvc, assign, cfg.CORS.AllowedOrigins)
	wsH.RegisterRoutes(r)
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
