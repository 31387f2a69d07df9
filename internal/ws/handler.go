// Package ws implements the real-time boundary. This file is the socket
// handler: the two Gin endpoints that upgrade HTTP requests, register the
// resulting connections, and run the per-connection read loops.
package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/supporthub/livechat-backend/internal/domain"
)

const (
	// maxInboundBytes caps a single inbound frame.
	maxInboundBytes = 64 << 10
	// pongWait is how long a connection may stay silent before the read
	// loop gives up on it.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = 25 * time.Second
)

// ChatLookup is the slice of the chat service the handler needs to admit a
// participant.
type ChatLookup interface {
	Get(ctx context.Context, id string) (*domain.Chat, error)
}

// MessagePoster is the slice of the transcript service the handler posts
// inbound participant messages through.
type MessagePoster interface {
	Post(ctx context.Context, chatID string, senderID *string, senderName, content string) (*domain.Message, error)
}

// AgentPresence is the slice of the assignment engine the dashboard channel
// needs: profile lookup on connect and presence updates afterwards.
type AgentPresence interface {
	Agent(ctx context.Context, agentID string) (*domain.Agent, error)
	SetAgentStatus(ctx context.Context, agentID string, status domain.AgentStatus) (*domain.Agent, error)
}

// Handler owns the WebSocket endpoints. Upgrades are validated against the
// store first, so a bad chat or agent id fails as plain HTTP before any
// socket exists.
type Handler struct {
	Registry *Registry
	Chats    ChatLookup
	Messages MessagePoster
	Agents   AgentPresence

	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHandler constructs the socket handler. allowedOrigins follows the usual
// contract: empty allows every origin (plus non-browser clients), otherwise
// the Origin header must match an entry or "*".
func NewHandler(reg *Registry, chats ChatLookup, msgs MessagePoster, agents AgentPresence, allowedOrigins []string) *Handler {
	return &Handler{
		Registry: reg,
		Chats:    chats,
		Messages: msgs,
		Agents:   agents,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		log: log.With().Str("component", "ws-handler").Logger(),
	}
}

// checkOrigin validates the Origin header for browser clients. Requests
// without an Origin (non-browser clients, same-origin) always pass.
func checkOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// ChatSocket handles GET /ws/chat/:id: the participant channel for one chat.
// Customers and the assigned agent both join here; every frame sent on the
// chat is fanned out to the whole group.
//
// Identity is taken from query parameters: "sender_name" names the
// participant in join/leave and typing frames (defaults to the chat's
// customer name), and agents pass "sender_id" so their messages carry a
// sender id.
func (h *Handler) ChatSocket(c *gin.Context) {
	chatID := c.Param("id")
	chat, err := h.Chats.Get(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
		return
	}

	name := strings.TrimSpace(c.Query("sender_name"))
	if name == "" {
		name = chat.CustomerName
	}
	var senderID *string
	if sid := strings.TrimSpace(c.Query("sender_id")); sid != "" {
		senderID = &sid
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("chat_id", chatID).Msg("chat socket upgrade failed")
		return
	}

	client := NewClient(conn)
	h.Registry.ConnectToChat(chatID, client)
	defer func() {
		h.Registry.DisconnectFromChat(chatID, client)
		_ = client.Close()
		h.Registry.BroadcastToChat(chatID, NewUserLeft(chatID, name))
	}()

	_ = client.Send(NewChatConnected(chatID))
	h.Registry.BroadcastToChat(chatID, NewUserJoined(chatID, name))

	conn.SetReadLimit(maxInboundBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	stopPings := h.keepAlive(conn)
	defer stopPings()

	for {
		var in ChatInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("chat_id", chatID).Msg("chat socket closed")
			}
			return
		}
		switch in.Type {
		case InboundMessage:
			if _, err := h.Messages.Post(c.Request.Context(), chatID, senderID, name, in.Content); err != nil {
				h.log.Debug().Err(err).Str("chat_id", chatID).Msg("inbound message rejected")
			}
		case InboundTyping:
			typing := in.IsTyping != nil && *in.IsTyping
			h.Registry.BroadcastToChat(chatID, NewTyping(chatID, name, typing))
		default:
			h.log.Debug().Str("chat_id", chatID).Str("type", in.Type).Msg("unknown inbound frame")
		}
	}
}

// AgentSocket handles GET /ws/agent/:id: the dashboard channel. At most one
// dashboard connection exists per agent; a new one replaces the old. The
// channel receives assignment offers and acknowledges presence updates.
func (h *Handler) AgentSocket(c *gin.Context) {
	agentID := c.Param("id")
	agent, err := h.Agents.Agent(c.Request.Context(), agentID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("agent_id", agentID).Msg("agent socket upgrade failed")
		return
	}

	// The dashboard may pin an explicit department; the profile's own
	// department is the default.
	departmentID := strings.TrimSpace(c.Query("department_id"))
	if departmentID == "" {
		departmentID = agent.DepartmentID
	}

	client := NewClient(conn)
	h.Registry.ConnectAgent(agentID, client)
	if agent.Status == domain.AgentAvailable {
		h.Registry.MarkAvailable(agentID, departmentID)
	}
	defer func() {
		h.Registry.DisconnectAgent(agentID)
		_ = client.Close()
	}()

	_ = client.Send(NewAgentConnected(agentID))

	conn.SetReadLimit(maxInboundBytes)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	stopPings := h.keepAlive(conn)
	defer stopPings()

	for {
		var in AgentInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("agent_id", agentID).Msg("agent socket closed")
			}
			return
		}
		if in.Type != InboundStatusUpdate {
			h.log.Debug().Str("agent_id", agentID).Str("type", in.Type).Msg("unknown inbound frame")
			continue
		}

		status := domain.AgentStatus(in.Status)
		updated, err := h.Agents.SetAgentStatus(c.Request.Context(), agentID, status)
		if err != nil {
			h.log.Debug().Err(err).Str("agent_id", agentID).Str("status", in.Status).Msg("presence update rejected")
			continue
		}
		if updated.Status == domain.AgentAvailable {
			h.Registry.MarkAvailable(agentID, departmentID)
		} else {
			h.Registry.MarkBusy(agentID, departmentID)
		}
		_ = client.Send(NewStatusUpdated(string(updated.Status)))
	}
}

// keepAlive pings the connection until the returned stop func is called.
// A failed ping just stops the ticker; the read deadline kills the loop.
func (h *Handler) keepAlive(conn *websocket.Conn) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// RegisterRoutes mounts the two socket endpoints on the engine.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/ws/chat/:id", h.ChatSocket)
	r.GET("/ws/agent/:id", h.AgentSocket)
}
