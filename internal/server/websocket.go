package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/dagbolade/trust-proxy/internal/auth"
	"github.com/dagbolade/trust-proxy/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

const (
	MessageInteraction = "interaction"
	MessageHistory     = "history"
)

type WSMessage struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Client is one dashboard connection. A non-empty chatID limits the feed to
// that chat.
type Client struct {
	id       string
	chatID   string
	conn     *websocket.Conn
	send     chan WSMessage
	hub      *Hub
	closedMu sync.Mutex
	closed   bool
}

// Hub fans appended interactions out to connected clients.
type Hub struct {
	clients      map[*Client]bool
	broadcast    chan WSMessage
	register     chan *Client
	unregister   chan *Client
	mu           sync.RWMutex
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan WSMessage, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
	}
	go h.run()
	return h
}

func (h *Hub) Shutdown() {
	h.shutdownOnce.Do(func() {
		log.Info().Msg("shutting down websocket hub")
		h.cancel()

		h.mu.Lock()
		for client := range h.clients {
			client.safeClose()
			delete(h.clients, client)
		}
		h.mu.Unlock()
	})
}

// Publish queues an interaction for every client following its chat. It
// never blocks the caller; when the queue is full the event is dropped.
func (h *Hub) Publish(in store.Interaction) {
	msg := WSMessage{Type: MessageInteraction, ChatID: in.ChatID, Data: in}
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	default:
		log.Warn().Str("chat_id", in.ChatID).Msg("websocket feed full, dropping interaction")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Info().Str("client_id", client.id).Int("total", total).Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.safeClose()
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Info().Str("client_id", client.id).Int("total", total).Msg("client disconnected")

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				if client.chatID != "" && client.chatID != message.ChatID {
					continue
				}
				select {
				case client.send <- message:
				default:
					// slow client
					go h.drop(client)
				}
			}
			h.mu.RUnlock()

		case <-h.ctx.Done():
			return
		}
	}
}

func (h *Hub) drop(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.ctx.Done():
	}
}

func (c *Client) safeClose() {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	close(c.send)
	_ = c.conn.Close()
}

func (c *Client) readPump() {
	defer c.hub.drop(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("client_id", c.id).Msg("websocket read error")
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type WSHandler struct {
	hub         *Hub
	store       store.Store
	authManager *auth.Manager
	upgrader    websocket.Upgrader
}

func NewWSHandler(hub *Hub, st store.Store, authManager *auth.Manager) *WSHandler {
	return &WSHandler{
		hub:         hub,
		store:       st,
		authManager: authManager,
		upgrader: websocket.Upgrader{
			// browsers cannot set headers on websocket upgrades, the token
			// travels in the query string instead
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket streams interactions as they are recorded. With
// ?chat_id= the client first receives that chat's history.
func (h *WSHandler) HandleWebSocket(c echo.Context) error {
	if h.authManager.RequireAuth() {
		token := c.QueryParam("token")
		if token == "" {
			token = strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		}
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing authentication token")
		}
		user, err := h.authManager.ValidateToken(token)
		if err != nil {
			log.Warn().Err(err).Msg("websocket auth failed")
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		// the feed carries the same data as the interactions view
		if !user.HasRole(auth.RoleAuditor) && !user.HasRole(auth.RoleAdmin) {
			log.Warn().Str("user_id", user.ID).Msg("websocket access denied")
			return echo.NewHTTPError(http.StatusForbidden, "auditor role required")
		}
	}

	chatID := c.QueryParam("chat_id")

	var history []store.Interaction
	if chatID != "" {
		var err error
		history, err = h.store.Interactions(c.Request().Context(), chatID)
		if err != nil {
			log.Error().Err(err).Str("chat_id", chatID).Msg("failed to load history for websocket client")
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to load history")
		}
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return err
	}

	client := &Client{
		id:     uuid.NewString(),
		chatID: chatID,
		conn:   conn,
		send:   make(chan WSMessage, sendBuffer),
		hub:    h.hub,
	}

	if chatID != "" {
		client.send <- WSMessage{Type: MessageHistory, ChatID: chatID, Data: history}
	}

	select {
	case h.hub.register <- client:
	case <-h.hub.ctx.Done():
		client.safeClose()
		return nil
	}

	go client.writePump()
	go client.readPump()

	return nil
}
