package ws

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"ai-companion-demo/backend/internal/chat"
	"ai-companion-demo/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	sendBufferSize  = 64
	eventBufferSize = 16
)

// ChatService is the relay the socket events drive
type ChatService interface {
	StartChat(ctx context.Context, connectionID string, req chat.StartChatRequest) (string, error)
	SendMessage(ctx context.Context, connectionID string, req chat.SendMessageRequest) (string, error)
	Disconnect(connectionID string)
}

// Hub tracks open socket connections
type Hub struct {
	chat     ChatService
	upgrader websocket.Upgrader
	log      *logger.Logger

	mu      sync.Mutex
	clients map[string]*Client
	wg      sync.WaitGroup
}

// NewHub creates a hub accepting upgrades from allowedOrigins. An empty list
// or "*" accepts any origin.
func NewHub(chatService ChatService, allowedOrigins []string, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Hub{
		chat: chatService,
		upgrader: websocket.Upgrader{
			CheckOrigin:      originChecker(allowedOrigins),
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
		log:     log,
		clients: make(map[string]*Client),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(origin, "/")] = struct{}{}
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set[origin]; ok {
			return true
		}
		// Allow same-host upgrades regardless of the list
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.log.Info("Client registered", "connection_id", c.ID)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()
	h.log.Info("Client unregistered", "connection_id", c.ID)
}

// Len returns the number of open connections
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown closes every connection and waits for their workers to finish
// or ctx to expire
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeWs upgrades the request and starts the connection's pumps. The user
// id set by the auth middleware, if any, is bound to the connection.
func (h *Hub) ServeWs(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.FromGin(c).Warn("Error upgrading connection", "error", err.Error())
		return
	}

	id := uuid.New().String()
	client := newClient(h, conn, id, c.GetString("userId"))
	h.register(client)

	h.wg.Add(3)
	go func() {
		defer h.wg.Done()
		client.WritePump()
	}()
	go func() {
		defer h.wg.Done()
		client.worker()
	}()
	go func() {
		defer h.wg.Done()
		client.ReadPump()
	}()
}
