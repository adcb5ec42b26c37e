package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"ai-companion-demo/backend/internal/chat"
	apperrors "ai-companion-demo/backend/pkg/errors"
	"ai-companion-demo/backend/pkg/logger"
	wsproto "ai-companion-demo/backend/pkg/ws"

	"github.com/gorilla/websocket"
)

// Client is one socket connection. ReadPump owns reads, WritePump owns
// writes and a single worker handles chat events in arrival order.
type Client struct {
	ID     string
	hub    *Hub
	conn   *websocket.Conn
	userID string
	log    *logger.Logger

	send   chan []byte
	events chan wsproto.Message

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, id, userID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	log := hub.log.WithConnectionID(id).WithUserID(userID)
	return &Client{
		ID:     id,
		hub:    hub,
		conn:   conn,
		userID: userID,
		log:    log,
		send:   make(chan []byte, sendBufferSize),
		events: make(chan wsproto.Message, eventBufferSize),
		ctx:    logger.NewContext(ctx, log),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// close cancels in-flight work and tells the peer the connection is over
func (c *Client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	})
}

// ReadPump reads frames until the connection fails. Pings are answered
// inline; every other event is queued for the worker.
func (c *Client) ReadPump() {
	defer func() {
		c.close(websocket.CloseNormalClosure, "")
		close(c.events)
		c.log.Debug("ReadPump ended")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("Unexpected socket close", "error", err.Error())
			}
			return
		}

		var msg wsproto.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError(apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "Malformed event envelope"))
			continue
		}

		if msg.Type == wsproto.EventPing {
			c.emit(wsproto.EventPong, nil)
			continue
		}

		select {
		case c.events <- msg:
		default:
			c.sendError(apperrors.NewTooManyRequestsError(apperrors.CodeRateLimitExceeded,
				"Too many pending events on this connection"))
		}
	}
}

// worker runs chat events one at a time. It removes the session only after
// the last event has finished so a late start_chat cannot outlive the socket.
func (c *Client) worker() {
	defer func() {
		c.hub.chat.Disconnect(c.ID)
		c.hub.unregister(c)
	}()

	for msg := range c.events {
		if c.ctx.Err() != nil {
			continue
		}
		c.handleEvent(msg)
	}
}

// handleEvent answers one chat event. A panic below it is reported to the
// client as an internal error and the connection keeps serving.
func (c *Client) handleEvent(msg wsproto.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Panic handling socket event",
				"type", msg.Type,
				"error", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			c.sendError(apperrors.NewInternalServerError(apperrors.CodeInternal, "The server encountered an unexpected error"))
		}
	}()

	switch msg.Type {
	case wsproto.EventStartChat:
		var req chat.StartChatRequest
		if !c.decode(msg, &req) {
			return
		}
		if !c.ownsUser(req.UserID) {
			return
		}
		key, err := c.hub.chat.StartChat(c.ctx, c.ID, req)
		if err != nil {
			c.sendError(err)
			return
		}
		c.emit(wsproto.EventSessionKey, wsproto.SessionKey{SessionKey: key})

	case wsproto.EventSendMessage:
		var req chat.SendMessageRequest
		if !c.decode(msg, &req) {
			return
		}
		if !c.ownsUser(req.UserID) {
			return
		}
		reply, err := c.hub.chat.SendMessage(c.ctx, c.ID, req)
		if err != nil {
			c.sendError(err)
			return
		}
		c.emit(wsproto.EventReceiveMessage, wsproto.ReceiveMessage{Message: reply})

	default:
		c.sendError(apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "Unknown event type: "+msg.Type))
	}
}

func (c *Client) decode(msg wsproto.Message, v any) bool {
	if len(msg.Content) == 0 {
		return true
	}
	if err := json.Unmarshal(msg.Content, v); err != nil {
		c.sendError(apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "Malformed "+msg.Type+" content"))
		return false
	}
	return true
}

// ownsUser rejects events naming another user when the socket was
// authenticated
func (c *Client) ownsUser(userID string) bool {
	if c.userID == "" || userID == "" || userID == c.userID {
		return true
	}
	c.sendError(apperrors.NewUnauthorizedError(apperrors.CodeUnauthorized, "user_id does not match the authenticated user"))
	return false
}

func (c *Client) emit(eventType string, content any) {
	data, err := wsproto.Encode(eventType, content)
	if err != nil {
		c.log.Error("Error encoding event", "type", eventType, "error", err.Error())
		return
	}

	select {
	case c.send <- data:
	case <-c.done:
	}
}

func (c *Client) sendError(err error) {
	appErr := apperrors.FromError(err)
	args := []any{"code", appErr.Code, "message", appErr.Message}
	if appErr.Err != nil {
		args = append(args, "cause", appErr.Err.Error())
	}
	c.log.Warn("Socket event failed", args...)

	c.emit(wsproto.EventError, wsproto.Error{Code: appErr.Code, Message: appErr.Message})
}

// WritePump drains the send queue and keeps the connection alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("Write failed", "error", err.Error())
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
