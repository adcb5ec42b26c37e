package chat

import (
	"context"
	"net/http"
	"strings"

	"ai-companion-demo/backend/internal/chatlog"
	"ai-companion-demo/backend/internal/session"
	apperrors "ai-companion-demo/backend/pkg/errors"
	"ai-companion-demo/backend/pkg/logger"
)

// ErrSessionNotFound is returned when a message arrives on a connection that
// never started a chat, or whose session is gone
var ErrSessionNotFound = apperrors.NewError(http.StatusNotFound, apperrors.CodeSessionNotFound,
	"No active chat session for this connection. Send start_chat first.")

// StartChatRequest is the start_chat payload
type StartChatRequest struct {
	UserID      string `json:"user_id"`
	CompanionID string `json:"companion_id"`
}

// SendMessageRequest is the send_message payload
type SendMessageRequest struct {
	Message     string `json:"message"`
	UserID      string `json:"user_id"`
	CompanionID string `json:"companion_id"`
}

// LogSubmitter accepts chat logs without blocking
type LogSubmitter interface {
	Submit(rec chatlog.Record) bool
}

// Service relays user messages to the connection's conversation handle
type Service struct {
	registry *session.Registry
	logs     LogSubmitter
	log      *logger.Logger
}

// NewService creates a new chat service
func NewService(registry *session.Registry, logs LogSubmitter, log *logger.Logger) *Service {
	if log == nil {
		log = logger.GetGlobal()
	}
	return &Service{registry: registry, logs: logs, log: log}
}

// StartChat opens a conversation for connectionID and returns its session key,
// which is the connection identifier itself
func (s *Service) StartChat(ctx context.Context, connectionID string, req StartChatRequest) (string, error) {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.CompanionID) == "" {
		return "", apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "user_id and companion_id are required")
	}

	if err := s.registry.Create(ctx, connectionID, req.UserID, req.CompanionID); err != nil {
		return "", apperrors.FromError(err)
	}

	s.log.Info("Chat session started",
		"connection_id", connectionID,
		"user_id", req.UserID,
		"companion_id", req.CompanionID,
	)
	return connectionID, nil
}

// SendMessage runs the message through the connection's handle and returns
// the reply. The exchange is handed to the chat log sink, whose outcome never
// affects delivery.
func (s *Service) SendMessage(ctx context.Context, connectionID string, req SendMessageRequest) (string, error) {
	if req.Message == "" {
		return "", apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "message is required")
	}
	if req.UserID == "" || req.CompanionID == "" {
		return "", apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "user_id and companion_id are required")
	}

	handle, ok := s.registry.Lookup(connectionID)
	if !ok {
		return "", ErrSessionNotFound
	}

	reply, err := handle.Run(ctx, req.Message)
	if err != nil {
		return "", apperrors.FromError(err)
	}

	if s.logs != nil {
		s.logs.Submit(chatlog.Record{
			UserID:           req.UserID,
			CompanionID:      req.CompanionID,
			UserMessage:      req.Message,
			CompanionMessage: reply,
		})
	}
	return reply, nil
}

// Disconnect forgets the connection's session
func (s *Service) Disconnect(connectionID string) {
	s.registry.Remove(connectionID)
	s.log.Debug("Chat session removed", "connection_id", connectionID)
}

// ActiveSessions returns the number of open conversations
func (s *Service) ActiveSessions() int {
	return s.registry.Len()
}
