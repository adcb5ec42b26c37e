package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ai-companion-demo/backend/pkg/config"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// NewChatModel builds the chat-completion model from configuration. The ark
// client speaks the OpenAI-compatible chat API, so LLM_BASE_URL may point at
// any compatible endpoint.
func NewChatModel(ctx context.Context, cfg *config.Config) (model.BaseChatModel, error) {
	var temperature *float32
	if cfg.LLM.Temperature != nil {
		val := float32(*cfg.LLM.Temperature)
		temperature = &val
	}

	var maxTokens *int
	if cfg.LLM.MaxTokens != nil {
		val := *cfg.LLM.MaxTokens
		maxTokens = &val
	}

	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:     cfg.LLM.BaseURL,
		Region:      cfg.LLM.Region,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return chatModel, nil
}

var errEmptyCompletion = errors.New("empty completion")

// CompletionService runs single-turn prompts against the chat model
type CompletionService struct {
	chatModel model.BaseChatModel
	guard     *Guard
}

// NewCompletionService creates a new CompletionService
func NewCompletionService(chatModel model.BaseChatModel, guard *Guard) *CompletionService {
	return &CompletionService{
		chatModel: chatModel,
		guard:     guard,
	}
}

// Complete sends prompt as a single user message and returns the reply text
func (s *CompletionService) Complete(ctx context.Context, op, prompt string) (string, error) {
	var reply string
	err := s.guard.Do(ctx, op, func(ctx context.Context) error {
		msg, err := s.chatModel.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
		if err != nil {
			return err
		}
		if msg == nil || strings.TrimSpace(msg.Content) == "" {
			return errEmptyCompletion
		}
		reply = strings.TrimSpace(msg.Content)
		return nil
	})
	return reply, err
}
