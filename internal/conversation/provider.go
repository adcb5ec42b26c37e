package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ai-companion-demo/backend/ai"
	"ai-companion-demo/backend/pkg/logger"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
)

// DefaultHistoryLimit bounds the messages a handle replays to the model
const DefaultHistoryLimit = 20

var errEmptyReply = errors.New("model returned an empty reply")

// Handle is a stateful conversation bound to one user and one companion
type Handle interface {
	Run(ctx context.Context, input string) (string, error)
}

// Provider creates conversation handles
type Provider interface {
	NewHandle(ctx context.Context, userID, companionID string) (Handle, error)
}

// ChainProvider builds handles on an eino chain: persona prompt, buffered
// history and the user query feed one chat model.
type ChainProvider struct {
	runnable     compose.Runnable[map[string]any, *schema.Message]
	directory    CompanionDirectory
	guard        *ai.Guard
	historyLimit int
	log          *logger.Logger
}

// NewChainProvider compiles the conversation chain around chatModel
func NewChainProvider(ctx context.Context, chatModel model.BaseChatModel, directory CompanionDirectory, guard *ai.Guard, historyLimit int, log *logger.Logger) (*ChainProvider, error) {
	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile conversation chain: %w", err)
	}

	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	if log == nil {
		log = logger.GetGlobal()
	}

	return &ChainProvider{
		runnable:     runnable,
		directory:    directory,
		guard:        guard,
		historyLimit: historyLimit,
		log:          log,
	}, nil
}

// NewHandle resolves the companion profile and returns a fresh handle. An
// unknown companion or an unreachable directory falls back to the generic persona.
func (p *ChainProvider) NewHandle(ctx context.Context, userID, companionID string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var system string
	if p.directory != nil {
		companion, err := p.directory.Companion(ctx, companionID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.log.Warn("Companion lookup failed, using generic persona",
				"companion_id", companionID,
				"error", err.Error(),
			)
		}
		system = SystemPrompt(companion)
	} else {
		system = SystemPrompt(nil)
	}

	return &chainHandle{
		provider:    p,
		userID:      userID,
		companionID: companionID,
		system:      system,
	}, nil
}

type chainHandle struct {
	provider    *ChainProvider
	userID      string
	companionID string
	system      string

	mu      sync.Mutex
	history []*schema.Message
}

// Run sends input with this handle's memory and records the exchange on success
func (h *chainHandle) Run(ctx context.Context, input string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	vars := map[string]any{
		"system":  h.system,
		"history": append([]*schema.Message(nil), h.history...),
		"query":   input,
	}

	var reply string
	err := h.provider.guard.Do(ctx, "conversation", func(ctx context.Context) error {
		msg, err := h.provider.runnable.Invoke(ctx, vars)
		if err != nil {
			return err
		}
		if msg == nil || msg.Content == "" {
			return errEmptyReply
		}
		reply = msg.Content
		return nil
	})
	if err != nil {
		return "", err
	}

	h.history = append(h.history, schema.UserMessage(input), schema.AssistantMessage(reply, nil))
	if over := len(h.history) - h.provider.historyLimit; over > 0 {
		// drop whole exchanges so the history never starts with a reply
		if over%2 == 1 {
			over++
		}
		h.history = append([]*schema.Message(nil), h.history[over:]...)
	}
	return reply, nil
}
