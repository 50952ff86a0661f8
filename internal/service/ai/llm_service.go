package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	arkmodel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"

	"github.com/zhouzirui/z-scene/backend/internal/apperr"
	"github.com/zhouzirui/z-scene/backend/internal/metrics"
	"github.com/zhouzirui/z-scene/backend/internal/model/chat"
)

const chatProvider = "chat"

// ChatOptions tunes the chat gateway.
type ChatOptions struct {
	MaxTokens int
	Timeout   time.Duration
	Window    ContextWindow
	Metrics   *metrics.Metrics
}

// ChatGateway sends a turn history to the chat model and returns the reply text.
// It makes exactly one model call per Complete and never retries.
type ChatGateway struct {
	chain     compose.Runnable[[]chat.Turn, *schema.Message]
	maxTokens int
	timeout   time.Duration
	metrics   *metrics.Metrics
}

// NewChatGateway compiles the chain context window -> chat template -> chat model.
func NewChatGateway(ctx context.Context, chatModel model.BaseChatModel, opts ChatOptions) (*ChatGateway, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is required")
	}
	window := opts.Window
	if window == nil {
		window = FullHistory{}
	}

	template := prompt.FromMessages(
		schema.FString,
		schema.MessagesPlaceholder("history", false),
	)

	chain := compose.NewChain[[]chat.Turn, *schema.Message]()
	chain.AppendLambda(compose.InvokableLambda(func(_ context.Context, turns []chat.Turn) (map[string]any, error) {
		return map[string]any{"history": toSchemaMessages(window.Select(turns))}, nil
	}))
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &ChatGateway{
		chain:     runnable,
		maxTokens: opts.MaxTokens,
		timeout:   opts.Timeout,
		metrics:   opts.Metrics,
	}, nil
}

// Complete returns the assistant reply for turns. Every failure is a
// *apperr.ProviderError.
func (g *ChatGateway) Complete(ctx context.Context, turns []chat.Turn) (reply string, err error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	started := time.Now()
	defer func() { g.metrics.ObserveProvider(chatProvider, started, err) }()

	var invokeOpts []compose.Option
	if g.maxTokens > 0 {
		invokeOpts = append(invokeOpts, compose.WithChatModelOption(model.WithMaxTokens(g.maxTokens)))
	}

	response, err := g.chain.Invoke(ctx, turns, invokeOpts...)
	if err != nil {
		cause := err
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			cause = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return "", &apperr.ProviderError{
			Provider:   chatProvider,
			StatusCode: upstreamStatus(err),
			Message:    err.Error(),
			Err:        cause,
		}
	}
	if response == nil || strings.TrimSpace(response.Content) == "" {
		return "", &apperr.ProviderError{Provider: chatProvider, Message: "empty reply from chat model"}
	}

	log.Printf("[chat] generated reply turns=%d length=%d", len(turns), len(response.Content))
	return response.Content, nil
}

// upstreamStatus digs the HTTP status out of an Ark runtime error, or 0 when
// no response was received.
func upstreamStatus(err error) int {
	var apiErr *arkmodel.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *arkmodel.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// toSchemaMessages keeps only role and content; display strings stay local.
func toSchemaMessages(turns []chat.Turn) []*schema.Message {
	messages := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleSystem:
			messages = append(messages, schema.SystemMessage(turn.Content))
		case chat.RoleUser:
			messages = append(messages, schema.UserMessage(turn.Content))
		case chat.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(turn.Content, nil))
		}
	}
	return messages
}
