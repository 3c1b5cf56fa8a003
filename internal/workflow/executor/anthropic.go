package executor

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicCollaborator is the default LLMCollaborator, calling the
// real Anthropic Messages API instead of the teacher's hand-rolled
// net/http client for the same provider.
type AnthropicCollaborator struct {
	client anthropic.Client
}

func NewAnthropicCollaborator(apiKey string) *AnthropicCollaborator {
	return &AnthropicCollaborator{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (a *AnthropicCollaborator) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(block))
		default:
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
	})
	if err != nil {
		return LLMResponse{}, fmt.Errorf("anthropic completion: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return LLMResponse{
		Content:    text,
		StopReason: string(msg.StopReason),
	}, nil
}
