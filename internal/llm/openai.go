package llm

import (
	"context"
	"fmt"
	"strings"

	einoopenai "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// OpenAICompat talks to any OpenAI-compatible chat completion endpoint through eino.
type OpenAICompat struct {
	chat model.BaseChatModel
}

// NewOpenAICompat builds a chat model for baseURL. An empty baseURL targets the OpenAI API.
func NewOpenAICompat(ctx context.Context, baseURL, apiKey, modelName string) (*OpenAICompat, error) {
	chat, err := einoopenai.NewChatModel(ctx, &einoopenai.ChatModelConfig{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   modelName,
	})
	if err != nil {
		return nil, fmt.Errorf("init openai chat model: %w", err)
	}
	return &OpenAICompat{chat: chat}, nil
}

// NewOpenAICompatFromModel wraps an existing eino chat model.
func NewOpenAICompatFromModel(chat model.BaseChatModel) *OpenAICompat {
	return &OpenAICompat{chat: chat}
}

// Generate implements Generator.
func (o *OpenAICompat) Generate(ctx context.Context, req Request) (string, error) {
	system := req.System
	if req.JSON {
		system = strings.TrimSpace(system + "\nRespond with JSON only.")
	}

	messages := make([]*schema.Message, 0, 2)
	if system != "" {
		messages = append(messages, schema.SystemMessage(system))
	}
	messages = append(messages, schema.UserMessage(req.Prompt))

	resp, err := o.chat.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("chat generate: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyReply
	}
	return resp.Content, nil
}
