package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

type openaiClient struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func newOpenAIClient(apiKey, model string, opts *clientOptions) (*openaiClient, error) {
	cfg := openai.DefaultConfig(apiKey)
	if opts.baseURL != "" {
		cfg.BaseURL = opts.baseURL
	}
	if opts.httpClient != nil {
		cfg.HTTPClient = opts.httpClient
	}
	return &openaiClient{client: openai.NewClientWithConfig(cfg), model: model, maxTokens: int(opts.maxTokens)}, nil
}

// Complete sends the instructions as a single leading system message.
func (c *openaiClient) Complete(ctx context.Context, messages []Message) (string, error) {
	conv, err := split(messages)
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}

	req := openai.ChatCompletionRequest{Model: c.model, MaxTokens: c.maxTokens}
	if conv.system != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: conv.system})
	}
	for _, t := range conv.turns {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: string(t.Role), Content: t.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices: %w", ErrEmptyResponse)
	}
	return finish("openai", resp.Choices[0].Message.Content)
}
