package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

type geminiClient struct {
	client    *genai.Client
	model     string
	maxTokens int32
}

func newGeminiClient(apiKey, model string, opts *clientOptions) (*geminiClient, error) {
	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI, HTTPClient: opts.httpClient}
	if opts.baseURL != "" {
		cfg.HTTPOptions.BaseURL = opts.baseURL
	}

	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &geminiClient{client: client, model: model, maxTokens: int32(opts.maxTokens)}, nil
}

// geminiRole maps chat roles onto Gemini's two participants.
func geminiRole(r Role) genai.Role {
	if r == RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func (conv conversation) geminiRequest() ([]*genai.Content, *genai.GenerateContentConfig) {
	contents := make([]*genai.Content, 0, len(conv.turns))
	for _, t := range conv.turns {
		contents = append(contents, genai.NewContentFromText(t.Content, geminiRole(t.Role)))
	}
	cfg := &genai.GenerateContentConfig{}
	if conv.system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(conv.system, genai.RoleUser)
	}
	return contents, cfg
}

func (c *geminiClient) Complete(ctx context.Context, messages []Message) (string, error) {
	conv, err := split(messages)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}

	contents, cfg := conv.geminiRequest()
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = c.maxTokens
	}
	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini completion: %w", err)
	}
	return finish("gemini", result.Text())
}
