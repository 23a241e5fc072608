// Package llm puts the supported chat-completion providers behind one
// Complete call.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

var (
	ErrMissingAPIKey = errors.New("missing api key")
	ErrNoUserMessage = errors.New("no user message")
	ErrEmptyResponse = errors.New("empty response")
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

func System(text string) Message { return Message{Role: RoleSystem, Content: text} }
func User(text string) Message   { return Message{Role: RoleUser, Content: text} }

type Client interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, messages []Message) (string, error)

func (f ClientFunc) Complete(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}

// Keys holds one API key per provider.
type Keys struct {
	OpenAI    string
	Anthropic string
	Gemini    string
}

func (k Keys) For(provider string) string {
	switch provider {
	case "openai":
		return k.OpenAI
	case "anthropic":
		return k.Anthropic
	case "gemini":
		return k.Gemini
	default:
		return ""
	}
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL    string
	maxTokens  int64
	httpClient *http.Client
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) { o.baseURL = url }
}

// WithMaxTokens caps the response length. Zero keeps the provider default.
func WithMaxTokens(n int64) Option {
	return func(o *clientOptions) { o.maxTokens = n }
}

// WithTimeout bounds every request, including reading the response.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.httpClient = &http.Client{Timeout: d}
		}
	}
}

type constructor func(apiKey, model string, o *clientOptions) (Client, error)

var providers = map[string]constructor{
	"openai":    func(k, m string, o *clientOptions) (Client, error) { return newOpenAIClient(k, m, o) },
	"anthropic": func(k, m string, o *clientOptions) (Client, error) { return newAnthropicClient(k, m, o) },
	"gemini": func(k, m string, o *clientOptions) (Client, error) {
		c, err := newGeminiClient(k, m, o)
		if err != nil {
			return nil, err
		}
		return c, nil
	},
}

// Providers lists the provider prefixes accepted in a model string.
func Providers() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseModel splits "provider/model". The model part may itself contain
// slashes, as OpenAI-compatible gateways often use.
func ParseModel(model string) (provider, name string, err error) {
	provider, name, ok := strings.Cut(strings.TrimSpace(model), "/")
	if !ok || provider == "" || name == "" {
		return "", "", fmt.Errorf("invalid model format %q: expected provider/model_name", model)
	}
	return provider, name, nil
}

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	build, ok := providers[provider]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are %s", provider, strings.Join(Providers(), ", "))
	}
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return build(apiKey, model, o)
}

// NewFromModel builds a client from a "provider/model" string, picking the
// provider's key from keys.
func NewFromModel(model string, keys Keys, opts ...Option) (Client, error) {
	provider, name, err := ParseModel(model)
	if err != nil {
		return nil, err
	}
	key := keys.For(provider)
	if key == "" {
		return nil, fmt.Errorf("%w for provider %q", ErrMissingAPIKey, provider)
	}
	return NewClient(provider, key, name, opts...)
}

// conversation is a message list split the way the Anthropic and Gemini
// APIs want it: instructions apart from the turns.
type conversation struct {
	system string
	turns  []Message
}

// split joins all system messages into one instruction block and drops
// blank turns. A conversation without a user turn is rejected before any
// request is made.
func split(messages []Message) (conversation, error) {
	var c conversation
	var system []string
	hasUser := false
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleUser:
			hasUser = true
			c.turns = append(c.turns, m)
		case RoleAssistant:
			c.turns = append(c.turns, m)
		}
	}
	if !hasUser {
		return conversation{}, ErrNoUserMessage
	}
	c.system = strings.Join(system, "\n\n")
	return c, nil
}

func finish(provider, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s: %w", provider, ErrEmptyResponse)
	}
	return text, nil
}
