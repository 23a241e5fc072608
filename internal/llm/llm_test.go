package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

func TestParseModel(t *testing.T) {
	tests := []struct {
		input        string
		wantProvider string
		wantModel    string
		wantErr      bool
	}{
		{input: "openai/gpt-4o-mini", wantProvider: "openai", wantModel: "gpt-4o-mini"},
		{input: " anthropic/claude-3-5-haiku-latest ", wantProvider: "anthropic", wantModel: "claude-3-5-haiku-latest"},
		{input: "openai/meta-llama/llama-3.1-8b", wantProvider: "openai", wantModel: "meta-llama/llama-3.1-8b"},
		{input: "gpt-4o-mini", wantErr: true},
		{input: "/gpt-4o-mini", wantErr: true},
		{input: "gemini/", wantErr: true},
	}

	for _, tt := range tests {
		provider, name, err := ParseModel(tt.input)
		if tt.wantErr {
			if err == nil || !strings.Contains(err.Error(), "provider/model_name") {
				t.Fatalf("ParseModel(%q): expected format error, got %v", tt.input, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseModel(%q) failed: %v", tt.input, err)
		}
		if provider != tt.wantProvider || name != tt.wantModel {
			t.Fatalf("ParseModel(%q) = %q, %q", tt.input, provider, name)
		}
	}
}

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	client, err := NewClient("mistral", "key", "small")
	if err == nil || client != nil {
		t.Fatalf("expected unknown provider error, got %v, %#v", err, client)
	}
	if !strings.Contains(err.Error(), "anthropic, gemini, openai") {
		t.Fatalf("expected the supported providers to be listed, got %q", err.Error())
	}
}

func TestNewFromModelPicksProviderKey(t *testing.T) {
	keys := Keys{OpenAI: "sk-openai", Anthropic: "sk-ant"}

	if _, err := NewFromModel("gemini/gemini-2.0-flash", keys); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
	if _, err := NewFromModel("claude-3-5-haiku-latest", keys); err == nil {
		t.Fatal("expected an error for a model without provider")
	}
	client, err := NewFromModel("anthropic/claude-3-5-haiku-latest", keys, WithMaxTokens(2048))
	if err != nil {
		t.Fatalf("NewFromModel failed: %v", err)
	}
	ac, ok := client.(*anthropicClient)
	if !ok || ac.maxTokens != 2048 || ac.model != "claude-3-5-haiku-latest" {
		t.Fatalf("unexpected client %#v", client)
	}
}

func TestSplitMergesInstructions(t *testing.T) {
	conv, err := split([]Message{
		System("Summarize this stretch of the meeting."),
		User("[00:00:01] alice: we ship friday"),
		System("Keep speaker names."),
		{Role: RoleAssistant, Content: "  "},
		{Role: RoleAssistant, Content: "- alice: ship friday"},
	})
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	if conv.system != "Summarize this stretch of the meeting.\n\nKeep speaker names." {
		t.Fatalf("unexpected system block %q", conv.system)
	}
	if len(conv.turns) != 2 || conv.turns[0].Role != RoleUser || conv.turns[1].Role != RoleAssistant {
		t.Fatalf("unexpected turns %#v", conv.turns)
	}
}

func TestSplitRequiresUserTurn(t *testing.T) {
	for _, msgs := range [][]Message{
		nil,
		{System("Summarize.")},
		{System("Summarize."), User("   ")},
	} {
		if _, err := split(msgs); !errors.Is(err, ErrNoUserMessage) {
			t.Fatalf("split(%v): expected ErrNoUserMessage, got %v", msgs, err)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "canceled", err: fmt.Errorf("map chunk 2: %w", context.Canceled), want: false},
		{name: "no user turn", err: fmt.Errorf("openai: %w", ErrNoUserMessage), want: false},
		{name: "empty answer", err: fmt.Errorf("gemini: %w", ErrEmptyResponse), want: true},
		{name: "network", err: errors.New("connection reset by peer"), want: true},
		{name: "openai rate limit", err: fmt.Errorf("openai completion: %w", &openai.APIError{HTTPStatusCode: 429}), want: true},
		{name: "openai context length", err: &openai.APIError{HTTPStatusCode: 400}, want: false},
		{name: "openai gateway", err: &openai.RequestError{HTTPStatusCode: 502}, want: true},
		{name: "gemini overloaded", err: genai.APIError{Code: 503}, want: true},
		{name: "gemini bad key", err: genai.APIError{Code: 403}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	if code, ok := StatusCode(fmt.Errorf("wrapped: %w", &openai.APIError{HTTPStatusCode: 429})); !ok || code != 429 {
		t.Fatalf("expected 429, got %d %v", code, ok)
	}
	if _, ok := StatusCode(errors.New("plain")); ok {
		t.Fatal("expected no status for a plain error")
	}
}

func TestClientFunc(t *testing.T) {
	var c Client = ClientFunc(func(_ context.Context, m []Message) (string, error) {
		return strings.ToUpper(m[len(m)-1].Content), nil
	})
	got, err := c.Complete(context.Background(), []Message{System("shout"), User("done")})
	if err != nil || got != "DONE" {
		t.Fatalf("unexpected %q, %v", got, err)
	}
}
