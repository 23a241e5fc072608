package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type messagesRequest struct {
	Model     string `json:"model"`
	MaxTokens int64  `json:"max_tokens"`
	System    []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func anthropicServer(t *testing.T, got *messagesRequest, blocks ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got != nil {
			if err := json.NewDecoder(r.Body).Decode(got); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		content := make([]map[string]any, 0, len(blocks))
		for _, b := range blocks {
			content = append(content, map[string]any{"type": "text", "text": b})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-3-5-haiku-latest",
			"content": content, "stop_reason": "end_turn",
			"usage": map[string]any{"input_tokens": 12, "output_tokens": 4},
		})
	}))
}

func TestAnthropicCompleteUsesSystemField(t *testing.T) {
	var got messagesRequest
	server := anthropicServer(t, &got, "Decisions:\n", "- ship friday ")
	defer server.Close()

	client, err := newAnthropicClient("sk-ant", "claude-3-5-haiku-latest", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newAnthropicClient failed: %v", err)
	}

	out, err := client.Complete(context.Background(), []Message{
		System("Merge these partial summaries."),
		User("- alice: ship friday"),
		{Role: RoleAssistant, Content: "Decisions:"},
		User("Continue."),
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != "Decisions:\n- ship friday" {
		t.Fatalf("expected joined text blocks, got %q", out)
	}

	if got.MaxTokens != defaultAnthropicMaxTokens {
		t.Fatalf("expected default max_tokens, got %d", got.MaxTokens)
	}
	if len(got.System) != 1 || got.System[0].Text != "Merge these partial summaries." {
		t.Fatalf("expected instructions in the system field, got %+v", got.System)
	}
	roles := make([]string, 0, len(got.Messages))
	for _, m := range got.Messages {
		roles = append(roles, m.Role)
	}
	if len(roles) != 3 || roles[0] != "user" || roles[1] != "assistant" || roles[2] != "user" {
		t.Fatalf("unexpected turn roles %v", roles)
	}
}

func TestAnthropicCompleteOmitsEmptySystem(t *testing.T) {
	var got messagesRequest
	server := anthropicServer(t, &got, "ok")
	defer server.Close()

	client, err := NewFromModel("anthropic/claude-3-5-haiku-latest", Keys{Anthropic: "sk-ant"}, WithBaseURL(server.URL), WithMaxTokens(1024))
	if err != nil {
		t.Fatalf("NewFromModel failed: %v", err)
	}
	if _, err := client.Complete(context.Background(), []Message{User("chunk")}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if len(got.System) != 0 || got.MaxTokens != 1024 {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestAnthropicCompleteEmptyContent(t *testing.T) {
	server := anthropicServer(t, nil)
	defer server.Close()

	client, _ := newAnthropicClient("sk-ant", "claude-3-5-haiku-latest", &clientOptions{baseURL: server.URL})
	_, err := client.Complete(context.Background(), []Message{User("chunk")})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestAnthropicBadRequestIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"prompt is too long"}}`))
	}))
	defer server.Close()

	client, _ := newAnthropicClient("sk-ant", "claude-3-5-haiku-latest", &clientOptions{baseURL: server.URL})
	_, err := client.Complete(context.Background(), []Message{User("chunk")})
	if err == nil {
		t.Fatal("expected an error")
	}
	if code, ok := StatusCode(err); !ok || code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d %v", code, ok)
	}
	if IsRetryable(err) {
		t.Fatal("expected a 400 not to be retried")
	}
}
