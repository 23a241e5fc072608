package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type chatRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	Messages  []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatCompletion(content string) map[string]any {
	choices := []map[string]any{}
	if content != "" {
		choices = append(choices, map[string]any{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		})
	}
	return map[string]any{"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o-mini", "choices": choices}
}

func TestOpenAICompleteSendsOneSystemMessage(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(chatCompletion("\n- bob owns the rollout\n"))
	}))
	defer server.Close()

	client, err := NewClient("openai", "sk-test", "gpt-4o-mini", WithBaseURL(server.URL+"/v1"), WithMaxTokens(512))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	out, err := client.Complete(context.Background(), []Message{
		System("Summarize this part of the transcript."),
		System("Use bullet points."),
		User("[00:03:10] bob: I'll own the rollout"),
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != "- bob owns the rollout" {
		t.Fatalf("expected trimmed summary, got %q", out)
	}

	if got.Model != "gpt-4o-mini" || got.MaxTokens != 512 {
		t.Fatalf("unexpected model or max_tokens: %+v", got)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected system plus user message, got %+v", got.Messages)
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != "Summarize this part of the transcript.\n\nUse bullet points." {
		t.Fatalf("unexpected system message %+v", got.Messages[0])
	}
	if got.Messages[1].Role != "user" {
		t.Fatalf("unexpected user message %+v", got.Messages[1])
	}
}

func TestOpenAICompleteWithoutChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chatCompletion(""))
	}))
	defer server.Close()

	client, _ := newOpenAIClient("sk-test", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1"})
	_, err := client.Complete(context.Background(), []Message{User("chunk")})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestOpenAIRejectsConversationWithoutUserTurn(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	client, _ := newOpenAIClient("sk-test", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1"})
	_, err := client.Complete(context.Background(), []Message{System("Summarize.")})
	if !errors.Is(err, ErrNoUserMessage) {
		t.Fatalf("expected ErrNoUserMessage, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatal("expected no request to be sent")
	}
}

func TestOpenAIHonorsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client, err := NewClient("openai", "sk-test", "gpt-4o-mini", WithBaseURL(server.URL+"/v1"), WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	start := time.Now()
	if _, err := client.Complete(context.Background(), []Message{User("chunk")}); err == nil {
		t.Fatal("expected a timeout error")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("timeout not applied, took %v", time.Since(start))
	}
}
