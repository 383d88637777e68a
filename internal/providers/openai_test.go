package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestOpenAIChat(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer gsk" {
			t.Errorf("auth = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"model":"llama","choices":[{"message":{"role":"assistant","content":"yo"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("groq", "gsk", srv.URL+"/", "llama")
	resp, err := p.Chat(context.Background(), ChatRequest{
		System:      "be brief",
		Messages:    []Message{{Role: RoleUser, Content: "hi", Images: []ImageContent{{MimeType: "image/jpeg", Data: "AAAA"}}}},
		MaxTokens:   64,
		Temperature: 0.5,
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "yo" || resp.Usage.TotalTokens != 4 {
		t.Errorf("resp = %+v", resp)
	}

	if got["model"] != "llama" || got["max_tokens"] != float64(64) {
		t.Errorf("body = %v", got)
	}
	msgs := got["messages"].([]interface{})
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", msgs)
	}
	if sys := msgs[0].(map[string]interface{}); sys["role"] != "system" || sys["content"] != "be brief" {
		t.Errorf("system message = %v", sys)
	}
	parts := msgs[1].(map[string]interface{})["content"].([]interface{})
	if len(parts) != 2 {
		t.Fatalf("parts = %v", parts)
	}
	img := parts[1].(map[string]interface{})["image_url"].(map[string]interface{})
	if img["url"] != "data:image/jpeg;base64,AAAA" {
		t.Errorf("image url = %v", img["url"])
	}
}

func TestOpenAIHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("groq", "k", srv.URL, "m")
	_, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("err = %v, want HTTPError", err)
	}
	if he.Status != http.StatusTooManyRequests || !strings.Contains(he.Body, "slow down") {
		t.Errorf("HTTPError = %+v", he)
	}
}

func TestResolveModel(t *testing.T) {
	or := NewOpenAIProvider("openrouter", "", "", "meta/llama")
	if got := or.resolveModel("gpt-4o"); got != "meta/llama" {
		t.Errorf("unprefixed openrouter model = %q", got)
	}
	if got := or.resolveModel("openai/gpt-4o"); got != "openai/gpt-4o" {
		t.Errorf("prefixed model = %q", got)
	}
	oa := NewOpenAIProvider("openai", "", "", "gpt-4o")
	if got := oa.resolveModel(""); got != "gpt-4o" {
		t.Errorf("empty model = %q", got)
	}
}

func TestRateLimitedProvider(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	p := WithRateLimit(NewOpenAIProvider("openai", "", srv.URL, "m"), 1)
	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatalf("first call: %v", err)
	}

	// The second token is a minute away; a cancelled context must not wait.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Chat(ctx, ChatRequest{}); err == nil {
		t.Fatal("expected rate limit wait error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if WithRateLimit(p, 0) != p {
		t.Error("rpm 0 should return provider unchanged")
	}
}
