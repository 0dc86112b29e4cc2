package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestOpenAIProviderChat(t *testing.T) {
	var gotAuth string
	var gotReq ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(`{"id":"cmpl-1","model":"mistral-large-latest","choices":[{"message":{"role":"assistant","content":"ok"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(ProviderConfig{ID: "m", Type: "mistral", Endpoint: srv.URL, APIKey: "k"}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Model:    "mistral-large-latest",
		Messages: []Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "ok" || resp.ID != "cmpl-1" || resp.Usage.TotalTokens != 4 {
		t.Errorf("unexpected response %+v", resp)
	}
	if gotAuth != "Bearer k" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
		t.Errorf("request messages = %+v", gotReq.Messages)
	}
}

func TestOpenAIProviderDefaultsToMistralEndpoint(t *testing.T) {
	p := NewOpenAIProvider(ProviderConfig{ID: "m", Type: "mistral"}, zap.NewNop())
	if p.config.Endpoint != mistralEndpoint {
		t.Errorf("endpoint = %s", p.config.Endpoint)
	}
}

func TestOpenAIProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer bad" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer srv.Close()

	bad := NewOpenAIProvider(ProviderConfig{ID: "a", Endpoint: srv.URL, APIKey: "bad"}, zap.NewNop())
	_, err := bad.Chat(context.Background(), &ChatRequest{Model: "m"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("err = %v, want APIError 401", err)
	}

	empty := NewOpenAIProvider(ProviderConfig{ID: "b", Endpoint: srv.URL, APIKey: "good"}, zap.NewNop())
	if _, err := empty.Chat(context.Background(), &ChatRequest{Model: "m"}); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("err = %v, want ErrEmptyResponse", err)
	}
}

func TestAnthropicProviderSplitsSystemMessage(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("missing version header")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"id":"msg_1","model":"claude","content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}],"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":2}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(ProviderConfig{ID: "c", Endpoint: srv.URL, APIKey: "k"}, zap.NewNop())
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Model:    "claude",
		Messages: []Message{{Role: "system", Content: "be brief"}, {Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hello world" || resp.Usage.TotalTokens != 7 {
		t.Errorf("response = %+v", resp)
	}
	if got.System != "be brief" || len(got.Messages) != 1 || got.MaxTokens != 4096 {
		t.Errorf("converted request = %+v", got)
	}
}

type stubProvider struct {
	id    string
	calls atomic.Int32
	err   error
	reply string
}

func (s *stubProvider) ID() string   { return s.id }
func (s *stubProvider) Name() string { return s.id }
func (s *stubProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &ChatResponse{Content: s.reply}, nil
}
func (s *stubProvider) HealthCheck(context.Context) error { return nil }

func TestRouterBindingAndFallback(t *testing.T) {
	r := NewRouter(zap.NewNop(), BreakerSettings{})
	primary := &stubProvider{id: "primary", err: errors.New("boom")}
	backup := &stubProvider{id: "backup", reply: "from backup"}
	r.Register(primary)
	r.Register(backup)
	r.SetFallbacks("agent", []string{"backup"})

	resp, err := r.Route(context.Background(), "agent", &ChatRequest{})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if resp.Content != "from backup" {
		t.Errorf("content = %q", resp.Content)
	}
	if primary.calls.Load() != 1 || backup.calls.Load() != 1 {
		t.Errorf("calls primary=%d backup=%d, want one each", primary.calls.Load(), backup.calls.Load())
	}

	r.Bind("other", "backup")
	if _, err := r.Route(context.Background(), "other", &ChatRequest{}); err != nil {
		t.Fatalf("bound route: %v", err)
	}
	if primary.calls.Load() != 1 {
		t.Error("bound agent should not touch the default provider")
	}
}

func TestRouterSingleProviderErrorIsUnwrapped(t *testing.T) {
	boom := errors.New("boom")
	r := NewRouter(zap.NewNop(), BreakerSettings{})
	r.Register(&stubProvider{id: "only", err: boom})

	_, err := r.Route(context.Background(), "agent", &ChatRequest{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestRouterNoProvider(t *testing.T) {
	r := NewRouter(zap.NewNop(), BreakerSettings{})
	if _, err := r.Route(context.Background(), "agent", &ChatRequest{}); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("err = %v, want ErrNoProvider", err)
	}
}

func TestRouterBreakerOpens(t *testing.T) {
	r := NewRouter(zap.NewNop(), BreakerSettings{
		Enabled:      true,
		MinRequests:  2,
		FailureRatio: 0.5,
		OpenTimeout:  time.Minute,
	})
	flaky := &stubProvider{id: "flaky", err: &APIError{StatusCode: 503, Body: "down"}}
	r.Register(flaky)

	for i := 0; i < 2; i++ {
		if _, err := r.Route(context.Background(), "agent", &ChatRequest{}); err == nil {
			t.Fatal("expected failure")
		}
	}
	_, err := r.Route(context.Background(), "agent", &ChatRequest{})
	if !IsCircuitOpen(err) {
		t.Fatalf("err = %v, want open circuit", err)
	}
	if flaky.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (third short-circuited)", flaky.calls.Load())
	}
}

func TestCountsAsFailure(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{&APIError{StatusCode: 400}, false},
		{&APIError{StatusCode: 429}, true},
		{&APIError{StatusCode: 502}, true},
		{context.DeadlineExceeded, true},
	}
	for _, c := range cases {
		if got := countsAsFailure(c.err); got != c.want {
			t.Errorf("countsAsFailure(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestNewByType(t *testing.T) {
	if p, err := New(ProviderConfig{ID: "a", Type: "anthropic"}, zap.NewNop()); err != nil {
		t.Fatal(err)
	} else if _, ok := p.(*AnthropicProvider); !ok {
		t.Errorf("type = %T", p)
	}
	if _, err := New(ProviderConfig{ID: "x", Type: "carrier-pigeon"}, zap.NewNop()); err == nil {
		t.Error("expected unknown type error")
	}
}
