package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/docplan/internal/parser"
)

type scriptedModel struct {
	replies []string
	errs    []error
	prompts []string
}

func (s *scriptedModel) Send(ctx context.Context, prompt string, tools []llm.ToolDef) (string, error) {
	i := len(s.prompts)
	s.prompts = append(s.prompts, prompt)
	var text string
	var err error
	if i < len(s.replies) {
		text = s.replies[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return text, err
}

func fastPolicy() Policy {
	p := DefaultPolicy()
	p.InitialBackoff = time.Millisecond
	p.MaxBackoff = 2 * time.Millisecond
	return p
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{ErrEmptyResponse, ClassTokenLimit},
		{fmt.Errorf("step 3: %w", ErrTokenLimit), ClassTokenLimit},
		{errors.New("prompt is too long: 210000 tokens > 200000 maximum"), ClassTokenLimit},
		{errors.New("401 Unauthorized: invalid api key"), ClassAuth},
		{errors.New("503 Service Unavailable"), ClassServer},
		{errors.New("provider overloaded"), ClassServer},
		{errors.New("model not found: gpt-9"), ClassConfig},
		{errors.New("dial tcp: connection refused"), ClassNetwork},
		{context.DeadlineExceeded, ClassNetwork},
		{errors.New("something odd"), ClassUnknown},
		{&Error{Class: ClassAuth, Err: errors.New("x")}, ClassAuth},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestCallSuccessFirstTry(t *testing.T) {
	m := &scriptedModel{replies: []string{"ok"}}
	text, err := NewCaller(fastPolicy()).Call(context.Background(), m, func() string { return "p" }, nil, nil)
	if err != nil || text != "ok" {
		t.Fatalf("unexpected result: %q, %v", text, err)
	}
	if len(m.prompts) != 1 {
		t.Errorf("expected 1 attempt, got %d", len(m.prompts))
	}
}

func TestCallEmptyResponsesExhaust(t *testing.T) {
	m := &scriptedModel{replies: []string{"", "  ", ""}}
	warnings := 0
	build := func() string { return fmt.Sprintf("prompt with %d warnings", warnings) }
	onRetry := func(r Retry) {
		if r.Class != ClassTokenLimit {
			t.Errorf("expected token_limit retry, got %s", r.Class)
		}
		warnings++
	}

	_, err := NewCaller(fastPolicy()).Call(context.Background(), m, build, nil, onRetry)

	var me *Error
	if !errors.As(err, &me) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if me.Class != ClassTokenLimit || me.Attempts != 3 {
		t.Errorf("unexpected error: %+v", me)
	}
	if !errors.Is(err, ErrEmptyResponse) {
		t.Error("expected ErrEmptyResponse in chain")
	}
	if len(m.prompts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(m.prompts))
	}
	// each retry rebuilds the prompt
	if m.prompts[2] != "prompt with 2 warnings" {
		t.Errorf("prompt not rebuilt: %q", m.prompts[2])
	}
}

func TestCallNetworkRecovers(t *testing.T) {
	m := &scriptedModel{
		replies: []string{"", "", "done"},
		errs:    []error{errors.New("connection reset by peer"), errors.New("i/o timeout"), nil},
	}
	text, err := NewCaller(fastPolicy()).Call(context.Background(), m, func() string { return "p" }, nil, nil)
	if err != nil || text != "done" {
		t.Fatalf("expected recovery, got %q, %v", text, err)
	}
}

func TestCallAuthNotRetried(t *testing.T) {
	m := &scriptedModel{errs: []error{errors.New("401 unauthorized")}}
	retried := false
	_, err := NewCaller(fastPolicy()).Call(context.Background(), m, func() string { return "p" }, nil, func(Retry) { retried = true })

	var me *Error
	if !errors.As(err, &me) || me.Class != ClassAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
	if retried || len(m.prompts) != 1 {
		t.Errorf("auth errors must not be retried (attempts=%d)", len(m.prompts))
	}
	if !strings.Contains(me.Hint(), "API key") {
		t.Errorf("unexpected hint: %s", me.Hint())
	}
}

func TestCallServerRetriedOnce(t *testing.T) {
	m := &scriptedModel{errs: []error{errors.New("502 bad gateway"), errors.New("502 bad gateway"), nil}, replies: []string{"", "", "late"}}
	_, err := NewCaller(fastPolicy()).Call(context.Background(), m, func() string { return "p" }, nil, nil)

	var me *Error
	if !errors.As(err, &me) || me.Class != ClassServer {
		t.Fatalf("expected server error, got %v", err)
	}
	if len(m.prompts) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(m.prompts))
	}
}

func TestCallCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := Func(func(ctx context.Context, prompt string, tools []llm.ToolDef) (string, error) {
		cancel()
		return "", errors.New("connection reset")
	})
	_, err := NewCaller(fastPolicy()).Call(ctx, m, func() string { return "p" }, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

// chatOnly satisfies llm.Provider and nothing more.
type chatOnly struct{ content string }

func (c chatOnly) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: c.content}, nil
}

func TestProviderModelNeedsOnlyChat(t *testing.T) {
	var m Model = NewProviderModel(chatOnly{content: "done"}, "")
	text, err := m.Send(context.Background(), "summarize", nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if text != "done" {
		t.Errorf("unexpected text: %q", text)
	}
}

func TestProviderModelText(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.SetResponse("plain answer")

	m := NewProviderModel(provider, "You are a specialist.")
	text, err := m.Send(context.Background(), "write the intro", nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if text != "plain answer" {
		t.Errorf("unexpected text: %q", text)
	}

	req := provider.LastRequest()
	if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "write the intro" {
		t.Errorf("unexpected request: %+v", req.Messages)
	}
}

func TestProviderModelNativeToolCalls(t *testing.T) {
	provider := llm.NewMockProvider()
	provider.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{
			Content: "reading first",
			ToolCalls: []llm.ToolCallResponse{
				{ID: "tc-1", Name: "read", Args: map[string]interface{}{"path": "spec.md"}},
			},
		}, nil
	}

	text, err := NewProviderModel(provider, "").Send(context.Background(), "go", nil)
	if err != nil {
		t.Fatal(err)
	}
	r := parser.Parse(text)
	if len(r.ToolCalls) != 1 || r.ToolCalls[0].Name != "read" || r.ToolCalls[0].Args["path"] != "spec.md" {
		t.Errorf("native tool calls not preserved: %+v", r)
	}
	if r.Content != "reading first" {
		t.Errorf("content lost: %q", r.Content)
	}
}
