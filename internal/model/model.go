// Package model sends prompts to a language model and classifies its failures.
package model

import (
	"context"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/docplan/internal/parser"
)

// Model is the minimal text-in, text-out contract the engine needs.
// An empty reply with a nil error is treated as a token-limit failure by Caller.
type Model interface {
	Send(ctx context.Context, prompt string, tools []llm.ToolDef) (string, error)
}

// Func adapts a function to Model.
type Func func(ctx context.Context, prompt string, tools []llm.ToolDef) (string, error)

// Send implements Model.
func (f Func) Send(ctx context.Context, prompt string, tools []llm.ToolDef) (string, error) {
	return f(ctx, prompt, tools)
}

// ProviderModel adapts an agentkit llm.Provider to Model.
type ProviderModel struct {
	provider llm.Provider
	system   string
	logger   *logging.Logger
}

var _ Model = (*ProviderModel)(nil)

// NewProviderModel wraps provider. system, when set, is sent as the system message.
func NewProviderModel(provider llm.Provider, system string) *ProviderModel {
	return &ProviderModel{
		provider: provider,
		system:   system,
		logger:   logging.New().WithComponent("model"),
	}
}

// Send issues a single chat request. Native tool calls in the response are
// serialized into the JSON shape the parser accepts.
func (m *ProviderModel) Send(ctx context.Context, prompt string, tools []llm.ToolDef) (string, error) {
	var messages []llm.Message
	if m.system != "" {
		messages = append(messages, llm.Message{Role: "system", Content: m.system})
	}
	messages = append(messages, llm.Message{Role: "user", Content: prompt})

	resp, err := m.provider.Chat(ctx, llm.ChatRequest{Messages: messages, Tools: tools})
	if err != nil {
		return "", err
	}

	m.logger.Debug("model response", map[string]interface{}{
		"model":      resp.Model,
		"tokens_in":  resp.InputTokens,
		"tokens_out": resp.OutputTokens,
		"tool_calls": len(resp.ToolCalls),
	})

	if len(resp.ToolCalls) == 0 {
		return resp.Content, nil
	}
	calls := make([]parser.ToolCall, 0, len(resp.ToolCalls))
	for _, tc := range resp.ToolCalls {
		calls = append(calls, parser.ToolCall{Name: tc.Name, Args: tc.Args})
	}
	return parser.Format(resp.Content, calls), nil
}
