package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/llm"
	"github.com/wagiedev/toolhost-go/internal/registry"
)

// DefaultSystemPrompt is used when neither the call nor the configuration
// supplies one.
const DefaultSystemPrompt = `You are the technical assistant of a local tool host.
Answer briefly and precisely, oriented to action, about the tools the host exposes.
Default length: one clear sentence; at most three bullets when asked for detail.
Reply in the user's language. Never invent tools that do not exist; name the closest one instead.`

type chatInput struct {
	Prompt      string        `json:"prompt"`
	Messages    []llm.Message `json:"messages"`
	System      string        `json:"system"`
	Temperature *float64      `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatOutput struct {
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	DurationMs int64  `json:"duration_ms"`
	Text       string `json:"text"`
}

func (l *Local) chatTool() registry.Descriptor {
	schema := registry.Object(map[string]string{
		"prompt":      "string",
		"messages":    "[]object",
		"system":      "string",
		"temperature": "number",
		"max_tokens":  "integer",
	}, "prompt", "messages", "system", "temperature", "max_tokens")

	schema.Properties["temperature"].Minimum = ptr(0.0)
	schema.Properties["temperature"].Maximum = ptr(2.0)
	schema.Properties["max_tokens"].Minimum = ptr(1.0)

	return registry.Descriptor{
		Name:        "llm_chat",
		Description: "Send a prompt or a conversation to the configured chat model and return its reply.",
		InputSchema: schema,
		Handler:     l.handleChat,
	}
}

func (l *Local) handleChat(ctx context.Context, input json.RawMessage) (any, error) {
	in, err := decode[chatInput]("llm_chat", input)
	if err != nil {
		return nil, err
	}

	if in.Prompt == "" && len(in.Messages) == 0 {
		return nil, errors.InvalidParams("llm_chat: prompt or messages is required", nil)
	}

	if l.llm == nil {
		return nil, fmt.Errorf("llm_chat: no chat model configured")
	}

	system := in.System
	if system == "" {
		system = l.systemPrompt
	}

	if system == "" {
		system = DefaultSystemPrompt
	}

	messages := []llm.Message{{Role: llm.RoleSystem, Content: system}}

	if len(in.Messages) > 0 {
		for _, m := range in.Messages {
			if m.Role == llm.RoleSystem {
				continue
			}

			messages = append(messages, m)
		}
	} else {
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: in.Prompt})
	}

	resp, err := l.llm.Chat(ctx, llm.Request{
		Messages:    messages,
		Temperature: in.Temperature,
		MaxTokens:   in.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("llm_chat: %w", err)
	}

	return chatOutput{
		Provider:   "openai-compatible",
		Model:      resp.Model,
		DurationMs: resp.Duration.Milliseconds(),
		Text:       resp.Text,
	}, nil
}
