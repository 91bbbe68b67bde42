package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const completionsPath = "/chat/completions"

// Role names used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a chat completion request.
type Request struct {
	Messages    []Message
	Temperature *float64
	MaxTokens   int
}

// Response is the assistant reply with usage counters.
type Response struct {
	Text             string
	Model            string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	Duration         time.Duration
}

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client talks to a chat completions endpoint.
type Client struct {
	log  *slog.Logger
	cfg  Config
	http *http.Client
}

// New creates a client. BaseURL includes the API version prefix, for
// example "http://localhost:11434/v1".
func New(log *slog.Logger, cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		log:  log.With("component", "llm"),
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Chat sends the conversation and returns the first choice.
func (c *Client) Chat(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("llm: no messages")
	}

	payload := apiRequest{
		Model:     c.cfg.Model,
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	}

	if payload.MaxTokens <= 0 {
		payload.MaxTokens = c.cfg.MaxTokens
	}

	temp := c.cfg.Temperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}

	payload.Temperature = &temp

	start := time.Now()

	var resp apiResponse
	if err := c.postJSON(ctx, completionsPath, payload, &resp); err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("llm: empty choices in response")
	}

	choice := resp.Choices[0]

	out := &Response{
		Text:             choice.Message.Content,
		Model:            resp.Model,
		FinishReason:     choice.FinishReason,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Duration:         time.Since(start),
	}

	if out.Model == "" {
		out.Model = c.cfg.Model
	}

	c.log.Debug("chat completed",
		"model", out.Model,
		"prompt_tokens", out.PromptTokens,
		"completion_tokens", out.CompletionTokens,
		"duration", out.Duration,
	)

	return out, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

// --- wire types ---

type apiRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type apiResponse struct {
	Model   string      `json:"model"`
	Choices []apiChoice `json:"choices"`
	Usage   apiUsage    `json:"usage"`
}

type apiChoice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
