package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const defaultModel = "gpt-4o-mini"

func newOpenAIClient(opts Options) *openai.Client {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	cfg.HTTPClient = opts.HTTPClient
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = DefaultHTTPClient(opts.Timeout)
	}
	return openai.NewClientWithConfig(cfg)
}

func modelOrDefault(m string) string {
	if strings.TrimSpace(m) == "" {
		return defaultModel
	}
	return m
}

// OpenAIChat talks to the chat completions endpoint.
type OpenAIChat struct {
	client *openai.Client
	model  string
}

// NewOpenAIChat builds a chat-completions adapter.
func NewOpenAIChat(opts Options) *OpenAIChat {
	return &OpenAIChat{client: newOpenAIClient(opts), model: modelOrDefault(opts.Model)}
}

func (l *OpenAIChat) complete(ctx context.Context, system, user string, temperature float32) (string, error) {
	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: l.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ConvertCalendarInput implements Delegate.
func (l *OpenAIChat) ConvertCalendarInput(ctx context.Context, freeText string) (json.RawMessage, error) {
	text, err := l.complete(ctx, calendarSystemPrompt, calendarUserPrompt(freeText), calendarTemperature)
	if err != nil {
		return nil, err
	}
	return payloadFromText(text)
}

// AnswerAvailabilityQuery implements Delegate.
func (l *OpenAIChat) AnswerAvailabilityQuery(ctx context.Context, question string, calendars []CalendarEntry) (string, error) {
	user, err := queryUserPrompt(question, calendars)
	if err != nil {
		return "", err
	}
	return l.complete(ctx, querySystemPrompt, user, queryTemperature)
}

// OpenAICompletion talks to the legacy text completions endpoint. The system
// prompt is prepended to the user prompt since the endpoint has no roles.
type OpenAICompletion struct {
	client    *openai.Client
	model     string
	maxTokens int
}

// NewOpenAICompletion builds a legacy-completions adapter.
func NewOpenAICompletion(opts Options) *OpenAICompletion {
	model := opts.Model
	if strings.TrimSpace(model) == "" {
		model = openai.GPT3Dot5TurboInstruct
	}
	return &OpenAICompletion{client: newOpenAIClient(opts), model: model, maxTokens: 1024}
}

func (l *OpenAICompletion) complete(ctx context.Context, system, user string, temperature float32) (string, error) {
	resp, err := l.client.CreateCompletion(ctx, openai.CompletionRequest{
		Model:       l.model,
		Prompt:      system + "\n\n" + user + "\n\n",
		Temperature: temperature,
		MaxTokens:   l.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Text)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// ConvertCalendarInput implements Delegate.
func (l *OpenAICompletion) ConvertCalendarInput(ctx context.Context, freeText string) (json.RawMessage, error) {
	text, err := l.complete(ctx, calendarSystemPrompt, calendarUserPrompt(freeText), calendarTemperature)
	if err != nil {
		return nil, err
	}
	return payloadFromText(text)
}

// AnswerAvailabilityQuery implements Delegate.
func (l *OpenAICompletion) AnswerAvailabilityQuery(ctx context.Context, question string, calendars []CalendarEntry) (string, error) {
	user, err := queryUserPrompt(question, calendars)
	if err != nil {
		return "", err
	}
	return l.complete(ctx, querySystemPrompt, user, queryTemperature)
}
