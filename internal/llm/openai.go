// ABOUTME: Completer backed by an OpenAI-compatible chat completion endpoint.
// ABOUTME: Used with Groq by pointing BaseURL at its OpenAI-compatible API.

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Defaults match the hosted Groq deployment.
const (
	DefaultGroqBaseURL = "https://api.groq.com/openai/v1"
	DefaultGroqModel   = "llama3-8b-8192"
	DefaultTemperature = float32(0.7)
	DefaultMaxTokens   = 1000
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
}

// OpenAIClient implements Completer over the chat completion API.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	provider    string
}

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	provider := "openai"
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
		provider = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultGroqModel
	}
	temp := cfg.Temperature
	if temp == 0 {
		temp = DefaultTemperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: temp,
		maxTokens:   maxTokens,
		provider:    provider,
	}
}

// Complete sends the prompts as a two-message chat and returns the first choice.
func (c *OpenAIClient) Complete(ctx context.Context, prompt, system string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", &ServiceError{Provider: c.provider, Err: ErrEmptyPrompt}
	}

	var msgs []openai.ChatCompletionMessage
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    msgs,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		serr := &ServiceError{Provider: c.provider, Err: err}
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			serr.Status = apiErr.HTTPStatusCode
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) {
			serr.Status = reqErr.HTTPStatusCode
		}
		return "", serr
	}

	if len(resp.Choices) == 0 {
		return "", &ServiceError{Provider: c.provider, Err: fmt.Errorf("no choices in response")}
	}
	return resp.Choices[0].Message.Content, nil
}
