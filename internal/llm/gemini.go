// ABOUTME: Completer backed by Google Gemini through the genai SDK.
// ABOUTME: Supports both the Gemini API (API key) and Vertex AI backends.

package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// DefaultGeminiModel is used when GeminiConfig.Model is empty.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig configures a GeminiClient. When Project is set the Vertex AI
// backend is used; otherwise APIKey selects the Gemini API.
type GeminiConfig struct {
	APIKey      string
	Project     string
	Location    string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int32
}

// GeminiClient implements Completer over genai.
type GeminiClient struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
}

// NewGeminiClient creates a Gemini client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Project != "" {
		clientCfg = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	}
	clientCfg.HTTPOptions.BaseURL = cfg.BaseURL

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	temp := cfg.Temperature
	if temp == 0 {
		temp = DefaultTemperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxTokens
	}

	return &GeminiClient{
		client:      client,
		model:       model,
		temperature: temp,
		maxTokens:   maxTokens,
	}, nil
}

// Complete generates a single-turn completion.
func (g *GeminiClient) Complete(ctx context.Context, prompt, system string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", &ServiceError{Provider: "gemini", Err: ErrEmptyPrompt}
	}

	temp := g.temperature
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: g.maxTokens,
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	res, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", &ServiceError{Provider: "gemini", Err: err}
	}

	text := res.Text()
	if text == "" {
		return "", &ServiceError{Provider: "gemini", Err: fmt.Errorf("empty completion")}
	}
	return text, nil
}
