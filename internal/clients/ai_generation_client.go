package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"storyteller/internal/interfaces"
	"storyteller/internal/models"

	"github.com/ollama/ollama/api"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// storySystemPrompt - системный промт для прямой генерации через LLM.
const storySystemPrompt = `You are a storyteller. Write a short, self-contained story (300-500 words) ` +
	`that weaves together every keyword the user provides. Reply with the story text only, ` +
	`no title, no preface, no markdown.`

var (
	_ interfaces.GenerationClient = (*OpenAIGenerationClient)(nil)
	_ interfaces.GenerationClient = (*OllamaGenerationClient)(nil)
)

func storyUserInput(req interfaces.GenerationRequest) string {
	return "Keywords: " + strings.TrimSpace(req.Keywords)
}

// OpenAIGenerationClient генерирует историю через OpenAI-совместимый API (OpenRouter, DeepSeek и т.п.).
type OpenAIGenerationClient struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIGenerationClient создает клиента для OpenAI-совместимого API.
func NewOpenAIGenerationClient(baseURL, apiKey, model string, timeout time.Duration, logger *zap.Logger) *OpenAIGenerationClient {
	openaiConfig := openaigo.DefaultConfig(apiKey)
	if baseURL != "" {
		openaiConfig.BaseURL = baseURL
	}
	openaiConfig.HTTPClient = &http.Client{Timeout: timeout}
	client := openaigo.NewClientWithConfig(openaiConfig)

	logger = logger.Named("OpenAIGenerationClient")
	logger.Info("OpenAI клиент создан", zap.String("base_url", openaiConfig.BaseURL), zap.String("model", model), zap.Duration("timeout", timeout))
	return &OpenAIGenerationClient{client: client, model: model, logger: logger}
}

// Generate implements interfaces.GenerationClient.
func (c *OpenAIGenerationClient) Generate(ctx context.Context, req interfaces.GenerationRequest) (string, error) {
	log := c.logger.With(zap.String("user_id", req.Owner), zap.String("model", c.model))

	startTime := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model: c.model,
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleSystem, Content: storySystemPrompt},
			{Role: openaigo.ChatMessageRoleUser, Content: storyUserInput(req)},
		},
	})
	duration := time.Since(startTime)

	if err != nil {
		log.Error("Ошибка от AI API", zap.Duration("duration", duration), zap.Error(err))
		var apiErr *openaigo.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
			return "", &models.RemoteError{
				StatusCode: apiErr.HTTPStatusCode,
				Status:     http.StatusText(apiErr.HTTPStatusCode),
				Body:       apiErr.Message,
			}
		}
		return "", fmt.Errorf("%w: %w", models.ErrGenerationFailed, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		log.Error("AI API вернул пустой ответ", zap.Duration("duration", duration))
		return "", fmt.Errorf("%w: empty response", models.ErrGenerationFailed)
	}

	story := strings.TrimSpace(resp.Choices[0].Message.Content)
	log.Debug("Ответ от AI API получен",
		zap.Duration("duration", duration),
		zap.Int("story_len", len(story)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return story, nil
}

// OllamaGenerationClient генерирует историю через нативный API Ollama.
type OllamaGenerationClient struct {
	client  *api.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewOllamaGenerationClient создает клиента Ollama. baseURL может оканчиваться на /v1.
func NewOllamaGenerationClient(baseURL, model string, timeout time.Duration, logger *zap.Logger) (*OllamaGenerationClient, error) {
	// api.NewClient требует URL без суффикса /v1
	ollamaBaseURL := strings.TrimSuffix(baseURL, "/")
	ollamaBaseURL = strings.TrimSuffix(ollamaBaseURL, "/v1")

	parsedURL, err := url.Parse(ollamaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга Ollama Base URL '%s': %w", ollamaBaseURL, err)
	}
	client := api.NewClient(parsedURL, &http.Client{Timeout: timeout})

	logger = logger.Named("OllamaGenerationClient")
	logger.Info("Ollama клиент создан", zap.String("base_url", ollamaBaseURL), zap.String("model", model), zap.Duration("timeout", timeout))
	return &OllamaGenerationClient{client: client, model: model, timeout: timeout, logger: logger}, nil
}

// Generate implements interfaces.GenerationClient.
func (c *OllamaGenerationClient) Generate(ctx context.Context, req interfaces.GenerationRequest) (string, error) {
	log := c.logger.With(zap.String("user_id", req.Owner), zap.String("model", c.model))

	stream := false
	chatReq := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{Role: "system", Content: storySystemPrompt},
			{Role: "user", Content: storyUserInput(req)},
		},
		Stream: &stream,
	}

	requestCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		requestCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	startTime := time.Now()
	var resp api.ChatResponse
	err := c.client.Chat(requestCtx, chatReq, func(r api.ChatResponse) error {
		// При Stream=false приходит один полный ответ
		resp = r
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		log.Error("Ошибка от Ollama API", zap.Duration("duration", duration), zap.Error(err))
		var statusErr api.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode > 0 {
			return "", &models.RemoteError{
				StatusCode: statusErr.StatusCode,
				Status:     http.StatusText(statusErr.StatusCode),
				Body:       statusErr.ErrorMessage,
			}
		}
		return "", fmt.Errorf("%w: %w", models.ErrGenerationFailed, err)
	}

	story := strings.TrimSpace(resp.Message.Content)
	if story == "" {
		log.Error("Ollama API вернул пустой ответ", zap.Duration("duration", duration))
		return "", fmt.Errorf("%w: empty response", models.ErrGenerationFailed)
	}

	log.Debug("Ответ от Ollama API получен",
		zap.Duration("duration", duration),
		zap.Int("story_len", len(story)),
		zap.Int("prompt_tokens", resp.PromptEvalCount),
		zap.Int("completion_tokens", resp.EvalCount),
	)
	return story, nil
}
