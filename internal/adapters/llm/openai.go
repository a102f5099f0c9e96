// Package llm реализует генерацию текста через OpenAI Chat Completions.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"tg-feed-digest/internal/domain"
	"tg-feed-digest/internal/infra/metrics"
)

// Options настраивают клиента OpenAI.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAI реализует domain.TextGenerator.
type OpenAI struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
}

var _ domain.TextGenerator = (*OpenAI)(nil)

// NewOpenAI создаёт провайдер генерации.
func NewOpenAI(opts Options) *OpenAI {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	model := opts.Model
	if model == "" {
		model = "gpt-4.1-mini"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{
		client:  openai.NewClientWithConfig(cfg),
		model:   model,
		timeout: timeout,
		limiter: rate.NewLimiter(rate.Every(time.Second), 2),
	}
}

// GenerateText выполняет один запрос к модели и возвращает содержимое
// первого варианта ответа. Модель просят отвечать строгим JSON.
func (o *OpenAI) GenerateText(ctx context.Context, prompt, language string) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("ожидание лимитера: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	system := "Ты помощник-редактор дайджестов. Сохраняй факты из текста и не выдумывай ничего нового."
	if language != "" {
		system += " Отвечай на языке: " + language + "."
	}

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.2,
		MaxTokens:   1200,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	metrics.ObserveLLMGeneration(o.model, time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai completion: пустой ответ")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
