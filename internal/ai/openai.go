package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAI calls an OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	client    openai.Client
	model     string
	maxTokens int
}

// NewOpenAI creates an OpenAI backend. baseURL may point at any
// compatible server.
func NewOpenAI(apiKey, modelName, baseURL string, maxTokens int, httpClient *http.Client) *OpenAI {
	if modelName == "" {
		modelName = defaultOpenAIModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}

	return &OpenAI{
		client:    openai.NewClient(opts...),
		model:     modelName,
		maxTokens: maxTokens,
	}
}

// Complete sends one system and one user message.
func (o *OpenAI) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(o.model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(o.maxTokens)),
	})
	if err != nil {
		return "", fmt.Errorf("calling OpenAI API: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai API returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Ping lists models.
func (o *OpenAI) Ping(ctx context.Context) error {
	if _, err := o.client.Models.List(ctx); err != nil {
		return fmt.Errorf("reaching OpenAI API: %w", err)
	}
	return nil
}
