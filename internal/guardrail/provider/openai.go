package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIOptions configures OpenAIClient.
type OpenAIOptions struct {
	// Client is a pre-built openai.Client. If unset, NewOpenAIFromAPIKey builds
	// one from an API key.
	Client       openai.Client
	DefaultModel string
	MaxTokens    int64
}

// OpenAIClient implements Client via OpenAI's Chat Completions API.
type OpenAIClient struct {
	client   openai.Client
	model    string
	maxToken int64
}

// NewOpenAI builds a Client from a pre-constructed openai.Client.
func NewOpenAI(opts OpenAIOptions) (*OpenAIClient, error) {
	if opts.DefaultModel == "" {
		return nil, errors.New("provider: openai default model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &OpenAIClient{client: opts.Client, model: opts.DefaultModel, maxToken: maxTokens}, nil
}

// NewOpenAIFromAPIKey constructs a Client authenticated with apiKey.
func NewOpenAIFromAPIKey(apiKey, defaultModel string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("provider: openai api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAI(OpenAIOptions{Client: c, DefaultModel: defaultModel})
}

// Complete implements Client.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Response, error) {
	maxTokens := c.maxToken
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("provider: openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, errors.New("provider: openai response had no choices")
	}
	return Response{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}
