package provider

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// MessagesClient is the subset of the Anthropic SDK used by AnthropicClient,
// satisfied by *sdk.MessageService so tests can substitute a fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicOptions configures AnthropicClient.
type AnthropicOptions struct {
	Messages     MessagesClient
	DefaultModel string
	MaxTokens    int64
}

// AnthropicClient implements Client via Anthropic's Messages API.
type AnthropicClient struct {
	msg      MessagesClient
	model    string
	maxToken int64
}

// NewAnthropic builds a Client from a pre-constructed Messages client.
func NewAnthropic(opts AnthropicOptions) (*AnthropicClient, error) {
	if opts.Messages == nil {
		return nil, errors.New("provider: anthropic messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("provider: anthropic default model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicClient{msg: opts.Messages, model: opts.DefaultModel, maxToken: maxTokens}, nil
}

// NewAnthropicFromAPIKey constructs a Client using the SDK's default HTTP
// client, authenticated with apiKey.
func NewAnthropicFromAPIKey(apiKey, defaultModel string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("provider: anthropic api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropic(AnthropicOptions{Messages: &c.Messages, DefaultModel: defaultModel})
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	maxTokens := c.maxToken
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("provider: anthropic messages.new: %w", err)
	}
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return Response{
		Text:         text,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}
