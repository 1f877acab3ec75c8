package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// RuntimeClient is the subset of the AWS Bedrock runtime client used by
// BedrockClient, satisfied by *bedrockruntime.Client so tests can substitute
// a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockOptions configures BedrockClient.
type BedrockOptions struct {
	Runtime      RuntimeClient
	DefaultModel string
	MaxTokens    int
}

// BedrockClient implements Client via AWS Bedrock's Converse API.
type BedrockClient struct {
	runtime  RuntimeClient
	model    string
	maxToken int
}

// NewBedrock builds a Client from a pre-constructed Bedrock runtime client.
func NewBedrock(opts BedrockOptions) (*BedrockClient, error) {
	if opts.Runtime == nil {
		return nil, errors.New("provider: bedrock runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("provider: bedrock default model is required")
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &BedrockClient{runtime: opts.Runtime, model: opts.DefaultModel, maxToken: maxTokens}, nil
}

// Complete implements Client.
func (c *BedrockClient) Complete(ctx context.Context, req Request) (Response, error) {
	maxTokens := c.maxToken
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.model),
		Messages: []brtypes.Message{
			{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: req.Prompt},
				},
			},
		},
		InferenceConfig: &brtypes.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokens)),
		},
	}
	if req.System != "" {
		input.System = []brtypes.SystemContentBlock{
			&brtypes.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if req.Temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(req.Temperature))
	}

	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return Response{}, fmt.Errorf("provider: bedrock converse: %w", err)
	}

	var text string
	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
				text += tb.Value
			}
		}
	}
	resp := Response{Text: text}
	if output.Usage != nil {
		resp.InputTokens = int(aws.ToInt32(output.Usage.InputTokens))
		resp.OutputTokens = int(aws.ToInt32(output.Usage.OutputTokens))
	}
	return resp, nil
}
