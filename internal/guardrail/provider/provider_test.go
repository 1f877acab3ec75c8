package provider

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"
)

// --- Anthropic ---

type fakeMessages struct {
	resp    *sdk.Message
	err     error
	lastReq sdk.MessageNewParams
}

func (f *fakeMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	f.lastReq = body
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestNewAnthropicRequiresMessagesClientAndModel(t *testing.T) {
	_, err := NewAnthropic(AnthropicOptions{DefaultModel: "claude-x"})
	require.Error(t, err)

	_, err = NewAnthropic(AnthropicOptions{Messages: &fakeMessages{}})
	require.Error(t, err)
}

func TestNewAnthropicDefaultsMaxTokens(t *testing.T) {
	c, err := NewAnthropic(AnthropicOptions{Messages: &fakeMessages{}, DefaultModel: "claude-x"})
	require.NoError(t, err)
	require.Equal(t, int64(4096), c.maxToken)
}

func TestNewAnthropicFromAPIKeyRejectsEmptyKey(t *testing.T) {
	_, err := NewAnthropicFromAPIKey("", "claude-x")
	require.Error(t, err)
}

func TestAnthropicCompleteJoinsTextBlocksAndReportsUsage(t *testing.T) {
	fake := &fakeMessages{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "hello "},
			{Type: "text", Text: "world"},
		},
		Usage: sdk.Usage{InputTokens: 12, OutputTokens: 34},
	}}
	c, err := NewAnthropic(AnthropicOptions{Messages: fake, DefaultModel: "claude-x"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), Request{System: "be careful", Prompt: "scan example.com", Temperature: 0.1})
	require.NoError(t, err)
	require.Equal(t, "hello world", resp.Text)
	require.Equal(t, 12, resp.InputTokens)
	require.Equal(t, 34, resp.OutputTokens)
	require.Len(t, fake.lastReq.System, 1)
	require.Equal(t, "be careful", fake.lastReq.System[0].Text)
}

func TestAnthropicCompleteWrapsSDKError(t *testing.T) {
	fake := &fakeMessages{err: errors.New("rate limited")}
	c, err := NewAnthropic(AnthropicOptions{Messages: fake, DefaultModel: "claude-x"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Prompt: "scan"})
	require.Error(t, err)
}

func TestAnthropicCompleteHonorsRequestMaxTokensOverride(t *testing.T) {
	fake := &fakeMessages{resp: &sdk.Message{}}
	c, err := NewAnthropic(AnthropicOptions{Messages: fake, DefaultModel: "claude-x", MaxTokens: 100})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Prompt: "scan", MaxTokens: 500})
	require.NoError(t, err)
	require.Equal(t, int64(500), fake.lastReq.MaxTokens)
}

// --- Bedrock ---

type fakeRuntime struct {
	out     *bedrockruntime.ConverseOutput
	err     error
	lastReq *bedrockruntime.ConverseInput
}

func (f *fakeRuntime) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.lastReq = params
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func TestNewBedrockRequiresRuntimeClientAndModel(t *testing.T) {
	_, err := NewBedrock(BedrockOptions{DefaultModel: "anthropic.claude-x"})
	require.Error(t, err)

	_, err = NewBedrock(BedrockOptions{Runtime: &fakeRuntime{}})
	require.Error(t, err)
}

func TestBedrockCompleteExtractsTextAndUsage(t *testing.T) {
	fake := &fakeRuntime{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role: brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: "scan complete"},
				},
			},
		},
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(7),
			OutputTokens: aws.Int32(9),
		},
	}}
	c, err := NewBedrock(BedrockOptions{Runtime: fake, DefaultModel: "anthropic.claude-x"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), Request{System: "be careful", Prompt: "scan example.com", Temperature: 0.2})
	require.NoError(t, err)
	require.Equal(t, "scan complete", resp.Text)
	require.Equal(t, 7, resp.InputTokens)
	require.Equal(t, 9, resp.OutputTokens)
	require.Len(t, fake.lastReq.System, 1)
}

func TestBedrockCompleteWrapsRuntimeError(t *testing.T) {
	fake := &fakeRuntime{err: errors.New("throttled")}
	c, err := NewBedrock(BedrockOptions{Runtime: fake, DefaultModel: "anthropic.claude-x"})
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), Request{Prompt: "scan"})
	require.Error(t, err)
}

func TestBedrockCompleteHandlesMissingUsage(t *testing.T) {
	fake := &fakeRuntime{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{}},
	}}
	c, err := NewBedrock(BedrockOptions{Runtime: fake, DefaultModel: "anthropic.claude-x"})
	require.NoError(t, err)

	resp, err := c.Complete(context.Background(), Request{Prompt: "scan"})
	require.NoError(t, err)
	require.Equal(t, 0, resp.InputTokens)
}

// --- OpenAI ---

func TestNewOpenAIRequiresDefaultModel(t *testing.T) {
	_, err := NewOpenAI(OpenAIOptions{})
	require.Error(t, err)
}

func TestNewOpenAIDefaultsMaxTokens(t *testing.T) {
	c, err := NewOpenAI(OpenAIOptions{DefaultModel: "gpt-x"})
	require.NoError(t, err)
	require.Equal(t, int64(4096), c.maxToken)
}

func TestNewOpenAIFromAPIKeyRejectsEmptyKey(t *testing.T) {
	_, err := NewOpenAIFromAPIKey("", "gpt-x")
	require.Error(t, err)
}
