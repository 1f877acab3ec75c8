// Package provider adapts concrete LLM SDKs (Anthropic, OpenAI, AWS
// Bedrock) behind a single narrow Client interface the Guardrail Loop calls
// once per turn. Unlike the lineage's model.Client, this interface is
// single-shot text-in/text-out: the Guardrail Loop's prompt already encodes
// tool definitions as text and expects a single JSON object
// back, so there is no tool-calling or streaming protocol to adapt.
package provider

import "context"

type (
	// Request is one guardrail turn sent to the model.
	Request struct {
		// System is the static identity/prime-directives block.
		System string
		// Prompt is the remaining assembled blocks (memory, tools, scope/budget,
		// objective, previous observation) joined into one user turn.
		Prompt string
		// MaxTokens bounds the completion length. Zero uses the adapter's default.
		MaxTokens int
		// Temperature controls sampling. Adapters should favor low values (near
		// zero) for this use case: the output is a strict JSON contract, not
		// creative text.
		Temperature float64
	}

	// Response is the model's raw completion plus token accounting for cost
	// estimation (internal/budget's cost table).
	Response struct {
		Text         string
		InputTokens  int
		OutputTokens int
	}

	// Client is implemented by each provider adapter.
	Client interface {
		Complete(ctx context.Context, req Request) (Response, error)
	}
)
