package agent

import (
	"context"
	"iter"

	"github.com/stallwart/switchboard/message"
)

// LLMClient defines the interface for inference providers.
type LLMClient interface {
	// Generate produces the assistant reply for the given transcript.
	Generate(ctx context.Context, messages []*message.Message, tools []map[string]any) (*message.Message, error)

	// SetTemperature updates the temperature setting for generation
	SetTemperature(temp float64)

	// SetMaxTokens updates the maximum tokens limit for generation
	SetMaxTokens(max int64)

	// SetModel updates the model to use for generation
	SetModel(model string)
}

// GenerateRequest bundles inputs for a streaming LLM invocation.
type GenerateRequest struct {
	Messages []*message.Message
	Tools    []map[string]any
}

// GenerateResponse is one step of a streaming generation. Intermediate
// steps carry an incremental Delta; the final step carries the complete
// accumulated assistant Message, including any tool calls, and no Delta.
type GenerateResponse struct {
	Delta   string
	Message *message.Message
}

// Final reports whether this step closes the generation.
func (r *GenerateResponse) Final() bool {
	return r != nil && r.Message != nil
}

// StreamLLMClient defines the interface for LLM providers that support streaming
type StreamLLMClient interface {
	LLMClient
	// GenerateStream yields incremental deltas followed by one final response.
	GenerateStream(ctx context.Context, req *GenerateRequest) iter.Seq2[*GenerateResponse, error]
}
