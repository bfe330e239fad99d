// Package generate defines the Provider contract for streaming text
// generation backends.
//
// A generation provider wraps a remote or local language model API and
// exposes a uniform streaming interface for the pipeline coordinator: send a
// system prompt plus bounded conversation history, receive an incremental
// token stream. Aborting a stream is caller-initiated through context
// cancellation.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamReply must be closed by the implementation when the stream ends or
// when the supplied context is cancelled.
package generate

import (
	"context"

	"github.com/MrWong99/voxline/pkg/types"
)

// Usage holds token accounting returned by the backend on stream completion.
// Counts are in the model's native token unit.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the system prompt and
	// conversation history.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the reply.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// Request carries everything the model needs to produce a reply.
type Request struct {
	// SystemPrompt is the high-priority instruction injected before the
	// conversation history.
	SystemPrompt string

	// Turns is the ordered, bounded conversation history. The last turn is
	// the caller utterance that drives the reply.
	Turns []types.Turn

	// Temperature controls output randomness in [0.0, 2.0]. Zero requests
	// the provider default.
	Temperature float64

	// MaxTokens caps the number of reply tokens. Zero means provider default.
	MaxTokens int
}

// Chunk is a single token or fragment emitted by a streaming reply.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty on a
	// terminal chunk.
	Text string

	// FinishReason is set on the final chunk and indicates why generation
	// stopped. Common values are "stop" (natural end), "length" (MaxTokens
	// reached), and "error" (mid-stream provider failure). Empty on non-final
	// chunks.
	FinishReason string

	// Usage carries token accounting when the provider reports it. Non-nil
	// only on the terminal chunk, and only for providers that support usage
	// in streaming mode.
	Usage *Usage
}

// Provider is the abstraction over any text generation backend.
//
// Implementations must be safe for concurrent use from multiple goroutines
// and must propagate context cancellation promptly: when ctx is cancelled the
// stream channel must be closed as quickly as possible.
type Provider interface {
	// StreamReply sends req to the model and returns a read-only channel that
	// emits Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes or ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. Errors that
	// occur after the channel is opened are surfaced as a Chunk with
	// FinishReason "error"; the initial error return is non-nil only for
	// failures that prevent the stream from starting.
	//
	// The returned channel must never be nil when error is nil.
	StreamReply(ctx context.Context, req Request) (<-chan Chunk, error)
}
