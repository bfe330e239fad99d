// Package mock provides a test double for the generate.Provider interface.
//
// Use Provider in unit tests to feed controlled token streams into the
// pipeline coordinator without a live model backend.
//
// Example:
//
//	p := &mock.Provider{
//	    Chunks: []generate.Chunk{{Text: "Hello "}, {Text: "there.", FinishReason: "stop"}},
//	}
//	ch, err := p.StreamReply(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxline/pkg/provider/generate"
)

// Compile-time interface check.
var _ generate.Provider = (*Provider)(nil)

// StreamCall records a single invocation of StreamReply.
type StreamCall struct {
	// Ctx is the context passed to StreamReply.
	Ctx context.Context
	// Req is the Request passed to StreamReply.
	Req generate.Request
}

// Provider is a mock implementation of generate.Provider.
// Zero values cause StreamReply to return an immediately-closed channel.
type Provider struct {
	mu sync.Mutex

	// Chunks is the sequence of Chunk values emitted on the returned channel.
	// All chunks are sent before the channel is closed, unless ctx is
	// cancelled first.
	Chunks []generate.Chunk

	// ChunkDelay, when non-nil, is invoked before each chunk is sent. Tests
	// use it to pace the stream (e.g. to win a cancellation race).
	ChunkDelay func(i int)

	// Err, if non-nil, is returned by StreamReply instead of a channel.
	// When ErrAfter > 0, the first ErrAfter calls succeed before Err is
	// returned; use this to exercise retry paths.
	Err      error
	ErrAfter int

	// Calls records every invocation of StreamReply in order.
	Calls []StreamCall
}

// StreamReply implements generate.Provider.
func (p *Provider) StreamReply(ctx context.Context, req generate.Request) (<-chan generate.Chunk, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, StreamCall{Ctx: ctx, Req: req})
	n := len(p.Calls)
	err := p.Err
	after := p.ErrAfter
	chunks := make([]generate.Chunk, len(p.Chunks))
	copy(chunks, p.Chunks)
	delay := p.ChunkDelay
	p.mu.Unlock()

	if err != nil && n > after {
		return nil, err
	}

	ch := make(chan generate.Chunk)
	go func() {
		defer close(ch)
		for i, c := range chunks {
			if delay != nil {
				delay(i)
			}
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// CallCount returns the number of StreamReply invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
