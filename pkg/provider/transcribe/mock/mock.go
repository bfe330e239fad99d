// Package mock provides a test double for the transcribe.Provider interface.
//
// Use Provider in unit tests to feed scripted transcript fragments into the
// segmenter and session without a live recognition backend.
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/voxline/pkg/provider/transcribe"
	"github.com/MrWong99/voxline/pkg/types"
)

// Compile-time interface checks.
var (
	_ transcribe.Provider = (*Provider)(nil)
	_ transcribe.Stream   = (*Stream)(nil)
)

// Provider is a mock implementation of transcribe.Provider. The zero value is
// ready to use; StartStream returns a fresh [Stream] each call unless
// StartErr is set.
type Provider struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by StartStream instead of a stream.
	StartErr error

	// StartCalls records the StreamConfig of every StartStream invocation.
	StartCalls []transcribe.StreamConfig

	// Streams records every stream handed out, in order.
	Streams []*Stream
}

// StartStream implements transcribe.Provider.
func (p *Provider) StartStream(_ context.Context, cfg transcribe.StreamConfig) (transcribe.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.StartCalls = append(p.StartCalls, cfg)
	if p.StartErr != nil {
		return nil, p.StartErr
	}

	s := NewStream()
	p.Streams = append(p.Streams, s)
	return s, nil
}

// LastStream returns the most recently created stream, or nil if StartStream
// has not been called.
func (p *Provider) LastStream() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Streams) == 0 {
		return nil
	}
	return p.Streams[len(p.Streams)-1]
}

// Stream is a scriptable transcribe.Stream. Tests push fragments with
// [Stream.Emit] and close the stream with [Stream.Fail] or Close.
type Stream struct {
	mu        sync.Mutex
	fragments chan types.TranscriptFragment
	closed    bool
	err       error

	// SentAudio records every chunk passed to SendAudio.
	SentAudio [][]byte
}

// NewStream creates an open mock stream with a generous fragment buffer.
func NewStream() *Stream {
	return &Stream{fragments: make(chan types.TranscriptFragment, 64)}
}

// Emit delivers a fragment to the stream's consumer. Emit on a closed stream
// is a no-op so tests can race emission against Close safely.
func (s *Stream) Emit(text string, isFinal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fragments <- types.TranscriptFragment{Text: text, IsFinal: isFinal}
}

// Fail closes the fragment channel with a terminal error, simulating a
// provider-side stream failure.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.fragments)
}

// SendAudio implements transcribe.Stream.
func (s *Stream) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("mock transcribe: stream is closed")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.SentAudio = append(s.SentAudio, cp)
	return nil
}

// Sent returns a copy of all audio chunks received so far. Safe to call
// while another goroutine is sending.
func (s *Stream) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.SentAudio))
	copy(out, s.SentAudio)
	return out
}

// Fragments implements transcribe.Stream.
func (s *Stream) Fragments() <-chan types.TranscriptFragment { return s.fragments }

// Err implements transcribe.Stream.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements transcribe.Stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.fragments)
	}
	return nil
}
