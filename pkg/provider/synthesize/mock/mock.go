// Package mock provides an in-memory synthesize.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxline/pkg/provider/synthesize"
	"github.com/MrWong99/voxline/pkg/types"
)

// Provider is a mock synthesize.Provider that records calls and hands out
// scripted Streams.
type Provider struct {
	mu sync.Mutex

	// OpenErr, when set, is returned by OpenStream.
	OpenErr error

	// AudioPerText, when non-nil, is emitted on the stream's audio channel
	// for every AddText call.
	AudioPerText []byte

	OpenCalls int
	Voices    []types.VoiceProfile
	Streams   []*Stream
}

var _ synthesize.Provider = (*Provider)(nil)

// OpenStream implements synthesize.Provider.
func (p *Provider) OpenStream(_ context.Context, voice types.VoiceProfile) (synthesize.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.OpenCalls++
	p.Voices = append(p.Voices, voice)
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}

	s := &Stream{
		audio:        make(chan []byte, 64),
		audioPerText: p.AudioPerText,
	}
	p.Streams = append(p.Streams, s)
	return s, nil
}

// LastStream returns the most recently opened stream, or nil.
func (p *Provider) LastStream() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Streams) == 0 {
		return nil
	}
	return p.Streams[len(p.Streams)-1]
}

// Stream is a scripted synthesize.Stream.
type Stream struct {
	mu sync.Mutex

	// AddTextErr, when set, is returned by AddText.
	AddTextErr error
	// FlushErr, when set, is returned by Flush.
	FlushErr error

	Texts     []string
	Flushed   bool
	Abandoned bool
	Closed    bool

	audio        chan []byte
	audioPerText []byte
	closeOnce    sync.Once
}

var _ synthesize.Stream = (*Stream)(nil)

// AddText implements synthesize.Stream.
func (s *Stream) AddText(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AddTextErr != nil {
		return s.AddTextErr
	}
	s.Texts = append(s.Texts, text)
	if s.audioPerText != nil {
		select {
		case s.audio <- s.audioPerText:
		default:
		}
	}
	return nil
}

// EmitAudio pushes a chunk onto the audio channel.
func (s *Stream) EmitAudio(chunk []byte) {
	s.audio <- chunk
}

// Flush implements synthesize.Stream. It closes the audio channel.
func (s *Stream) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FlushErr != nil {
		return s.FlushErr
	}
	s.Flushed = true
	s.closeOnce.Do(func() { close(s.audio) })
	return nil
}

// Abandon implements synthesize.Stream.
func (s *Stream) Abandon() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Abandoned = true
	s.closeOnce.Do(func() { close(s.audio) })
	return nil
}

// Audio implements synthesize.Stream.
func (s *Stream) Audio() <-chan []byte {
	return s.audio
}

// Close implements synthesize.Stream.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	s.closeOnce.Do(func() { close(s.audio) })
	return nil
}

// Text returns all submitted fragments joined together.
func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := ""
	for _, t := range s.Texts {
		out += t
	}
	return out
}
