// Package transcribe defines the Provider contract for streaming
// speech-to-text backends.
//
// A transcription provider wraps a real-time recognition service (e.g.
// Deepgram or a self-hosted recognizer) and exposes a uniform streaming
// interface: once opened, a [Stream] accepts raw audio chunks and emits
// [types.TranscriptFragment] values — low-latency partials for voice-activity
// tracking and authoritative finals for utterance assembly.
//
// Implementations must be safe for concurrent use.
package transcribe

import (
	"context"

	"github.com/MrWong99/voxline/pkg/types"
)

// StreamConfig describes the audio format and recognition hints for a new
// transcription stream.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Telephony audio is typically
	// 8000; wideband streams use 16000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// recognition providers).
	Channels int

	// Encoding names the audio encoding of the inbound chunks (e.g. "mulaw",
	// "linear16"). An empty string uses the provider default.
	Encoding string

	// Language is the BCP-47 language tag for recognition (e.g. "en-US").
	// An empty string lets the provider auto-detect, if supported.
	Language string
}

// Stream represents an open transcription stream. It is an interface so that
// test code can provide mock implementations without a live provider
// connection.
//
// Callers must call Close when the stream is no longer needed; failing to do
// so may leak goroutines and network connections inside the implementation.
// All methods must be safe for concurrent use.
type Stream interface {
	// SendAudio delivers a chunk of raw audio bytes for transcription. The
	// chunk must match the format agreed in StreamConfig. Calling SendAudio
	// after Close returns an error.
	SendAudio(chunk []byte) error

	// Fragments returns a read-only channel emitting transcript fragments in
	// the order the provider produces them. The channel is closed when the
	// stream ends, whether by Close or by a provider-side failure; consult
	// Err after the channel closes to distinguish the two.
	Fragments() <-chan types.TranscriptFragment

	// Err returns the terminal error that closed the Fragments channel, or
	// nil if the stream was closed cleanly. Err must only be called after
	// Fragments has been drained.
	Err() error

	// Close terminates the stream, flushes pending audio, and releases all
	// associated resources. Calling Close more than once is safe and returns
	// nil.
	Close() error
}

// Provider is the abstraction over any streaming speech-to-text backend.
//
// Implementations must be safe for concurrent use; multiple streams may be
// open simultaneously (one per live call).
type Provider interface {
	// StartStream opens a new streaming transcription session with the given
	// audio format. The returned Stream is ready to accept audio immediately.
	//
	// Returns an error if the stream cannot be established (authentication
	// failure, unsupported configuration, or ctx already cancelled). The
	// caller owns the Stream and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (Stream, error)
}
