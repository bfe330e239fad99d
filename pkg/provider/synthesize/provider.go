// Package synthesize defines the speech synthesis provider contract.
//
// A Provider opens one Stream per assistant reply. The caller pushes text
// fragments in arrival order with AddText, signals end of input with Flush,
// and drains synthesized audio from the Audio channel. Abandon tears the
// stream down immediately, discarding any audio still in flight; it is the
// path taken when a reply is cancelled mid-synthesis.
package synthesize

import (
	"context"

	"github.com/MrWong99/voxline/pkg/types"
)

// Stream is a single synthesis session for one reply.
type Stream interface {
	// AddText submits a text fragment for synthesis. Fragments are
	// synthesized in the order they are added.
	AddText(text string) error

	// Flush signals that no more text will be added. Audio continues to
	// arrive on the Audio channel until synthesis completes, at which
	// point the channel is closed.
	Flush() error

	// Abandon closes the stream immediately without waiting for pending
	// audio. Audio still in flight is discarded.
	Abandon() error

	// Audio emits raw PCM chunks as they are synthesized. The channel is
	// closed after a Flush completes or the stream is abandoned.
	Audio() <-chan []byte

	// Close releases the stream's resources. After a Flush it waits for
	// the provider to finish; otherwise it behaves like Abandon.
	Close() error
}

// Provider creates synthesis streams.
type Provider interface {
	// OpenStream starts a new synthesis session using the given voice.
	OpenStream(ctx context.Context, voice types.VoiceProfile) (Stream, error)
}
