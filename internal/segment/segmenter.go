// Package segment turns a stream of transcript fragments into discrete caller
// utterances.
//
// Fragments accumulate in a buffer; a silence timer resets on every new
// fragment, and when it fires with accumulated text the buffer is emitted as
// one utterance. While an utterance is being processed downstream, new
// fragments keep accumulating but no emission happens until the consumer
// calls [Segmenter.Done]. Text buffered during processing is the barge-in
// signal: [Segmenter.HasBuffered] reports it, and it becomes the next
// utterance once processing finishes.
package segment

import (
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxline/pkg/types"
)

// DefaultSilenceTimeout is how long the caller must stay quiet before the
// accumulated fragments are treated as a complete utterance.
const DefaultSilenceTimeout = 1800 * time.Millisecond

// Config holds tuning knobs for a [Segmenter].
type Config struct {
	// SilenceTimeout overrides DefaultSilenceTimeout when positive.
	SilenceTimeout time.Duration

	// OnUtterance is invoked with each complete utterance. It is called
	// from the timer goroutine or from Done; implementations decide their
	// own threading. Required.
	OnUtterance func(text string)

	// OnActivity is invoked whenever a fragment with speech content
	// arrives. Optional; used for barge-in detection.
	OnActivity func()
}

// Segmenter accumulates transcript fragments and emits utterances on silence.
// All methods are safe for concurrent use.
type Segmenter struct {
	silence     time.Duration
	onUtterance func(text string)
	onActivity  func()

	mu         sync.Mutex
	parts      []string
	lastFinal  string
	timer      *time.Timer
	processing bool
	elapsed    bool
	stopped    bool
}

// New creates a Segmenter. It panics if cfg.OnUtterance is nil.
func New(cfg Config) *Segmenter {
	if cfg.OnUtterance == nil {
		panic("segment: Config.OnUtterance must not be nil")
	}
	silence := cfg.SilenceTimeout
	if silence <= 0 {
		silence = DefaultSilenceTimeout
	}
	return &Segmenter{
		silence:     silence,
		onUtterance: cfg.OnUtterance,
		onActivity:  cfg.OnActivity,
	}
}

// OnFragment feeds a transcript fragment into the segmenter. Only final
// fragments are accumulated; interim ones still reset the silence timer and
// count as caller activity so a reply in progress can be interrupted as soon
// as the caller starts talking.
func (s *Segmenter) OnFragment(frag types.TranscriptFragment) {
	text := strings.TrimSpace(frag.Text)
	if text == "" {
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if frag.IsFinal && text != s.lastFinal {
		s.parts = append(s.parts, text)
		s.lastFinal = text
	}
	// Fresh speech invalidates a silence window that elapsed mid-processing:
	// the buffer is no longer a settled utterance.
	s.elapsed = false
	s.resetTimer()
	activity := s.onActivity
	s.mu.Unlock()

	if activity != nil {
		activity()
	}
}

// resetTimer restarts the silence countdown. Must be called with s.mu held.
func (s *Segmenter) resetTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.silence, s.onSilence)
}

// onSilence fires when the caller has been quiet for the full window.
func (s *Segmenter) onSilence() {
	s.mu.Lock()
	if s.stopped || len(s.parts) == 0 {
		s.mu.Unlock()
		return
	}
	if s.processing {
		// An utterance is already being handled; hold the buffer and
		// re-emit it as soon as the consumer is done.
		s.elapsed = true
		s.mu.Unlock()
		return
	}
	text := s.take()
	s.processing = true
	s.mu.Unlock()

	s.onUtterance(text)
}

// take drains the accumulated fragments into a single utterance string.
// Must be called with s.mu held.
func (s *Segmenter) take() string {
	text := strings.Join(s.parts, " ")
	s.parts = nil
	s.lastFinal = ""
	s.elapsed = false
	return text
}

// Done signals that the consumer finished handling the last emitted
// utterance. If the silence window elapsed while processing, the text
// buffered in the meantime is emitted immediately as the next utterance.
func (s *Segmenter) Done() {
	s.mu.Lock()
	s.processing = false
	if !s.elapsed || len(s.parts) == 0 || s.stopped {
		s.elapsed = false
		s.mu.Unlock()
		return
	}
	text := s.take()
	s.processing = true
	s.mu.Unlock()

	s.onUtterance(text)
}

// HasBuffered reports whether any speech has accumulated since the last
// emission. During an active reply this is the barge-in signal.
func (s *Segmenter) HasBuffered() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parts) > 0
}

// Stop halts the silence timer and discards any buffered text. The segmenter
// emits nothing after Stop returns.
func (s *Segmenter) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.parts = nil
	s.lastFinal = ""
}
