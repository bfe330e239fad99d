// Package pipeline drives a single reply through the
// generation → synthesis → playback chain.
//
// A [Coordinator] owns no session state: the session hands it an utterance
// plus conversation history, and the coordinator streams the model's reply
// through speech synthesis into the session's audio sink. Cancelling the
// supplied context (barge-in, hangup) stops all three stages cooperatively.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/voxline/internal/resilience"
	"github.com/MrWong99/voxline/pkg/provider/generate"
	"github.com/MrWong99/voxline/pkg/provider/synthesize"
	"github.com/MrWong99/voxline/pkg/types"
)

// ErrCancelled is returned by Run when the supplied context is cancelled
// mid-reply. It wraps context.Canceled so the resilience layer never counts
// an interrupted reply against a dependency's health.
var ErrCancelled = fmt.Errorf("pipeline: run cancelled: %w", context.Canceled)

// ErrGenerationTimeout is returned by Run when a reply fails to complete
// within the configured generation timeout. Unlike ErrCancelled this is a
// real failure and is recorded by the generation circuit breaker.
var ErrGenerationTimeout = errors.New("pipeline: generation timed out")

// DefaultGenerationTimeout bounds the wall-clock duration of a single reply.
const DefaultGenerationTimeout = 30 * time.Second

// Dependency names used for circuit breaker lookup.
const (
	DepGenerate   = "generate"
	DepSynthesize = "synthesize"
)

// AudioSink receives synthesized audio chunks for playback. The telephony
// transport implements this against its media stream.
type AudioSink interface {
	WriteAudio(chunk []byte) error
}

// Result is the outcome of a successfully completed Run.
type Result struct {
	// Text is the full reply with control tags removed.
	Text string

	// Directives are the control tags extracted from the reply, in order.
	Directives []Directive

	// Chars is the number of characters sent to synthesis.
	Chars int

	// Usage is the token accounting reported by the generation provider,
	// or nil when the provider does not report usage.
	Usage *generate.Usage

	// Elapsed is the wall-clock duration of the run.
	Elapsed time.Duration
}

// Config holds the collaborators and tuning knobs for a [Coordinator].
type Config struct {
	// Generator produces reply token streams. Required.
	Generator generate.Provider

	// Synthesizer turns reply text into audio. Required.
	Synthesizer synthesize.Provider

	// Guard supplies circuit breaking and retry for upstream calls. Required.
	Guard *resilience.Guard

	// Sink receives synthesized audio. Required.
	Sink AudioSink

	// Voice selects the synthesis voice. Required.
	Voice types.VoiceProfile

	// SystemPrompt is prepended to every generation request.
	SystemPrompt string

	// Temperature and MaxTokens are forwarded to the generation provider.
	Temperature float64
	MaxTokens   int

	// GenerationTimeout overrides DefaultGenerationTimeout when positive.
	GenerationTimeout time.Duration

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Coordinator runs replies. It is stateless across runs and safe for use by
// a single session goroutine; concurrent Runs on one Coordinator are the
// session's bug to prevent, not the coordinator's to detect.
type Coordinator struct {
	gen          generate.Provider
	synth        synthesize.Provider
	guard        *resilience.Guard
	sink         AudioSink
	voice        types.VoiceProfile
	systemPrompt string
	temperature  float64
	maxTokens    int
	genTimeout   time.Duration
	log          *slog.Logger
}

// New creates a Coordinator from cfg. It returns an error when a required
// collaborator is missing.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Generator == nil {
		return nil, errors.New("pipeline: Config.Generator must not be nil")
	}
	if cfg.Synthesizer == nil {
		return nil, errors.New("pipeline: Config.Synthesizer must not be nil")
	}
	if cfg.Guard == nil {
		return nil, errors.New("pipeline: Config.Guard must not be nil")
	}
	if cfg.Sink == nil {
		return nil, errors.New("pipeline: Config.Sink must not be nil")
	}
	timeout := cfg.GenerationTimeout
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		gen:          cfg.Generator,
		synth:        cfg.Synthesizer,
		guard:        cfg.Guard,
		sink:         cfg.Sink,
		voice:        cfg.Voice,
		systemPrompt: cfg.SystemPrompt,
		temperature:  cfg.Temperature,
		maxTokens:    cfg.MaxTokens,
		genTimeout:   timeout,
		log:          logger,
	}, nil
}

// Run produces and plays one reply to the utterance at the end of history.
// history must already include the caller's utterance as its last turn.
//
// Cancelling ctx aborts all stages and returns [ErrCancelled]. A run that
// exceeds the generation timeout returns [ErrGenerationTimeout]. Transient
// upstream failures are retried per the guard's policy; an open circuit
// surfaces as [resilience.ErrCircuitOpen].
func (c *Coordinator) Run(ctx context.Context, history []types.Turn) (*Result, error) {
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, c.genTimeout)
	defer cancel()

	req := generate.Request{
		SystemPrompt: c.systemPrompt,
		Turns:        history,
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
	}

	var res *Result
	err := c.guard.Do(runCtx, DepGenerate, func(attemptCtx context.Context) error {
		r, err := c.attempt(attemptCtx, req)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, c.classify(ctx, runCtx, err)
	}

	raw := res.Text
	res.Text, res.Directives = ParseDirectives(raw)
	res.Elapsed = time.Since(start)
	return res, nil
}

// classify maps low-level errors onto the run-level taxonomy. A cancelled
// parent context wins over everything else: the caller interrupted, so the
// underlying error is noise.
func (c *Coordinator) classify(parent, runCtx context.Context, err error) error {
	if parent.Err() != nil {
		return ErrCancelled
	}
	if runCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		c.log.Warn("reply generation timed out", "timeout", c.genTimeout)
		return fmt.Errorf("%w: %v", ErrGenerationTimeout, err)
	}
	return err
}

// attempt is one full generation+synthesis pass. Each attempt opens a fresh
// synthesis stream so a retried generation never appends to audio from a
// failed try.
func (c *Coordinator) attempt(ctx context.Context, req generate.Request) (*Result, error) {
	stream, err := c.openSynth(ctx)
	if err != nil {
		return nil, err
	}

	chunks, err := c.gen.StreamReply(ctx, req)
	if err != nil {
		_ = stream.Abandon()
		return nil, fmt.Errorf("pipeline: start generation: %w", err)
	}

	// Pump synthesized audio to the sink until the stream's audio channel
	// closes. Checking ctx on every chunk keeps barge-in latency at one
	// audio chunk.
	pumpDone := make(chan error, 1)
	go func() {
		for chunk := range stream.Audio() {
			if ctx.Err() != nil {
				pumpDone <- ctx.Err()
				return
			}
			if err := c.sink.WriteAudio(chunk); err != nil {
				pumpDone <- fmt.Errorf("pipeline: write audio: %w", err)
				return
			}
		}
		pumpDone <- nil
	}()

	var (
		full   []byte
		filter tagFilter
		chars  int
		usage  *generate.Usage
	)

	abandon := func(err error) (*Result, error) {
		_ = stream.Abandon()
		<-pumpDone
		return nil, err
	}

	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				goto done
			}
			if chunk.FinishReason == "error" {
				return abandon(resilience.Transient(
					fmt.Errorf("pipeline: generation stream failed: %s", chunk.Text)))
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if chunk.Text == "" {
				continue
			}
			full = append(full, chunk.Text...)
			if speak := filter.feed(chunk.Text); speak != "" {
				chars += len(speak)
				if err := stream.AddText(speak); err != nil {
					return abandon(err)
				}
			}
		case <-ctx.Done():
			return abandon(ctx.Err())
		}
	}

done:
	if ctx.Err() != nil {
		return abandon(ctx.Err())
	}
	if tail := filter.flush(); tail != "" {
		chars += len(tail)
		if err := stream.AddText(tail); err != nil {
			return abandon(err)
		}
	}
	if err := stream.Flush(); err != nil {
		return abandon(err)
	}

	select {
	case err := <-pumpDone:
		if err != nil {
			_ = stream.Abandon()
			return nil, err
		}
	case <-ctx.Done():
		return abandon(ctx.Err())
	}
	_ = stream.Close()

	return &Result{Text: string(full), Chars: chars, Usage: usage}, nil
}

// openSynth opens a synthesis stream behind the synthesize breaker. No retry
// wraps this call: the enclosing generation attempt is itself retried, and a
// broken synthesizer should fail the whole attempt fast.
func (c *Coordinator) openSynth(ctx context.Context) (synthesize.Stream, error) {
	var stream synthesize.Stream
	cb := c.guard.Registry().Breaker(DepSynthesize)
	err := cb.Execute(func() error {
		s, err := c.synth.OpenStream(ctx, c.voice)
		if err != nil {
			return fmt.Errorf("pipeline: open synthesis stream: %w", err)
		}
		stream = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Say synthesizes and plays a fixed line outside any generation run. It is
// used for scripted prompts such as the greeting and the wrap-up notice.
func (c *Coordinator) Say(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	stream, err := c.openSynth(ctx)
	if err != nil {
		return err
	}
	if err := stream.AddText(text); err != nil {
		_ = stream.Abandon()
		return err
	}
	if err := stream.Flush(); err != nil {
		_ = stream.Abandon()
		return err
	}

	for {
		select {
		case chunk, ok := <-stream.Audio():
			if !ok {
				_ = stream.Close()
				return nil
			}
			if err := c.sink.WriteAudio(chunk); err != nil {
				_ = stream.Abandon()
				return err
			}
		case <-ctx.Done():
			_ = stream.Abandon()
			return ErrCancelled
		}
	}
}
