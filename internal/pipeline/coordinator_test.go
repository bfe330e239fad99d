package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxline/internal/resilience"
	"github.com/MrWong99/voxline/pkg/provider/generate"
	genmock "github.com/MrWong99/voxline/pkg/provider/generate/mock"
	synthmock "github.com/MrWong99/voxline/pkg/provider/synthesize/mock"
	"github.com/MrWong99/voxline/pkg/types"
)

// recordSink collects audio chunks written during a run.
type recordSink struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
}

func (s *recordSink) WriteAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *recordSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

func newTestGuard() *resilience.Guard {
	return resilience.NewGuard(resilience.NewRegistry(), resilience.RetryConfig{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	})
}

func newTestCoordinator(t *testing.T, gen generate.Provider, synth *synthmock.Provider, sink AudioSink, opts ...func(*Config)) *Coordinator {
	t.Helper()
	cfg := Config{
		Generator:    gen,
		Synthesizer:  synth,
		Guard:        newTestGuard(),
		Sink:         sink,
		Voice:        types.VoiceProfile{ID: "voice-1", Provider: "mock"},
		SystemPrompt: "You are a phone agent.",
	}
	for _, o := range opts {
		o(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func history(utterance string) []types.Turn {
	return []types.Turn{{Role: types.RoleCaller, Text: utterance, Timestamp: time.Now()}}
}

func TestRun_StreamsReplyToSinkAndReturnsText(t *testing.T) {
	gen := &genmock.Provider{
		Chunks: []generate.Chunk{
			{Text: "Hello "},
			{Text: "there."},
			{FinishReason: "stop", Usage: &generate.Usage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13}},
		},
	}
	synth := &synthmock.Provider{AudioPerText: []byte{0x01, 0x02}}
	sink := &recordSink{}
	c := newTestCoordinator(t, gen, synth, sink)

	res, err := c.Run(context.Background(), history("hi"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != "Hello there." {
		t.Errorf("Text = %q, want %q", res.Text, "Hello there.")
	}
	if res.Chars != len("Hello there.") {
		t.Errorf("Chars = %d, want %d", res.Chars, len("Hello there."))
	}
	if res.Usage == nil || res.Usage.TotalTokens != 13 {
		t.Errorf("Usage = %+v, want TotalTokens 13", res.Usage)
	}
	if sink.count() == 0 {
		t.Error("no audio reached the sink")
	}

	stream := synth.LastStream()
	if stream == nil {
		t.Fatal("no synthesis stream was opened")
	}
	if !stream.Flushed {
		t.Error("stream was not flushed on success")
	}
	if got := stream.Text(); got != "Hello there." {
		t.Errorf("synthesized text = %q, want %q", got, "Hello there.")
	}
}

func TestRun_ControlTagsNotSynthesized(t *testing.T) {
	gen := &genmock.Provider{
		Chunks: []generate.Chunk{
			{Text: "Goodbye! "},
			{Text: "[END_"},
			{Text: "CALL]"},
			{FinishReason: "stop"},
		},
	}
	synth := &synthmock.Provider{}
	c := newTestCoordinator(t, gen, synth, &recordSink{})

	res, err := c.Run(context.Background(), history("bye"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != "Goodbye!" {
		t.Errorf("Text = %q, want %q", res.Text, "Goodbye!")
	}
	if len(res.Directives) != 1 || res.Directives[0].Kind != DirectiveEndCall {
		t.Fatalf("Directives = %v, want one end_call", res.Directives)
	}
	if got := synth.LastStream().Text(); got != "Goodbye! " {
		t.Errorf("synthesized text = %q, tag text must not be spoken", got)
	}
}

func TestRun_CancellationReturnsErrCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &genmock.Provider{
		Chunks: []generate.Chunk{
			{Text: "one "},
			{Text: "two "},
			{Text: "three"},
			{FinishReason: "stop"},
		},
		ChunkDelay: func(i int) {
			if i == 1 {
				cancel()
			}
		},
	}
	synth := &synthmock.Provider{}
	c := newTestCoordinator(t, gen, synth, &recordSink{})

	_, err := c.Run(ctx, history("hi"))
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("ErrCancelled must wrap context.Canceled")
	}
	if !synth.LastStream().Abandoned {
		t.Error("synthesis stream was not abandoned on cancellation")
	}
}

func TestRun_CancellationDoesNotCountOnBreaker(t *testing.T) {
	guard := newTestGuard()
	synth := &synthmock.Provider{}

	for i := 0; i < 5; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		gen := &genmock.Provider{
			Chunks:     []generate.Chunk{{Text: "a"}, {Text: "b"}, {FinishReason: "stop"}},
			ChunkDelay: func(j int) { cancel() },
		}
		c := newTestCoordinator(t, gen, synth, &recordSink{}, func(cfg *Config) {
			cfg.Guard = guard
		})
		_, err := c.Run(ctx, history("hi"))
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("Run %d: err = %v, want ErrCancelled", i, err)
		}
	}

	cb := guard.Registry().Breaker(DepGenerate)
	if cb.State() != resilience.StateClosed {
		t.Errorf("generate breaker state = %v, want closed after cancellations", cb.State())
	}
}

func TestRun_GenerationTimeout(t *testing.T) {
	gen := &genmock.Provider{
		Chunks: []generate.Chunk{
			{Text: "slow"},
			{FinishReason: "stop"},
		},
		ChunkDelay: func(i int) {
			if i == 1 {
				time.Sleep(100 * time.Millisecond)
			}
		},
	}
	synth := &synthmock.Provider{}
	c := newTestCoordinator(t, gen, synth, &recordSink{}, func(cfg *Config) {
		cfg.GenerationTimeout = 30 * time.Millisecond
	})

	_, err := c.Run(context.Background(), history("hi"))
	if !errors.Is(err, ErrGenerationTimeout) {
		t.Fatalf("err = %v, want ErrGenerationTimeout", err)
	}
	if errors.Is(err, ErrCancelled) {
		t.Error("timeout must not be classified as cancellation")
	}
}

func TestRun_MidStreamErrorIsRetried(t *testing.T) {
	// First call fails mid-stream, the retry succeeds. The stock mock cannot
	// fail only once, so two providers sit behind a switching wrapper.
	failing := &genmock.Provider{
		Chunks: []generate.Chunk{{Text: "par"}, {FinishReason: "error", Text: "upstream reset"}},
	}
	ok := &genmock.Provider{
		Chunks: []generate.Chunk{{Text: "recovered"}, {FinishReason: "stop"}},
	}
	sw := &switchingProvider{first: failing, rest: ok}

	synth := &synthmock.Provider{}
	c := newTestCoordinator(t, sw, synth, &recordSink{})

	res, err := c.Run(context.Background(), history("hi"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Text != "recovered" {
		t.Errorf("Text = %q, want %q", res.Text, "recovered")
	}
	if sw.calls != 2 {
		t.Errorf("generation attempts = %d, want 2", sw.calls)
	}
	// The failed attempt's synthesis stream must have been abandoned.
	if len(synth.Streams) != 2 {
		t.Fatalf("synthesis streams = %d, want 2 (one per attempt)", len(synth.Streams))
	}
	if !synth.Streams[0].Abandoned {
		t.Error("first attempt's stream was not abandoned")
	}
	if !synth.Streams[1].Flushed {
		t.Error("second attempt's stream was not flushed")
	}
}

// switchingProvider serves the first StreamReply from one provider and all
// later calls from another.
type switchingProvider struct {
	mu    sync.Mutex
	first generate.Provider
	rest  generate.Provider
	calls int
}

func (s *switchingProvider) StreamReply(ctx context.Context, req generate.Request) (<-chan generate.Chunk, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if n == 1 {
		return s.first.StreamReply(ctx, req)
	}
	return s.rest.StreamReply(ctx, req)
}

func TestRun_OpenGenerateCircuitFailsFast(t *testing.T) {
	guard := newTestGuard()
	guard.Registry().Configure(resilience.CircuitBreakerConfig{
		Name:             DepGenerate,
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	// Trip the breaker.
	_ = guard.Registry().Breaker(DepGenerate).Execute(func() error {
		return errors.New("boom")
	})

	gen := &genmock.Provider{Chunks: []generate.Chunk{{Text: "hi"}, {FinishReason: "stop"}}}
	synth := &synthmock.Provider{}
	c := newTestCoordinator(t, gen, synth, &recordSink{}, func(cfg *Config) {
		cfg.Guard = guard
	})

	_, err := c.Run(context.Background(), history("hi"))
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if gen.CallCount() != 0 {
		t.Errorf("generator called %d times, want 0 with open breaker", gen.CallCount())
	}
}

func TestSay_PlaysScriptedLine(t *testing.T) {
	synth := &synthmock.Provider{AudioPerText: []byte{0xAA}}
	sink := &recordSink{}
	gen := &genmock.Provider{}
	c := newTestCoordinator(t, gen, synth, sink)

	if err := c.Say(context.Background(), "Thanks for calling."); err != nil {
		t.Fatalf("Say: %v", err)
	}
	if sink.count() != 1 {
		t.Errorf("audio chunks = %d, want 1", sink.count())
	}
	stream := synth.LastStream()
	if got := stream.Text(); got != "Thanks for calling." {
		t.Errorf("synthesized text = %q", got)
	}
	if !stream.Flushed {
		t.Error("stream was not flushed")
	}
}

func TestSay_EmptyTextIsNoop(t *testing.T) {
	synth := &synthmock.Provider{}
	gen := &genmock.Provider{}
	c := newTestCoordinator(t, gen, synth, &recordSink{})

	if err := c.Say(context.Background(), ""); err != nil {
		t.Fatalf("Say: %v", err)
	}
	if synth.OpenCalls != 0 {
		t.Errorf("OpenCalls = %d, want 0", synth.OpenCalls)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	if err == nil {
		t.Fatal("New with empty config should fail")
	}
}
