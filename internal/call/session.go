package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxline/internal/observe"
	"github.com/MrWong99/voxline/internal/pipeline"
	"github.com/MrWong99/voxline/internal/record"
	"github.com/MrWong99/voxline/internal/resilience"
	"github.com/MrWong99/voxline/internal/segment"
	"github.com/MrWong99/voxline/internal/verify"
	"github.com/MrWong99/voxline/pkg/provider/transcribe"
	"github.com/MrWong99/voxline/pkg/types"
)

// DepTranscribe is the circuit breaker name for the transcription dependency.
const DepTranscribe = "transcribe"

// TurnState is the session's turn-taking state.
type TurnState int

const (
	// TurnIdle means the session is listening for caller speech.
	TurnIdle TurnState = iota

	// TurnAwaitingReply means a pipeline run is producing the reply.
	TurnAwaitingReply
)

// String returns the human-readable name of the state.
func (s TurnState) String() string {
	switch s {
	case TurnIdle:
		return "idle"
	case TurnAwaitingReply:
		return "awaiting-reply"
	default:
		return "unknown"
	}
}

// VerifyState is the session's identity verification sub-state. It moves
// forward only: pending → verifying → verified or unverified, and the
// outcome states are terminal.
type VerifyState int

const (
	VerifyPending VerifyState = iota
	VerifyVerifying
	VerifyVerified
	VerifyUnverified
)

// String returns the human-readable name of the state.
func (s VerifyState) String() string {
	switch s {
	case VerifyPending:
		return "pending"
	case VerifyVerifying:
		return "verifying"
	case VerifyVerified:
		return "verified"
	case VerifyUnverified:
		return "unverified"
	default:
		return "unknown"
	}
}

// End reasons recorded with the final call record.
const (
	EndReasonHangup    = "caller_hangup"
	EndReasonDirective = "directive"
	EndReasonHandoff   = "handoff"
	EndReasonHardLimit = "hard_limit"
	EndReasonShutdown  = "shutdown"
	EndReasonTransport = "transport_error"
)

// Runner produces and plays replies. *pipeline.Coordinator satisfies it.
type Runner interface {
	Run(ctx context.Context, history []types.Turn) (*pipeline.Result, error)
	Say(ctx context.Context, text string) error
}

// Scripts are the fixed lines the session speaks outside generation.
type Scripts struct {
	// Greeting is spoken when the call starts.
	Greeting string `yaml:"greeting"`

	// SoftLimit is spoken once after the soft duration limit elapses.
	SoftLimit string `yaml:"soft_limit"`

	// Closing is spoken when the call ends on the hard limit or a directive.
	Closing string `yaml:"closing"`

	// Apology is spoken when a reply fails outright.
	Apology string `yaml:"apology"`

	// Unavailable is spoken when a dependency circuit is open.
	Unavailable string `yaml:"unavailable"`
}

// SessionConfig wires a Session's collaborators. Transcriber, Runner, and
// Guard are required; everything else has serviceable defaults.
type SessionConfig struct {
	// ID identifies the session. Defaults to a fresh UUID.
	ID string

	Transcriber transcribe.Provider
	Runner      Runner
	Guard       *resilience.Guard

	// Verifier resolves claimed identities. Optional; without it every
	// verify directive resolves to unverified.
	Verifier verify.Verifier

	// Records persists the call. Optional; defaults to a no-op-safe guard
	// over an in-memory store.
	Records record.Store

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	Scripts Scripts

	// StreamConfig configures the transcription stream.
	StreamConfig transcribe.StreamConfig

	// SilenceTimeout, MaxHistoryTurns, SoftLimit, HardLimit, and Grace
	// override the package defaults when positive.
	SilenceTimeout  time.Duration
	MaxHistoryTurns int
	SoftLimit       time.Duration
	HardLimit       time.Duration
	Grace           time.Duration

	// OnBargeIn fires when a reply is cancelled by caller speech, before
	// the cancellation takes effect. The telephony transport uses it to
	// flush its playback buffer.
	OnBargeIn func()

	// OnEnd fires exactly once after the session has fully ended.
	OnEnd func(sessionID, reason string)
}

// Snapshot is a point-in-time view of a session for diagnostics.
type Snapshot struct {
	ID           string    `json:"id"`
	TurnState    string    `json:"turn_state"`
	Verification string    `json:"verification"`
	CallerID     string    `json:"caller_id,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	Turns        int       `json:"turns"`
}

// Session is one live phone call. It owns the utterance segmenter, the
// bounded history, the duration governor, and the verification sub-state,
// and drives the reply pipeline one run at a time.
//
// All mutation funnels through the session mutex: audio and fragments arrive
// from transport goroutines, timers fire from the runtime, but the session
// acts on them strictly one at a time.
type Session struct {
	id      string
	cfg     SessionConfig
	log     *slog.Logger
	metrics *observe.Metrics
	records record.Store

	seg      *segment.Segmenter
	history  *History
	governor *Governor

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	turnState   TurnState
	verifyState VerifyState
	callerID    string
	runCancel   context.CancelFunc
	softNotify  bool
	startedAt   time.Time
	stream      transcribe.Stream

	endOnce   sync.Once
	endReason string
	ended     chan struct{}
}

// NewSession validates cfg and builds a Session. The call does not start
// until [Session.Start].
func NewSession(cfg SessionConfig) (*Session, error) {
	if cfg.Transcriber == nil {
		return nil, errors.New("call: SessionConfig.Transcriber must not be nil")
	}
	if cfg.Runner == nil {
		return nil, errors.New("call: SessionConfig.Runner must not be nil")
	}
	if cfg.Guard == nil {
		return nil, errors.New("call: SessionConfig.Guard must not be nil")
	}
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.Records == nil {
		cfg.Records = record.NewGuard(record.NewMemoryStore())
	}

	s := &Session{
		id:      cfg.ID,
		cfg:     cfg,
		log:     cfg.Logger.With("session_id", cfg.ID),
		metrics: cfg.Metrics,
		records: cfg.Records,
		history: NewHistory(cfg.MaxHistoryTurns),
		ended:   make(chan struct{}),
	}
	s.seg = segment.New(segment.Config{
		SilenceTimeout: cfg.SilenceTimeout,
		OnUtterance:    s.onUtterance,
		OnActivity:     s.onActivity,
	})
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Ended is closed once the session has fully ended.
func (s *Session) Ended() <-chan struct{} { return s.ended }

// Start opens the transcription stream, begins the duration clock, and
// speaks the greeting. ctx bounds the whole call: cancelling it ends the
// session.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()

	var stream transcribe.Stream
	err := s.cfg.Guard.Do(s.ctx, DepTranscribe, func(ctx context.Context) error {
		st, err := s.cfg.Transcriber.StartStream(ctx, s.cfg.StreamConfig)
		if err != nil {
			return err
		}
		stream = st
		return nil
	})
	if err != nil {
		s.cancel()
		return fmt.Errorf("call: start transcription: %w", err)
	}

	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()

	s.governor = NewGovernor(GovernorConfig{
		SoftLimit:   s.cfg.SoftLimit,
		HardLimit:   s.cfg.HardLimit,
		Grace:       s.cfg.Grace,
		OnSoftLimit: s.onSoftLimit,
		OnHardLimit: s.onHardLimit,
		OnForceEnd:  func() { s.End(EndReasonHardLimit) },
	})

	s.metrics.ActiveCalls.Add(s.ctx, 1)
	_ = s.records.WriteCall(s.ctx, record.CallRecord{
		SessionID:    s.id,
		Verification: VerifyPending.String(),
		StartedAt:    s.startedAt,
	})

	go s.listen(stream)

	if s.cfg.Scripts.Greeting != "" {
		spoke := time.Now()
		if err := s.cfg.Runner.Say(s.ctx, s.cfg.Scripts.Greeting); err != nil {
			s.log.Warn("greeting playback failed", "error", err)
		} else {
			s.metrics.SynthesisDuration.Record(s.ctx, time.Since(spoke).Seconds())
		}
	}

	s.log.Info("call started")
	return nil
}

// HandleAudio forwards a caller audio chunk to the transcription stream.
func (s *Session) HandleAudio(chunk []byte) error {
	s.mu.Lock()
	stream := s.stream
	s.mu.Unlock()
	if stream == nil {
		return errors.New("call: session not started")
	}
	if err := stream.SendAudio(chunk); err != nil {
		return fmt.Errorf("call: send audio: %w", err)
	}
	return nil
}

// listen drains transcript fragments into the segmenter until the stream
// closes.
func (s *Session) listen(stream transcribe.Stream) {
	for frag := range stream.Fragments() {
		s.seg.OnFragment(frag)
	}
	if err := stream.Err(); err != nil {
		select {
		case <-s.ended:
		default:
			s.log.Error("transcription stream failed", "error", err)
			s.metrics.RecordProviderError(s.ctx, DepTranscribe, "stream")
			s.End(EndReasonTransport)
		}
	}
}

// onActivity fires on every speech fragment. Caller speech during an active
// reply is a barge-in: the run is cancelled and the buffered speech becomes
// the next utterance.
func (s *Session) onActivity() {
	s.mu.Lock()
	cancel := s.runCancel
	bargeIn := cancel != nil && s.seg.HasBuffered()
	s.mu.Unlock()

	if !bargeIn {
		return
	}
	s.log.Info("barge-in detected, cancelling reply")
	s.metrics.RecordBargeIn(s.ctx)
	// Cancel before flushing playback: the pipeline must stop forwarding
	// audio first, or frames written after the flush slip through.
	cancel()
	if s.cfg.OnBargeIn != nil {
		s.cfg.OnBargeIn()
	}
}

// onUtterance handles one complete caller utterance. It runs on the
// segmenter's goroutine; the segmenter guarantees no further emission until
// Done is called, which makes this the session's single writer.
func (s *Session) onUtterance(text string) {
	defer s.seg.Done()

	select {
	case <-s.ended:
		return
	default:
	}

	s.log.Debug("utterance", "text", text)

	turn := types.Turn{Role: types.RoleCaller, Text: text, Timestamp: time.Now()}
	s.history.Append(turn)
	_ = s.records.WriteTurn(s.ctx, record.TurnRecord{
		SessionID: s.id,
		Role:      string(turn.Role),
		Text:      text,
		Timestamp: turn.Timestamp,
	})

	runCtx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.turnState = TurnAwaitingReply
	s.runCancel = cancel
	s.mu.Unlock()

	start := time.Now()
	res, err := s.cfg.Runner.Run(runCtx, s.history.Turns())
	cancel()

	s.mu.Lock()
	s.turnState = TurnIdle
	s.runCancel = nil
	notifySoft := s.softNotify
	s.softNotify = false
	s.mu.Unlock()

	elapsed := time.Since(start).Seconds()
	switch {
	case err == nil:
		s.completeTurn(res, elapsed)
	case errors.Is(err, pipeline.ErrCancelled):
		// Interrupted by the caller; the partial reply is dropped from
		// history but noted in the record.
		s.metrics.RecordTurn(s.ctx, "interrupted", elapsed)
		_ = s.records.WriteTurn(s.ctx, record.TurnRecord{
			SessionID:   s.id,
			Role:        string(types.RoleAssistant),
			Interrupted: true,
			Timestamp:   time.Now(),
		})
	case errors.Is(err, resilience.ErrCircuitOpen):
		s.log.Warn("reply skipped, dependency circuit open", "error", err)
		s.metrics.RecordTurn(s.ctx, "failed", elapsed)
		s.sayFallback(s.cfg.Scripts.Unavailable)
	default:
		s.log.Error("reply failed", "error", err)
		s.metrics.RecordProviderError(s.ctx, pipeline.DepGenerate, "run")
		s.metrics.RecordTurn(s.ctx, "failed", elapsed)
		s.sayFallback(s.cfg.Scripts.Apology)
	}

	if notifySoft {
		s.sayFallback(s.cfg.Scripts.SoftLimit)
	}
}

// completeTurn commits a successful reply and acts on its directives.
func (s *Session) completeTurn(res *pipeline.Result, elapsed float64) {
	turn := types.Turn{Role: types.RoleAssistant, Text: res.Text, Timestamp: time.Now()}
	s.history.Append(turn)
	s.metrics.RecordTurn(s.ctx, "completed", elapsed)
	s.metrics.GenerationDuration.Record(s.ctx, res.Elapsed.Seconds())
	_ = s.records.WriteTurn(s.ctx, record.TurnRecord{
		SessionID: s.id,
		Role:      string(turn.Role),
		Text:      res.Text,
		Timestamp: turn.Timestamp,
	})

	for _, d := range res.Directives {
		switch d.Kind {
		case pipeline.DirectiveVerify:
			s.runVerification(d.Arg)
		case pipeline.DirectiveHandoff:
			s.End(EndReasonHandoff)
			return
		case pipeline.DirectiveEndCall:
			s.End(EndReasonDirective)
			return
		}
	}
}

// runVerification resolves a claimed identity. The sub-state only moves
// forward; a second verify directive on a settled session is ignored.
func (s *Session) runVerification(claimedName string) {
	s.mu.Lock()
	if s.verifyState != VerifyPending {
		s.mu.Unlock()
		return
	}
	s.verifyState = VerifyVerifying
	s.mu.Unlock()

	outcome := VerifyUnverified
	callerID := ""
	if s.cfg.Verifier != nil {
		match, ok, err := s.cfg.Verifier.Verify(s.ctx, claimedName)
		if err != nil {
			s.log.Error("verification failed", "error", err)
		} else if ok {
			outcome = VerifyVerified
			callerID = match.Caller.ID
			s.log.Info("caller verified",
				"caller_id", callerID,
				"confidence", match.Confidence)
		}
	}
	if outcome == VerifyUnverified {
		s.log.Info("caller not verified", "claimed_name", claimedName)
	}

	s.mu.Lock()
	s.verifyState = outcome
	s.callerID = callerID
	s.mu.Unlock()

	_ = s.records.WriteCall(s.ctx, record.CallRecord{
		SessionID:    s.id,
		CallerID:     callerID,
		Verification: outcome.String(),
		StartedAt:    s.startedAt,
	})
}

// sayFallback plays a scripted line, tolerating failure.
func (s *Session) sayFallback(text string) {
	if text == "" {
		return
	}
	start := time.Now()
	if err := s.cfg.Runner.Say(s.ctx, text); err != nil {
		s.log.Warn("fallback line playback failed", "error", err)
		return
	}
	s.metrics.SynthesisDuration.Record(s.ctx, time.Since(start).Seconds())
}

// onSoftLimit marks that the wrap-up notice is due. If the line is idle the
// notice plays immediately; otherwise it plays after the current turn.
func (s *Session) onSoftLimit() {
	s.mu.Lock()
	busy := s.turnState == TurnAwaitingReply
	if busy {
		s.softNotify = true
	}
	s.mu.Unlock()

	s.log.Info("soft duration limit reached")
	if !busy {
		s.sayFallback(s.cfg.Scripts.SoftLimit)
	}
}

// onHardLimit cancels any active reply, speaks the closing line, and ends
// the call. The governor's grace timer force-ends the session if this takes
// too long.
func (s *Session) onHardLimit() {
	s.log.Info("hard duration limit reached, closing call")

	s.mu.Lock()
	cancel := s.runCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	s.sayFallback(s.cfg.Scripts.Closing)
	s.End(EndReasonHardLimit)
}

// End terminates the session. The first caller's reason wins; subsequent
// calls are no-ops. Safe to call from any goroutine.
func (s *Session) End(reason string) {
	s.endOnce.Do(func() {
		s.endReason = reason
		close(s.ended)

		s.mu.Lock()
		cancel := s.runCancel
		stream := s.stream
		turns := s.history.Len()
		verification := s.verifyState
		callerID := s.callerID
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.seg.Stop()
		if s.governor != nil {
			s.governor.Stop()
		}
		if stream != nil {
			if err := stream.Close(); err != nil {
				s.log.Warn("transcription stream close failed", "error", err)
			}
		}

		// The session context is cancelled last so the final record write
		// and closing playback can still use it; the write below uses a
		// short independent context instead.
		base := s.ctx
		if base == nil {
			base = context.Background()
		}
		writeCtx, writeCancel := context.WithTimeout(context.WithoutCancel(base), 5*time.Second)
		defer writeCancel()
		_ = s.records.WriteCall(writeCtx, record.CallRecord{
			SessionID:    s.id,
			CallerID:     callerID,
			Verification: verification.String(),
			StartedAt:    s.startedAt,
			EndedAt:      time.Now(),
			EndReason:    reason,
		})

		// The gauge was only incremented once Start succeeded.
		if s.governor != nil {
			s.metrics.ActiveCalls.Add(writeCtx, -1)
		}
		if s.cancel != nil {
			s.cancel()
		}

		s.log.Info("call ended", "reason", reason, "turns", turns)
		if s.cfg.OnEnd != nil {
			s.cfg.OnEnd(s.id, reason)
		}
	})
}

// Snapshot returns a point-in-time view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:           s.id,
		TurnState:    s.turnState.String(),
		Verification: s.verifyState.String(),
		CallerID:     s.callerID,
		StartedAt:    s.startedAt,
		Turns:        s.history.Len(),
	}
}
