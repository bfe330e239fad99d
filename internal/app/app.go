// Package app wires all Voxline subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithRecordStore,
// WithVerifier, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/voxline/internal/call"
	"github.com/MrWong99/voxline/internal/config"
	"github.com/MrWong99/voxline/internal/health"
	"github.com/MrWong99/voxline/internal/observe"
	"github.com/MrWong99/voxline/internal/pipeline"
	"github.com/MrWong99/voxline/internal/record"
	"github.com/MrWong99/voxline/internal/resilience"
	"github.com/MrWong99/voxline/internal/telephony"
	"github.com/MrWong99/voxline/internal/verify"
	"github.com/MrWong99/voxline/pkg/provider/generate"
	"github.com/MrWong99/voxline/pkg/provider/synthesize"
	"github.com/MrWong99/voxline/pkg/provider/transcribe"
	"github.com/MrWong99/voxline/pkg/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Providers holds one interface value per pipeline stage. All three are
// required. Populated by main.go via the config registry.
type Providers struct {
	Transcribe transcribe.Provider
	Generate   generate.Provider
	Synthesize synthesize.Provider
}

// App owns all subsystem lifetimes and serves the telephony and diagnostics
// endpoints.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger

	metrics  *observe.Metrics
	registry *resilience.Registry
	guard    *resilience.Guard
	records  *record.Guard
	verifier verify.Verifier
	manager  *call.Manager
	server   *http.Server

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecordStore injects a record store instead of creating one from config.
func WithRecordStore(s record.Store) Option {
	return func(a *App) { a.records = record.NewGuard(s) }
}

// WithVerifier injects a verifier instead of building one from the config
// directory.
func WithVerifier(v verify.Verifier) Option {
	return func(a *App) { a.verifier = v }
}

// WithMetrics injects a metrics instance instead of using the process-wide
// default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger injects a logger instead of slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Transcribe == nil || providers.Generate == nil || providers.Synthesize == nil {
		return nil, errors.New("app: transcribe, generate, and synthesize providers are all required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.log == nil {
		a.log = slog.Default()
	}

	// ── 1. Observability ─────────────────────────────────────────────────
	if err := a.initObserve(ctx); err != nil {
		return nil, fmt.Errorf("app: init observability: %w", err)
	}

	// ── 2. Resilience layer ──────────────────────────────────────────────
	a.initResilience()

	// ── 3. Record store ──────────────────────────────────────────────────
	if err := a.initRecords(ctx); err != nil {
		return nil, fmt.Errorf("app: init records: %w", err)
	}

	// ── 4. Caller verification ───────────────────────────────────────────
	if a.verifier == nil && len(cfg.Directory) > 0 {
		a.verifier = verify.NewDirectoryVerifier(cfg.Directory)
		a.log.Info("caller directory loaded", "entries", len(cfg.Directory))
	}

	// ── 5. Session manager + HTTP server ─────────────────────────────────
	a.manager = call.NewManager(a.log)
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.buildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initObserve sets up the OTel meter provider backed by the Prometheus
// exporter, unless metrics were injected.
func (a *App) initObserve(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdown)
	a.metrics = observe.DefaultMetrics()
	return nil
}

// initResilience builds the breaker registry and guard from config and wires
// breaker transitions and retry attempts into the metrics.
func (a *App) initResilience() {
	a.registry = resilience.NewRegistry()

	onTransition := func(name string, _, to resilience.State) {
		a.metrics.CircuitTransitions.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("dependency", name),
				attribute.String("state", to.String()),
			))
	}

	for dep, policy := range map[string]config.BreakerPolicy{
		call.DepTranscribe:     a.cfg.Resilience.Transcribe,
		pipeline.DepGenerate:   a.cfg.Resilience.Generate,
		pipeline.DepSynthesize: a.cfg.Resilience.Synthesize,
	} {
		a.registry.Configure(resilience.CircuitBreakerConfig{
			Name:             dep,
			FailureThreshold: policy.FailureThreshold,
			SuccessThreshold: policy.SuccessThreshold,
			ResetTimeout:     policy.ResetTimeout.Std(),
			OnStateChange:    onTransition,
		})
	}

	retry := a.cfg.Resilience.Retry
	a.guard = resilience.NewGuard(a.registry, resilience.RetryConfig{
		MaxRetries: retry.MaxRetries,
		BaseDelay:  retry.BaseDelay.Std(),
		MaxDelay:   retry.MaxDelay.Std(),
		Multiplier: retry.Multiplier,
		Jitter:     retry.Jitter,
	})
	a.guard.OnRetry(func(dep string, _ int, _ error) {
		a.metrics.Retries.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("dependency", dep)))
	})
}

// initRecords connects the PostgreSQL store when a DSN is configured and
// falls back to in-memory records otherwise.
func (a *App) initRecords(ctx context.Context) error {
	if a.records != nil {
		return nil // injected
	}

	dsn := a.cfg.Records.PostgresDSN
	if dsn == "" {
		a.log.Warn("no records DSN configured, keeping call records in memory")
		a.records = record.NewGuard(record.NewMemoryStore())
		return nil
	}

	store, err := record.NewPostgresStore(ctx, dsn)
	if err != nil {
		return err
	}
	a.records = record.NewGuard(store)
	a.closers = append(a.closers, func(context.Context) error {
		return store.Close()
	})
	return nil
}

// buildMux assembles the HTTP surface: the media stream endpoint plus the
// diagnostics endpoints.
func (a *App) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	streamHandler := telephony.NewHandler(a.newSession, a.log)
	mux.Handle("/call/stream", streamHandler)

	health.New(a.registry,
		health.Probe{Name: "records", Check: a.checkRecords},
		health.Probe{Name: "providers", Check: a.checkProviders},
	).Register(mux)
	mux.HandleFunc("GET /sessions", a.handleSessions)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// checkRecords fails readiness while the record store is degraded.
func (a *App) checkRecords(context.Context) error {
	if a.records.IsDegraded() {
		return errors.New("record store writes are failing")
	}
	return nil
}

// checkProviders fails readiness while any provider circuit is open.
func (a *App) checkProviders(context.Context) error {
	for _, snap := range a.registry.Snapshots() {
		if snap.State == resilience.StateOpen.String() {
			return fmt.Errorf("circuit %q is open", snap.Name)
		}
	}
	return nil
}

// handleSessions returns a snapshot of every live session.
func (a *App) handleSessions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(struct {
		Sessions []call.Snapshot `json:"sessions"`
	}{Sessions: a.manager.Snapshots()})
}

// Handler returns the full HTTP handler, for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// ─── Session factory ─────────────────────────────────────────────────────────

// newSession builds one call session per incoming media stream. The sink
// doubles as the reply audio output and, via Clear, the barge-in flush.
func (a *App) newSession(_ *http.Request, sink *telephony.Sink, start telephony.StartInfo) (telephony.Session, error) {
	coord, err := pipeline.New(pipeline.Config{
		Generator:         a.providers.Generate,
		Synthesizer:       a.providers.Synthesize,
		Guard:             a.guard,
		Sink:              sink,
		Voice:             a.voiceProfile(),
		SystemPrompt:      a.cfg.Agent.SystemPrompt,
		Temperature:       a.cfg.Agent.Temperature,
		MaxTokens:         a.cfg.Agent.MaxTokens,
		GenerationTimeout: a.cfg.Call.GenerationTimeout.Std(),
		Logger:            a.log,
	})
	if err != nil {
		return nil, err
	}

	audio := a.cfg.Call.Audio
	sess, err := call.NewSession(call.SessionConfig{
		ID:          start.CallSID,
		Transcriber: a.providers.Transcribe,
		Runner:      coord,
		Guard:       a.guard,
		Verifier:    a.verifier,
		Records:     a.records,
		Metrics:     a.metrics,
		Logger:      a.log,
		Scripts:     a.cfg.Scripts,
		StreamConfig: transcribe.StreamConfig{
			SampleRate: audio.SampleRate,
			Channels:   audio.Channels,
			Encoding:   audio.Encoding,
			Language:   audio.Language,
		},
		SilenceTimeout:  a.cfg.Call.SilenceTimeout.Std(),
		MaxHistoryTurns: a.cfg.Call.MaxHistoryTurns,
		SoftLimit:       a.cfg.Call.SoftLimit.Std(),
		HardLimit:       a.cfg.Call.HardLimit.Std(),
		Grace:           a.cfg.Call.HardLimitGrace.Std(),
		OnBargeIn:       sink.Clear,
	})
	if err != nil {
		return nil, err
	}

	if err := a.manager.Add(sess); err != nil {
		sess.End(call.EndReasonShutdown)
		return nil, err
	}
	return sess, nil
}

// voiceProfile converts the agent voice config to a provider voice profile.
func (a *App) voiceProfile() types.VoiceProfile {
	return types.VoiceProfile{
		ID:          a.cfg.Agent.Voice.VoiceID,
		Provider:    a.cfg.Providers.Synthesize.Name,
		SpeedFactor: a.cfg.Agent.Voice.SpeedFactor,
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the listener fails. Call
// Shutdown afterwards to drain live calls.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("app: http server: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting connections, ends every live call, and tears down
// subsystems in order. It respects the context deadline: if ctx expires,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "live_calls", a.manager.Len())

		if err := a.server.Shutdown(ctx); err != nil {
			a.log.Warn("http shutdown error", "error", err)
		}
		if err := a.manager.Shutdown(ctx); err != nil {
			a.log.Warn("session drain error", "error", err)
			shutdownErr = err
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(ctx); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
