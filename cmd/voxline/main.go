// Command voxline is the main entry point for the Voxline call server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxline/internal/app"
	"github.com/MrWong99/voxline/internal/config"
	"github.com/MrWong99/voxline/pkg/provider/generate"
	genmock "github.com/MrWong99/voxline/pkg/provider/generate/mock"
	"github.com/MrWong99/voxline/pkg/provider/generate/openai"
	"github.com/MrWong99/voxline/pkg/provider/synthesize"
	"github.com/MrWong99/voxline/pkg/provider/synthesize/elevenlabs"
	synthmock "github.com/MrWong99/voxline/pkg/provider/synthesize/mock"
	"github.com/MrWong99/voxline/pkg/provider/transcribe"
	"github.com/MrWong99/voxline/pkg/provider/transcribe/deepgram"
	transmock "github.com/MrWong99/voxline/pkg/provider/transcribe/mock"
)

// defaultShutdownGrace bounds graceful shutdown when the config does not set
// server.shutdown_grace.
const defaultShutdownGrace = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxline: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxline: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxline starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	grace := cfg.Server.ShutdownGrace.Std()
	if grace <= 0 {
		grace = defaultShutdownGrace
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages. The "mock" providers exist
// for local development without upstream credentials.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Transcription ─────────────────────────────────────────────────────────

	reg.RegisterTranscribe("deepgram", func(entry config.ProviderEntry) (transcribe.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterTranscribe("mock", func(config.ProviderEntry) (transcribe.Provider, error) {
		return &transmock.Provider{}, nil
	})

	// ── Generation ────────────────────────────────────────────────────────────

	reg.RegisterGenerate("openai", func(entry config.ProviderEntry) (generate.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		return openai.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterGenerate("mock", func(config.ProviderEntry) (generate.Provider, error) {
		return &genmock.Provider{}, nil
	})

	// ── Synthesis ─────────────────────────────────────────────────────────────

	reg.RegisterSynthesize("elevenlabs", func(entry config.ProviderEntry) (synthesize.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterSynthesize("mock", func(config.ProviderEntry) (synthesize.Provider, error) {
		return &synthmock.Provider{}, nil
	})
}

// buildProviders instantiates the three pipeline providers named in cfg. All
// three stages are required for a call server to function.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	name := cfg.Providers.Transcribe.Name
	if name == "" {
		return nil, errors.New("providers.transcribe.name is required")
	}
	p, err := reg.CreateTranscribe(cfg.Providers.Transcribe)
	if err != nil {
		return nil, fmt.Errorf("create transcribe provider %q: %w", name, err)
	}
	ps.Transcribe = p
	slog.Info("provider created", "kind", "transcribe", "name", name)

	name = cfg.Providers.Generate.Name
	if name == "" {
		return nil, errors.New("providers.generate.name is required")
	}
	g, err := reg.CreateGenerate(cfg.Providers.Generate)
	if err != nil {
		return nil, fmt.Errorf("create generate provider %q: %w", name, err)
	}
	ps.Generate = g
	slog.Info("provider created", "kind", "generate", "name", name)

	name = cfg.Providers.Synthesize.Name
	if name == "" {
		return nil, errors.New("providers.synthesize.name is required")
	}
	s, err := reg.CreateSynthesize(cfg.Providers.Synthesize)
	if err != nil {
		return nil, fmt.Errorf("create synthesize provider %q: %w", name, err)
	}
	ps.Synthesize = s
	slog.Info("provider created", "kind", "synthesize", "name", name)

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Voxline — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Transcribe", cfg.Providers.Transcribe.Name, cfg.Providers.Transcribe.Model)
	printProvider("Generate", cfg.Providers.Generate.Name, cfg.Providers.Generate.Model)
	printProvider("Synthesize", cfg.Providers.Synthesize.Name, cfg.Providers.Synthesize.Model)
	if cfg.Records.PostgresDSN != "" {
		fmt.Printf("║  Records         : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Records         : %-19s ║\n", "memory")
	}
	fmt.Printf("║  Directory       : %-19d ║\n", len(cfg.Directory))
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
