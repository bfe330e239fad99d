package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"transcribe": {"deepgram", "mock"},
	"generate":   {"openai", "mock"},
	"synthesize": {"elevenlabs", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("transcribe", cfg.Providers.Transcribe.Name)
	validateProviderName("generate", cfg.Providers.Generate.Name)
	validateProviderName("synthesize", cfg.Providers.Synthesize.Name)

	// Voice
	if sf := cfg.Agent.Voice.SpeedFactor; sf != 0 && (sf < 0.5 || sf > 2.0) {
		errs = append(errs, fmt.Errorf("agent.voice.speed_factor %.2f is out of range [0.5, 2.0]", sf))
	}

	// Call timing
	soft, hard := cfg.Call.SoftLimit.Std(), cfg.Call.HardLimit.Std()
	if soft < 0 {
		errs = append(errs, fmt.Errorf("call.soft_limit %s must not be negative", soft))
	}
	if hard < 0 {
		errs = append(errs, fmt.Errorf("call.hard_limit %s must not be negative", hard))
	}
	if soft > 0 && hard > 0 && soft >= hard {
		errs = append(errs, fmt.Errorf("call.soft_limit %s must be shorter than call.hard_limit %s", soft, hard))
	}
	if g := cfg.Call.HardLimitGrace.Std(); g < 0 {
		errs = append(errs, fmt.Errorf("call.hard_limit_grace %s must not be negative", g))
	}
	if st := cfg.Call.SilenceTimeout.Std(); st < 0 {
		errs = append(errs, fmt.Errorf("call.silence_timeout %s must not be negative", st))
	}
	if cfg.Call.MaxHistoryTurns < 0 {
		errs = append(errs, fmt.Errorf("call.max_history_turns %d must not be negative", cfg.Call.MaxHistoryTurns))
	}

	// Resilience
	for _, dep := range []struct {
		name   string
		policy BreakerPolicy
	}{
		{"transcribe", cfg.Resilience.Transcribe},
		{"generate", cfg.Resilience.Generate},
		{"synthesize", cfg.Resilience.Synthesize},
	} {
		if dep.policy.FailureThreshold < 0 {
			errs = append(errs, fmt.Errorf("resilience.%s.failure_threshold %d must not be negative", dep.name, dep.policy.FailureThreshold))
		}
		if dep.policy.SuccessThreshold < 0 {
			errs = append(errs, fmt.Errorf("resilience.%s.success_threshold %d must not be negative", dep.name, dep.policy.SuccessThreshold))
		}
		if dep.policy.ResetTimeout.Std() < 0 {
			errs = append(errs, fmt.Errorf("resilience.%s.reset_timeout %s must not be negative", dep.name, dep.policy.ResetTimeout.Std()))
		}
	}
	if cfg.Resilience.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("resilience.retry.max_retries %d must not be negative", cfg.Resilience.Retry.MaxRetries))
	}

	// Caller directory duplicate detection
	idsSeen := make(map[string]int, len(cfg.Directory))
	for i, caller := range cfg.Directory {
		prefix := fmt.Sprintf("directory[%d]", i)
		if caller.ID == "" {
			errs = append(errs, fmt.Errorf("%s.id is required", prefix))
		} else {
			if prev, ok := idsSeen[caller.ID]; ok {
				errs = append(errs, fmt.Errorf("%s.id %q is a duplicate of directory[%d]", prefix, caller.ID, prev))
			}
			idsSeen[caller.ID] = i
		}
		if caller.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
	}

	// Identity verification needs a directory to verify against.
	if len(cfg.Directory) == 0 {
		slog.Warn("directory is empty; callers requesting verification will be marked unverified")
	}

	// Records availability
	if cfg.Records.PostgresDSN == "" {
		slog.Warn("records.postgres_dsn is empty; call records will be kept in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
