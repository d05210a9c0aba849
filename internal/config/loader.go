package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Missing values keep their defaults from [Default].
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

// LoadFromReader decodes a YAML config from r on top of the defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return cfg, nil
		}
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

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", cfg.Audio.SampleRate))
	}
	if cfg.Audio.DeviceSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.device_sample_rate must not be negative, got %d", cfg.Audio.DeviceSampleRate))
	}

	if cfg.Realtime.VAD.Threshold < 0 || cfg.Realtime.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("realtime.vad.threshold must be within [0, 1], got %g", cfg.Realtime.VAD.Threshold))
	}

	p := cfg.Playback
	for _, f := range []struct {
		name  string
		value int
	}{
		{"playback.min_startup_buffer_ms", p.MinStartupBufferMs},
		{"playback.steady_chunk_ms", p.SteadyChunkMs},
		{"playback.max_buffer_ms", p.MaxBufferMs},
		{"playback.lookahead_ms", p.LookaheadMs},
		{"playback.first_lookahead_ms", p.FirstLookaheadMs},
		{"playback.flush_timeout_ms", p.FlushTimeoutMs},
		{"playback.completion_grace_ms", p.CompletionGraceMs},
		{"interruption.debounce_ms", cfg.Interruption.DebounceMs},
		{"interruption.min_sustained_speech_ms", cfg.Interruption.MinSustainedSpeechMs},
	} {
		if f.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", f.name, f.value))
		}
	}
	if cfg.Interruption.FadeOutMs < 0 {
		errs = append(errs, fmt.Errorf("interruption.fade_out_ms must not be negative, got %d", cfg.Interruption.FadeOutMs))
	}

	if p.MaxBufferMs > 0 && p.MinStartupBufferMs > p.MaxBufferMs {
		errs = append(errs, fmt.Errorf("playback.min_startup_buffer_ms (%d) must not exceed playback.max_buffer_ms (%d)", p.MinStartupBufferMs, p.MaxBufferMs))
	}
	if p.MaxBufferMs > 0 && p.SteadyChunkMs > p.MaxBufferMs {
		errs = append(errs, fmt.Errorf("playback.steady_chunk_ms (%d) must not exceed playback.max_buffer_ms (%d)", p.SteadyChunkMs, p.MaxBufferMs))
	}

	// Soft warnings for tunings that work but usually indicate a mistake.
	if cfg.Interruption.DebounceMs > cfg.Interruption.MinSustainedSpeechMs {
		slog.Warn("interruption.debounce_ms exceeds min_sustained_speech_ms; every confirmation will take the early-stop path",
			"debounce_ms", cfg.Interruption.DebounceMs,
			"min_sustained_speech_ms", cfg.Interruption.MinSustainedSpeechMs)
	}
	if p.SteadyChunkMs > p.MinStartupBufferMs {
		slog.Warn("playback.steady_chunk_ms exceeds min_startup_buffer_ms; steady-state segments will be larger than the startup buffer",
			"steady_chunk_ms", p.SteadyChunkMs,
			"min_startup_buffer_ms", p.MinStartupBufferMs)
	}

	return errors.Join(errs...)
}
