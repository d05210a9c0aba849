package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parleyvoice/parley/internal/config"
)

func TestLoadFromReader_DefaultsWhenEmpty(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	def := config.Default()
	if cfg.Audio.SampleRate != def.Audio.SampleRate {
		t.Errorf("sample rate = %d, want default %d", cfg.Audio.SampleRate, def.Audio.SampleRate)
	}
	if cfg.Playback.MinStartupBufferMs != def.Playback.MinStartupBufferMs {
		t.Errorf("min startup = %d, want default %d", cfg.Playback.MinStartupBufferMs, def.Playback.MinStartupBufferMs)
	}
	if cfg.Interruption.DebounceMs != def.Interruption.DebounceMs {
		t.Errorf("debounce = %d, want default %d", cfg.Interruption.DebounceMs, def.Interruption.DebounceMs)
	}
}

func TestLoadFromReader_OverridesMergeOntoDefaults(t *testing.T) {
	t.Parallel()

	yaml := `
server:
  log_level: debug
playback:
  steady_chunk_ms: 200
interruption:
  min_sustained_speech_ms: 600
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log level = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Playback.SteadyChunkMs != 200 {
		t.Errorf("steady chunk = %d, want 200", cfg.Playback.SteadyChunkMs)
	}
	if cfg.Interruption.MinSustainedSpeechMs != 600 {
		t.Errorf("min sustained = %d, want 600", cfg.Interruption.MinSustainedSpeechMs)
	}
	// Untouched sections keep their defaults.
	if cfg.Playback.MaxBufferMs != 500 {
		t.Errorf("max buffer = %d, want default 500", cfg.Playback.MaxBufferMs)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("playback:\n  chunk_size: 10\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Server.LogLevel = "verbose"
	cfg.Audio.SampleRate = 0
	cfg.Playback.SteadyChunkMs = -5
	cfg.Realtime.VAD.Threshold = 1.5

	err := config.Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"server.log_level", "audio.sample_rate", "playback.steady_chunk_ms", "realtime.vad.threshold"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing mention of %s", err, want)
		}
	}
}

func TestValidate_StartupMustFitMaxBuffer(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Playback.MinStartupBufferMs = 600
	cfg.Playback.MaxBufferMs = 500

	err := config.Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "min_startup_buffer_ms") {
		t.Fatalf("err = %v, want min_startup_buffer_ms violation", err)
	}
}

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "parley.yaml")
	data := "audio:\n  sample_rate: 16000\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", cfg.Audio.SampleRate)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
