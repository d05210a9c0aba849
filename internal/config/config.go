// Package config provides the configuration schema and loader for the Parley
// voice client.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for Parley.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Realtime     RealtimeConfig     `yaml:"realtime"`
	Audio        AudioConfig        `yaml:"audio"`
	Playback     PlaybackConfig     `yaml:"playback"`
	Interruption InterruptionConfig `yaml:"interruption"`
}

// ServerConfig holds the status/metrics endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the status server listens on
	// (e.g., ":8090"). Empty disables the status server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// RealtimeConfig holds settings for the upstream Realtime API session.
type RealtimeConfig struct {
	// Model is the realtime model requested for the session.
	Model string `yaml:"model"`

	// Voice selects the assistant voice.
	Voice string `yaml:"voice"`

	// Instructions is the session system prompt.
	Instructions string `yaml:"instructions"`

	// VAD tunes server-side voice activity detection.
	VAD VADConfig `yaml:"vad"`
}

// VADConfig tunes server-side voice activity detection. The server is kept
// deliberately trigger-happy; the client-side arbiter filters transients.
type VADConfig struct {
	Threshold         float64 `yaml:"threshold"`
	PrefixPaddingMs   int     `yaml:"prefix_padding_ms"`
	SilenceDurationMs int     `yaml:"silence_duration_ms"`
}

// AudioConfig holds sample-rate settings.
type AudioConfig struct {
	// SampleRate is the session sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// DeviceSampleRate is the rate the output device is opened at. Zero
	// means SampleRate.
	DeviceSampleRate int `yaml:"device_sample_rate"`
}

// PlaybackConfig holds the buffering and scheduling parameters. All
// durations are in milliseconds; zero means the built-in default.
type PlaybackConfig struct {
	// MinStartupBufferMs is the audio accumulated before the first segment
	// of an utterance plays.
	MinStartupBufferMs int `yaml:"min_startup_buffer_ms"`

	// SteadyChunkMs is the emission threshold once streaming.
	SteadyChunkMs int `yaml:"steady_chunk_ms"`

	// MaxBufferMs bounds unscheduled audio in the accumulator.
	MaxBufferMs int `yaml:"max_buffer_ms"`

	// LookaheadMs is the scheduling safety margin ahead of the hardware
	// clock.
	LookaheadMs int `yaml:"lookahead_ms"`

	// FirstLookaheadMs is the larger margin for the first segment of an
	// utterance.
	FirstLookaheadMs int `yaml:"first_lookahead_ms"`

	// FlushTimeoutMs drains the buffer when the audio stream stalls.
	FlushTimeoutMs int `yaml:"flush_timeout_ms"`

	// CompletionGraceMs debounces the speaking-to-silent transition.
	CompletionGraceMs int `yaml:"completion_grace_ms"`
}

// InterruptionConfig holds the barge-in arbitration parameters. All
// durations are in milliseconds; zero means the built-in default.
type InterruptionConfig struct {
	// DebounceMs is how long a barge-in candidate may stay unresolved.
	DebounceMs int `yaml:"debounce_ms"`

	// MinSustainedSpeechMs is the minimum user speech length for a genuine
	// barge-in.
	MinSustainedSpeechMs int `yaml:"min_sustained_speech_ms"`

	// FadeOutMs is the gain ramp applied when cancelling audible segments.
	FadeOutMs int `yaml:"fade_out_ms"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: ":8090",
			LogLevel:   LogInfo,
		},
		Realtime: RealtimeConfig{
			Model: "gpt-realtime",
			Voice: "marin",
			VAD: VADConfig{
				Threshold:         0.95,
				PrefixPaddingMs:   600,
				SilenceDurationMs: 900,
			},
		},
		Audio: AudioConfig{
			SampleRate: 24000,
		},
		Playback: PlaybackConfig{
			MinStartupBufferMs: 150,
			SteadyChunkMs:      120,
			MaxBufferMs:        500,
			LookaheadMs:        50,
			FirstLookaheadMs:   150,
			FlushTimeoutMs:     1000,
			CompletionGraceMs:  150,
		},
		Interruption: InterruptionConfig{
			DebounceMs:           300,
			MinSustainedSpeechMs: 400,
			FadeOutMs:            50,
		},
	}
}
