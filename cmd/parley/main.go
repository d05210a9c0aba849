// Command parley runs a duplex voice session: it captures the microphone,
// streams it to a Realtime API endpoint, and plays the assistant's streamed
// audio through the local output device with client-side barge-in handling.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/parleyvoice/parley/internal/capture"
	"github.com/parleyvoice/parley/internal/config"
	"github.com/parleyvoice/parley/internal/engine"
	"github.com/parleyvoice/parley/internal/health"
	"github.com/parleyvoice/parley/internal/latency"
	"github.com/parleyvoice/parley/internal/observe"
	"github.com/parleyvoice/parley/pkg/realtime"
	"github.com/parleyvoice/parley/pkg/timeline/malgodev"
)

// version is set at build time via -ldflags.
var version = "dev"

var _ realtime.Handler = (*engine.Engine)(nil)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (optional)")
	noMic := flag.Bool("no-mic", false, "disable microphone capture (playback only)")
	flag.Parse()

	// ── Environment and configuration ─────────────────────────────────────────
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "parley: load .env: %v\n", err)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
			return 1
		}
	}

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "parley: OPENAI_API_KEY is not set")
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("parley starting",
		"version", version,
		"model", cfg.Realtime.Model,
		"sample_rate", cfg.Audio.SampleRate,
		"listen_addr", cfg.Server.ListenAddr,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "parley",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Playback timeline ─────────────────────────────────────────────────────
	device, err := malgodev.New(malgodev.Config{
		SampleRate:       cfg.Audio.SampleRate,
		DeviceSampleRate: cfg.Audio.DeviceSampleRate,
	})
	if err != nil {
		slog.Error("failed to open playback device", "err", err)
		return 1
	}

	// ── Engine ────────────────────────────────────────────────────────────────
	sessionID := uuid.NewString()
	lat := latency.New(sessionID, metrics)

	// The transport client does not exist yet when the engine is built; the
	// cancel callback closes over the variable and runs only once events flow.
	var client *realtime.Client
	eng := engine.New(engineConfig(cfg), device,
		engine.WithMetrics(metrics),
		engine.WithLatencyTracker(lat),
		engine.WithSessionID(sessionID),
		engine.WithResponseCancel(func() {
			go func() {
				if err := client.CancelResponse(); err != nil {
					slog.Debug("response cancel failed", "err", err)
				}
			}()
		}),
	)
	defer eng.Close()

	// ── Realtime session ──────────────────────────────────────────────────────
	lat.ConnectStart()
	client, err = realtime.Dial(ctx, apiKey, eng,
		realtime.WithModel(cfg.Realtime.Model),
		realtime.WithVoice(cfg.Realtime.Voice),
		realtime.WithInstructions(cfg.Realtime.Instructions),
		realtime.WithVAD(
			cfg.Realtime.VAD.Threshold,
			cfg.Realtime.VAD.PrefixPaddingMs,
			cfg.Realtime.VAD.SilenceDurationMs,
		),
	)
	if err != nil {
		slog.Error("failed to connect realtime session", "err", err)
		return 1
	}
	defer client.Close()
	lat.Connected()

	// ── Microphone ────────────────────────────────────────────────────────────
	if !*noMic {
		mic, err := capture.Open(capture.Config{SampleRate: cfg.Audio.SampleRate}, func(frame []byte) {
			if err := client.SendAudio(frame); err != nil {
				slog.Debug("dropping mic frame", "err", err)
			}
		})
		if err != nil {
			slog.Warn("microphone unavailable, running playback only", "err", err)
		} else {
			defer mic.Close()
		}
	}

	// ── Status server and session loop ────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.ListenAddr != "" {
		mux := http.NewServeMux()
		health.New(eng, health.Checker{
			Name:  "realtime",
			Check: func(context.Context) error { return gctx.Err() },
		}).Register(mux)
		mux.Handle("GET /metrics", promhttp.Handler())

		srv := &http.Server{
			Addr:    cfg.Server.ListenAddr,
			Handler: observe.Middleware(metrics, sessionID)(mux),
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		return client.Run(gctx)
	})

	slog.Info("session ready — press Ctrl+C to hang up")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("session ended with error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// engineConfig maps the loaded file configuration onto engine tunables.
func engineConfig(cfg *config.Config) engine.Config {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return engine.Config{
		SampleRate:           cfg.Audio.SampleRate,
		MinStartupBuffer:     ms(cfg.Playback.MinStartupBufferMs),
		SteadyChunk:          ms(cfg.Playback.SteadyChunkMs),
		MaxBuffer:            ms(cfg.Playback.MaxBufferMs),
		Lookahead:            ms(cfg.Playback.LookaheadMs),
		FirstLookahead:       ms(cfg.Playback.FirstLookaheadMs),
		FlushTimeout:         ms(cfg.Playback.FlushTimeoutMs),
		CompletionGrace:      ms(cfg.Playback.CompletionGraceMs),
		InterruptionDebounce: ms(cfg.Interruption.DebounceMs),
		MinSustainedSpeech:   ms(cfg.Interruption.MinSustainedSpeechMs),
		FadeOut:              ms(cfg.Interruption.FadeOutMs),
	}
}

// newLogger builds the default slog logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
