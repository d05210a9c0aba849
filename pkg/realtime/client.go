// Package realtime implements the WebSocket transport for a duplex voice
// session against a Realtime API endpoint.
//
// The client owns the connection and its receive loop. Incoming server events
// are decoded once and dispatched to a [Handler]; audio deltas are
// base64-decoded before delivery so handlers only ever see raw PCM16 bytes.
// The client makes no playback or turn-taking decisions.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

const (
	defaultModel   = "gpt-realtime"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
)

// Handler receives decoded server events. Implementations must not block;
// the receive loop delivers events one at a time in arrival order.
type Handler interface {
	// OnAudioDelta delivers one frame of assistant audio as PCM16
	// little-endian bytes.
	OnAudioDelta(frame []byte)

	// OnTranscriptDelta delivers one fragment of the assistant's output
	// transcript. Text streams ahead of the matching audio.
	OnTranscriptDelta(text string)

	// OnSpeechStarted reports that server-side VAD detected user speech.
	OnSpeechStarted()

	// OnSpeechStopped reports that server-side VAD detected the user
	// stopped.
	OnSpeechStopped()

	// OnResponseCreated reports a new assistant response starting.
	OnResponseCreated()

	// OnResponseDone reports the assistant response stream ending.
	OnResponseDone()

	// OnServerError surfaces a server-reported error event.
	OnServerError(err error)
}

// ── Options ───────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithModel sets the model requested for the session.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithVoice sets the assistant voice.
func WithVoice(voice string) Option {
	return func(c *Client) { c.voice = voice }
}

// WithInstructions sets the session instructions.
func WithInstructions(instructions string) Option {
	return func(c *Client) { c.instructions = instructions }
}

// WithVAD overrides the server-side voice activity detection tuning.
func WithVAD(threshold float64, prefixPaddingMs, silenceDurationMs int) Option {
	return func(c *Client) {
		c.vad = &turnDetection{
			Type:              "server_vad",
			Threshold:         threshold,
			PrefixPaddingMs:   prefixPaddingMs,
			SilenceDurationMs: silenceDurationMs,
		}
	}
}

// ── Client ────────────────────────────────────────────────────────────────────

// Client is one WebSocket session against a Realtime endpoint.
type Client struct {
	apiKey       string
	model        string
	baseURL      string
	voice        string
	instructions string
	vad          *turnDetection

	handler Handler
	conn    *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// Dial connects to the Realtime endpoint, configures the session, and returns
// a Client ready to run. The handler receives events once [Client.Run] is
// started.
func Dial(ctx context.Context, apiKey string, handler Handler, opts ...Option) (*Client, error) {
	if handler == nil {
		return nil, errors.New("realtime: nil handler")
	}
	c := &Client{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		handler: handler,
		vad: &turnDetection{
			Type:              "server_vad",
			Threshold:         0.95,
			PrefixPaddingMs:   600,
			SilenceDurationMs: 900,
		},
	}
	for _, o := range opts {
		o(c)
	}

	wsURL := fmt.Sprintf("%s?model=%s", c.baseURL, c.model)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + c.apiKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}
	// Audio deltas are large; the default read limit is too small for them.
	conn.SetReadLimit(1 << 22)

	c.conn = conn
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if err := c.sendSessionUpdate(); err != nil {
		c.cancel()
		conn.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("realtime: session update: %w", err)
	}
	return c, nil
}

// sendSessionUpdate configures audio formats, voice, instructions, and VAD.
func (c *Client) sendSessionUpdate() error {
	return c.writeJSON(sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Voice:             c.voice,
			Instructions:      c.instructions,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
			TurnDetection:     c.vad,
		},
	})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *Client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// SendAudio transmits one frame of microphone audio as PCM16 little-endian
// bytes.
func (c *Client) SendAudio(frame []byte) error {
	return c.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(frame),
	})
}

// CancelResponse asks the server to stop generating the in-flight response,
// typically after a confirmed barge-in.
func (c *Client) CancelResponse() error {
	return c.writeJSON(responseCancelMessage{Type: "response.cancel"})
}

// Run reads and dispatches server events until the connection fails, the
// given context is cancelled, or the client is closed. It always returns a
// non-nil error; after a clean Close the error is [context.Canceled].
func (c *Client) Run(ctx context.Context) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return context.Canceled
			}
			return fmt.Errorf("realtime: read: %w", err)
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			slog.Debug("discarding undecodable server event", "err", err)
			continue
		}
		c.dispatch(&evt)
	}
}

func (c *Client) dispatch(evt *serverEvent) {
	switch evt.Type {
	case "response.output_audio.delta", "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		frame, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(frame) == 0 {
			slog.Debug("discarding undecodable audio delta", "err", err)
			return
		}
		c.handler.OnAudioDelta(frame)

	case "response.output_audio_transcript.delta", "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		c.handler.OnTranscriptDelta(evt.Delta)

	case "input_audio_buffer.speech_started":
		c.handler.OnSpeechStarted()

	case "input_audio_buffer.speech_stopped":
		c.handler.OnSpeechStopped()

	case "response.created":
		c.handler.OnResponseCreated()

	case "response.done":
		c.handler.OnResponseDone()

	case "error":
		if evt.Error == nil {
			c.handler.OnServerError(errors.New("realtime: server error with no detail"))
			return
		}
		c.handler.OnServerError(fmt.Errorf("realtime: server error %s (%s): %s",
			evt.Error.Type, evt.Error.Code, evt.Error.Message))
	}
}

// Close tears the connection down. It is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.conn.Close(websocket.StatusNormalClosure, "session ended")
	})
	return nil
}
