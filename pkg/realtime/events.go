package realtime

// Wire types for the Realtime API JSON protocol. Only the fields Parley
// consumes are modelled; unknown fields are ignored on decode.

// ── Outgoing ──────────────────────────────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice             string         `json:"voice,omitempty"`
	Instructions      string         `json:"instructions,omitempty"`
	InputAudioFormat  string         `json:"input_audio_format"`
	OutputAudioFormat string         `json:"output_audio_format"`
	TurnDetection     *turnDetection `json:"turn_detection,omitempty"`
}

// turnDetection configures server-side voice activity detection. The server
// is deliberately tuned to be trigger-happy (low silence tolerance, high
// threshold); the client-side arbiter does the real filtering.
type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

type responseCancelMessage struct {
	Type string `json:"type"`
}

// ── Incoming ──────────────────────────────────────────────────────────────────

// serverErrorDetail is the nested error object in an error event:
// {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type serverEvent struct {
	Type string `json:"type"`

	// response.output_audio.delta and response.output_audio_transcript.delta
	// (plus their older response.audio* aliases): base64 PCM16 for audio,
	// plain text for transcripts.
	Delta string `json:"delta,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}
