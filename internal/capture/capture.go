// Package capture opens the default microphone and streams PCM16 frames to a
// callback. It is the input half of the duplex session; all turn-taking
// decisions happen downstream, on the server's speech detector and the
// engine's arbiter.
package capture

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Config configures a microphone capture device.
type Config struct {
	// SampleRate is the capture rate in Hz.
	SampleRate int
}

// Mic is an open capture device delivering PCM16 little-endian mono frames.
type Mic struct {
	ctx *malgo.AllocatedContext
	dev *malgo.Device

	mu     sync.Mutex
	closed bool
}

// Open starts capturing from the default input device. onFrame is called from
// the audio thread with a copy of each PCM16 frame; it must not block.
func Open(cfg Config, onFrame func(frame []byte)) (*Mic, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("capture: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if onFrame == nil {
		return nil, fmt.Errorf("capture: nil frame callback")
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init context: %w", err)
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = 1
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.Alsa.NoMMap = 1

	m := &Mic{ctx: mctx}
	dev, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) {
			if len(in) == 0 {
				return
			}
			frame := make([]byte, len(in))
			copy(frame, in)
			onFrame(frame)
		},
	})
	if err != nil {
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("capture: init device: %w", err)
	}
	m.dev = dev

	if err := dev.Start(); err != nil {
		dev.Uninit()
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("capture: start device: %w", err)
	}
	return m, nil
}

// Close stops capture and releases the device. It is idempotent.
func (m *Mic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.dev.Uninit()
	m.ctx.Uninit()
	m.ctx.Free()
	return nil
}
