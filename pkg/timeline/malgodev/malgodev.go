// Package malgodev implements [timeline.Timeline] on top of a miniaudio
// playback device via github.com/gen2brain/malgo.
//
// The device callback renders scheduled segments at their start offsets into
// the output buffer; the timeline clock is derived from the number of frames
// the device has consumed, so it advances exactly as fast as the hardware
// plays. Segments are scheduled at the session sample rate and resampled to
// the device rate on entry when the two differ.
package malgodev

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/timeline"
)

// Config configures a playback [Device].
type Config struct {
	// SampleRate is the session sample rate segments are scheduled at.
	SampleRate int

	// DeviceSampleRate is the rate the output device is opened at. Zero
	// means SampleRate.
	DeviceSampleRate int
}

// Device is a [timeline.Timeline] backed by a miniaudio playback device.
type Device struct {
	rate       int // session rate
	deviceRate int

	ctx *malgo.AllocatedContext
	dev *malgo.Device

	mu        sync.Mutex
	frames    uint64 // device frames rendered so far
	segs      []*segment
	suspended bool
	closed    bool

	completions chan func()
	done        chan struct{}
	wg          sync.WaitGroup
}

var _ timeline.Timeline = (*Device)(nil)

// New opens the default playback device and starts rendering silence. If the
// device cannot be started the Device is returned in the suspended state: the
// clock stands still, Schedule returns [timeline.ErrSuspended], and
// [Device.Resume] retries on demand.
func New(cfg Config) (*Device, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("malgodev: sample rate must be positive, got %d", cfg.SampleRate)
	}
	deviceRate := cfg.DeviceSampleRate
	if deviceRate == 0 {
		deviceRate = cfg.SampleRate
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgodev: init context: %w", err)
	}

	d := &Device{
		rate:        cfg.SampleRate,
		deviceRate:  deviceRate,
		ctx:         mctx,
		completions: make(chan func(), 64),
		done:        make(chan struct{}),
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	devCfg.Playback.Format = malgo.FormatS16
	devCfg.Playback.Channels = 1
	devCfg.SampleRate = uint32(deviceRate)
	devCfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(mctx.Context, devCfg, malgo.DeviceCallbacks{
		Data: d.onRender,
	})
	if err != nil {
		mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("malgodev: init device: %w", err)
	}
	d.dev = dev

	d.wg.Add(1)
	go d.dispatchCompletions()

	if err := dev.Start(); err != nil {
		slog.Warn("playback device failed to start, entering suspended state", "err", err)
		d.mu.Lock()
		d.suspended = true
		d.mu.Unlock()
	}

	return d, nil
}

// Now implements [timeline.Timeline]. The clock is the amount of audio the
// device has consumed since the timeline was created.
func (d *Device) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.framePosLocked()
}

func (d *Device) framePosLocked() time.Duration {
	return time.Duration(int64(d.frames) * int64(time.Second) / int64(d.deviceRate))
}

// SampleRate implements [timeline.Timeline].
func (d *Device) SampleRate() int { return d.rate }

// Schedule implements [timeline.Timeline]. Samples at the session rate are
// resampled to the device rate and placed at the device frame nearest start.
func (d *Device) Schedule(samples []float32, start time.Duration, onEnded func()) (timeline.Segment, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, timeline.ErrClosed
	}
	if d.suspended {
		return nil, timeline.ErrSuspended
	}

	rendered := audio.ResampleMono(samples, d.rate, d.deviceRate)
	startFrame := uint64(int64(start) * int64(d.deviceRate) / int64(time.Second))
	if startFrame < d.frames {
		// Never place audio in the past; the scheduler's lookahead should
		// prevent this, but a stalled caller must not make us rewind.
		startFrame = d.frames
	}

	seg := &segment{
		dev:        d,
		samples:    rendered,
		startFrame: startFrame,
		duration:   audio.Duration(len(samples), d.rate),
		onEnded:    onEnded,
	}
	d.segs = append(d.segs, seg)
	return seg, nil
}

// Resume implements [timeline.Timeline]. It restarts a suspended device.
func (d *Device) Resume() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return timeline.ErrClosed
	}
	if !d.suspended {
		d.mu.Unlock()
		return nil
	}
	dev := d.dev
	d.mu.Unlock()

	if err := dev.Start(); err != nil {
		return fmt.Errorf("malgodev: resume: %w", err)
	}

	d.mu.Lock()
	d.suspended = false
	d.mu.Unlock()
	return nil
}

// Close implements [timeline.Timeline]. It stops and releases the device and
// discards all scheduled segments without firing their end notifications.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.segs = nil
	dev := d.dev
	d.mu.Unlock()

	dev.Uninit()
	close(d.done)
	d.wg.Wait()

	d.ctx.Uninit()
	d.ctx.Free()
	return nil
}

// onRender is the miniaudio data callback. It mixes every active segment
// into the output buffer, advances the clock, and queues end notifications
// for segments that finished during this render quantum.
func (d *Device) onRender(out, _ []byte, frameCount uint32) {
	n := int(frameCount)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	base := d.frames
	var ended []func()
	live := d.segs[:0]
	for _, seg := range d.segs {
		if seg.renderInto(out, base, n) {
			if seg.onEnded != nil {
				ended = append(ended, seg.onEnded)
			}
			continue
		}
		live = append(live, seg)
	}
	d.segs = live
	d.frames = base + uint64(n)
	d.mu.Unlock()

	for _, cb := range ended {
		select {
		case d.completions <- cb:
		default:
			// Dispatcher backlog; do not stall the audio thread.
			go cb()
		}
	}
}

// dispatchCompletions runs queued end notifications off the audio thread.
func (d *Device) dispatchCompletions() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		case cb := <-d.completions:
			cb()
		}
	}
}

// segment is one scheduled block of device-rate samples.
type segment struct {
	dev        *Device
	samples    []float32
	startFrame uint64
	duration   time.Duration
	onEnded    func()

	// fade state, guarded by dev.mu.
	fading     bool
	fadeStart  uint64
	fadeFrames int
	stopped    bool
}

var _ timeline.Segment = (*segment)(nil)

// Start implements [timeline.Segment].
func (s *segment) Start() time.Duration {
	return time.Duration(int64(s.startFrame) * int64(time.Second) / int64(s.dev.deviceRate))
}

// Duration implements [timeline.Segment].
func (s *segment) Duration() time.Duration { return s.duration }

// Stop implements [timeline.Segment]. With a zero fade the segment is
// removed at the next render quantum; otherwise a linear gain ramp of the
// given length is applied first.
func (s *segment) Stop(fade time.Duration) {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	if fade <= 0 {
		s.fading = true
		s.fadeStart = s.dev.frames
		s.fadeFrames = 0
		return
	}
	s.fading = true
	s.fadeStart = s.dev.frames
	s.fadeFrames = int(int64(fade) * int64(s.dev.deviceRate) / int64(time.Second))
}

// renderInto mixes the segment's overlap with the render window
// [base, base+n) into out (16-bit little-endian mono) and reports whether
// the segment is finished. Must be called with dev.mu held.
func (s *segment) renderInto(out []byte, base uint64, n int) (finished bool) {
	segEnd := s.startFrame + uint64(len(s.samples))

	if s.fading && s.fadeFrames == 0 {
		return true
	}
	if segEnd <= base {
		return true
	}
	if s.startFrame >= base+uint64(n) {
		return false
	}

	for i := range n {
		frame := base + uint64(i)
		if frame < s.startFrame || frame >= segEnd {
			continue
		}
		v := s.samples[frame-s.startFrame]
		if s.fading {
			elapsed := int(frame - s.fadeStart)
			if elapsed >= s.fadeFrames {
				return true
			}
			v *= float32(s.fadeFrames-elapsed) / float32(s.fadeFrames)
		}
		mixSample(out, i, v)
	}

	if s.fading && int(base+uint64(n)-s.fadeStart) >= s.fadeFrames {
		return true
	}
	return segEnd <= base+uint64(n)
}

// mixSample adds v into the i-th int16 sample of out with clamping.
func mixSample(out []byte, i int, v float32) {
	cur := int32(int16(out[i*2]) | int16(out[i*2+1])<<8)
	var add int32
	if v < 0 {
		add = int32(v * 32768)
	} else {
		add = int32(v * 32767)
	}
	sum := cur + add
	if sum > 32767 {
		sum = 32767
	} else if sum < -32768 {
		sum = -32768
	}
	out[i*2] = byte(sum)
	out[i*2+1] = byte(sum >> 8)
}
