// Package native implements the audio.Device interface on real hardware,
// using miniaudio (via github.com/gen2brain/malgo) for microphone capture and
// github.com/ebitengine/oto for speaker playback.
package native

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/parlance-dev/parlance/pkg/audio"
)

var _ audio.Device = (*Device)(nil)

// captureBlockMillis is the malgo capture period. 20ms blocks keep the
// capture→transport latency low without hammering the callback.
const captureBlockMillis = 20

// Device wraps a malgo context for capture and lazily creates an oto context
// for playback. Create one per process and Close it at shutdown.
type Device struct {
	malgoCtx *malgo.AllocatedContext

	mu     sync.Mutex
	otoCtx *oto.Context
}

// New initialises the underlying audio backend.
func New() (*Device, error) {
	ctxCfg := malgo.ContextConfig{}
	ctxCfg.ThreadPriority = malgo.ThreadPriorityRealtime

	mctx, err := malgo.InitContext(nil, ctxCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("native audio: init context: %w", err)
	}
	return &Device{malgoCtx: mctx}, nil
}

// OpenCapture implements audio.Device.
func (d *Device) OpenCapture(sampleRate, blockFrames int) (audio.CaptureStream, error) {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInFrames = uint32(blockFrames)
	if blockFrames <= 0 {
		cfg.PeriodSizeInFrames = 0
		cfg.PeriodSizeInMilliseconds = captureBlockMillis
	}

	return &captureStream{ctx: d.malgoCtx.Context, cfg: cfg}, nil
}

// OpenPlayback implements audio.Device. The oto context is created on first
// use and reused for subsequent streams; oto supports a single context per
// process.
func (d *Device) OpenPlayback(sampleRate int) (audio.PlaybackStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.otoCtx == nil {
		opts := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			// ~100ms of 16-bit mono audio; small enough for barge-in to feel
			// immediate, large enough to avoid glitches.
			BufferSize: sampleRate / 10 * 2,
		}
		ctx, ready, err := oto.NewContext(opts)
		if err != nil {
			return nil, fmt.Errorf("native audio: init playback: %w", err)
		}
		<-ready
		d.otoCtx = ctx
	}

	return &playbackStream{ctx: d.otoCtx}, nil
}

// Close releases the malgo context. Playback streams must be closed first.
func (d *Device) Close() error {
	if err := d.malgoCtx.Uninit(); err != nil {
		return fmt.Errorf("native audio: uninit context: %w", err)
	}
	d.malgoCtx.Free()
	return nil
}

// captureStream drives a malgo capture device. The malgo data callback runs
// on a real-time thread; onData is invoked directly from it, so the engine's
// contract (onData must not block) is load-bearing here.
type captureStream struct {
	ctx malgo.Context
	cfg malgo.DeviceConfig

	mu      sync.Mutex
	device  *malgo.Device
	stopped bool
}

func (c *captureStream) Start(onData func(pcm []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return fmt.Errorf("native audio: capture already started")
	}
	if c.stopped {
		return fmt.Errorf("native audio: capture stream already stopped")
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			// malgo reuses the input buffer between callbacks.
			cp := make([]byte, len(input))
			copy(cp, input)
			onData(cp)
		},
	}

	device, err := malgo.InitDevice(c.ctx, c.cfg, callbacks)
	if err != nil {
		return fmt.Errorf("native audio: init capture device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("native audio: start capture device: %w", err)
	}

	c.device = device
	return nil
}

func (c *captureStream) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	if c.device == nil {
		return nil
	}
	device := c.device
	c.device = nil

	if err := device.Stop(); err != nil {
		device.Uninit()
		return fmt.Errorf("native audio: stop capture device: %w", err)
	}
	device.Uninit()
	return nil
}

var _ audio.CaptureStream = (*captureStream)(nil)

// playbackStream plays each block through a short-lived oto player and blocks
// until the device has drained it.
type playbackStream struct {
	ctx *oto.Context

	mu     sync.Mutex
	closed bool
}

func (p *playbackStream) Play(pcm []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("native audio: playback stream closed")
	}
	p.mu.Unlock()

	player := p.ctx.NewPlayer(bytes.NewReader(pcm))
	player.Play()
	for player.IsPlaying() {
		time.Sleep(5 * time.Millisecond)
	}
	return player.Close()
}

func (p *playbackStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var _ audio.PlaybackStream = (*playbackStream)(nil)
