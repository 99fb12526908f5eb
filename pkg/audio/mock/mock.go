// Package mock provides test doubles for the audio device interfaces.
//
// Use Device to drive an [audio.Engine] in tests: Emit feeds synthetic
// hardware callbacks into the active capture stream, and Playback records
// every block the drain loop plays.
package mock

import (
	"sync"

	"github.com/parlance-dev/parlance/pkg/audio"
)

// Device is a mock implementation of audio.Device.
type Device struct {
	mu sync.Mutex

	// OpenCaptureErr, if non-nil, is returned by OpenCapture.
	OpenCaptureErr error

	// OpenPlaybackErr, if non-nil, is returned by OpenPlayback.
	OpenPlaybackErr error

	// Capture is the stream returned by OpenCapture. If nil, a new default
	// Capture is created per call.
	Capture *Capture

	// Playback is the stream returned by OpenPlayback. If nil, a new default
	// Playback is created per call.
	Playback *Playback

	// OpenCaptureCalls records the (sampleRate, blockFrames) of every
	// OpenCapture call.
	OpenCaptureCalls [][2]int

	// OpenPlaybackRates records the sample rate of every OpenPlayback call.
	OpenPlaybackRates []int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// OpenCapture records the call and returns Capture (or a fresh one).
func (d *Device) OpenCapture(sampleRate, blockFrames int) (audio.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCaptureCalls = append(d.OpenCaptureCalls, [2]int{sampleRate, blockFrames})
	if d.OpenCaptureErr != nil {
		return nil, d.OpenCaptureErr
	}
	if d.Capture == nil {
		d.Capture = &Capture{}
	}
	return d.Capture, nil
}

// OpenPlayback records the call and returns Playback (or a fresh one).
func (d *Device) OpenPlayback(sampleRate int) (audio.PlaybackStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenPlaybackRates = append(d.OpenPlaybackRates, sampleRate)
	if d.OpenPlaybackErr != nil {
		return nil, d.OpenPlaybackErr
	}
	if d.Playback == nil {
		d.Playback = &Playback{}
	}
	return d.Playback, nil
}

// Close records the call.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCallCount++
	return nil
}

var _ audio.Device = (*Device)(nil)

// Capture is a mock audio.CaptureStream. Tests call Emit to simulate hardware
// callbacks after the engine has started capture.
type Capture struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by Start.
	StartErr error

	onData func([]byte)

	// StartCallCount / StopCallCount count lifecycle calls.
	StartCallCount int
	StopCallCount  int
}

// Start stores the callback and returns StartErr.
func (c *Capture) Start(onData func(pcm []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StartCallCount++
	if c.StartErr != nil {
		return c.StartErr
	}
	c.onData = onData
	return nil
}

// Stop clears the callback.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StopCallCount++
	c.onData = nil
	return nil
}

// Emit invokes the registered callback with pcm, simulating one hardware
// callback. It is a no-op when capture is not started.
func (c *Capture) Emit(pcm []byte) {
	c.mu.Lock()
	fn := c.onData
	c.mu.Unlock()
	if fn != nil {
		fn(pcm)
	}
}

var _ audio.CaptureStream = (*Capture)(nil)

// Playback is a mock audio.PlaybackStream that records played blocks.
type Playback struct {
	mu sync.Mutex

	// PlayErr, if non-nil, is returned by every Play call.
	PlayErr error

	// Blocks holds a copy of every block passed to Play, in order.
	Blocks [][]byte

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// Play records a copy of pcm and returns PlayErr.
func (p *Playback) Play(pcm []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	p.Blocks = append(p.Blocks, cp)
	return p.PlayErr
}

// Close records the call.
func (p *Playback) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCallCount++
	return nil
}

// Played returns a snapshot of all recorded blocks.
func (p *Playback) Played() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.Blocks))
	copy(out, p.Blocks)
	return out
}

// TotalBytes returns the total byte count across all recorded blocks.
func (p *Playback) TotalBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, b := range p.Blocks {
		n += len(b)
	}
	return n
}

var _ audio.PlaybackStream = (*Playback)(nil)
