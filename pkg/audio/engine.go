package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Default engine parameters. The hardware rate matches common sound cards;
// the input rate is what the speech transport expects and the output rate is
// what synthesis produces.
const (
	DefaultHardwareRate = 48000
	DefaultInputRate    = 16000
	DefaultOutputRate   = 24000
	DefaultBlockFrames  = 1024

	// forwardBuffer is the capacity of the capture handoff channel between
	// the hardware callback thread and the forwarding goroutine.
	forwardBuffer = 64

	// drainIdleSleep is how long the drain loop sleeps when the playback
	// buffer is empty.
	drainIdleSleep = 10 * time.Millisecond

	// stopPlaybackTimeout bounds the wait for the drain goroutine to exit.
	stopPlaybackTimeout = 1 * time.Second
)

// EngineConfig holds the sample rates and block size for an [Engine].
// Zero fields take the package defaults.
type EngineConfig struct {
	// HardwareRate is the device's native capture/playback sample rate.
	HardwareRate int

	// InputRate is the rate delivered to capture consumers (speech transport).
	InputRate int

	// OutputRate is the rate of audio handed to PlayAudio (synthesis output).
	OutputRate int

	// BlockFrames is the preferred capture callback block size in frames.
	BlockFrames int
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.HardwareRate <= 0 {
		c.HardwareRate = DefaultHardwareRate
	}
	if c.InputRate <= 0 {
		c.InputRate = DefaultInputRate
	}
	if c.OutputRate <= 0 {
		c.OutputRate = DefaultOutputRate
	}
	if c.BlockFrames <= 0 {
		c.BlockFrames = DefaultBlockFrames
	}
	return c
}

// Engine owns microphone capture and speaker playback for the whole process.
// At most one capture stream and one playback drain goroutine exist at a time.
// All exported methods are safe for concurrent use.
//
// Capture path: hardware callback → resample to InputRate → buffered channel →
// forwarding goroutine → onChunk. The hardware callback never blocks; chunks
// are dropped (and counted) when the consumer falls behind.
//
// Playback path: PlayAudio resamples to the hardware rate and appends to an
// accumulation buffer. A single drain goroutine takes the whole buffer
// atomically and plays it as one continuous block, which avoids the audible
// gaps produced by playing many small chunks individually.
type Engine struct {
	cfg EngineConfig
	dev Device

	mu          sync.Mutex
	capture     CaptureStream
	captureCh   chan []byte
	captureDone chan struct{}
	dropped     atomic.Int64

	playMu    sync.Mutex
	playBuf   []byte
	playing   bool
	playback  PlaybackStream
	drainDone chan struct{}

	shutdownOnce sync.Once
}

// NewEngine creates an Engine on top of the given device.
func NewEngine(dev Device, cfg EngineConfig) *Engine {
	return &Engine{
		cfg: cfg.withDefaults(),
		dev: dev,
	}
}

// StartCapture opens the hardware input stream and begins forwarding
// resampled chunks to onChunk. onChunk runs on a dedicated forwarding
// goroutine, never on the hardware callback thread, so it may block briefly.
//
// A second call while capture is active logs a warning and is a no-op.
func (e *Engine) StartCapture(onChunk func(pcm []byte)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.capture != nil {
		slog.Warn("audio engine: capture already active, ignoring StartCapture")
		return nil
	}

	stream, err := e.dev.OpenCapture(e.cfg.HardwareRate, e.cfg.BlockFrames)
	if err != nil {
		return fmt.Errorf("audio engine: open capture: %w", err)
	}

	ch := make(chan []byte, forwardBuffer)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for chunk := range ch {
			onChunk(chunk)
		}
	}()

	err = stream.Start(func(pcm []byte) {
		resampled, rerr := ResampleBytes(pcm, e.cfg.HardwareRate, e.cfg.InputRate)
		if rerr != nil || len(resampled) == 0 {
			return
		}
		select {
		case ch <- resampled:
		default:
			// Consumer is behind; drop rather than block the hardware thread.
			n := e.dropped.Add(1)
			if n%100 == 1 {
				slog.Warn("audio engine: capture consumer behind, dropping chunks", "dropped", n)
			}
		}
	})
	if err != nil {
		close(ch)
		<-done
		_ = stream.Stop()
		return fmt.Errorf("audio engine: start capture: %w", err)
	}

	e.capture = stream
	e.captureDone = done
	e.captureCh = ch

	slog.Info("audio engine: capture started",
		"hardware_rate", e.cfg.HardwareRate,
		"input_rate", e.cfg.InputRate,
		"block_frames", e.cfg.BlockFrames,
	)
	return nil
}

// StopCapture stops and releases the hardware input stream. Idempotent.
func (e *Engine) StopCapture() error {
	e.mu.Lock()
	stream := e.capture
	ch := e.captureCh
	done := e.captureDone
	e.capture = nil
	e.captureCh = nil
	e.captureDone = nil
	e.mu.Unlock()

	if stream == nil {
		return nil
	}

	err := stream.Stop()
	close(ch)
	<-done

	slog.Info("audio engine: capture stopped")
	if err != nil {
		return fmt.Errorf("audio engine: stop capture: %w", err)
	}
	return nil
}

// PlayAudio resamples pcm from the output rate to the hardware rate, appends
// it to the accumulation buffer, and starts the drain goroutine if one is not
// already running.
func (e *Engine) PlayAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	resampled, err := ResampleBytes(pcm, e.cfg.OutputRate, e.cfg.HardwareRate)
	if err != nil {
		return fmt.Errorf("audio engine: play: %w", err)
	}

	e.playMu.Lock()
	defer e.playMu.Unlock()

	e.playBuf = append(e.playBuf, resampled...)

	if e.playing {
		return nil
	}

	if e.playback == nil {
		stream, oerr := e.dev.OpenPlayback(e.cfg.HardwareRate)
		if oerr != nil {
			e.playBuf = nil
			return fmt.Errorf("audio engine: open playback: %w", oerr)
		}
		e.playback = stream
	}

	e.playing = true
	e.drainDone = make(chan struct{})
	go e.drainLoop(e.playback, e.drainDone)
	return nil
}

// drainLoop plays all currently buffered audio as one continuous block, then
// blocks until the device consumes it before checking the buffer again. It
// exits when StopPlayback clears the playing flag and the buffer is empty.
func (e *Engine) drainLoop(stream PlaybackStream, done chan struct{}) {
	defer close(done)

	for {
		// Take-and-clear must be atomic with respect to PlayAudio appends.
		e.playMu.Lock()
		block := e.playBuf
		e.playBuf = nil
		stopping := !e.playing
		e.playMu.Unlock()

		if len(block) > 0 {
			if err := stream.Play(block); err != nil {
				slog.Error("audio engine: playback error", "bytes", len(block), "err", err)
			}
			continue
		}
		if stopping {
			return
		}
		time.Sleep(drainIdleSleep)
	}
}

// StopPlayback signals the drain loop to stop, discards buffered audio, and
// waits for the drain goroutine to exit with a bounded timeout. Idempotent.
func (e *Engine) StopPlayback() error {
	e.playMu.Lock()
	if !e.playing {
		e.playMu.Unlock()
		return nil
	}
	e.playing = false
	e.playBuf = nil
	done := e.drainDone
	e.drainDone = nil
	e.playMu.Unlock()

	select {
	case <-done:
	case <-time.After(stopPlaybackTimeout):
		slog.Warn("audio engine: drain goroutine did not exit before timeout")
	}

	slog.Info("audio engine: playback stopped")
	return nil
}

// Shutdown stops capture and playback and releases the playback stream.
// Safe to call multiple times.
func (e *Engine) Shutdown() error {
	var errs []error
	e.shutdownOnce.Do(func() {
		if err := e.StopCapture(); err != nil {
			errs = append(errs, err)
		}
		if err := e.StopPlayback(); err != nil {
			errs = append(errs, err)
		}

		e.playMu.Lock()
		stream := e.playback
		e.playback = nil
		e.playMu.Unlock()

		if stream != nil {
			if err := stream.Close(); err != nil {
				errs = append(errs, fmt.Errorf("audio engine: close playback: %w", err))
			}
		}
		slog.Info("audio engine: shut down")
	})
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// DroppedChunks reports how many capture chunks were discarded because the
// consumer fell behind.
func (e *Engine) DroppedChunks() int64 {
	return e.dropped.Load()
}
