package audio

// Device abstracts the audio hardware so the [Engine] can be tested without a
// sound card. The production implementation lives in pkg/audio/native; tests
// use pkg/audio/mock.
type Device interface {
	// OpenCapture prepares a mono PCM16 input stream at the given sample rate.
	// blockFrames is the preferred number of frames delivered per callback;
	// implementations may deliver different block sizes.
	OpenCapture(sampleRate, blockFrames int) (CaptureStream, error)

	// OpenPlayback prepares a mono PCM16 output stream at the given sample rate.
	OpenPlayback(sampleRate int) (PlaybackStream, error)

	// Close releases the underlying hardware context. No streams may be used
	// after Close returns.
	Close() error
}

// CaptureStream is an open hardware input stream.
type CaptureStream interface {
	// Start begins capture. onData is invoked from the hardware callback
	// thread with raw little-endian PCM16 mono bytes; it must return quickly
	// and must not block.
	Start(onData func(pcm []byte)) error

	// Stop halts capture and releases the stream. Idempotent.
	Stop() error
}

// PlaybackStream is an open hardware output stream.
type PlaybackStream interface {
	// Play writes one continuous PCM16 block to the device and blocks until
	// the device has consumed it.
	Play(pcm []byte) error

	// Close releases the stream. Idempotent.
	Close() error
}
