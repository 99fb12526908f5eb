// Package synth defines the text-to-speech contract used for assistant
// replies.
package synth

import "context"

// Synthesizer renders text segments to raw PCM16 mono audio.
//
// A failed synthesis is contained by the caller: the segment's audio is
// skipped, the conversation continues. Implementations must be safe for
// concurrent use.
type Synthesizer interface {
	// Synthesize renders text to PCM16 mono audio at SampleRate().
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// SampleRate reports the PCM sample rate of Synthesize output.
	SampleRate() int
}
