// Package mock provides a test double for the synth.Synthesizer interface.
package mock

import (
	"context"
	"sync"

	"github.com/parlance-dev/parlance/pkg/synth"
)

// Synthesizer is a mock synth.Synthesizer recording every synthesized text.
type Synthesizer struct {
	mu sync.Mutex

	// Audio is returned from Synthesize. If nil, a deterministic non-empty
	// payload derived from the text length is returned instead.
	Audio []byte

	// Err, if non-nil, is returned from Synthesize.
	Err error

	// Rate is returned from SampleRate. Defaults to 24000.
	Rate int

	// Texts records every text passed to Synthesize, in order.
	Texts []string
}

// Synthesize records the text and returns Audio or Err.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Texts = append(s.Texts, text)
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Audio != nil {
		return s.Audio, nil
	}
	return make([]byte, 2*len(text)), nil
}

// SampleRate returns Rate or 24000.
func (s *Synthesizer) SampleRate() int {
	if s.Rate > 0 {
		return s.Rate
	}
	return 24000
}

// Synthesized returns a snapshot of all recorded texts.
func (s *Synthesizer) Synthesized() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.Texts))
	copy(out, s.Texts)
	return out
}

var _ synth.Synthesizer = (*Synthesizer)(nil)
