// Package chunker batches streamed agent text into synthesis-ready segments.
//
// Synthesizing every tiny fragment sounds choppy and wastes round trips;
// waiting for the whole response adds seconds of latency. The chunker strikes
// the balance: it accumulates fragments and flushes on sentence boundaries,
// paragraph breaks, or a hard size cap.
package chunker

import "strings"

// Default thresholds.
const (
	// DefaultMinFlushLen is the minimum buffer length required before a
	// terminal-punctuation flush.
	DefaultMinFlushLen = 30

	// DefaultMaxBufferLen forces a flush regardless of punctuation, bounding
	// worst-case synthesis latency for long unpunctuated spans.
	DefaultMaxBufferLen = 150
)

// terminalPunctuation ends a sentence for flushing purposes.
var terminalPunctuation = []string{".", "!", "?", ":", ";"}

// Config controls the flush heuristics. Zero values take the defaults.
type Config struct {
	MinFlushLen  int
	MaxBufferLen int
}

func (c Config) withDefaults() Config {
	if c.MinFlushLen <= 0 {
		c.MinFlushLen = DefaultMinFlushLen
	}
	if c.MaxBufferLen <= 0 {
		c.MaxBufferLen = DefaultMaxBufferLen
	}
	return c
}

// Chunker accumulates text fragments into a running buffer and decides when
// the buffered text is ready for synthesis. Not safe for concurrent use; each
// response stream owns its own Chunker.
type Chunker struct {
	cfg Config
	buf strings.Builder
}

// New creates a Chunker with the given configuration.
func New(cfg Config) *Chunker {
	return &Chunker{cfg: cfg.withDefaults()}
}

// Add appends one fragment and reports whether the buffer should be flushed.
// When ok is true, segment holds the full buffered text and the buffer is
// cleared.
func (c *Chunker) Add(fragment string) (segment string, ok bool) {
	c.buf.WriteString(fragment)
	text := c.buf.String()

	if !c.shouldFlush(text) {
		return "", false
	}
	c.buf.Reset()
	return text, true
}

// Flush returns any residual buffered text unconditionally. Call it at stream
// end so trailing text that never met a flush heuristic is not dropped.
func (c *Chunker) Flush() (segment string, ok bool) {
	text := c.buf.String()
	if strings.TrimSpace(text) == "" {
		c.buf.Reset()
		return "", false
	}
	c.buf.Reset()
	return text, true
}

// Len returns the current buffered length in bytes.
func (c *Chunker) Len() int { return c.buf.Len() }

func (c *Chunker) shouldFlush(text string) bool {
	// Hard cap first: bound latency even without punctuation.
	if len(text) > c.cfg.MaxBufferLen {
		return true
	}

	if strings.Contains(text, "\n\n") {
		return true
	}

	if len(text) >= c.cfg.MinFlushLen {
		trimmed := strings.TrimRight(text, " \t")
		for _, p := range terminalPunctuation {
			if strings.HasSuffix(trimmed, p) {
				return true
			}
		}
	}

	return false
}
