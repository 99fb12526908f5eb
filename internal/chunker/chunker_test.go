package chunker_test

import (
	"strings"
	"testing"

	"github.com/parlance-dev/parlance/internal/chunker"
)

func TestAdd_ShortFragment_NoFlush(t *testing.T) {
	t.Parallel()
	c := chunker.New(chunker.Config{})

	if seg, ok := c.Add("Hello."); ok {
		t.Errorf("short fragment flushed %q; buffer below minimum length", seg)
	}
}

func TestAdd_SentenceAtMinimumLength_Flushes(t *testing.T) {
	t.Parallel()
	c := chunker.New(chunker.Config{MinFlushLen: 30})

	text := "This sentence is long enough to flush."
	seg, ok := c.Add(text)
	if !ok {
		t.Fatal("expected flush on terminal punctuation at sufficient length")
	}
	if seg != text {
		t.Errorf("segment = %q; want %q", seg, text)
	}
	if c.Len() != 0 {
		t.Errorf("buffer length after flush = %d; want 0", c.Len())
	}
}

func TestAdd_PunctuationMidBuffer_NoFlush(t *testing.T) {
	t.Parallel()
	c := chunker.New(chunker.Config{MinFlushLen: 30})

	// Long enough but does not END with terminal punctuation.
	if seg, ok := c.Add("This has a period. But then keeps going"); ok {
		t.Errorf("flushed %q; punctuation must be at the buffer end", seg)
	}
}

func TestAdd_ParagraphBreak_Flushes(t *testing.T) {
	t.Parallel()
	c := chunker.New(chunker.Config{})

	seg, ok := c.Add("First thought\n\nsecond")
	if !ok {
		t.Fatal("expected flush on paragraph break")
	}
	if !strings.Contains(seg, "\n\n") {
		t.Errorf("segment = %q; should contain the paragraph break", seg)
	}
}

func TestAdd_ExceedsMaxLength_FlushesWithoutPunctuation(t *testing.T) {
	t.Parallel()
	c := chunker.New(chunker.Config{MaxBufferLen: 150})

	long := strings.Repeat("word ", 40) // 200 chars, no punctuation
	seg, ok := c.Add(long)
	if !ok {
		t.Fatal("expected flush once buffer exceeds the hard cap")
	}
	if seg != long {
		t.Errorf("segment = %q; want full buffer", seg)
	}
}

func TestAdd_AccumulatesAcrossFragments(t *testing.T) {
	t.Parallel()
	c := chunker.New(chunker.Config{MinFlushLen: 30})

	if _, ok := c.Add("The answer is in the "); ok {
		t.Fatal("premature flush")
	}
	seg, ok := c.Add("main function.")
	if !ok {
		t.Fatal("expected flush after completing the sentence")
	}
	if want := "The answer is in the main function."; seg != want {
		t.Errorf("segment = %q; want %q", seg, want)
	}
}

func TestFlush_TrailingText(t *testing.T) {
	t.Parallel()
	c := chunker.New(chunker.Config{})

	// Neither fragment reaches a flush heuristic.
	if _, ok := c.Add("Short"); ok {
		t.Fatal("premature flush")
	}
	if _, ok := c.Add(" answer"); ok {
		t.Fatal("premature flush")
	}

	seg, ok := c.Flush()
	if !ok {
		t.Fatal("Flush must return residual text at stream end")
	}
	if seg != "Short answer" {
		t.Errorf("segment = %q; want %q", seg, "Short answer")
	}

	// Exactly one flush: the buffer is now empty.
	if _, ok := c.Flush(); ok {
		t.Error("second Flush should return nothing")
	}
}

func TestFlush_WhitespaceOnly_NoFlush(t *testing.T) {
	t.Parallel()
	c := chunker.New(chunker.Config{})

	c.Add("   \n ")
	if seg, ok := c.Flush(); ok {
		t.Errorf("whitespace-only buffer flushed as %q", seg)
	}
}

func TestChunker_MultipleSegmentsInSequence(t *testing.T) {
	t.Parallel()
	c := chunker.New(chunker.Config{MinFlushLen: 10})

	var segments []string
	fragments := []string{
		"Let me check that file.",
		" It contains three functions.",
		" Done",
	}
	for _, f := range fragments {
		if seg, ok := c.Add(f); ok {
			segments = append(segments, seg)
		}
	}
	if seg, ok := c.Flush(); ok {
		segments = append(segments, seg)
	}

	if len(segments) != 3 {
		t.Fatalf("segments = %d (%q); want 3", len(segments), segments)
	}
	if got := strings.Join(segments, ""); got != strings.Join(fragments, "") {
		t.Errorf("concatenated output %q does not match input", got)
	}
}
